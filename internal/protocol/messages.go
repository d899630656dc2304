// Package protocol implements the framed message protocol: four-byte
// ASCII message codes, typed payloads encoded with internal/wire, the
// handshake, heartbeat, and mouse-motion coalescing described in the
// wire protocol table.
package protocol

import (
	"fmt"
	"io"

	"github.com/lanternops/kvmd/internal/wire"
)

// Message codes, exactly as listed in the wire protocol table.
const (
	CodeEnter          = "CINN"
	CodeLeave          = "COUT"
	CodeHeartbeat      = "CALV"
	CodeClipboardGrab  = "CCLP"
	CodeScreensaver    = "CSEC"
	CodeClose          = "CBYE"
	CodeInfoAck        = "CIAK"
	CodeResetOptions   = "CROP"
	CodeKeyDown        = "DKDN"
	CodeKeyRepeat      = "DKRP"
	CodeKeyUp          = "DKUP"
	CodeMouseDown      = "DMDN"
	CodeMouseUp        = "DMUP"
	CodeMouseMove      = "DMMV"
	CodeMouseWheel     = "DMWM"
	CodeClipboardData  = "DCLP"
	CodeClientInfo     = "DINF"
	CodeSetOptions     = "DSOP"
	CodeQueryInfo      = "QINF"
	CodeIncompatible   = "EICV"
	CodeBusy           = "EBSY"
	CodeUnknown        = "EUNK"
	CodeBad            = "EBAD"
)

// Message is any decoded protocol frame.
type Message interface {
	Code() string
	WriteTo(w io.Writer) (int64, error)
}

func writeFrame(w io.Writer, format string, args ...any) (int64, error) {
	buf, err := wire.Encode(format, args...)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// Enter is sent server->client: CINN.
type Enter struct {
	X, Y    uint16
	SeqNum  uint32
	Mask    uint16
}

func (Enter) Code() string { return CodeEnter }
func (m Enter) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeEnter+"%2i%2i%4i%2i", uint32(m.X), uint32(m.Y), m.SeqNum, uint32(m.Mask))
}

// Leave is sent server->client: COUT, no payload.
type Leave struct{}

func (Leave) Code() string { return CodeLeave }
func (Leave) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeLeave) }

// Heartbeat is CALV, no payload, sent by either side.
type Heartbeat struct{}

func (Heartbeat) Code() string { return CodeHeartbeat }
func (Heartbeat) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeHeartbeat) }

// ClipboardGrab is CCLP, sent by either side to claim ownership of a clipboard slot.
type ClipboardGrab struct {
	ID     uint8
	SeqNum uint32
}

func (ClipboardGrab) Code() string { return CodeClipboardGrab }
func (m ClipboardGrab) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeClipboardGrab+"%1i%4i", uint32(m.ID), m.SeqNum)
}

// Screensaver is CSEC, server->client.
type Screensaver struct {
	On bool
}

func (Screensaver) Code() string { return CodeScreensaver }
func (m Screensaver) WriteTo(w io.Writer) (int64, error) {
	v := uint32(0)
	if m.On {
		v = 1
	}
	return writeFrame(w, CodeScreensaver+"%1i", v)
}

// Close is CBYE, server->client, no payload.
type Close struct{}

func (Close) Code() string { return CodeClose }
func (Close) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeClose) }

// InfoAck is CIAK, server->client, no payload.
type InfoAck struct{}

func (InfoAck) Code() string { return CodeInfoAck }
func (InfoAck) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeInfoAck) }

// ResetOptions is CROP, server->client, no payload.
type ResetOptions struct{}

func (ResetOptions) Code() string { return CodeResetOptions }
func (ResetOptions) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeResetOptions) }

// KeyDown is DKDN, server->client.
type KeyDown struct {
	KeyID, Mask, Button uint16
}

func (KeyDown) Code() string { return CodeKeyDown }
func (m KeyDown) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeKeyDown+"%2i%2i%2i", uint32(m.KeyID), uint32(m.Mask), uint32(m.Button))
}

// KeyRepeat is DKRP, server->client.
type KeyRepeat struct {
	KeyID, Mask, Count, Button uint16
}

func (KeyRepeat) Code() string { return CodeKeyRepeat }
func (m KeyRepeat) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeKeyRepeat+"%2i%2i%2i%2i", uint32(m.KeyID), uint32(m.Mask), uint32(m.Count), uint32(m.Button))
}

// KeyUp is DKUP, server->client.
type KeyUp struct {
	KeyID, Mask, Button uint16
}

func (KeyUp) Code() string { return CodeKeyUp }
func (m KeyUp) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeKeyUp+"%2i%2i%2i", uint32(m.KeyID), uint32(m.Mask), uint32(m.Button))
}

// MouseDown is DMDN, server->client.
type MouseDown struct{ ButtonID uint8 }

func (MouseDown) Code() string { return CodeMouseDown }
func (m MouseDown) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeMouseDown+"%1i", uint32(m.ButtonID))
}

// MouseUp is DMUP, server->client.
type MouseUp struct{ ButtonID uint8 }

func (MouseUp) Code() string { return CodeMouseUp }
func (m MouseUp) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeMouseUp+"%1i", uint32(m.ButtonID))
}

// MouseMove is DMMV, server->client, absolute coordinates.
type MouseMove struct{ X, Y uint16 }

func (MouseMove) Code() string { return CodeMouseMove }
func (m MouseMove) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeMouseMove+"%2i%2i", uint32(m.X), uint32(m.Y))
}

// MouseWheel is DMWM, server->client.
type MouseWheel struct{ Delta int16 }

func (MouseWheel) Code() string { return CodeMouseWheel }
func (m MouseWheel) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeMouseWheel+"%2i", uint32(uint16(m.Delta)))
}

// ClipboardData is DCLP, sent by either side.
type ClipboardData struct {
	ID     uint8
	SeqNum uint32
	Data   string
}

func (ClipboardData) Code() string { return CodeClipboardData }
func (m ClipboardData) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeClipboardData+"%1i%4i%s", uint32(m.ID), m.SeqNum, m.Data)
}

// ClientInfo is DINF, client->server.
type ClientInfo struct {
	X, Y, W, H, Zone, MX, MY uint16
}

func (ClientInfo) Code() string { return CodeClientInfo }
func (m ClientInfo) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeClientInfo+"%2i%2i%2i%2i%2i%2i%2i",
		uint32(m.X), uint32(m.Y), uint32(m.W), uint32(m.H), uint32(m.Zone), uint32(m.MX), uint32(m.MY))
}

// Option is one (key, value) pair in a DSOP payload.
type Option struct {
	Key, Value uint32
}

// SetOptions is DSOP, server->client.
type SetOptions struct {
	Options []Option
}

func (SetOptions) Code() string { return CodeSetOptions }
func (m SetOptions) WriteTo(w io.Writer) (int64, error) {
	buf, err := wire.Encode(CodeSetOptions+"%4i", uint32(len(m.Options)))
	if err != nil {
		return 0, err
	}
	for _, opt := range m.Options {
		pair, err := wire.Encode("%4i%4i", opt.Key, opt.Value)
		if err != nil {
			return 0, err
		}
		buf = append(buf, pair...)
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// QueryInfo is QINF, server->client, no payload.
type QueryInfo struct{}

func (QueryInfo) Code() string { return CodeQueryInfo }
func (QueryInfo) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeQueryInfo) }

// Incompatible is EICV, server->client.
type Incompatible struct{ Major, Minor uint16 }

func (Incompatible) Code() string { return CodeIncompatible }
func (m Incompatible) WriteTo(w io.Writer) (int64, error) {
	return writeFrame(w, CodeIncompatible+"%2i%2i", uint32(m.Major), uint32(m.Minor))
}

// Busy is EBSY, server->client, no payload.
type Busy struct{}

func (Busy) Code() string { return CodeBusy }
func (Busy) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeBusy) }

// Unknown is EUNK, server->client, no payload.
type Unknown struct{}

func (Unknown) Code() string { return CodeUnknown }
func (Unknown) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeUnknown) }

// Bad is EBAD, server->client, no payload.
type Bad struct{}

func (Bad) Code() string { return CodeBad }
func (Bad) WriteTo(w io.Writer) (int64, error) { return writeFrame(w, CodeBad) }

// ReadMessage reads one frame's 4-byte code and its fixed-shape payload,
// dispatching by code the way the framing rule requires. Returns io.EOF if
// fewer than 4 bytes are available (the stream is to be treated as
// closed); a malformed payload returns a wrapped wire.ErrProtocol.
func ReadMessage(r io.Reader) (Message, error) {
	var codeBuf [4]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return nil, io.EOF
	}
	code := string(codeBuf[:])

	var u1, u2, u3, u4, u5, u6, u7 uint32
	var s string

	switch code {
	case CodeEnter:
		if err := wire.Readf(r, "%2i%2i%4i%2i", &u1, &u2, &u3, &u4); err != nil {
			return nil, err
		}
		return Enter{X: uint16(u1), Y: uint16(u2), SeqNum: u3, Mask: uint16(u4)}, nil
	case CodeLeave:
		return Leave{}, nil
	case CodeHeartbeat:
		return Heartbeat{}, nil
	case CodeClipboardGrab:
		if err := wire.Readf(r, "%1i%4i", &u1, &u2); err != nil {
			return nil, err
		}
		return ClipboardGrab{ID: uint8(u1), SeqNum: u2}, nil
	case CodeScreensaver:
		if err := wire.Readf(r, "%1i", &u1); err != nil {
			return nil, err
		}
		return Screensaver{On: u1 != 0}, nil
	case CodeClose:
		return Close{}, nil
	case CodeInfoAck:
		return InfoAck{}, nil
	case CodeResetOptions:
		return ResetOptions{}, nil
	case CodeKeyDown:
		if err := wire.Readf(r, "%2i%2i%2i", &u1, &u2, &u3); err != nil {
			return nil, err
		}
		return KeyDown{KeyID: uint16(u1), Mask: uint16(u2), Button: uint16(u3)}, nil
	case CodeKeyRepeat:
		if err := wire.Readf(r, "%2i%2i%2i%2i", &u1, &u2, &u3, &u4); err != nil {
			return nil, err
		}
		return KeyRepeat{KeyID: uint16(u1), Mask: uint16(u2), Count: uint16(u3), Button: uint16(u4)}, nil
	case CodeKeyUp:
		if err := wire.Readf(r, "%2i%2i%2i", &u1, &u2, &u3); err != nil {
			return nil, err
		}
		return KeyUp{KeyID: uint16(u1), Mask: uint16(u2), Button: uint16(u3)}, nil
	case CodeMouseDown:
		if err := wire.Readf(r, "%1i", &u1); err != nil {
			return nil, err
		}
		return MouseDown{ButtonID: uint8(u1)}, nil
	case CodeMouseUp:
		if err := wire.Readf(r, "%1i", &u1); err != nil {
			return nil, err
		}
		return MouseUp{ButtonID: uint8(u1)}, nil
	case CodeMouseMove:
		if err := wire.Readf(r, "%2i%2i", &u1, &u2); err != nil {
			return nil, err
		}
		return MouseMove{X: uint16(u1), Y: uint16(u2)}, nil
	case CodeMouseWheel:
		if err := wire.Readf(r, "%2i", &u1); err != nil {
			return nil, err
		}
		return MouseWheel{Delta: int16(uint16(u1))}, nil
	case CodeClipboardData:
		if err := wire.Readf(r, "%1i%4i%s", &u1, &u2, &s); err != nil {
			return nil, err
		}
		return ClipboardData{ID: uint8(u1), SeqNum: u2, Data: s}, nil
	case CodeClientInfo:
		if err := wire.Readf(r, "%2i%2i%2i%2i%2i%2i%2i", &u1, &u2, &u3, &u4, &u5, &u6, &u7); err != nil {
			return nil, err
		}
		return ClientInfo{X: uint16(u1), Y: uint16(u2), W: uint16(u3), H: uint16(u4), Zone: uint16(u5), MX: uint16(u6), MY: uint16(u7)}, nil
	case CodeSetOptions:
		if err := wire.Readf(r, "%4i", &u1); err != nil {
			return nil, err
		}
		opts := make([]Option, 0, u1)
		for i := uint32(0); i < u1; i++ {
			var k, v uint32
			if err := wire.Readf(r, "%4i%4i", &k, &v); err != nil {
				return nil, err
			}
			opts = append(opts, Option{Key: k, Value: v})
		}
		return SetOptions{Options: opts}, nil
	case CodeQueryInfo:
		return QueryInfo{}, nil
	case CodeIncompatible:
		if err := wire.Readf(r, "%2i%2i", &u1, &u2); err != nil {
			return nil, err
		}
		return Incompatible{Major: uint16(u1), Minor: uint16(u2)}, nil
	case CodeBusy:
		return Busy{}, nil
	case CodeUnknown:
		return Unknown{}, nil
	case CodeBad:
		return Bad{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message code %q", wire.ErrProtocol, code)
	}
}
