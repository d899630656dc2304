// Package session implements the per-client session: the tagged variant
// Session = Primary | Remote described in spec §9's design notes. The
// engine and server talk to both kinds through the same method set and
// only branch on "is this the primary?" where the spec requires it (e.g.
// clipboard ownership checks).
package session

import (
	"fmt"

	"github.com/lanternops/kvmd/internal/platform"
	"github.com/lanternops/kvmd/internal/protocol"
)

// Kind distinguishes the primary screen's session from a remote client's.
type Kind int

const (
	PrimaryKind Kind = iota
	RemoteKind
)

// ClientInfo mirrors a DINF payload: the client's reported geometry and
// jump-zone thickness in its own coordinate space.
type ClientInfo struct {
	X, Y, W, H, Zone, MX, MY int
}

// Shape returns the rectangle described by the info.
func (c ClientInfo) Shape() platform.Rect {
	return platform.Rect{X: c.X, Y: c.Y, W: c.W, H: c.H}
}

// Session is one participant in the virtual desktop: either the primary
// screen (backed by a platform.PrimaryScreen) or a remote client (backed
// by a protocol.Stream). The switching engine and clipboard replicator
// operate on this type exclusively; neither branches on concrete type
// beyond IsPrimary().
type Session struct {
	kind   Kind
	name   string
	connID string

	primary platform.PrimaryScreen
	stream  *protocol.Stream

	info    ClientInfo
	dirty   [2]bool
	options map[uint32]uint32
	live    bool
}

// NewPrimary wraps the primary screen's back-end as a Session. connID
// identifies it the same way a remote client's handshake-assigned ID
// does.
func NewPrimary(name, connID string, p platform.PrimaryScreen) *Session {
	shape := p.Shape()
	return &Session{
		kind:    PrimaryKind,
		name:    name,
		connID:  connID,
		primary: p,
		info:    ClientInfo{X: shape.X, Y: shape.Y, W: shape.W, H: shape.H, Zone: p.JumpZoneSize()},
		options: make(map[uint32]uint32),
		live:    true,
	}
}

// NewRemote wraps an admitted client connection as a Session. info is
// filled in once the DINF reply arrives (see SetInfo). connID is the
// UUID the listener assigned during the handshake, used as a stable
// correlation key in audit entries and log lines. The admin status feed
// reports screen names, not connIDs.
func NewRemote(name, connID string, stream *protocol.Stream) *Session {
	return &Session{
		kind:    RemoteKind,
		name:    name,
		connID:  connID,
		stream:  stream,
		options: make(map[uint32]uint32),
		live:    true,
	}
}

// Name returns the canonical screen name this session represents.
func (s *Session) Name() string { return s.name }

// ConnID returns the UUID assigned to this session's connection.
func (s *Session) ConnID() string { return s.connID }

// IsPrimary reports whether this session is the primary screen.
func (s *Session) IsPrimary() bool { return s.kind == PrimaryKind }

// Live reports whether the session is still considered connected.
func (s *Session) Live() bool { return s.live }

// SetLive marks the session as connected or not; used when a remote
// client's socket closes or a forced-close timer fires.
func (s *Session) SetLive(live bool) { s.live = live }

// Info returns the last known client geometry.
func (s *Session) Info() ClientInfo { return s.info }

// SetInfo records a fresh DINF report.
func (s *Session) SetInfo(info ClientInfo) { s.info = info }

// Shape returns the session's rectangle in its own coordinate space.
func (s *Session) Shape() platform.Rect {
	if s.kind == PrimaryKind {
		return s.primary.Shape()
	}
	return s.info.Shape()
}

// JumpZoneSize returns the session's configured jump-zone thickness.
func (s *Session) JumpZoneSize() int {
	if s.kind == PrimaryKind {
		return s.primary.JumpZoneSize()
	}
	return s.info.Zone
}

// Dirty reports whether clipboard slot id is marked stale for this session.
func (s *Session) Dirty(id uint8) bool { return s.dirty[id] }

// SetDirty marks clipboard slot id stale or clean for this session.
func (s *Session) SetDirty(id uint8, dirty bool) { s.dirty[id] = dirty }

// Options returns the option map last sent to this session.
func (s *Session) Options() map[uint32]uint32 { return s.options }

// Enter calls platform.PrimaryScreen.Enter for the primary, or sends CINN
// to a remote client.
func (s *Session) Enter(x, y int, seqNum uint32, mask uint16, forScreensaver bool) error {
	if s.kind == PrimaryKind {
		return s.primary.Enter(x, y, seqNum, mask, forScreensaver)
	}
	return s.stream.Send(protocol.Enter{X: uint16(x), Y: uint16(y), SeqNum: seqNum, Mask: mask})
}

// Leave calls platform.PrimaryScreen.Leave for the primary, or sends COUT
// to a remote client (which always succeeds from the server's point of
// view — only the primary back-end can refuse to yield input, e.g. during
// a drag).
func (s *Session) Leave() bool {
	if s.kind == PrimaryKind {
		return s.primary.Leave()
	}
	if err := s.stream.Send(protocol.Leave{}); err != nil {
		return false
	}
	return true
}

// MouseMove warps the primary cursor, or sends DMMV to a remote client.
func (s *Session) MouseMove(x, y int) error {
	if s.kind == PrimaryKind {
		s.primary.WarpCursor(x, y)
		return nil
	}
	return s.stream.Send(protocol.MouseMove{X: uint16(x), Y: uint16(y)})
}

// KeyDown forwards a key-down event to a remote client. No-op on the
// primary, which is the source of real keyboard events, not a sink.
func (s *Session) KeyDown(keyID, mask, button uint16) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.KeyDown{KeyID: keyID, Mask: mask, Button: button})
}

// KeyRepeat forwards a key-repeat event to a remote client.
func (s *Session) KeyRepeat(keyID, mask, count, button uint16) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.KeyRepeat{KeyID: keyID, Mask: mask, Count: count, Button: button})
}

// KeyUp forwards a key-up event to a remote client.
func (s *Session) KeyUp(keyID, mask, button uint16) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.KeyUp{KeyID: keyID, Mask: mask, Button: button})
}

// MouseDown forwards a button-down event to a remote client.
func (s *Session) MouseDown(buttonID uint8) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.MouseDown{ButtonID: buttonID})
}

// MouseUp forwards a button-up event to a remote client.
func (s *Session) MouseUp(buttonID uint8) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.MouseUp{ButtonID: buttonID})
}

// Wheel forwards a wheel event to a remote client.
func (s *Session) Wheel(delta int16) error {
	if s.kind == PrimaryKind {
		return nil
	}
	return s.stream.Send(protocol.MouseWheel{Delta: delta})
}

// SetClipboard pushes clipboard data to this session: the real clipboard
// for the primary, DCLP for a remote client.
func (s *Session) SetClipboard(id uint8, seqNum uint32, data string) error {
	if s.kind == PrimaryKind {
		return s.primary.SetClipboard(int(id), data)
	}
	return s.stream.Send(protocol.ClipboardData{ID: id, SeqNum: seqNum, Data: data})
}

// Screensaver notifies this session of a screensaver state change: calls
// the primary back-end directly, or sends CSEC to a remote client.
func (s *Session) Screensaver(on bool) error {
	if s.kind == PrimaryKind {
		s.primary.Screensaver(on)
		return nil
	}
	return s.stream.Send(protocol.Screensaver{On: on})
}

// SendOptions sends the accumulated global+per-screen option set, as DSOP
// for a remote client. No-op for the primary, which has no wire link.
func (s *Session) SendOptions(opts map[uint32]uint32) error {
	s.options = opts
	if s.kind == PrimaryKind {
		return nil
	}
	list := make([]protocol.Option, 0, len(opts))
	for k, v := range opts {
		list = append(list, protocol.Option{Key: k, Value: v})
	}
	return s.stream.Send(protocol.SetOptions{Options: list})
}

// Close sends an advisory close message and marks the session not-live.
// Safe to call once per session; a second call returns an error.
func (s *Session) Close(advisory protocol.Message) error {
	if !s.live {
		return fmt.Errorf("session %q already closed", s.name)
	}
	s.live = false
	if s.kind == PrimaryKind {
		return nil
	}
	if advisory != nil {
		_ = s.stream.Send(advisory)
	}
	return s.stream.Close()
}

// Stream exposes the underlying framed stream for a remote session (nil
// for the primary). Used by the server's read pump.
func (s *Session) Stream() *protocol.Stream { return s.stream }
