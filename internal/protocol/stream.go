package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lanternops/kvmd/internal/wire"
)

// ProtocolMajor and ProtocolMinor are the version this server advertises
// during the handshake.
const (
	ProtocolMajor = 1
	ProtocolMinor = 6
)

// Hello is the client->server greeting: "Synergy %2i %2i %s" carrying the
// client's requested screen name.
type Hello struct {
	Major, Minor uint16
	Name         string
}

// WriteVersion sends the server's "Synergy %2i %2i" greeting with no
// trailing name, per the handshake in spec §4.2.
func WriteVersion(w io.Writer, major, minor uint16) error {
	return wire.Writef(w, "Synergy%2i%2i", uint32(major), uint32(minor))
}

// ReadHello reads the client's version+name greeting.
func ReadHello(r io.Reader) (Hello, error) {
	var major, minor uint32
	var name string
	if err := wire.Readf(r, "Synergy%2i%2i%s", &major, &minor, &name); err != nil {
		return Hello{}, err
	}
	return Hello{Major: uint16(major), Minor: uint16(minor), Name: name}, nil
}

// VersionCompatible reports whether a client hello is acceptable: its
// major must equal ours, and if equal, its minor must not be older.
func VersionCompatible(h Hello) bool {
	if h.Major != ProtocolMajor {
		return false
	}
	return h.Minor >= ProtocolMinor
}

// Stream wraps a net.Conn with the framing, heartbeat, and
// motion-coalescing behavior spec §4.1 describes. It is not safe for
// concurrent use by more than one reader and one writer goroutine; the
// event loop that owns a Stream must serialize access to each side
// itself, matching the single-threaded cooperative model.
type Stream struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	closed bool

	lastActivity time.Time
}

// NewStream wraps conn for framed reads/writes.
func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		lastActivity: time.Now(),
	}
}

// Conn returns the underlying connection, e.g. for RemoteAddr().
func (s *Stream) Conn() net.Conn { return s.conn }

// LastActivity returns the time a byte was last successfully read.
func (s *Stream) LastActivity() time.Time { return s.lastActivity }

// Send writes a single message, flushing immediately. Framed writes are
// always whole-message; partial writes never escape this method.
func (s *Stream) Send(m Message) error {
	if _, err := m.WriteTo(s.w); err != nil {
		return err
	}
	return s.w.Flush()
}

// Receive reads and returns exactly one message, coalescing any
// immediately-following mouse-motion messages into the last one so a
// backlog of DMMV frames never stacks stale positions (spec §4.1,
// invariant 8). A stream that ends or fails before a full four-byte code
// is read is surfaced as io.EOF per the framing rule ("treats the stream
// as closed"); a bad or truncated payload is a wire.ErrProtocol error.
func (s *Stream) Receive() (Message, error) {
	msg, err := ReadMessage(s.r)
	if err != nil {
		return nil, s.translateReadErr(err)
	}
	s.lastActivity = time.Now()

	mv, isMove := msg.(MouseMove)
	if !isMove {
		return msg, nil
	}

	for s.r.Buffered() >= 4 {
		peek, err := s.r.Peek(4)
		if err != nil || string(peek) != CodeMouseMove {
			break
		}
		next, err := ReadMessage(s.r)
		if err != nil {
			return mv, nil
		}
		nextMv, ok := next.(MouseMove)
		if !ok {
			break
		}
		mv = nextMv
		s.lastActivity = time.Now()
	}
	return mv, nil
}

func (s *Stream) translateReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if errors.Is(err, wire.ErrProtocol) {
		return err
	}
	return fmt.Errorf("%w: %v", wire.ErrProtocol, err)
}

// Close closes the underlying connection. Idempotent.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// SetReadDeadline bounds how long a read on the underlying connection may
// wait. The server's heartbeat handling does not call it.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}
