// Package listener accepts TCP connections and runs the version/name
// handshake and admission check described in spec §4.2 before handing an
// admitted connection off to the server as a session.
package listener

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lanternops/kvmd/internal/audit"
	"github.com/lanternops/kvmd/internal/logging"
	"github.com/lanternops/kvmd/internal/protocol"
)

var log = logging.L("listener")

// Admission resolves whether a proposed screen name may connect, and
// whether that name is already taken by a live session.
type Admission interface {
	IsScreen(name string) bool
	IsConnected(name string) bool
}

// Handler receives an admitted, version-checked connection. name is the
// screen name exactly as the client sent it (an alias is not resolved to
// the canonical name here); connID is the UUID assigned
// to this connection at accept time, used for audit and admin-feed
// correlation before a screen name is even known.
type Handler func(name, connID string, stream *protocol.Stream)

const handshakeTimeout = 10 * time.Second

// Listener wraps a net.Listener with the Synergy-style handshake.
type Listener struct {
	ln      net.Listener
	admit   Admission
	handle  Handler
	audit   *audit.Logger
}

// New binds addr and returns a Listener ready to Serve.
func New(addr string, admit Admission, handle Handler, auditLog *audit.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln, admit: admit, handle: handle, audit: auditLog}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until ctx is canceled or the listener closes.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Warn("temporary accept error", "err", ne)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.handshake(conn)
	}
}

func (l *Listener) handshake(conn net.Conn) {
	connID := uuid.NewString()
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))

	if err := protocol.WriteVersion(conn, protocol.ProtocolMajor, protocol.ProtocolMinor); err != nil {
		log.Warn("failed to write handshake version", "addr", conn.RemoteAddr(), "connID", connID, "err", err)
		_ = conn.Close()
		return
	}

	hello, err := protocol.ReadHello(conn)
	if err != nil {
		log.Warn("failed to read client hello", "addr", conn.RemoteAddr(), "connID", connID, "err", err)
		_ = conn.Close()
		return
	}

	if !protocol.VersionCompatible(hello) {
		_, _ = (protocol.Incompatible{Major: protocol.ProtocolMajor, Minor: protocol.ProtocolMinor}).WriteTo(conn)
		l.audit.Log(audit.EventVersionMismatch, hello.Name, map[string]any{
			"client_major": hello.Major, "client_minor": hello.Minor, "addr": conn.RemoteAddr().String(), "connID": connID,
		})
		_ = conn.Close()
		return
	}

	if !l.admit.IsScreen(hello.Name) {
		_, _ = (protocol.Unknown{}).WriteTo(conn)
		l.audit.Log(audit.EventUnknownName, hello.Name, map[string]any{"addr": conn.RemoteAddr().String(), "connID": connID})
		_ = conn.Close()
		return
	}
	if l.admit.IsConnected(hello.Name) {
		_, _ = (protocol.Busy{}).WriteTo(conn)
		l.audit.Log(audit.EventNameConflict, hello.Name, map[string]any{"addr": conn.RemoteAddr().String(), "connID": connID})
		_ = conn.Close()
		return
	}

	_ = conn.SetDeadline(time.Time{})
	l.audit.Log(audit.EventSessionAdmitted, hello.Name, map[string]any{"addr": conn.RemoteAddr().String(), "connID": connID})
	l.handle(hello.Name, connID, protocol.NewStream(conn))
}
