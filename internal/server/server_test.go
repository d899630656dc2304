package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lanternops/kvmd/internal/audit"
	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/platform"
	"github.com/lanternops/kvmd/internal/protocol"
	"github.com/lanternops/kvmd/internal/wire"
)

type fakePrimary struct {
	shape platform.Rect
}

func (f *fakePrimary) Events() <-chan platform.Event { return nil }
func (f *fakePrimary) Enter(x, y int, seqNum uint32, mask uint16, forScreensaver bool) error {
	return nil
}
func (f *fakePrimary) Leave() bool                         { return true }
func (f *fakePrimary) Reconfigure(activeSidesMask uint32)  {}
func (f *fakePrimary) ToggleMask() uint16                  { return 0 }
func (f *fakePrimary) IsLockedToScreen() bool              { return false }
func (f *fakePrimary) WarpCursor(x, y int)                 {}
func (f *fakePrimary) CursorCenter() (int, int)            { return 0, 0 }
func (f *fakePrimary) Shape() platform.Rect                { return f.shape }
func (f *fakePrimary) JumpZoneSize() int                   { return 4 }
func (f *fakePrimary) GetClipboard(id int) (string, error) { return "", nil }
func (f *fakePrimary) SetClipboard(id int, data string) error { return nil }
func (f *fakePrimary) GrabClipboard(id int)                {}
func (f *fakePrimary) Screensaver(on bool)                  {}

func testTopology(t *testing.T) *config.Topology {
	t.Helper()
	cfg := config.Default()
	cfg.Address = "127.0.0.1:0"
	cfg.Name = "local"
	cfg.Screens = []config.Screen{{Name: "local"}, {Name: "laptop"}}
	cfg.Links = []config.Link{
		{Screen: "local", Direction: config.Right, To: "laptop"},
		{Screen: "laptop", Direction: config.Left, To: "local"},
	}
	topo, err := config.NewTopology(cfg)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return topo
}

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	topo := testTopology(t)
	prim := &fakePrimary{shape: platform.Rect{X: 0, Y: 0, W: 1920, H: 1080}}
	srv, err := New(config.Default(), topo, prim, (*audit.Logger)(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()
	return srv, func() {
		cancel()
		<-done
	}
}

func dialAndHello(t *testing.T, addr, name string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var major, minor uint32
	if err := wire.Readf(conn, "Synergy%2i%2i", &major, &minor); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if err := wire.Writef(conn, "Synergy%2i%2i%s", major, minor, name); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func TestServerAdmitsClientAndSendsOptions(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn := dialAndHello(t, srv.Addr(), "laptop")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.SetOptions); !ok {
		t.Fatalf("got %T, want protocol.SetOptions", msg)
	}

	deadlineCh := time.After(2 * time.Second)
	for {
		select {
		case <-deadlineCh:
			t.Fatal("timed out waiting for laptop session to be admitted")
		default:
		}
		if _, ok := srv.sessions.Get("laptop"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerRespondsToClientInfoWithAck(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn := dialAndHello(t, srv.Addr(), "laptop")
	defer conn.Close()

	info := protocol.ClientInfo{X: 0, Y: 0, W: 1366, H: 768, Zone: 4}
	if _, err := info.WriteTo(conn); err != nil {
		t.Fatalf("write DINF: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.SetOptions); !ok {
		t.Fatalf("got %T, want protocol.SetOptions sent on admission", msg)
	}
	msg, err = protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.InfoAck); !ok {
		t.Fatalf("got %T, want protocol.InfoAck", msg)
	}
}

type fakeEventSink struct {
	events chan string
}

func (f *fakeEventSink) Publish(event, screen string) {
	select {
	case f.events <- event + ":" + screen:
	default:
	}
}

func TestServerPublishesSessionAndSwitchEvents(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	sink := &fakeEventSink{events: make(chan string, 16)}
	srv.SetEventSink(sink)

	conn := dialAndHello(t, srv.Addr(), "laptop")
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-sink.events:
			if evt == "client_connected:laptop" {
				names := srv.Sessions()
				found := false
				for _, n := range names {
					if n == "laptop" {
						found = true
					}
				}
				if !found {
					t.Fatalf("Sessions() = %v, want laptop included", names)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for client_connected event")
		}
	}
}

func TestServerSendsPeriodicHeartbeats(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn := dialAndHello(t, srv.Addr(), "laptop")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.SetOptions); !ok {
		t.Fatalf("got %T, want protocol.SetOptions sent on admission", msg)
	}
	msg, err = protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.Heartbeat); !ok {
		t.Fatalf("got %T, want protocol.Heartbeat", msg)
	}
}
