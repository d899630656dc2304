package adminws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/health"
)

type fakeStatusSource struct {
	sessions []string
	h        *health.Monitor
}

func (f *fakeStatusSource) Health() *health.Monitor { return f.h }
func (f *fakeStatusSource) Sessions() []string       { return f.sessions }

func testTopology(t *testing.T) *config.Topology {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "local"
	cfg.Screens = []config.Screen{{Name: "local"}}
	topo, err := config.NewTopology(cfg)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return topo
}

func TestHubBroadcastsEventToConnectedClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the hub a moment to register the client before publishing.
	time.Sleep(20 * time.Millisecond)
	hub.Publish("active_screen_changed", "laptop")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != "active_screen_changed" || evt.Screen != "laptop" {
		t.Fatalf("got %+v, want active_screen_changed/laptop", evt)
	}
}

func TestHubBroadcastFansOutToAllClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	const n = 3
	conns := make([]*websocket.Conn, n)
	for i := 0; i < n; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer conn.Close()
		conns[i] = conn
	}

	time.Sleep(20 * time.Millisecond)
	hub.Publish("screensaver_active", "local")

	for i, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d ReadMessage: %v", i, err)
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("client %d unmarshal: %v", i, err)
		}
		if evt.Type != "screensaver_active" {
			t.Fatalf("client %d got %+v", i, evt)
		}
	}
}

func TestPublishDoesNotBlockWithoutClients(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 200; i++ {
		hub.Publish("client_connected", "laptop")
	}
}

func TestServeStatusEndpointReportsSessionsAndHealth(t *testing.T) {
	hub := NewHub()
	mon := health.NewMonitor()
	mon.Update("listener", health.Healthy, "ok")
	src := &fakeStatusSource{sessions: []string{"local", "laptop"}, h: mon}

	s, err := Serve("127.0.0.1:0", hub, src, testTopology(t))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer s.Close()

	resp, err := http.Get("http://" + s.ln.Addr().String() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["primary"] != "local" {
		t.Fatalf("primary = %v, want local", body["primary"])
	}
	sessions, ok := body["sessions"].([]any)
	if !ok || len(sessions) != 2 {
		t.Fatalf("sessions = %v", body["sessions"])
	}
}
