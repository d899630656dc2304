// Package adminws serves a read-only websocket status/event feed for an
// operations dashboard: client connect/disconnect, active-screen
// changes, clipboard grabs, and screensaver transitions. It is additive
// to the core synergy-protocol server (spec.md's core protocol is raw
// TCP and never touches this package) and carries no input events.
//
// The write side is grounded on the teacher's internal/websocket/client.go
// ping/pong/write-pump pattern, mirrored here as a server-side broadcast
// hub instead of a reconnecting client.
package adminws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/health"
	"github.com/lanternops/kvmd/internal/hoststat"
	"github.com/lanternops/kvmd/internal/logging"
)

var log = logging.L("adminws")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is one status notification broadcast to every connected dashboard.
type Event struct {
	Type   string    `json:"type"`
	Screen string    `json:"screen,omitempty"`
	At     time.Time `json:"at"`
}

// StatusSource is the narrow server surface the /status endpoint reports on.
type StatusSource interface {
	Health() *health.Monitor
	Sessions() []string
}

// Hub fans a stream of Events out to every connected websocket client.
// All client bookkeeping happens on a single goroutine (run) so Publish
// can be called freely from the server's event-loop goroutine without a
// lock around the client set.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan Event
	clients    map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 64),
		clients:    make(map[*client]struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				log.Warn("failed to marshal event", "err", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish implements server.EventSink: it queues event for broadcast and
// never blocks, so a full channel simply drops the notification rather
// than stall the caller's event-loop goroutine.
func (h *Hub) Publish(event, screen string) {
	select {
	case h.broadcast <- Event{Type: event, Screen: screen, At: time.Now()}:
	default:
		log.Warn("event broadcast channel full, dropping event", "event", event)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket connection and starts
// pumping broadcast events to it until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writePump()
	c.readPump(h)
}

// readPump drains control frames (ping/close) from a read-only client;
// the feed never expects application data from the dashboard.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Server wraps the admin HTTP listener so callers can shut it down
// cleanly alongside the rest of the process.
type Server struct {
	http *http.Server
	ln   net.Listener
}

// Serve binds addr and starts an HTTP server exposing the websocket feed
// at /ws and a one-shot JSON status snapshot at /status.
func Serve(addr string, hub *Hub, src StatusSource, topo *config.Topology) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"primary":  topo.PrimaryName(),
			"address":  topo.Address(),
			"sessions": src.Sessions(),
			"health":   src.Health().Summary(),
		}
		if facts, err := hoststat.Collect(); err == nil {
			resp["host"] = facts
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	httpSrv := &http.Server{Handler: mux}
	s := &Server{http: httpSrv, ln: ln}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("admin websocket server exited", "err", err)
		}
	}()
	return s, nil
}

// Close shuts down the admin HTTP server.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
