// Package server wires the switching engine, clipboard replicator,
// session set, listener, and event queue into the running service: the
// orchestrator spec §2 calls the server. It also services reload
// (SIGHUP), quit, and screensaver notifications from the primary screen.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternops/kvmd/internal/audit"
	"github.com/lanternops/kvmd/internal/clipboard"
	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/eventqueue"
	"github.com/lanternops/kvmd/internal/health"
	"github.com/lanternops/kvmd/internal/listener"
	"github.com/lanternops/kvmd/internal/logging"
	"github.com/lanternops/kvmd/internal/platform"
	"github.com/lanternops/kvmd/internal/protocol"
	"github.com/lanternops/kvmd/internal/session"
	"github.com/lanternops/kvmd/internal/switching"
)

var log = logging.L("server")

const (
	heartbeatInterval = 2 * time.Second

	// keyScrollLock is the X11 keysym XK_Scroll_Lock, mirroring
	// kKeyScrollLock in original_source/lib/server/CServer.cpp:277:
	// pressing it toggles lock-to-screen (spec §4.4).
	keyScrollLock uint16 = 0xFF14
)

// sessionSet is the concrete home for connected sessions, satisfying
// switching.Sessions; admission wraps it for listener.Admission.
type sessionSet struct {
	mu sync.RWMutex
	m  map[string]*session.Session
}

func newSessionSet() *sessionSet { return &sessionSet{m: make(map[string]*session.Session)} }

func (s *sessionSet) Get(name string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[name]
	return sess, ok
}

func (s *sessionSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.m))
	for n := range s.m {
		names = append(names, n)
	}
	return names
}

func (s *sessionSet) put(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sess.Name()] = sess
}

func (s *sessionSet) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, name)
}

func (s *sessionSet) IsConnected(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// admission composes topology membership with live-connection tracking
// for the listener's Admission interface.
type admission struct {
	topo *config.Topology
	live *sessionSet
}

func (a *admission) IsScreen(name string) bool { return a.topo.IsScreen(name) }
func (a *admission) IsConnected(name string) bool {
	if canon, ok := a.topo.CanonicalName(name); ok {
		name = canon
	}
	return a.live.IsConnected(name)
}

// EventSink receives status events for the admin feed: client
// connect/disconnect, active-screen changes, clipboard grabs,
// screensaver transitions. Implemented by *adminws.Hub; kept narrow
// here so this package never imports gorilla/websocket.
type EventSink interface {
	Publish(event, screen string)
}

// Server is the long-lived orchestrator: one per running instance.
type Server struct {
	cfg     *config.Config
	topo    *config.Topology
	audit   *audit.Logger
	health  *health.Monitor
	queue   *eventqueue.Queue
	clip    *clipboard.Replicator
	engine  *switching.Engine
	sessions *sessionSet
	ln      *listener.Listener
	primary *session.Session
	primaryBackend platform.PrimaryScreen
	sink    EventSink

	heartbeatTimer map[string]eventqueue.TimerID
	mu             sync.Mutex
}

// New builds a Server from a loaded config and a primary-screen
// back-end. The listener is bound but Serve is not started until Run.
func New(cfg *config.Config, topo *config.Topology, primary platform.PrimaryScreen, auditLog *audit.Logger) (*Server, error) {
	sessions := newSessionSet()
	primSession := session.NewPrimary(topo.PrimaryName(), uuid.NewString(), primary)
	sessions.put(primSession)

	q := eventqueue.New()

	srv := &Server{
		cfg:            cfg,
		topo:           topo,
		audit:          auditLog,
		health:         health.NewMonitor(),
		queue:          q,
		sessions:       sessions,
		primary:        primSession,
		primaryBackend: primary,
		heartbeatTimer: make(map[string]eventqueue.TimerID),
	}

	srv.clip = clipboard.New(srv)
	srv.engine = switching.New(topo, sessions, srv.clip, primSession, func(d time.Duration, fn func()) {
		q.ScheduleAfter(d, fn)
	})

	ln, err := listener.New(topo.Address(), &admission{topo: topo, live: sessions}, srv.onAdmitted, auditLog)
	if err != nil {
		return nil, err
	}
	srv.ln = ln

	srv.health.Update("listener", health.Healthy, fmt.Sprintf("listening on %s", ln.Addr()))
	return srv, nil
}

// ActiveScreenName implements clipboard.Broadcaster by delegating to the engine.
func (s *Server) ActiveScreenName() string { return s.engine.ActiveScreenName() }

// BroadcastGrab implements clipboard.Broadcaster.
func (s *Server) BroadcastGrab(id uint8, seqNum uint32, exceptScreen string) {
	s.engine.BroadcastGrab(id, seqNum, exceptScreen)
}

// MarkDirtyExcept implements clipboard.Broadcaster.
func (s *Server) MarkDirtyExcept(exceptScreen string, id uint8) {
	s.engine.MarkDirtyExcept(exceptScreen, id)
}

// PushClipboardData implements clipboard.Broadcaster.
func (s *Server) PushClipboardData(screen string, id uint8, seqNum uint32, data string) {
	s.engine.PushClipboardData(screen, id, seqNum, data)
}

// SetEventSink wires the admin status feed. Must be called before Run
// to catch the full event history from startup.
func (s *Server) SetEventSink(sink EventSink) {
	s.sink = sink
	s.engine.SetNotifier(sink.Publish)
}

// Addr returns the bound listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Sessions returns the canonical names of every currently connected
// screen, primary included, for the admin status feed.
func (s *Server) Sessions() []string { return s.sessions.Names() }

// Health exposes the health monitor for the admin status surface.
func (s *Server) Health() *health.Monitor { return s.health }

// Run starts the listener and the event loop, blocking until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.queue.ScheduleEvery(heartbeatInterval, func() { s.sendHeartbeats() })

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.ln.Serve(ctx) }()

	go s.queue.Run()
	defer s.queue.Stop()

	go s.primaryPump(ctx, s.primaryBackend.Events())

	s.audit.Log(audit.EventServerStart, s.topo.PrimaryName(), nil)

	select {
	case <-ctx.Done():
		s.audit.Log(audit.EventServerStop, s.topo.PrimaryName(), nil)
		return nil
	case err := <-serveErr:
		return err
	}
}

// primaryPump is the only source of real input: the primary screen's own
// capture reports absolute motion while it's displayed, relative deltas
// while a remote screen is active, and the raw key/button/wheel/
// screensaver/shape notifications spec §2's primary->engine->active-session
// data flow describes. Every event is posted onto the queue so it's
// handled on the single event-loop goroutine, same as a remote client's
// frames (spec §5).
func (s *Server) primaryPump(ctx context.Context, events <-chan platform.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev := e
			s.queue.Post(func() { s.dispatchPrimaryEvent(ev) })
		}
	}
}

func (s *Server) dispatchPrimaryEvent(e platform.Event) {
	switch e.Kind {
	case platform.MotionOnPrimary:
		s.engine.HandlePrimaryMotion(e.X, e.Y)
	case platform.MotionOnSecondary:
		s.engine.HandleSecondaryMotion(e.X, e.Y)
	case platform.KeyDown:
		if e.KeyID == keyScrollLock {
			s.engine.SetLockedToScreen(!s.engine.IsLockedToScreen())
			s.primaryBackend.Reconfigure(s.engine.ActiveSides())
		}
		s.forwardToActive(func(sess *session.Session) error { return sess.KeyDown(e.KeyID, e.Mask, e.Button) })
	case platform.KeyRepeat:
		s.forwardToActive(func(sess *session.Session) error { return sess.KeyRepeat(e.KeyID, e.Mask, e.Count, e.Button) })
	case platform.KeyUp:
		s.forwardToActive(func(sess *session.Session) error { return sess.KeyUp(e.KeyID, e.Mask, e.Button) })
	case platform.ButtonDown:
		s.forwardToActive(func(sess *session.Session) error { return sess.MouseDown(e.ButtonID) })
	case platform.ButtonUp:
		s.forwardToActive(func(sess *session.Session) error { return sess.MouseUp(e.ButtonID) })
	case platform.Wheel:
		s.forwardToActive(func(sess *session.Session) error { return sess.Wheel(e.WheelDelta) })
	case platform.ScreensaverActivated:
		s.engine.EnterScreensaver()
	case platform.ScreensaverDeactivated:
		s.engine.LeaveScreensaver()
	case platform.ShapeChanged:
		// The primary session's Shape() reads live off primaryBackend, so
		// there's nothing to copy; only the set of reachable edges can
		// have changed.
		s.primaryBackend.Reconfigure(s.engine.ActiveSides())
	}
}

// forwardToActive routes a primary input event to whichever screen is
// currently receiving it. A no-op while the primary itself is active:
// the OS already delivered the event there directly.
func (s *Server) forwardToActive(fn func(*session.Session) error) {
	active := s.engine.Active()
	if active == s.primary.Name() {
		return
	}
	if sess, ok := s.sessions.Get(active); ok {
		_ = fn(sess)
	}
}

// onAdmitted runs on an accept goroutine; it hands off to the event
// queue so session bookkeeping stays single-threaded.
func (s *Server) onAdmitted(name, connID string, stream *protocol.Stream) {
	if canon, ok := s.topo.CanonicalName(name); ok {
		name = canon
	}
	sess := session.NewRemote(name, connID, stream)
	s.queue.Post(func() { s.addSession(sess) })
	go s.pump(sess)
}

func (s *Server) addSession(sess *session.Session) {
	s.sessions.put(sess)
	timerID := s.queue.ScheduleAfter(heartbeatInterval*3, func() { s.onHeartbeatTimeout(sess.Name()) })
	s.mu.Lock()
	s.heartbeatTimer[sess.Name()] = timerID
	s.mu.Unlock()
	_ = sess.SendOptions(optionsAsUint32(s.topo.Options(sess.Name())))
	s.primaryBackend.Reconfigure(s.engine.ActiveSides())
	if s.sink != nil {
		s.sink.Publish("client_connected", sess.Name())
	}
	log.Info("session admitted", "screen", sess.Name(), "connID", sess.ConnID())
}

// pump reads frames from a remote session's stream until it closes, then
// posts cleanup onto the event queue. Runs on its own goroutine per spec
// §5's cooperative-but-not-single-OS-thread model: only state mutation is
// confined to the queue goroutine, not I/O.
func (s *Server) pump(sess *session.Session) {
	stream := sess.Stream()
	for {
		msg, err := stream.Receive()
		if err != nil {
			s.queue.Post(func() { s.onDisconnect(sess.Name()) })
			return
		}
		m := msg
		s.queue.Post(func() { s.dispatch(sess, m) })
	}
}

func (s *Server) dispatch(sess *session.Session, msg protocol.Message) {
	s.mu.Lock()
	if id, ok := s.heartbeatTimer[sess.Name()]; ok {
		s.queue.Cancel(id)
	}
	s.heartbeatTimer[sess.Name()] = s.queue.ScheduleAfter(heartbeatInterval*3, func() { s.onHeartbeatTimeout(sess.Name()) })
	s.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ClientInfo:
		sess.SetInfo(session.ClientInfo{X: int(m.X), Y: int(m.Y), W: int(m.W), H: int(m.H), Zone: int(m.Zone), MX: int(m.MX), MY: int(m.MY)})
		_ = sess.Stream().Send(protocol.InfoAck{})
	case protocol.ClipboardGrab:
		isPrimary := sess.IsPrimary()
		s.clip.RemoteGrab(sess.Name(), m.ID, m.SeqNum, isPrimary)
	case protocol.ClipboardData:
		s.clip.DataChanged(sess.Name(), m.ID, m.SeqNum, m.Data)
	case protocol.Heartbeat:
		// timer already reset above; nothing else to do.
	case protocol.Close:
		s.onDisconnect(sess.Name())
	default:
		s.audit.Log(audit.EventProtocolError, sess.Name(), map[string]any{"code": msg.Code()})
	}
}

func (s *Server) onDisconnect(name string) {
	if name == s.primary.Name() {
		return
	}
	s.sessions.remove(name)
	s.engine.HandleDisconnect(name)
	s.mu.Lock()
	if id, ok := s.heartbeatTimer[name]; ok {
		s.queue.Cancel(id)
		delete(s.heartbeatTimer, name)
	}
	s.mu.Unlock()
	s.primaryBackend.Reconfigure(s.engine.ActiveSides())
	s.audit.Log(audit.EventPeerDisconnect, name, nil)
	if s.sink != nil {
		s.sink.Publish("client_disconnected", name)
	}
	log.Info("session disconnected", "screen", name)
}

func (s *Server) onHeartbeatTimeout(name string) {
	sess, ok := s.sessions.Get(name)
	if !ok {
		return
	}
	log.Warn("heartbeat timeout, forcing close", "screen", name)
	s.audit.Log(audit.EventForcedClose, name, nil)
	s.queue.ScheduleAfter(switching.ForcedCloseTimeout(), func() {
		_ = sess.Close(protocol.Close{})
		s.onDisconnect(name)
	})
}

func (s *Server) sendHeartbeats() {
	for _, name := range s.sessions.Names() {
		if sess, ok := s.sessions.Get(name); ok && !sess.IsPrimary() {
			if stream := sess.Stream(); stream != nil {
				_ = stream.Send(protocol.Heartbeat{})
			}
		}
	}
}

// Reload swaps in a freshly loaded configuration, closing any session
// for a screen the new topology no longer declares (spec §4.8).
func (s *Server) Reload(cfg *config.Config, topo *config.Topology) {
	s.cfg = cfg
	s.topo = topo
	s.engine.Reload(topo)

	for _, name := range s.sessions.Names() {
		if name == s.primary.Name() {
			continue
		}
		if !topo.IsScreen(name) {
			if sess, ok := s.sessions.Get(name); ok {
				_ = sess.Close(protocol.Close{})
			}
			s.onDisconnect(name)
		}
	}
	s.primaryBackend.Reconfigure(s.engine.ActiveSides())
	s.audit.Log(audit.EventConfigReload, topo.PrimaryName(), nil)
	log.Info("configuration reloaded")
}

// EnterScreensaver and LeaveScreensaver forward primary-screen
// notifications to the switching engine.
func (s *Server) EnterScreensaver() { s.queue.Post(func() { s.engine.EnterScreensaver() }) }
func (s *Server) LeaveScreensaver() { s.queue.Post(func() { s.engine.LeaveScreensaver() }) }

func optionsAsUint32(opts map[string]int) map[uint32]uint32 {
	// Option keys are small well-known IDs in the real protocol; here we
	// hash the name down to a stable 32-bit key so DSOP has something
	// concrete to carry without inventing a second option registry.
	out := make(map[uint32]uint32, len(opts))
	for k, v := range opts {
		out[fnv32(k)] = uint32(v)
	}
	return out
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
