// Package switching implements the screen-switching state machine: edge
// detection and jump zones, neighbor resolution with skip-through of
// disconnected screens, coordinate remapping across heterogeneous
// resolutions, the two-tap gesture, switch-wait delay, and lock-to-screen
// gating (spec §4.3, §4.4).
package switching

import (
	"math"
	"time"

	"github.com/lanternops/kvmd/internal/clipboard"
	"github.com/lanternops/kvmd/internal/config"
	"github.com/lanternops/kvmd/internal/logging"
	"github.com/lanternops/kvmd/internal/platform"
	"github.com/lanternops/kvmd/internal/session"
)

var log = logging.L("switching")

// Edge is the screen border the cursor crossed.
type Edge = config.Direction

const (
	EdgeLeft   = config.Left
	EdgeRight  = config.Right
	EdgeTop    = config.Top
	EdgeBottom = config.Bottom
)

// Topology resolves neighbor links and screen membership; satisfied by
// *config.Topology.
type Topology interface {
	IsScreen(name string) bool
	Neighbor(screen string, dir config.Direction) (string, bool)
	Options(screen string) map[string]int
}

// Sessions is the narrow set-of-sessions surface the engine needs.
type Sessions interface {
	Get(name string) (*session.Session, bool)
	Names() []string
}

const (
	defaultSwitchWait  = 250 * time.Millisecond
	twoTapWindow       = 300 * time.Millisecond
	forcedCloseTimeout = 5 * time.Second
)

// Engine is the single-threaded switching state machine. All mutating
// methods are meant to run on the server's event-loop goroutine; the
// engine itself holds no mutex because spec §5's concurrency model
// guarantees single-threaded access.
type Engine struct {
	topo      Topology
	sessions  Sessions
	clip      *clipboard.Replicator
	primary   *session.Session

	active       string // canonical name of the screen currently receiving input
	cursorX      int
	cursorY      int
	seqNum       uint32
	lockedToScreen bool

	pendingEdge     *pendingSwitch
	lastTapEdge     config.Direction
	lastTapAt       time.Time
	lastTapScreen   string

	screensaverActive bool
	savedX, savedY    int
	savedScreen       string

	scheduleAfter func(time.Duration, func())
	notify        func(event, screen string)
}

type pendingSwitch struct {
	toScreen string
	edge     config.Direction
	at       time.Time
}

// New creates an Engine anchored at the primary screen. scheduleAfter is
// typically eventqueue.Queue.ScheduleAfter, injected so the engine stays
// independent of the queue's concrete type.
func New(topo Topology, sessions Sessions, clip *clipboard.Replicator, primary *session.Session, scheduleAfter func(time.Duration, func())) *Engine {
	return &Engine{
		topo:          topo,
		sessions:      sessions,
		clip:          clip,
		primary:       primary,
		active:        primary.Name(),
		scheduleAfter: scheduleAfter,
	}
}

// SetNotifier registers a callback invoked on active-screen changes,
// disconnects, and screensaver transitions, used by the admin websocket
// feed to broadcast status events without the engine knowing anything
// about HTTP or JSON.
func (e *Engine) SetNotifier(fn func(event, screen string)) { e.notify = fn }

func (e *Engine) emit(event, screen string) {
	if e.notify != nil {
		e.notify(event, screen)
	}
}

// ActiveScreenName implements clipboard.Broadcaster.
func (e *Engine) ActiveScreenName() string { return e.active }

// BroadcastGrab implements clipboard.Broadcaster: tells every live session
// except the one that just grabbed that its clipboard cache is stale.
func (e *Engine) BroadcastGrab(id uint8, seqNum uint32, exceptScreen string) {
	for _, name := range e.sessions.Names() {
		if name == exceptScreen {
			continue
		}
		if s, ok := e.sessions.Get(name); ok {
			s.SetDirty(id, true)
		}
	}
	e.emit("clipboard_grabbed", exceptScreen)
}

// MarkDirtyExcept implements clipboard.Broadcaster: a clipboard payload
// changed, so every connected session other than the sender needs to
// know its cached copy is stale (spec §4.5), matching the fan-out
// original_source/lib/server/CServer.cpp:1082-1088 does on a data change.
func (e *Engine) MarkDirtyExcept(exceptScreen string, id uint8) {
	for _, name := range e.sessions.Names() {
		if name == exceptScreen {
			continue
		}
		if s, ok := e.sessions.Get(name); ok {
			s.SetDirty(id, true)
		}
	}
}

// PushClipboardData implements clipboard.Broadcaster: lazily, only the
// currently active screen needs fresh data pushed immediately; everyone
// else just gets marked dirty and receives it on next enter.
func (e *Engine) PushClipboardData(screen string, id uint8, seqNum uint32, data string) {
	s, ok := e.sessions.Get(screen)
	if !ok {
		return
	}
	_ = s.SetClipboard(id, seqNum, data)
	s.SetDirty(id, false)
}

// Active returns the canonical name of the screen currently receiving input.
func (e *Engine) Active() string { return e.active }

// IsLockedToScreen reports whether the command-key lock (spec §4.4) is engaged.
func (e *Engine) IsLockedToScreen() bool { return e.lockedToScreen }

// SetLockedToScreen toggles the lock, e.g. from a ScrollLock key event.
func (e *Engine) SetLockedToScreen(locked bool) { e.lockedToScreen = locked }

// Side bits identify which of the primary screen's four edges currently
// lead somewhere, for PrimaryScreen.Reconfigure.
const (
	SideLeft uint32 = 1 << iota
	SideRight
	SideTop
	SideBottom
)

// ActiveSides reports which of the primary screen's edges currently lead
// to a connected neighbor screen, mirroring
// original_source/lib/server/CServer.cpp:294 getActivePrimarySides. While
// locked to screen, no edge is active: the cursor can't leave regardless
// of what's connected.
func (e *Engine) ActiveSides() uint32 {
	if e.lockedToScreen {
		return 0
	}
	var sides uint32
	for dir, mask := range map[config.Direction]uint32{
		config.Left: SideLeft, config.Right: SideRight, config.Top: SideTop, config.Bottom: SideBottom,
	} {
		next, ok := e.topo.Neighbor(e.primary.Name(), dir)
		if !ok {
			continue
		}
		if s, ok := e.sessions.Get(next); ok && s.Live() {
			sides |= mask
		}
	}
	return sides
}

// RemapCoordinate maps a position from a source screen's axis onto the
// corresponding destination screen's axis, per spec §4.3's formula, with
// the scaled offset rounded to the nearest pixel:
// new = dstOrigin + floor(0.5 + (value-srcOrigin)*(dstSize-1)/(srcSize-1)).
// When srcSize <= 1 there is nothing to scale against; the destination
// origin is returned unchanged.
func RemapCoordinate(value, srcOrigin, srcSize, dstOrigin, dstSize int) int {
	if srcSize <= 1 {
		return dstOrigin
	}
	ratio := float64(dstSize-1) / float64(srcSize-1)
	return dstOrigin + int(math.Floor(0.5+float64(value-srcOrigin)*ratio))
}

// edgePosition computes where the cursor lands on the destination screen
// after crossing edge, remapping the perpendicular axis and placing the
// crossing axis just inside the destination screen's opposite border.
func edgePosition(edge config.Direction, srcShape, dstShape platform.Rect, x, y int) (int, int) {
	switch edge {
	case config.Left:
		ny := RemapCoordinate(y, srcShape.Y, srcShape.H, dstShape.Y, dstShape.H)
		return dstShape.X + dstShape.W - 1, ny
	case config.Right:
		ny := RemapCoordinate(y, srcShape.Y, srcShape.H, dstShape.Y, dstShape.H)
		return dstShape.X, ny
	case config.Top:
		nx := RemapCoordinate(x, srcShape.X, srcShape.W, dstShape.X, dstShape.W)
		return nx, dstShape.Y + dstShape.H - 1
	case config.Bottom:
		nx := RemapCoordinate(x, srcShape.X, srcShape.W, dstShape.X, dstShape.W)
		return nx, dstShape.Y
	default:
		return x, y
	}
}

// detectEdge reports which border of shape, if any, (x, y) has reached
// within zone pixels. Purely positional, matching
// original_source/lib/server/CServer.cpp:1223-1252: resting in the jump
// zone is enough to count as a crossing, regardless of which way the
// cursor was last moving.
func detectEdge(shape platform.Rect, zone, x, y int) (config.Direction, bool) {
	switch {
	case x <= shape.X+zone-1:
		return config.Left, true
	case x >= shape.X+shape.W-zone:
		return config.Right, true
	case y <= shape.Y+zone-1:
		return config.Top, true
	case y >= shape.Y+shape.H-zone:
		return config.Bottom, true
	}
	return "", false
}

// resolveNeighbor walks the topology in dir starting from screen,
// skipping over any screen name that isn't currently connected, per
// spec §4.3's skip-through rule. A wrap back to screen itself returns
// screen with ok=true; ok=false means the walk ran off the topology or
// entered a cycle that does not include screen without finding a
// connected screen.
func (e *Engine) resolveNeighbor(screen string, dir config.Direction) (string, bool) {
	seen := map[string]bool{}
	cur := screen
	for {
		next, ok := e.topo.Neighbor(cur, dir)
		if !ok {
			return "", false
		}
		if seen[next] {
			return "", false
		}
		seen[next] = true
		if next == screen {
			return next, true // self-loop wrap
		}
		if s, ok := e.sessions.Get(next); ok && s.Live() {
			return next, true
		}
		cur = next
	}
}

// HandlePrimaryMotion processes an absolute mouse-motion report from the
// primary screen's own input capture (spec §4.3(a)). Only applies while
// the primary itself is active; motion while a remote screen is active
// arrives as relative deltas through HandleSecondaryMotion instead,
// since the primary keeps capturing raw input regardless of where the
// cursor is logically displayed.
func (e *Engine) HandlePrimaryMotion(x, y int) {
	if e.active != e.primary.Name() {
		return
	}
	if e.lockedToScreen {
		e.cursorX, e.cursorY = x, y
		return
	}

	shape := e.primary.Shape()
	edge, crossed := detectEdge(shape, e.primary.JumpZoneSize(), x, y)
	if !crossed {
		e.cursorX, e.cursorY = x, y
		return
	}

	dst, ok := e.resolveNeighbor(e.active, edge)
	if !ok {
		e.cursorX, e.cursorY = x, y
		return
	}
	if dst == e.active {
		// Self-loop: the screen wraps into itself, so the cursor simply
		// reappears on the opposite edge without a session switch.
		nx, ny := edgePosition(edge, shape, shape, x, y)
		_ = e.primary.MouseMove(nx, ny)
		e.cursorX, e.cursorY = nx, ny
		return
	}

	if e.gateSwitch(edge, dst) {
		e.switchTo(dst, edge, x, y)
	}
}

// HandleSecondaryMotion processes a relative motion delta from the
// primary's own input capture while a remote screen is active (spec
// §4.3(b)). There is no client->server wire message for this — DMMV only
// flows server->client (spec §6) — so the server tracks the cursor's
// position on the active remote screen itself, accumulating deltas onto
// it and forwarding the result as DMMV to keep that client's displayed
// cursor in sync, the same way
// original_source/lib/server/CServer.cpp:1223-1252 drives onMouseMovePrimary
// regardless of which screen currently has focus.
func (e *Engine) HandleSecondaryMotion(dx, dy int) {
	if e.active == e.primary.Name() || e.lockedToScreen {
		return
	}
	s, ok := e.sessions.Get(e.active)
	if !ok {
		return
	}
	shape := s.Shape()
	x := clamp(e.cursorX+dx, shape.X, shape.X+shape.W-1)
	y := clamp(e.cursorY+dy, shape.Y, shape.Y+shape.H-1)

	edge, crossed := detectEdge(shape, s.JumpZoneSize(), x, y)
	if !crossed {
		_ = s.MouseMove(x, y)
		e.cursorX, e.cursorY = x, y
		return
	}

	from := e.active
	dst, ok := e.resolveNeighbor(from, edge)
	if !ok {
		_ = s.MouseMove(x, y)
		e.cursorX, e.cursorY = x, y
		return
	}
	if dst == from {
		nx, ny := edgePosition(edge, shape, shape, x, y)
		_ = s.MouseMove(nx, ny)
		e.cursorX, e.cursorY = nx, ny
		return
	}
	if e.gateSwitch(edge, dst) {
		e.switchTo(dst, edge, x, y)
	}
}

// gateSwitch applies the two-tap and switch-wait rules (spec §4.3): a
// screen configured to require a double-tap only switches if the same
// edge was crossed twice within twoTapWindow; otherwise a configurable
// switch-wait delay must elapse before the switch commits. The switch
// commits on the first motion event in the same edge zone that arrives
// after the delay; the timer scheduled here does not perform the switch
// itself. Returns true if the switch should happen immediately.
func (e *Engine) gateSwitch(edge config.Direction, dst string) bool {
	opts := e.topo.Options(e.active)

	if opts["twoTapScreenSwitch"] != 0 {
		now := time.Now()
		if e.lastTapEdge == edge && e.lastTapScreen == e.active && now.Sub(e.lastTapAt) <= twoTapWindow {
			e.lastTapEdge = ""
			return true
		}
		e.lastTapEdge = edge
		e.lastTapScreen = e.active
		e.lastTapAt = now
		return false
	}

	if ms := opts["switchDelay"]; ms > 0 {
		wait := time.Duration(ms) * time.Millisecond
		if e.pendingEdge != nil && e.pendingEdge.toScreen == dst && e.pendingEdge.edge == edge {
			if time.Since(e.pendingEdge.at) >= wait {
				e.pendingEdge = nil
				return true
			}
			return false
		}
		e.pendingEdge = &pendingSwitch{toScreen: dst, edge: edge, at: time.Now()}
		if e.scheduleAfter != nil {
			e.scheduleAfter(wait, func() {})
		}
		return false
	}

	return true
}

// switchTo performs the leave -> mutate-state -> enter sequence spec §5
// requires to be atomic with respect to other event-loop work, then
// pushes cached clipboard contents to the newly active screen.
func (e *Engine) switchTo(dst string, edge config.Direction, x, y int) {
	fromSession, ok := e.sessions.Get(e.active)
	if !ok {
		return
	}
	toSession, ok := e.sessions.Get(dst)
	if !ok {
		return
	}

	if !fromSession.Leave() {
		log.Warn("screen refused to yield input", "screen", e.active)
		return
	}

	var nx, ny int
	if fromSession.IsPrimary() {
		nx, ny = edgePosition(edge, e.primary.Shape(), toSession.Shape(), x, y)
	} else {
		nx, ny = edgePosition(edge, fromSession.Shape(), toSession.Shape(), x, y)
	}

	e.seqNum++
	e.active = dst
	e.cursorX, e.cursorY = nx, ny

	mask := e.primary.ToggleMask()
	if err := toSession.Enter(nx, ny, e.seqNum, mask, false); err != nil {
		log.Warn("enter failed, reverting to primary", "screen", dst, "err", err)
		e.active = e.primary.Name()
		return
	}

	for id, data := range e.clip.OnEnter() {
		if data == "" {
			continue
		}
		_ = toSession.SetClipboard(id, e.clip.SeqNum(id), data)
	}

	log.Info("switched active screen", "from", fromSession.Name(), "to", dst, "edge", edge)
	e.emit("active_screen_changed", dst)
}

// HandleDisconnect removes a screen from rotation: if it was active,
// control snaps back to the primary screen immediately (spec §4.6).
func (e *Engine) HandleDisconnect(screenName string) {
	e.clip.DisownScreen(screenName)
	if e.active != screenName {
		return
	}
	e.active = e.primary.Name()
	shape := e.primary.Shape()
	cx, cy := shape.X+shape.W/2, shape.Y+shape.H/2
	e.seqNum++
	_ = e.primary.Enter(cx, cy, e.seqNum, e.primary.ToggleMask(), false)
	e.cursorX, e.cursorY = cx, cy
	log.Warn("active screen disconnected, snapped back to primary", "screen", screenName)
	e.emit("screen_disconnected", screenName)
}

// ForcedCloseTimeout is the grace period a non-responsive connection is
// given before the server forcibly closes it (spec §4.6).
func ForcedCloseTimeout() time.Duration { return forcedCloseTimeout }

// EnterScreensaver saves the cursor's current screen and position, then
// notifies every session so remote clients can blank or unlock as
// appropriate (spec §4.7). Calling it while already active is a no-op.
func (e *Engine) EnterScreensaver() {
	if e.screensaverActive {
		return
	}
	e.screensaverActive = true
	e.savedScreen = e.active
	e.savedX, e.savedY = e.cursorX, e.cursorY

	if e.active != e.primary.Name() {
		// Control snaps back to the primary for the duration of the
		// screensaver (spec §4.7); a remote screen left active would
		// keep routing input to it indefinitely.
		if prev, ok := e.sessions.Get(e.active); ok {
			_ = prev.Leave()
		}
		e.active = e.primary.Name()
		e.cursorX, e.cursorY = 0, 0
		e.seqNum++
		_ = e.primary.Enter(0, 0, e.seqNum, e.primary.ToggleMask(), true)
	}

	for _, name := range e.sessions.Names() {
		if s, ok := e.sessions.Get(name); ok {
			_ = s.Screensaver(true)
		}
	}
	e.emit("screensaver_active", e.savedScreen)
}

// LeaveScreensaver restores whatever screen and position were active
// when the screensaver engaged, clamping the saved position into the
// restored screen's current shape, inset by its jump zone, in case its
// resolution changed while locked (spec §4.7).
func (e *Engine) LeaveScreensaver() {
	if !e.screensaverActive {
		return
	}
	e.screensaverActive = false

	for _, name := range e.sessions.Names() {
		if s, ok := e.sessions.Get(name); ok {
			_ = s.Screensaver(false)
		}
	}

	if e.savedScreen == e.primary.Name() {
		// The primary already owns the real cursor position; no jump to
		// re-issue (spec §4.7 only restores a saved *remote* screen).
		e.active = e.primary.Name()
		e.emit("screensaver_inactive", e.active)
		return
	}

	target, ok := e.sessions.Get(e.savedScreen)
	if !ok || !target.Live() {
		e.active = e.primary.Name()
		e.emit("screensaver_inactive", e.active)
		return
	}

	zone := target.JumpZoneSize()
	shape := target.Shape()
	x := clamp(e.savedX, shape.X+zone, shape.X+shape.W-zone-1)
	y := clamp(e.savedY, shape.Y+zone, shape.Y+shape.H-zone-1)

	e.active = e.savedScreen
	e.cursorX, e.cursorY = x, y
	e.seqNum++
	_ = target.Enter(x, y, e.seqNum, e.primary.ToggleMask(), true)
	e.emit("screensaver_inactive", e.active)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Reload updates the topology reference after a SIGHUP-driven config
// reload (spec §4.8). If the currently active screen was removed from
// the new topology, control falls back to the primary.
func (e *Engine) Reload(topo Topology) {
	e.topo = topo
	if !topo.IsScreen(e.active) {
		log.Warn("active screen dropped by reload, falling back to primary", "screen", e.active)
		e.HandleDisconnect(e.active)
	}
}
