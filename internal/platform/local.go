package platform

import "sync"

// LocalScreen is a portable PrimaryScreen implementation that tracks
// state without touching any OS-specific input APIs. Real keyboard/mouse
// capture and injection are platform-specific back-ends explicitly out
// of scope (spec §1); LocalScreen gives the server something concrete to
// drive so the switching engine and wire protocol can run end-to-end on
// any OS, without touching the real desktop: clipboard contents are held
// in memory and cursor warps are discarded.
type LocalScreen struct {
	mu         sync.Mutex
	shape      Rect
	jumpZone   int
	events     chan Event
	clipboards [2]string
	locked     bool
	toggleMask uint16
}

// NewLocalScreen creates a LocalScreen with the given shape and jump-zone
// thickness (spec §3, Screen/ClientInfo geometry).
func NewLocalScreen(shape Rect, jumpZone int) *LocalScreen {
	return &LocalScreen{
		shape:    shape,
		jumpZone: jumpZone,
		events:   make(chan Event, 64),
	}
}

// Events returns the channel callers can post synthetic or OS-sourced
// events onto and the server drains from.
func (l *LocalScreen) Events() <-chan Event { return l.events }

// Post is how an out-of-tree input source feeds events into the server;
// LocalScreen itself never generates one on its own.
func (l *LocalScreen) Post(e Event) {
	select {
	case l.events <- e:
	default:
	}
}

func (l *LocalScreen) Enter(x, y int, seqNum uint32, mask uint16, forScreensaver bool) error {
	return nil
}

func (l *LocalScreen) Leave() bool { return true }

func (l *LocalScreen) Reconfigure(activeSidesMask uint32) {}

func (l *LocalScreen) ToggleMask() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggleMask
}

func (l *LocalScreen) IsLockedToScreen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// SetLocked sets the value IsLockedToScreen reports. The server's
// ScrollLock handler toggles the switching engine's lock, not this one.
func (l *LocalScreen) SetLocked(locked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = locked
}

func (l *LocalScreen) WarpCursor(x, y int) {}

func (l *LocalScreen) CursorCenter() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shape.X + l.shape.W/2, l.shape.Y + l.shape.H/2
}

func (l *LocalScreen) Shape() Rect {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shape
}

// SetShape updates the tracked geometry, e.g. after a display change
// (ShapeChanged event).
func (l *LocalScreen) SetShape(shape Rect) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shape = shape
}

func (l *LocalScreen) JumpZoneSize() int { return l.jumpZone }

func (l *LocalScreen) GetClipboard(id int) (string, error) {
	if id < 0 || id > 1 {
		return "", nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clipboards[id], nil
}

func (l *LocalScreen) SetClipboard(id int, data string) error {
	if id < 0 || id > 1 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clipboards[id] = data
	return nil
}

func (l *LocalScreen) GrabClipboard(id int) {}

func (l *LocalScreen) Screensaver(on bool) {}
