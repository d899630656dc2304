// Package platform declares the collaborator interfaces the core consumes
// but does not implement: the primary screen's input/event back-end and
// the clipboard storage it owns. Platform-specific back-ends (X11, Win32,
// Carbon) that actually inject keystrokes and capture events are out of
// scope (spec §1); this package only names the narrow surface the core
// calls through.
package platform

import "time"

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	KeyDown EventKind = iota
	KeyUp
	KeyRepeat
	ButtonDown
	ButtonUp
	MotionOnPrimary
	MotionOnSecondary
	Wheel
	ScreensaverActivated
	ScreensaverDeactivated
	ShapeChanged
)

// Event is one input or state-change notification raised by the primary
// screen's back-end and funneled onto the event queue (spec §5: platform
// back-ends must not call session methods directly).
type Event struct {
	Kind EventKind
	At   time.Time

	KeyID, Mask, Count, Button uint16
	ButtonID                   uint8
	X, Y                       int // absolute for MotionOnPrimary, relative delta for MotionOnSecondary
	WheelDelta                 int16
}

// Rect is an axis-aligned pixel rectangle in a screen's own coordinate
// space, always starting at (X, Y) = (0, 0) for primary/remote reports but
// preserved in case that ever changes (spec §3, ClientInfo).
type Rect struct {
	X, Y, W, H int
}

// Contains reports whether (x, y) lies within the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// PrimaryScreen is the external collaborator that owns real input: the
// machine the server runs on. The switching engine calls back into it to
// move the literal cursor, query its shape, and mirror clipboard state.
type PrimaryScreen interface {
	// Events returns the channel of input/state events the back-end raises.
	Events() <-chan Event

	Enter(x, y int, seqNum uint32, mask uint16, forScreensaver bool) error
	Leave() bool
	Reconfigure(activeSidesMask uint32)

	ToggleMask() uint16
	IsLockedToScreen() bool
	WarpCursor(x, y int)
	CursorCenter() (x, y int)
	Shape() Rect
	JumpZoneSize() int

	GetClipboard(id int) (string, error)
	SetClipboard(id int, data string) error
	GrabClipboard(id int)
	Screensaver(on bool)
}
