package session

import (
	"testing"

	"github.com/lanternops/kvmd/internal/platform"
)

type fakePrimary struct {
	shape       platform.Rect
	jumpZone    int
	entered     bool
	left        bool
	leaveResult bool
	warpedX     int
	warpedY     int
	clipboard   map[int]string
	screensaver bool
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{
		shape:       platform.Rect{X: 0, Y: 0, W: 1920, H: 1080},
		jumpZone:    4,
		leaveResult: true,
		clipboard:   make(map[int]string),
	}
}

func (f *fakePrimary) Events() <-chan platform.Event { return nil }
func (f *fakePrimary) Enter(x, y int, seqNum uint32, mask uint16, forScreensaver bool) error {
	f.entered = true
	return nil
}
func (f *fakePrimary) Leave() bool {
	f.left = true
	return f.leaveResult
}
func (f *fakePrimary) Reconfigure(activeSidesMask uint32) {}
func (f *fakePrimary) ToggleMask() uint16                 { return 0 }
func (f *fakePrimary) IsLockedToScreen() bool             { return false }
func (f *fakePrimary) WarpCursor(x, y int) {
	f.warpedX, f.warpedY = x, y
}
func (f *fakePrimary) CursorCenter() (int, int) { return f.shape.W / 2, f.shape.H / 2 }
func (f *fakePrimary) Shape() platform.Rect     { return f.shape }
func (f *fakePrimary) JumpZoneSize() int        { return f.jumpZone }
func (f *fakePrimary) GetClipboard(id int) (string, error) {
	return f.clipboard[id], nil
}
func (f *fakePrimary) SetClipboard(id int, data string) error {
	f.clipboard[id] = data
	return nil
}
func (f *fakePrimary) GrabClipboard(id int) {}
func (f *fakePrimary) Screensaver(on bool)  { f.screensaver = on }

func TestNewPrimaryIsPrimary(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)
	if !s.IsPrimary() {
		t.Fatal("expected primary session")
	}
	if s.Shape() != p.shape {
		t.Fatalf("shape = %+v, want %+v", s.Shape(), p.shape)
	}
	if s.JumpZoneSize() != 4 {
		t.Fatalf("jump zone = %d, want 4", s.JumpZoneSize())
	}
}

func TestPrimaryEnterLeaveDelegate(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)

	if err := s.Enter(10, 20, 1, 0, false); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if !p.entered {
		t.Fatal("expected primary.Enter to be called")
	}

	if ok := s.Leave(); !ok {
		t.Fatal("expected Leave to return true")
	}
	if !p.left {
		t.Fatal("expected primary.Leave to be called")
	}
}

func TestPrimaryMouseMoveWarpsCursor(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)

	if err := s.MouseMove(100, 200); err != nil {
		t.Fatalf("MouseMove: %v", err)
	}
	if p.warpedX != 100 || p.warpedY != 200 {
		t.Fatalf("warped to (%d,%d), want (100,200)", p.warpedX, p.warpedY)
	}
}

func TestPrimaryKeyEventsAreNoOps(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)
	if err := s.KeyDown(1, 0, 0); err != nil {
		t.Fatalf("KeyDown should no-op on primary: %v", err)
	}
}

func TestPrimarySetClipboardWritesLocal(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)
	if err := s.SetClipboard(0, 1, "hello"); err != nil {
		t.Fatalf("SetClipboard: %v", err)
	}
	if p.clipboard[0] != "hello" {
		t.Fatalf("clipboard[0] = %q, want hello", p.clipboard[0])
	}
}

func TestRemoteSessionIsNotPrimary(t *testing.T) {
	s := NewRemote("laptop", "conn-id", nil)
	if s.IsPrimary() {
		t.Fatal("expected remote session")
	}
	if s.Name() != "laptop" {
		t.Fatalf("name = %q, want laptop", s.Name())
	}
}

func TestRemoteSessionInfoRoundTrip(t *testing.T) {
	s := NewRemote("laptop", "conn-id", nil)
	info := ClientInfo{X: 0, Y: 0, W: 1366, H: 768, Zone: 4}
	s.SetInfo(info)
	if s.Info() != info {
		t.Fatalf("info = %+v, want %+v", s.Info(), info)
	}
	if s.Shape() != (platform.Rect{X: 0, Y: 0, W: 1366, H: 768}) {
		t.Fatalf("shape = %+v", s.Shape())
	}
}

func TestSessionDirtyFlags(t *testing.T) {
	s := NewRemote("laptop", "conn-id", nil)
	if s.Dirty(0) {
		t.Fatal("expected slot 0 clean by default")
	}
	s.SetDirty(0, true)
	if !s.Dirty(0) {
		t.Fatal("expected slot 0 dirty after SetDirty")
	}
}

func TestSessionLiveness(t *testing.T) {
	s := NewRemote("laptop", "conn-id", nil)
	if !s.Live() {
		t.Fatal("expected new session to be live")
	}
	s.SetLive(false)
	if s.Live() {
		t.Fatal("expected session to be not-live after SetLive(false)")
	}
}

func TestCloseTwiceErrors(t *testing.T) {
	p := newFakePrimary()
	s := NewPrimary("local", "primary-id", p)
	if err := s.Close(nil); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(nil); err == nil {
		t.Fatal("expected error closing an already-closed session")
	}
}
