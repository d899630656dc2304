package platform

import "testing"

func TestLocalScreenClipboardRoundTrip(t *testing.T) {
	l := NewLocalScreen(Rect{X: 0, Y: 0, W: 1920, H: 1080}, 4)
	if err := l.SetClipboard(0, "hello"); err != nil {
		t.Fatalf("SetClipboard: %v", err)
	}
	got, err := l.GetClipboard(0)
	if err != nil {
		t.Fatalf("GetClipboard: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestLocalScreenLockToggle(t *testing.T) {
	l := NewLocalScreen(Rect{X: 0, Y: 0, W: 1920, H: 1080}, 4)
	if l.IsLockedToScreen() {
		t.Fatal("expected unlocked by default")
	}
	l.SetLocked(true)
	if !l.IsLockedToScreen() {
		t.Fatal("expected locked after SetLocked(true)")
	}
}

func TestLocalScreenPostAndDrainEvents(t *testing.T) {
	l := NewLocalScreen(Rect{X: 0, Y: 0, W: 1920, H: 1080}, 4)
	l.Post(Event{Kind: KeyDown, KeyID: 65})

	select {
	case e := <-l.Events():
		if e.KeyID != 65 {
			t.Fatalf("KeyID = %d, want 65", e.KeyID)
		}
	default:
		t.Fatal("expected an event to be available")
	}
}

func TestRectContains(t *testing.T) {
	r := Rect{X: 10, Y: 10, W: 100, H: 50}
	if !r.Contains(10, 10) {
		t.Fatal("expected top-left corner to be contained")
	}
	if r.Contains(110, 10) {
		t.Fatal("expected x at X+W to be out of bounds")
	}
	if r.Contains(9, 10) {
		t.Fatal("expected x below X to be out of bounds")
	}
}
