package clipboard

import "testing"

type fakeBroadcaster struct {
	active     string
	grabs      []uint8
	dirty      map[string][]uint8
	pushed     []string
}

func newFakeBroadcaster(active string) *fakeBroadcaster {
	return &fakeBroadcaster{active: active, dirty: make(map[string][]uint8)}
}

func (f *fakeBroadcaster) ActiveScreenName() string { return f.active }
func (f *fakeBroadcaster) BroadcastGrab(id uint8, seqNum uint32, exceptScreen string) {
	f.grabs = append(f.grabs, id)
}
func (f *fakeBroadcaster) MarkDirtyExcept(exceptScreen string, id uint8) {
	f.dirty[exceptScreen] = append(f.dirty[exceptScreen], id)
}
func (f *fakeBroadcaster) PushClipboardData(screen string, id uint8, seqNum uint32, data string) {
	f.pushed = append(f.pushed, data)
}

func TestLocalGrabIncrementsSeqAndBroadcasts(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)

	r.LocalGrab(Clipboard, "A")
	if r.Owner(Clipboard) != "A" {
		t.Fatalf("owner = %q, want A", r.Owner(Clipboard))
	}
	if r.SeqNum(Clipboard) != 1 {
		t.Fatalf("seqNum = %d, want 1", r.SeqNum(Clipboard))
	}
	if len(b.grabs) != 1 {
		t.Fatalf("expected 1 broadcast grab, got %d", len(b.grabs))
	}
}

func TestRemoteGrabRejectsStaleSeqNum(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)
	r.LocalGrab(Selection, "A") // seqNum becomes 1

	if ok := r.RemoteGrab("B", Selection, 0, false); ok {
		t.Fatal("stale seqNum grab should be rejected")
	}
	if r.Owner(Selection) != "A" {
		t.Fatalf("owner should remain A, got %q", r.Owner(Selection))
	}
}

func TestRemoteGrabAcceptsNewerSeqNum(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)
	r.LocalGrab(Selection, "A")

	if ok := r.RemoteGrab("B", Selection, 5, false); !ok {
		t.Fatal("newer seqNum grab should be accepted")
	}
	if r.Owner(Selection) != "B" {
		t.Fatalf("owner = %q, want B", r.Owner(Selection))
	}
}

func TestPrimaryGrabAlwaysAccepted(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)
	r.RemoteGrab("B", Clipboard, 100, false)

	if ok := r.RemoteGrab("A", Clipboard, 0, true); !ok {
		t.Fatal("primary grab should always be accepted regardless of seqNum")
	}
	if r.Owner(Clipboard) != "A" {
		t.Fatalf("owner = %q, want A", r.Owner(Clipboard))
	}
}

func TestDataChangedOnlyFromOwnerAndNewerSeq(t *testing.T) {
	b := newFakeBroadcaster("B")
	r := New(b)
	r.RemoteGrab("A", Clipboard, 1, true)

	if ok := r.DataChanged("B", Clipboard, 1, "nope"); ok {
		t.Fatal("non-owner data change should be rejected")
	}
	if ok := r.DataChanged("A", Clipboard, 0, "stale"); ok {
		t.Fatal("owner data change with an older seqNum should be rejected")
	}
	if ok := r.DataChanged("A", Clipboard, 1, "hello"); !ok {
		t.Fatal("owner data change should be accepted")
	}
	if r.Data(Clipboard) != "hello" {
		t.Fatalf("data = %q, want hello", r.Data(Clipboard))
	}
	if len(b.pushed) != 1 || b.pushed[0] != "hello" {
		t.Fatalf("expected push of hello, got %v", b.pushed)
	}
}

func TestDataChangedMarksDirtyExceptSender(t *testing.T) {
	b := newFakeBroadcaster("B")
	r := New(b)
	r.RemoteGrab("A", Clipboard, 1, true)

	r.DataChanged("A", Clipboard, 1, "hello")
	if got := b.dirty["A"]; len(got) != 1 {
		t.Fatalf("MarkDirtyExcept called with exceptScreen=%v, want exactly one call excepting the sender A", b.dirty)
	}
}

func TestDataChangedNoOpWhenUnchanged(t *testing.T) {
	b := newFakeBroadcaster("B")
	r := New(b)
	r.RemoteGrab("A", Clipboard, 1, true)
	r.DataChanged("A", Clipboard, 1, "hello")
	b.pushed = nil

	r.DataChanged("A", Clipboard, 1, "hello")
	if len(b.pushed) != 0 {
		t.Fatalf("expected no push for unchanged data, got %v", b.pushed)
	}
}

func TestOnEnterReturnsBothSlots(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)
	r.RemoteGrab("A", Clipboard, 1, true)
	r.DataChanged("A", Clipboard, 1, "clip-data")

	snapshot := r.OnEnter()
	if snapshot[Clipboard] != "clip-data" {
		t.Fatalf("snapshot[Clipboard] = %q, want clip-data", snapshot[Clipboard])
	}
	if snapshot[Selection] != "" {
		t.Fatalf("snapshot[Selection] = %q, want empty", snapshot[Selection])
	}
}

func TestDisownScreenClearsOwnership(t *testing.T) {
	b := newFakeBroadcaster("A")
	r := New(b)
	r.RemoteGrab("B", Clipboard, 1, false)
	r.DisownScreen("B")
	if r.Owner(Clipboard) != "" {
		t.Fatalf("owner = %q after disown, want empty", r.Owner(Clipboard))
	}
}
