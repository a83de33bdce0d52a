package state

import (
	"testing"
	"time"

	"pinboard/widget/anchor"
)

func TestHoverActiveMutualExclusion(t *testing.T) {
	st := NewStore()

	st.SetHovered(3)
	st.SetActiveLocked(5, false)
	s := st.Snapshot()
	if s.HoveredID != 0 {
		t.Fatalf("activating must clear hover, got hovered=%d", s.HoveredID)
	}

	// Hovering the active pin is a no-op.
	st.SetHovered(5)
	if st.Snapshot().HoveredID != 0 {
		t.Fatal("active pin must not become hovered")
	}

	st.SetHovered(7)
	st.SetActive(9)
	s = st.Snapshot()
	if s.HoveredID != 0 || s.ActiveID != 9 {
		t.Fatalf("expected hovered=0 active=9, got %+v", s)
	}
}

func TestHoverOtherPinWhileActive(t *testing.T) {
	st := NewStore()

	// A different pin may be hovered while one is active; only the active
	// pin itself is barred from hovering. Both stay expanded.
	st.SetActive(5)
	st.SetHovered(3)
	s := st.Snapshot()
	if s.HoveredID != 3 || s.ActiveID != 5 {
		t.Fatalf("expected hovered=3 active=5, got %+v", s)
	}
	if got := Decide(s, PinInfo{ID: 3}); got != ExpandedRoot {
		t.Fatalf("hovered pin should expand, got %v", got)
	}
	if got := Decide(s, PinInfo{ID: 5}); got != ExpandedRoot {
		t.Fatalf("active pin should stay expanded, got %v", got)
	}
}

func TestStickyLock(t *testing.T) {
	st := NewStore()

	st.SetActiveLocked(2, true)
	st.SetActive(4)
	if s := st.Snapshot(); !s.ActiveLocked {
		t.Fatal("lock must be sticky when not specified")
	}

	st.SetActiveLocked(6, false)
	if s := st.Snapshot(); s.ActiveLocked {
		t.Fatal("explicit lock state must override")
	}
}

func TestDraftRequiresAddMode(t *testing.T) {
	st := NewStore()

	st.SetDraft(&anchor.Anchor{W: 1000})
	if st.Draft() != nil {
		t.Fatal("draft outside add-comment mode must be ignored")
	}

	st.SetMode(ModeAddComment)
	st.SetDraft(&anchor.Anchor{W: 1000})
	if st.Draft() == nil {
		t.Fatal("draft in add-comment mode must stick")
	}

	// Leaving add-comment mode discards the draft.
	st.SetMode(ModeNothing)
	if st.Draft() != nil {
		t.Fatal("draft must not survive leaving add-comment mode")
	}
}

func TestEnterAddModeClearsState(t *testing.T) {
	st := NewStore()
	st.SetActiveLocked(3, true)
	st.SetSelectedComment(8)

	st.SetMode(ModeAddComment)
	s := st.Snapshot()
	if s.ActiveLocked || s.SelectedCommentID != 0 || s.Draft != nil {
		t.Fatalf("entering add mode must clear lock/selection/draft, got %+v", s)
	}
}

func TestReset(t *testing.T) {
	st := NewStore()
	st.SetMode(ModeShowInbox)
	st.SetActiveLocked(3, true)
	st.SetHovered(4)

	st.Reset()
	s := st.Snapshot()
	if s.ActiveID != 0 || s.HoveredID != 0 || s.ActiveLocked || s.Draft != nil {
		t.Fatalf("reset left state behind: %+v", s)
	}
	if s.Mode != ModeShowInbox {
		t.Fatal("reset must not change the mode")
	}
}

func TestDecide(t *testing.T) {
	pin := PinInfo{ID: 7}
	done := PinInfo{ID: 7, Completed: true}

	tests := []struct {
		name string
		s    Snapshot
		pin  PinInfo
		want RenderState
	}{
		{"idle", Snapshot{}, pin, Collapsed},
		{"hovered", Snapshot{HoveredID: 7}, pin, ExpandedRoot},
		{"active unlocked", Snapshot{ActiveID: 7}, pin, ExpandedRoot},
		{"active locked", Snapshot{ActiveID: 7, ActiveLocked: true}, pin, ExpandedThread},
		{"other pin active", Snapshot{ActiveID: 3, ActiveLocked: true}, pin, Collapsed},
		{"completed hidden", Snapshot{}, done, Hidden},
		{"completed visible in inbox", Snapshot{Mode: ModeShowInbox}, done, Collapsed},
		{"completed active in inbox", Snapshot{Mode: ModeShowInbox, ActiveID: 7}, done, ExpandedRoot},
		{"lock without active id ignored", Snapshot{ActiveLocked: true}, pin, Collapsed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.s, tc.pin); got != tc.want {
				t.Fatalf("Decide() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCatcherMounted(t *testing.T) {
	pins := []PinInfo{{ID: 1}, {ID: 2}}
	if CatcherMounted(Snapshot{}, pins) {
		t.Fatal("no expanded pin, no catcher")
	}
	if !CatcherMounted(Snapshot{ActiveID: 2}, pins) {
		t.Fatal("expanded pin must mount the catcher")
	}
}

func TestHoverDebounce(t *testing.T) {
	st := NewStore()
	h := NewHoverer(st, 30*time.Millisecond)

	// Enter then leave inside the window: hover never lands.
	h.Enter(4)
	time.Sleep(10 * time.Millisecond)
	h.Leave(4)
	time.Sleep(60 * time.Millisecond)
	if st.Snapshot().HoveredID != 0 {
		t.Fatal("cancelled enter must not set hover")
	}

	// Undisturbed enter lands after the delay.
	h.Enter(4)
	time.Sleep(60 * time.Millisecond)
	if st.Snapshot().HoveredID != 4 {
		t.Fatal("enter should set hover after the delay")
	}

	// Leave followed by a quick re-enter keeps the hover.
	h.Leave(4)
	time.Sleep(10 * time.Millisecond)
	h.Enter(4)
	time.Sleep(60 * time.Millisecond)
	if st.Snapshot().HoveredID != 4 {
		t.Fatal("re-enter must cancel the pending leave")
	}

	// Hovering the active pin is ignored.
	st.SetActive(9)
	h.Enter(9)
	time.Sleep(60 * time.Millisecond)
	if st.Snapshot().HoveredID != 0 {
		t.Fatal("active pin must not be hoverable")
	}
}
