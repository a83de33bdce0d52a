package state

// RenderState is the single visual decision for a pin in a given frame.
type RenderState int

const (
	// Hidden: completed pin while the inbox is closed.
	Hidden RenderState = iota
	// Collapsed: the small bubble.
	Collapsed
	// ExpandedRoot: root comment visible, replies not.
	ExpandedRoot
	// ExpandedThread: root comment plus the reply thread.
	ExpandedThread
)

// PinInfo is the per-pin input to the render decision.
type PinInfo struct {
	ID        int
	Completed bool
}

// Decide maps interaction state to a render state for one pin.
//
// A pin expands when it is hovered or active. The thread shows only for the
// active pin while it is locked; a click always locks (see Widget), so a
// single click reveals the thread while hover alone never does. Completed
// pins are hidden unless the inbox is open, which shows everything.
func Decide(s Snapshot, pin PinInfo) RenderState {
	inboxOpen := s.Mode == ModeShowInbox
	if !inboxOpen && pin.Completed {
		return Hidden
	}

	active := pin.ID != 0 && pin.ID == s.ActiveID
	hovered := !active && pin.ID == s.HoveredID
	if !active && !hovered {
		return Collapsed
	}
	if active && s.ActiveLocked {
		return ExpandedThread
	}
	return ExpandedRoot
}

// CatcherMounted reports whether the full-viewport click catcher should be
// mounted: whenever any pin is expanded.
func CatcherMounted(s Snapshot, pins []PinInfo) bool {
	for _, p := range pins {
		if st := Decide(s, p); st == ExpandedRoot || st == ExpandedThread {
			return true
		}
	}
	return false
}
