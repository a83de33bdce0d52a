// Package state holds the per-widget interaction state and the pure render
// decision derived from it. One Store exists per widget instance; every
// consumer reads and writes through it, so the invariants only need to hold
// at setter return.
package state

import (
	"sync"

	"pinboard/widget/anchor"
)

// Mode is the widget's top-level interaction mode.
type Mode int

const (
	ModeNothing Mode = iota
	ModeAddComment
	ModeShowInbox
)

// Snapshot is a consistent copy of the interaction state.
type Snapshot struct {
	HoveredID         int
	ActiveID          int
	ActiveLocked      bool
	Draft             *anchor.Anchor
	SelectedCommentID int
	Mode              Mode
}

// Store is the single source of truth for hover, selection, draft, and mode.
// Every setter is total and leaves the state consistent:
//
//   - at most one pin is hovered and at most one is active, never the same id
//   - a draft exists only in add-comment mode
//   - the lock flag is sticky: activating a pin without specifying a lock
//     keeps the previous value
type Store struct {
	mu sync.Mutex
	s  Snapshot
}

func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// ActiveID returns the currently active pin id, 0 for none.
func (st *Store) ActiveID() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.ActiveID
}

// CurrentMode returns the current top-level mode.
func (st *Store) CurrentMode() Mode {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Mode
}

// SetHovered marks a pin as hovered. Hover never applies to the active pin;
// such calls are ignored rather than rejected.
func (st *Store) SetHovered(id int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != 0 && id == st.s.ActiveID {
		return
	}
	st.s.HoveredID = id
}

// SetActive activates a pin, clearing hover unconditionally. The lock flag
// keeps its previous value (sticky-lock semantics).
func (st *Store) SetActive(id int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.HoveredID = 0
	st.s.ActiveID = id
}

// SetActiveLocked activates a pin with an explicit lock state.
func (st *Store) SetActiveLocked(id int, locked bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.HoveredID = 0
	st.s.ActiveID = id
	st.s.ActiveLocked = locked
}

// SetDraft records an in-progress capture. Drafts only exist in add-comment
// mode; calls outside it are ignored so the invariant cannot be broken.
func (st *Store) SetDraft(a *anchor.Anchor) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if a != nil && st.s.Mode != ModeAddComment {
		return
	}
	st.s.Draft = a
}

// Draft returns the in-progress capture, nil when there is none.
func (st *Store) Draft() *anchor.Anchor {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Draft
}

// SetSelectedComment records which comment is being edited.
func (st *Store) SetSelectedComment(id int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SelectedCommentID = id
}

// SetMode switches the top-level mode. Entering add-comment mode starts from
// a clean slate: no draft, no comment selection, lock released.
func (st *Store) SetMode(m Mode) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Mode = m
	if m == ModeAddComment {
		st.s.Draft = nil
		st.s.SelectedCommentID = 0
		st.s.ActiveLocked = false
	}
	if m != ModeAddComment {
		st.s.Draft = nil
	}
}

// Reset restores the interaction defaults. Used when switching top-level
// modes; the mode itself is owned by the caller.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	mode := st.s.Mode
	st.s = Snapshot{Mode: mode}
}
