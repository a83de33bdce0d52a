package state

import (
	"sync"
	"time"
)

// DefaultHoverDelay is how long the pointer must rest before a pin counts as
// hovered, and how long it must be gone before the hover clears.
const DefaultHoverDelay = 250 * time.Millisecond

// Hoverer debounces hover enter/leave. Each event cancels the complementary
// pending timer, so a quick pass over a pin never flips the hovered id and a
// brief exit does not collapse an expanded pin.
type Hoverer struct {
	store *Store
	delay time.Duration

	mu    sync.Mutex
	enter *time.Timer
	leave *time.Timer
}

// NewHoverer creates a hoverer. A zero delay defaults to DefaultHoverDelay.
func NewHoverer(store *Store, delay time.Duration) *Hoverer {
	if delay <= 0 {
		delay = DefaultHoverDelay
	}
	return &Hoverer{store: store, delay: delay}
}

// Enter schedules the pin to become hovered. Ignored for the active pin.
func (h *Hoverer) Enter(id int) {
	if id == 0 || id == h.store.ActiveID() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.leave != nil {
		h.leave.Stop()
	}
	if h.enter != nil {
		h.enter.Stop()
	}
	h.enter = time.AfterFunc(h.delay, func() {
		h.store.SetHovered(id)
	})
}

// Leave schedules the hover to clear. Ignored for the active pin.
func (h *Hoverer) Leave(id int) {
	if id != 0 && id == h.store.ActiveID() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enter != nil {
		h.enter.Stop()
	}
	if h.leave != nil {
		h.leave.Stop()
	}
	h.leave = time.AfterFunc(h.delay, func() {
		h.store.SetHovered(0)
	})
}

// Cancel drops both pending timers. Called on click, which supersedes hover.
func (h *Hoverer) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enter != nil {
		h.enter.Stop()
	}
	if h.leave != nil {
		h.leave.Stop()
	}
}
