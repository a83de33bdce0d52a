// Package widget wires the pinboard engine together: one Widget per
// embedding page, holding the interaction store, the capture surface, the
// breakpoint watcher, the inbox navigator, and the API client. Event
// handlers never panic outward; a broken handler degrades to a no-op so the
// host page keeps working.
package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pinboard/widget/anchor"
	"pinboard/widget/breakpoint"
	"pinboard/widget/capture"
	"pinboard/widget/client"
	"pinboard/widget/dom"
	"pinboard/widget/inbox"
	"pinboard/widget/state"
)

// API is the server surface the widget consumes. *client.Client satisfies
// it; tests substitute a fake.
type API interface {
	ListPins(ctx context.Context, opts client.ListOptions) ([]client.Pin, error)
	CreatePin(ctx context.Context, pagePath string, a anchor.Anchor, text string, attachments []client.Upload) (int, error)
	CompletePin(ctx context.Context, id int, done bool) error
	DeletePin(ctx context.Context, id int) error
	ListComments(ctx context.Context, pinID int) ([]client.Comment, error)
	CreateComment(ctx context.Context, pinID int, text string, attachments []client.Upload) (int, error)
	UpdateComment(ctx context.Context, id int, text string) error
	DeleteComment(ctx context.Context, id int) error
}

// Config carries per-instance settings. Zero durations take the package
// defaults.
type Config struct {
	// PagePath is the pathname pins are listed and created under.
	PagePath string
	// Breakpoints partitions capture widths into device buckets, widest
	// first or not; it is sorted internally. Empty disables partitioning.
	Breakpoints []float64
	// HoverDelay debounces pin hover transitions.
	HoverDelay time.Duration
	// ResizeDebounce coalesces resize bursts before re-partitioning.
	ResizeDebounce time.Duration
	// MinSegments is the minimum selector depth capture accepts; zero takes
	// capture.DefaultMinSegments.
	MinSegments int
	// CapturePrefix marks the widget's own DOM, which must never be
	// annotatable; empty takes capture.DefaultPrefix.
	CapturePrefix string
	// Schedule defers DOM side effects to the next tick; nil runs inline.
	Schedule func(func())
	Logger   zerolog.Logger
}

// Widget is one embedded pinboard instance. All methods are safe for
// concurrent use.
type Widget struct {
	vp     dom.Viewport
	api    API
	cfg    Config
	logger zerolog.Logger

	store    *state.Store
	hover    *state.Hoverer
	capturer *capture.Capturer
	nav      *inbox.Navigator
	watcher  *breakpoint.Watcher

	mu       sync.Mutex
	pins     []client.Pin
	rng      breakpoint.Range
	query    string
	lastRead int // remembered inbox selection across mode toggles
}

// New builds a widget instance for one page. Call Close when the host tears
// it down.
func New(vp dom.Viewport, api API, cfg Config) *Widget {
	w := &Widget{
		vp:     vp,
		api:    api,
		cfg:    cfg,
		logger: cfg.Logger,
		store:  state.NewStore(),
	}
	w.hover = state.NewHoverer(w.store, cfg.HoverDelay)
	w.capturer = capture.New(vp, cfg.MinSegments, cfg.CapturePrefix)
	w.nav = inbox.New(w.store, vp, cfg.Schedule)
	w.watcher = breakpoint.NewWatcher(cfg.Breakpoints, cfg.ResizeDebounce, func(r breakpoint.Range) {
		w.mu.Lock()
		w.rng = r
		w.mu.Unlock()
	})

	if size, ok := vp.Size(); ok {
		w.rng = breakpoint.RangeFor(size.W, cfg.Breakpoints)
	}
	return w
}

// Close stops timers. The widget must not be used afterwards.
func (w *Widget) Close() {
	w.watcher.Stop()
	w.hover.Cancel()
}

// Refresh refetches the page's pin collection, applying the current search
// query server-side.
func (w *Widget) Refresh(ctx context.Context) error {
	w.mu.Lock()
	opts := client.ListOptions{Path: w.cfg.PagePath, Query: w.query}
	w.mu.Unlock()

	pins, err := w.api.ListPins(ctx, opts)
	if err != nil {
		return fmt.Errorf("widget: refresh: %w", err)
	}

	w.mu.Lock()
	w.pins = pins
	w.mu.Unlock()
	return nil
}

// Search sets the inbox free-text query and refetches.
func (w *Widget) Search(ctx context.Context, query string) error {
	w.mu.Lock()
	w.query = query
	w.mu.Unlock()
	return w.Refresh(ctx)
}

// ToggleMode flips the given mode on or off. Toggling the same mode twice
// returns to nothing-mode; switching modes resets interaction state first.
func (w *Widget) ToggleMode(mode state.Mode) {
	defer w.recoverHandler("ToggleMode")

	current := w.store.CurrentMode()
	active := w.store.ActiveID()
	if current == state.ModeShowInbox {
		w.mu.Lock()
		w.lastRead = active
		w.mu.Unlock()
	}

	w.hover.Cancel()
	w.store.Reset()
	if current == mode {
		w.store.SetMode(state.ModeNothing)
		return
	}
	w.store.SetMode(mode)

	if mode == state.ModeShowInbox {
		w.mu.Lock()
		remembered := w.lastRead
		pins, query := w.pins, w.query
		w.mu.Unlock()
		// A pin that is active right now outranks the one remembered from
		// the last inbox visit: opening the inbox on a clicked pin keeps it.
		if active != 0 {
			remembered = active
		}

		for _, pin := range w.nav.Visible(pins, query) {
			if pin.ID == remembered {
				w.nav.Select(remembered)
				return
			}
		}
		w.nav.First(pins, query)
	}
}

// HandlePageClick records a draft anchor from a click on the host page.
// Outside add-comment mode, or on the widget's own DOM, it does nothing.
func (w *Widget) HandlePageClick(click capture.Click) {
	defer w.recoverHandler("HandlePageClick")

	if w.store.CurrentMode() != state.ModeAddComment {
		return
	}
	if a, ok := w.capturer.Capture(click); ok {
		w.store.SetDraft(&a)
	}
}

// HandlePinClick activates and locks a pin. Clicking a pin while composing
// aborts the draft first.
func (w *Widget) HandlePinClick(id int) {
	defer w.recoverHandler("HandlePinClick")

	if w.store.CurrentMode() == state.ModeAddComment {
		w.store.SetMode(state.ModeNothing)
	}
	w.hover.Cancel()
	w.store.SetActiveLocked(id, true)
}

// HandleOutsideClick collapses the expanded pin. With the inbox open the
// selection survives, only the lock drops.
func (w *Widget) HandleOutsideClick() {
	defer w.recoverHandler("HandleOutsideClick")

	s := w.store.Snapshot()
	if s.Mode == state.ModeShowInbox && s.ActiveID != 0 {
		w.store.SetActiveLocked(s.ActiveID, false)
		return
	}
	w.store.SetActiveLocked(0, false)
}

// HandleHoverEnter starts the debounced hover transition for a pin.
func (w *Widget) HandleHoverEnter(id int) {
	defer w.recoverHandler("HandleHoverEnter")
	w.hover.Enter(id)
}

// HandleHoverLeave starts the debounced un-hover transition for a pin.
func (w *Widget) HandleHoverLeave(id int) {
	defer w.recoverHandler("HandleHoverLeave")
	w.hover.Leave(id)
}

// HandleEscape discards the draft if one exists, otherwise leaves the
// current mode.
func (w *Widget) HandleEscape() {
	defer w.recoverHandler("HandleEscape")

	if w.store.Draft() != nil {
		w.store.SetDraft(nil)
		return
	}
	w.store.SetMode(state.ModeNothing)
}

// HandleResize feeds a viewport width into the breakpoint watcher.
func (w *Widget) HandleResize(width float64) {
	defer w.recoverHandler("HandleResize")
	w.watcher.Resize(width)
}

// SubmitDraft creates a pin from the current draft. On failure the draft is
// left untouched so the user can retry; on success the mode resets and the
// collection refreshes.
func (w *Widget) SubmitDraft(ctx context.Context, text string, attachments []client.Upload) (int, error) {
	draft := w.store.Draft()
	if draft == nil {
		return 0, fmt.Errorf("widget: no draft to submit")
	}

	id, err := w.api.CreatePin(ctx, w.cfg.PagePath, *draft, text, attachments)
	if err != nil {
		return 0, err
	}

	w.store.SetMode(state.ModeNothing)
	if err := w.Refresh(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("widget: refresh after create")
	}
	return id, nil
}

// Complete toggles a pin's completion and refreshes.
func (w *Widget) Complete(ctx context.Context, id int, done bool) error {
	if err := w.api.CompletePin(ctx, id, done); err != nil {
		return err
	}
	return w.Refresh(ctx)
}

// DeletePin removes a pin. With the inbox open the selection moves to the
// next remaining pin.
func (w *Widget) DeletePin(ctx context.Context, id int) error {
	if err := w.api.DeletePin(ctx, id); err != nil {
		return err
	}

	if w.store.CurrentMode() == state.ModeShowInbox {
		w.mu.Lock()
		pins, query := w.pins, w.query
		w.mu.Unlock()
		if !w.nav.Other(pins, query, id) {
			w.store.Reset()
		}
	} else if w.store.ActiveID() == id {
		w.store.SetActiveLocked(0, false)
	}
	return w.Refresh(ctx)
}

// Reply adds a comment under a pin and refreshes the reply counts.
func (w *Widget) Reply(ctx context.Context, pinID int, text string, attachments []client.Upload) (int, error) {
	id, err := w.api.CreateComment(ctx, pinID, text, attachments)
	if err != nil {
		return 0, err
	}
	if err := w.Refresh(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("widget: refresh after reply")
	}
	return id, nil
}

// Replies lists a pin's thread, root excluded.
func (w *Widget) Replies(ctx context.Context, pinID int) ([]client.Comment, error) {
	return w.api.ListComments(ctx, pinID)
}

// EditReply rewrites one of the user's comments.
func (w *Widget) EditReply(ctx context.Context, commentID int, text string) error {
	return w.api.UpdateComment(ctx, commentID, text)
}

// DeleteReply removes one of the user's comments.
func (w *Widget) DeleteReply(ctx context.Context, commentID int) error {
	if err := w.api.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	return w.Refresh(ctx)
}

// Next and Prev step the inbox selection.
func (w *Widget) Next() {
	defer w.recoverHandler("Next")
	w.mu.Lock()
	pins, query := w.pins, w.query
	w.mu.Unlock()
	w.nav.Next(pins, query)
}

func (w *Widget) Prev() {
	defer w.recoverHandler("Prev")
	w.mu.Lock()
	pins, query := w.pins, w.query
	w.mu.Unlock()
	w.nav.Prev(pins, query)
}

// VisiblePins returns the pins to render right now: inbox-visible pins
// whose capture width falls in the current breakpoint range.
func (w *Widget) VisiblePins() []client.Pin {
	w.mu.Lock()
	pins, query, rng := w.pins, w.query, w.rng
	w.mu.Unlock()

	visible := w.nav.Visible(pins, query)
	out := visible[:0]
	for _, pin := range visible {
		if rng.Contains(pin.W) {
			out = append(out, pin)
		}
	}
	return out
}

// RenderStates maps each visible pin to its render state, for the host
// renderer to consume in one pass.
func (w *Widget) RenderStates() map[int]state.RenderState {
	s := w.store.Snapshot()
	out := make(map[int]state.RenderState)
	for _, pin := range w.VisiblePins() {
		out[pin.ID] = state.Decide(s, state.PinInfo{ID: pin.ID, Completed: pin.CompletedAt != nil})
	}
	return out
}

// CatcherMounted reports whether the click-outside catcher should exist.
func (w *Widget) CatcherMounted() bool {
	pins := w.VisiblePins()
	infos := make([]state.PinInfo, len(pins))
	for i, pin := range pins {
		infos[i] = state.PinInfo{ID: pin.ID, Completed: pin.CompletedAt != nil}
	}
	return state.CatcherMounted(w.store.Snapshot(), infos)
}

// Positions resolves every visible pin to a document position.
func (w *Widget) Positions() map[int]dom.Point {
	out := make(map[int]dom.Point)
	for _, pin := range w.VisiblePins() {
		if p, ok := anchor.Resolve(w.vp, pin.Anchor); ok {
			out[pin.ID] = p
		}
	}
	return out
}

// DraftPosition resolves the in-progress draft anchor, if any.
func (w *Widget) DraftPosition() (dom.Point, bool) {
	draft := w.store.Draft()
	if draft == nil {
		return dom.Point{}, false
	}
	return anchor.Resolve(w.vp, *draft)
}

// Mode exposes the current widget mode.
func (w *Widget) Mode() state.Mode { return w.store.CurrentMode() }

// Draft exposes the current draft anchor, nil when none.
func (w *Widget) Draft() *anchor.Anchor { return w.store.Draft() }

// recoverHandler keeps event handlers from crashing the host page. State
// may be stale after a recovered panic; the next event re-derives it.
func (w *Widget) recoverHandler(name string) {
	if r := recover(); r != nil {
		w.logger.Error().Interface("panic", r).Str("handler", name).Msg("widget: handler recovered")
	}
}
