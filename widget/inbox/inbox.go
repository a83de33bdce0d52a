// Package inbox orders and walks the pin collection as a navigable list:
// newest first, with next/previous stepping and scroll-to-pin side effects.
package inbox

import (
	"fmt"
	"sort"
	"strings"

	"pinboard/widget/client"
	"pinboard/widget/dom"
	"pinboard/widget/state"
)

// PinSelector is the DOM id the widget renders each pin marker under. The
// navigator scrolls to it; capture ignores it via the shared prefix.
func PinSelector(id int) string {
	return fmt.Sprintf("#__pinboard-pin-%d", id)
}

// Navigator steps through the visible pins of a page. Selection activates a
// pin without locking it; locking stays a click gesture.
type Navigator struct {
	store    *state.Store
	vp       dom.Viewport
	schedule func(func())
}

// New builds a navigator. schedule defers scroll side effects until after the
// current event settles; nil runs them inline.
func New(store *state.Store, vp dom.Viewport, schedule func(func())) *Navigator {
	if schedule == nil {
		schedule = func(f func()) { f() }
	}
	return &Navigator{store: store, vp: vp, schedule: schedule}
}

// Visible filters and orders pins for display: id descending (creation ids
// are monotonic, so newest first), completed pins only while the inbox is
// open, and an optional free-text query over root comment text and author
// name.
func (n *Navigator) Visible(pins []client.Pin, query string) []client.Pin {
	inboxOpen := n.store.CurrentMode() == state.ModeShowInbox
	queryTokens := tokenize(query)

	out := make([]client.Pin, 0, len(pins))
	for _, pin := range pins {
		if pin.CompletedAt != nil && !inboxOpen {
			continue
		}
		if len(queryTokens) > 0 && !matches(queryTokens, searchText(pin)) {
			continue
		}
		out = append(out, pin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Select activates a pin and scrolls its marker into view.
func (n *Navigator) Select(id int) {
	n.store.SetActive(id)
	n.schedule(func() { n.vp.ScrollIntoView(PinSelector(id)) })
}

// Next selects the pin after the active one in visible order, wrapping to
// the first. With no active pin it selects the first.
func (n *Navigator) Next(pins []client.Pin, query string) {
	n.step(pins, query, 1)
}

// Prev selects the pin before the active one, wrapping to the last.
func (n *Navigator) Prev(pins []client.Pin, query string) {
	n.step(pins, query, -1)
}

// First selects the newest visible pin, if any.
func (n *Navigator) First(pins []client.Pin, query string) {
	visible := n.Visible(pins, query)
	if len(visible) > 0 {
		n.Select(visible[0].ID)
	}
}

// Other selects the first visible pin that is not excludeID, for keeping the
// inbox focused after a deletion. Returns false when nothing else is left.
func (n *Navigator) Other(pins []client.Pin, query string, excludeID int) bool {
	for _, pin := range n.Visible(pins, query) {
		if pin.ID != excludeID {
			n.Select(pin.ID)
			return true
		}
	}
	return false
}

func (n *Navigator) step(pins []client.Pin, query string, offset int) {
	visible := n.Visible(pins, query)
	if len(visible) == 0 {
		return
	}

	active := n.store.ActiveID()
	index := -1
	for i, pin := range visible {
		if pin.ID == active {
			index = i
			break
		}
	}
	if index < 0 {
		n.Select(visible[0].ID)
		return
	}

	index = (index + offset + len(visible)) % len(visible)
	n.Select(visible[index].ID)
}

func searchText(pin client.Pin) string {
	var parts []string
	if pin.Comment != nil {
		parts = append(parts, pin.Comment.Text)
	}
	if pin.User != nil {
		parts = append(parts, pin.User.Name)
	}
	return strings.Join(parts, " ")
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// matches reports whether any query token is a substring of any token of the
// target text. Loose on purpose: the inbox filter is a narrowing aid, not a
// search engine.
func matches(queryTokens []string, text string) bool {
	targetTokens := tokenize(text)
	for _, q := range queryTokens {
		for _, target := range targetTokens {
			if strings.Contains(target, q) {
				return true
			}
		}
	}
	return false
}
