// Package anchor holds the serializable pin position and the geometry
// resolver that turns it back into a document coordinate.
package anchor

import (
	"pinboard/widget/dom"
)

// Anchor describes where a pin is attached. Path is a CSS selector for the
// ancestor element; when it is empty, or no longer resolves, the pin degrades
// to the viewport-normalized NormX/NormY position instead of disappearing.
// W is the viewport width at capture time and partitions pins across
// breakpoints.
type Anchor struct {
	Path  string  `json:"path"`
	W     float64 `json:"w"`
	NormX float64 `json:"normX"`
	NormY float64 `json:"normY"`
	RelX  float64 `json:"relX"`
	RelY  float64 `json:"relY"`
}

// Resolve computes the document-relative position for an anchor. It returns
// false only while the viewport size is not yet known.
//
// Resolution order: a non-empty Path that matches a visible element wins, and
// the position is the element's box scaled by RelX/RelY plus the current
// scroll offsets. A missing or hidden match falls back to the
// viewport-normalized position.
func Resolve(vp dom.Viewport, a Anchor) (dom.Point, bool) {
	size, ok := vp.Size()
	if !ok {
		return dom.Point{}, false
	}

	p := dom.Point{Top: a.NormY * size.H, Left: a.NormX * size.W}
	if a.Path == "" {
		return p, true
	}

	el := vp.Query(a.Path)
	if el == nil || el.Hidden() {
		return p, true
	}

	scrollX, scrollY := vp.Scroll()
	r := el.Rect()
	p.Top = scrollY + r.Top + r.Height*a.RelY
	p.Left = scrollX + r.Left + r.Width*a.RelX
	return p, true
}
