// Package capture turns a page click into a durable anchor: a
// shortest-unique CSS selector for the clicked element plus normalized
// offsets, recorded while the widget is in add-comment mode.
package capture

import (
	"fmt"
	"strings"

	"pinboard/widget/anchor"
	"pinboard/widget/dom"
)

// DefaultMinSegments is the minimum number of path segments a selector must
// carry before a unique match is accepted. Short single-tag paths match
// today and break tomorrow; requiring a few levels of context makes the
// anchor survive unrelated DOM edits.
const DefaultMinSegments = 4

// DefaultPrefix marks the widget's own DOM. Clicks inside it are ignored;
// the widget must never let a user annotate itself.
const DefaultPrefix = "__pinboard"

// Click is a page click in document coordinates (scroll included), plus the
// event target.
type Click struct {
	PageX  float64
	PageY  float64
	Target dom.Element
}

// Capturer computes anchors from clicks.
type Capturer struct {
	vp          dom.Viewport
	minSegments int
	prefix      string
}

// New creates a capturer. Zero minSegments and empty prefix take the
// defaults.
func New(vp dom.Viewport, minSegments int, prefix string) *Capturer {
	if minSegments <= 0 {
		minSegments = DefaultMinSegments
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Capturer{vp: vp, minSegments: minSegments, prefix: prefix}
}

// Capture computes the anchor for a click. It returns false when the click
// must be ignored: viewport not measured yet, or the click landed on the
// widget's own DOM.
func (c *Capturer) Capture(click Click) (anchor.Anchor, bool) {
	size, ok := c.vp.Size()
	if !ok {
		return anchor.Anchor{}, false
	}

	path, ok := c.selectorFor(click.Target)
	if !ok {
		return anchor.Anchor{}, false
	}

	a := anchor.Anchor{
		Path:  path,
		W:     size.W,
		NormX: click.PageX / size.W,
		NormY: click.PageY / size.H,
	}

	if path != "" {
		if el := c.vp.Query(path); el != nil {
			scrollX, scrollY := c.vp.Scroll()
			r := el.Rect()
			if r.Width > 0 && r.Height > 0 {
				a.RelX = (click.PageX - scrollX - r.Left) / r.Width
				a.RelY = (click.PageY - scrollY - r.Top) / r.Height
			}
		}
	}

	return a, true
}

// selectorFor runs the shortest-unique-path search: starting from the
// target, grow the path one ancestor at a time and accept the first selector
// that matches exactly one element. Uniqueness alone is not enough below
// minSegments unless the deepest added segment carries an id. A second pass
// disambiguates with :nth-child.
func (c *Capturer) selectorFor(target dom.Element) (string, bool) {
	if target == nil {
		return "", true
	}

	var chain []dom.Element
	for el := target; el != nil; el = el.Parent() {
		if c.ownedByWidget(el) {
			return "", false
		}
		chain = append(chain, el)
	}

	for n := 1; n <= len(chain); n++ {
		sel := joinPath(chain[:n], false)
		if c.vp.Count(sel) != 1 {
			continue
		}
		if n >= c.minSegments || n == len(chain) || chain[n-1].ID() != "" {
			return sel, true
		}
	}

	for n := 1; n <= len(chain); n++ {
		sel := joinPath(chain[:n], true)
		if c.vp.Count(sel) == 1 {
			return sel, true
		}
	}

	return joinPath(chain, true), true
}

func (c *Capturer) ownedByWidget(el dom.Element) bool {
	if strings.Contains(el.ID(), c.prefix) {
		return true
	}
	for _, class := range el.Classes() {
		if strings.Contains(class, c.prefix) {
			return true
		}
	}
	return false
}

// joinPath renders chain[0..n) (target first) as an ancestor-to-target
// child combinator path.
func joinPath(chain []dom.Element, nth bool) string {
	segments := make([]string, len(chain))
	for i, el := range chain {
		segments[len(chain)-1-i] = segment(el, nth)
	}
	return strings.Join(segments, " > ")
}

func segment(el dom.Element, nth bool) string {
	if id := el.ID(); id != "" {
		return "#" + id
	}
	s := el.Tag()
	for _, class := range el.Classes() {
		s += "." + class
	}
	if nth {
		s += fmt.Sprintf(":nth-child(%d)", el.SiblingIndex())
	}
	return s
}
