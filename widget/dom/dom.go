// Package dom defines the capability surface the widget engine needs from a
// host page. The engine never touches a real DOM directly; it talks to a
// Viewport, which makes the geometry and capture code testable with the fake
// in domtest and runnable against headless Chrome via the cdp subpackage.
package dom

// Size is the viewport size in CSS pixels.
type Size struct {
	W float64
	H float64
}

// Point is a document-relative position (scroll offsets already applied).
type Point struct {
	Top  float64
	Left float64
}

// Rect is a viewport-relative bounding box, as reported by
// getBoundingClientRect.
type Rect struct {
	Top    float64
	Left   float64
	Width  float64
	Height float64
}

// Element exposes the facts the engine reads about a matched node.
type Element interface {
	// Rect returns the viewport-relative bounding box.
	Rect() Rect
	// Hidden reports whether the computed style is display:none or
	// visibility:hidden.
	Hidden() bool

	Tag() string
	ID() string
	Classes() []string
	// Parent returns nil for the document root.
	Parent() Element
	// SiblingIndex is the 1-based position among element siblings, the
	// value :nth-child selects on.
	SiblingIndex() int
}

// Viewport is the host-page capability interface.
type Viewport interface {
	// Size returns false until the viewport has been measured at least
	// once. Pins are not rendered before that.
	Size() (Size, bool)
	// Scroll returns the current scroll offsets. Read at resolution time,
	// never cached.
	Scroll() (x, y float64)
	// Query returns the first match for a CSS selector, or nil.
	Query(selector string) Element
	// Count returns the number of matches for a CSS selector.
	Count(selector string) int
	// ScrollIntoView smooth-scrolls the first match into the center of the
	// viewport. A miss is not an error.
	ScrollIntoView(selector string)
}
