// Package domtest provides a scriptable in-memory Viewport for engine tests.
package domtest

import (
	"pinboard/widget/dom"
)

// Node is a fake DOM element. Build trees by setting ParentNode and Index.
type Node struct {
	TagName    string
	NodeID     string
	ClassList  []string
	R          dom.Rect
	IsHidden   bool
	ParentNode *Node
	Index      int
}

func (n *Node) Rect() dom.Rect { return n.R }
func (n *Node) Hidden() bool { return n.IsHidden }
func (n *Node) Tag() string { return n.TagName }
func (n *Node) ID() string { return n.NodeID }
func (n *Node) Classes() []string { return n.ClassList }
func (n *Node) SiblingIndex() int { return n.Index }
func (n *Node) Parent() dom.Element {
	if n.ParentNode == nil {
		return nil
	}
	return n.ParentNode
}

// Viewport implements dom.Viewport over scripted selector tables.
type Viewport struct {
	W, H     float64
	Measured bool
	ScrollX  float64
	ScrollY  float64

	// Nodes maps selectors to the node Query returns.
	Nodes map[string]*Node
	// Counts overrides match counts per selector. Selectors present in
	// Nodes but absent here count as 1; everything else as 0.
	Counts map[string]int

	// Scrolled records every ScrollIntoView call, in order.
	Scrolled []string
}

func New(w, h float64) *Viewport {
	return &Viewport{W: w, H: h, Measured: true, Nodes: map[string]*Node{}, Counts: map[string]int{}}
}

func (v *Viewport) Size() (dom.Size, bool) {
	if !v.Measured {
		return dom.Size{}, false
	}
	return dom.Size{W: v.W, H: v.H}, true
}

func (v *Viewport) Scroll() (float64, float64) { return v.ScrollX, v.ScrollY }

func (v *Viewport) Query(selector string) dom.Element {
	n, ok := v.Nodes[selector]
	if !ok || n == nil {
		return nil
	}
	return n
}

func (v *Viewport) Count(selector string) int {
	if c, ok := v.Counts[selector]; ok {
		return c
	}
	if _, ok := v.Nodes[selector]; ok {
		return 1
	}
	return 0
}

func (v *Viewport) ScrollIntoView(selector string) {
	v.Scrolled = append(v.Scrolled, selector)
}
