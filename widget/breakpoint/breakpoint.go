// Package breakpoint partitions viewport widths into the disjoint ranges
// that decide which pins are visible on the current device.
package breakpoint

import (
	"sort"
	"sync"
	"time"
)

// Range is a width bucket with inclusive bounds. End == 0 means unbounded
// above. The zero Range means no partitioning is active.
type Range struct {
	Start float64
	End   float64
}

// RangeFor classifies a width against an ascending breakpoint list.
//
// Widths at or below the smallest breakpoint get {0, width}: the bucket is
// keyed by the exact device width, so pins authored on one narrow device are
// not shown on a different narrow device unless they share a breakpoint
// range. That is deliberate, not a collapsing bug.
func RangeFor(width float64, breakpoints []float64) Range {
	if len(breakpoints) == 0 || width <= 0 {
		return Range{}
	}
	sorted := make([]float64, len(breakpoints))
	copy(sorted, breakpoints)
	sort.Float64s(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		if width > sorted[i] {
			r := Range{Start: sorted[i]}
			if i+1 < len(sorted) {
				r.End = sorted[i+1]
			}
			return r
		}
	}
	return Range{Start: 0, End: width}
}

// Contains reports whether a pin captured at width w belongs to the range.
// The zero Range admits everything.
func (r Range) Contains(w float64) bool {
	if r.Start == 0 && r.End == 0 {
		return true
	}
	if r.Start == 0 {
		return w <= r.End
	}
	if r.End == 0 {
		return w >= r.Start
	}
	return w >= r.Start && w <= r.End
}

// Watcher debounces resize events and reports the resulting range. The
// callback always sees the latest width observed before the timer fired,
// not the one that scheduled it.
type Watcher struct {
	mu          sync.Mutex
	breakpoints []float64
	delay       time.Duration
	timer       *time.Timer
	width       float64
	onChange    func(Range)
}

// NewWatcher creates a watcher with the given debounce delay. A zero delay
// defaults to 100ms.
func NewWatcher(breakpoints []float64, delay time.Duration, onChange func(Range)) *Watcher {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Watcher{breakpoints: breakpoints, delay: delay, onChange: onChange}
}

// Resize records a new viewport width and (re)arms the debounce timer.
func (w *Watcher) Resize(width float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width = width
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	width := w.width
	w.mu.Unlock()
	w.onChange(RangeFor(width, w.breakpoints))
}

// Stop cancels any pending recomputation.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
