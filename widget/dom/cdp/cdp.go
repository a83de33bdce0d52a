// Package cdp implements dom.Viewport against a real page in headless
// Chrome, over the Chrome DevTools Protocol. It exists for integration
// harnesses and manual verification; the engine itself only depends on the
// dom interfaces.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"pinboard/widget/dom"
)

// Viewport drives a single chromedp tab. All reads are synchronous protocol
// round-trips; failures degrade to "no match" rather than surfacing errors,
// since the engine treats resolution misses as a defined fallback.
type Viewport struct {
	ctx    context.Context
	logger zerolog.Logger
}

// New wraps an existing chromedp context. The caller owns the context's
// lifecycle.
func New(ctx context.Context, logger zerolog.Logger) *Viewport {
	return &Viewport{ctx: ctx, logger: logger}
}

// NewBrowser allocates a fresh headless browser, navigates to url, and
// returns a viewport plus a cancel function for the whole allocation.
func NewBrowser(parent context.Context, url string, logger zerolog.Logger) (*Viewport, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	if err := chromedp.Run(tabCtx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("cdp: navigate %s: %w", url, err)
	}
	return New(tabCtx, logger), cancel, nil
}

type nodeSnapshot struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
	Index   int      `json:"index"`
	Hidden  bool     `json:"hidden"`
	Rect    dom.Rect `json:"rect"`
}

// element is an immutable snapshot of a matched node and its ancestor chain,
// taken in one protocol round-trip.
type element struct {
	chain []nodeSnapshot
	depth int
}

func (e *element) Rect() dom.Rect { return e.chain[e.depth].Rect }
func (e *element) Hidden() bool { return e.chain[e.depth].Hidden }
func (e *element) Tag() string { return e.chain[e.depth].Tag }
func (e *element) ID() string { return e.chain[e.depth].ID }
func (e *element) Classes() []string { return e.chain[e.depth].Classes }
func (e *element) SiblingIndex() int { return e.chain[e.depth].Index }

func (e *element) Parent() dom.Element {
	if e.depth+1 >= len(e.chain) {
		return nil
	}
	return &element{chain: e.chain, depth: e.depth + 1}
}

func (v *Viewport) Size() (dom.Size, bool) {
	var size dom.Size
	err := chromedp.Run(v.ctx, chromedp.Evaluate(
		`({W: window.outerWidth || window.innerWidth, H: window.outerHeight || window.innerHeight})`, &size))
	if err != nil {
		v.logger.Error().Err(err).Msg("cdp.Size")
		return dom.Size{}, false
	}
	return size, size.W > 0 && size.H > 0
}

func (v *Viewport) Scroll() (float64, float64) {
	var offsets struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	err := chromedp.Run(v.ctx, chromedp.Evaluate(`({x: window.scrollX, y: window.scrollY})`, &offsets))
	if err != nil {
		v.logger.Error().Err(err).Msg("cdp.Scroll")
		return 0, 0
	}
	return offsets.X, offsets.Y
}

func (v *Viewport) Query(selector string) dom.Element {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return [];
		const chain = [];
		for (let node = el; node && node.nodeType === 1; node = node.parentElement) {
			const cs = window.getComputedStyle(node);
			const r = node.getBoundingClientRect();
			let index = 1;
			for (let s = node; (s = s.previousElementSibling); ) index++;
			chain.push({
				tag: node.tagName.toLowerCase(),
				id: node.id,
				classes: Array.from(node.classList),
				index: index,
				hidden: cs.display === 'none' || cs.visibility === 'hidden',
				rect: {Top: r.top, Left: r.left, Width: r.width, Height: r.height},
			});
		}
		return chain;
	})()`, jsString(selector))

	var chain []nodeSnapshot
	if err := chromedp.Run(v.ctx, chromedp.Evaluate(script, &chain)); err != nil {
		v.logger.Debug().Err(err).Str("selector", selector).Msg("cdp.Query")
		return nil
	}
	if len(chain) == 0 {
		return nil
	}
	return &element{chain: chain}
}

func (v *Viewport) Count(selector string) int {
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	var count int
	if err := chromedp.Run(v.ctx, chromedp.Evaluate(script, &count)); err != nil {
		v.logger.Debug().Err(err).Str("selector", selector).Msg("cdp.Count")
		return 0
	}
	return count
}

func (v *Viewport) ScrollIntoView(selector string) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (el) el.scrollIntoView({behavior: 'smooth', block: 'center', inline: 'center'});
		return true;
	})()`, jsString(selector))

	var ignored bool
	if err := chromedp.Run(v.ctx, chromedp.Evaluate(script, &ignored)); err != nil {
		v.logger.Debug().Err(err).Str("selector", selector).Msg("cdp.ScrollIntoView")
	}
}

// Resize overrides the emulated viewport size. Handy for walking a page
// through breakpoint ranges.
func (v *Viewport) Resize(width, height int64) error {
	return chromedp.Run(v.ctx, emulation.SetDeviceMetricsOverride(width, height, 1, false))
}

// jsString embeds a Go string as a JS string literal. Selectors come from
// user pages; never splice them in raw.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
