// Package selection turns a range of rendered fragments into a selection,
// debounces selection changes and positions the colour toolbar.
package selection

import (
	"strings"
	"sync"
	"time"

	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/textindex"
)

// Debounce is how long a selection must stay unchanged before the toolbar is
// shown for it.
const Debounce = 80 * time.Millisecond

type Selection struct {
	Page   int
	Text   string
	Bounds geom.Rect
	// First and Last are the inclusive fragment indices the selection covers.
	First int
	Last  int
}

func (s Selection) Empty() bool { return strings.TrimSpace(s.Text) == "" }

// FromFragments builds the selection covering frags[first..last]. The
// indices may be given in either order. ok is false when the range is out of
// bounds or contains no text.
func FromFragments(page int, frags []textindex.Fragment, first, last int) (Selection, bool) {
	if first > last {
		first, last = last, first
	}
	if first < 0 || last >= len(frags) {
		return Selection{}, false
	}
	var bounds geom.Rect
	for _, f := range frags[first : last+1] {
		bounds = bounds.Union(f.Rect())
	}
	text := strings.Join(strings.Fields(textindex.Join(frags[first:last+1])), " ")
	if text == "" {
		return Selection{}, false
	}
	return Selection{Page: page, Text: text, Bounds: bounds, First: first, Last: last}, true
}

// Capture tracks the live selection. Change records a pending selection and
// Settle publishes it if nothing changed in between.
type Capture struct {
	mu       sync.Mutex
	seq      uint64
	pending  Selection
	current  Selection
	hasValue bool
}

// Change records sel as pending and returns the token to settle it with.
func (c *Capture) Change(sel Selection) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.pending = sel
	c.hasValue = false
	return c.seq
}

// Settle publishes the pending selection if seq is still the latest change.
func (c *Capture) Settle(seq uint64) (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || c.pending.Empty() {
		return Selection{}, false
	}
	c.current = c.pending
	c.hasValue = true
	return c.current, true
}

// Current returns the settled selection synchronously.
func (c *Capture) Current() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasValue
}

func (c *Capture) Clear() {
	c.mu.Lock()
	c.seq++
	c.pending = Selection{}
	c.current = Selection{}
	c.hasValue = false
	c.mu.Unlock()
}

const (
	// ToolbarMargin keeps the toolbar off the screen edge.
	ToolbarMargin = 4
	// ToolbarGap separates the toolbar from the selection.
	ToolbarGap = 8
)

// PlaceToolbar returns the top-left corner for a toolbar of the given size:
// centred over the selection, above it when it fits and below otherwise,
// always clamped inside screen.
func PlaceToolbar(sel geom.Rect, toolbar, screen geom.Size) geom.Point {
	x := sel.X + sel.W/2 - toolbar.W/2
	x = clamp(x, ToolbarMargin, screen.W-toolbar.W-ToolbarMargin)

	y := sel.Y - toolbar.H - ToolbarGap
	if y < ToolbarMargin {
		y = sel.Bottom() + ToolbarGap
	}
	y = clamp(y, ToolbarMargin, screen.H-toolbar.H-ToolbarMargin)
	return geom.Point{X: x, Y: y}
}

// clamp prefers lo when the range is inverted.
func clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
