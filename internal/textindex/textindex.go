// Package textindex keeps the positioned text fragments of every rendered
// page and a plain-text cache used by search and speech.
package textindex

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/viewport"
)

// MinFontSize drops runs too small to select or paint.
const MinFontSize = 1.0

// Fragment is one positioned text run in page-pixel space. Y is the top of
// the glyph box.
type Fragment struct {
	Text     string
	X        float64
	Y        float64
	FontSize float64
	Width    float64
}

func (f Fragment) Rect() geom.Rect {
	return geom.Rect{X: f.X, Y: f.Y, W: f.Width, H: f.FontSize}
}

// Layout positions decoder runs for a viewport.
func Layout(items []document.TextItem, vp viewport.Viewport) []Fragment {
	m := vp.Transform()
	frags := make([]Fragment, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.S) == "" {
			continue
		}
		tx := document.Multiply(m, it.Matrix)
		size := math.Hypot(tx[2], tx[3])
		if size < MinFontSize {
			continue
		}
		frags = append(frags, Fragment{
			Text:     it.S,
			X:        tx[4],
			Y:        tx[5] - size,
			FontSize: size,
			Width:    it.Width * math.Abs(m[0]),
		})
	}
	return frags
}

// PlainText is the page text used for search: item strings joined by one
// space.
func PlainText(items []document.TextItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.S
	}
	return strings.Join(parts, " ")
}

// Join concatenates fragment text with single spaces.
func Join(frags []Fragment) string {
	var b strings.Builder
	for i, f := range frags {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Text)
	}
	return b.String()
}

// Index holds the fragments of the current render of each page. A page's
// list is only ever replaced wholesale.
type Index struct {
	mu    sync.RWMutex
	pages map[int][]Fragment
}

func NewIndex() *Index {
	return &Index{pages: make(map[int][]Fragment)}
}

func (x *Index) Replace(page int, frags []Fragment) {
	cp := make([]Fragment, len(frags))
	copy(cp, frags)
	x.mu.Lock()
	x.pages[page] = cp
	x.mu.Unlock()
}

// Fragments returns a copy of the page's fragments, or nil if the page is not
// indexed.
func (x *Index) Fragments(page int) []Fragment {
	x.mu.RLock()
	defer x.mu.RUnlock()
	frags, ok := x.pages[page]
	if !ok {
		return nil
	}
	cp := make([]Fragment, len(frags))
	copy(cp, frags)
	return cp
}

func (x *Index) Has(page int) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.pages[page]
	return ok
}

func (x *Index) Forget(page int) {
	x.mu.Lock()
	delete(x.pages, page)
	x.mu.Unlock()
}

func (x *Index) Reset() {
	x.mu.Lock()
	x.pages = make(map[int][]Fragment)
	x.mu.Unlock()
}

// Pages lists indexed pages in ascending order.
func (x *Index) Pages() []int {
	x.mu.RLock()
	out := make([]int, 0, len(x.pages))
	for p := range x.pages {
		out = append(out, p)
	}
	x.mu.RUnlock()
	sort.Ints(out)
	return out
}

// TextCache stores plain page text per document. Unlike the fragment index it
// survives re-renders.
type TextCache struct {
	mu   sync.RWMutex
	docs map[string]map[int]string
}

func NewTextCache() *TextCache {
	return &TextCache{docs: make(map[string]map[int]string)}
}

func (c *TextCache) Get(doc string, page int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.docs[doc][page]
	return text, ok
}

func (c *TextCache) Set(doc string, page int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages, ok := c.docs[doc]
	if !ok {
		pages = make(map[int]string)
		c.docs[doc] = pages
	}
	pages[page] = text
}

// Forget drops every cached page of doc.
func (c *TextCache) Forget(doc string) {
	c.mu.Lock()
	delete(c.docs, doc)
	c.mu.Unlock()
}

func (c *TextCache) Len(doc string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs[doc])
}
