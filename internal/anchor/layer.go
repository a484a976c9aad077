package anchor

import (
	"log/slog"
	"sync"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/textindex"
)

// Layer holds painted boxes per page, in paint order.
type Layer struct {
	mu    sync.RWMutex
	pages map[int][]Box
}

func NewLayer() *Layer {
	return &Layer{pages: make(map[int][]Box)}
}

func (l *Layer) Add(boxes ...Box) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range boxes {
		l.pages[b.Page] = append(l.pages[b.Page], b)
	}
}

// Remove drops every box painted for id, on any page.
func (l *Layer) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(id)
}

// Replace swaps the boxes painted for id for boxes in one step.
func (l *Layer) Replace(id string, boxes []Box) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(id)
	for _, b := range boxes {
		l.pages[b.Page] = append(l.pages[b.Page], b)
	}
}

func (l *Layer) remove(id string) {
	for page, boxes := range l.pages {
		kept := boxes[:0]
		for _, b := range boxes {
			if b.HighlightID != id {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(l.pages, page)
			continue
		}
		l.pages[page] = kept
	}
}

func (l *Layer) ClearPage(page int) {
	l.mu.Lock()
	delete(l.pages, page)
	l.mu.Unlock()
}

func (l *Layer) Reset() {
	l.mu.Lock()
	l.pages = make(map[int][]Box)
	l.mu.Unlock()
}

func (l *Layer) Boxes(page int) []Box {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Box(nil), l.pages[page]...)
}

// Count returns the number of boxes painted for id.
func (l *Layer) Count(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, boxes := range l.pages {
		for _, b := range boxes {
			if b.HighlightID == id {
				n++
			}
		}
	}
	return n
}

// Source lists stored highlights for one page in storage order.
type Source interface {
	HighlightsOn(page int) []annotations.Highlight
}

// Engine paints highlights from a Source against the current fragment index.
type Engine struct {
	index  *textindex.Index
	layer  *Layer
	logger *slog.Logger

	mu     sync.RWMutex
	source Source
}

func NewEngine(index *textindex.Index, layer *Layer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{index: index, layer: layer, logger: logger}
}

// Bind sets the highlight source of the open document. A nil source paints
// nothing.
func (e *Engine) Bind(src Source) {
	e.mu.Lock()
	e.source = src
	e.mu.Unlock()
}

func (e *Engine) Layer() *Layer { return e.layer }

// Paint draws one highlight, replacing any boxes it already had. It returns
// the number of boxes painted; zero means the text is not anchored in the
// current render.
func (e *Engine) Paint(h annotations.Highlight) int {
	boxes := Anchor(h, e.index.Fragments(h.Page))
	e.layer.Replace(h.ID, boxes)
	if len(boxes) == 0 {
		e.logger.Debug("highlight not anchored", "id", h.ID, "page", h.Page)
	}
	return len(boxes)
}

// Erase removes the boxes of a deleted highlight.
func (e *Engine) Erase(id string) { e.layer.Remove(id) }

// RepaintPage clears the page and paints every stored highlight of it.
func (e *Engine) RepaintPage(page int) int {
	e.layer.ClearPage(page)
	e.mu.RLock()
	src := e.source
	e.mu.RUnlock()
	if src == nil || !e.index.Has(page) {
		return 0
	}
	painted := 0
	for _, h := range src.HighlightsOn(page) {
		if e.Paint(h) > 0 {
			painted++
		}
	}
	return painted
}

// RepaintAll repaints every indexed page.
func (e *Engine) RepaintAll() {
	for _, page := range e.index.Pages() {
		e.RepaintPage(page)
	}
}
