// Package render drives page rendering: it fits each page to the container,
// rasterises it, rebuilds the page's text fragments and, once layout has
// settled, repaints the page's highlights.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/csheth/lumiread/internal/anchor"
	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/textindex"
	"github.com/csheth/lumiread/internal/viewport"
)

// LayoutSettleDelay separates the text layer commit from the highlight
// repaint of a page.
const LayoutSettleDelay = 300 * time.Millisecond

// maxSurfaces bounds how many rasterised pages are retained.
const maxSurfaces = 16

var (
	ErrPageFailed = errors.New("render: page failed")
	ErrNoDocument = errors.New("render: no document attached")
)

type State int

const (
	Unrendered State = iota
	Rendering
	Rendered
)

func (s State) String() string {
	switch s {
	case Rendering:
		return "rendering"
	case Rendered:
		return "rendered"
	default:
		return "unrendered"
	}
}

type Mode int

const (
	// Paged shows one page at a time.
	Paged Mode = iota
	// Continuous lays every page out in one scroll.
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "paged"
}

type Config struct {
	// DPR is the device pixel ratio; zero means 1.
	DPR float64
	// SettleDelay overrides LayoutSettleDelay when positive.
	SettleDelay time.Duration
	// Container measures the reader's container, before padding.
	Container func() geom.Size
	// Policy reports the current zoom policy.
	Policy func() viewport.Policy

	Index  *textindex.Index
	Texts  *textindex.TextCache
	Engine *anchor.Engine
	Logger *slog.Logger
}

// Surface is the last committed raster of a page.
type Surface struct {
	Page     int
	Viewport viewport.Viewport
	Image    *image.RGBA
}

type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	docID    string
	doc      document.Document
	gen      uint64
	states   map[int]State
	surfaces map[int]Surface
	recent   []int
	base     context.Context
	cancel   context.CancelFunc

	prefetch sync.WaitGroup
}

func New(cfg Config) *Pipeline {
	if cfg.DPR <= 0 {
		cfg.DPR = 1
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = LayoutSettleDelay
	}
	if cfg.Index == nil {
		cfg.Index = textindex.NewIndex()
	}
	if cfg.Texts == nil {
		cfg.Texts = textindex.NewTextCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine == nil {
		cfg.Engine = anchor.NewEngine(cfg.Index, anchor.NewLayer(), cfg.Logger)
	}
	if cfg.Container == nil {
		cfg.Container = func() geom.Size { return geom.Size{} }
	}
	if cfg.Policy == nil {
		cfg.Policy = viewport.DefaultPolicy
	}
	base, cancel := context.WithCancel(context.Background())
	cancel()
	return &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger,
		states:   map[int]State{},
		surfaces: map[int]Surface{},
		base:     base,
		cancel:   cancel,
	}
}

func (p *Pipeline) Index() *textindex.Index { return p.cfg.Index }

func (p *Pipeline) Engine() *anchor.Engine { return p.cfg.Engine }

func (p *Pipeline) Texts() *textindex.TextCache { return p.cfg.Texts }

// Attach binds a document. Any render still running for the previous
// document is discarded when it completes.
func (p *Pipeline) Attach(docID string, doc document.Document) {
	p.mu.Lock()
	p.cancel()
	p.base, p.cancel = context.WithCancel(context.Background())
	p.gen++
	p.docID = docID
	p.doc = doc
	p.states = map[int]State{}
	p.surfaces = map[int]Surface{}
	p.recent = nil
	p.mu.Unlock()
	p.cfg.Index.Reset()
	p.cfg.Engine.Layer().Reset()
	p.logger.Info("document attached", "document", docID, "pages", doc.PageCount())
}

// Detach unbinds the document and cancels background renders.
func (p *Pipeline) Detach() {
	p.mu.Lock()
	p.cancel()
	p.gen++
	docID := p.docID
	p.docID = ""
	p.doc = nil
	p.states = map[int]State{}
	p.surfaces = map[int]Surface{}
	p.recent = nil
	p.mu.Unlock()
	p.cfg.Index.Reset()
	p.cfg.Engine.Layer().Reset()
	if docID != "" {
		p.logger.Info("document detached", "document", docID)
	}
}

func (p *Pipeline) DocumentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docID
}

func (p *Pipeline) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return 0
	}
	return p.doc.PageCount()
}

func (p *Pipeline) State(page int) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[page]
}

// Generation increases on every attach, detach and rerender.
func (p *Pipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// View returns the committed surface of a page.
func (p *Pipeline) View(page int) (Surface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.surfaces[page]
	return s, ok
}

type renderKey struct {
	docID string
	gen   uint64
}

// currentLocked reports whether key still names the live render. p.mu must
// be held.
func (p *Pipeline) currentLocked(k renderKey) bool {
	return p.doc != nil && p.docID == k.docID && p.gen == k.gen
}

// RenderPage renders one page if it is not already rendered or rendering.
func (p *Pipeline) RenderPage(ctx context.Context, page int) error {
	return p.render(ctx, page, true)
}

func (p *Pipeline) render(ctx context.Context, page int, settle bool) error {
	p.mu.Lock()
	if p.doc == nil {
		p.mu.Unlock()
		return ErrNoDocument
	}
	if page < 1 || page > p.doc.PageCount() {
		p.mu.Unlock()
		return fmt.Errorf("%w: page %d out of range", ErrPageFailed, page)
	}
	if p.states[page] != Unrendered {
		p.mu.Unlock()
		return nil
	}
	p.states[page] = Rendering
	key := renderKey{docID: p.docID, gen: p.gen}
	doc := p.doc
	p.mu.Unlock()

	logCtx := p.logger.With("document", key.docID, "page", page, "generation", key.gen)
	start := time.Now()

	fail := func(stage string, err error) error {
		p.mu.Lock()
		if p.currentLocked(key) {
			p.states[page] = Unrendered
		}
		p.mu.Unlock()
		logCtx.Warn("page render failed", "stage", stage, "error", err)
		return fmt.Errorf("%w: page %d %s: %v", ErrPageFailed, page, stage, err)
	}

	pg, err := doc.Page(page)
	if err != nil {
		return fail("resolve", err)
	}
	container := viewport.Available(p.cfg.Container())
	vp := viewport.Compute(pg.Size(), container, p.cfg.Policy())
	img, err := pg.Render(ctx, vp, p.cfg.DPR)
	if err != nil {
		return fail("rasterise", err)
	}
	items, err := pg.ExtractText(ctx)
	if err != nil {
		return fail("extract", err)
	}
	frags := textindex.Layout(items, vp)

	p.mu.Lock()
	if !p.currentLocked(key) {
		p.mu.Unlock()
		logCtx.Debug("stale render dropped")
		return nil
	}
	p.cfg.Index.Replace(page, frags)
	p.cfg.Texts.Set(key.docID, page, textindex.PlainText(items))
	p.storeSurfaceLocked(Surface{Page: page, Viewport: vp, Image: img})
	if !settle {
		p.states[page] = Rendered
		p.mu.Unlock()
		logCtx.Debug("page rendered", "scale", vp.Scale, "fragments", len(frags), "duration", time.Since(start))
		return nil
	}
	p.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return fail("settle", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.currentLocked(key) {
		logCtx.Debug("stale render dropped after settle")
		return nil
	}
	painted := p.cfg.Engine.RepaintPage(page)
	p.states[page] = Rendered
	logCtx.Debug("page rendered", "scale", vp.Scale, "fragments", len(frags), "highlights", painted, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) storeSurfaceLocked(s Surface) {
	p.surfaces[s.Page] = s
	kept := p.recent[:0]
	for _, n := range p.recent {
		if n != s.Page {
			kept = append(kept, n)
		}
	}
	p.recent = append(kept, s.Page)
	for len(p.recent) > maxSurfaces {
		delete(p.surfaces, p.recent[0])
		p.recent = p.recent[1:]
	}
}

func (p *Pipeline) wait(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Show renders page and starts background renders of its neighbours.
func (p *Pipeline) Show(ctx context.Context, page int) error {
	err := p.RenderPage(ctx, page)
	p.Prefetch(page - 1)
	p.Prefetch(page + 1)
	return err
}

// Prefetch renders page in the background. Failures are only logged.
func (p *Pipeline) Prefetch(page int) {
	p.mu.Lock()
	if p.doc == nil || page < 1 || page > p.doc.PageCount() || p.states[page] != Unrendered {
		p.mu.Unlock()
		return
	}
	ctx := p.base
	p.mu.Unlock()

	p.prefetch.Add(1)
	go func() {
		defer p.prefetch.Done()
		if err := p.RenderPage(ctx, page); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("prefetch failed", "page", page, "error", err)
		}
	}()
}

// WaitPrefetch blocks until background renders have finished.
func (p *Pipeline) WaitPrefetch() {
	p.prefetch.Wait()
}

// Rerender discards every render and rebuilds the document's layout for the
// current viewport: the visible page in paged mode, every page in continuous
// mode. All highlights are repainted afterwards.
func (p *Pipeline) Rerender(ctx context.Context, visible int, mode Mode) error {
	p.mu.Lock()
	if p.doc == nil {
		p.mu.Unlock()
		return ErrNoDocument
	}
	p.gen++
	p.states = map[int]State{}
	p.surfaces = map[int]Surface{}
	p.recent = nil
	count := p.doc.PageCount()
	p.mu.Unlock()
	p.cfg.Index.Reset()
	p.cfg.Engine.Layer().Reset()

	var firstErr error
	if mode == Continuous {
		for page := 1; page <= count; page++ {
			if err := p.render(ctx, page, false); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
	} else {
		firstErr = p.Show(ctx, visible)
	}
	p.cfg.Engine.RepaintAll()
	return firstErr
}

// PageText returns the plain text of a page, extracting it without
// rasterising when it has not been rendered yet.
func (p *Pipeline) PageText(ctx context.Context, page int) (string, error) {
	p.mu.Lock()
	docID, doc := p.docID, p.doc
	p.mu.Unlock()
	if doc == nil {
		return "", ErrNoDocument
	}
	if text, ok := p.cfg.Texts.Get(docID, page); ok {
		return text, nil
	}
	pg, err := doc.Page(page)
	if err != nil {
		return "", err
	}
	items, err := pg.ExtractText(ctx)
	if err != nil {
		return "", err
	}
	text := textindex.PlainText(items)
	p.cfg.Texts.Set(docID, page, text)
	return text, nil
}
