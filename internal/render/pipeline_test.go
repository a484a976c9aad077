package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/csheth/lumiread/internal/anchor"
	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/viewport"
)

type fakePage struct {
	n       int
	words   []string
	fail    error
	gate    chan struct{}
	renders *atomic.Int32
}

func (p fakePage) Number() int     { return p.n }
func (p fakePage) Size() geom.Size { return geom.Size{W: 600, H: 800} }

func (p fakePage) Render(ctx context.Context, vp viewport.Viewport, dpr float64) (*image.RGBA, error) {
	if p.renders != nil {
		p.renders.Add(1)
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail != nil {
		return nil, p.fail
	}
	w, h := document.SurfaceSize(vp, dpr)
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (p fakePage) ExtractText(context.Context) ([]document.TextItem, error) {
	items := make([]document.TextItem, len(p.words))
	for i, w := range p.words {
		items[i] = document.TextItem{S: w, Matrix: [6]float64{10, 0, 0, 10, 50, 700 - float64(i)*20}, Width: 100}
	}
	return items, nil
}

type fakeDoc struct {
	pages map[int]fakePage
	count int
}

func (d *fakeDoc) PageCount() int { return d.count }

func (d *fakeDoc) Page(n int) (document.Page, error) {
	p, ok := d.pages[n]
	if !ok {
		return nil, document.ErrPage
	}
	return p, nil
}

func newDoc(count int) *fakeDoc {
	d := &fakeDoc{pages: map[int]fakePage{}, count: count}
	for n := 1; n <= count; n++ {
		d.pages[n] = fakePage{n: n, words: []string{"page", "text", "here"}}
	}
	return d
}

type highlightList []annotations.Highlight

func (l highlightList) HighlightsOn(page int) []annotations.Highlight {
	var out []annotations.Highlight
	for _, h := range l {
		if h.Page == page {
			out = append(out, h)
		}
	}
	return out
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return New(Config{
		SettleDelay: time.Millisecond,
		Container:   func() geom.Size { return geom.Size{W: 616, H: 816} },
		Policy:      viewport.DefaultPolicy,
	})
}

func TestRenderPageIndexesAndPaints(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	p.Engine().Bind(highlightList{{ID: "h1", Page: 2, Text: "text here"}})
	p.Attach("doc", newDoc(3))

	if err := p.RenderPage(context.Background(), 2); err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	if got := p.State(2); got != Rendered {
		t.Fatalf("State(2) = %v", got)
	}
	if frags := p.Index().Fragments(2); len(frags) != 3 {
		t.Fatalf("fragments = %+v", frags)
	}
	if n := p.Engine().Layer().Count("h1"); n != 2 {
		t.Fatalf("painted boxes = %d want 2", n)
	}
	surface, ok := p.View(2)
	if !ok || surface.Viewport.Scale != 1 || surface.Image.Bounds().Dx() != 600 {
		t.Fatalf("View(2) = %+v, %v", surface.Viewport, ok)
	}
	if text, ok := p.Texts().Get("doc", 2); !ok || text != "page text here" {
		t.Fatalf("cached text = %q, %v", text, ok)
	}
}

func TestRenderPageIsIdempotentWhileRendering(t *testing.T) {
	t.Parallel()

	var renders atomic.Int32
	gate := make(chan struct{})
	doc := newDoc(1)
	doc.pages[1] = fakePage{n: 1, words: []string{"x"}, gate: gate, renders: &renders}
	p := newPipeline(t)
	p.Attach("doc", doc)

	done := make(chan error, 1)
	go func() { done <- p.RenderPage(context.Background(), 1) }()
	deadline := time.Now().Add(2 * time.Second)
	for p.State(1) != Rendering && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.RenderPage(context.Background(), 1); err != nil {
		t.Fatalf("second RenderPage() error = %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	if err := p.RenderPage(context.Background(), 1); err != nil {
		t.Fatalf("third RenderPage() error = %v", err)
	}
	if n := renders.Load(); n != 1 {
		t.Fatalf("page rasterised %d times", n)
	}
}

func TestRenderFailureRollsBack(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	doc := newDoc(2)
	doc.pages[2] = fakePage{n: 2, fail: boom}
	p := newPipeline(t)
	p.Attach("doc", doc)

	err := p.RenderPage(context.Background(), 2)
	if !errors.Is(err, ErrPageFailed) {
		t.Fatalf("RenderPage() error = %v want ErrPageFailed", err)
	}
	if p.State(2) != Unrendered {
		t.Fatalf("failed page must be retryable, state %v", p.State(2))
	}
	if p.Index().Has(2) {
		t.Fatalf("failed page was indexed")
	}
	if err := p.RenderPage(context.Background(), 9); !errors.Is(err, ErrPageFailed) {
		t.Fatalf("out of range error = %v", err)
	}
}

func TestStaleRenderIsDropped(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	first := newDoc(1)
	first.pages[1] = fakePage{n: 1, words: []string{"old", "words"}, gate: gate}
	p := newPipeline(t)
	p.Attach("first", first)

	done := make(chan error, 1)
	go func() { done <- p.RenderPage(context.Background(), 1) }()
	deadline := time.Now().Add(2 * time.Second)
	for p.State(1) != Rendering && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.Attach("second", newDoc(1))
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale RenderPage() error = %v", err)
	}
	if p.Index().Has(1) {
		t.Fatalf("stale render committed fragments: %+v", p.Index().Fragments(1))
	}
	if p.State(1) != Unrendered {
		t.Fatalf("stale render changed state of new document: %v", p.State(1))
	}
	if _, ok := p.Texts().Get("first", 1); ok {
		t.Fatalf("stale render cached text")
	}
}

func TestShowPrefetchesNeighbours(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	p.Attach("doc", newDoc(5))
	if err := p.Show(context.Background(), 3); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	p.WaitPrefetch()
	for _, n := range []int{2, 3, 4} {
		if p.State(n) != Rendered {
			t.Fatalf("page %d state %v", n, p.State(n))
		}
	}
	if p.State(1) != Unrendered || p.State(5) != Unrendered {
		t.Fatalf("prefetch went too far")
	}
}

func TestRerenderRebuildsAllPagesInContinuousMode(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	p.Engine().Bind(highlightList{
		{ID: "a", Page: 1, Text: "page text"},
		{ID: "b", Page: 4, Text: "here"},
	})
	p.Attach("doc", newDoc(4))
	if err := p.Show(context.Background(), 1); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	p.WaitPrefetch()
	gen := p.Generation()

	if err := p.Rerender(context.Background(), 1, Continuous); err != nil {
		t.Fatalf("Rerender() error = %v", err)
	}
	if p.Generation() == gen {
		t.Fatalf("generation not bumped")
	}
	for n := 1; n <= 4; n++ {
		if p.State(n) != Rendered {
			t.Fatalf("page %d state %v", n, p.State(n))
		}
	}
	if p.Engine().Layer().Count("a") == 0 || p.Engine().Layer().Count("b") == 0 {
		t.Fatalf("highlights not repainted after rerender")
	}
}

func TestRerenderUsesNewScale(t *testing.T) {
	t.Parallel()

	policy := viewport.DefaultPolicy()
	var mu sync.Mutex
	p := New(Config{
		SettleDelay: time.Millisecond,
		Container:   func() geom.Size { return geom.Size{W: 616, H: 816} },
		Policy: func() viewport.Policy {
			mu.Lock()
			defer mu.Unlock()
			return policy
		},
	})
	p.Engine().Bind(highlightList{{ID: "h", Page: 1, Text: "text"}})
	p.Attach("doc", newDoc(1))
	if err := p.RenderPage(context.Background(), 1); err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	before := p.Engine().Layer().Boxes(1)[0].Rect

	mu.Lock()
	policy = policy.ZoomIn(1)
	mu.Unlock()
	if err := p.Rerender(context.Background(), 1, Paged); err != nil {
		t.Fatalf("Rerender() error = %v", err)
	}
	after := p.Engine().Layer().Boxes(1)[0].Rect
	if after.W <= before.W || after.X <= before.X {
		t.Fatalf("box did not scale: before %+v after %+v", before, after)
	}
	if s, _ := p.View(1); s.Viewport.Scale != 1.25 {
		t.Fatalf("scale = %v want 1.25", s.Viewport.Scale)
	}
}

func TestPageTextWithoutRender(t *testing.T) {
	t.Parallel()

	var renders atomic.Int32
	doc := newDoc(2)
	doc.pages[2] = fakePage{n: 2, words: []string{"lazy", "text"}, renders: &renders}
	p := newPipeline(t)
	p.Attach("doc", doc)

	text, err := p.PageText(context.Background(), 2)
	if err != nil || text != "lazy text" {
		t.Fatalf("PageText() = %q, %v", text, err)
	}
	if renders.Load() != 0 || p.State(2) != Unrendered {
		t.Fatalf("PageText must not rasterise")
	}
	if p.PageCount() != 2 {
		t.Fatalf("PageCount() = %d", p.PageCount())
	}
}

func TestDetach(t *testing.T) {
	t.Parallel()

	p := newPipeline(t)
	p.Attach("doc", newDoc(2))
	if err := p.RenderPage(context.Background(), 1); err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	p.Detach()
	if p.DocumentID() != "" || p.PageCount() != 0 || p.Index().Has(1) {
		t.Fatalf("Detach() left state behind")
	}
	if err := p.RenderPage(context.Background(), 1); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("RenderPage() after Detach error = %v", err)
	}
	if _, err := p.PageText(context.Background(), 1); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("PageText() after Detach error = %v", err)
	}
}

var _ anchor.Source = highlightList(nil)

func TestCompositeBlendsHighlights(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	s := Surface{Page: 1, Image: img}
	boxes := []anchor.Box{{HighlightID: "h", Colour: "#0000ff", Page: 1, Rect: geom.Rect{X: 2, Y: 2, W: 5, H: 3}}}
	out := Composite(s, boxes, 2)

	inside := out.RGBAAt(5, 5)
	if inside.B != 0xff || inside.R == 0xff {
		t.Fatalf("pixel inside box not tinted: %+v", inside)
	}
	if outside := out.RGBAAt(18, 1); outside.R != 0xff || outside.G != 0xff {
		t.Fatalf("pixel outside box changed: %+v", outside)
	}
	if img.RGBAAt(5, 5).R != 0xff {
		t.Fatalf("source surface was modified")
	}
}

func TestParseColour(t *testing.T) {
	t.Parallel()

	cases := map[string][3]uint8{
		"#a5d6a7": {0xa5, 0xd6, 0xa7},
		"#0f0":    {0, 0xff, 0},
		"bogus":   {0xff, 0xeb, 0x3b},
	}
	for in, want := range cases {
		c := ParseColour(in)
		if [3]uint8{c.R, c.G, c.B} != want {
			t.Fatalf("ParseColour(%q) = %+v", in, c)
		}
	}
}
