// Package pdfdoc implements document.Decoder on top of ledongthuc/pdf.
package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/viewport"
)

// letter is used when a page carries no usable MediaBox.
var letter = geom.Size{W: 612, H: 792}

type Decoder struct{}

func New() Decoder { return Decoder{} }

func (Decoder) Open(data []byte) (doc document.Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", document.ErrDecode)
	}
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %v", document.ErrDecode, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrDecode, err)
	}
	return &Document{reader: reader, pages: reader.NumPage()}, nil
}

// Document serialises access to the underlying reader; ledongthuc/pdf
// resolves objects lazily and is not safe for concurrent use.
type Document struct {
	mu     sync.Mutex
	reader *pdf.Reader
	pages  int
}

func (d *Document) PageCount() int { return d.pages }

func (d *Document) Page(n int) (document.Page, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("%w: page %d out of range 1..%d", document.ErrPage, n, d.pages)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.reader.Page(n)
	if p.V.IsNull() {
		return nil, fmt.Errorf("%w: page %d missing", document.ErrPage, n)
	}
	return &Page{doc: d, raw: p, number: n, size: mediaBox(p.V)}, nil
}

type Page struct {
	doc    *Document
	raw    pdf.Page
	number int
	size   geom.Size

	once  sync.Once
	items []document.TextItem
	err   error
}

func (p *Page) Number() int     { return p.number }
func (p *Page) Size() geom.Size { return p.size }

// ExtractText coalesces the decoder's per-glyph output into runs. The result
// is computed once per Page value.
func (p *Page) ExtractText(ctx context.Context) ([]document.TextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.once.Do(func() {
		glyphs, err := p.glyphs()
		if err != nil {
			p.err = err
			return
		}
		p.items = coalesce(glyphs)
	})
	if p.err != nil {
		return nil, p.err
	}
	out := make([]document.TextItem, len(p.items))
	copy(out, p.items)
	return out, nil
}

func (p *Page) Render(ctx context.Context, vp viewport.Viewport, dpr float64) (*image.RGBA, error) {
	items, err := p.ExtractText(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rasterize(vp, dpr, items), nil
}

func (p *Page) glyphs() (texts []pdf.Text, err error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("%w: page %d content: %v", document.ErrPage, p.number, r)
		}
	}()
	return p.raw.Content().Text, nil
}

func mediaBox(v pdf.Value) geom.Size {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
			h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
			if w > 0 && h > 0 {
				return geom.Size{W: w, H: h}
			}
		}
		v = v.Key("Parent")
	}
	return letter
}

const (
	// sameLineRatio is the share of the font size two baselines may differ by
	// and still belong to one line.
	sameLineRatio = 0.5
	// spaceGapRatio and breakGapRatio are multiples of the space width.
	spaceGapRatio = 0.5
	breakGapRatio = 3.0
	// spaceWidthRatio estimates a space from the font size.
	spaceWidthRatio = 0.25
)

type run struct {
	text     strings.Builder
	x, y     float64
	end      float64
	fontSize float64
	font     string
}

func (r *run) item() document.TextItem {
	fs := r.fontSize
	return document.TextItem{
		S:      r.text.String(),
		Matrix: [6]float64{fs, 0, 0, fs, r.x, r.y},
		Width:  r.end - r.x,
	}
}

func coalesce(glyphs []pdf.Text) []document.TextItem {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(glyphs))
	copy(sorted, glyphs)
	// reading order: top of page first, then left to right within a line.
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		tol := math.Max(a.FontSize, b.FontSize) * sameLineRatio
		if math.Abs(a.Y-b.Y) > tol {
			return a.Y > b.Y
		}
		return a.X < b.X
	})

	var items []document.TextItem
	var cur *run
	flush := func() {
		if cur != nil && strings.TrimSpace(cur.text.String()) != "" {
			items = append(items, cur.item())
		}
		cur = nil
	}
	for _, g := range sorted {
		if g.S == "" {
			continue
		}
		if cur != nil {
			space := cur.fontSize * spaceWidthRatio
			gap := g.X - cur.end
			sameLine := math.Abs(g.Y-cur.y) <= cur.fontSize*sameLineRatio
			sameFont := math.Abs(g.FontSize-cur.fontSize) < 0.5 && g.Font == cur.font
			switch {
			case !sameLine || !sameFont || gap > space*breakGapRatio || gap < -space:
				flush()
			case gap >= space*spaceGapRatio && !strings.HasSuffix(cur.text.String(), " ") && g.S != " ":
				cur.text.WriteByte(' ')
			}
		}
		if cur == nil {
			if strings.TrimSpace(g.S) == "" {
				continue
			}
			cur = &run{x: g.X, y: g.Y, end: g.X, fontSize: g.FontSize, font: g.Font}
		}
		cur.text.WriteString(g.S)
		cur.end = math.Max(cur.end, g.X+g.W)
	}
	flush()
	for i := range items {
		items[i].S = strings.TrimRight(items[i].S, " ")
	}
	return items
}
