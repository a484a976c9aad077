// Package document defines the decoder collaborator the reader renders
// through. Implementations live in subpackages.
package document

import (
	"context"
	"errors"
	"image"

	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/viewport"
)

var (
	// ErrDecode means the bytes could not be parsed as a document.
	ErrDecode = errors.New("document: decode failed")
	// ErrPage means one page could not be resolved, rendered or extracted.
	ErrPage = errors.New("document: page failed")
)

// Decoder parses raw document bytes.
type Decoder interface {
	Open(data []byte) (Document, error)
}

// Document is an opened, immutable document. Pages are 1-based.
type Document interface {
	PageCount() int
	Page(n int) (Page, error)
}

type Page interface {
	Number() int
	// Size is the intrinsic page size in page units at scale 1.
	Size() geom.Size
	// Render rasterises the page into a surface of floor(W*dpr) x
	// floor(H*dpr) pixels using the combined scale vp.Scale*dpr.
	Render(ctx context.Context, vp viewport.Viewport, dpr float64) (*image.RGBA, error)
	// ExtractText returns positioned runs in page space.
	ExtractText(ctx context.Context) ([]TextItem, error)
}

// TextItem is one run of text as reported by the decoder. Matrix maps the
// run's glyph space into page space; Width is the advance in page units.
type TextItem struct {
	S      string
	Matrix [6]float64
	Width  float64
}

// Multiply composes two affine matrices so that the result applies n first
// and then m.
func Multiply(m, n [6]float64) [6]float64 {
	return [6]float64{
		m[0]*n[0] + m[2]*n[1],
		m[1]*n[0] + m[3]*n[1],
		m[0]*n[2] + m[2]*n[3],
		m[1]*n[2] + m[3]*n[3],
		m[0]*n[4] + m[2]*n[5] + m[4],
		m[1]*n[4] + m[3]*n[5] + m[5],
	}
}

// SurfaceSize is the backing pixel size for a viewport at the given device
// pixel ratio.
func SurfaceSize(vp viewport.Viewport, dpr float64) (int, int) {
	if dpr <= 0 {
		dpr = 1
	}
	w := int(vp.Width * dpr)
	h := int(vp.Height * dpr)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
