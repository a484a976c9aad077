package pdfdoc

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/viewport"
)

var (
	paper = image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	ink   = image.NewUniform(color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff})
	// rule marks runs whose text would be unreadable at the bitmap face size.
	rule = image.NewUniform(color.RGBA{R: 0x9a, G: 0x9a, B: 0x9a, A: 0xff})
)

// rasterize draws the page's text runs onto a white surface. The combined
// scale vp.Scale*dpr is applied in one step so the bitmap is never resampled.
func rasterize(vp viewport.Viewport, dpr float64, items []document.TextItem) *image.RGBA {
	if dpr <= 0 {
		dpr = 1
	}
	w, h := document.SurfaceSize(vp, dpr)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), paper, image.Point{}, draw.Src)

	scaled := viewport.Viewport{Scale: vp.Scale * dpr, Width: vp.Width * dpr, Height: vp.Height * dpr}
	m := scaled.Transform()
	face := basicfont.Face7x13
	glyphH := float64(face.Metrics().Height.Ceil())

	for _, it := range items {
		tx := document.Multiply(m, it.Matrix)
		size := math.Hypot(tx[2], tx[3])
		x, baseline := tx[4], tx[5]
		width := it.Width * math.Abs(m[0])
		if size < glyphH*0.6 {
			// too small for the bitmap face: draw a grey bar in its place.
			top := int(baseline - math.Max(1, size*0.6))
			bar := image.Rect(int(x), top, int(x+width), int(baseline))
			draw.Draw(dst, bar.Intersect(dst.Bounds()), rule, image.Point{}, draw.Src)
			continue
		}
		d := font.Drawer{
			Dst:  dst,
			Src:  ink,
			Face: face,
			Dot:  fixed.P(int(x), int(baseline)),
		}
		d.DrawString(it.S)
	}
	return dst
}
