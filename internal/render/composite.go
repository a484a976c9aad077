package render

import (
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/csheth/lumiread/internal/anchor"
)

// highlightAlpha matches the translucency of painted highlights on screen.
const highlightAlpha = 0x66

// Composite returns a copy of the surface with the given highlight boxes
// blended over it. Box coordinates are in viewport pixels and are scaled by
// dpr.
func Composite(s Surface, boxes []anchor.Box, dpr float64) *image.RGBA {
	if dpr <= 0 {
		dpr = 1
	}
	out := image.NewRGBA(s.Image.Bounds())
	draw.Draw(out, out.Bounds(), s.Image, s.Image.Bounds().Min, draw.Src)
	for _, b := range boxes {
		r := image.Rect(
			int(b.Rect.X*dpr), int(b.Rect.Y*dpr),
			int((b.Rect.X+b.Rect.W)*dpr+0.5), int((b.Rect.Y+b.Rect.H)*dpr+0.5),
		).Intersect(out.Bounds())
		if r.Empty() {
			continue
		}
		fill := ParseColour(b.Colour)
		fill.A = highlightAlpha
		draw.Draw(out, r, image.NewUniform(premultiply(fill)), image.Point{}, draw.Over)
	}
	return out
}

// ParseColour reads "#rgb" or "#rrggbb". Anything else yields the first
// palette yellow.
func ParseColour(hex string) color.NRGBA {
	fallback := color.NRGBA{R: 0xff, G: 0xeb, B: 0x3b, A: 0xff}
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func premultiply(c color.NRGBA) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}
