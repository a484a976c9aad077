package pdfdoc

import (
	"errors"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ledongthuc/pdf"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/viewport"
)

func glyphs(font string, size, x, y float64, s string) []pdf.Text {
	out := make([]pdf.Text, 0, len(s))
	w := size * 0.5
	for i, r := range s {
		out = append(out, pdf.Text{Font: font, FontSize: size, X: x + float64(i)*w, Y: y, W: w, S: string(r)})
	}
	return out
}

func TestCoalesceJoinsGlyphsIntoRuns(t *testing.T) {
	t.Parallel()

	var in []pdf.Text
	in = append(in, glyphs("F1", 10, 100, 700, "Hello")...)
	// 3pt gap: wider than half a space (1.25pt), narrower than a column break.
	in = append(in, glyphs("F1", 10, 128, 700, "world")...)
	// next line
	in = append(in, glyphs("F1", 10, 100, 686, "again")...)

	got := coalesce(in)
	want := []string{"Hello world", "again"}
	if len(got) != len(want) {
		t.Fatalf("coalesce() produced %d runs want %d: %+v", len(got), len(want), got)
	}
	for i, item := range got {
		if item.S != want[i] {
			t.Fatalf("run %d = %q want %q", i, item.S, want[i])
		}
	}
	if got[0].Matrix != [6]float64{10, 0, 0, 10, 100, 700} {
		t.Fatalf("run matrix = %v", got[0].Matrix)
	}
	if got[0].Width != 153-100 {
		t.Fatalf("run width = %v", got[0].Width)
	}
}

func TestCoalesceSplitsOnColumnGapAndFontChange(t *testing.T) {
	t.Parallel()

	var in []pdf.Text
	in = append(in, glyphs("F1", 10, 0, 500, "left")...)
	in = append(in, glyphs("F1", 10, 300, 500, "right")...)
	in = append(in, glyphs("F2", 18, 330, 500, "big")...)

	var got []string
	for _, item := range coalesce(in) {
		got = append(got, item.S)
	}
	if diff := cmp.Diff([]string{"left", "right", "big"}, got); diff != "" {
		t.Fatalf("coalesce() mismatch (-want +got):\n%s", diff)
	}
}

func TestCoalesceDropsBlankRuns(t *testing.T) {
	t.Parallel()

	if got := coalesce(glyphs("F1", 10, 0, 0, "   ")); len(got) != 0 {
		t.Fatalf("expected no runs, got %+v", got)
	}
	if got := coalesce(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestRasterizeSurfaceSize(t *testing.T) {
	t.Parallel()

	vp := viewport.Viewport{Scale: 1.5, Width: 918, Height: 1188}
	items := []document.TextItem{{S: "Title", Matrix: [6]float64{24, 0, 0, 24, 72, 700}, Width: 60}}
	img := rasterize(vp, 2, items)
	if img.Bounds().Dx() != 1836 || img.Bounds().Dy() != 2376 {
		t.Fatalf("surface = %v", img.Bounds())
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Fatalf("background = %v", got)
	}
	inked := false
	// text baseline is at (1188-700*1.5)*2 = 276 device pixels.
	for y := 260; y < 280 && !inked; y++ {
		for x := 216; x < 300; x++ {
			if img.RGBAAt(x, y).R < 0x80 {
				inked = true
				break
			}
		}
	}
	if !inked {
		t.Fatalf("expected glyph pixels near the text origin")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := New().Open([]byte("not a pdf")); !errors.Is(err, document.ErrDecode) {
		t.Fatalf("Open() error = %v want ErrDecode", err)
	}
	if _, err := New().Open(nil); !errors.Is(err, document.ErrDecode) {
		t.Fatalf("Open(nil) error = %v want ErrDecode", err)
	}
}
