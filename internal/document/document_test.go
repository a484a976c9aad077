package document

import (
	"testing"

	"github.com/csheth/lumiread/internal/viewport"
)

func TestMultiply(t *testing.T) {
	t.Parallel()

	vp := viewport.Viewport{Scale: 2, Width: 200, Height: 400}
	text := [6]float64{12, 0, 0, 12, 10, 180}
	got := Multiply(vp.Transform(), text)
	want := [6]float64{24, 0, 0, -24, 20, 40}
	if got != want {
		t.Fatalf("Multiply() = %v want %v", got, want)
	}
}

func TestSurfaceSize(t *testing.T) {
	t.Parallel()

	w, h := SurfaceSize(viewport.Viewport{Width: 100.7, Height: 50.2}, 2)
	if w != 201 || h != 100 {
		t.Fatalf("SurfaceSize() = %dx%d", w, h)
	}
	w, h = SurfaceSize(viewport.Viewport{}, 0)
	if w != 1 || h != 1 {
		t.Fatalf("SurfaceSize() degenerate = %dx%d", w, h)
	}
}
