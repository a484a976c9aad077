package geom

import "testing"

func TestRectUnion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"disjoint", Rect{0, 0, 10, 10}, Rect{20, 5, 5, 20}, Rect{0, 0, 25, 25}},
		{"empty left", Rect{}, Rect{3, 4, 5, 6}, Rect{3, 4, 5, 6}},
		{"empty right", Rect{3, 4, 5, 6}, Rect{}, Rect{3, 4, 5, 6}},
		{"contained", Rect{0, 0, 100, 100}, Rect{10, 10, 5, 5}, Rect{0, 0, 100, 100}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Union(tc.b); got != tc.want {
				t.Fatalf("Union() = %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestRectIntersectsAndContains(t *testing.T) {
	t.Parallel()

	r := Rect{X: 10, Y: 10, W: 10, H: 10}
	if !r.Intersects(Rect{X: 15, Y: 15, W: 10, H: 10}) {
		t.Fatalf("expected overlap")
	}
	if r.Intersects(Rect{X: 20, Y: 10, W: 5, H: 5}) {
		t.Fatalf("touching edges should not intersect")
	}
	if !r.Contains(Point{X: 10, Y: 19}) || r.Contains(Point{X: 20, Y: 10}) {
		t.Fatalf("Contains() boundaries wrong")
	}
}

func TestSizeInset(t *testing.T) {
	t.Parallel()

	if got := (Size{W: 100, H: 10}).Inset(16); got != (Size{W: 84, H: 0}) {
		t.Fatalf("Inset() = %+v", got)
	}
	if !(Size{W: 0, H: 5}).Empty() {
		t.Fatalf("zero width should be empty")
	}
}
