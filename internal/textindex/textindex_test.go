package textindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/csheth/lumiread/internal/document"
	"github.com/csheth/lumiread/internal/viewport"
)

func TestLayoutPositionsFragments(t *testing.T) {
	t.Parallel()

	vp := viewport.Viewport{Scale: 2, Width: 1224, Height: 1584}
	items := []document.TextItem{
		{S: "Abstract", Matrix: [6]float64{12, 0, 0, 12, 72, 720}, Width: 50},
		{S: "   ", Matrix: [6]float64{12, 0, 0, 12, 0, 0}, Width: 3},
		{S: "tiny", Matrix: [6]float64{0.2, 0, 0, 0.2, 0, 0}, Width: 1},
	}
	got := Layout(items, vp)
	want := []Fragment{{Text: "Abstract", X: 144, Y: 1584 - 1440 - 24, FontSize: 24, Width: 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Layout() mismatch (-want +got):\n%s", diff)
	}
}

func TestPlainTextAndJoin(t *testing.T) {
	t.Parallel()

	items := []document.TextItem{{S: "one"}, {S: "two"}, {S: "three"}}
	if got := PlainText(items); got != "one two three" {
		t.Fatalf("PlainText() = %q", got)
	}
	frags := []Fragment{{Text: "a"}, {Text: "b"}}
	if got := Join(frags); got != "a b" {
		t.Fatalf("Join() = %q", got)
	}
	if got := Join(nil); got != "" {
		t.Fatalf("Join(nil) = %q", got)
	}
}

func TestIndexReplaceIsWholesale(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Replace(2, []Fragment{{Text: "old"}, {Text: "older"}})
	idx.Replace(2, []Fragment{{Text: "new"}})
	idx.Replace(1, nil)

	if got := idx.Fragments(2); len(got) != 1 || got[0].Text != "new" {
		t.Fatalf("Fragments(2) = %+v", got)
	}
	if !idx.Has(1) || idx.Has(3) {
		t.Fatalf("Has() wrong")
	}
	if diff := cmp.Diff([]int{1, 2}, idx.Pages()); diff != "" {
		t.Fatalf("Pages() mismatch:\n%s", diff)
	}

	frags := idx.Fragments(2)
	frags[0].Text = "mutated"
	if idx.Fragments(2)[0].Text != "new" {
		t.Fatalf("Fragments() should return a copy")
	}

	idx.Forget(2)
	if idx.Fragments(2) != nil {
		t.Fatalf("Forget() kept page 2")
	}
	idx.Reset()
	if len(idx.Pages()) != 0 {
		t.Fatalf("Reset() kept pages")
	}
}

func TestTextCachePerDocument(t *testing.T) {
	t.Parallel()

	c := NewTextCache()
	c.Set("a", 1, "alpha")
	c.Set("b", 1, "beta")
	if got, ok := c.Get("a", 1); !ok || got != "alpha" {
		t.Fatalf("Get(a,1) = %q,%v", got, ok)
	}
	c.Forget("a")
	if _, ok := c.Get("a", 1); ok {
		t.Fatalf("Forget() kept doc a")
	}
	if c.Len("b") != 1 {
		t.Fatalf("Len(b) = %d", c.Len("b"))
	}
}
