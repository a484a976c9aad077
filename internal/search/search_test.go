package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type pages struct {
	text  map[int]string
	fail  map[int]bool
	calls int
}

func (p *pages) PageCount() int { return len(p.text) + len(p.fail) }

func (p *pages) PageText(_ context.Context, n int) (string, error) {
	p.calls++
	if p.fail[n] {
		return "", errors.New("extract failed")
	}
	return p.text[n], nil
}

func TestSearchAcrossPages(t *testing.T) {
	t.Parallel()

	src := &pages{
		text: map[int]string{
			1: "Neural networks learn. NETWORKS generalise.",
			3: "no match here",
			4: "a network of networks",
		},
		fail: map[int]bool{2: true},
	}
	res, err := Search(context.Background(), "  networks ", src, nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	var got [][2]int
	for _, h := range res.Hits {
		got = append(got, [2]int{h.Page, h.Offset})
	}
	want := [][2]int{{1, 7}, {1, 23}, {4, 13}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, res.Skipped); diff != "" {
		t.Fatalf("Skipped mismatch:\n%s", diff)
	}
	if src.calls != 4 {
		t.Fatalf("PageText called %d times want 4", src.calls)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	if _, err := Search(context.Background(), " \t", &pages{}, nil); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Search() error = %v want ErrEmptyQuery", err)
	}
}

func TestFindAllNonOverlapping(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff([]int{0, 2}, FindAll("aaaaa", "aa")); diff != "" {
		t.Fatalf("FindAll() mismatch:\n%s", diff)
	}
	// offsets are in runes, not bytes.
	if diff := cmp.Diff([]int{3}, FindAll("ÄÖÜ straße", " Straße")); diff != "" {
		t.Fatalf("FindAll() rune offsets mismatch:\n%s", diff)
	}
	if FindAll("short", "much longer") != nil {
		t.Fatalf("expected no match")
	}
	// regex metacharacters are literal.
	if diff := cmp.Diff([]int{5}, FindAll("cost (a+b)*2", "(a+b)*")); diff != "" {
		t.Fatalf("FindAll() literal mismatch:\n%s", diff)
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 60) + "TARGET" + strings.Repeat("y", 60)
	got := Snippet(text, 60, 6)
	if got != strings.Repeat("x", 50)+"TARGET"+strings.Repeat("y", 50) {
		t.Fatalf("Snippet() = %q", got)
	}
	if got := Snippet("ab TARGET cd", 3, 6); got != "ab TARGET cd" {
		t.Fatalf("Snippet() near edges = %q", got)
	}
}

func TestResultsNavigationWraps(t *testing.T) {
	t.Parallel()

	r := &Results{Hits: []Hit{{Page: 1}, {Page: 2}, {Page: 5}}}
	if h, _ := r.Current(); h.Page != 1 || r.Position() != 1 {
		t.Fatalf("Current() = %+v pos %d", h, r.Position())
	}
	r.Next()
	r.Next()
	if h, _ := r.Next(); h.Page != 1 {
		t.Fatalf("Next() did not wrap: %+v", h)
	}
	if h, _ := r.Previous(); h.Page != 5 || r.Position() != 3 {
		t.Fatalf("Previous() did not wrap: %+v", h)
	}
	if h, ok := r.Select(1); !ok || h.Page != 2 {
		t.Fatalf("Select(1) = %+v,%v", h, ok)
	}
	if _, ok := r.Select(7); ok {
		t.Fatalf("Select() out of range should fail")
	}

	var empty *Results
	if _, ok := empty.Current(); ok || empty.Position() != 0 {
		t.Fatalf("nil results should be empty")
	}
}

func TestMark(t *testing.T) {
	t.Parallel()

	got := Mark("Go and go", "go", func(s string) string { return "[" + s + "]" })
	if got != "[Go] and [go]" {
		t.Fatalf("Mark() = %q", got)
	}
}
