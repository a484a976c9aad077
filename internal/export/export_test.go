package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	"github.com/csheth/lumiread/internal/annotations"
)

var day = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func sampleInput() Input {
	return FromSet("Field Notes", day, annotations.Set{
		Highlights: []annotations.Highlight{
			{ID: "a", Page: 3, Text: "the quick brown fox", Colour: "#ffeb3b"},
			{ID: "b", Page: 1, Text: "jumps <over>", Colour: "#90caf9"},
		},
		Bookmarks: []int{7, 2},
		Notes:     map[int]string{5: "check this", 2: "   ", 1: "first page"},
	})
}

func TestFromSet(t *testing.T) {
	t.Parallel()

	in := sampleInput()
	if diff := cmp.Diff([]int{2, 7}, in.Bookmarks); diff != "" {
		t.Fatalf("bookmarks mismatch (-want +got):\n%s", diff)
	}
	want := []annotations.PageNote{{Page: 1, Text: "first page"}, {Page: 5, Text: "check this"}}
	if diff := cmp.Diff(want, in.Notes); diff != "" {
		t.Fatalf("notes mismatch (-want +got):\n%s", diff)
	}
	if in.Highlights[0].ID != "a" {
		t.Fatalf("highlights must keep storage order: %+v", in.Highlights)
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	want := "Field Notes\n2024-03-09\n" + strings.Repeat("─", 40) + "\n\n" +
		"BOOKMARKS:\n  p.2\n  p.7\n\n" +
		"HIGHLIGHTS:\n  [p.3] the quick brown fox\n  [p.1] jumps <over>\n\n" +
		"NOTES:\n  [p.1]\n  first page\n\n  [p.5]\n  check this\n\n"
	if diff := cmp.Diff(want, Text(sampleInput())); diff != "" {
		t.Fatalf("Text() mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	got := Markdown(sampleInput())
	for _, want := range []string{
		"# Field Notes\n_2024-03-09_\n\n",
		"- Page 2\n- Page 7\n\n",
		"### Page 3\n> the quick brown fox\n\n",
		"## 📝 Notes\n### Page 1\nfirst page\n\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Markdown() missing %q in:\n%s", want, got)
		}
	}
}

func TestEmptySectionsAreOmitted(t *testing.T) {
	t.Parallel()

	in := Input{Date: day}
	if got := Text(in); got != "Book\n2024-03-09\n"+strings.Repeat("─", 40)+"\n\n" {
		t.Fatalf("Text() = %q", got)
	}
	if got := Digest(in); got != "No highlights or notes yet." {
		t.Fatalf("Digest() = %q", got)
	}
}

func TestDigest(t *testing.T) {
	t.Parallel()

	in := sampleInput()
	in.Highlights = append(in.Highlights, annotations.Highlight{Page: 9, Text: strings.Repeat("é", 100)})
	got := Digest(in)
	want := "HIGHLIGHTS (3):\n" +
		"• [p.3] the quick brown fox\n" +
		"• [p.1] jumps <over>\n" +
		"• [p.9] " + strings.Repeat("é", 80) + "\n" +
		"\nNOTES:\n• [p.1] first page\n• [p.5] check this\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Digest() mismatch (-want +got):\n%s", diff)
	}
}

func TestHTMLEscapesAndParses(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Render(&buf, FormatHTML, sampleInput()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Fatalf("missing doctype: %.40s", out)
	}
	if strings.Contains(out, "<over>") || !strings.Contains(out, "jumps &lt;over&gt;") {
		t.Fatalf("highlight text not escaped:\n%s", out)
	}
	if !strings.Contains(out, `style="border-left-color:#ffeb3b"`) {
		t.Fatalf("highlight colour missing:\n%s", out)
	}
	if _, err := html.Parse(strings.NewReader(out)); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
}

func TestParseFormatAndFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{"md": FormatMarkdown, "Markdown": FormatMarkdown, "txt": FormatText, "pdf": FormatHTML, "html": FormatHTML}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Fatalf("ParseFormat(docx) should fail")
	}
	if got := Filename("a/b: c?", FormatMarkdown); got != "a_b_ c_.md" {
		t.Fatalf("Filename() = %q", got)
	}
}
