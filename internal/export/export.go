// Package export renders a document's annotations as plain text, Markdown or
// a printable HTML page, and builds the short study digest.
package export

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/csheth/lumiread/internal/annotations"
)

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

const (
	dateLayout   = "2006-01-02"
	digestClip   = 80
	ruleWidth    = 40
	emptyDigest  = "No highlights or notes yet."
	defaultTitle = "Book"
)

var unsafeFilename = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// ParseFormat accepts the short and long names of each format. "pdf" maps to
// the printable HTML page.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text", "":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm", "pdf", "print":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Input is everything an export contains.
type Input struct {
	Title      string
	Date       time.Time
	Bookmarks  []int
	Highlights []annotations.Highlight
	Notes      []annotations.PageNote
}

// FromSet builds an export input from an annotation snapshot. Blank notes are
// dropped and the rest ordered by page; highlights keep storage order.
func FromSet(title string, date time.Time, set annotations.Set) Input {
	in := Input{
		Title:      title,
		Date:       date,
		Bookmarks:  append([]int(nil), set.Bookmarks...),
		Highlights: append([]annotations.Highlight(nil), set.Highlights...),
	}
	sort.Ints(in.Bookmarks)
	for page, text := range set.Notes {
		if strings.TrimSpace(text) != "" {
			in.Notes = append(in.Notes, annotations.PageNote{Page: page, Text: text})
		}
	}
	sort.Slice(in.Notes, func(i, j int) bool { return in.Notes[i].Page < in.Notes[j].Page })
	return in
}

func (in Input) title() string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	return defaultTitle
}

// Filename is the suggested file name for an export.
func Filename(title string, f Format) string {
	name := strings.TrimSpace(unsafeFilename.ReplaceAllString(title, "_"))
	if name == "" {
		name = defaultTitle
	}
	return name + "." + string(f)
}

// Render writes in to w in the given format.
func Render(w io.Writer, f Format, in Input) error {
	switch f {
	case FormatText:
		_, err := io.WriteString(w, Text(in))
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(in))
		return err
	case FormatHTML:
		return HTML(w, in)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

func Text(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n\n", in.title(), in.Date.Format(dateLayout), strings.Repeat("─", ruleWidth))
	if len(in.Bookmarks) > 0 {
		b.WriteString("BOOKMARKS:\n")
		lines := make([]string, len(in.Bookmarks))
		for i, p := range in.Bookmarks {
			lines[i] = fmt.Sprintf("  p.%d", p)
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}
	if len(in.Highlights) > 0 {
		b.WriteString("HIGHLIGHTS:\n")
		for _, h := range in.Highlights {
			fmt.Fprintf(&b, "  [p.%d] %s\n", h.Page, h.Text)
		}
		b.WriteString("\n")
	}
	if len(in.Notes) > 0 {
		b.WriteString("NOTES:\n")
		for _, n := range in.Notes {
			fmt.Fprintf(&b, "  [p.%d]\n  %s\n\n", n.Page, n.Text)
		}
	}
	return b.String()
}

func Markdown(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n_%s_\n\n", in.title(), in.Date.Format(dateLayout))
	if len(in.Bookmarks) > 0 {
		b.WriteString("## 🔖 Bookmarks\n")
		lines := make([]string, len(in.Bookmarks))
		for i, p := range in.Bookmarks {
			lines[i] = fmt.Sprintf("- Page %d", p)
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}
	if len(in.Highlights) > 0 {
		b.WriteString("## 🖍️ Highlights\n")
		for _, h := range in.Highlights {
			fmt.Fprintf(&b, "### Page %d\n> %s\n\n", h.Page, h.Text)
		}
	}
	if len(in.Notes) > 0 {
		b.WriteString("## 📝 Notes\n")
		for _, n := range in.Notes {
			fmt.Fprintf(&b, "### Page %d\n%s\n\n", n.Page, n.Text)
		}
	}
	return b.String()
}

// Digest is the short study summary: every highlight and note clipped to 80
// characters.
func Digest(in Input) string {
	if len(in.Highlights) == 0 && len(in.Notes) == 0 {
		return emptyDigest
	}
	var b strings.Builder
	if len(in.Highlights) > 0 {
		fmt.Fprintf(&b, "HIGHLIGHTS (%d):\n", len(in.Highlights))
		for _, h := range in.Highlights {
			fmt.Fprintf(&b, "• [p.%d] %s\n", h.Page, clip(h.Text, digestClip))
		}
	}
	if len(in.Notes) > 0 {
		b.WriteString("\nNOTES:\n")
		for _, n := range in.Notes {
			fmt.Fprintf(&b, "• [p.%d] %s\n", n.Page, clip(n.Text, digestClip))
		}
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
