// Package search runs literal, case-insensitive full-text search over the
// plain text of every page.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"
)

// SnippetRadius is the number of runes kept either side of a match.
const SnippetRadius = 50

var ErrEmptyQuery = errors.New("search: empty query")

// TextSource provides page text, extracting it if needed. Page numbers are
// 1-based.
type TextSource interface {
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
}

type Hit struct {
	Page int
	// Offset is the match position in runes within the page text.
	Offset  int
	Snippet string
}

// Results is a navigable hit list. Next and Previous wrap.
type Results struct {
	Query   string
	Hits    []Hit
	Skipped []int
	cursor  int
}

// Search scans every page in order. Pages whose text cannot be extracted are
// skipped and listed in Results.Skipped. A cancelled context stops the scan
// and returns what was found so far with the context error.
func Search(ctx context.Context, query string, src TextSource, logger *slog.Logger) (*Results, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if logger == nil {
		logger = slog.Default()
	}
	res := &Results{Query: q}
	for page := 1; page <= src.PageCount(); page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		text, err := src.PageText(ctx, page)
		if err != nil {
			logger.Warn("search skipped page", "page", page, "err", err)
			res.Skipped = append(res.Skipped, page)
			continue
		}
		for _, off := range FindAll(text, q) {
			res.Hits = append(res.Hits, Hit{Page: page, Offset: off, Snippet: Snippet(text, off, len([]rune(q)))})
		}
	}
	return res, nil
}

// FindAll returns the rune offsets of non-overlapping case-insensitive
// occurrences of query in text.
func FindAll(text, query string) []int {
	hay := fold(text)
	needle := fold(query)
	if len(needle) == 0 || len(needle) > len(hay) {
		return nil
	}
	var out []int
	for i := 0; i+len(needle) <= len(hay); {
		if runesEqual(hay[i:i+len(needle)], needle) {
			out = append(out, i)
			i += len(needle)
			continue
		}
		i++
	}
	return out
}

// fold lower-cases rune by rune so offsets line up with the original text.
func fold(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Snippet returns the match plus SnippetRadius runes of context each side.
func Snippet(text string, offset, length int) string {
	rs := []rune(text)
	start := offset - SnippetRadius
	if start < 0 {
		start = 0
	}
	end := offset + length + SnippetRadius
	if end > len(rs) {
		end = len(rs)
	}
	if start > end {
		return ""
	}
	return string(rs[start:end])
}

func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Hits)
}

// Current returns the selected hit.
func (r *Results) Current() (Hit, bool) {
	if r.Len() == 0 {
		return Hit{}, false
	}
	return r.Hits[r.cursor], true
}

func (r *Results) Next() (Hit, bool) {
	if r.Len() == 0 {
		return Hit{}, false
	}
	r.cursor = (r.cursor + 1) % len(r.Hits)
	return r.Hits[r.cursor], true
}

func (r *Results) Previous() (Hit, bool) {
	if r.Len() == 0 {
		return Hit{}, false
	}
	r.cursor = (r.cursor - 1 + len(r.Hits)) % len(r.Hits)
	return r.Hits[r.cursor], true
}

// Select moves the cursor to hit i.
func (r *Results) Select(i int) (Hit, bool) {
	if i < 0 || i >= r.Len() {
		return Hit{}, false
	}
	r.cursor = i
	return r.Hits[i], true
}

// Position is the 1-based index of the current hit, 0 when empty.
func (r *Results) Position() int {
	if r.Len() == 0 {
		return 0
	}
	return r.cursor + 1
}

// Mark wraps every occurrence of query in snippet with mark.
func Mark(snippet, query string, mark func(string) string) string {
	offs := FindAll(snippet, query)
	if len(offs) == 0 {
		return snippet
	}
	rs := []rune(snippet)
	n := len([]rune(query))
	var b strings.Builder
	last := 0
	for _, off := range offs {
		b.WriteString(string(rs[last:off]))
		b.WriteString(mark(string(rs[off : off+n])))
		last = off + n
	}
	b.WriteString(string(rs[last:]))
	return b.String()
}
