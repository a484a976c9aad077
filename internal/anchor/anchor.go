// Package anchor maps stored highlights back onto the positioned text of the
// current render and keeps the resulting boxes in a per-page layer.
//
// A highlight only stores its page and text. On every render the text is
// searched for in the page's fragment stream, and the fragments of the first
// window that contains it are painted.
package anchor

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/textindex"
)

const (
	// MaxWindowFragments bounds how many consecutive fragments a single
	// highlight may span.
	MaxWindowFragments = 40
	// BoxPadding is added to each painted box's height.
	BoxPadding = 2
	// MinBoxWidth skips fragments too narrow to see.
	MinBoxWidth = 1
)

// MatchPolicy picks among several windows containing the same text.
type MatchPolicy int

const (
	// FirstMatch paints the earliest window in reading order. Repeated
	// phrases on one page therefore always resolve to the first occurrence.
	FirstMatch MatchPolicy = iota
)

// Box is one painted rectangle.
type Box struct {
	HighlightID string
	Colour      string
	Page        int
	Rect        geom.Rect
}

// Normalize collapses whitespace runs, trims and lower-cases s.
func Normalize(s string) string {
	lower := cases.Lower(language.Und)
	return lower.String(strings.Join(strings.Fields(s), " "))
}

// Locate returns the half-open fragment range [start, end) whose joined text
// contains needle, or ok=false. The range is the shortest window ending at
// the first position where the needle is complete. FirstMatch is the only
// policy. Fragments are joined with a single space, the same way selections
// are captured, so a word split across fragments only matches with that space.
func Locate(frags []textindex.Fragment, needle string, policy MatchPolicy) (start, end int, ok bool) {
	want := Normalize(needle)
	if want == "" {
		return 0, 0, false
	}
	norm := make([]string, len(frags))
	for i, f := range frags {
		norm[i] = Normalize(f.Text)
	}
	for i := range norm {
		var buf strings.Builder
		for j := i; j < len(norm) && j-i < MaxWindowFragments; j++ {
			if j > i {
				buf.WriteByte(' ')
			}
			buf.WriteString(norm[j])
			if !strings.Contains(buf.String(), want) {
				continue
			}
			s := i
			for s < j && strings.Contains(joinRange(norm, s+1, j+1), want) {
				s++
			}
			return s, j + 1, true
		}
	}
	return 0, 0, false
}

func joinRange(norm []string, start, end int) string {
	return strings.Join(norm[start:end], " ")
}

// Anchor computes the boxes for h against the page's fragments. A highlight
// whose text is not found yields no boxes.
func Anchor(h annotations.Highlight, frags []textindex.Fragment) []Box {
	start, end, ok := Locate(frags, h.Text, FirstMatch)
	if !ok {
		return nil
	}
	boxes := make([]Box, 0, end-start)
	for _, f := range frags[start:end] {
		if f.Width < MinBoxWidth {
			continue
		}
		r := f.Rect()
		r.H += BoxPadding
		boxes = append(boxes, Box{HighlightID: h.ID, Colour: h.Colour, Page: h.Page, Rect: r})
	}
	return boxes
}
