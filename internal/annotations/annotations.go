// Package annotations owns the highlights, bookmarks, page notes and sticky
// notes of one open document. Every mutation is written through to a
// Persister before it becomes visible.
package annotations

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmptySelection = errors.New("annotations: selection is empty")
	ErrNotFound       = errors.New("annotations: not found")
	ErrDuplicate      = errors.New("annotations: already exists")
	ErrStorage        = errors.New("annotations: storage failed")
)

// Palette lists the highlight colours offered by the toolbar.
var Palette = []string{"#ffeb3b", "#a5d6a7", "#90caf9", "#f48fb1", "#ffcc80"}

const (
	StickyWidth  = 180
	StickyHeight = 120
)

type Highlight struct {
	ID      string    `json:"id"`
	Page    int       `json:"page"`
	Text    string    `json:"text"`
	Colour  string    `json:"color"`
	Created time.Time `json:"created"`
}

// StickyNote coordinates are raw screen positions; they are not remapped when
// the zoom changes.
type StickyNote struct {
	ID     string  `json:"id"`
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
	Text   string  `json:"text"`
}

// Set is the complete annotation state of one document.
type Set struct {
	Highlights []Highlight    `json:"highlights"`
	Bookmarks  []int          `json:"bookmarks"`
	Notes      map[int]string `json:"notes"`
	Stickies   []StickyNote   `json:"stickies"`
}

func (s Set) clone() Set {
	out := Set{
		Highlights: append([]Highlight(nil), s.Highlights...),
		Bookmarks:  append([]int(nil), s.Bookmarks...),
		Stickies:   append([]StickyNote(nil), s.Stickies...),
		Notes:      make(map[int]string, len(s.Notes)),
	}
	for k, v := range s.Notes {
		out.Notes[k] = v
	}
	return out
}

// Persister durably stores a document's annotations.
type Persister interface {
	LoadAnnotations(ctx context.Context, docID string) (Set, error)
	SaveAnnotations(ctx context.Context, docID string, set Set) error
}

// Store is safe for concurrent use.
type Store struct {
	docID   string
	persist Persister
	now     func() time.Time

	mu  sync.Mutex
	set Set
}

// Open loads the annotations of docID. A load failure yields an empty set.
func Open(ctx context.Context, docID string, p Persister) (*Store, error) {
	s := &Store{docID: docID, persist: p, now: time.Now}
	set, err := p.LoadAnnotations(ctx, docID)
	if err != nil {
		s.set = Set{Notes: map[int]string{}}
		return s, fmt.Errorf("%w: load %s: %v", ErrStorage, docID, err)
	}
	s.set = set.clone()
	return s, nil
}

func (s *Store) DocumentID() string { return s.docID }

// commit persists next and swaps it in only on success.
func (s *Store) commit(ctx context.Context, next Set) error {
	if err := s.persist.SaveAnnotations(ctx, s.docID, next); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.set = next
	return nil
}

// CreateHighlight stores a new highlight. Identical text on the same page is
// allowed; each call yields a distinct id.
func (s *Store) CreateHighlight(ctx context.Context, page int, text, colour string) (Highlight, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Highlight{}, ErrEmptySelection
	}
	if colour == "" {
		colour = Palette[0]
	}
	h := Highlight{ID: NewID(), Page: page, Text: text, Colour: colour, Created: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	next.Highlights = append(next.Highlights, h)
	if err := s.commit(ctx, next); err != nil {
		return Highlight{}, err
	}
	return h, nil
}

func (s *Store) DeleteHighlight(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	idx := -1
	for i, h := range next.Highlights {
		if h.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: highlight %s", ErrNotFound, id)
	}
	next.Highlights = append(next.Highlights[:idx], next.Highlights[idx+1:]...)
	return s.commit(ctx, next)
}

// Highlights returns every highlight in creation order.
func (s *Store) Highlights() []Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Highlight(nil), s.set.Highlights...)
}

// HighlightsOn returns the page's highlights in creation order.
func (s *Store) HighlightsOn(page int) []Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Highlight
	for _, h := range s.set.Highlights {
		if h.Page == page {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) Highlight(id string) (Highlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.set.Highlights {
		if h.ID == id {
			return h, true
		}
	}
	return Highlight{}, false
}

func (s *Store) AddBookmark(ctx context.Context, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.set.Bookmarks {
		if p == page {
			return fmt.Errorf("%w: bookmark on page %d", ErrDuplicate, page)
		}
	}
	next := s.set.clone()
	next.Bookmarks = append(next.Bookmarks, page)
	sort.Ints(next.Bookmarks)
	return s.commit(ctx, next)
}

func (s *Store) RemoveBookmark(ctx context.Context, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	kept := next.Bookmarks[:0]
	for _, p := range next.Bookmarks {
		if p != page {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(s.set.Bookmarks) {
		return fmt.Errorf("%w: bookmark on page %d", ErrNotFound, page)
	}
	next.Bookmarks = kept
	return s.commit(ctx, next)
}

func (s *Store) IsBookmarked(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.set.Bookmarks {
		if p == page {
			return true
		}
	}
	return false
}

// Bookmarks returns bookmarked pages in ascending order.
func (s *Store) Bookmarks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.set.Bookmarks...)
}

// SetNote replaces the page's note. Blank text removes it.
func (s *Store) SetNote(ctx context.Context, page int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	if strings.TrimSpace(text) == "" {
		delete(next.Notes, page)
	} else {
		next.Notes[page] = text
	}
	return s.commit(ctx, next)
}

func (s *Store) Note(page int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Notes[page]
}

// PageNote pairs a page with its note text.
type PageNote struct {
	Page int
	Text string
}

// Notes returns non-blank notes in page order.
func (s *Store) Notes() []PageNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageNote, 0, len(s.set.Notes))
	for p, text := range s.set.Notes {
		if strings.TrimSpace(text) != "" {
			out = append(out, PageNote{Page: p, Text: text})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

func (s *Store) AddSticky(ctx context.Context, page int, x, y float64) (StickyNote, error) {
	n := StickyNote{ID: NewID(), Page: page, X: x, Y: y, Width: StickyWidth, Height: StickyHeight}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	next.Stickies = append(next.Stickies, n)
	if err := s.commit(ctx, next); err != nil {
		return StickyNote{}, err
	}
	return n, nil
}

func (s *Store) UpdateSticky(ctx context.Context, id, text string) error {
	return s.editSticky(ctx, id, func(n *StickyNote) { n.Text = text })
}

func (s *Store) MoveSticky(ctx context.Context, id string, x, y float64) error {
	return s.editSticky(ctx, id, func(n *StickyNote) { n.X, n.Y = x, y })
}

func (s *Store) editSticky(ctx context.Context, id string, fn func(*StickyNote)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	for i := range next.Stickies {
		if next.Stickies[i].ID == id {
			fn(&next.Stickies[i])
			return s.commit(ctx, next)
		}
	}
	return fmt.Errorf("%w: sticky %s", ErrNotFound, id)
}

func (s *Store) DeleteSticky(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.set.clone()
	for i, n := range next.Stickies {
		if n.ID == id {
			next.Stickies = append(next.Stickies[:i], next.Stickies[i+1:]...)
			return s.commit(ctx, next)
		}
	}
	return fmt.Errorf("%w: sticky %s", ErrNotFound, id)
}

func (s *Store) StickiesOn(page int) []StickyNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StickyNote
	for _, n := range s.set.Stickies {
		if n.Page == page {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot returns a copy of the whole set.
func (s *Store) Snapshot() Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.clone()
}

// NewID returns a short unique id: base36 milliseconds plus random suffix.
func NewID() string {
	ms := strconv.FormatInt(time.Now().UnixMilli(), 36)
	n, err := rand.Int(rand.Reader, big.NewInt(36*36*36*36*36))
	if err != nil {
		return ms
	}
	suffix := strconv.FormatInt(n.Int64(), 36)
	return ms + strings.Repeat("0", 5-len(suffix)) + suffix
}
