// Package prefs is the small persistent preferences file: UI settings,
// per-document annotations, reading session totals and the password lock.
// Everything lives under one fixed key in a single JSON file.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/session"
)

// Key is the top-level key the state is stored under.
const Key = "lumiread7"

var (
	ErrWrongPassword = errors.New("prefs: wrong password")
	ErrEmptyPassword = errors.New("prefs: password is empty")
)

type Preferences struct {
	DarkMode     bool                                `json:"darkMode"`
	Notes        map[string]map[int]string           `json:"notes"`
	Bookmarks    map[string][]int                    `json:"bookmarks"`
	Highlights   map[string][]annotations.Highlight  `json:"highlights"`
	Stickies     map[string][]annotations.StickyNote `json:"stickyNotes"`
	Streak       []string                            `json:"streak"`
	ReadingMs    map[string]int64                    `json:"readingMs"`
	PasswordHash string                              `json:"passwordHash,omitempty"`
}

func Defaults() Preferences {
	return Preferences{
		Notes:      map[string]map[int]string{},
		Bookmarks:  map[string][]int{},
		Highlights: map[string][]annotations.Highlight{},
		Stickies:   map[string][]annotations.StickyNote{},
		ReadingMs:  map[string]int64{},
	}
}

// fill replaces nil maps left by an older or partial file.
func (p *Preferences) fill() {
	d := Defaults()
	if p.Notes == nil {
		p.Notes = d.Notes
	}
	if p.Bookmarks == nil {
		p.Bookmarks = d.Bookmarks
	}
	if p.Highlights == nil {
		p.Highlights = d.Highlights
	}
	if p.Stickies == nil {
		p.Stickies = d.Stickies
	}
	if p.ReadingMs == nil {
		p.ReadingMs = d.ReadingMs
	}
}

type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the preferences. A missing file yields defaults and no error; a
// corrupt file yields defaults and the decode error so callers can log it.
func (s *Store) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Preferences, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Defaults(), err
	}
	var file map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return Defaults(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	raw, ok := file[Key]
	if !ok {
		return Defaults(), nil
	}
	var p Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return Defaults(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	p.fill()
	return p, nil
}

func (s *Store) save(p Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]json.RawMessage{Key: raw}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Update applies fn to the current preferences and writes the result. Reads
// that fail to decode start from defaults rather than blocking the write.
func (s *Store) Update(fn func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load()
	if err != nil && !isDecodeError(err) {
		return err
	}
	fn(&p)
	return s.save(p)
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

// LoadAnnotations implements annotations.Persister.
func (s *Store) LoadAnnotations(_ context.Context, docID string) (annotations.Set, error) {
	p, err := s.Load()
	if err != nil {
		return annotations.Set{Notes: map[int]string{}}, err
	}
	set := annotations.Set{
		Highlights: p.Highlights[docID],
		Bookmarks:  p.Bookmarks[docID],
		Stickies:   p.Stickies[docID],
		Notes:      map[int]string{},
	}
	for page, text := range p.Notes[docID] {
		set.Notes[page] = text
	}
	return set, nil
}

// SaveAnnotations implements annotations.Persister.
func (s *Store) SaveAnnotations(ctx context.Context, docID string, set annotations.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Update(func(p *Preferences) {
		p.Highlights[docID] = set.Highlights
		p.Bookmarks[docID] = set.Bookmarks
		p.Stickies[docID] = set.Stickies
		p.Notes[docID] = set.Notes
	})
}

// ForgetDocument drops every annotation of docID.
func (s *Store) ForgetDocument(docID string) error {
	return s.Update(func(p *Preferences) {
		delete(p.Highlights, docID)
		delete(p.Bookmarks, docID)
		delete(p.Stickies, docID)
		delete(p.Notes, docID)
	})
}

func (s *Store) SetDarkMode(on bool) error {
	return s.Update(func(p *Preferences) { p.DarkMode = on })
}

// Session returns the stored reading totals.
func (s *Store) Session() session.Snapshot {
	p, _ := s.Load()
	return session.Snapshot{Days: p.Streak, ReadingMs: p.ReadingMs}
}

func (s *Store) SaveSession(snap session.Snapshot) error {
	return s.Update(func(p *Preferences) {
		p.Streak = snap.Days
		p.ReadingMs = snap.ReadingMs
	})
}

// Locked reports whether a password is set.
func (s *Store) Locked() bool {
	p, _ := s.Load()
	return p.PasswordHash != ""
}

func (s *Store) SetPassword(password string) error {
	password = strings.TrimSpace(password)
	if password == "" {
		return ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.Update(func(p *Preferences) { p.PasswordHash = string(hash) })
}

// CheckPassword returns nil when no password is set or password matches.
func (s *Store) CheckPassword(password string) error {
	p, _ := s.Load()
	if p.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(strings.TrimSpace(password))); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// RemovePassword clears the lock after verifying the current password.
func (s *Store) RemovePassword(current string) error {
	if err := s.CheckPassword(current); err != nil {
		return err
	}
	return s.Update(func(p *Preferences) { p.PasswordHash = "" })
}
