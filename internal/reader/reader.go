// Package reader holds the state of the open document and routes every
// navigation, view and annotation change through the render pipeline and
// the annotation store.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/csheth/lumiread/internal/anchor"
	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/export"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/library"
	"github.com/csheth/lumiread/internal/llm"
	"github.com/csheth/lumiread/internal/prefs"
	"github.com/csheth/lumiread/internal/render"
	"github.com/csheth/lumiread/internal/search"
	"github.com/csheth/lumiread/internal/selection"
	"github.com/csheth/lumiread/internal/session"
	"github.com/csheth/lumiread/internal/speech"
	"github.com/csheth/lumiread/internal/textindex"
	"github.com/csheth/lumiread/internal/viewport"
)

var (
	ErrNoDocument = errors.New("reader: no document open")
	ErrLocked     = errors.New("reader: library is locked")
	ErrNoLLM      = errors.New("reader: no language model configured")
)

type Config struct {
	Library *library.Library
	Prefs   *prefs.Store
	// Container measures the reading area in viewport pixels.
	Container func() geom.Size
	DPR       float64
	// SettleDelay and LayoutDeadline override the package defaults.
	SettleDelay    time.Duration
	LayoutDeadline time.Duration
	Speaker        speech.Speaker
	LLM            llm.Client
	Logger         *slog.Logger
}

// State is a snapshot of the open document for display.
type State struct {
	Meta      library.Meta
	Page      int
	PageCount int
	Policy    viewport.Policy
	Mode      render.Mode
	Scale     float64
	// Warning is set by Open when the document opened in a degraded state.
	Warning string
}

type openDoc struct {
	meta    library.Meta
	store   *annotations.Store
	count   int
	page    int
	policy  viewport.Policy
	mode    render.Mode
	results *search.Results

	stopSession context.CancelFunc
	sessionDone chan struct{}
}

type Reader struct {
	lib            *library.Library
	prefs          *prefs.Store
	pipeline       *render.Pipeline
	engine         *anchor.Engine
	capture        *selection.Capture
	speech         *speech.Controller
	tracker        *session.Tracker
	llm            llm.Client
	container      func() geom.Size
	layoutDeadline time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu  sync.Mutex
	doc *openDoc
}

func New(cfg Config) (*Reader, error) {
	if cfg.Library == nil || cfg.Prefs == nil {
		return nil, fmt.Errorf("reader: library and preferences are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	container := cfg.Container
	if container == nil {
		container = func() geom.Size { return geom.Size{} }
	}

	r := &Reader{
		lib:            cfg.Library,
		prefs:          cfg.Prefs,
		capture:        &selection.Capture{},
		llm:            cfg.LLM,
		container:      container,
		layoutDeadline: cfg.LayoutDeadline,
		logger:         logger,
		now:            time.Now,
	}
	if cfg.Speaker != nil {
		r.speech = speech.NewController(cfg.Speaker, logger)
	}

	index := textindex.NewIndex()
	r.engine = anchor.NewEngine(index, anchor.NewLayer(), logger)
	r.pipeline = render.New(render.Config{
		DPR:         cfg.DPR,
		SettleDelay: cfg.SettleDelay,
		Container:   container,
		Policy:      r.policy,
		Index:       index,
		Texts:       textindex.NewTextCache(),
		Engine:      r.engine,
		Logger:      logger,
	})

	r.tracker = session.New(cfg.Prefs.Session())
	r.tracker.OnFlush = func(snap session.Snapshot) {
		if err := cfg.Prefs.SaveSession(snap); err != nil {
			logger.Warn("failed to save reading session", "error", err)
		}
	}
	return r, nil
}

func (r *Reader) Pipeline() *render.Pipeline { return r.pipeline }

func (r *Reader) Library() *library.Library { return r.lib }

func (r *Reader) Prefs() *prefs.Store { return r.prefs }

func (r *Reader) Session() *session.Tracker { return r.tracker }

func (r *Reader) policy() viewport.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return viewport.DefaultPolicy()
	}
	return r.doc.policy
}

func (r *Reader) open() (*openDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return nil, ErrNoDocument
	}
	return r.doc, nil
}

// Open closes the current document and opens id at its last read page. When
// a password is set it must match.
func (r *Reader) Open(ctx context.Context, id, password string) (State, error) {
	if err := r.prefs.CheckPassword(password); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	r.Close()

	meta, doc, err := r.lib.Open(ctx, id)
	if err != nil {
		return State{}, err
	}
	logCtx := r.logger.With("document", id, "name", meta.Name)
	var warning string
	store, err := annotations.Open(ctx, id, r.prefs)
	if err != nil {
		logCtx.Warn("annotations unavailable, starting empty", "error", err)
		warning = "Saved annotations could not be loaded. This document opens without them."
	}
	if _, err := viewport.WaitForLayout(ctx, r.container, r.layoutDeadline); err != nil {
		return State{}, err
	}

	count := doc.PageCount()
	page := clampPage(meta.LastPage, count)
	sessCtx, stop := context.WithCancel(context.Background())
	od := &openDoc{
		meta:        meta,
		store:       store,
		count:       count,
		page:        page,
		policy:      viewport.DefaultPolicy(),
		mode:        render.Paged,
		stopSession: stop,
		sessionDone: make(chan struct{}),
	}

	r.mu.Lock()
	r.doc = od
	r.mu.Unlock()

	r.engine.Bind(store)
	r.pipeline.Attach(id, doc)
	go func() {
		defer close(od.sessionDone)
		r.tracker.Run(sessCtx, session.FlushInterval)
	}()

	if err := r.pipeline.Show(ctx, page); err != nil {
		logCtx.Warn("first page failed to render", "page", page, "error", err)
	}
	logCtx.Info("document opened", "page", page, "pages", count)
	st, err := r.State()
	st.Warning = warning
	return st, err
}

// Close saves progress and releases the open document. It is a no-op when
// nothing is open.
func (r *Reader) Close() {
	r.mu.Lock()
	od := r.doc
	r.doc = nil
	r.mu.Unlock()
	if od == nil {
		return
	}
	r.StopSpeech()
	r.capture.Clear()
	r.engine.Bind(nil)
	r.pipeline.Detach()
	od.stopSession()
	<-od.sessionDone
	r.lib.SaveProgress(od.meta.ID, od.page, od.count)
	r.logger.Info("document closed", "document", od.meta.ID, "page", od.page)
}

func (r *Reader) State() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return State{}, ErrNoDocument
	}
	od := r.doc
	return State{
		Meta:      od.meta,
		Page:      od.page,
		PageCount: od.count,
		Policy:    od.policy,
		Mode:      od.mode,
		Scale:     r.scaleLocked(od),
	}, nil
}

// scaleLocked is the scale of the visible page's last render, or the scale
// the policy asks for when it has not rendered yet.
func (r *Reader) scaleLocked(od *openDoc) float64 {
	if s, ok := r.pipeline.View(od.page); ok {
		return s.Viewport.Scale
	}
	if od.policy.Mode == viewport.Fixed {
		return od.policy.Zoom
	}
	return 1
}

func clampPage(page, count int) int {
	if page > count {
		page = count
	}
	if page < 1 {
		page = 1
	}
	return page
}

// GoTo moves to page, clamped to the document. Speech and the selection are
// dropped. Progress is saved in the background.
func (r *Reader) GoTo(ctx context.Context, page int) (int, error) {
	r.mu.Lock()
	od := r.doc
	if od == nil {
		r.mu.Unlock()
		return 0, ErrNoDocument
	}
	page = clampPage(page, od.count)
	od.page = page
	id, count := od.meta.ID, od.count
	r.mu.Unlock()

	r.StopSpeech()
	r.capture.Clear()
	r.lib.SaveProgress(id, page, count)
	if err := r.pipeline.Show(ctx, page); err != nil {
		return page, err
	}
	return page, nil
}

func (r *Reader) Next(ctx context.Context) (int, error) {
	od, err := r.open()
	if err != nil {
		return 0, err
	}
	return r.GoTo(ctx, r.page(od)+1)
}

func (r *Reader) Prev(ctx context.Context) (int, error) {
	od, err := r.open()
	if err != nil {
		return 0, err
	}
	return r.GoTo(ctx, r.page(od)-1)
}

func (r *Reader) page(od *openDoc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return od.page
}

// ZoomIn and ZoomOut step the current scale by viewport.ZoomStep and switch
// to a fixed zoom.
func (r *Reader) ZoomIn(ctx context.Context) error {
	return r.setView(ctx, func(od *openDoc, scale float64) { od.policy = od.policy.ZoomIn(scale) })
}

func (r *Reader) ZoomOut(ctx context.Context) error {
	return r.setView(ctx, func(od *openDoc, scale float64) { od.policy = od.policy.ZoomOut(scale) })
}

// FitWidth toggles between fit-width and the current fixed zoom.
func (r *Reader) FitWidth(ctx context.Context) error {
	return r.setView(ctx, func(od *openDoc, scale float64) { od.policy = toggleFit(od.policy, viewport.FitWidth, scale) })
}

func (r *Reader) FitPage(ctx context.Context) error {
	return r.setView(ctx, func(od *openDoc, scale float64) { od.policy = toggleFit(od.policy, viewport.FitPage, scale) })
}

func toggleFit(p viewport.Policy, mode viewport.FitMode, scale float64) viewport.Policy {
	if p.Mode == mode {
		return viewport.Policy{Mode: viewport.Fixed, Zoom: scale}
	}
	return viewport.Policy{Mode: mode, Zoom: p.Zoom}
}

// ToggleContinuous switches between paged and continuous layout.
func (r *Reader) ToggleContinuous(ctx context.Context) error {
	return r.setView(ctx, func(od *openDoc, _ float64) {
		if od.mode == render.Continuous {
			od.mode = render.Paged
		} else {
			od.mode = render.Continuous
		}
	})
}

// Relayout rebuilds the layout for the current view, for example after the
// container was resized.
func (r *Reader) Relayout(ctx context.Context) error {
	return r.setView(ctx, func(*openDoc, float64) {})
}

func (r *Reader) setView(ctx context.Context, change func(od *openDoc, scale float64)) error {
	r.mu.Lock()
	od := r.doc
	if od == nil {
		r.mu.Unlock()
		return ErrNoDocument
	}
	change(od, r.scaleLocked(od))
	page, mode, policy := od.page, od.mode, od.policy
	r.mu.Unlock()

	r.capture.Clear()
	r.logger.Debug("view changed", "zoom", policy.Label(), "mode", mode.String(), "page", page)
	return r.pipeline.Rerender(ctx, page, mode)
}

// SelectFragments records the selection covering fragments first..last of
// page. The returned token settles it after selection.Debounce.
func (r *Reader) SelectFragments(page, first, last int) (selection.Selection, uint64, bool) {
	sel, ok := selection.FromFragments(page, r.pipeline.Index().Fragments(page), first, last)
	if !ok {
		r.capture.Clear()
		return selection.Selection{}, 0, false
	}
	return sel, r.capture.Change(sel), true
}

func (r *Reader) SettleSelection(seq uint64) (selection.Selection, bool) {
	return r.capture.Settle(seq)
}

func (r *Reader) ClearSelection() { r.capture.Clear() }

// HighlightSelection stores the settled selection with colour and paints it.
// Nothing changes when the store write fails.
func (r *Reader) HighlightSelection(ctx context.Context, colour string) (annotations.Highlight, error) {
	od, err := r.open()
	if err != nil {
		return annotations.Highlight{}, err
	}
	sel, ok := r.capture.Current()
	if !ok {
		return annotations.Highlight{}, annotations.ErrEmptySelection
	}
	h, err := od.store.CreateHighlight(ctx, sel.Page, sel.Text, colour)
	if err != nil {
		return annotations.Highlight{}, err
	}
	if r.engine.Paint(h) == 0 {
		r.logger.Warn("new highlight did not anchor", "id", h.ID, "page", h.Page)
	}
	r.capture.Clear()
	return h, nil
}

func (r *Reader) DeleteHighlight(ctx context.Context, id string) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	if err := od.store.DeleteHighlight(ctx, id); err != nil {
		return err
	}
	r.engine.Erase(id)
	return nil
}

func (r *Reader) Highlights() []annotations.Highlight {
	od, err := r.open()
	if err != nil {
		return nil
	}
	return od.store.Highlights()
}

// Boxes returns the painted highlight rectangles of page.
func (r *Reader) Boxes(page int) []anchor.Box {
	return r.engine.Layer().Boxes(page)
}

// Fragments returns the current text fragments of page.
func (r *Reader) Fragments(page int) []textindex.Fragment {
	return r.pipeline.Index().Fragments(page)
}

// ToggleBookmark bookmarks the current page or removes its bookmark and
// reports whether the page is now bookmarked.
func (r *Reader) ToggleBookmark(ctx context.Context) (bool, error) {
	od, err := r.open()
	if err != nil {
		return false, err
	}
	page := r.page(od)
	if od.store.IsBookmarked(page) {
		return false, od.store.RemoveBookmark(ctx, page)
	}
	return true, od.store.AddBookmark(ctx, page)
}

func (r *Reader) Bookmarks() []int {
	od, err := r.open()
	if err != nil {
		return nil
	}
	return od.store.Bookmarks()
}

func (r *Reader) IsBookmarked() bool {
	od, err := r.open()
	if err != nil {
		return false
	}
	return od.store.IsBookmarked(r.page(od))
}

// SetNote replaces the note of the current page; blank text removes it.
func (r *Reader) SetNote(ctx context.Context, text string) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	return od.store.SetNote(ctx, r.page(od), text)
}

func (r *Reader) Note() string {
	od, err := r.open()
	if err != nil {
		return ""
	}
	return od.store.Note(r.page(od))
}

func (r *Reader) Notes() []annotations.PageNote {
	od, err := r.open()
	if err != nil {
		return nil
	}
	return od.store.Notes()
}

// AddSticky places a sticky note on the current page.
func (r *Reader) AddSticky(ctx context.Context, x, y float64) (annotations.StickyNote, error) {
	od, err := r.open()
	if err != nil {
		return annotations.StickyNote{}, err
	}
	return od.store.AddSticky(ctx, r.page(od), x, y)
}

func (r *Reader) UpdateSticky(ctx context.Context, id, text string) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	return od.store.UpdateSticky(ctx, id, text)
}

func (r *Reader) MoveSticky(ctx context.Context, id string, x, y float64) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	return od.store.MoveSticky(ctx, id, x, y)
}

func (r *Reader) DeleteSticky(ctx context.Context, id string) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	return od.store.DeleteSticky(ctx, id)
}

func (r *Reader) Stickies(page int) []annotations.StickyNote {
	od, err := r.open()
	if err != nil {
		return nil
	}
	return od.store.StickiesOn(page)
}

// Search scans every page of the open document and keeps the results for
// hit navigation.
func (r *Reader) Search(ctx context.Context, query string) (*search.Results, error) {
	od, err := r.open()
	if err != nil {
		return nil, err
	}
	res, err := search.Search(ctx, query, r.pipeline, r.logger.With("document", od.meta.ID))
	if err != nil {
		return res, err
	}
	r.mu.Lock()
	if r.doc == od {
		od.results = res
	}
	r.mu.Unlock()
	return res, nil
}

func (r *Reader) Results() *search.Results {
	od, err := r.open()
	if err != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return od.results
}

// NextHit, PrevHit and SelectHit move through the search results and go to
// the hit's page.
func (r *Reader) NextHit(ctx context.Context) (search.Hit, error) {
	return r.moveHit(ctx, (*search.Results).Next)
}

func (r *Reader) PrevHit(ctx context.Context) (search.Hit, error) {
	return r.moveHit(ctx, (*search.Results).Previous)
}

func (r *Reader) SelectHit(ctx context.Context, i int) (search.Hit, error) {
	return r.moveHit(ctx, func(res *search.Results) (search.Hit, bool) { return res.Select(i) })
}

func (r *Reader) moveHit(ctx context.Context, move func(*search.Results) (search.Hit, bool)) (search.Hit, error) {
	r.mu.Lock()
	if r.doc == nil {
		r.mu.Unlock()
		return search.Hit{}, ErrNoDocument
	}
	hit, ok := move(r.doc.results)
	r.mu.Unlock()
	if !ok {
		return search.Hit{}, fmt.Errorf("no search results")
	}
	_, err := r.GoTo(ctx, hit.Page)
	return hit, err
}

// Speak reads the current page aloud. done receives the playback result.
func (r *Reader) Speak(ctx context.Context) (<-chan error, error) {
	if r.speech == nil {
		return nil, speech.ErrNotConfigured
	}
	od, err := r.open()
	if err != nil {
		return nil, err
	}
	page := r.page(od)
	text, err := r.pipeline.PageText(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("page %d text: %w", page, err)
	}
	return r.speech.Start(page, text)
}

func (r *Reader) StopSpeech() {
	if r.speech != nil {
		r.speech.Stop()
	}
}

func (r *Reader) Speaking() (int, bool) {
	if r.speech == nil {
		return 0, false
	}
	return r.speech.Active()
}

func (r *Reader) exportInput(od *openDoc) export.Input {
	return export.FromSet(od.meta.Name, r.now(), od.store.Snapshot())
}

// Export writes the annotations of the open document in format f.
func (r *Reader) Export(w io.Writer, f export.Format) error {
	od, err := r.open()
	if err != nil {
		return err
	}
	return export.Render(w, f, r.exportInput(od))
}

func (r *Reader) Digest() (string, error) {
	od, err := r.open()
	if err != nil {
		return "", err
	}
	return export.Digest(r.exportInput(od)), nil
}

// Condense asks the language model to shorten the digest.
func (r *Reader) Condense(ctx context.Context) (string, error) {
	if r.llm == nil {
		return "", ErrNoLLM
	}
	od, err := r.open()
	if err != nil {
		return "", err
	}
	in := r.exportInput(od)
	if len(in.Highlights) == 0 && len(in.Notes) == 0 {
		return export.Digest(in), nil
	}
	return r.llm.Condense(ctx, od.meta.Name, export.Digest(in))
}

// Ask answers a question about the current page.
func (r *Reader) Ask(ctx context.Context, question string) (string, error) {
	if r.llm == nil {
		return "", ErrNoLLM
	}
	od, err := r.open()
	if err != nil {
		return "", err
	}
	text, err := r.pipeline.PageText(ctx, r.page(od))
	if err != nil {
		return "", err
	}
	return r.llm.Answer(ctx, od.meta.Name, question, text)
}

// Delete removes a document from the library together with its
// annotations. Deleting the open document closes it first.
func (r *Reader) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	isOpen := r.doc != nil && r.doc.meta.ID == id
	r.mu.Unlock()
	if isOpen {
		r.Close()
	}
	// a pending progress write would otherwise recreate the record.
	if err := r.lib.Wait(ctx); err != nil {
		return err
	}
	if err := r.lib.Delete(ctx, id); err != nil {
		return err
	}
	r.pipeline.Texts().Forget(id)
	if err := r.prefs.ForgetDocument(id); err != nil {
		r.logger.Warn("failed to drop annotations", "document", id, "error", err)
	}
	return nil
}

// ClearLibrary deletes every document and its annotations.
func (r *Reader) ClearLibrary(ctx context.Context) (int, error) {
	r.Close()
	if err := r.lib.Wait(ctx); err != nil {
		return 0, err
	}
	ids, err := r.lib.Clear(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		r.pipeline.Texts().Forget(id)
		if err := r.prefs.ForgetDocument(id); err != nil {
			r.logger.Warn("failed to drop annotations", "document", id, "error", err)
		}
	}
	return len(ids), nil
}
