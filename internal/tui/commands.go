package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/export"
	"github.com/csheth/lumiread/internal/library"
	"github.com/csheth/lumiread/internal/prefs"
	"github.com/csheth/lumiread/internal/reader"
	"github.com/csheth/lumiread/internal/search"
	"github.com/csheth/lumiread/internal/selection"
	"github.com/csheth/lumiread/internal/speech"
)

const (
	importTimeout = 35 * time.Second
	llmTimeout    = 2 * time.Minute
	// relayoutDelay coalesces bursts of resize events into one re-render.
	relayoutDelay = 150 * time.Millisecond
)

type libraryMsg struct {
	metas  []library.Meta
	locked bool
	err    error
}

type importedMsg struct {
	meta library.Meta
	err  error
}

type openedMsg struct {
	state reader.State
	err   error
}

// pageMsg reports the reader state after navigation or a view change.
type pageMsg struct {
	state reader.State
	err   error
}

type highlightMsg struct {
	highlight annotations.Highlight
	err       error
}

type annotateMsg struct {
	info string
	err  error
}

type searchMsg struct {
	results *search.Results
	err     error
}

type speechStartedMsg struct {
	done <-chan error
	err  error
}

type speechDoneMsg struct {
	err error
}

type digestMsg struct {
	title string
	text  string
	err   error
}

type answerMsg struct {
	question string
	answer   string
	err      error
}

type exportMsg struct {
	path string
	err  error
}

type deletedMsg struct {
	id  string
	err error
}

type clearedMsg struct {
	count int
	err   error
}

type lockMsg struct {
	info string
	err  error
}

type closedMsg struct{}

type settleMsg struct {
	seq uint64
}

type relayoutMsg struct {
	seq int
}

func listLibraryJob(rd *reader.Reader) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		metas, err := rd.Library().List(ctx)
		return libraryMsg{metas: metas, locked: rd.Prefs().Locked(), err: err}, err
	}
}

// importJob imports a local file or, for http(s) sources, a download.
func importJob(rd *reader.Reader, source string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, importTimeout)
		defer cancel()
		var (
			meta library.Meta
			err  error
		)
		if isURL(source) {
			meta, err = rd.Library().ImportURL(ctx, source)
		} else {
			meta, err = rd.Library().ImportFile(ctx, expandHome(source))
		}
		return importedMsg{meta: meta, err: err}, err
	}
}

func openJob(rd *reader.Reader, id, password string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		state, err := rd.Open(ctx, id, password)
		return openedMsg{state: state, err: err}, err
	}
}

func closeJob(rd *reader.Reader) jobRunner {
	return func(context.Context) (tea.Msg, error) {
		rd.Close()
		return closedMsg{}, nil
	}
}

// viewJob runs a navigation or view change and reports the resulting state.
func viewJob(rd *reader.Reader, change func(context.Context) error) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		err := change(ctx)
		state, stateErr := rd.State()
		if err == nil {
			err = stateErr
		}
		return pageMsg{state: state, err: err}, err
	}
}

func goToJob(rd *reader.Reader, page int) jobRunner {
	return viewJob(rd, func(ctx context.Context) error {
		_, err := rd.GoTo(ctx, page)
		return err
	})
}

func hitJob(rd *reader.Reader, move func(context.Context) (search.Hit, error)) jobRunner {
	return viewJob(rd, func(ctx context.Context) error {
		_, err := move(ctx)
		return err
	})
}

func highlightJob(rd *reader.Reader, colour string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		h, err := rd.HighlightSelection(ctx, colour)
		return highlightMsg{highlight: h, err: err}, err
	}
}

// annotateJob runs a store change and reports info on success.
func annotateJob(info string, change func(context.Context) error) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		if err := change(ctx); err != nil {
			return annotateMsg{err: err}, err
		}
		return annotateMsg{info: info}, nil
	}
}

func searchJob(rd *reader.Reader, query string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		res, err := rd.Search(ctx, query)
		return searchMsg{results: res, err: err}, err
	}
}

func speakJob(rd *reader.Reader) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		done, err := rd.Speak(ctx)
		return speechStartedMsg{done: done, err: err}, err
	}
}

func waitSpeech(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return speechDoneMsg{err: <-done}
	}
}

func digestJob(rd *reader.Reader) jobRunner {
	return func(context.Context) (tea.Msg, error) {
		text, err := rd.Digest()
		return digestMsg{title: "Digest", text: text, err: err}, err
	}
}

func condenseJob(rd *reader.Reader) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, llmTimeout)
		defer cancel()
		text, err := rd.Condense(ctx)
		return digestMsg{title: "Condensed digest", text: text, err: err}, err
	}
}

func questionAnswerJob(rd *reader.Reader, question string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, llmTimeout)
		defer cancel()
		answer, err := rd.Ask(ctx, question)
		return answerMsg{question: question, answer: answer, err: err}, err
	}
}

// exportJob writes the annotations of the open document into dir.
func exportJob(rd *reader.Reader, dir string, f export.Format) jobRunner {
	return func(context.Context) (tea.Msg, error) {
		path, err := exportTo(rd, dir, f)
		return exportMsg{path: path, err: err}, err
	}
}

func exportTo(rd *reader.Reader, dir string, f export.Format) (string, error) {
	state, err := rd.State()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, export.Filename(state.Meta.Name, f))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := rd.Export(out, f); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

func deleteJob(rd *reader.Reader, id string) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		err := rd.Delete(ctx, id)
		return deletedMsg{id: id, err: err}, err
	}
}

func clearJob(rd *reader.Reader) jobRunner {
	return func(ctx context.Context) (tea.Msg, error) {
		n, err := rd.ClearLibrary(ctx)
		return clearedMsg{count: n, err: err}, err
	}
}

func lockJob(info string, change func() error) jobRunner {
	return func(context.Context) (tea.Msg, error) {
		if err := change(); err != nil {
			return lockMsg{err: err}, err
		}
		return lockMsg{info: info}, nil
	}
}

func settleAfter(seq uint64) tea.Cmd {
	return tea.Tick(selection.Debounce, func(time.Time) tea.Msg { return settleMsg{seq: seq} })
}

func relayoutAfter(seq int) tea.Cmd {
	return tea.Tick(relayoutDelay, func(time.Time) tea.Msg { return relayoutMsg{seq: seq} })
}

func isURL(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// errorText renders err for the message line.
func errorText(err error) string {
	switch {
	case errors.Is(err, reader.ErrLocked), errors.Is(err, prefs.ErrWrongPassword):
		return "Wrong password."
	case errors.Is(err, speech.ErrNotConfigured):
		return "No text-to-speech command found. Install espeak-ng or pass -tts."
	case errors.Is(err, speech.ErrNoText):
		return "Nothing to read on this page."
	case errors.Is(err, reader.ErrNoLLM):
		return "No language model configured. Start without -no-llm and run Ollama."
	case errors.Is(err, annotations.ErrEmptySelection):
		return "Select some text first."
	case errors.Is(err, annotations.ErrStorage):
		return fmt.Sprintf("Could not save: %v", err)
	default:
		return err.Error()
	}
}

func trimmedTitle(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 60 {
		return value
	}
	return fmt.Sprintf("%s…", strings.TrimSpace(string(runes[:57])))
}
