// Package tui is the terminal front end of the reader: a library screen and
// a reading screen that draws page text, highlights and sticky notes on a
// character grid.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/lumiread/internal/export"
	"github.com/csheth/lumiread/internal/library"
	"github.com/csheth/lumiread/internal/reader"
	"github.com/csheth/lumiread/internal/render"
	"github.com/csheth/lumiread/internal/search"
	"github.com/csheth/lumiread/internal/selection"
)

// Config wires runtime options into the TUI program.
type Config struct {
	Reader *reader.Reader
	// Screen receives the size of the reading area. It must be the one whose
	// Container the reader measures.
	Screen    *Screen
	ExportDir string
	// OpenID is opened as soon as the program starts.
	OpenID string
	Logger *slog.Logger
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	if config.Screen == nil {
		config.Screen = NewScreen()
	}
	if config.ExportDir == "" {
		config.ExportDir = "."
	}
	input := textinput.New()
	input.CharLimit = 512
	input.Width = 70

	paletteInput := textinput.New()
	paletteInput.Placeholder = "Type to filter commands…"
	paletteInput.CharLimit = 60
	paletteInput.Width = 50

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	page := viewport.New(80, 20)
	page.MouseWheelEnabled = true
	panel := viewport.New(80, 16)

	m := &model{
		config:       config,
		stage:        stageLibrary,
		mode:         modeNormal,
		layout:       newPageLayout(),
		input:        input,
		paletteInput: paletteInput,
		spinner:      spin,
		page:         page,
		panel:        panel,
		jobs:         newJobBus(config.Logger),
		running:      runningJobs{},
		selAnchor:    -1,
		infoMessage:  "Press i to import a PDF, Enter to open one.",
	}
	if config.Reader != nil {
		if p, err := config.Reader.Prefs().Load(); err == nil {
			m.dark = p.DarkMode
		}
	}
	return m
}

type model struct {
	config Config
	stage  stage
	// back is the stage a prompt, panel or the palette returns to.
	back   stage
	mode   interactionMode
	layout pageLayout

	input        textinput.Model
	prompt       promptKind
	paletteInput textinput.Model
	spinner      spinner.Model
	page         viewport.Model
	panel        viewport.Model
	jobs         *jobBus
	running      runningJobs

	metas         []library.Meta
	filter        string
	libCursor     int
	locked        bool
	pendingOpen   string
	unlockTried   bool
	confirmDelete string
	confirmClear  bool

	hasDoc      bool
	state       reader.State
	cursor      int
	selAnchor   int
	selection   selection.Selection
	settled     bool
	speaking    bool
	pageOffsets map[int]int
	resizeSeq   int

	panelKind   panelKind
	panelTitle  string
	panelItems  []panelItem
	panelCursor int

	paletteMatches []command
	paletteCursor  int

	dark         bool
	helpVisible  bool
	infoMessage  string
	errorMessage string
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.config.Reader == nil {
		return tea.Batch(cmds...)
	}
	cmds = append(cmds, m.jobs.Start(jobKindLibrary, listLibraryJob(m.config.Reader)))
	if id := strings.TrimSpace(m.config.OpenID); id != "" {
		m.pendingOpen = id
		m.stage = stageLoading
		m.infoMessage = "Opening document…"
		cmds = append(cmds, m.jobs.Start(jobKindOpen, openJob(m.config.Reader, id, "")))
	}
	return tea.Batch(cmds...)
}

func (m *model) rd() *reader.Reader { return m.config.Reader }

func (m *model) start(kind jobKind, runner jobRunner) tea.Cmd {
	return m.jobs.Start(kind, runner)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.running.busy() || m.stage == stageLoading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	case jobStartedMsg:
		if m.running.add(msg.job) {
			return m, m.spinner.Tick
		}
		return m, nil
	case jobDoneMsg:
		m.running.done(msg.job)
		if msg.msg == nil {
			return m, nil
		}
		return m.Update(msg.msg)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		if m.stage == stageReader {
			var cmd tea.Cmd
			m.page, cmd = m.page.Update(msg)
			return m, cmd
		}
		return m, nil
	case tea.WindowSizeMsg:
		return m, m.resize(msg.Width, msg.Height)
	case relayoutMsg:
		if msg.seq != m.resizeSeq || !m.hasDoc {
			return m, nil
		}
		return m, m.start(jobKindView, viewJob(m.rd(), m.rd().Relayout))
	case settleMsg:
		if sel, ok := m.rd().SettleSelection(msg.seq); ok && m.mode == modeSelect {
			m.selection = sel
			m.settled = true
			m.infoMessage = "Pick a colour with 1-5, Esc to cancel."
		}
		return m, nil
	default:
		return m, m.handleResult(msg)
	}
}

// resize lays the screen out again and schedules a re-render of the open
// document once resizing stops.
func (m *model) resize(width, height int) tea.Cmd {
	m.layout.Update(width, height)
	m.config.Screen.Resize(m.layout.pageWidth, m.layout.pageHeight)
	m.page.Width = m.layout.pageWidth
	m.page.Height = m.layout.pageHeight
	m.panel.Width = m.layout.pageWidth
	m.panel.Height = m.layout.panelHeight
	m.input.Width = m.layout.pageWidth - 10
	if !m.hasDoc {
		return nil
	}
	m.refreshPage()
	m.resizeSeq++
	return relayoutAfter(m.resizeSeq)
}

func (m *model) handleResult(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case libraryMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.metas = msg.metas
		m.locked = msg.locked
		m.clampLibraryCursor()
		return nil
	case importedMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			m.infoMessage = "Import failed. Press i to try another file."
			return nil
		}
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Imported %s (%d pages).", msg.meta.Name, msg.meta.PageCount)
		return m.start(jobKindLibrary, listLibraryJob(m.rd()))
	case openedMsg:
		if msg.err != nil {
			m.stage = stageLibrary
			if errors.Is(msg.err, reader.ErrLocked) && m.pendingOpen != "" {
				m.errorMessage = ""
				if m.unlockTried {
					m.errorMessage = errorText(msg.err)
				}
				m.infoMessage = "Enter the library password to open this document."
				m.openPrompt(promptUnlock, "")
				return textinput.Blink
			}
			m.pendingOpen = ""
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.pendingOpen = ""
		m.unlockTried = false
		m.hasDoc = true
		m.stage = stageReader
		m.mode = modeNormal
		m.state = msg.state
		m.cursor = 0
		m.resetSelection()
		m.errorMessage = msg.state.Warning
		m.infoMessage = fmt.Sprintf("Opened %s at page %d.", msg.state.Meta.Name, msg.state.Page)
		m.refreshPage()
		return nil
	case pageMsg:
		if msg.err != nil && !errors.Is(msg.err, reader.ErrNoDocument) {
			m.errorMessage = errorText(msg.err)
		}
		if !m.hasDoc || errors.Is(msg.err, reader.ErrNoDocument) {
			return nil
		}
		if msg.state.Page != m.state.Page {
			m.cursor = 0
			m.resetSelection()
		}
		m.state = msg.state
		m.refreshPage()
		return nil
	case highlightMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.resetSelection()
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Highlighted “%s”.", trimmedTitle(msg.highlight.Text))
		m.refreshPage()
		return nil
	case annotateMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.errorMessage = ""
		m.infoMessage = msg.info
		m.refreshPage()
		if m.stage == stagePanel {
			m.reloadPanel()
		}
		return nil
	case searchMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.errorMessage = ""
		if msg.results.Len() == 0 {
			m.infoMessage = fmt.Sprintf("No matches for %q.", msg.results.Query)
			return nil
		}
		m.infoMessage = fmt.Sprintf("%d matches for %q. n/N to step through them.", msg.results.Len(), msg.results.Query)
		m.openPanel(panelResults)
		rd := m.rd()
		return m.start(jobKindNavigate, hitJob(rd, func(ctx context.Context) (search.Hit, error) {
			return rd.SelectHit(ctx, 0)
		}))
	case speechStartedMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.speaking = true
		m.infoMessage = fmt.Sprintf("Reading page %d aloud. Press s to stop.", m.state.Page)
		return waitSpeech(msg.done)
	case speechDoneMsg:
		m.speaking = false
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.infoMessage = "Speech stopped."
		return nil
	case digestMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.errorMessage = ""
		m.openTextPanel(msg.title, msg.text)
		return nil
	case answerMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			m.infoMessage = "Question failed. Press a to retry."
			return nil
		}
		m.errorMessage = ""
		m.openTextPanel("Answer", fmt.Sprintf("Q: %s\n\n%s", msg.question, msg.answer))
		return nil
	case exportMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Exported to %s", msg.path)
		return nil
	case deletedMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.infoMessage = "Document deleted."
		return m.start(jobKindLibrary, listLibraryJob(m.rd()))
	case clearedMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.infoMessage = fmt.Sprintf("Removed %d document(s).", msg.count)
		return m.start(jobKindLibrary, listLibraryJob(m.rd()))
	case lockMsg:
		if msg.err != nil {
			m.errorMessage = errorText(msg.err)
			return nil
		}
		m.errorMessage = ""
		m.infoMessage = msg.info
		m.locked = m.rd().Prefs().Locked()
		return nil
	case closedMsg:
		m.hasDoc = false
		m.speaking = false
		m.state = reader.State{}
		m.stage = stageLibrary
		m.mode = modeNormal
		m.infoMessage = "Document closed."
		return m.start(jobKindLibrary, listLibraryJob(m.rd()))
	}
	return nil
}

func (m *model) handleKey(key tea.KeyMsg) tea.Cmd {
	switch m.stage {
	case stageLibrary:
		return m.handleLibraryKey(key)
	case stageReader:
		if m.mode == modeSelect {
			return m.handleSelectKey(key)
		}
		return m.handleReaderKey(key)
	case stagePrompt:
		return m.handlePromptKey(key)
	case stagePanel:
		return m.handlePanelKey(key)
	case stagePalette:
		return m.handlePaletteKey(key)
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(key)
		return cmd
	}
}

func (m *model) handleLibraryKey(key tea.KeyMsg) tea.Cmd {
	k := key.String()
	if k != "x" {
		m.confirmDelete = ""
	}
	if k != "X" {
		m.confirmClear = false
	}
	switch k {
	case "esc", "q":
		if m.filter != "" {
			m.filter = ""
			m.libCursor = 0
			return nil
		}
		return tea.Quit
	case "up", "k":
		m.libCursor--
		m.clampLibraryCursor()
	case "down", "j":
		m.libCursor++
		m.clampLibraryCursor()
	case "enter", "o":
		meta, ok := m.selectedMeta()
		if !ok {
			m.infoMessage = "The library is empty. Press i to import a PDF."
			return nil
		}
		m.pendingOpen = meta.ID
		m.unlockTried = false
		if m.locked {
			m.openPrompt(promptUnlock, "")
			return textinput.Blink
		}
		m.stage = stageLoading
		m.infoMessage = fmt.Sprintf("Opening %s…", meta.Name)
		return tea.Batch(m.spinner.Tick, m.start(jobKindOpen, openJob(m.rd(), meta.ID, "")))
	case "i":
		m.openPrompt(promptImport, "")
		return textinput.Blink
	case "/":
		m.openPrompt(promptFilter, m.filter)
		return textinput.Blink
	case "x":
		meta, ok := m.selectedMeta()
		if !ok {
			return nil
		}
		if m.confirmDelete != meta.ID {
			m.confirmDelete = meta.ID
			m.infoMessage = fmt.Sprintf("Press x again to delete %s.", meta.Name)
			return nil
		}
		m.confirmDelete = ""
		return m.start(jobKindDelete, deleteJob(m.rd(), meta.ID))
	case "X":
		if !m.confirmClear {
			m.confirmClear = true
			m.infoMessage = "Press X again to delete every document."
			return nil
		}
		m.confirmClear = false
		return m.start(jobKindClear, clearJob(m.rd()))
	case "L":
		if m.locked {
			m.openPrompt(promptRemovePassword, "")
		} else {
			m.openPrompt(promptSetPassword, "")
		}
		return textinput.Blink
	case "r":
		return m.start(jobKindLibrary, listLibraryJob(m.rd()))
	default:
		return m.handleCommonKey(k)
	}
	return nil
}

// handleCommonKey covers keys shared by the library and reading screens.
func (m *model) handleCommonKey(k string) tea.Cmd {
	switch k {
	case "?":
		m.helpVisible = !m.helpVisible
	case "D":
		m.dark = !m.dark
		m.refreshPage()
		on := m.dark
		return m.start(jobKindPrefs, lockJob(fmt.Sprintf("Dark mode %s.", onOff(on)), func() error {
			return m.rd().Prefs().SetDarkMode(on)
		}))
	case "ctrl+k":
		m.openPalette()
		return textinput.Blink
	}
	return nil
}

func (m *model) handleReaderKey(key tea.KeyMsg) tea.Cmd {
	rd := m.rd()
	switch k := key.String(); k {
	case "esc", "q":
		rd.StopSpeech()
		m.stage = stageLoading
		m.infoMessage = "Closing…"
		return m.start(jobKindClose, closeJob(rd))
	case "right", "l", "pgdown", " ", "]":
		return m.start(jobKindNavigate, viewJob(rd, func(ctx context.Context) error {
			_, err := rd.Next(ctx)
			return err
		}))
	case "left", "h", "pgup", "[":
		return m.start(jobKindNavigate, viewJob(rd, func(ctx context.Context) error {
			_, err := rd.Prev(ctx)
			return err
		}))
	case "home":
		return m.start(jobKindNavigate, goToJob(rd, 1))
	case "end":
		return m.start(jobKindNavigate, goToJob(rd, m.state.PageCount))
	case "g":
		m.openPrompt(promptGoTo, "")
		return textinput.Blink
	case "down", "j":
		m.moveCursor(1)
	case "up", "k":
		m.moveCursor(-1)
	case "v":
		if len(rd.Fragments(m.state.Page)) == 0 {
			m.infoMessage = "No text to select on this page."
			return nil
		}
		m.mode = modeSelect
		m.selAnchor = m.cursor
		m.infoMessage = "Selecting. Move with j/k, pick a colour with 1-5."
		return m.updateSelection()
	case "+", "=":
		return m.start(jobKindView, viewJob(rd, rd.ZoomIn))
	case "-":
		return m.start(jobKindView, viewJob(rd, rd.ZoomOut))
	case "w":
		return m.start(jobKindView, viewJob(rd, rd.FitWidth))
	case "f":
		return m.start(jobKindView, viewJob(rd, rd.FitPage))
	case "c":
		return m.start(jobKindView, viewJob(rd, rd.ToggleContinuous))
	case "/":
		m.openPrompt(promptSearch, "")
		return textinput.Blink
	case "n":
		return m.start(jobKindNavigate, hitJob(rd, rd.NextHit))
	case "N":
		return m.start(jobKindNavigate, hitJob(rd, rd.PrevHit))
	case "r":
		if rd.Results() == nil {
			m.infoMessage = "Search first with /."
			return nil
		}
		m.openPanel(panelResults)
	case "b":
		page := m.state.Page
		return m.start(jobKindAnnotate, func(ctx context.Context) (tea.Msg, error) {
			on, err := rd.ToggleBookmark(ctx)
			if err != nil {
				return annotateMsg{err: err}, err
			}
			if on {
				return annotateMsg{info: fmt.Sprintf("Bookmarked page %d.", page)}, nil
			}
			return annotateMsg{info: fmt.Sprintf("Removed bookmark on page %d.", page)}, nil
		})
	case "B":
		m.openPanel(panelBookmarks)
	case "H":
		m.openPanel(panelHighlights)
	case "T":
		m.openPanel(panelStickies)
	case "m":
		m.openPrompt(promptNote, rd.Note())
		return textinput.Blink
	case "t":
		m.openPrompt(promptSticky, "")
		return textinput.Blink
	case "s":
		if m.speaking {
			rd.StopSpeech()
			return nil
		}
		return m.start(jobKindSpeak, speakJob(rd))
	case "e":
		m.openPrompt(promptExport, string(export.FormatMarkdown))
		return textinput.Blink
	case "i":
		return m.start(jobKindAnnotate, digestJob(rd))
	case "I":
		m.infoMessage = "Condensing highlights and notes…"
		return m.start(jobKindCondense, condenseJob(rd))
	case "a":
		m.openPrompt(promptAsk, "")
		return textinput.Blink
	default:
		return m.handleCommonKey(k)
	}
	return nil
}

func (m *model) handleSelectKey(key tea.KeyMsg) tea.Cmd {
	k := key.String()
	if colour, ok := colourKeys[k]; ok {
		if !m.settled {
			m.infoMessage = "Selection is still settling."
			return nil
		}
		return m.start(jobKindAnnotate, highlightJob(m.rd(), colour))
	}
	switch k {
	case "esc", "v", "q":
		m.resetSelection()
		m.infoMessage = "Selection cleared."
		m.refreshPage()
	case "down", "j", "right", "l":
		m.moveCursor(1)
		return m.updateSelection()
	case "up", "k", "left", "h":
		m.moveCursor(-1)
		return m.updateSelection()
	}
	return nil
}

// updateSelection records the anchor..cursor range and waits for it to
// settle before the toolbar is offered.
func (m *model) updateSelection() tea.Cmd {
	sel, seq, ok := m.rd().SelectFragments(m.state.Page, m.selAnchor, m.cursor)
	m.settled = false
	m.selection = sel
	m.refreshPage()
	if !ok {
		return nil
	}
	return settleAfter(seq)
}

func (m *model) resetSelection() {
	if m.mode == modeSelect && m.rd() != nil {
		m.rd().ClearSelection()
	}
	m.mode = modeNormal
	m.selAnchor = -1
	m.selection = selection.Selection{}
	m.settled = false
}

func (m *model) moveCursor(delta int) {
	frags := m.rd().Fragments(m.state.Page)
	if len(frags) == 0 {
		m.cursor = 0
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(frags) {
		m.cursor = len(frags) - 1
	}
	m.refreshPage()
}

func (m *model) openPrompt(kind promptKind, value string) {
	if m.stage != stagePrompt {
		m.back = m.stage
		if m.back == stageLoading {
			m.back = stageLibrary
		}
	}
	m.stage = stagePrompt
	m.prompt = kind
	m.input.Placeholder = promptPlaceholder(kind)
	m.input.EchoMode = textinput.EchoNormal
	if kind == promptUnlock || kind == promptSetPassword || kind == promptRemovePassword {
		m.input.EchoMode = textinput.EchoPassword
		m.input.EchoCharacter = '•'
	}
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *model) closePrompt() {
	m.input.Blur()
	m.input.SetValue("")
	m.stage = m.back
	m.prompt = promptNone
}

func (m *model) handlePromptKey(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		if m.prompt == promptUnlock {
			m.pendingOpen = ""
		}
		m.closePrompt()
		return nil
	case tea.KeyEnter:
		kind := m.prompt
		value := strings.TrimSpace(m.input.Value())
		m.closePrompt()
		return m.submitPrompt(kind, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return cmd
}

func (m *model) submitPrompt(kind promptKind, value string) tea.Cmd {
	rd := m.rd()
	switch kind {
	case promptImport:
		if value == "" {
			m.errorMessage = "Enter a file path or URL."
			return nil
		}
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Importing %s…", value)
		return m.start(jobKindImport, importJob(rd, value))
	case promptUnlock:
		id := m.pendingOpen
		if id == "" {
			return nil
		}
		m.unlockTried = true
		m.stage = stageLoading
		m.infoMessage = "Opening document…"
		return tea.Batch(m.spinner.Tick, m.start(jobKindOpen, openJob(rd, id, value)))
	case promptSetPassword:
		return m.start(jobKindLock, lockJob("Library locked. The password is asked when opening a document.", func() error {
			return rd.Prefs().SetPassword(value)
		}))
	case promptRemovePassword:
		return m.start(jobKindLock, lockJob("Password removed.", func() error {
			return rd.Prefs().RemovePassword(value)
		}))
	case promptFilter:
		m.filter = value
		m.libCursor = 0
	case promptSearch:
		if value == "" {
			return nil
		}
		m.infoMessage = fmt.Sprintf("Searching for %q…", value)
		return m.start(jobKindSearch, searchJob(rd, value))
	case promptGoTo:
		page, err := strconv.Atoi(value)
		if err != nil {
			m.errorMessage = fmt.Sprintf("%q is not a page number.", value)
			return nil
		}
		m.errorMessage = ""
		return m.start(jobKindNavigate, goToJob(rd, page))
	case promptNote:
		page := m.state.Page
		return m.start(jobKindAnnotate, annotateJob(fmt.Sprintf("Note saved for page %d.", page), func(ctx context.Context) error {
			return rd.SetNote(ctx, value)
		}))
	case promptSticky:
		x, y := m.cursorPoint()
		return m.start(jobKindAnnotate, annotateJob("Sticky note added.", func(ctx context.Context) error {
			n, err := rd.AddSticky(ctx, x, y)
			if err != nil || value == "" {
				return err
			}
			return rd.UpdateSticky(ctx, n.ID, value)
		}))
	case promptAsk:
		if value == "" {
			m.infoMessage = "Ask a question or press Esc to cancel."
			return nil
		}
		m.infoMessage = "Answering question via LLM…"
		return m.start(jobKindQuestion, questionAnswerJob(rd, value))
	case promptExport:
		f, err := export.ParseFormat(value)
		if err != nil {
			m.errorMessage = errorText(err)
			return nil
		}
		return m.start(jobKindExport, exportJob(rd, m.config.ExportDir, f))
	}
	return nil
}

// cursorPoint is the viewport position of the fragment under the cursor,
// where new sticky notes are placed.
func (m *model) cursorPoint() (float64, float64) {
	frags := m.rd().Fragments(m.state.Page)
	if m.cursor < 0 || m.cursor >= len(frags) {
		return cellWidthPx, cellHeightPx
	}
	f := frags[m.cursor]
	return f.X + f.Width, f.Y
}

func (m *model) openPanel(kind panelKind) {
	if m.stage != stagePanel {
		m.back = m.stage
	}
	m.stage = stagePanel
	m.panelKind = kind
	m.panelCursor = 0
	m.reloadPanel()
}

func (m *model) openTextPanel(title, text string) {
	m.openPanel(panelText)
	m.panelTitle = title
	m.panel.SetContent(wrapText(text, m.panel.Width))
	m.panel.GotoTop()
}

// reloadPanel refreshes the list items of the open panel from the reader.
func (m *model) reloadPanel() {
	rd := m.rd()
	var items []panelItem
	switch m.panelKind {
	case panelHighlights:
		m.panelTitle = "Highlights"
		for _, h := range rd.Highlights() {
			items = append(items, panelItem{Label: trimmedTitle(h.Text), Page: h.Page, ID: h.ID})
		}
	case panelBookmarks:
		m.panelTitle = "Bookmarks"
		for _, p := range rd.Bookmarks() {
			label := fmt.Sprintf("Page %d", p)
			if p == m.state.Page {
				label += " (current)"
			}
			items = append(items, panelItem{Label: label, Page: p})
		}
	case panelStickies:
		m.panelTitle = "Sticky notes"
		for p := 1; p <= m.state.PageCount; p++ {
			for _, n := range rd.Stickies(p) {
				text := n.Text
				if strings.TrimSpace(text) == "" {
					text = "(empty)"
				}
				items = append(items, panelItem{Label: trimmedTitle(text), Page: n.Page, ID: n.ID})
			}
		}
	case panelResults:
		res := rd.Results()
		if res != nil {
			m.panelTitle = fmt.Sprintf("Results for %q", res.Query)
			for _, h := range res.Hits {
				items = append(items, panelItem{Label: search.Mark(h.Snippet, res.Query, func(s string) string { return searchHighlightStyle.Render(s) }), Page: h.Page})
			}
			if pos := res.Position(); pos > 0 {
				m.panelCursor = pos - 1
			}
		}
	default:
		return
	}
	m.panelItems = items
	if m.panelCursor >= len(items) {
		m.panelCursor = len(items) - 1
	}
	if m.panelCursor < 0 {
		m.panelCursor = 0
	}
}

func (m *model) handlePanelKey(key tea.KeyMsg) tea.Cmd {
	rd := m.rd()
	k := key.String()
	if k == "esc" || k == "q" {
		m.stage = m.back
		m.panelKind = panelNone
		return nil
	}
	if m.panelKind == panelText {
		var cmd tea.Cmd
		m.panel, cmd = m.panel.Update(key)
		return cmd
	}
	switch k {
	case "up", "k":
		if m.panelCursor > 0 {
			m.panelCursor--
		}
	case "down", "j":
		if m.panelCursor < len(m.panelItems)-1 {
			m.panelCursor++
		}
	case "enter":
		if len(m.panelItems) == 0 {
			return nil
		}
		item := m.panelItems[m.panelCursor]
		kind, idx := m.panelKind, m.panelCursor
		m.stage = m.back
		m.panelKind = panelNone
		if kind == panelResults {
			return m.start(jobKindNavigate, hitJob(rd, func(ctx context.Context) (search.Hit, error) {
				return rd.SelectHit(ctx, idx)
			}))
		}
		return m.start(jobKindNavigate, goToJob(rd, item.Page))
	case "x", "d":
		if len(m.panelItems) == 0 || m.panelItems[m.panelCursor].ID == "" {
			return nil
		}
		id := m.panelItems[m.panelCursor].ID
		switch m.panelKind {
		case panelHighlights:
			return m.start(jobKindAnnotate, annotateJob("Highlight deleted.", func(ctx context.Context) error {
				return rd.DeleteHighlight(ctx, id)
			}))
		case panelStickies:
			return m.start(jobKindAnnotate, annotateJob("Sticky note deleted.", func(ctx context.Context) error {
				return rd.DeleteSticky(ctx, id)
			}))
		}
	}
	return nil
}

func (m *model) selectedMeta() (library.Meta, bool) {
	visible := library.Filter(m.metas, m.filter)
	if m.libCursor < 0 || m.libCursor >= len(visible) {
		return library.Meta{}, false
	}
	return visible[m.libCursor], true
}

func (m *model) clampLibraryCursor() {
	n := len(library.Filter(m.metas, m.filter))
	if m.libCursor >= n {
		m.libCursor = n - 1
	}
	if m.libCursor < 0 {
		m.libCursor = 0
	}
}

// refreshPage redraws the page grid into the page viewport. Continuous mode
// stacks every page under a rule and scrolls to the current one.
func (m *model) refreshPage() {
	if !m.hasDoc || m.rd() == nil {
		return
	}
	t := m.theme()
	if m.state.Mode != render.Continuous {
		m.pageOffsets = nil
		m.page.SetContent(m.pageBody(t, m.state.Page))
		m.ensureCursorVisible(0)
		return
	}
	m.pageOffsets = make(map[int]int, m.state.PageCount)
	var parts []string
	line := 0
	for p := 1; p <= m.state.PageCount; p++ {
		m.pageOffsets[p] = line
		body := m.pageBody(t, p)
		parts = append(parts, t.rule.Render(fmt.Sprintf("── page %d ──", p)), body)
		line += 2 + strings.Count(body, "\n")
	}
	m.page.SetContent(strings.Join(parts, "\n"))
	m.ensureCursorVisible(m.pageOffsets[m.state.Page] + 1)
}

func (m *model) pageBody(t theme, page int) string {
	rd := m.rd()
	frags := rd.Fragments(page)
	stickies := rd.Stickies(page)
	if len(frags) == 0 && len(stickies) == 0 {
		if m.pageRendered(page) {
			return t.muted.Render("(no text on this page)")
		}
		return t.muted.Render(fmt.Sprintf("Rendering page %d…", page))
	}
	marks := noMarks()
	if page == m.state.Page {
		marks.cursor = m.cursor
		if m.mode == modeSelect {
			marks.selFirst, marks.selLast = m.selAnchor, m.cursor
		}
	}
	return t.renderGrid(buildGrid(frags, rd.Boxes(page), stickies, marks, m.layout.pageWidth))
}

// ensureCursorVisible scrolls the page so the cursor row, offset by the
// first line of the current page, is on screen.
func (m *model) ensureCursorVisible(offset int) {
	row := fragmentRow(m.rd().Fragments(m.state.Page), m.cursor)
	if row < 0 {
		m.page.SetYOffset(offset)
		return
	}
	row += offset
	if row < m.page.YOffset {
		m.page.SetYOffset(row)
		return
	}
	if row >= m.page.YOffset+m.page.Height {
		m.page.SetYOffset(row - m.page.Height + 1)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
