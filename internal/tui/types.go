package tui

import "github.com/csheth/lumiread/internal/annotations"

type stage int

const (
	stageLibrary stage = iota
	stageLoading
	stageReader
	stagePrompt
	stagePanel
	stagePalette
)

type interactionMode int

const (
	modeNormal interactionMode = iota
	modeSelect
)

type promptKind int

const (
	promptNone promptKind = iota
	promptImport
	promptUnlock
	promptSetPassword
	promptRemovePassword
	promptFilter
	promptSearch
	promptGoTo
	promptNote
	promptSticky
	promptAsk
	promptExport
)

type panelKind int

const (
	panelNone panelKind = iota
	panelHighlights
	panelBookmarks
	panelStickies
	panelResults
	panelText
)

// panelItem is one row of a list panel. ID is the highlight or sticky id
// for panels that support deletion.
type panelItem struct {
	Label string
	Page  int
	ID    string
}

const heroTagline = "Read, mark and keep what matters."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 4
)

// readerChrome is the number of terminal rows used by the header, status bar
// and message line around the page.
const readerChrome = 5

// colourKeys maps the number keys to the highlight palette.
var colourKeys = map[string]string{
	"1": annotations.Palette[0],
	"2": annotations.Palette[1],
	"3": annotations.Palette[2],
	"4": annotations.Palette[3],
	"5": annotations.Palette[4],
}
