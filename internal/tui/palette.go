package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// command is an action reachable from the palette. Running it replays key on
// the screen it belongs to.
type command struct {
	key         string
	title       string
	description string
	library     bool
	reader      bool
}

var commands = []command{
	{key: "i", title: "Import", description: "Add a PDF from a path or URL", library: true},
	{key: "/", title: "Filter", description: "Filter the library by name", library: true},
	{key: "x", title: "Delete document", description: "Remove the selected document and its annotations", library: true},
	{key: "X", title: "Clear library", description: "Remove every document", library: true},
	{key: "L", title: "Lock", description: "Set or remove the library password", library: true},
	{key: "]", title: "Next page", description: "Go to the next page", reader: true},
	{key: "[", title: "Previous page", description: "Go to the previous page", reader: true},
	{key: "g", title: "Go to page", description: "Jump to a page number", reader: true},
	{key: "v", title: "Select", description: "Select text to highlight", reader: true},
	{key: "+", title: "Zoom in", description: "Increase the zoom one step", reader: true},
	{key: "-", title: "Zoom out", description: "Decrease the zoom one step", reader: true},
	{key: "w", title: "Fit width", description: "Toggle fitting the page width", reader: true},
	{key: "f", title: "Fit page", description: "Toggle fitting the whole page", reader: true},
	{key: "c", title: "Continuous", description: "Toggle continuous scrolling", reader: true},
	{key: "/", title: "Search", description: "Search the whole document", reader: true},
	{key: "n", title: "Next match", description: "Go to the next search match", reader: true},
	{key: "N", title: "Previous match", description: "Go to the previous search match", reader: true},
	{key: "r", title: "Results", description: "List the search matches", reader: true},
	{key: "b", title: "Bookmark", description: "Toggle a bookmark on this page", reader: true},
	{key: "B", title: "Bookmarks", description: "List bookmarked pages", reader: true},
	{key: "H", title: "Highlights", description: "List and delete highlights", reader: true},
	{key: "m", title: "Page note", description: "Write the note for this page", reader: true},
	{key: "t", title: "Sticky note", description: "Pin a sticky note at the cursor", reader: true},
	{key: "T", title: "Sticky notes", description: "List and delete sticky notes", reader: true},
	{key: "s", title: "Read aloud", description: "Start or stop reading the page aloud", reader: true},
	{key: "e", title: "Export", description: "Export annotations as md, txt or html", reader: true},
	{key: "i", title: "Digest", description: "Show highlights and notes at a glance", reader: true},
	{key: "I", title: "Condense", description: "Condense the digest with the language model", reader: true},
	{key: "a", title: "Ask", description: "Ask the language model about this page", reader: true},
	{key: "q", title: "Close", description: "Close the document", reader: true},
	{key: "D", title: "Dark mode", description: "Toggle dark mode", library: true, reader: true},
	{key: "?", title: "Help", description: "Toggle the key legend", library: true, reader: true},
}

// commandsFor lists the commands of screen s.
func commandsFor(s stage) []command {
	out := make([]command, 0, len(commands))
	for _, c := range commands {
		if (s == stageLibrary && c.library) || (s == stageReader && c.reader) {
			out = append(out, c)
		}
	}
	return out
}

func filterCommands(list []command, query string) []command {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return list
	}
	var out []command
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.title), query) || strings.Contains(strings.ToLower(c.description), query) {
			out = append(out, c)
		}
	}
	return out
}

func (m *model) openPalette() {
	m.back = m.stage
	m.stage = stagePalette
	m.paletteInput.SetValue("")
	m.paletteInput.Focus()
	m.paletteCursor = 0
	m.paletteMatches = commandsFor(m.back)
}

func (m *model) handlePaletteKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "esc", "ctrl+k":
		m.paletteInput.Blur()
		m.stage = m.back
		return nil
	case "up":
		if m.paletteCursor > 0 {
			m.paletteCursor--
		}
		return nil
	case "down":
		if m.paletteCursor < len(m.paletteMatches)-1 {
			m.paletteCursor++
		}
		return nil
	case "enter":
		m.paletteInput.Blur()
		m.stage = m.back
		if len(m.paletteMatches) == 0 {
			return nil
		}
		c := m.paletteMatches[m.paletteCursor]
		return m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(c.key)})
	}
	var cmd tea.Cmd
	m.paletteInput, cmd = m.paletteInput.Update(key)
	m.paletteMatches = filterCommands(commandsFor(m.back), m.paletteInput.Value())
	if m.paletteCursor >= len(m.paletteMatches) {
		m.paletteCursor = 0
	}
	return tea.Batch(cmd, textinput.Blink)
}
