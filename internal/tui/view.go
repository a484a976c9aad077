package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/library"
	"github.com/csheth/lumiread/internal/render"
	"github.com/csheth/lumiread/internal/session"
)

func (m *model) View() string {
	switch m.stage {
	case stageLibrary:
		return m.viewLibrary()
	case stageLoading:
		return m.viewLoading()
	case stageReader:
		return m.viewReader()
	case stagePrompt:
		return m.viewPrompt()
	case stagePanel:
		return m.viewPanel()
	case stagePalette:
		return m.viewPalette()
	default:
		return ""
	}
}

func (m *model) viewLibrary() string {
	parts := []string{m.heroView(), m.libraryList(), m.sessionMeterView(), m.messagesView()}
	if m.helpVisible {
		parts = append(parts, m.keyLegendView(stageLibrary))
	}
	return joinNonEmpty(parts)
}

func (m *model) libraryList() string {
	visible := library.Filter(m.metas, m.filter)
	header := fmt.Sprintf("Library (%d)", len(m.metas))
	if m.filter != "" {
		header = fmt.Sprintf("Library (%d of %d matching %q)", len(visible), len(m.metas), m.filter)
	}
	if m.locked {
		header += "  🔒"
	}
	rows := []string{sectionHeaderStyle.Render(header)}
	if len(visible) == 0 {
		rows = append(rows, helperStyle.Render("No documents yet. Press i to import a PDF."))
		return strings.Join(rows, "\n")
	}
	nameWidth := m.layout.pageWidth - 30
	if nameWidth < 20 {
		nameWidth = 20
	}
	for i, meta := range visible {
		name := truncate.StringWithTail(meta.Name, uint(nameWidth), "…")
		line := fmt.Sprintf("%-*s  %4d/%-4d %3d%%  %s", nameWidth, name, meta.LastPage, meta.PageCount, meta.Progress, meta.Added.Format("2006-01-02"))
		if i == m.libCursor {
			rows = append(rows, currentLineStyle.Render("▸ "+line))
			continue
		}
		rows = append(rows, "  "+line)
	}
	return strings.Join(rows, "\n")
}

func (m *model) viewLoading() string {
	return joinNonEmpty([]string{m.heroView(), m.messagesView()})
}

func (m *model) viewReader() string {
	parts := []string{m.readerHeader(), m.page.View()}
	if bar := m.toolbarView(); bar != "" {
		parts = append(parts, bar)
	}
	parts = append(parts, m.sessionMeterView(), m.messagesView())
	if m.helpVisible {
		parts = append(parts, m.keyLegendView(stageReader))
	}
	return strings.Join(nonEmpty(parts), "\n")
}

func (m *model) readerHeader() string {
	title := heroTitleStyle.Render(truncate.StringWithTail(m.state.Meta.Name, uint(m.layout.pageWidth/2), "…"))
	meta := []string{
		fmt.Sprintf("p. %d/%d", m.state.Page, m.state.PageCount),
		m.state.Policy.Label(),
		m.state.Mode.String(),
	}
	if m.rd().IsBookmarked() {
		meta = append(meta, "★")
	}
	return title + "  " + helperStyle.Render(strings.Join(meta, " • "))
}

// toolbarView is the colour picker shown under a settled selection.
func (m *model) toolbarView() string {
	if m.mode != modeSelect || !m.settled {
		return ""
	}
	cells := make([]string, 0, len(annotations.Palette))
	for i, c := range annotations.Palette {
		swatch := lipgloss.NewStyle().Background(lipgloss.Color(c)).Render("   ")
		cells = append(cells, keyStyle.Render(strconv.Itoa(i+1))+swatch)
	}
	bar := strings.Join(cells, " ")
	col := toolbarColumn(m.selection, lipgloss.Width(bar), m.layout.pageWidth)
	return strings.Repeat(" ", col) + bar
}

func (m *model) viewPrompt() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render(promptTitle(m.prompt)))
	b.WriteRune('\n')
	b.WriteString(m.input.View())
	b.WriteRune('\n')
	b.WriteString(helperStyle.Render("Enter to confirm, Esc to cancel."))
	return joinNonEmpty([]string{m.heroView(), promptBoxStyle.Render(b.String()), m.messagesView()})
}

func (m *model) viewPanel() string {
	var body string
	switch {
	case m.panelKind == panelText:
		body = m.panel.View()
	case len(m.panelItems) == 0:
		body = helperStyle.Render("Nothing here yet.")
	default:
		body = m.panelList()
	}
	help := "↑/↓ move • Enter go to page • Esc back"
	switch m.panelKind {
	case panelHighlights, panelStickies:
		help = "↑/↓ move • Enter go to page • x delete • Esc back"
	case panelText:
		help = "↑/↓ scroll • Esc back"
	}
	return joinNonEmpty([]string{
		m.heroView(),
		sectionHeaderStyle.Render(m.panelTitle) + "\n" + body,
		helperStyle.Render(help),
		m.messagesView(),
	})
}

// panelList shows the window of panel items around the cursor.
func (m *model) panelList() string {
	height := m.layout.panelHeight
	start := 0
	if m.panelCursor >= height {
		start = m.panelCursor - height + 1
	}
	end := start + height
	if end > len(m.panelItems) {
		end = len(m.panelItems)
	}
	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		item := m.panelItems[i]
		line := fmt.Sprintf("p.%-4d %s", item.Page, item.Label)
		if i == m.panelCursor {
			rows = append(rows, currentLineStyle.Render("▸ "+line))
			continue
		}
		rows = append(rows, "  "+line)
	}
	return strings.Join(rows, "\n")
}

func (m *model) viewPalette() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render("Command Palette"))
	b.WriteRune('\n')
	b.WriteString(m.paletteInput.View())
	b.WriteRune('\n')
	b.WriteString(helperStyle.Render("Enter to run, Esc to cancel."))
	b.WriteRune('\n')
	b.WriteRune('\n')
	if len(m.paletteMatches) == 0 {
		b.WriteString(helperStyle.Render("No commands match this filter."))
	} else {
		for idx, cmd := range m.paletteMatches {
			label := fmt.Sprintf("  %s  [%s]", cmd.title, cmd.key)
			if idx == m.paletteCursor {
				label = currentLineStyle.Render("▸ " + cmd.title + "  [" + cmd.key + "]")
			}
			b.WriteString(label)
			b.WriteRune('\n')
			b.WriteString(helperStyle.Render("   " + cmd.description))
			b.WriteRune('\n')
		}
	}
	return joinNonEmpty([]string{m.heroView(), b.String()})
}

func (m *model) heroView() string {
	if m.hasDoc && m.back != stageLibrary {
		return m.readerHeader()
	}
	title := heroBoxStyle.Render(heroTitleStyle.Render("LumiRead"))
	return lipgloss.JoinVertical(lipgloss.Left, title, taglineStyle.Render(heroTagline))
}

func (m *model) messagesView() string {
	var parts []string
	if m.errorMessage != "" {
		parts = append(parts, errorStyle.Render(m.errorMessage))
	}
	if m.infoMessage != "" {
		message := m.infoMessage
		if m.running.busy() || m.stage == stageLoading {
			message = fmt.Sprintf("%s %s", m.spinner.View(), message)
		}
		parts = append(parts, helperStyle.Render(message))
	}
	return strings.Join(parts, "\n")
}

func (m *model) modeLabel() string {
	switch {
	case m.stage == stageLibrary:
		return "LIBRARY"
	case m.mode == modeSelect:
		return "SELECT"
	default:
		return "READ"
	}
}

func (m *model) sessionMeterView() string {
	stats := []string{fmt.Sprintf("Mode %s", m.modeLabel())}
	if m.rd() != nil {
		tracker := m.rd().Session()
		stats = append(stats,
			fmt.Sprintf("Today %s", session.FormatDuration(tracker.Today())),
			fmt.Sprintf("Streak %dd", tracker.Streak()),
		)
		if m.hasDoc {
			if res := m.rd().Results(); res != nil && res.Len() > 0 {
				stats = append(stats, fmt.Sprintf("Match %d/%d", res.Position()+1, res.Len()))
			}
		}
	}
	if m.speaking {
		stats = append(stats, "Speaking")
	}
	stats = append(stats, m.running.labels()...)
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) keyLegendView(s stage) string {
	hints := commandsFor(s)
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.key)
			desc := keyDescStyle.Render(fmt.Sprintf(" %-16s", hint.title))
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	rows = append(rows, helperStyle.Render("Ctrl+K opens the command palette, Ctrl+C quits."))
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func promptTitle(kind promptKind) string {
	switch kind {
	case promptImport:
		return "Import PDF"
	case promptUnlock:
		return "Password"
	case promptSetPassword:
		return "Set library password"
	case promptRemovePassword:
		return "Current password"
	case promptFilter:
		return "Filter library"
	case promptSearch:
		return "Search document"
	case promptGoTo:
		return "Go to page"
	case promptNote:
		return "Page note"
	case promptSticky:
		return "Sticky note"
	case promptAsk:
		return "Ask about this page"
	case promptExport:
		return "Export format (md, txt, html)"
	default:
		return ""
	}
}

func promptPlaceholder(kind promptKind) string {
	switch kind {
	case promptImport:
		return "~/papers/report.pdf or https://example.org/report.pdf"
	case promptSearch:
		return "Words to find…"
	case promptGoTo:
		return "Page number"
	case promptNote:
		return "Leave empty to remove the note"
	case promptAsk:
		return "What does this page say about…"
	default:
		return ""
	}
}

func joinNonEmpty(parts []string) string {
	return strings.Join(nonEmpty(parts), "\n\n")
}

func nonEmpty(parts []string) []string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return filtered
}

func wrapText(text string, width int) string {
	if width < minViewportWidth {
		width = minViewportWidth
	}
	return wordwrap.String(text, width)
}

// theme styles the page grid.
type theme struct {
	text      lipgloss.Style
	muted     lipgloss.Style
	cursor    lipgloss.Style
	selection lipgloss.Style
	sticky    lipgloss.Style
	rule      lipgloss.Style
}

func (m *model) theme() theme {
	if m.dark {
		return darkTheme
	}
	return lightTheme
}

var (
	sectionHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	searchHighlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("190"))

	heroAccentColor        = lipgloss.Color("#f4a261")
	heroEmberColor         = lipgloss.Color("#1f1a14")
	heroSecondaryTextColor = lipgloss.Color("#e9c46a")

	heroTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)
	heroBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(heroAccentColor).Background(heroEmberColor).Padding(0, 2)
	taglineStyle     = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)
	promptBoxStyle   = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("#7f5af0")).Padding(0, 1)
	currentLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6"))

	lightTheme = theme{
		text:      lipgloss.NewStyle().Foreground(lipgloss.Color("#202020")).Background(lipgloss.Color("#f5f0e6")),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		cursor:    lipgloss.NewStyle().Foreground(lipgloss.Color("#f5f0e6")).Background(lipgloss.Color("#264653")),
		selection: lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#bde0fe")),
		sticky:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#fff59d")),
		rule:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
	darkTheme = theme{
		text:      lipgloss.NewStyle().Foreground(lipgloss.Color("#e6e1d6")).Background(lipgloss.Color("#1b1b1f")),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		cursor:    lipgloss.NewStyle().Foreground(lipgloss.Color("#1b1b1f")).Background(lipgloss.Color("#e9c46a")),
		selection: lipgloss.NewStyle().Foreground(lipgloss.Color("#e6e1d6")).Background(lipgloss.Color("#3a506b")),
		sticky:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1b1b1f")).Background(lipgloss.Color("#fff59d")),
		rule:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
)

// pageRendered reports whether page has been drawn at least once.
func (m *model) pageRendered(page int) bool {
	return m.rd().Pipeline().State(page) == render.Rendered
}
