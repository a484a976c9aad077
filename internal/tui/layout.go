package tui

import (
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/csheth/lumiread/internal/anchor"
	"github.com/csheth/lumiread/internal/annotations"
	"github.com/csheth/lumiread/internal/geom"
	"github.com/csheth/lumiread/internal/selection"
	"github.com/csheth/lumiread/internal/textindex"
)

// One terminal cell stands for this many viewport pixels.
const (
	cellWidthPx  = 8
	cellHeightPx = 16
)

// Screen is the reading area the render pipeline fits pages into. It is
// written by the update loop and read by render goroutines.
type Screen struct {
	mu   sync.Mutex
	cols int
	rows int
}

func NewScreen() *Screen { return &Screen{} }

// Resize records the reading area in terminal cells.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

// Container is the reading area in viewport pixels. It stays empty until the
// first resize.
func (s *Screen) Container() geom.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geom.Size{W: float64(s.cols * cellWidthPx), H: float64(s.rows * cellHeightPx)}
}

type pageLayout struct {
	windowWidth  int
	windowHeight int
	pageWidth    int
	pageHeight   int
	panelHeight  int
}

func newPageLayout() pageLayout {
	return pageLayout{
		pageWidth:   80,
		pageHeight:  20,
		panelHeight: 16,
	}
}

func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height
	innerWidth := width - viewportHorizontalPadding
	if innerWidth < minViewportWidth {
		innerWidth = minViewportWidth
	}
	l.pageWidth = innerWidth
	l.pageHeight = height - readerChrome
	if l.pageHeight < 5 {
		l.pageHeight = 5
	}
	const panelChrome = 2
	l.panelHeight = l.pageHeight - panelChrome
	if l.panelHeight < 5 {
		l.panelHeight = 5
	}
}

type cellStyle struct {
	colour   string
	cursor   bool
	selected bool
	sticky   bool
}

type cell struct {
	r     rune
	style cellStyle
}

// gridMarks are the fragment indices drawn with the cursor and selection
// styles. A negative index marks nothing.
type gridMarks struct {
	cursor   int
	selFirst int
	selLast  int
}

func noMarks() gridMarks { return gridMarks{cursor: -1, selFirst: -1, selLast: -1} }

func (g gridMarks) selected(i int) bool {
	lo, hi := g.selFirst, g.selLast
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo >= 0 && i >= lo && i <= hi
}

func pageRow(y float64) int {
	if y < 0 {
		return 0
	}
	return int(y / cellHeightPx)
}

func pageCol(x float64) int {
	if x < 0 {
		return 0
	}
	return int(math.Round(x / cellWidthPx))
}

// buildGrid places the fragments of a page on a grid cols cells wide. A
// fragment that would touch the previous one on its row is pushed right to
// keep one blank cell between them. Highlight boxes colour the fragments
// they were anchored on.
func buildGrid(frags []textindex.Fragment, boxes []anchor.Box, stickies []annotations.StickyNote, marks gridMarks, cols int) [][]cell {
	rows := 0
	for _, f := range frags {
		if r := pageRow(f.Y) + 1; r > rows {
			rows = r
		}
	}
	for _, n := range stickies {
		if r := pageRow(n.Y) + 1; r > rows {
			rows = r
		}
	}
	grid := make([][]cell, rows)
	for i := range grid {
		grid[i] = make([]cell, cols)
	}

	colours := make(map[geom.Point]string, len(boxes))
	for _, b := range boxes {
		colours[geom.Point{X: b.Rect.X, Y: b.Rect.Y}] = b.Colour
	}

	rowEnd := make([]int, rows)
	for i := range rowEnd {
		rowEnd[i] = -2
	}
	for i, f := range frags {
		row := pageRow(f.Y)
		col := pageCol(f.X)
		if col <= rowEnd[row]+1 {
			col = rowEnd[row] + 2
		}
		style := cellStyle{
			colour:   colours[geom.Point{X: f.X, Y: f.Y}],
			cursor:   i == marks.cursor,
			selected: marks.selected(i),
		}
		for _, r := range f.Text {
			if col >= cols {
				break
			}
			grid[row][col] = cell{r: r, style: style}
			col++
		}
		rowEnd[row] = col - 1
	}

	for _, n := range stickies {
		row, col := pageRow(n.Y), pageCol(n.X)
		if col >= cols {
			col = cols - 1
		}
		if col < 0 {
			continue
		}
		grid[row][col] = cell{r: '✎', style: cellStyle{sticky: true}}
	}
	return grid
}

// renderGrid draws the grid row by row, styling runs of equal cells at once.
func (t theme) renderGrid(grid [][]cell) string {
	lines := make([]string, len(grid))
	for i, row := range grid {
		end := len(row)
		for end > 0 && row[end-1].r == 0 {
			end--
		}
		var b strings.Builder
		for j := 0; j < end; {
			k := j
			var seg strings.Builder
			for k < end && row[k].style == row[j].style {
				r := row[k].r
				if r == 0 {
					r = ' '
				}
				seg.WriteRune(r)
				k++
			}
			b.WriteString(t.cell(row[j].style).Render(seg.String()))
			j = k
		}
		lines[i] = b.String()
	}
	return strings.Join(lines, "\n")
}

func (t theme) cell(s cellStyle) lipgloss.Style {
	switch {
	case s.cursor:
		return t.cursor
	case s.selected:
		return t.selection
	case s.sticky:
		return t.sticky
	case s.colour != "":
		return t.text.Copy().Foreground(lipgloss.Color("#111111")).Background(lipgloss.Color(s.colour))
	default:
		return t.text
	}
}

// fragmentRow is the grid row of fragment i, or -1.
func fragmentRow(frags []textindex.Fragment, i int) int {
	if i < 0 || i >= len(frags) {
		return -1
	}
	return pageRow(frags[i].Y)
}

// toolbarColumn places the colour toolbar under a selection and returns its
// column in cells.
func toolbarColumn(sel selection.Selection, toolbarCols, screenCols int) int {
	p := selection.PlaceToolbar(sel.Bounds,
		geom.Size{W: float64(toolbarCols * cellWidthPx), H: cellHeightPx},
		geom.Size{W: float64(screenCols * cellWidthPx), H: math.MaxInt16})
	return int(p.X / cellWidthPx)
}
