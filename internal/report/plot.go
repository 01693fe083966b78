package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/verte-zerg/tsbatch/internal/value"
)

// Line is one plotted series. NaN values are missing points and break the line.
type Line struct {
	Name   string
	Values []float64
}

type lineStyle struct {
	name   string
	period int
	on     int
}

type ansiColor struct {
	name string
	code string
}

const (
	defaultPlotHeight = 10
	minPlotWidth      = 10
	axisSeparator     = " │ "
	colorReset        = "\x1b[0m"
)

var lineStyles = []lineStyle{
	{name: "solid", period: 1, on: 1},
	{name: "dashed", period: 6, on: 3},
	{name: "dotted", period: 4, on: 1},
	{name: "dashdot", period: 8, on: 3},
}

var colorPalette = []ansiColor{
	{name: "cyan", code: "\x1b[36m"},
	{name: "magenta", code: "\x1b[35m"},
	{name: "yellow", code: "\x1b[33m"},
	{name: "green", code: "\x1b[32m"},
	{name: "blue", code: "\x1b[34m"},
}

// GridLines places a stored series and its filled version on the filled
// grid. Grid slots without a stored sample are NaN in the first line.
func GridLines(stored value.TimeSeriesVariable, filled value.TimeSeriesFixed) []Line {
	aligned := make([]float64, filled.Len())
	for i := range aligned {
		aligned[i] = math.NaN()
	}
	if filled.Resolution > 0 {
		for i, stamp := range stored.Stamps {
			slot := int(stamp.Sub(filled.Start) / filled.Resolution)
			if slot >= 0 && slot < len(aligned) {
				aligned[slot] = stored.Values[i]
			}
		}
	}
	return []Line{
		{Name: "stored", Values: aligned},
		{Name: "filled", Values: filled.Values},
	}
}

// Plot renders lines as a Braille chart on one shared value scale. Color is
// used when w is a terminal or forceColor is set, unless NO_COLOR is set.
func Plot(w io.Writer, title string, lines []Line, width, height int, forceColor bool) error {
	lines = filterLines(lines)
	if len(lines) == 0 {
		return nil
	}

	if height <= 0 {
		height = defaultPlotHeight
	}
	minVal, maxVal, ok := linesMinMax(lines)
	if !ok {
		return nil
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		minVal--
		maxVal++
	}
	axisLabels := makeAxisLabels(height, minVal, maxVal)
	axisWidth := 0
	for _, label := range axisLabels {
		if lw := displayWidth(label); lw > axisWidth {
			axisWidth = lw
		}
	}
	if width <= 0 {
		width = PlotWidthFor(TerminalWidth(), axisWidth)
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	lineCells := make([][][]uint8, len(lines))
	for li, line := range lines {
		cells := makeCells(height, width)
		style := lineStyles[li%len(lineStyles)]
		prevX, prevY := -1, -1
		for x, v := range resampleLine(line.Values, width) {
			if math.IsNaN(v) {
				prevX, prevY = -1, -1
				continue
			}
			px := x * 2
			py := valueToRow(v, minVal, maxVal, height*4)
			if prevX >= 0 {
				drawLine(prevX, prevY, px, py, func(dx, dy int) {
					if style.shouldPlot(dx) {
						setBrailleDot(cells, dx, dy)
					}
				})
			} else {
				setBrailleDot(cells, px, py)
			}
			prevX, prevY = px, py
		}
		lineCells[li] = cells
	}

	useColor := shouldUseColor(w, forceColor)
	if title != "" {
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
	}
	for y := 0; y < height; y++ {
		var row strings.Builder
		row.WriteString(strings.Repeat(" ", axisWidth-displayWidth(axisLabels[y])))
		row.WriteString(axisLabels[y])
		row.WriteString(axisSeparator)
		for x := 0; x < width; x++ {
			mask, colorIdx := composeCell(lineCells, x, y)
			ch := brailleFromMask(mask)
			if useColor && colorIdx >= 0 {
				row.WriteString(colorPalette[colorIdx%len(colorPalette)].code)
				row.WriteRune(ch)
				row.WriteString(colorReset)
			} else {
				row.WriteRune(ch)
			}
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, renderLegend(lines, useColor)); err != nil {
		return err
	}
	return nil
}

func filterLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if len(l.Values) == 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}

// PlotWidthFor computes a plot width that fits next to an axis of axisWidth
// within totalWidth.
func PlotWidthFor(totalWidth, axisWidth int) int {
	plotWidth := totalWidth - axisWidth - displayWidth(axisSeparator)
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}
	return plotWidth
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func makeAxisLabels(height int, minVal, maxVal float64) []string {
	labels := make([]string, height)
	if height <= 0 {
		return labels
	}
	labels[0] = formatAxis(maxVal)
	if height > 2 {
		labels[height/2] = formatAxis((minVal + maxVal) / 2)
	}
	if height > 1 {
		labels[height-1] = formatAxis(minVal)
	}
	return labels
}

func formatAxis(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func makeCells(height, width int) [][]uint8 {
	cells := make([][]uint8, height)
	for y := 0; y < height; y++ {
		cells[y] = make([]uint8, width)
	}
	return cells
}

func composeCell(lineCells [][][]uint8, x, y int) (uint8, int) {
	var mask uint8
	colorIdx := -1
	for i, cells := range lineCells {
		if y < 0 || y >= len(cells) {
			continue
		}
		if x < 0 || x >= len(cells[y]) {
			continue
		}
		cellMask := cells[y][x]
		if cellMask == 0 {
			continue
		}
		if colorIdx == -1 {
			colorIdx = i
		}
		mask |= cellMask
	}
	return mask, colorIdx
}

func (ls lineStyle) shouldPlot(x int) bool {
	if ls.period <= 1 {
		return true
	}
	if x < 0 {
		x = -x
	}
	return x%ls.period < ls.on
}

// resampleLine fits values to width columns. Shrinking averages the points
// of each column and skips NaN; stretching repeats the nearest point.
func resampleLine(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	out := make([]float64, width)
	if len(values) > width {
		for i := 0; i < width; i++ {
			start := i * len(values) / width
			end := (i + 1) * len(values) / width
			if end <= start {
				end = start + 1
			}
			sum, n := 0.0, 0
			for _, v := range values[start:end] {
				if math.IsNaN(v) {
					continue
				}
				sum += v
				n++
			}
			if n == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = sum / float64(n)
		}
		return out
	}
	for i := range out {
		idx := 0
		if width > 1 {
			idx = int(math.Round(float64(i) * float64(len(values)-1) / float64(width-1)))
		}
		out[i] = values[idx]
	}
	return out
}

func linesMinMax(lines []Line) (float64, float64, bool) {
	minVal := math.Inf(1)
	maxVal := math.Inf(-1)
	for _, l := range lines {
		for _, v := range l.Values {
			if math.IsNaN(v) {
				continue
			}
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
	}
	return minVal, maxVal, !math.IsInf(minVal, 1)
}

func valueToRow(v, minVal, maxVal float64, height int) int {
	if height <= 1 {
		return 0
	}
	pos := (v - minVal) / (maxVal - minVal)
	row := int(math.Round((1 - pos) * float64(height-1)))
	if row < 0 {
		row = 0
	}
	if row >= height {
		row = height - 1
	}
	return row
}

func renderLegend(lines []Line, useColor bool) string {
	parts := make([]string, 0, len(lines))
	marker := brailleFromMask(0x01)
	for i, l := range lines {
		label := fmt.Sprintf("%c %s (%s)", marker, l.Name, lineStyles[i%len(lineStyles)].name)
		if useColor {
			label = colorPalette[i%len(colorPalette)].code + label + colorReset
		}
		parts = append(parts, label)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

func drawLine(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := int(math.Abs(float64(x1 - x0)))
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -int(math.Abs(float64(y1 - y0)))
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			if x0 == x1 {
				break
			}
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			if y0 == y1 {
				break
			}
			err += dx
			y0 += sy
		}
	}
}

func setBrailleDot(cells [][]uint8, x, y int) {
	if y < 0 || x < 0 {
		return
	}
	cellY := y / 4
	cellX := x / 2
	if cellY >= len(cells) || cellX >= len(cells[cellY]) {
		return
	}
	cells[cellY][cellX] |= brailleDotMask(x%2, y%4)
}

// brailleDotMask maps a dot in a 2x4 cell to its Unicode Braille bit.
func brailleDotMask(x, y int) uint8 {
	switch {
	case x == 0 && y == 0:
		return 0x01
	case x == 0 && y == 1:
		return 0x02
	case x == 0 && y == 2:
		return 0x04
	case x == 0 && y == 3:
		return 0x40
	case x == 1 && y == 0:
		return 0x08
	case x == 1 && y == 1:
		return 0x10
	case x == 1 && y == 2:
		return 0x20
	case x == 1 && y == 3:
		return 0x80
	default:
		return 0
	}
}

func brailleFromMask(mask uint8) rune {
	return rune(0x2800 + int(mask))
}
