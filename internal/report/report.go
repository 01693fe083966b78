package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/value"
)

const (
	sparkChars = " .:-=+*#%@"
	// SparkWidth caps the trend column.
	SparkWidth = 24
	// terminalWidthBackup is used when stdout is not a terminal.
	terminalWidthBackup = 120
)

// Headers of the value listing.
var Headers = []string{"Class", "Entity", "Parameter", "Alternative", "Type", "Value", "Trend"}

// Sparkline renders values as one character per value.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// Downsample averages values into at most n buckets.
func Downsample(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		sum := 0.0
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// Describe summarizes a value in one cell.
func Describe(v value.Value) string {
	switch x := v.(type) {
	case value.Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case value.String:
		return strconv.Quote(string(x))
	case value.Bool:
		return strconv.FormatBool(bool(x))
	case value.Duration:
		return value.FormatDuration(time.Duration(x))
	case value.DateTime:
		return value.FormatStamp(time.Time(x))
	case value.Array:
		return fmt.Sprintf("%d %s", len(x.Values), plural(len(x.Values), "element"))
	case value.TimeSeriesVariable:
		return fmt.Sprintf("variable resolution, %d %s", x.Len(), plural(x.Len(), "point"))
	case value.TimeSeriesFixed:
		return fmt.Sprintf("fixed resolution %s, %d %s", value.FormatDuration(x.Resolution), x.Len(), plural(x.Len(), "point"))
	case value.TimePattern:
		return fmt.Sprintf("%d %s", len(x.Values), plural(len(x.Values), "period"))
	case value.Map:
		return fmt.Sprintf("%d %s, %d %s", len(x.Values), plural(len(x.Values), "entry"),
			value.IndexCount(x), plural(value.IndexCount(x), "index"))
	}
	return ""
}

func plural(n int, noun string) string {
	if n == 1 {
		return noun
	}
	switch {
	case strings.HasSuffix(noun, "y"):
		return strings.TrimSuffix(noun, "y") + "ies"
	case strings.HasSuffix(noun, "x"):
		return noun + "es"
	}
	return noun + "s"
}

// Rows turns stored values into listing rows. Undecodable values are
// listed with the decode error.
func Rows(rows []model.ParameterValueRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		entity := row.EntityName
		if row.IsRelationship() {
			entity = strings.Join(row.ElementNames, ",")
		}
		desc, trend := "", ""
		v, err := value.Parse(row.Value, value.Type(row.Type))
		if err != nil {
			desc = "undecodable: " + err.Error()
		} else {
			desc = Describe(v)
			if value.Len(v) > 1 {
				trend = Sparkline(Downsample(value.Numbers(v), SparkWidth))
			}
		}
		out = append(out, []string{row.ClassName, entity, row.ParameterName, row.AlternativeName, row.Type, desc, trend})
	}
	return out
}

// Render writes the listing of rows to w, cutting lines at width when
// width is positive.
func Render(w io.Writer, rows []model.ParameterValueRow, width int) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No parameter values found.")
		return err
	}
	for _, line := range FormatTable(Headers, Rows(rows), nil) {
		if width > 0 && displayWidth(line) > width {
			line = truncate(line, width)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func truncate(line string, width int) string {
	var b strings.Builder
	used := 0
	for _, r := range line {
		rw := displayWidth(string(r))
		if used+rw > width {
			break
		}
		b.WriteRune(r)
		used += rw
	}
	return b.String()
}

// TerminalWidth returns the width of stdout, or a default when stdout is
// not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

// FindRow returns the row stored under the given names. entity matches the
// object name, or the comma separated element names of a relationship.
func FindRow(rows []model.ParameterValueRow, class, entity, parameter, alternative string) (model.ParameterValueRow, bool) {
	for _, row := range rows {
		if row.ClassName != class || row.ParameterName != parameter || row.AlternativeName != alternative {
			continue
		}
		if row.EntityName == entity || (row.IsRelationship() && strings.Join(row.ElementNames, ",") == entity) {
			return row, true
		}
	}
	return model.ParameterValueRow{}, false
}
