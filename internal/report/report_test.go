package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/value"
)

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"Entity", "Points", "Resolution"}
	rows := [][]string{
		{"n1", "12", "1h"},
		{"größe", "3", "30m"},
	}
	rightAlign := map[int]bool{1: true}

	lines := FormatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "Entity  Points  Resolution" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "n1          12  1h" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "größe        3  30m" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestFormatTableUsesDisplayWidth(t *testing.T) {
	lines := FormatTable([]string{"Name", "X"}, [][]string{{"東京", "1"}}, nil)
	if lines[1] != "東京  1" {
		t.Fatalf("wide runes should count double: %q", lines[1])
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil); got != "" {
		t.Fatalf("expected empty sparkline, got %q", got)
	}
	if got := Sparkline([]float64{0, 9}); got != " @" {
		t.Fatalf("unexpected sparkline: %q", got)
	}
	if got := Sparkline([]float64{2, 2, 2}); got != "+++" {
		t.Fatalf("flat series should use the middle character: %q", got)
	}
}

func TestDownsample(t *testing.T) {
	got := Downsample([]float64{1, 3, 5, 7, 9, 11}, 3)
	want := []float64{2, 6, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected downsample: %v", got)
		}
	}
	if len(Downsample([]float64{1, 2}, 5)) != 2 {
		t.Fatalf("short input should be kept")
	}
}

func TestDescribe(t *testing.T) {
	base := time.Date(2021, 8, 11, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		value value.Value
		want  string
	}{
		{value.Float(2.5), "2.5"},
		{value.String("on"), `"on"`},
		{value.Duration(2 * time.Hour), "2h"},
		{value.TimeSeriesVariable{Stamps: []time.Time{base, base.Add(time.Hour), base.Add(90 * time.Minute)}, Values: []float64{1, 2, 3}}, "variable resolution, 3 points"},
		{value.TimeSeriesFixed{Start: base, Resolution: 30 * time.Minute, Values: []float64{1, 2, 3, 4}}, "fixed resolution 30m, 4 points"},
		{value.Map{IndexType: "str", Indexes: []string{"a"}, Values: []value.Value{value.Float(1)}}, "1 entry, 1 index"},
	}
	for _, c := range cases {
		if got := Describe(c.value); got != c.want {
			t.Fatalf("describe %T: expected %q, got %q", c.value, c.want, got)
		}
	}
}

func TestRender(t *testing.T) {
	base := time.Date(2021, 8, 11, 8, 0, 0, 0, time.UTC)
	data, typ, err := value.Serialize(value.TimeSeriesFixed{Start: base, Resolution: time.Hour, Values: []float64{0, 9}})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	rows := []model.ParameterValueRow{
		{ClassName: "unit__node", ElementNames: []string{"u1", "n1"}, ParameterName: "flow", AlternativeName: "Base", Type: string(typ), Value: data},
		{ClassName: "node", EntityName: "n1", ParameterName: "demand", AlternativeName: "Base", Type: "time_series", Value: []byte("{")},
	}
	var out bytes.Buffer
	if err := Render(&out, rows, 0); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[0], "Class") || !strings.Contains(lines[1], "u1,n1") || !strings.HasSuffix(lines[1], " @") {
		t.Fatalf("unexpected relationship row:\n%s", out.String())
	}
	if !strings.Contains(lines[2], "undecodable") {
		t.Fatalf("expected undecodable marker:\n%s", out.String())
	}

	out.Reset()
	if err := Render(&out, rows, 20); err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if displayWidth(line) > 20 {
			t.Fatalf("line exceeds width: %q", line)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := Render(&out, nil, 0); err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.String() != "No parameter values found.\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
