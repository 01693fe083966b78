package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/verte-zerg/tsbatch/internal/logging"
	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/value"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func newImporter() *Importer {
	return &Importer{
		ImportConfig: model.ImportConfig{Class: "node", Parameter: "demand", Alternative: "Base"},
		Logger:       logging.Discard(),
	}
}

func TestTableSeriesDropsEmptyCells(t *testing.T) {
	table := Table{
		Name:   "demand.csv",
		Header: []string{"time", "n1", "n2"},
		Rows: [][]string{
			{"2021-08-11T09:00:00", "2", ""},
			{"2021-08-11T08:00:00", "1", "10"},
			{"2021-08-11T09:30:00", "3", "30"},
		},
	}
	series, err := table.Series()
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	n1 := series[0].Value
	if series[0].Entity != "n1" || n1.Len() != 3 {
		t.Fatalf("unexpected n1: %+v", series[0])
	}
	if !n1.Stamps[0].Equal(time.Date(2021, 8, 11, 8, 0, 0, 0, time.UTC)) || n1.Values[0] != 1 {
		t.Fatalf("rows should be sorted by time: %+v", n1)
	}
	n2 := series[1].Value
	if n2.Len() != 2 || n2.Values[1] != 30 {
		t.Fatalf("unexpected n2: %+v", n2)
	}
}

func TestTableSeriesRejectsBadTables(t *testing.T) {
	cases := map[string]Table{
		"one column":  {Header: []string{"time"}},
		"no header":   {},
		"wrong first": {Header: []string{"stamp", "n1"}},
		"bad stamp":   {Header: []string{"time", "n1"}, Rows: [][]string{{"yesterday", "1"}}},
		"bad number":  {Header: []string{"time", "n1"}, Rows: [][]string{{"2021-01-01T00:00:00", "x"}}},
		"duplicate": {Header: []string{"time", "n1"}, Rows: [][]string{
			{"2021-01-01T00:00:00", "1"},
			{"2021-01-01T00:00:00", "2"},
		}},
	}
	for name, table := range cases {
		if _, err := table.Series(); !errors.Is(err, ErrInvalidTable) {
			t.Fatalf("%s: expected ErrInvalidTable, got %v", name, err)
		}
	}
}

func TestImportCSV(t *testing.T) {
	path := writeFile(t, "demand.csv", "time,n1,n2\n"+
		"2021-08-11T08:00:00,1,10\n"+
		"2021-08-11T09:00:00,2,\n"+
		"2021-08-11T09:30:00,3,30\n")
	bad := writeFile(t, "bad.csv", "stamp,n1\n2021-08-11T08:00:00,1\n")
	st := openStore(t)
	ctx := context.Background()

	result, err := newImporter().ImportFiles(ctx, st, []string{path, bad})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Tables != 1 || result.Skipped != 1 || result.Objects != 2 || result.Values != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	rows, err := st.ParameterValues(ctx)
	if err != nil {
		t.Fatalf("list values: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 values, got %d", len(rows))
	}
	for _, row := range rows {
		if row.ClassName != "node" || row.ParameterName != "demand" || row.AlternativeName != "Base" {
			t.Fatalf("unexpected address: %s", row.Address())
		}
		v, err := value.Parse(row.Value, value.Type(row.Type))
		if err != nil {
			t.Fatalf("parse %s: %v", row.Address(), err)
		}
		if _, ok := v.(value.TimeSeriesVariable); !ok {
			t.Fatalf("expected variable resolution series, got %T", v)
		}
	}

	commits, err := st.Commits(ctx)
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if commits[len(commits)-1].Comment != CommitMessage {
		t.Fatalf("unexpected commit: %+v", commits[len(commits)-1])
	}
}

func TestImportXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := map[string]any{
		"A1": "time", "B1": "n1",
		"A2": "2021-08-11T08:00:00", "B2": 1.5,
		"A3": "2021-08-11T08:30:00", "B3": 2.5,
	}
	for cell, v := range cells {
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	path := filepath.Join(t.TempDir(), "demand.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	_ = f.Close()

	st := openStore(t)
	result, err := newImporter().ImportFiles(context.Background(), st, []string{path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Tables != 1 || result.Values != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	rows, err := st.ParameterValues(context.Background())
	if err != nil {
		t.Fatalf("list values: %v", err)
	}
	v, err := value.Parse(rows[0].Value, value.Type(rows[0].Type))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	series := v.(value.TimeSeriesVariable)
	if series.Len() != 2 || series.Values[1] != 2.5 {
		t.Fatalf("unexpected series: %+v", series)
	}
}

func TestImportReplacesExistingValue(t *testing.T) {
	first := writeFile(t, "a.csv", "time,n1\n2021-01-01T00:00:00,1\n")
	second := writeFile(t, "b.csv", "time,n1\n2021-01-01T00:00:00,2\n2021-01-01T01:00:00,3\n")
	st := openStore(t)
	ctx := context.Background()
	if _, err := newImporter().ImportFiles(ctx, st, []string{first}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	result, err := newImporter().ImportFiles(ctx, st, []string{second})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if result.Objects != 0 || result.Values != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	rows, err := st.ParameterValues(ctx)
	if err != nil {
		t.Fatalf("list values: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one value, got %d", len(rows))
	}
}

func TestImportRequiresNames(t *testing.T) {
	im := &Importer{Logger: logging.Discard()}
	if _, err := im.ImportFiles(context.Background(), openStore(t), nil); err == nil {
		t.Fatalf("expected error for missing names")
	}
}

func TestImportMissingFile(t *testing.T) {
	if _, err := newImporter().ImportFiles(context.Background(), openStore(t), []string{filepath.Join(t.TempDir(), "nope.csv")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
