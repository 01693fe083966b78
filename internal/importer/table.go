package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/verte-zerg/tsbatch/internal/value"
)

// TimeHeader is the required name of the first column.
const TimeHeader = "time"

// ErrInvalidTable marks tables that cannot be imported.
var ErrInvalidTable = errors.New("invalid table")

// Table is one wide table: a time column followed by one column per entity.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Series is the time series of one entity column.
type Series struct {
	Entity string
	Value  value.TimeSeriesVariable
}

// ReadFile reads the tables of a CSV or XLSX file.
func ReadFile(path string) ([]Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path)
	default:
		t, err := ReadCSV(path)
		if err != nil {
			return nil, err
		}
		return []Table{t}, nil
	}
}

// ReadCSV reads a comma separated table.
func ReadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return newTable(filepath.Base(path), records), nil
}

// ReadXLSX reads every sheet of a workbook as a table.
func ReadXLSX(path string) ([]Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	var tables []Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheet, path, err)
		}
		tables = append(tables, newTable(filepath.Base(path)+":"+sheet, rows))
	}
	return tables, nil
}

func newTable(name string, records [][]string) Table {
	t := Table{Name: name}
	if len(records) == 0 {
		return t
	}
	t.Header = make([]string, len(records[0]))
	for i, h := range records[0] {
		t.Header[i] = strings.TrimSpace(h)
	}
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}

func isBlank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Series splits the table into one variable resolution series per entity
// column, ordered by time. Empty cells are left out.
func (t Table) Series() ([]Series, error) {
	if len(t.Header) < 2 {
		return nil, fmt.Errorf("%s: need a time column and at least one value column: %w", t.Name, ErrInvalidTable)
	}
	if !strings.EqualFold(t.Header[0], TimeHeader) {
		return nil, fmt.Errorf("%s: first column must be %q, got %q: %w", t.Name, TimeHeader, t.Header[0], ErrInvalidTable)
	}

	type row struct {
		stamp time.Time
		cells []string
	}
	rows := make([]row, 0, len(t.Rows))
	for i, rec := range t.Rows {
		stamp, err := value.ParseStamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %v: %w", t.Name, i+2, err, ErrInvalidTable)
		}
		rows = append(rows, row{stamp: stamp, cells: rec})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].stamp.Before(rows[j].stamp) })
	for i := 1; i < len(rows); i++ {
		if rows[i].stamp.Equal(rows[i-1].stamp) {
			return nil, fmt.Errorf("%s: duplicate time stamp %s: %w", t.Name, value.FormatStamp(rows[i].stamp), ErrInvalidTable)
		}
	}

	var out []Series
	for col := 1; col < len(t.Header); col++ {
		entity := t.Header[col]
		if entity == "" {
			return nil, fmt.Errorf("%s: column %d has no name: %w", t.Name, col+1, ErrInvalidTable)
		}
		series := value.TimeSeriesVariable{}
		for _, r := range rows {
			if col >= len(r.cells) || strings.TrimSpace(r.cells[col]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(r.cells[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %s at %s: %v: %w", t.Name, entity, value.FormatStamp(r.stamp), err, ErrInvalidTable)
			}
			series.Stamps = append(series.Stamps, r.stamp)
			series.Values = append(series.Values, v)
		}
		if series.Len() == 0 {
			continue
		}
		out = append(out, Series{Entity: entity, Value: series})
	}
	return out, nil
}
