// Package dataset loads tabular test data (delimited text or spreadsheets)
// into ordered string-keyed records.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrDataSource marks a source that could not be read or parsed.
// It is the only hard failure this package produces.
var ErrDataSource = errors.New("data source error")

// Record is one row of loaded tabular data. Keys are the header names of the
// source; values are cell contents, always as strings.
type Record map[string]string

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Options control how a source file is read.
type Options struct {
	Delimiter rune   // column separator for delimited text; 0 means auto (',' or '\t' for .tsv)
	Sheet     string // named sheet for spreadsheet sources; empty means first sheet
}

// Load reads every row of the source at path into records. The first row is
// the header; every following row becomes one Record keyed by header name.
// Format is chosen by extension: .xlsx is a spreadsheet, everything else is
// delimited text.
func Load(path string, opts Options) ([]Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return loadSheet(path, opts.Sheet)
	}
	return loadDelimited(path, opts.Delimiter)
}

func loadDelimited(path string, delim rune) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDataSource, path, err)
	}
	defer f.Close()

	if delim == 0 {
		delim = ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			delim = '\t'
		}
	}

	cr := csv.NewReader(f)
	cr.Comma = delim
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1 // tolerate ragged rows; rowsToRecords pads/drops

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrDataSource, path, err)
	}
	return rowsToRecords(rows), nil
}

func loadSheet(path, sheet string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDataSource, path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q in %s: %v", ErrDataSource, sheet, path, err)
	}
	return rowsToRecords(rows), nil
}

// rowsToRecords maps header cells to row cells. Short rows leave trailing
// fields empty; extra cells beyond the header are dropped.
func rowsToRecords(rows [][]string) []Record {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}
