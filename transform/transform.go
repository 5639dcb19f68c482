/*
Package transform turns spreadsheet exports into canonical rows.

PURPOSE:
  The analytics service delivers an .xlsx file whose first sheet holds one
  header row followed by one row per store. Transform streams that sheet,
  renames mapped columns via FieldMapping and drops the rest.

STREAMING:
  Rows is a forward-only cursor over the sheet. It cannot be restarted;
  call Transform again on the same bytes to read the sheet a second time.
  Source order is preserved and no rows are merged or sorted.

SEE ALSO:
  - fields.go:      label -> canonical field table
  - sheet.go:       whole-sheet reads for uploads (.xls and .xlsx)
  - assignments.go: store-to-operator assignment sheets
*/
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/geekane/1127jixiao/etl"
	"github.com/xuri/excelize/v2"
)

// ErrNoSheet is returned when a workbook contains no worksheet.
var ErrNoSheet = errors.New("no worksheet found")

// rawValues reads stored cell values. Display formatting would round
// amounts, add currency symbols and cut long numeric ids to 15 digits.
var rawValues = excelize.Options{RawCellValue: true}

// Rows streams canonical rows from the first sheet of a workbook. It
// implements etl.RowSource and io.Closer.
type Rows struct {
	file    *excelize.File
	rows    *excelize.Rows
	mapping map[string]string
	header  []string
	cur     etl.Row
	err     error
	done    bool
}

// Transform opens raw as an .xlsx workbook and positions a cursor after the
// header row of its first sheet.
func Transform(raw []byte) (*Rows, error) {
	return TransformWith(raw, FieldMapping)
}

// TransformWith is Transform with a caller-supplied mapping.
func TransformWith(raw []byte, mapping map[string]string) (*Rows, error) {
	file, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheet := file.GetSheetName(0)
	if sheet == "" {
		file.Close()
		return nil, ErrNoSheet
	}

	rows, err := file.Rows(sheet)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	r := &Rows{file: file, rows: rows, mapping: mapping}
	if rows.Next() {
		cols, err := rows.Columns(rawValues)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("read header row: %w", err)
		}
		r.header = make([]string, len(cols))
		for i, c := range cols {
			r.header[i] = strings.TrimSpace(c)
		}
	}
	return r, nil
}

// Source adapts Transform to etl.TransformFunc.
func Source(raw []byte) (etl.RowSource, error) {
	rows, err := Transform(raw)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Next advances to the next data row.
func (r *Rows) Next() bool {
	if r.done || r.err != nil || r.header == nil {
		return false
	}
	for r.rows.Next() {
		cols, err := r.rows.Columns(rawValues)
		if err != nil {
			r.err = err
			return false
		}
		row := r.project(cols)
		if len(row) == 0 && blank(cols) {
			continue
		}
		r.cur = row
		return true
	}
	r.err = r.rows.Error()
	r.cur = nil
	r.done = true
	return false
}

// Row returns the current row.
func (r *Rows) Row() etl.Row { return r.cur }

// Err returns the first error hit while streaming.
func (r *Rows) Err() error { return r.err }

// Close releases the workbook.
func (r *Rows) Close() error {
	r.done = true
	var errs []error
	if r.rows != nil {
		errs = append(errs, r.rows.Close())
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
	}
	return errors.Join(errs...)
}

func (r *Rows) project(cols []string) etl.Row {
	row := make(etl.Row)
	for i, v := range cols {
		if i >= len(r.header) {
			break
		}
		field, ok := r.mapping[r.header[i]]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		row[field] = v
	}
	return row
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
