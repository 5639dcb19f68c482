package transform

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// maxXLSRows bounds how many rows are read from a legacy .xls sheet.
const maxXLSRows = 100000

// ReadRows reads every row of the first sheet of a workbook. The format is
// chosen from filename: .xls goes through the legacy BIFF reader, anything
// else is read as .xlsx.
func ReadRows(data []byte, filename string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		return readXLS(data)
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheet := file.GetSheetName(0)
		if sheet == "" {
			return nil, ErrNoSheet
		}
		rows, err := file.GetRows(sheet, rawValues)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		return rows, nil
	}
}

// readXLS recovers from panics in the BIFF reader, which it raises on some
// truncated files instead of returning an error.
func readXLS(data []byte) (rows [][]string, err error) {
	defer func() {
		if p := recover(); p != nil {
			rows, err = nil, fmt.Errorf("read xls workbook: %v", p)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrNoSheet
	}
	return wb.ReadAllCells(maxXLSRows), nil
}
