// Package spreadsheet reads tabular uploads (CSV or XLSX) into a header row
// and data records.
package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file type, upload a .csv or .xlsx file")
	ErrEmpty             = errors.New("file has no header row")
)

type Table struct {
	Header []string
	Rows   [][]string
}

// Format returns "csv" or "xlsx" for a file name, or "" when neither.
func Format(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	}
	return ""
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader) (*Table, error) {
	switch Format(name) {
	case "csv":
		return readCSV(r)
	case "xlsx":
		return readXLSX(r)
	}
	return nil, ErrUnsupportedFormat
}

func readCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return split(records)
}

// readXLSX reads the first sheet. Cells are taken raw so date cells arrive
// as spreadsheet serial numbers.
func readXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return split(rows)
}

func split(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return &Table{Header: records[0], Rows: records[1:]}, nil
}
