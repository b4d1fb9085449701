package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrEmptyTable        = errors.New("spreadsheet has no header row")
)

// Table is a spreadsheet read into memory: one header row and the data rows
// below it.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Cell returns the value of the named column in row i, or "" when the row
// is short or the column does not exist.
func (t Table) Cell(i int, column string) string {
	if i < 0 || i >= len(t.Rows) {
		return ""
	}
	for j, h := range t.Headers {
		if h == column {
			if j < len(t.Rows[i]) {
				return strings.TrimSpace(t.Rows[i][j])
			}
			return ""
		}
	}
	return ""
}

// SupportedExtension reports whether ReadTable can parse a file with this name.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	default:
		return false
	}
}

// ReadTable parses a .csv or .xlsx upload. For workbooks only the first
// sheet is read. Fully blank rows are skipped.
func ReadTable(name string, r io.Reader) (Table, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return Table{}, err
	}

	var t Table
	for _, record := range records {
		if blank(record) {
			continue
		}
		if t.Headers == nil {
			t.Headers = make([]string, len(record))
			for i, h := range record {
				t.Headers[i] = strings.TrimSpace(h)
			}
			continue
		}
		t.Rows = append(t.Rows, record)
	}
	if len(t.Headers) == 0 {
		return Table{}, ErrEmptyTable
	}
	t.Headers[0] = strings.TrimPrefix(t.Headers[0], "\ufeff")
	return t, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// Sample renders the header and the first n rows as CSV, the shape the
// schema detector is prompted with.
func Sample(t Table, n int) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Headers); err != nil {
		return "", fmt.Errorf("write sample header: %w", err)
	}
	for i, row := range t.Rows {
		if i >= n {
			break
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write sample row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush sample: %w", err)
	}
	return buf.String(), nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
