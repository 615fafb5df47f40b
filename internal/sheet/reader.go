// Package sheet reads and writes the tabular file formats accepted by the
// backend: CSV and XLSX. Readers return an in-memory Table with headers
// normalized to the canonical column form (lowercase, spaces replaced with
// underscores, BOM stripped).
package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Table is a parsed tabular dataset. Columns are normalized header names;
// Rows are positional cell values aligned to Columns. Short records are
// padded with empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of a normalized column name, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed value at (row, column index), or "" when the
// record is short or the index is -1.
func (t *Table) Cell(row []string, ix int) string {
	if ix < 0 || ix >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[ix])
}

// Options control CSV decoding. The zero value is a plain UTF-8 comma file.
type Options struct {
	// Comma is the CSV field delimiter. Zero means ','.
	Comma rune

	// Encoding selects a legacy charset for CSV input: "windows-1250",
	// "windows-1252", "iso-8859-1", "iso-8859-2". Empty means UTF-8.
	Encoding string
}

// NormalizeHeader maps a raw header cell to its canonical column name:
// trimmed, lowercased, internal spaces replaced with underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(strings.TrimSpace(h), "\uFEFF")
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// ReadFile parses a spreadsheet by extension: ".csv" or ".xlsx".
// For XLSX files the first sheet is read.
func ReadFile(path string, opt Options) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f, opt)
	case ".xlsx":
		return ReadXLSXFile(path, "")
	default:
		return nil, fmt.Errorf("sheet: unsupported file extension %q", filepath.Ext(path))
	}
}

// ReadCSV parses CSV from r into a Table.
func ReadCSV(r io.Reader, opt Options) (*Table, error) {
	if opt.Encoding != "" {
		dec, err := decoderFor(opt.Encoding)
		if err != nil {
			return nil, err
		}
		r = transform.NewReader(r, dec.NewDecoder())
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("sheet: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("sheet: read header: %w", err)
	}

	t := &Table{Columns: make([]string, len(hdr))}
	for i, h := range hdr {
		t.Columns[i] = NormalizeHeader(h)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sheet: csv read: %w", err)
		}
		t.Rows = append(t.Rows, padRecord(rec, len(t.Columns)))
	}
	return t, nil
}

// ReadXLSXFile parses one sheet of an XLSX workbook. An empty sheet name
// selects the first sheet.
func ReadXLSXFile(path, sheetName string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()
	return readXLSXSheet(f, sheetName)
}

// ReadWorkbook parses several named sheets of one XLSX workbook in a single
// open. Missing sheets are an error.
func ReadWorkbook(path string, sheetNames ...string) (map[string]*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()

	out := make(map[string]*Table, len(sheetNames))
	for _, name := range sheetNames {
		t, err := readXLSXSheet(f, name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func readXLSXSheet(f *excelize.File, sheetName string) (*Table, error) {
	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("sheet: read sheet %q: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet: sheet %q is empty", sheetName)
	}

	t := &Table{Columns: make([]string, len(rows[0]))}
	for i, h := range rows[0] {
		t.Columns[i] = NormalizeHeader(h)
	}
	for _, rec := range rows[1:] {
		t.Rows = append(t.Rows, padRecord(rec, len(t.Columns)))
	}
	return t, nil
}

func padRecord(rec []string, width int) []string {
	if len(rec) >= width {
		return rec
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}

func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "windows-1250":
		return charmap.Windows1250, nil
	case "windows-1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, nil
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2, nil
	default:
		return nil, fmt.Errorf("sheet: unsupported encoding %q", name)
	}
}
