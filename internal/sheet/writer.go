package sheet

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX renders a header row plus data rows as a single-sheet XLSX
// workbook on w. Cell values may be any excelize-supported scalar.
func WriteXLSX(w io.Writer, sheetName string, columns []string, rows [][]any) error {
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("sheet: rename sheet: %w", err)
		}
	}

	hdr := make([]any, len(columns))
	for i, c := range columns {
		hdr[i] = c
	}
	if err := setRow(f, sheetName, 1, hdr); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, sheetName, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("sheet: write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheetName string, n int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("sheet: set row %d: %w", n, err)
	}
	return nil
}

// WriteCSV renders a header row plus data rows as CSV on w. Values are
// stringified with fmt.Sprint; nil renders as empty.
func WriteCSV(w io.Writer, columns []string, rows [][]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	rec := make([]string, len(columns))
	for _, row := range rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) && row[i] != nil {
				rec[i] = fmt.Sprint(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
