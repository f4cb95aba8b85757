package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/KaramelBytes/biogram-cli/internal/biogram"
	"github.com/KaramelBytes/biogram-cli/internal/utils"
)

const defaultSheet = "Sheet1"

// WriteXLSX writes one sheet per section, named after the section, in report order.
func (r *Report) WriteXLSX(path string) error {
	if len(r.Sections) == 0 {
		return errors.New("report has no sections")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range r.Sections {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, s.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return err
		}
		rowIdx := 1
		for _, h := range s.Header {
			if err := setRow(f, s.Name, rowIdx, toAny(h)); err != nil {
				return err
			}
			rowIdx++
		}
		for _, row := range s.Rows {
			if err := setRow(f, s.Name, rowIdx, row); err != nil {
				return err
			}
			rowIdx++
		}
	}
	f.SetActiveSheet(0)
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// setRow writes values left to right; nil values leave the cell empty.
func setRow(f *excelize.File, sheet string, rowIdx int, values []any) error {
	for c, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(c+1, rowIdx)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// WriteFactsCSV writes the long-format fact table, including not-tested rows.
func WriteFactsCSV(w io.Writer, ft *biogram.FactTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ft.Columns()); err != nil {
		return err
	}
	for i := range ft.Facts {
		if err := cw.Write(ft.Record(&ft.Facts[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFactsXLSX writes the long-format fact table to a single "facts" sheet.
func WriteFactsXLSX(path string, ft *biogram.FactTable) error {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "facts"
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, toAny(ft.Columns())); err != nil {
		return err
	}
	for i := range ft.Facts {
		if err := setRow(f, sheet, i+2, toAny(ft.Record(&ft.Facts[i]))); err != nil {
			return err
		}
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
