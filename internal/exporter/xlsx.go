package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet names the single worksheet of a license report
const DefaultSheet = "Licenses"

// XLSXWriter writes reports as Excel workbooks
type XLSXWriter struct {
	sheet string
}

// NewXLSXWriter creates a writer for sheet; "" uses DefaultSheet
func NewXLSXWriter(sheet string) *XLSXWriter {
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &XLSXWriter{sheet: sheet}
}

// WriteXLSX writes headers and records to filePath, replacing any existing file
func (w *XLSXWriter) WriteXLSX(filePath string, headers []string, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), w.sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if len(headers) > 0 {
		if err := w.writeHeader(f, headers); err != nil {
			return err
		}
	}

	firstRow := 1
	if len(headers) > 0 {
		firstRow = 2
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, firstRow+i)
		if err != nil {
			return err
		}
		row := make([]any, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(w.sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if len(headers) > 0 && len(records) > 0 {
		last, err := excelize.CoordinatesToCellName(len(headers), len(records)+1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(w.sheet, "A1:"+last, nil); err != nil {
			return fmt.Errorf("failed to add auto filter: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (w *XLSXWriter) writeHeader(f *excelize.File, headers []string) error {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(w.sheet, "A1", &row); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(w.sheet, "A1", last, style); err != nil {
		return err
	}

	return f.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
