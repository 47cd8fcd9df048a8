package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet the spreadsheet export writes to.
const SheetName = "eDuit Raya"

// XLSXSink writes the table as an Excel workbook with one sheet.
type XLSXSink struct{}

func (XLSXSink) Format() Format { return XLSX }

func (XLSXSink) Write(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i, row := range t.Rows() {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return err
	}
	last := len(t.Recipients) + 3
	if err := f.SetRowStyle(SheetName, last, last, bold); err != nil {
		return err
	}
	for col, width := range map[string]float64{"A": 24, "B": 14, "C": 30, "D": 20, "E": 14} {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return err
		}
	}

	return f.Write(w)
}
