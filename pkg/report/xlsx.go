package report

import (
	"fmt"

	"github.com/raterudder/honorarium/pkg/types"
	"github.com/xuri/excelize/v2"
)

// SheetName is the name of the only sheet in the exported workbook.
const SheetName = "Resultados"

// XLSX exports res as a workbook with one label/value row per line. Money
// cells keep the raw amount and carry a two decimal number format.
func (c *Composer) XLSX(res types.Result) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	moneyStyle, err := xl.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to create money style: %w", err)
	}

	title := []interface{}{c.Company, "Cálculo de honorarios y ahorro"}
	if err := xl.SetSheetRow(SheetName, "A1", &title); err != nil {
		return nil, fmt.Errorf("failed to write title: %w", err)
	}

	row := 3
	for _, section := range Sections(res) {
		for _, l := range section {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, err
			}
			var value interface{} = l.Value
			if l.Money {
				value = l.Amount
			}
			record := []interface{}{l.Label, value}
			if err := xl.SetSheetRow(SheetName, cell, &record); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
			if l.Money {
				valueCell, _ := excelize.CoordinatesToCellName(2, row)
				if err := xl.SetCellStyle(SheetName, valueCell, valueCell, moneyStyle); err != nil {
					return nil, fmt.Errorf("failed to style %s: %w", valueCell, err)
				}
			}
			row++
		}
		row++
	}

	if err := xl.SetColWidth(SheetName, "A", "A", 32); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := xl.SetColWidth(SheetName, "B", "B", 22); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
