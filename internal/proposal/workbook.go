package proposal

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/quickbuild/internal/pricing"
)

// Workbook writes the breakdown as an XLSX file with Summary, Materials,
// Labor and Areas sheets.
func Workbook(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), "Summary"); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	for _, name := range []string{"Materials", "Labor", "Areas"} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	est := doc.Estimate
	b := doc.Breakdown
	summary := [][]any{
		{"Estimate", est.Name},
		{"Materials", b.Totals.Materials},
		{"Labor", b.Totals.Labor},
		{"Area pricing", b.Totals.AreaCosts},
		{"Subtotal", b.Totals.Subtotal},
		{"Profit %", est.ProfitPercent.Or(pricing.DefaultProfitPercent)},
		{"Profit", b.Totals.Profit},
		{"Contingency %", est.ContingencyPercent.Or(pricing.DefaultContingencyPercent)},
		{"Contingency", b.Totals.Contingency},
		{"Grand Total", b.Totals.GrandTotal},
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		return err
	}

	materials := [][]any{{"Bundle", "Item", "Quantity", "Unit", "Unit Cost", "Total"}}
	for _, g := range b.Materials {
		for _, m := range g.Items {
			materials = append(materials, []any{g.Bundle, m.Name, m.Quantity, m.Unit, m.UnitCost, cellTotal(m.TotalCost)})
		}
	}
	if err := writeRows(f, "Materials", materials); err != nil {
		return err
	}

	labor := [][]any{{"Category", "Task", "Hours", "Hourly Rate", "Total"}}
	for _, g := range b.Labor {
		for _, l := range g.Items {
			labor = append(labor, []any{g.Category, l.Task, l.Hours, l.HourlyRate, cellTotal(l.TotalCost)})
		}
	}
	if err := writeRows(f, "Labor", labor); err != nil {
		return err
	}

	areas := [][]any{{"Room", "Category", "Area (sq ft)", "Rate", "Cost"}}
	for _, a := range b.AreaCosts {
		areas = append(areas, []any{a.Room, a.Category, a.AreaFt2, a.PSFRate, a.TotalCost})
	}
	if err := writeRows(f, "Areas", areas); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func cellTotal(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
