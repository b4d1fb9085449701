// Package proposal renders an estimate for the client: a PDF proposal and
// an XLSX export of the breakdown.
package proposal

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Simplici0/quickbuild/internal/pricing"
)

// Document is everything a rendered proposal shows.
type Document struct {
	Estimate  pricing.Estimate
	Breakdown pricing.Breakdown
	Summary   string
	Date      time.Time
}

const (
	pageWidth   = 180.0
	lineHeight  = 6.0
	headerGray  = 230
	companyName = "QuickBuild Estimate"
)

// PDF writes the client proposal.
func PDF(w io.Writer, doc Document) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(doc.Estimate.Name), false)
	pdf.SetAuthor(companyName, false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(pageWidth, 10, "Construction Estimate Proposal", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(pageWidth, lineHeight, tr(doc.Estimate.Name), "", 1, "C", false, 0, "")
	date := doc.Date
	if date.IsZero() {
		date = time.Now()
	}
	pdf.CellFormat(pageWidth, lineHeight, date.Format("January 2, 2006"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if doc.Summary != "" {
		section(pdf, "Project Summary")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(pageWidth, 5, tr(doc.Summary), "", "L", false)
		pdf.Ln(3)
	}

	b := doc.Breakdown
	if len(b.AreaCosts) > 0 {
		section(pdf, "Area Pricing")
		widths := []float64{55, 35, 30, 25, 35}
		tableHeader(pdf, widths, "Room", "Category", "Area (sq ft)", "Rate", "Cost")
		for _, a := range b.AreaCosts {
			tableRow(pdf, tr, widths,
				a.Room, a.Category, strconv.FormatFloat(a.AreaFt2, 'f', -1, 64),
				FormatCurrency(a.PSFRate), FormatCurrency(a.TotalCost))
		}
		pdf.Ln(3)
	}

	if len(b.Materials) > 0 {
		section(pdf, "Materials")
		widths := []float64{70, 25, 25, 25, 35}
		for _, g := range b.Materials {
			subheading(pdf, tr(g.Bundle))
			tableHeader(pdf, widths, "Item", "Qty", "Unit", "Unit Cost", "Total")
			for _, m := range g.Items {
				tableRow(pdf, tr, widths,
					m.Name, strconv.FormatFloat(m.Quantity, 'f', -1, 64), m.Unit,
					FormatCurrency(m.UnitCost), lineTotal(m.TotalCost))
			}
		}
		pdf.Ln(3)
	}

	if len(b.Labor) > 0 {
		section(pdf, "Labor")
		widths := []float64{85, 25, 35, 35}
		for _, g := range b.Labor {
			subheading(pdf, tr(g.Category))
			tableHeader(pdf, widths, "Task", "Hours", "Rate", "Total")
			for _, l := range g.Items {
				tableRow(pdf, tr, widths,
					l.Task, strconv.FormatFloat(l.Hours, 'f', -1, 64),
					FormatCurrency(l.HourlyRate), lineTotal(l.TotalCost))
			}
		}
		pdf.Ln(3)
	}

	section(pdf, "Financial Summary")
	est := doc.Estimate
	summaryRow(pdf, "Materials", FormatCurrency(b.Totals.Materials), false)
	summaryRow(pdf, "Labor", FormatCurrency(b.Totals.Labor), false)
	summaryRow(pdf, "Area pricing", FormatCurrency(b.Totals.AreaCosts), false)
	summaryRow(pdf, "Subtotal", FormatCurrency(b.Totals.Subtotal), false)
	summaryRow(pdf, "Profit ("+FormatPercent(est.ProfitPercent.Or(pricing.DefaultProfitPercent))+")", FormatCurrency(b.Totals.Profit), false)
	summaryRow(pdf, "Contingency ("+FormatPercent(est.ContingencyPercent.Or(pricing.DefaultContingencyPercent))+")", FormatCurrency(b.Totals.Contingency), false)
	summaryRow(pdf, "Grand Total", FormatCurrency(b.Totals.GrandTotal), true)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render proposal: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write proposal: %w", err)
	}
	return nil
}

func lineTotal(v *float64) string {
	if v == nil {
		return "-"
	}
	return FormatCurrency(*v)
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(pageWidth, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func subheading(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(pageWidth, lineHeight, title, "", 1, "L", false, 0, "")
}

func tableHeader(pdf *fpdf.Fpdf, widths []float64, cols ...string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(headerGray, headerGray, headerGray)
	for i, c := range cols {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], lineHeight, c, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)
}

func tableRow(pdf *fpdf.Fpdf, tr func(string) string, widths []float64, cols ...string) {
	pdf.SetFont("Helvetica", "", 9)
	for i, c := range cols {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], lineHeight, tr(c), "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func summaryRow(pdf *fpdf.Fpdf, label, value string, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 11)
	pdf.CellFormat(130, 7, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, value, "", 1, "R", false, 0, "")
}
