// Package analysis wraps the language and vision model calls behind the
// estimate pipeline: blueprint area takeoff, spreadsheet schema detection
// and the client-facing proposal summary. Every call is gated by a monthly
// spend ledger.
package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/logger"
	"github.com/Simplici0/quickbuild/internal/pricing"
	"github.com/Simplici0/quickbuild/internal/proposal"
)

// Approximate per-call costs in USD, charged to the ledger after each call.
const (
	CostBlueprint = 0.02
	CostSchema    = 0.01
	CostSummary   = 0.015
)

// Generator is the subset of Client the analyzer needs.
type Generator interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any, files []FileInput, out any) error
	GenerateText(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Schema is the detector's answer for one spreadsheet.
type Schema struct {
	ColumnRoles     map[string]string
	DetectedBundles []string
}

type Analyzer struct {
	gen    Generator
	ledger Ledger
	log    *logger.Logger
}

func NewAnalyzer(gen Generator, ledger Ledger, log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{gen: gen, ledger: ledger, log: log.With("service", "Analyzer")}
}

func (a *Analyzer) charge(ctx context.Context, op string, cost float64) {
	if err := a.ledger.Record(ctx, cost); err != nil {
		a.log.Error("record api spend failed", "op", op, "cost", cost, "error", err)
	}
}

var areasSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"areas"},
	"properties": map[string]any{
		"areas": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"room", "category", "area_ft2"},
				"properties": map[string]any{
					"room":     map[string]any{"type": "string"},
					"category": map[string]any{"type": "string", "enum": []string{"Interior", "Exterior", "Utility"}},
					"area_ft2": map[string]any{"type": "number"},
				},
			},
		},
	},
}

const blueprintPrompt = `Analyze this construction blueprint and extract room/area information.
For each distinct room or area visible in the blueprint, identify:
1. Room name/type (e.g. "Kitchen", "Living Room", "Bedroom 1")
2. Category: Interior, Exterior or Utility
3. Area in square feet (estimate from dimensions if visible)
If you cannot clearly identify specific rooms, provide reasonable estimates for typical construction areas.`

// AnalyzeBlueprint extracts area records from a blueprint PDF.
func (a *Analyzer) AnalyzeBlueprint(ctx context.Context, filename string, pdf []byte) ([]pricing.Area, error) {
	if err := a.ledger.Check(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Areas []pricing.Area `json:"areas"`
	}
	files := []FileInput{{Filename: filename, MimeType: "application/pdf", Data: pdf}}
	if err := a.gen.GenerateJSON(ctx, "You are a construction quantity surveyor.", blueprintPrompt, "blueprint_areas", areasSchema, files, &out); err != nil {
		return nil, fmt.Errorf("analyze blueprint: %w", err)
	}
	a.charge(ctx, "blueprint", CostBlueprint)

	areas := normalizeAreas(out.Areas)
	a.log.Info("blueprint analysis completed", "areas", len(areas))
	return areas, nil
}

func normalizeAreas(in []pricing.Area) []pricing.Area {
	out := make([]pricing.Area, 0, len(in))
	for _, area := range in {
		area.Room = strings.TrimSpace(area.Room)
		area.Category = strings.TrimSpace(area.Category)
		if area.Category == "" {
			area.Category = "Interior"
		}
		if math.IsNaN(area.AreaFt2) || math.IsInf(area.AreaFt2, 0) || area.AreaFt2 < 0 {
			area.AreaFt2 = 0
		}
		out = append(out, area)
	}
	return out
}

var columnsSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"columns", "detected_bundles"},
	"properties": map[string]any{
		"columns": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"column", "role"},
				"properties": map[string]any{
					"column": map[string]any{"type": "string"},
					"role":   map[string]any{"type": "string"},
				},
			},
		},
		"detected_bundles": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

func schemaPrompt(kind ingest.Kind, sample string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s spreadsheet sample and map each column to one of these roles:\n", kind)
	for _, r := range kind.Roles() {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	b.WriteString("Use the role \"ignore\" for columns that match none of them.\n")
	if kind == ingest.KindMaterials {
		b.WriteString("Also list the unique bundle (package) names found in the data.\n")
	} else {
		b.WriteString("Also list any bundle or grouping names if present.\n")
	}
	b.WriteString("\nSample:\n")
	b.WriteString(sample)
	return b.String()
}

// DetectSchema infers the column roles and bundle names of a spreadsheet from
// a CSV sample of its first rows.
func (a *Analyzer) DetectSchema(ctx context.Context, kind ingest.Kind, sample string) (Schema, error) {
	if err := a.ledger.Check(ctx); err != nil {
		return Schema{}, err
	}

	var out struct {
		Columns []struct {
			Column string `json:"column"`
			Role   string `json:"role"`
		} `json:"columns"`
		DetectedBundles []string `json:"detected_bundles"`
	}
	if err := a.gen.GenerateJSON(ctx, "You are a CSV schema detection expert.", schemaPrompt(kind, sample), "column_roles", columnsSchema, nil, &out); err != nil {
		return Schema{}, fmt.Errorf("detect %s schema: %w", kind, err)
	}
	a.charge(ctx, "schema", CostSchema)

	s := Schema{ColumnRoles: make(map[string]string, len(out.Columns)), DetectedBundles: ingest.MergeBundles(out.DetectedBundles)}
	for _, c := range out.Columns {
		s.ColumnRoles[c.Column] = c.Role
	}
	a.log.Info("schema detection completed", "kind", string(kind), "columns", len(s.ColumnRoles), "bundles", len(s.DetectedBundles))
	return s, nil
}

// ProposalSummary writes the client-facing narrative for an estimate.
func (a *Analyzer) ProposalSummary(ctx context.Context, est pricing.Estimate) (string, error) {
	if err := a.ledger.Check(ctx); err != nil {
		return "", err
	}

	text, err := a.gen.GenerateText(ctx, "You are a professional construction estimator writing client proposals.", summaryPrompt(est), 1000)
	if err != nil {
		return "", fmt.Errorf("generate proposal summary: %w", err)
	}
	a.charge(ctx, "summary", CostSummary)
	return strings.TrimSpace(text), nil
}

func summaryPrompt(est pricing.Estimate) string {
	var areas strings.Builder
	total := 0.0
	for _, area := range est.Areas {
		fmt.Fprintf(&areas, "- %s: %g sq ft\n", area.Room, area.AreaFt2)
		total += area.AreaFt2
	}
	var bundles strings.Builder
	for _, b := range est.ActiveBundles {
		fmt.Fprintf(&bundles, "- %s\n", b)
	}

	profit := est.ProfitPercent.Or(pricing.DefaultProfitPercent)
	contingency := est.ContingencyPercent.Or(pricing.DefaultContingencyPercent)
	return fmt.Sprintf(`Generate a professional, client-friendly construction estimate summary.

Project Details:
- Project Name: %s
- Total Area: %g sq ft

Room Breakdown:
%s
Included Packages:
%s
Financial Summary:
- Subtotal: %s
- Profit (%g%%): %s
- Contingency (%g%%): %s
- Grand Total: %s

Include a project overview, the scope of work based on the packages, general timeline expectations and standard construction terms. Write in a professional but approachable tone.`,
		est.Name, total,
		areas.String(), bundles.String(),
		proposal.FormatCurrency(est.Totals.Subtotal),
		profit, proposal.FormatCurrency(est.Totals.ProfitAmount),
		contingency, proposal.FormatCurrency(est.Totals.ContingencyAmount),
		proposal.FormatCurrency(est.Totals.GrandTotal),
	)
}
