package ingest

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Simplici0/quickbuild/internal/pricing"
)

// Materials converts table rows into material line items. The stored total
// is unit cost times quantity; it is the only place that total is derived.
func Materials(t Table, m Mapping) []pricing.Material {
	items := make([]pricing.Material, 0, len(t.Rows))
	for i := range t.Rows {
		unitCost := parseNumber(t.Cell(i, m.Column(RoleUnitCost)))
		quantity := parseNumber(t.Cell(i, m.Column(RoleQuantity)))
		items = append(items, pricing.Material{
			Name:      t.Cell(i, m.Column(RoleName)),
			Unit:      t.Cell(i, m.Column(RoleUnit)),
			UnitCost:  unitCost,
			Quantity:  quantity,
			TotalCost: pricing.Cost(unitCost * quantity),
			Bundle:    t.Cell(i, m.Column(RoleBundle)),
			Category:  t.Cell(i, m.Column(RoleCategory)),
		})
	}
	return items
}

// Labor converts table rows into labor line items with total = hours × rate.
func Labor(t Table, m Mapping) []pricing.Labor {
	items := make([]pricing.Labor, 0, len(t.Rows))
	for i := range t.Rows {
		hours := parseNumber(t.Cell(i, m.Column(RoleHours)))
		rate := parseNumber(t.Cell(i, m.Column(RoleHourlyRate)))
		items = append(items, pricing.Labor{
			Task:       t.Cell(i, m.Column(RoleTask)),
			Hours:      hours,
			HourlyRate: rate,
			TotalCost:  pricing.Cost(hours * rate),
			Category:   t.Cell(i, m.Column(RoleCategory)),
		})
	}
	return items
}

// Bundles returns the distinct non-empty bundle names, sorted.
func Bundles(materials []pricing.Material) []string {
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, m := range materials {
		if m.Bundle == "" || seen[m.Bundle] {
			continue
		}
		seen[m.Bundle] = true
		out = append(out, m.Bundle)
	}
	sort.Strings(out)
	return out
}

// MergeBundles unions bundle lists, dropping blanks and duplicates, sorted.
func MergeBundles(lists ...[]string) []string {
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, list := range lists {
		for _, b := range list {
			b = strings.TrimSpace(b)
			if b == "" || seen[b] {
				continue
			}
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// parseNumber reads spreadsheet numbers leniently: currency symbols,
// thousands separators and accounting parentheses are accepted; anything
// unparseable is 0.
func parseNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if negative {
		v = -v
	}
	return v
}
