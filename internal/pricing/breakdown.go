package pricing

import (
	"math"
	"strings"
)

const (
	miscellaneousBundle = "Miscellaneous"
	generalLabor        = "General Labor"
	unknownRoom         = "Unknown"
	defaultAreaCategory = "Interior"
)

// MaterialLine is one included material as shown in a breakdown.
type MaterialLine struct {
	Name      string   `json:"name"`
	Quantity  float64  `json:"quantity"`
	Unit      string   `json:"unit"`
	UnitCost  float64  `json:"unit_cost"`
	TotalCost *float64 `json:"total_cost"`
}

// MaterialGroup holds the included materials of one bundle.
type MaterialGroup struct {
	Bundle string         `json:"bundle"`
	Items  []MaterialLine `json:"items"`
}

// LaborLine is one labor item as shown in a breakdown.
type LaborLine struct {
	Task       string   `json:"task"`
	Hours      float64  `json:"hours"`
	HourlyRate float64  `json:"hourly_rate"`
	TotalCost  *float64 `json:"total_cost"`
}

// LaborGroup holds the labor items of one category.
type LaborGroup struct {
	Category string      `json:"category"`
	Items    []LaborLine `json:"items"`
}

// AreaCost is the priced view of one area record.
type AreaCost struct {
	Room      string  `json:"room"`
	AreaFt2   float64 `json:"area_ft2"`
	PSFRate   float64 `json:"psf_rate"`
	TotalCost float64 `json:"total_cost"`
	Category  string  `json:"category"`
}

// BreakdownTotals mirrors the aggregator. Materials, Labor and AreaCosts are
// recomputed; the rest are copied from the estimate.
type BreakdownTotals struct {
	Materials   float64 `json:"materials"`
	Labor       float64 `json:"labor"`
	AreaCosts   float64 `json:"area_costs"`
	Subtotal    float64 `json:"subtotal"`
	Profit      float64 `json:"profit"`
	Contingency float64 `json:"contingency"`
	GrandTotal  float64 `json:"grand_total"`
}

// Breakdown is the grouped report used by the web view, PDF and XLSX export.
// Groups keep first-appearance order.
type Breakdown struct {
	Materials []MaterialGroup `json:"materials"`
	Labor     []LaborGroup    `json:"labor"`
	AreaCosts []AreaCost      `json:"area_costs"`
	Totals    BreakdownTotals `json:"totals"`
}

// Room returns the priced area for a room name. When several records share
// a name the last one wins.
func (b Breakdown) Room(name string) (AreaCost, bool) {
	for i := len(b.AreaCosts) - 1; i >= 0; i-- {
		if b.AreaCosts[i].Room == name {
			return b.AreaCosts[i], true
		}
	}
	return AreaCost{}, false
}

// Bundle returns the material group for a bundle label.
func (b Breakdown) Bundle(name string) (MaterialGroup, bool) {
	for _, g := range b.Materials {
		if g.Bundle == name {
			return g, true
		}
	}
	return MaterialGroup{}, false
}

// BuildBreakdown groups line items and areas for display. It never fails;
// malformed areas are reported with zero cost.
func BuildBreakdown(est Estimate, materials []Material, labor []Labor) Breakdown {
	active := activeSet(est.ActiveBundles)
	b := Breakdown{
		Materials: []MaterialGroup{},
		Labor:     []LaborGroup{},
		AreaCosts: []AreaCost{},
		Totals: BreakdownTotals{
			Subtotal:    est.Totals.Subtotal,
			Profit:      est.Totals.ProfitAmount,
			Contingency: est.Totals.ContingencyAmount,
			GrandTotal:  est.Totals.GrandTotal,
		},
	}

	bundleIdx := map[string]int{}
	for _, m := range materials {
		if !included(m, active) {
			continue
		}
		label := m.Bundle
		if label == "" {
			label = miscellaneousBundle
		}
		i, ok := bundleIdx[label]
		if !ok {
			i = len(b.Materials)
			bundleIdx[label] = i
			b.Materials = append(b.Materials, MaterialGroup{Bundle: label})
		}
		b.Materials[i].Items = append(b.Materials[i].Items, MaterialLine{
			Name:      m.Name,
			Quantity:  m.Quantity,
			Unit:      m.Unit,
			UnitCost:  m.UnitCost,
			TotalCost: m.TotalCost,
		})
		b.Totals.Materials += amount(m.TotalCost)
	}

	categoryIdx := map[string]int{}
	for _, l := range labor {
		label := l.Category
		if label == "" {
			label = generalLabor
		}
		i, ok := categoryIdx[label]
		if !ok {
			i = len(b.Labor)
			categoryIdx[label] = i
			b.Labor = append(b.Labor, LaborGroup{Category: label})
		}
		b.Labor[i].Items = append(b.Labor[i].Items, LaborLine{
			Task:       l.Task,
			Hours:      l.Hours,
			HourlyRate: l.HourlyRate,
			TotalCost:  l.TotalCost,
		})
		b.Totals.Labor += amount(l.TotalCost)
	}

	for _, a := range est.Areas {
		room := a.Room
		if strings.TrimSpace(room) == "" {
			room = unknownRoom
		}
		category := a.Category
		if strings.TrimSpace(category) == "" {
			category = defaultAreaCategory
		}
		rate := RateFor(category)
		area := a.AreaFt2
		if checkArea(a) != nil {
			area = 0
		}
		cost := area * rate
		if math.IsInf(cost, 0) {
			cost = 0
		}
		b.AreaCosts = append(b.AreaCosts, AreaCost{
			Room:      room,
			AreaFt2:   area,
			PSFRate:   rate,
			TotalCost: cost,
			Category:  category,
		})
		b.Totals.AreaCosts += cost
	}

	return b
}
