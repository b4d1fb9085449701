package pricing

import (
	"fmt"
	"math"
)

// Components are the unrounded inputs to the subtotal.
type Components struct {
	Materials float64
	Labor     float64
	Area      float64
}

// Result groups a recomputation's components and rounded totals.
type Result struct {
	Components Components
	Totals     Totals
}

// Compute derives totals from the estimate settings and its line items
// without mutating anything.
func Compute(est Estimate, materials []Material, labor []Labor) (Result, error) {
	active := activeSet(est.ActiveBundles)

	materialTotal := 0.0
	for _, m := range materials {
		if included(m, active) {
			materialTotal += amount(m.TotalCost)
		}
	}

	laborTotal := 0.0
	for _, l := range labor {
		laborTotal += amount(l.TotalCost)
	}

	areaCost := 0.0
	for i, a := range est.Areas {
		if err := checkArea(a); err != nil {
			return Result{}, &ComputeError{Cause: fmt.Errorf("area %d (%q): %w", i, a.Room, err)}
		}
		areaCost += a.AreaFt2 * RateFor(a.Category)
	}

	subtotal := materialTotal + laborTotal + areaCost
	profit := subtotal * (est.ProfitPercent.Or(DefaultProfitPercent) / 100.0)
	contingency := (subtotal + profit) * (est.ContingencyPercent.Or(DefaultContingencyPercent) / 100.0)
	grandTotal := subtotal + profit + contingency

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"subtotal", subtotal},
		{"profit", profit},
		{"contingency", contingency},
		{"grand total", grandTotal},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Result{}, &ComputeError{Cause: fmt.Errorf("%s is not a finite number", f.name)}
		}
	}

	return Result{
		Components: Components{
			Materials: materialTotal,
			Labor:     laborTotal,
			Area:      areaCost,
		},
		Totals: Totals{
			Subtotal:          Round2(subtotal),
			ProfitAmount:      Round2(profit),
			ContingencyAmount: Round2(contingency),
			GrandTotal:        Round2(grandTotal),
		},
	}, nil
}

// Recompute overwrites the estimate's totals. On error the estimate is left unchanged.
func Recompute(est *Estimate, materials []Material, labor []Labor) error {
	if est == nil {
		return &ComputeError{Cause: fmt.Errorf("nil estimate")}
	}
	result, err := Compute(*est, materials, labor)
	if err != nil {
		return err
	}
	est.Totals = result.Totals
	return nil
}

func checkArea(a Area) error {
	switch {
	case math.IsNaN(a.AreaFt2), math.IsInf(a.AreaFt2, 0):
		return fmt.Errorf("area_ft2 is not a finite number")
	case a.AreaFt2 < 0:
		return fmt.Errorf("area_ft2 is negative: %v", a.AreaFt2)
	}
	return nil
}
