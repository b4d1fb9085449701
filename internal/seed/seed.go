package seed

import (
	"context"
	"fmt"

	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/pricing"
)

const (
	demoEstimateName = "Sample: Kitchen & Bath Remodel"
	demoBundleKitch  = "Kitchen"
	demoBundleBath   = "Bathroom"
)

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
}

// Run inserts the demo estimate used in local development. It is idempotent:
// an existing estimate with the demo name is left alone.
func Run(ctx context.Context, svc *estimate.Service) (Stats, error) {
	existing, err := svc.List(ctx, demoEstimateName)
	if err != nil {
		return Stats{}, fmt.Errorf("check demo estimate existence: %w", err)
	}
	for _, s := range existing {
		if s.Name == demoEstimateName {
			return Stats{}, nil
		}
	}

	if _, err := svc.CreateAndPrice(ctx, demoEstimate()); err != nil {
		return Stats{}, fmt.Errorf("insert demo estimate: %w", err)
	}
	return Stats{Inserts: 1}, nil
}

func demoEstimate() estimate.NewEstimate {
	material := func(name, unit string, unitCost, qty float64, bundle, category string) pricing.Material {
		return pricing.Material{
			Name:      name,
			Unit:      unit,
			UnitCost:  unitCost,
			Quantity:  qty,
			TotalCost: pricing.Cost(unitCost * qty),
			Bundle:    bundle,
			Category:  category,
		}
	}
	labor := func(task string, hours, rate float64, category string) pricing.Labor {
		return pricing.Labor{
			Task:       task,
			Hours:      hours,
			HourlyRate: rate,
			TotalCost:  pricing.Cost(hours * rate),
			Category:   category,
		}
	}

	return estimate.NewEstimate{
		Name: demoEstimateName,
		Areas: []pricing.Area{
			{Room: "Kitchen", Category: "Interior", AreaFt2: 180},
			{Room: "Bathroom", Category: "Interior", AreaFt2: 60},
			{Room: "Deck", Category: "Exterior", AreaFt2: 120},
			{Room: "Laundry", Category: "Utility", AreaFt2: 40},
		},
		DetectedBundles: []string{demoBundleBath, demoBundleKitch},
		ActiveBundles:   []string{demoBundleBath, demoBundleKitch},
		Materials: []pricing.Material{
			material("Shaker cabinets", "each", 320, 8, demoBundleKitch, "Cabinetry"),
			material("Quartz countertop", "sq ft", 55, 30, demoBundleKitch, "Surfaces"),
			material("Vanity", "each", 480, 1, demoBundleBath, "Fixtures"),
			material("Porcelain tile", "sq ft", 6.5, 70, demoBundleBath, "Surfaces"),
			material("Drywall sheet", "sheet", 14, 40, "", "Framing"),
		},
		Labor: []pricing.Labor{
			labor("Demolition", 16, 45, "General Labor"),
			labor("Cabinet installation", 24, 60, "Carpentry"),
			labor("Tile setting", 20, 55, "Tiling"),
		},
	}
}
