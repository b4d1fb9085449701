package pricing

import (
	"math"
	"testing"
)

func TestBuildBreakdown_GroupsAndTotals(t *testing.T) {
	est, materials, labor := kitchenScenario()
	materials = append(materials, Material{Name: "Vanity", TotalCost: Cost(900), Bundle: "Bath"})
	labor = append(labor, Labor{Task: "Cleanup", Hours: 2, HourlyRate: 25, TotalCost: Cost(50)})
	if err := Recompute(&est, materials, labor); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	b := BuildBreakdown(est, materials, labor)

	if len(b.Materials) != 2 || b.Materials[0].Bundle != "Kitchen" || b.Materials[1].Bundle != "Miscellaneous" {
		t.Fatalf("unexpected material groups: %+v", b.Materials)
	}
	if _, ok := b.Bundle("Bath"); ok {
		t.Fatalf("inactive bundle Bath must not appear")
	}
	if len(b.Labor) != 2 || b.Labor[0].Category != "Carpentry" || b.Labor[1].Category != "General Labor" {
		t.Fatalf("unexpected labor groups: %+v", b.Labor)
	}

	kitchen, ok := b.Room("Kitchen")
	if !ok {
		t.Fatalf("expected Kitchen area")
	}
	nearlyEqual(t, "kitchen rate", kitchen.PSFRate, 20)
	nearlyEqual(t, "kitchen cost", kitchen.TotalCost, 1000)

	nearlyEqual(t, "materials", b.Totals.Materials, 700)
	nearlyEqual(t, "labor", b.Totals.Labor, 350)
	nearlyEqual(t, "area", b.Totals.AreaCosts, 1000)
	if b.Totals.Subtotal != est.Totals.Subtotal || b.Totals.GrandTotal != est.Totals.GrandTotal {
		t.Fatalf("stored totals not copied: %+v vs %+v", b.Totals, est.Totals)
	}
}

func TestBuildBreakdown_MatchesAggregatorComponents(t *testing.T) {
	est := Estimate{
		ActiveBundles: []string{"A", "C"},
		Areas: []Area{
			{Room: "Deck", Category: "EXTERIOR", AreaFt2: 123.456},
			{Room: "Mech", Category: "utility", AreaFt2: 7.77},
			{Room: "Den", Category: "Interior", AreaFt2: 0.1},
		},
	}
	materials := []Material{
		{Name: "1", TotalCost: Cost(0.1), Bundle: "A"},
		{Name: "2", TotalCost: Cost(0.2), Bundle: "B"},
		{Name: "3", TotalCost: Cost(0.3)},
		{Name: "4", TotalCost: Cost(1e-3), Bundle: "C"},
		{Name: "5"},
	}
	labor := []Labor{{TotalCost: Cost(0.7)}, {TotalCost: Cost(0.1)}, {}}

	result, err := Compute(est, materials, labor)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b := BuildBreakdown(est, materials, labor)

	if b.Totals.Materials != result.Components.Materials {
		t.Fatalf("materials %v != %v", b.Totals.Materials, result.Components.Materials)
	}
	if b.Totals.Labor != result.Components.Labor {
		t.Fatalf("labor %v != %v", b.Totals.Labor, result.Components.Labor)
	}
	if b.Totals.AreaCosts != result.Components.Area {
		t.Fatalf("area %v != %v", b.Totals.AreaCosts, result.Components.Area)
	}
}

func TestBuildBreakdown_DoesNotRecomputeStoredTotals(t *testing.T) {
	est, materials, labor := kitchenScenario()
	est.Totals = Totals{Subtotal: 1, ProfitAmount: 2, ContingencyAmount: 3, GrandTotal: 4}

	b := BuildBreakdown(est, materials, labor)

	if b.Totals.Subtotal != 1 || b.Totals.Profit != 2 || b.Totals.Contingency != 3 || b.Totals.GrandTotal != 4 {
		t.Fatalf("stale totals should be reported as stored, got %+v", b.Totals)
	}
	nearlyEqual(t, "materials", b.Totals.Materials, 700)
}

func TestBuildBreakdown_DegradesOnMalformedInput(t *testing.T) {
	est := Estimate{Areas: []Area{
		{Room: "", Category: "", AreaFt2: 10},
		{Room: "Broken", Category: "Exterior", AreaFt2: math.NaN()},
	}}

	b := BuildBreakdown(est, []Material{{Name: "No total"}}, []Labor{{Task: "No total"}})

	unknown, ok := b.Room("Unknown")
	if !ok || unknown.Category != "Interior" || unknown.TotalCost != 200 {
		t.Fatalf("unexpected default area entry: %+v", unknown)
	}
	broken, ok := b.Room("Broken")
	if !ok || broken.TotalCost != 0 || broken.PSFRate != 15 {
		t.Fatalf("unexpected malformed area entry: %+v", broken)
	}
	nearlyEqual(t, "area", b.Totals.AreaCosts, 200)
	nearlyEqual(t, "materials", b.Totals.Materials, 0)
	nearlyEqual(t, "labor", b.Totals.Labor, 0)
}

func TestBuildBreakdown_DuplicateRoomLastWins(t *testing.T) {
	est := Estimate{Areas: []Area{
		{Room: "Bedroom", AreaFt2: 10},
		{Room: "Bedroom", Category: "Utility", AreaFt2: 10},
	}}

	b := BuildBreakdown(est, nil, nil)

	room, _ := b.Room("Bedroom")
	nearlyEqual(t, "bedroom cost", room.TotalCost, 250)
	nearlyEqual(t, "area", b.Totals.AreaCosts, 450)
}
