package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultProfitPercent applies when an estimate has no profit percentage set.
	DefaultProfitPercent = 15.0
	// DefaultContingencyPercent applies when an estimate has no contingency percentage set.
	DefaultContingencyPercent = 10.0

	exteriorRate = 15.0
	utilityRate  = 25.0
	interiorRate = 20.0
)

// ErrComputation marks a recomputation that could not produce totals.
var ErrComputation = errors.New("failed to calculate estimate totals")

// ComputeError carries the underlying cause of a failed recomputation.
type ComputeError struct {
	Cause error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrComputation, e.Cause)
}

func (e *ComputeError) Unwrap() []error {
	return []error{ErrComputation, e.Cause}
}

// Percent is an optional percentage. The zero value is unset, which is
// different from an explicit 0.
type Percent struct {
	value float64
	set   bool
}

// PercentOf returns a set percentage.
func PercentOf(v float64) Percent {
	return Percent{value: v, set: true}
}

// Value reports the percentage and whether it was set.
func (p Percent) Value() (float64, bool) {
	return p.value, p.set
}

// Or returns the percentage, or def when unset.
func (p Percent) Or(def float64) float64 {
	if !p.set {
		return def
	}
	return p.value
}

// IsSet reports whether the percentage carries a value.
func (p Percent) IsSet() bool {
	return p.set
}

// Clamp bounds a set percentage to [0, 100]. Unset values stay unset.
func (p Percent) Clamp() Percent {
	if !p.set {
		return p
	}
	return PercentOf(math.Max(0, math.Min(100, p.value)))
}

// Area is one room detected on a blueprint.
type Area struct {
	Room     string  `json:"room"`
	Category string  `json:"category"`
	AreaFt2  float64 `json:"area_ft2"`
}

// Material is a material line item. A nil TotalCost counts as zero.
type Material struct {
	Name      string
	Unit      string
	UnitCost  float64
	Quantity  float64
	TotalCost *float64
	Bundle    string
	Category  string
}

// Labor is a labor line item. Labor is never filtered by bundle.
type Labor struct {
	Task       string
	Hours      float64
	HourlyRate float64
	TotalCost  *float64
	Category   string
}

// Totals are the four persisted monetary results of a recomputation.
type Totals struct {
	Subtotal          float64 `json:"subtotal"`
	ProfitAmount      float64 `json:"profit_amount"`
	ContingencyAmount float64 `json:"contingency_amount"`
	GrandTotal        float64 `json:"grand_total"`
}

// Estimate is the aggregate the cost engine reads settings from and writes totals to.
type Estimate struct {
	ID                 int64
	Name               string
	Areas              []Area
	DetectedBundles    []string
	ActiveBundles      []string
	ProfitPercent      Percent
	ContingencyPercent Percent
	Totals             Totals
}

// IsActive reports whether the named bundle is currently enabled.
func (e Estimate) IsActive(bundle string) bool {
	for _, b := range e.ActiveBundles {
		if b == bundle {
			return true
		}
	}
	return false
}

// Cost returns a pointer to v, for building line items.
func Cost(v float64) *float64 {
	return &v
}

// RateFor returns the per-square-foot rate for an area category. Matching
// ignores case and surrounding whitespace.
func RateFor(category string) float64 {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "exterior":
		return exteriorRate
	case "utility":
		return utilityRate
	default:
		return interiorRate
	}
}

// Round2 rounds half away from zero to two decimal places, working on the
// shortest decimal form of v: 2.675 becomes 2.68 and 0.125 becomes 0.13,
// where rounding the exact binary value would give 2.67 and 0.12. Keep it
// that way; stored totals depend on it. Non-finite values are returned
// unchanged.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// amount coalesces a missing or non-finite stored total to zero.
func amount(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func activeSet(bundles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(bundles))
	for _, b := range bundles {
		set[b] = struct{}{}
	}
	return set
}

// included applies the bundle filter: ungrouped materials are always in.
func included(m Material, active map[string]struct{}) bool {
	if m.Bundle == "" {
		return true
	}
	_, ok := active[m.Bundle]
	return ok
}
