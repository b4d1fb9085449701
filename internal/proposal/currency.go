package proposal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency renders a dollar amount as "$1,234.56" ("-$1,234.56" when negative).
func FormatCurrency(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

// FormatPercent renders a percentage without trailing zeros, e.g. "15%" or "12.5%".
func FormatPercent(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String() + "%"
}
