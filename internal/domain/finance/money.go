package finance

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundCurrency rounds to 2 decimal places, half away from zero. The value is
// taken at its shortest decimal representation so 1.005 rounds to 1.01 rather
// than to the 1.00 its binary approximation would give.
func RoundCurrency(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return cents(decimal.NewFromFloat(v)).InexactFloat64()
}

// CompareCurrency compares two amounts after rounding both to cents
func CompareCurrency(a, b float64) int {
	if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return cents(decimal.NewFromFloat(a)).Cmp(cents(decimal.NewFromFloat(b)))
}

func cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
