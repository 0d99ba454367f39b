package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTotals(t *testing.T) {
	lines := []LineItem{
		{SKU: "LAP-01", Quantity: 3, UnitPrice: 1299.99},
		{SKU: "DOCK-02", Quantity: 3, UnitPrice: 189.5},
		{SKU: "CBL-03", Quantity: 7, UnitPrice: 3.333},
	}

	totals := CalculateTotals(lines, 0.0825)

	// 3899.97 + 568.50 + 23.33
	assert.Equal(t, 4491.8, totals.Subtotal)
	assert.Equal(t, 370.57, totals.Tax)
	assert.Equal(t, 4862.37, totals.GrandTotal)
	assert.Equal(t, totals.GrandTotal, totals.Fields()["grandTotal"])
}

func TestCalculateTotals_Empty(t *testing.T) {
	assert.Equal(t, Totals{}, CalculateTotals(nil, 0.2))
}

func TestCalculateTotals_DecimalSums(t *testing.T) {
	lines := make([]LineItem, 0, 11)
	for i := 0; i < 10; i++ {
		lines = append(lines, LineItem{SKU: "PEN", Quantity: 1, UnitPrice: 0.1})
	}
	lines = append(lines, LineItem{SKU: "CLIP", Quantity: 1, UnitPrice: 1.005})

	totals := CalculateTotals(lines, 0.15)

	assert.Equal(t, 2.01, totals.Subtotal)
	assert.Equal(t, 0.3, totals.Tax)
	assert.Equal(t, 2.31, totals.GrandTotal)
	assert.Equal(t, 1.01, lines[10].Total())
}

func TestCalculateCostDelta(t *testing.T) {
	tests := []struct {
		name string
		prev float64
		cur  float64
		abs  float64
		pct  float64
		dir  Direction
	}{
		{"increase", 1000, 1150, 150, 15, DirectionIncrease},
		{"decrease", 2000, 1500, -500, -25, DirectionDecrease},
		{"unchanged", 99.99, 99.99, 0, 0, DirectionUnchanged},
		{"from zero", 0, 250, 250, 100, DirectionIncrease},
		{"both zero", 0, 0, 0, 0, DirectionUnchanged},
		{"repeating fraction", 300, 400, 100, 33.33, DirectionIncrease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CalculateCostDelta(tt.prev, tt.cur)
			assert.Equal(t, tt.abs, d.Absolute)
			assert.Equal(t, tt.pct, d.Percentage)
			assert.Equal(t, tt.dir, d.Direction)
		})
	}
}

func TestCostDelta_Fields(t *testing.T) {
	fields := CalculateCostDelta(100, 120).Fields()

	nested, ok := fields["costDelta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 20.0, nested["absolute"])
	assert.Equal(t, 20.0, nested["percentage"])
	assert.Equal(t, "increase", nested["direction"])
}

func TestCheckThresholds(t *testing.T) {
	limits := ThresholdLimits{AbsoluteLimit: 5000, PercentageLimit: 10}

	tests := []struct {
		name  string
		delta CostDelta
		kinds []BreachKind
	}{
		{"within both", CalculateCostDelta(100000, 104000), nil},
		{"absolute exactly at limit", CalculateCostDelta(100000, 105000), nil},
		{"absolute just above limit", CalculateCostDelta(100000, 105000.01), []BreachKind{BreachAbsolute}},
		{"percentage only", CalculateCostDelta(1000, 1200), []BreachKind{BreachPercentage}},
		{"both", CalculateCostDelta(10000, 20000), []BreachKind{BreachAbsolute, BreachPercentage}},
		{"decrease never breaches", CalculateCostDelta(20000, 1000), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaches := CheckThresholds(tt.delta, limits)
			var kinds []BreachKind
			for _, b := range breaches {
				kinds = append(kinds, b.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestCheckThresholds_DisabledLimits(t *testing.T) {
	assert.Empty(t, CheckThresholds(CalculateCostDelta(1, 1000000), ThresholdLimits{}))
}
