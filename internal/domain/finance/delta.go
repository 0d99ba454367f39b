package finance

import "math"

// Direction of a cost change
type Direction string

const (
	DirectionIncrease  Direction = "increase"
	DirectionDecrease  Direction = "decrease"
	DirectionUnchanged Direction = "unchanged"
)

// CostDelta describes the change between two amounts
type CostDelta struct {
	Previous   float64   `json:"previous"`
	Current    float64   `json:"current"`
	Absolute   float64   `json:"absolute"`
	Percentage float64   `json:"percentage"`
	Direction  Direction `json:"direction"`
}

// CalculateCostDelta computes the rounded change from previous to current.
// A change from zero is reported as +/-100 percent.
func CalculateCostDelta(previous, current float64) CostDelta {
	prev := RoundCurrency(previous)
	cur := RoundCurrency(current)
	abs := RoundCurrency(cur - prev)

	var pct float64
	switch {
	case prev == 0 && cur == 0:
		pct = 0
	case prev == 0 && cur > 0:
		pct = 100
	case prev == 0:
		pct = -100
	default:
		pct = RoundCurrency(abs / math.Abs(prev) * 100)
	}

	dir := DirectionUnchanged
	if abs > 0 {
		dir = DirectionIncrease
	} else if abs < 0 {
		dir = DirectionDecrease
	}

	return CostDelta{
		Previous:   prev,
		Current:    cur,
		Absolute:   abs,
		Percentage: pct,
		Direction:  dir,
	}
}

// Fields nests the delta under a costDelta key so it can be merged
// into trigger object data and read with "costDelta.absolute" style paths.
func (d CostDelta) Fields() map[string]any {
	return map[string]any{
		"costDelta": map[string]any{
			"previous":   d.Previous,
			"current":    d.Current,
			"absolute":   d.Absolute,
			"percentage": d.Percentage,
			"direction":  string(d.Direction),
		},
	}
}

// ThresholdLimits caps cost increases. A zero limit is disabled.
type ThresholdLimits struct {
	AbsoluteLimit   float64 `json:"absolute_limit" mapstructure:"absolute_limit" yaml:"absolute_limit"`
	PercentageLimit float64 `json:"percentage_limit" mapstructure:"percentage_limit" yaml:"percentage_limit"`
}

// BreachKind names the limit that was exceeded
type BreachKind string

const (
	BreachAbsolute   BreachKind = "absolute"
	BreachPercentage BreachKind = "percentage"
)

// ThresholdBreach is one exceeded limit
type ThresholdBreach struct {
	Kind   BreachKind `json:"kind"`
	Limit  float64    `json:"limit"`
	Actual float64    `json:"actual"`
}

// CheckThresholds reports limits exceeded by a cost increase. Decreases never
// breach. Comparison is strict: a delta equal to the limit is within it.
func CheckThresholds(delta CostDelta, limits ThresholdLimits) []ThresholdBreach {
	var breaches []ThresholdBreach
	if delta.Direction != DirectionIncrease {
		return breaches
	}

	if limits.AbsoluteLimit > 0 && CompareCurrency(delta.Absolute, limits.AbsoluteLimit) > 0 {
		breaches = append(breaches, ThresholdBreach{
			Kind:   BreachAbsolute,
			Limit:  RoundCurrency(limits.AbsoluteLimit),
			Actual: delta.Absolute,
		})
	}
	if limits.PercentageLimit > 0 && CompareCurrency(delta.Percentage, limits.PercentageLimit) > 0 {
		breaches = append(breaches, ThresholdBreach{
			Kind:   BreachPercentage,
			Limit:  RoundCurrency(limits.PercentageLimit),
			Actual: delta.Percentage,
		})
	}
	return breaches
}
