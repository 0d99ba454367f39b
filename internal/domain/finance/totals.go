package finance

import "github.com/shopspring/decimal"

// LineItem is one purchase-order line
type LineItem struct {
	SKU         string  `json:"sku" yaml:"sku"`
	Description string  `json:"description" yaml:"description"`
	Category    string  `json:"category" yaml:"category"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	UnitPrice   float64 `json:"unit_price" yaml:"unit_price"`
}

// Total is quantity times unit price, rounded to cents
func (l LineItem) Total() float64 {
	return l.total().InexactFloat64()
}

func (l LineItem) total() decimal.Decimal {
	return cents(decimal.NewFromFloat(l.Quantity).Mul(decimal.NewFromFloat(l.UnitPrice)))
}

// Totals summarises a set of lines
type Totals struct {
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grand_total"`
}

// CalculateTotals sums line totals and applies a flat tax rate (0.08 = 8%).
// Amounts stay decimal until the result is built, so the parts always add up
// to the grand total.
func CalculateTotals(lines []LineItem, taxRate float64) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.total())
	}
	tax := cents(subtotal.Mul(decimal.NewFromFloat(taxRate)))
	return Totals{
		Subtotal:   subtotal.InexactFloat64(),
		Tax:        tax.InexactFloat64(),
		GrandTotal: subtotal.Add(tax).InexactFloat64(),
	}
}

// Fields flattens totals for trigger evaluation
func (t Totals) Fields() map[string]any {
	return map[string]any{
		"subtotal":   t.Subtotal,
		"tax":        t.Tax,
		"grandTotal": t.GrandTotal,
	}
}
