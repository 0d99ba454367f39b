package entity

import (
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/finance"
)

// PurchaseOrder is the business object routed through approval
type PurchaseOrder struct {
	ID                 string             `json:"id"`
	Number             string             `json:"number"`
	RequesterID        string             `json:"requester_id"`
	Department         string             `json:"department"`
	VendorID           string             `json:"vendor_id"`
	Category           string             `json:"category"`
	Currency           string             `json:"currency"`
	Lines              []finance.LineItem `json:"lines"`
	TaxRate            float64            `json:"tax_rate"`
	Totals             finance.Totals     `json:"totals"`
	State              OrderState         `json:"state"`
	ApprovalRequestIDs []string           `json:"approval_request_ids,omitempty"`
	PreviousGrandTotal *float64           `json:"previous_grand_total,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Version            int64              `json:"version"`
}

// Recalculate refreshes Totals from the lines and tax rate
func (po *PurchaseOrder) Recalculate() {
	po.Totals = finance.CalculateTotals(po.Lines, po.TaxRate)
}

// CostDelta compares the current grand total with the total of the last
// approved revision. The second result is false for orders never revised.
func (po *PurchaseOrder) CostDelta() (finance.CostDelta, bool) {
	if po.PreviousGrandTotal == nil {
		return finance.CostDelta{}, false
	}
	return finance.CalculateCostDelta(*po.PreviousGrandTotal, po.Totals.GrandTotal), true
}

// Categories returns the distinct line categories in first-seen order
func (po *PurchaseOrder) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range po.Lines {
		if l.Category == "" || seen[l.Category] {
			continue
		}
		seen[l.Category] = true
		out = append(out, l.Category)
	}
	return out
}

// ObjectData is the snapshot approval policies are evaluated against
func (po *PurchaseOrder) ObjectData() map[string]any {
	data := map[string]any{
		"id":          po.ID,
		"number":      po.Number,
		"requesterId": po.RequesterID,
		"department":  po.Department,
		"vendorId":    po.VendorID,
		"category":    po.Category,
		"currency":    po.Currency,
		"status":      string(po.State),
		"lineCount":   len(po.Lines),
	}
	for k, v := range po.Totals.Fields() {
		data[k] = v
	}
	if delta, ok := po.CostDelta(); ok {
		for k, v := range delta.Fields() {
			data[k] = v
		}
	}
	return data
}
