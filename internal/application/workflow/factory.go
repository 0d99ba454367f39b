package workflow

import (
	"fmt"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// OrderInput is what purchase order guards evaluate. Outcome is the
// aggregate status of the order's approval requests.
type OrderInput struct {
	Order            *entity.PurchaseOrder
	ApprovalRequired bool
	Outcome          approval.RequestStatus
}

// OrderMachine is the purchase order lifecycle
type OrderMachine = domainwf.Machine[entity.OrderState, entity.OrderAction, OrderInput]

type orderGuard = domainwf.GuardContext[entity.OrderState, entity.OrderAction, OrderInput]

// BuildPurchaseOrderMachine creates the purchase order lifecycle:
// draft -> submitted -> pending_approval|approved -> ordered -> received -> closed
func BuildPurchaseOrderMachine(clock domainwf.Clock) (*OrderMachine, error) {
	b := domainwf.NewBuilder[entity.OrderState, entity.OrderAction, OrderInput]("purchase_order")
	b.Initial(entity.OrderDraft).Terminal(entity.OrderClosed, entity.OrderCancelled)

	b.Configure(entity.OrderDraft).
		PermitIf(entity.ActionSubmit, entity.OrderSubmitted, hasLines)

	b.Configure(entity.OrderSubmitted).
		PermitIf(entity.ActionRequestApproval, entity.OrderPendingApproval, approvalRequired).
		PermitIf(entity.ActionAutoApprove, entity.OrderApproved, noApprovalRequired)

	b.Configure(entity.OrderPendingApproval).
		PermitIf(entity.ActionApprove, entity.OrderApproved, outcomeIs(approval.StatusApproved)).
		PermitIf(entity.ActionReject, entity.OrderRejected, outcomeIs(approval.StatusRejected))

	b.Configure(entity.OrderApproved).
		Permit(entity.ActionPlace, entity.OrderOrdered)

	b.Configure(entity.OrderOrdered).
		Permit(entity.ActionReceive, entity.OrderReceived)

	b.Configure(entity.OrderReceived).
		Permit(entity.ActionClose, entity.OrderClosed)

	// revising an approved order sends it back through approval with a cost delta
	b.Transition(domainwf.Transition[entity.OrderState, entity.OrderAction, OrderInput]{
		Action: entity.ActionRevise,
		From:   []entity.OrderState{entity.OrderApproved, entity.OrderRejected},
		To:     entity.OrderDraft,
	})

	b.Transition(domainwf.Transition[entity.OrderState, entity.OrderAction, OrderInput]{
		Action: entity.ActionCancel,
		From: []entity.OrderState{
			entity.OrderDraft, entity.OrderSubmitted, entity.OrderPendingApproval,
			entity.OrderApproved, entity.OrderRejected,
		},
		To: entity.OrderCancelled,
	})

	def, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("purchase order lifecycle: %w", err)
	}
	return domainwf.NewMachine(def, domainwf.WithClock[entity.OrderState, entity.OrderAction, OrderInput](clock))
}

func hasLines(gc orderGuard) domainwf.GuardResult {
	po := gc.Input.Order
	if po == nil || len(po.Lines) == 0 {
		return domainwf.Deny("order has no lines")
	}
	if po.Totals.GrandTotal <= 0 {
		return domainwf.Deny("order total must be positive")
	}
	return domainwf.Allow()
}

func approvalRequired(gc orderGuard) domainwf.GuardResult {
	if !gc.Input.ApprovalRequired {
		return domainwf.Deny("no approval policy matched")
	}
	return domainwf.Allow()
}

func noApprovalRequired(gc orderGuard) domainwf.GuardResult {
	if gc.Input.ApprovalRequired {
		return domainwf.Deny("approval is required")
	}
	return domainwf.Allow()
}

func outcomeIs(want approval.RequestStatus) domainwf.Guard[entity.OrderState, entity.OrderAction, OrderInput] {
	return func(gc orderGuard) domainwf.GuardResult {
		if gc.Input.Outcome != want {
			return domainwf.Deny(fmt.Sprintf("approval outcome is %q", gc.Input.Outcome))
		}
		return domainwf.Allow()
	}
}
