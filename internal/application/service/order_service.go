package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/finance"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
)

var (
	// ErrInvalidOrder is returned for orders that fail validation
	ErrInvalidOrder = errors.New("invalid purchase order")

	// ErrManagedAction is returned when Fire is asked for an action that only
	// Submit, Revise or the approval outcome may trigger
	ErrManagedAction = errors.New("action is driven by the order workflow")
)

// CreateOrderInput creates a draft purchase order
type CreateOrderInput struct {
	Number      string             `json:"number"`
	RequesterID string             `json:"requester_id"`
	Department  string             `json:"department"`
	VendorID    string             `json:"vendor_id"`
	Category    string             `json:"category"`
	Currency    string             `json:"currency"`
	Lines       []finance.LineItem `json:"lines"`
	TaxRate     float64            `json:"tax_rate"`
}

// ReviseOrderInput replaces the commercial terms of an order
type ReviseOrderInput struct {
	VendorID string             `json:"vendor_id,omitempty"`
	Lines    []finance.LineItem `json:"lines"`
	TaxRate  *float64           `json:"tax_rate,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// OrderDetail is an order with its lifecycle history
type OrderDetail struct {
	Order   *entity.PurchaseOrder  `json:"order"`
	History []*entity.OrderHistory `json:"history"`
}

// SubmitOrderResult is a submitted order and the approval requests it needs
type SubmitOrderResult struct {
	Order    *entity.PurchaseOrder `json:"order"`
	Match    approval.MatchResult  `json:"match"`
	Requests []*approval.Request   `json:"requests"`
}

// OrderService manages purchase orders
type OrderService interface {
	Create(ctx context.Context, in CreateOrderInput) (*entity.PurchaseOrder, error)
	Get(ctx context.Context, id string) (*OrderDetail, error)
	Submit(ctx context.Context, id string, requester approval.Actor) (*SubmitOrderResult, error)
	Revise(ctx context.Context, id, actorID string, in ReviseOrderInput) (*entity.PurchaseOrder, error)
	Fire(ctx context.Context, id string, action entity.OrderAction, actorID, reason string) (*entity.PurchaseOrder, error)
	AvailableActions(ctx context.Context, id, actorID string) ([]workflow.OrderAvailableAction, error)
}

type orderServiceImpl struct {
	repo      port.OrderRepository
	engine    workflow.WorkflowEngine
	approvals ApprovalService
	txManager port.TransactionManager
	ids       approval.IDGenerator
	clock     domainwf.Clock
	logger    Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(
	repo port.OrderRepository,
	engine workflow.WorkflowEngine,
	approvals ApprovalService,
	txManager port.TransactionManager,
	ids approval.IDGenerator,
	clock domainwf.Clock,
	logger Logger,
) OrderService {
	return &orderServiceImpl{
		repo:      repo,
		engine:    engine,
		approvals: approvals,
		txManager: txManager,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// OrderEvaluationContext is the snapshot approval policies see for an order.
// Revised orders also expose the grand total change.
func OrderEvaluationContext(po *entity.PurchaseOrder) approval.EvaluationContext {
	ec := approval.EvaluationContext{
		ObjectType: entity.ObjectTypePurchaseOrder,
		ObjectID:   po.ID,
		ObjectData: po.ObjectData(),
	}
	if po.PreviousGrandTotal != nil {
		ec.PreviousValues = map[string]any{"grandTotal": *po.PreviousGrandTotal}
		ec.NewValues = map[string]any{"grandTotal": po.Totals.GrandTotal}
	}
	return ec
}

// Create validates and stores a draft order
func (s *orderServiceImpl) Create(ctx context.Context, in CreateOrderInput) (*entity.PurchaseOrder, error) {
	if in.RequesterID == "" {
		return nil, fmt.Errorf("%w: requester_id is required", ErrInvalidOrder)
	}
	if err := validateLines(in.Lines, in.TaxRate); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	po := &entity.PurchaseOrder{
		ID:          s.ids.Generate("po"),
		Number:      in.Number,
		RequesterID: in.RequesterID,
		Department:  in.Department,
		VendorID:    in.VendorID,
		Category:    in.Category,
		Currency:    in.Currency,
		Lines:       in.Lines,
		TaxRate:     in.TaxRate,
		State:       entity.OrderDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if po.Number == "" {
		po.Number = orderNumber(po.ID)
	}
	if po.Currency == "" {
		po.Currency = "USD"
	}
	if po.Category == "" {
		if cats := po.Categories(); len(cats) > 0 {
			po.Category = cats[0]
		}
	}
	po.Recalculate()

	if err := s.repo.Create(ctx, po); err != nil {
		s.logger.Error("Failed to create order", "error", err, "number", po.Number)
		return nil, err
	}
	s.logger.Info("Purchase order created", "order_id", po.ID, "number", po.Number, "grand_total", po.Totals.GrandTotal)
	return po, nil
}

// Get returns an order and its history
func (s *orderServiceImpl) Get(ctx context.Context, id string) (*OrderDetail, error) {
	po, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrOrderNotFound, id)
	}
	history, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []*entity.OrderHistory{}
	}
	return &OrderDetail{Order: po, History: history}, nil
}

// Submit moves a draft order forward and opens the approval requests its
// matching policies demand. An order left in submitted by an earlier failed
// attempt resumes from there; any other state is refused before policies are
// matched. Requests and order transitions commit together and their events are
// published only after the commit.
func (s *orderServiceImpl) Submit(ctx context.Context, id string, requester approval.Actor) (*SubmitOrderResult, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	po := detail.Order
	if requester.ID == "" {
		requester.ID = po.RequesterID
	}
	if requester.ID != po.RequesterID {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotRequester, requester.ID)
	}
	if err := submittable(po); err != nil {
		return nil, err
	}

	deferCtx, events := dispatcher.Defer(ctx)
	var result *SubmitOrderResult
	err = s.txManager.WithTransaction(deferCtx, func(txCtx context.Context) error {
		var err error
		result, err = s.submit(txCtx, po, requester)
		return err
	})
	if err != nil {
		events.Discard()
		s.logger.Error("Failed to submit order", "error", err, "order_id", id)
		return nil, err
	}
	events.Flush(ctx)

	s.logger.Info("Purchase order submitted", "order_id", id, "state", result.Order.State, "requests", len(result.Requests))
	return result, nil
}

func (s *orderServiceImpl) submit(ctx context.Context, po *entity.PurchaseOrder, requester approval.Actor) (*SubmitOrderResult, error) {
	var err error
	if po.State == entity.OrderDraft {
		po, err = s.engine.TransitionState(ctx, workflow.TransitionRequest{
			OrderID: po.ID,
			Action:  entity.ActionSubmit,
			Actor:   requester.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	ec := OrderEvaluationContext(po)
	submitted, err := s.approvals.Submit(ctx, SubmitInput{
		ObjectType:     ec.ObjectType,
		ObjectID:       ec.ObjectID,
		ObjectData:     ec.ObjectData,
		PreviousValues: ec.PreviousValues,
		NewValues:      ec.NewValues,
		Requester:      requester,
		Metadata:       map[string]string{"order_number": po.Number},
	})
	if err != nil {
		return nil, err
	}

	next := workflow.TransitionRequest{OrderID: po.ID, Actor: workflow.SystemActor}
	if submitted.Match.Required {
		ids := make([]string, 0, len(submitted.Requests))
		policies := make([]string, 0, len(submitted.Requests))
		for _, req := range submitted.Requests {
			ids = append(ids, req.ID)
			policies = append(policies, req.PolicyID)
		}
		next.Action = entity.ActionRequestApproval
		next.Reason = "policies: " + strings.Join(policies, ", ")
		next.Apply = func(po *entity.PurchaseOrder, _ entity.OrderState) error {
			po.ApprovalRequestIDs = ids
			return nil
		}
	} else {
		next.Action = entity.ActionAutoApprove
		next.Reason = "no approval policy matched"
	}

	po, err = s.engine.TransitionState(ctx, next)
	if err != nil {
		return nil, err
	}
	return &SubmitOrderResult{Order: po, Match: submitted.Match, Requests: submitted.Requests}, nil
}

// submittable refuses orders that are past the point of requesting approval
func submittable(po *entity.PurchaseOrder) error {
	if po.State == entity.OrderDraft || po.State == entity.OrderSubmitted {
		return nil
	}
	return &domainwf.TransitionError{
		Kind:   domainwf.FailureNoTransition,
		From:   po.State.String(),
		Action: entity.ActionSubmit.String(),
		Reason: "only draft or submitted orders can be submitted",
	}
}

// Revise sends an approved or rejected order back to draft with new terms.
// Revising an approved order remembers its approved total so the next
// submission is evaluated against the cost delta.
func (s *orderServiceImpl) Revise(ctx context.Context, id, actorID string, in ReviseOrderInput) (*entity.PurchaseOrder, error) {
	lines := in.Lines
	po, err := s.engine.TransitionState(ctx, workflow.TransitionRequest{
		OrderID: id,
		Action:  entity.ActionRevise,
		Actor:   actorID,
		Reason:  in.Reason,
		Apply: func(po *entity.PurchaseOrder, from entity.OrderState) error {
			if po.RequesterID != actorID {
				return fmt.Errorf("%w: %s", approval.ErrNotRequester, actorID)
			}
			taxRate := po.TaxRate
			if in.TaxRate != nil {
				taxRate = *in.TaxRate
			}
			if len(lines) == 0 {
				lines = po.Lines
			}
			if err := validateLines(lines, taxRate); err != nil {
				return err
			}

			if from == entity.OrderApproved {
				approved := po.Totals.GrandTotal
				po.PreviousGrandTotal = &approved
			}
			if in.VendorID != "" {
				po.VendorID = in.VendorID
			}
			po.Lines = lines
			po.TaxRate = taxRate
			po.ApprovalRequestIDs = nil
			po.Recalculate()
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Purchase order revised", "order_id", id, "grand_total", po.Totals.GrandTotal)
	return po, nil
}

// Fire triggers a manual lifecycle action such as place, receive, close or
// cancel. Cancelling an order withdraws its open approval requests.
func (s *orderServiceImpl) Fire(ctx context.Context, id string, action entity.OrderAction, actorID, reason string) (*entity.PurchaseOrder, error) {
	switch action {
	case entity.ActionSubmit, entity.ActionRequestApproval, entity.ActionAutoApprove,
		entity.ActionApprove, entity.ActionReject, entity.ActionRevise:
		return nil, fmt.Errorf("%w: %s", ErrManagedAction, action)
	}

	var pending []string
	po, err := s.engine.TransitionState(ctx, workflow.TransitionRequest{
		OrderID: id,
		Action:  action,
		Actor:   actorID,
		Reason:  reason,
		Apply: func(po *entity.PurchaseOrder, _ entity.OrderState) error {
			pending = append([]string(nil), po.ApprovalRequestIDs...)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	if action == entity.ActionCancel {
		s.withdraw(ctx, pending, reason)
	}
	return po, nil
}

// withdraw cancels the order's approval requests that are still open
func (s *orderServiceImpl) withdraw(ctx context.Context, requestIDs []string, reason string) {
	if reason == "" {
		reason = "purchase order cancelled"
	}
	for _, id := range requestIDs {
		req, err := s.approvals.Get(ctx, id)
		if err != nil || req.Status.IsTerminal() {
			continue
		}
		if _, err := s.approvals.Cancel(ctx, id, approval.CancelInput{ActorID: req.Requester.ID, Reason: reason}); err != nil {
			s.logger.Error("Failed to withdraw approval request", "error", err, "request_id", id)
		}
	}
}

// AvailableActions lists the order's outgoing actions for an actor
func (s *orderServiceImpl) AvailableActions(ctx context.Context, id, actorID string) ([]workflow.OrderAvailableAction, error) {
	return s.engine.AvailableActions(ctx, id, actorID)
}

// orderNumber derives a short display number from the order id
func orderNumber(id string) string {
	short := strings.TrimPrefix(id, "po-")
	if len(short) > 8 {
		short = short[:8]
	}
	return "PO-" + strings.ToUpper(short)
}

func validateLines(lines []finance.LineItem, taxRate float64) error {
	if taxRate < 0 || taxRate >= 1 {
		return fmt.Errorf("%w: tax rate %v out of range", ErrInvalidOrder, taxRate)
	}
	for i, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d has non-positive quantity", ErrInvalidOrder, i+1)
		}
		if l.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d has negative unit price", ErrInvalidOrder, i+1)
		}
	}
	return nil
}
