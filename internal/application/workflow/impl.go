package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/event"
)

// ErrOrderNotFound is returned for unknown purchase order ids
var ErrOrderNotFound = errors.New("purchase order not found")

// SystemActor is recorded for transitions driven by events
const SystemActor = "system"

// ApprovalCheck reports whether an order needs approval before it may be placed
type ApprovalCheck func(po *entity.PurchaseOrder) bool

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	machine     *OrderMachine
	orderRepo   port.OrderRepository
	requestRepo port.RequestRepository
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	needsCheck  ApprovalCheck
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithApprovalCheck sets how submitted orders decide between requesting
// approval and auto-approval. Without it every order needs approval.
func WithApprovalCheck(check ApprovalCheck) EngineOption {
	return func(e *engineImpl) {
		e.needsCheck = check
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	machine *OrderMachine,
	orderRepo port.OrderRepository,
	requestRepo port.RequestRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		machine:     machine,
		orderRepo:   orderRepo,
		requestRepo: requestRepo,
		txManager:   txManager,
		needsCheck:  func(*entity.PurchaseOrder) bool { return true },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SubscribeApprovalOutcomes routes finished approval requests to the engine
func SubscribeApprovalOutcomes(d dispatcher.Dispatcher, engine WorkflowEngine) {
	for _, t := range []event.Type{event.TypeApprovalCompleted, event.TypeApprovalCancelled, event.TypeApprovalExpired} {
		d.SubscribeNamed(t, "order-workflow", "Advance purchase orders awaiting approval", engine.HandleEvent)
	}
}

// HandleEvent moves a pending order once the outcome of all of its approval
// requests is known
func (e *engineImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}

	switch evt.Type {
	case event.TypeApprovalCompleted, event.TypeApprovalCancelled, event.TypeApprovalExpired:
	default:
		return nil
	}
	if evt.GetPayloadString("object_type") != entity.ObjectTypePurchaseOrder || evt.ObjectID == "" {
		return nil
	}

	po, err := e.orderRepo.GetByID(ctx, evt.ObjectID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", evt.ObjectID, err)
	}
	if po == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, evt.ObjectID)
	}
	if po.State != entity.OrderPendingApproval {
		return nil
	}

	outcome, err := e.outcome(ctx, po)
	if err != nil {
		return err
	}

	var action entity.OrderAction
	switch outcome {
	case approval.StatusApproved:
		action = entity.ActionApprove
	case approval.StatusRejected:
		action = entity.ActionReject
	default:
		// other requests are still open
		return nil
	}

	_, err = e.TransitionState(ctx, TransitionRequest{
		OrderID: po.ID,
		Action:  action,
		Actor:   SystemActor,
		Reason:  fmt.Sprintf("approval request %s %s", evt.AggregateID, evt.GetPayloadString("status")),
	})
	return err
}

// TransitionState fires an action within a transaction, then emits
// order.transitioned. Under a deferring context the event waits for the
// caller's commit.
func (e *engineImpl) TransitionState(ctx context.Context, req TransitionRequest) (*entity.PurchaseOrder, error) {
	var updated *entity.PurchaseOrder
	var history *entity.OrderHistory

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		po, err := e.load(txCtx, req.OrderID)
		if err != nil {
			return err
		}

		input, err := e.input(txCtx, po)
		if err != nil {
			return err
		}

		inst, err := e.machine.Restore(po.ID, po.State)
		if err != nil {
			return err
		}
		inst.CreatedAt = po.UpdatedAt

		next, err := e.machine.Transition(txCtx, inst, req.Action, input, req.Actor)
		if err != nil {
			return err
		}
		step := next.History[len(next.History)-1]

		expected := po.Version
		from := po.State
		po.State = next.CurrentState
		po.UpdatedAt = step.Timestamp
		po.Version++
		if req.Apply != nil {
			if err := req.Apply(po, from); err != nil {
				return err
			}
		}

		if err := e.orderRepo.Update(txCtx, po, expected); err != nil {
			return fmt.Errorf("failed to update order state: %w", err)
		}

		history = &entity.OrderHistory{
			OrderID:   po.ID,
			ActorID:   req.Actor,
			FromState: step.From,
			ToState:   step.To,
			Action:    step.Action,
			Reason:    req.Reason,
			Duration:  step.Duration,
			Timestamp: step.Timestamp,
		}
		if err := e.orderRepo.AppendHistory(txCtx, history); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}

		updated = po
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.dispatcher != nil {
		evt := event.NewEvent(event.TypeOrderTransitioned, updated.ID, updated.ID, map[string]interface{}{
			"previous_state": history.FromState.String(),
			"new_state":      history.ToState.String(),
			"action":         history.Action.String(),
			"actor_id":       history.ActorID,
			"requester_id":   updated.RequesterID,
			"number":         updated.Number,
		})
		dispatcher.Publish(ctx, e.dispatcher, evt)
	}

	return updated, nil
}

// AvailableActions lists the order's outgoing actions with guard results
func (e *engineImpl) AvailableActions(ctx context.Context, orderID, actor string) ([]OrderAvailableAction, error) {
	po, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	input, err := e.input(ctx, po)
	if err != nil {
		return nil, err
	}
	inst, err := e.machine.Restore(po.ID, po.State)
	if err != nil {
		return nil, err
	}
	return e.machine.AvailableActions(inst, input, actor), nil
}

// GetCurrentState returns the current state of an order
func (e *engineImpl) GetCurrentState(ctx context.Context, orderID string) (entity.OrderState, error) {
	po, err := e.load(ctx, orderID)
	if err != nil {
		return "", err
	}
	return po.State, nil
}

func (e *engineImpl) load(ctx context.Context, orderID string) (*entity.PurchaseOrder, error) {
	po, err := e.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	if po == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return po, nil
}

func (e *engineImpl) input(ctx context.Context, po *entity.PurchaseOrder) (OrderInput, error) {
	in := OrderInput{Order: po}
	switch po.State {
	case entity.OrderSubmitted:
		in.ApprovalRequired = e.needsCheck(po)
	case entity.OrderPendingApproval:
		outcome, err := e.outcome(ctx, po)
		if err != nil {
			return OrderInput{}, err
		}
		in.ApprovalRequired = true
		in.Outcome = outcome
	}
	return in, nil
}

// outcome aggregates the order's approval requests: approved once all are
// approved, rejected as soon as one ends any other way, empty while open
func (e *engineImpl) outcome(ctx context.Context, po *entity.PurchaseOrder) (approval.RequestStatus, error) {
	if len(po.ApprovalRequestIDs) == 0 {
		return "", nil
	}
	open := false
	for _, id := range po.ApprovalRequestIDs {
		req, err := e.requestRepo.GetByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to load approval request %s: %w", id, err)
		}
		switch req.Status {
		case approval.StatusApproved:
		case approval.StatusRejected, approval.StatusCancelled, approval.StatusExpired:
			return approval.StatusRejected, nil
		default:
			open = true
		}
	}
	if open {
		return "", nil
	}
	return approval.StatusApproved, nil
}
