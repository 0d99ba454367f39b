package workflow

import (
	"context"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/event"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// TransitionRequest fires one action on a purchase order. Apply, when set,
// runs inside the transaction after the state change is accepted and receives
// the state the order left.
type TransitionRequest struct {
	OrderID string
	Action  entity.OrderAction
	Actor   string
	Reason  string
	Apply   func(po *entity.PurchaseOrder, from entity.OrderState) error
}

// OrderAvailableAction is one action leaving an order's current state
type OrderAvailableAction = domainwf.AvailableAction[entity.OrderState, entity.OrderAction]

// WorkflowEngine drives purchase orders through their lifecycle
type WorkflowEngine interface {
	// HandleEvent moves orders when their approval requests finish
	HandleEvent(ctx context.Context, evt *event.Event) error

	// TransitionState fires an action and persists state and history
	TransitionState(ctx context.Context, req TransitionRequest) (*entity.PurchaseOrder, error)

	// AvailableActions lists the actions leaving the order's current state
	AvailableActions(ctx context.Context, orderID, actor string) ([]OrderAvailableAction, error)

	// GetCurrentState returns the current state of an order
	GetCurrentState(ctx context.Context, orderID string) (entity.OrderState, error)
}
