package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// ErrDuplicateOrder is returned when an order number is already taken
var ErrDuplicateOrder = errors.New("purchase order number already exists")

// RequestFilter narrows a request listing. Zero values match everything.
type RequestFilter struct {
	Status      approval.RequestStatus
	ObjectID    string
	ApproverID  string
	RequesterID string
	Limit       int
	Offset      int
}

// RequestRepository persists approval requests together with their steps,
// decisions and audit log.
type RequestRepository interface {
	Create(ctx context.Context, req *approval.Request) error
	// Update replaces the stored request if its version still equals
	// expectedVersion, otherwise it returns approval.ErrConcurrencyConflict.
	Update(ctx context.Context, req *approval.Request, expectedVersion int64) error
	// GetByID returns approval.ErrRequestNotFound for unknown ids
	GetByID(ctx context.Context, id string) (*approval.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]*approval.Request, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error)
}

// OrderRepository persists purchase orders and their lifecycle history
type OrderRepository interface {
	Create(ctx context.Context, po *entity.PurchaseOrder) error
	// GetByID returns nil, nil for unknown ids
	GetByID(ctx context.Context, id string) (*entity.PurchaseOrder, error)
	// Update replaces the stored order if its version still equals
	// expectedVersion, otherwise it returns approval.ErrConcurrencyConflict.
	Update(ctx context.Context, po *entity.PurchaseOrder, expectedVersion int64) error
	AppendHistory(ctx context.Context, h *entity.OrderHistory) error
	GetHistory(ctx context.Context, orderID string) ([]*entity.OrderHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
