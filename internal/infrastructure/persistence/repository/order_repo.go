package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// OrderRepository implements port.OrderRepository
type OrderRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new purchase order repository
func NewOrderRepository(db *sqlite.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new purchase order
func (r *OrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	lines, err := encodeJSON(po.Lines, "[]")
	if err != nil {
		return err
	}
	requestIDs, err := encodeJSON(po.ApprovalRequestIDs, "[]")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO purchase_orders (
			id, number, requester_id, department, vendor_id, category, currency,
			lines, tax_rate, subtotal, tax, grand_total, state,
			approval_request_ids, previous_grand_total, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		po.ID, po.Number, po.RequesterID, po.Department, po.VendorID, po.Category, po.Currency,
		lines, po.TaxRate, po.Totals.Subtotal, po.Totals.Tax, po.Totals.GrandTotal, string(po.State),
		requestIDs, nullFloat(po.PreviousGrandTotal), po.CreatedAt.UTC(), po.UpdatedAt.UTC(), po.Version,
	)
	if sqlite.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", port.ErrDuplicateOrder, po.Number)
	}
	if err != nil {
		r.logger.Error("Failed to create purchase order", zap.String("id", po.ID), zap.Error(err))
		return fmt.Errorf("failed to create purchase order: %w", err)
	}
	return nil
}

// GetByID retrieves a purchase order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	query := `
		SELECT id, number, requester_id, department, vendor_id, category, currency,
			lines, tax_rate, subtotal, tax, grand_total, state,
			approval_request_ids, previous_grand_total, created_at, updated_at, version
		FROM purchase_orders
		WHERE id = ?
	`

	var po entity.PurchaseOrder
	var lines, state, requestIDs string
	var previous sql.NullFloat64

	err := r.db.Executor(ctx).QueryRowContext(ctx, query, id).Scan(
		&po.ID, &po.Number, &po.RequesterID, &po.Department, &po.VendorID, &po.Category, &po.Currency,
		&lines, &po.TaxRate, &po.Totals.Subtotal, &po.Totals.Tax, &po.Totals.GrandTotal, &state,
		&requestIDs, &previous, &po.CreatedAt, &po.UpdatedAt, &po.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get purchase order", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}

	po.State = entity.OrderState(state)
	po.PreviousGrandTotal = floatPtr(previous)
	if err := decodeJSON(lines, &po.Lines); err != nil {
		return nil, err
	}
	if err := decodeJSON(requestIDs, &po.ApprovalRequestIDs); err != nil {
		return nil, err
	}
	if len(po.ApprovalRequestIDs) == 0 {
		po.ApprovalRequestIDs = nil
	}
	return &po, nil
}

// Update stores po if the persisted version equals expectedVersion
func (r *OrderRepository) Update(ctx context.Context, po *entity.PurchaseOrder, expectedVersion int64) error {
	lines, err := encodeJSON(po.Lines, "[]")
	if err != nil {
		return err
	}
	requestIDs, err := encodeJSON(po.ApprovalRequestIDs, "[]")
	if err != nil {
		return err
	}

	query := `
		UPDATE purchase_orders SET
			department = ?, vendor_id = ?, category = ?, currency = ?,
			lines = ?, tax_rate = ?, subtotal = ?, tax = ?, grand_total = ?, state = ?,
			approval_request_ids = ?, previous_grand_total = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		po.Department, po.VendorID, po.Category, po.Currency,
		lines, po.TaxRate, po.Totals.Subtotal, po.Totals.Tax, po.Totals.GrandTotal, string(po.State),
		requestIDs, nullFloat(po.PreviousGrandTotal), po.UpdatedAt.UTC(), po.Version,
		po.ID, expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update purchase order", zap.String("id", po.ID), zap.Error(err))
		return fmt.Errorf("failed to update purchase order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: purchase order %s is no longer at version %d", approval.ErrConcurrencyConflict, po.ID, expectedVersion)
	}
	return nil
}

// AppendHistory records one lifecycle transition
func (r *OrderRepository) AppendHistory(ctx context.Context, h *entity.OrderHistory) error {
	query := `
		INSERT INTO purchase_order_history (
			order_id, actor_id, from_state, to_state, action, reason, duration_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		h.OrderID, h.ActorID, string(h.FromState), string(h.ToState), string(h.Action),
		h.Reason, h.Duration.Milliseconds(), h.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create order history", zap.String("order_id", h.OrderID), zap.Error(err))
		return fmt.Errorf("failed to create order history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// GetHistory returns an order's transitions oldest first
func (r *OrderRepository) GetHistory(ctx context.Context, orderID string) ([]*entity.OrderHistory, error) {
	query := `
		SELECT id, order_id, actor_id, from_state, to_state, action, reason, duration_ms, timestamp
		FROM purchase_order_history
		WHERE order_id = ?
		ORDER BY id
	`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to get order history", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	defer rows.Close()

	var history []*entity.OrderHistory
	for rows.Next() {
		var h entity.OrderHistory
		var from, to, action string
		var durationMs int64
		if err := rows.Scan(&h.ID, &h.OrderID, &h.ActorID, &from, &to, &action,
			&h.Reason, &durationMs, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		h.FromState = entity.OrderState(from)
		h.ToState = entity.OrderState(to)
		h.Action = entity.OrderAction(action)
		h.Duration = time.Duration(durationMs) * time.Millisecond
		history = append(history, &h)
	}
	return history, rows.Err()
}

var _ port.OrderRepository = (*OrderRepository)(nil)
