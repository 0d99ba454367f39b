package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// RequestRepository implements port.RequestRepository. A request is stored
// across the requests, steps, approvers, decisions and audit tables.
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new request with all of its children
func (r *RequestRepository) Create(ctx context.Context, req *approval.Request) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		metadata, err := encodeJSON(req.Metadata, "{}")
		if err != nil {
			return err
		}

		query := `
			INSERT INTO approval_requests (
				id, policy_id, workflow_id, object_type, object_id,
				requester_id, requester_name, requester_email, requester_role,
				status, current_step_index, final_decision, final_notes, metadata,
				escalation_count, last_escalated_at, expires_at,
				created_at, updated_at, completed_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = r.db.Executor(ctx).ExecContext(ctx, query,
			req.ID, req.PolicyID, req.WorkflowID, req.ObjectType, req.ObjectID,
			req.Requester.ID, req.Requester.Name, req.Requester.Email, req.Requester.Role,
			string(req.Status), req.CurrentStepIndex, string(req.FinalDecision), req.FinalNotes, metadata,
			req.EscalationCount, nullTime(req.LastEscalatedAt), nullTime(req.ExpiresAt),
			req.CreatedAt.UTC(), req.UpdatedAt.UTC(), nullTime(req.CompletedAt), req.Version,
		)
		if err != nil {
			r.logger.Error("Failed to create approval request", zap.String("id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to create approval request: %w", err)
		}

		return r.writeChildren(ctx, req)
	})
}

// Update stores req if the persisted version equals expectedVersion
func (r *RequestRepository) Update(ctx context.Context, req *approval.Request, expectedVersion int64) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		metadata, err := encodeJSON(req.Metadata, "{}")
		if err != nil {
			return err
		}

		query := `
			UPDATE approval_requests SET
				status = ?, current_step_index = ?, final_decision = ?, final_notes = ?,
				metadata = ?, escalation_count = ?, last_escalated_at = ?, expires_at = ?,
				updated_at = ?, completed_at = ?, version = ?
			WHERE id = ? AND version = ?
		`
		result, err := r.db.Executor(ctx).ExecContext(ctx, query,
			string(req.Status), req.CurrentStepIndex, string(req.FinalDecision), req.FinalNotes,
			metadata, req.EscalationCount, nullTime(req.LastEscalatedAt), nullTime(req.ExpiresAt),
			req.UpdatedAt.UTC(), nullTime(req.CompletedAt), req.Version,
			req.ID, expectedVersion,
		)
		if err != nil {
			r.logger.Error("Failed to update approval request", zap.String("id", req.ID), zap.Error(err))
			return fmt.Errorf("failed to update approval request: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := r.exists(ctx, req.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", approval.ErrRequestNotFound, req.ID)
			}
			return fmt.Errorf("%w: request %s is no longer at version %d", approval.ErrConcurrencyConflict, req.ID, expectedVersion)
		}

		return r.writeChildren(ctx, req)
	})
}

// GetByID loads a request with all of its children
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*approval.Request, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, selectRequest+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", approval.ErrRequestNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get approval request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}

	if err := r.loadChildren(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// List returns requests matching filter, newest first
func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter) ([]*approval.Request, error) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ObjectID != "" {
		where = append(where, "object_id = ?")
		args = append(args, filter.ObjectID)
	}
	if filter.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.ApproverID != "" {
		where = append(where, "id IN (SELECT request_id FROM approval_step_approvers WHERE approver_id = ?)")
		args = append(args, filter.ApproverID)
	}

	query := selectRequest
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	return r.query(ctx, query, args...)
}

// ListOverdue returns open requests whose deadline is at or before now
func (r *RequestRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	if limit <= 0 {
		limit = -1
	}
	query := selectRequest + `
		WHERE status IN (?, ?) AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?
	`
	return r.query(ctx, query,
		string(approval.StatusPending), string(approval.StatusInProgress), now.UTC(), limit)
}

func (r *RequestRepository) query(ctx context.Context, query string, args ...interface{}) ([]*approval.Request, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}

	var requests []*approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, req := range requests {
		if err := r.loadChildren(ctx, req); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

func (r *RequestRepository) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_requests WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check approval request: %w", err)
	}
	return n > 0, nil
}

// writeChildren upserts steps and approvers and appends decisions and audit
// entries not yet stored. Decisions and audit entries are never rewritten.
func (r *RequestRepository) writeChildren(ctx context.Context, req *approval.Request) error {
	exec := r.db.Executor(ctx)

	for _, s := range req.Steps {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO approval_request_steps (
				id, request_id, template_id, name, step_order, status,
				required_approvals, activated_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				activated_at = excluded.activated_at,
				completed_at = excluded.completed_at
		`,
			s.ID, req.ID, s.TemplateID, s.Name, s.Order, string(s.Status),
			s.RequiredApprovals, nullTime(s.ActivatedAt), nullTime(s.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to write step %s: %w", s.ID, err)
		}

		for pos, a := range s.AssignedApprovers {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO approval_step_approvers (
					step_id, request_id, position, approver_id, approver_name,
					approver_email, approver_role, has_responded, responded_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(step_id, approver_id) DO UPDATE SET
					has_responded = excluded.has_responded,
					responded_at = excluded.responded_at
			`,
				s.ID, req.ID, pos, a.Actor.ID, a.Actor.Name,
				a.Actor.Email, a.Actor.Role, a.HasResponded, nullTime(a.RespondedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to write approver %s of step %s: %w", a.Actor.ID, s.ID, err)
			}
		}

		for _, d := range s.Decisions {
			attachments, err := encodeJSON(d.Attachments, "[]")
			if err != nil {
				return err
			}
			_, err = exec.ExecContext(ctx, `
				INSERT OR IGNORE INTO approval_step_decisions (
					id, request_id, step_id, approver_id, approver_name, approver_email,
					approver_role, decision, notes, attachments, decided_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				d.ID, req.ID, s.ID, d.Approver.ID, d.Approver.Name, d.Approver.Email,
				d.Approver.Role, string(d.Decision), d.Notes, attachments, d.DecidedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to write decision %s: %w", d.ID, err)
			}
		}
	}

	for _, e := range req.AuditLog {
		details, err := encodeJSON(e.Details, "{}")
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, `
			INSERT OR IGNORE INTO approval_audit_log (
				id, request_id, action, actor_id, step_id, timestamp, details
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, req.ID, e.Action, e.ActorID, e.StepID, e.Timestamp.UTC(), details)
		if err != nil {
			return fmt.Errorf("failed to write audit entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (r *RequestRepository) loadChildren(ctx context.Context, req *approval.Request) error {
	exec := r.db.Executor(ctx)

	rows, err := exec.QueryContext(ctx, `
		SELECT id, template_id, name, step_order, status, required_approvals,
			activated_at, completed_at
		FROM approval_request_steps
		WHERE request_id = ?
		ORDER BY step_order
	`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	req.Steps = nil
	index := make(map[string]int)
	for rows.Next() {
		var s approval.RequestStep
		var status string
		var activatedAt, completedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.Name, &s.Order, &status,
			&s.RequiredApprovals, &activatedAt, &completedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan step: %w", err)
		}
		s.Status = approval.StepStatus(status)
		s.ActivatedAt = timePtr(activatedAt)
		s.CompletedAt = timePtr(completedAt)
		s.AssignedApprovers = []approval.AssignedApprover{}
		s.Decisions = []approval.StepDecision{}
		index[s.ID] = len(req.Steps)
		req.Steps = append(req.Steps, s)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = exec.QueryContext(ctx, `
		SELECT step_id, approver_id, approver_name, approver_email, approver_role,
			has_responded, responded_at
		FROM approval_step_approvers
		WHERE request_id = ?
		ORDER BY step_id, position
	`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load approvers: %w", err)
	}
	for rows.Next() {
		var stepID string
		var a approval.AssignedApprover
		var respondedAt sql.NullTime
		if err := rows.Scan(&stepID, &a.Actor.ID, &a.Actor.Name, &a.Actor.Email, &a.Actor.Role,
			&a.HasResponded, &respondedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan approver: %w", err)
		}
		a.RespondedAt = timePtr(respondedAt)
		if i, ok := index[stepID]; ok {
			req.Steps[i].AssignedApprovers = append(req.Steps[i].AssignedApprovers, a)
		}
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = exec.QueryContext(ctx, `
		SELECT id, step_id, approver_id, approver_name, approver_email, approver_role,
			decision, notes, attachments, decided_at
		FROM approval_step_decisions
		WHERE request_id = ?
		ORDER BY decided_at, rowid
	`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load decisions: %w", err)
	}
	for rows.Next() {
		var d approval.StepDecision
		var decision, attachments string
		if err := rows.Scan(&d.ID, &d.StepID, &d.Approver.ID, &d.Approver.Name, &d.Approver.Email,
			&d.Approver.Role, &decision, &d.Notes, &attachments, &d.DecidedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Decision = approval.DecisionKind(decision)
		if err := decodeJSON(attachments, &d.Attachments); err != nil {
			rows.Close()
			return err
		}
		if len(d.Attachments) == 0 {
			d.Attachments = nil
		}
		if i, ok := index[d.StepID]; ok {
			req.Steps[i].Decisions = append(req.Steps[i].Decisions, d)
		}
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = exec.QueryContext(ctx, `
		SELECT id, action, actor_id, step_id, timestamp, details
		FROM approval_audit_log
		WHERE request_id = ?
		ORDER BY seq
	`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load audit log: %w", err)
	}
	req.AuditLog = []approval.AuditEntry{}
	for rows.Next() {
		var e approval.AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.StepID, &e.Timestamp, &details); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := decodeJSON(details, &e.Details); err != nil {
			rows.Close()
			return err
		}
		if len(e.Details) == 0 {
			e.Details = nil
		}
		req.AuditLog = append(req.AuditLog, e)
	}
	return closeRows(rows)
}

const selectRequest = `
	SELECT id, policy_id, workflow_id, object_type, object_id,
		requester_id, requester_name, requester_email, requester_role,
		status, current_step_index, final_decision, final_notes, metadata,
		escalation_count, last_escalated_at, expires_at,
		created_at, updated_at, completed_at, version
	FROM approval_requests`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*approval.Request, error) {
	var req approval.Request
	var status, finalDecision, metadata string
	var lastEscalatedAt, expiresAt, completedAt sql.NullTime

	err := s.Scan(
		&req.ID, &req.PolicyID, &req.WorkflowID, &req.ObjectType, &req.ObjectID,
		&req.Requester.ID, &req.Requester.Name, &req.Requester.Email, &req.Requester.Role,
		&status, &req.CurrentStepIndex, &finalDecision, &req.FinalNotes, &metadata,
		&req.EscalationCount, &lastEscalatedAt, &expiresAt,
		&req.CreatedAt, &req.UpdatedAt, &completedAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}

	req.Status = approval.RequestStatus(status)
	req.FinalDecision = approval.DecisionKind(finalDecision)
	req.LastEscalatedAt = timePtr(lastEscalatedAt)
	req.ExpiresAt = timePtr(expiresAt)
	req.CompletedAt = timePtr(completedAt)
	if err := decodeJSON(metadata, &req.Metadata); err != nil {
		return nil, err
	}
	if len(req.Metadata) == 0 {
		req.Metadata = nil
	}
	return &req, nil
}

var _ port.RequestRepository = (*RequestRepository)(nil)
