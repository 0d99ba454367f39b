package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SubmitInput asks for approval of an object against every matching policy
type SubmitInput struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       string            `json:"object_id"`
	ObjectData     map[string]any    `json:"object_data"`
	PreviousValues map[string]any    `json:"previous_values,omitempty"`
	NewValues      map[string]any    `json:"new_values,omitempty"`
	Requester      approval.Actor    `json:"requester"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

// SubmitResult is the match plus the requests created for it
type SubmitResult struct {
	Match    approval.MatchResult `json:"match"`
	Requests []*approval.Request  `json:"requests"`
}

// ApprovalService persists and drives approval requests
type ApprovalService interface {
	Policies() []approval.Policy
	CheckApproval(ctx context.Context, ec approval.EvaluationContext) approval.MatchResult
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	CreateRequest(ctx context.Context, in approval.CreateRequestInput) (*approval.Request, error)
	Decide(ctx context.Context, requestID string, in approval.DecisionInput) (*approval.DecisionResult, error)
	Cancel(ctx context.Context, requestID string, in approval.CancelInput) (*approval.Request, error)
	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error)
	Capabilities(ctx context.Context, requestID, actorID string) (*approval.RequestCapabilities, error)
	Get(ctx context.Context, id string) (*approval.Request, error)
	List(ctx context.Context, filter port.RequestFilter) ([]*approval.Request, error)
	Export(ctx context.Context, w io.Writer, filter port.RequestFilter) error
	Archive(ctx context.Context, name string, filter port.RequestFilter) (string, error)
}

type approvalServiceImpl struct {
	engine     *approval.Engine
	matcher    *approval.Matcher
	repo       port.RequestRepository
	txManager  port.TransactionManager
	resolve    approval.ApproverResolver
	dispatcher dispatcher.Dispatcher
	metrics    port.ApprovalMetrics
	exporter   port.RequestExporter
	reports    port.ReportStore
	logger     Logger
}

// ApprovalOption configures the approval service
type ApprovalOption func(*approvalServiceImpl)

// WithEventDispatcher publishes approval events
func WithEventDispatcher(d dispatcher.Dispatcher) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.dispatcher = d
	}
}

// WithMetrics records approval activity
func WithMetrics(m port.ApprovalMetrics) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.metrics = m
	}
}

// WithExporter enables Export and Archive
func WithExporter(e port.RequestExporter, reports port.ReportStore) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.exporter = e
		s.reports = reports
	}
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	engine *approval.Engine,
	matcher *approval.Matcher,
	repo port.RequestRepository,
	txManager port.TransactionManager,
	resolve approval.ApproverResolver,
	logger Logger,
	opts ...ApprovalOption,
) ApprovalService {
	s := &approvalServiceImpl{
		engine:    engine,
		matcher:   matcher,
		repo:      repo,
		txManager: txManager,
		resolve:   resolve,
		metrics:   nopMetrics{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policies returns the registered policies
func (s *approvalServiceImpl) Policies() []approval.Policy {
	return s.engine.Policies()
}

// CheckApproval reports which policies require approval for the object
func (s *approvalServiceImpl) CheckApproval(ctx context.Context, ec approval.EvaluationContext) approval.MatchResult {
	return s.matcher.CheckApprovalRequired(ec)
}

// Submit creates one request per matching policy, in match order, within a
// single transaction
func (s *approvalServiceImpl) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	requester := in.Requester
	match := s.matcher.CheckApprovalRequired(approval.EvaluationContext{
		ObjectType:     in.ObjectType,
		ObjectID:       in.ObjectID,
		ObjectData:     in.ObjectData,
		PreviousValues: in.PreviousValues,
		NewValues:      in.NewValues,
		Actor:          &requester,
	})
	result := &SubmitResult{Match: match, Requests: []*approval.Request{}}
	if !match.Required {
		s.logger.Info("No approval required", "object_type", in.ObjectType, "object_id", in.ObjectID)
		return result, nil
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, p := range match.Policies {
			req, err := s.create(txCtx, approval.CreateRequestInput{
				PolicyID:   p.ID,
				ObjectType: in.ObjectType,
				ObjectID:   in.ObjectID,
				Requester:  in.Requester,
				ObjectData: in.ObjectData,
				Metadata:   in.Metadata,
				Notes:      in.Notes,
			})
			if err != nil {
				return err
			}
			result.Requests = append(result.Requests, req)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit for approval", "error", err, "object_id", in.ObjectID)
		return nil, err
	}

	for _, req := range result.Requests {
		s.created(ctx, req)
	}
	return result, nil
}

// CreateRequest creates a request for one explicit policy
func (s *approvalServiceImpl) CreateRequest(ctx context.Context, in approval.CreateRequestInput) (*approval.Request, error) {
	var req *approval.Request
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		req, err = s.create(txCtx, in)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create approval request", "error", err, "policy_id", in.PolicyID)
		return nil, err
	}

	s.created(ctx, req)
	return req, nil
}

func (s *approvalServiceImpl) create(ctx context.Context, in approval.CreateRequestInput) (*approval.Request, error) {
	req, err := s.engine.CreateRequest(ctx, in, s.resolve)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &req); err != nil {
		return nil, fmt.Errorf("failed to store approval request: %w", err)
	}
	return &req, nil
}

// created publishes the events of a newly stored request
func (s *approvalServiceImpl) created(ctx context.Context, req *approval.Request) {
	s.metrics.RequestCreated(req.PolicyID)
	s.logger.Info("Approval request created",
		"request_id", req.ID,
		"policy_id", req.PolicyID,
		"object_id", req.ObjectID,
		"steps", len(req.Steps),
	)

	s.emit(ctx, event.TypeApprovalRequested, req, nil)
	for _, step := range approval.ActiveSteps(*req) {
		s.emitStepActivated(ctx, req, step.ID)
	}
}

// Decide records one approver's vote
func (s *approvalServiceImpl) Decide(ctx context.Context, requestID string, in approval.DecisionInput) (*approval.DecisionResult, error) {
	var result approval.DecisionResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetByID(txCtx, requestID)
		if err != nil {
			return err
		}
		result, err = s.engine.MakeDecision(txCtx, *req, in)
		if err != nil {
			return err
		}
		return s.repo.Update(txCtx, &result.Request, req.Version)
	})
	if err != nil {
		s.failed("Failed to record decision", err, requestID)
		return nil, err
	}

	req := &result.Request
	s.metrics.DecisionRecorded(in.Decision)
	s.logger.Info("Decision recorded",
		"request_id", req.ID,
		"step_id", in.StepID,
		"approver_id", in.Approver.ID,
		"decision", in.Decision,
		"complete", result.Complete,
	)

	s.emit(ctx, event.TypeApprovalDecided, req, map[string]interface{}{
		"step_id":        in.StepID,
		"approver_id":    in.Approver.ID,
		"decision":       string(in.Decision),
		"notes":          in.Notes,
		"step_completed": result.StepCompleted,
	})
	for _, stepID := range result.ActivatedSteps {
		s.emitStepActivated(ctx, req, stepID)
	}
	if result.Complete {
		s.completed(ctx, event.TypeApprovalCompleted, req)
	}
	return &result, nil
}

// Cancel withdraws a request on behalf of its requester
func (s *approvalServiceImpl) Cancel(ctx context.Context, requestID string, in approval.CancelInput) (*approval.Request, error) {
	var next approval.Request
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.repo.GetByID(txCtx, requestID)
		if err != nil {
			return err
		}
		next, err = s.engine.CancelRequest(txCtx, *req, in)
		if err != nil {
			return err
		}
		return s.repo.Update(txCtx, &next, req.Version)
	})
	if err != nil {
		s.failed("Failed to cancel request", err, requestID)
		return nil, err
	}

	s.logger.Info("Approval request cancelled", "request_id", requestID, "actor_id", in.ActorID)
	s.completed(ctx, event.TypeApprovalCancelled, &next)
	return &next, nil
}

// ExpireOverdue applies the timeout action to every overdue request. Requests
// that changed concurrently are skipped and picked up by the next scan.
func (s *approvalServiceImpl) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	overdue, err := s.repo.ListOverdue(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue requests: %w", err)
	}

	expired := make([]*approval.Request, 0, len(overdue))
	for _, candidate := range overdue {
		var next approval.Request
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			req, err := s.repo.GetByID(txCtx, candidate.ID)
			if err != nil {
				return err
			}
			next, err = s.engine.ExpireRequest(txCtx, *req, now)
			if err != nil {
				return err
			}
			return s.repo.Update(txCtx, &next, req.Version)
		})
		switch {
		case err == nil:
		case errors.Is(err, approval.ErrNotExpired), errors.Is(err, approval.ErrRequestNotActive):
			continue
		case errors.Is(err, approval.ErrConcurrencyConflict):
			s.metrics.ConcurrencyConflict()
			s.logger.Info("Skipping request changed during expiry", "request_id", candidate.ID)
			continue
		default:
			s.logger.Error("Failed to expire request", "error", err, "request_id", candidate.ID)
			continue
		}

		s.logger.Info("Approval request timed out", "request_id", next.ID, "status", next.Status)
		s.completed(ctx, event.TypeApprovalExpired, &next)
		expired = append(expired, &next)
	}
	return expired, nil
}

// Capabilities reports what an actor may do with a request right now
func (s *approvalServiceImpl) Capabilities(ctx context.Context, requestID, actorID string) (*approval.RequestCapabilities, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	caps := s.engine.Capabilities(*req, actorID, s.engine.Now())
	return &caps, nil
}

// Get returns a request
func (s *approvalServiceImpl) Get(ctx context.Context, id string) (*approval.Request, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns requests matching filter
func (s *approvalServiceImpl) List(ctx context.Context, filter port.RequestFilter) ([]*approval.Request, error) {
	return s.repo.List(ctx, filter)
}

// Export writes the matching requests and their audit logs as a workbook
func (s *approvalServiceImpl) Export(ctx context.Context, w io.Writer, filter port.RequestFilter) error {
	if s.exporter == nil {
		return fmt.Errorf("export is not configured")
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return err
	}
	return s.exporter.Export(w, requests)
}

// Archive exports the matching requests into the report store
func (s *approvalServiceImpl) Archive(ctx context.Context, name string, filter port.RequestFilter) (string, error) {
	if s.reports == nil {
		return "", fmt.Errorf("report store is not configured")
	}
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf, filter); err != nil {
		return "", err
	}
	path, err := s.reports.Save(ctx, name, buf.Bytes())
	if err != nil {
		return "", err
	}
	s.logger.Info("Approval report archived", "path", path, "size", buf.Len())
	return path, nil
}

func (s *approvalServiceImpl) failed(msg string, err error, requestID string) {
	if errors.Is(err, approval.ErrConcurrencyConflict) {
		s.metrics.ConcurrencyConflict()
	}
	s.logger.Error(msg, "error", err, "request_id", requestID)
}

// completed records metrics and publishes the terminal event of a request
func (s *approvalServiceImpl) completed(ctx context.Context, t event.Type, req *approval.Request) {
	var took time.Duration
	if req.CompletedAt != nil {
		took = req.CompletedAt.Sub(req.CreatedAt)
	}
	s.metrics.RequestCompleted(req.Status, took)
	s.emit(ctx, t, req, map[string]interface{}{
		"final_decision": string(req.FinalDecision),
		"final_notes":    req.FinalNotes,
	})
}

func (s *approvalServiceImpl) emitStepActivated(ctx context.Context, req *approval.Request, stepID string) {
	idx := req.StepByID(stepID)
	if idx < 0 {
		return
	}
	step := req.Steps[idx]
	approvers := make([]string, 0, len(step.AssignedApprovers))
	for _, a := range step.AssignedApprovers {
		approvers = append(approvers, a.Actor.ID)
	}
	s.emit(ctx, event.TypeApprovalStepActivated, req, map[string]interface{}{
		"step_id":      step.ID,
		"step_name":    step.Name,
		"approver_ids": approvers,
	})
}

// emit publishes an event carrying the request's common fields
func (s *approvalServiceImpl) emit(ctx context.Context, t event.Type, req *approval.Request, extra map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"object_type":  req.ObjectType,
		"policy_id":    req.PolicyID,
		"requester_id": req.Requester.ID,
		"status":       string(req.Status),
		"version":      req.Version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	dispatcher.Publish(ctx, s.dispatcher, event.NewEvent(t, req.ID, req.ObjectID, payload))
}

type nopMetrics struct{}

func (nopMetrics) RequestCreated(string)                                  {}
func (nopMetrics) DecisionRecorded(approval.DecisionKind)                 {}
func (nopMetrics) RequestCompleted(approval.RequestStatus, time.Duration) {}
func (nopMetrics) ConcurrencyConflict()                                   {}
