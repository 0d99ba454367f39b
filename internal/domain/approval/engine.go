package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// IDGenerator produces unique identifiers with an optional prefix
type IDGenerator interface {
	Generate(prefix string) string
}

// ResolveContext is passed to the approver resolver for each step
type ResolveContext struct {
	Policy     Policy
	Step       ApprovalStep
	Requester  Actor
	ObjectType string
	ObjectID   string
	ObjectData map[string]any
}

// ApproverResolver turns a step's approver selector into concrete actors
type ApproverResolver func(ctx context.Context, sel ApproverSelector, rc ResolveContext) ([]Actor, error)

// EngineOptions are the engine's injected collaborators
type EngineOptions struct {
	IDs   IDGenerator
	Clock workflow.Clock
}

// CreateRequestInput starts a request for a policy
type CreateRequestInput struct {
	PolicyID   string            `json:"policy_id"`
	ObjectType string            `json:"object_type"`
	ObjectID   string            `json:"object_id"`
	Requester  Actor             `json:"requester"`
	ObjectData map[string]any    `json:"object_data,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Notes      string            `json:"notes,omitempty"`
}

// DecisionInput is one approver's vote. ExpectedVersion, when non-zero, must
// equal the request's Version.
type DecisionInput struct {
	StepID          string       `json:"step_id"`
	Approver        Actor        `json:"approver"`
	Decision        DecisionKind `json:"decision"`
	Notes           string       `json:"notes,omitempty"`
	Attachments     []string     `json:"attachments,omitempty"`
	ExpectedVersion int64        `json:"expected_version,omitempty"`
}

// DecisionResult is the outcome of MakeDecision
type DecisionResult struct {
	Request        Request
	Complete       bool
	FinalDecision  DecisionKind
	StepCompleted  bool
	ActivatedSteps []string
}

// CancelInput cancels a request
type CancelInput struct {
	ActorID         string `json:"actor_id"`
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

// Engine creates approval requests and applies decisions to them. All
// operations are pure functions of their arguments plus the injected clock
// and id generator.
type Engine struct {
	policies  map[string]Policy
	ordered   []Policy
	ids       IDGenerator
	clock     workflow.Clock
	lifecycle *Lifecycle
}

// NewEngine validates the policies and builds an engine
func NewEngine(policies []Policy, opts EngineOptions) (*Engine, error) {
	if opts.IDs == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrInvalidEngine)
	}
	if opts.Clock == nil {
		opts.Clock = workflow.SystemClock
	}

	byID := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate policy id %s", ErrInvalidPolicy, p.ID)
		}
		byID[p.ID] = p
	}

	lc, err := RequestLifecycle(opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEngine, err)
	}

	return &Engine{
		policies:  byID,
		ordered:   append([]Policy(nil), policies...),
		ids:       opts.IDs,
		clock:     opts.Clock,
		lifecycle: lc,
	}, nil
}

// Policy looks up a policy by id
func (e *Engine) Policy(id string) (Policy, error) {
	p, ok := e.policies[id]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	return p, nil
}

// Policies returns all policies in registration order
func (e *Engine) Policies() []Policy {
	return append([]Policy(nil), e.ordered...)
}

// Lifecycle exposes the request status machine
func (e *Engine) Lifecycle() *Lifecycle {
	return e.lifecycle
}

// Now reads the engine clock
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// CreateRequest instantiates the policy's workflow for an object
func (e *Engine) CreateRequest(ctx context.Context, input CreateRequestInput, resolve ApproverResolver) (Request, error) {
	policy, err := e.Policy(input.PolicyID)
	if err != nil {
		return Request{}, err
	}
	if input.ObjectType == "" {
		input.ObjectType = policy.ObjectType
	}
	if input.ObjectType != policy.ObjectType {
		return Request{}, fmt.Errorf("%w: %s is not %s", ErrObjectTypeMismatch, input.ObjectType, policy.ObjectType)
	}
	if resolve == nil {
		return Request{}, fmt.Errorf("%w: approver resolver is required", ErrInvalidEngine)
	}

	now := e.clock.Now()
	wf := policy.Workflow
	steps := make([]RequestStep, 0, len(wf.Steps))

	for i, tmpl := range wf.Steps {
		actors, err := resolve(ctx, tmpl.Approvers, ResolveContext{
			Policy:     policy,
			Step:       tmpl,
			Requester:  input.Requester,
			ObjectType: input.ObjectType,
			ObjectID:   input.ObjectID,
			ObjectData: input.ObjectData,
		})
		if err != nil {
			return Request{}, fmt.Errorf("resolve approvers for step %s: %w", tmpl.ID, err)
		}
		actors = dedupeActors(actors)
		if len(actors) == 0 {
			return Request{}, fmt.Errorf("%w: %s", ErrNoApprovers, tmpl.ID)
		}
		required, err := tmpl.Required.Resolve(len(actors))
		if err != nil {
			return Request{}, fmt.Errorf("step %s: %w", tmpl.ID, err)
		}

		assigned := make([]AssignedApprover, len(actors))
		for j, a := range actors {
			assigned[j] = AssignedApprover{Actor: a}
		}

		step := RequestStep{
			ID:                e.ids.Generate("step"),
			TemplateID:        tmpl.ID,
			Name:              tmpl.Name,
			Order:             i,
			Status:            StepPending,
			AssignedApprovers: assigned,
			RequiredApprovals: required,
			Decisions:         []StepDecision{},
		}
		if wf.Execution == ExecutionParallel || i == 0 {
			step.Status = StepActive
			step.ActivatedAt = timePtr(now)
		}
		steps = append(steps, step)
	}

	var expiresAt *time.Time
	if wf.Timeout != nil {
		d, err := wf.Timeout.ToDuration()
		if err != nil {
			return Request{}, err
		}
		expiresAt = timePtr(now.Add(d))
	}

	var metadata map[string]string
	if len(input.Metadata) > 0 {
		metadata = make(map[string]string, len(input.Metadata))
		for k, v := range input.Metadata {
			metadata[k] = v
		}
	}

	details := map[string]string{
		"policy_id": policy.ID,
		"steps":     strconv.Itoa(len(steps)),
	}
	if input.Notes != "" {
		details["notes"] = input.Notes
	}

	return Request{
		ID:               e.ids.Generate("req"),
		PolicyID:         policy.ID,
		WorkflowID:       wf.ID,
		ObjectType:       input.ObjectType,
		ObjectID:         input.ObjectID,
		Requester:        input.Requester,
		Status:           StatusPending,
		Steps:            steps,
		CurrentStepIndex: 0,
		Metadata:         metadata,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		AuditLog: []AuditEntry{{
			ID:        e.ids.Generate("audit"),
			Action:    "created",
			ActorID:   input.Requester.ID,
			Timestamp: now,
			Details:   details,
		}},
		Version: 1,
	}, nil
}

func (e *Engine) checkOpen(req Request, expectedVersion int64) error {
	if req.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrRequestNotActive, req.ID, req.Status)
	}
	if expectedVersion != 0 && expectedVersion != req.Version {
		return fmt.Errorf("%w: expected version %d, found %d", ErrConcurrencyConflict, expectedVersion, req.Version)
	}
	return nil
}

// fire runs a lifecycle action and returns the resulting status
func (e *Engine) fire(ctx context.Context, req Request, action RequestAction, stepID, actor string, now time.Time) (RequestStatus, error) {
	inst, err := e.lifecycle.Restore(req.ID, req.Status)
	if err != nil {
		return req.Status, err
	}
	next, err := e.lifecycle.Transition(ctx, inst, action, LifecycleInput{Request: req, StepID: stepID, Now: now}, actor)
	if err != nil {
		return req.Status, err
	}
	return next.CurrentState, nil
}

// MakeDecision records a vote, resolves the step and the workflow, and
// returns the new request value.
func (e *Engine) MakeDecision(ctx context.Context, req Request, input DecisionInput) (DecisionResult, error) {
	policy, err := e.Policy(req.PolicyID)
	if err != nil {
		return DecisionResult{}, err
	}
	if err := e.checkOpen(req, input.ExpectedVersion); err != nil {
		return DecisionResult{}, err
	}
	if !input.Decision.IsValid() {
		return DecisionResult{}, fmt.Errorf("%w: %q", ErrInvalidDecision, input.Decision)
	}

	idx := req.StepByID(input.StepID)
	if idx < 0 {
		return DecisionResult{}, fmt.Errorf("%w: %s", ErrStepNotFound, input.StepID)
	}
	if req.Steps[idx].Status != StepActive {
		return DecisionResult{}, fmt.Errorf("%w: %s is %s", ErrStepNotActive, input.StepID, req.Steps[idx].Status)
	}
	ai := req.Steps[idx].approverIndex(input.Approver.ID)
	if ai < 0 {
		return DecisionResult{}, fmt.Errorf("%w: %s on step %s", ErrNotAnApprover, input.Approver.ID, input.StepID)
	}
	if req.Steps[idx].AssignedApprovers[ai].HasResponded {
		return DecisionResult{}, fmt.Errorf("%w: %s on step %s", ErrDuplicateDecision, input.Approver.ID, input.StepID)
	}

	now := e.clock.Now()

	status, err := e.fire(ctx, req, ActionDecide, input.StepID, input.Approver.ID, now)
	if err != nil {
		return DecisionResult{}, err
	}

	next := req.clone()
	next.Status = status
	step := &next.Steps[idx]

	approver := step.AssignedApprovers[ai].Actor
	if input.Approver.Name != "" || input.Approver.Email != "" {
		approver = input.Approver
	}
	step.Decisions = append(step.Decisions, StepDecision{
		ID:          e.ids.Generate("dec"),
		StepID:      step.ID,
		Approver:    approver,
		Decision:    input.Decision,
		Notes:       input.Notes,
		Attachments: append([]string(nil), input.Attachments...),
		DecidedAt:   now,
	})
	step.AssignedApprovers[ai].HasResponded = true
	step.AssignedApprovers[ai].RespondedAt = timePtr(now)

	if input.Decision == DecisionEscalated {
		next.EscalationCount++
		next.LastEscalatedAt = timePtr(now)
	}

	result := DecisionResult{}
	if outcome, done := resolveStep(*step); done {
		step.Status = outcome
		step.CompletedAt = timePtr(now)
		result.StepCompleted = true
	}

	final, activated := e.resolveWorkflow(&next, policy.Workflow.Execution, now)
	result.ActivatedSteps = activated

	if final != "" {
		action := ActionApprove
		if final == DecisionRejected {
			action = ActionReject
		}
		status, err := e.fire(ctx, next, action, "", input.Approver.ID, now)
		if err != nil {
			return DecisionResult{}, err
		}
		skipOpenSteps(&next, now)
		next.Status = status
		next.FinalDecision = final
		next.FinalNotes = input.Notes
		next.CompletedAt = timePtr(now)
		result.Complete = true
		result.FinalDecision = final
	}

	details := map[string]string{
		"step_status": string(step.Status),
	}
	if input.Notes != "" {
		details["notes"] = input.Notes
	}
	if result.Complete {
		details["final_decision"] = string(result.FinalDecision)
	}
	next.AuditLog = append(next.AuditLog, AuditEntry{
		ID:        e.ids.Generate("audit"),
		Action:    "decision_" + string(input.Decision),
		ActorID:   input.Approver.ID,
		StepID:    step.ID,
		Timestamp: now,
		Details:   details,
	})
	next.UpdatedAt = now
	next.Version++

	result.Request = next
	return result, nil
}

// resolveStep applies the veto, quorum and quorum-impossible rules
func resolveStep(s RequestStep) (StepStatus, bool) {
	approvals, rejections, remaining := s.Tally()
	switch {
	case rejections > 0:
		return StepRejected, true
	case approvals >= s.RequiredApprovals:
		return StepApproved, true
	case approvals+remaining < s.RequiredApprovals:
		return StepRejected, true
	}
	return s.Status, false
}

// resolveWorkflow decides the request outcome and activates the next
// sequential step. It returns the final decision ("" while open) and the ids
// of newly activated steps.
func (e *Engine) resolveWorkflow(req *Request, mode ExecutionMode, now time.Time) (DecisionKind, []string) {
	allTerminal := true
	anyActive := false
	for _, s := range req.Steps {
		if s.Status == StepRejected {
			return DecisionRejected, nil
		}
		if !s.Status.IsTerminal() {
			allTerminal = false
		}
		if s.Status == StepActive {
			anyActive = true
		}
	}
	if allTerminal {
		return DecisionApproved, nil
	}
	if mode == ExecutionParallel || anyActive {
		return "", nil
	}

	for i := range req.Steps {
		if req.Steps[i].Status == StepPending {
			req.Steps[i].Status = StepActive
			req.Steps[i].ActivatedAt = timePtr(now)
			req.CurrentStepIndex = i
			return "", []string{req.Steps[i].ID}
		}
	}
	return "", nil
}

// CancelRequest lets the requester withdraw an open request
func (e *Engine) CancelRequest(ctx context.Context, req Request, input CancelInput) (Request, error) {
	if err := e.checkOpen(req, input.ExpectedVersion); err != nil {
		return Request{}, err
	}

	now := e.clock.Now()
	status, err := e.fire(ctx, req, ActionCancel, "", input.ActorID, now)
	if err != nil {
		if errors.Is(err, workflow.ErrGuardFailed) {
			return Request{}, fmt.Errorf("%w: %s", ErrNotRequester, input.ActorID)
		}
		return Request{}, err
	}

	next := req.clone()
	skipOpenSteps(&next, now)
	next.Status = status
	next.FinalNotes = input.Reason
	next.CompletedAt = timePtr(now)

	details := map[string]string{}
	if input.Reason != "" {
		details["reason"] = input.Reason
	}
	next.AuditLog = append(next.AuditLog, AuditEntry{
		ID:        e.ids.Generate("audit"),
		Action:    "cancelled",
		ActorID:   input.ActorID,
		Timestamp: now,
		Details:   details,
	})
	next.UpdatedAt = now
	next.Version++
	return next, nil
}

// ExpireRequest applies the workflow's timeout action to an overdue request.
// With TimeoutReject the active steps are rejected and the request ends
// rejected; otherwise open steps are skipped and the request is expired.
func (e *Engine) ExpireRequest(ctx context.Context, req Request, now time.Time) (Request, error) {
	if err := e.checkOpen(req, 0); err != nil {
		return Request{}, err
	}
	if !IsOverdue(req, now) {
		return Request{}, fmt.Errorf("%w: %s", ErrNotExpired, req.ID)
	}

	var timeoutAction TimeoutAction
	if p, ok := e.policies[req.PolicyID]; ok {
		timeoutAction = p.Workflow.TimeoutAction
	}

	next := req.clone()
	action := "expired"
	if timeoutAction == TimeoutReject {
		for i := range next.Steps {
			if next.Steps[i].Status == StepActive {
				next.Steps[i].Status = StepRejected
				next.Steps[i].CompletedAt = timePtr(now)
			}
		}
		skipOpenSteps(&next, now)
		status, err := e.fire(ctx, next, ActionReject, "", "system", now)
		if err != nil {
			return Request{}, err
		}
		next.Status = status
		next.FinalDecision = DecisionRejected
		action = "timeout_rejected"
	} else {
		status, err := e.fire(ctx, req, ActionExpire, "", "system", now)
		if err != nil {
			return Request{}, err
		}
		skipOpenSteps(&next, now)
		next.Status = status
	}

	next.CompletedAt = timePtr(now)
	next.AuditLog = append(next.AuditLog, AuditEntry{
		ID:        e.ids.Generate("audit"),
		Action:    action,
		ActorID:   "system",
		Timestamp: now,
		Details:   map[string]string{"expires_at": req.ExpiresAt.Format(time.RFC3339)},
	})
	next.UpdatedAt = now
	next.Version++
	return next, nil
}

func skipOpenSteps(req *Request, now time.Time) {
	for i := range req.Steps {
		if !req.Steps[i].Status.IsTerminal() {
			req.Steps[i].Status = StepSkipped
			req.Steps[i].CompletedAt = timePtr(now)
		}
	}
}

func dedupeActors(actors []Actor) []Actor {
	seen := make(map[string]bool, len(actors))
	out := make([]Actor, 0, len(actors))
	for _, a := range actors {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
