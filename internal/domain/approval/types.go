package approval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RequestStatus represents the status of an approval request
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusApproved   RequestStatus = "approved"
	StatusRejected   RequestStatus = "rejected"
	StatusCancelled  RequestStatus = "cancelled"
	StatusExpired    RequestStatus = "expired"
)

// IsValid checks if the status is known
func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal checks if no further decisions can be made
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled || s == StatusExpired
}

// String returns the string representation of the status
func (s RequestStatus) String() string {
	return string(s)
}

// StepStatus represents the status of one request step
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// IsTerminal checks if the step is resolved
func (s StepStatus) IsTerminal() bool {
	return s == StepApproved || s == StepRejected || s == StepSkipped
}

// DecisionKind is an approver's vote
type DecisionKind string

const (
	DecisionApproved  DecisionKind = "approved"
	DecisionRejected  DecisionKind = "rejected"
	DecisionDeferred  DecisionKind = "deferred"
	DecisionEscalated DecisionKind = "escalated"
)

// IsValid checks if the decision kind is known
func (d DecisionKind) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionDeferred, DecisionEscalated:
		return true
	}
	return false
}

// ExecutionMode controls how workflow steps are activated
type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionParallel   ExecutionMode = "parallel"
	// ExecutionConditional is accepted and runs as sequential
	ExecutionConditional ExecutionMode = "conditional"
)

// IsValid checks if the mode is known
func (m ExecutionMode) IsValid() bool {
	return m == ExecutionSequential || m == ExecutionParallel || m == ExecutionConditional
}

// TimeoutUnit is the unit of a workflow timeout
type TimeoutUnit string

const (
	UnitMinutes TimeoutUnit = "minutes"
	UnitHours   TimeoutUnit = "hours"
	UnitDays    TimeoutUnit = "days"
)

// Timeout is a workflow deadline relative to request creation
type Timeout struct {
	Duration int         `json:"duration"`
	Unit     TimeoutUnit `json:"unit"`
}

// ToDuration converts the timeout to a time.Duration
func (t Timeout) ToDuration() (time.Duration, error) {
	if t.Duration <= 0 {
		return 0, fmt.Errorf("%w: timeout duration must be positive", ErrInvalidPolicy)
	}
	var unit time.Duration
	switch t.Unit {
	case UnitMinutes:
		unit = time.Minute
	case UnitHours:
		unit = time.Hour
	case UnitDays:
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown timeout unit %q", ErrInvalidPolicy, t.Unit)
	}
	return time.Duration(t.Duration) * unit, nil
}

// TimeoutAction is applied when an overdue request is expired
type TimeoutAction string

const (
	TimeoutExpire TimeoutAction = "expire"
	TimeoutReject TimeoutAction = "reject"
)

// RequirementMode says how a step's quorum is derived
type RequirementMode string

const (
	RequireAllMode   RequirementMode = "all"
	RequireAnyMode   RequirementMode = "any"
	RequireCountMode RequirementMode = "count"
)

// Requirement is a step's required approvals: "all", "any" or a count
type Requirement struct {
	Mode  RequirementMode
	Count int
}

// RequireAll needs every assigned approver
func RequireAll() Requirement { return Requirement{Mode: RequireAllMode} }

// RequireAny needs a single approval
func RequireAny() Requirement { return Requirement{Mode: RequireAnyMode} }

// RequireCount needs n approvals
func RequireCount(n int) Requirement { return Requirement{Mode: RequireCountMode, Count: n} }

// ParseRequirement accepts "all", "any" or a positive integer
func ParseRequirement(s string) (Requirement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return RequireAll(), nil
	case "any", "":
		return RequireAny(), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return Requirement{}, fmt.Errorf("%w: required approvals %q", ErrInvalidPolicy, s)
	}
	return RequireCount(n), nil
}

// Resolve turns the requirement into a concrete count for the given approvers
func (r Requirement) Resolve(approvers int) (int, error) {
	switch r.Mode {
	case RequireAllMode:
		return approvers, nil
	case RequireAnyMode, "":
		return 1, nil
	case RequireCountMode:
		if r.Count <= 0 {
			return 0, fmt.Errorf("%w: required approvals must be positive", ErrInvalidPolicy)
		}
		if r.Count > approvers {
			return 0, fmt.Errorf("%w: %d required, %d approvers", ErrUnreachableQuorum, r.Count, approvers)
		}
		return r.Count, nil
	}
	return 0, fmt.Errorf("%w: unknown requirement mode %q", ErrInvalidPolicy, r.Mode)
}

func (r Requirement) String() string {
	if r.Mode == RequireCountMode {
		return strconv.Itoa(r.Count)
	}
	if r.Mode == "" {
		return string(RequireAnyMode)
	}
	return string(r.Mode)
}

// MarshalJSON encodes as "all", "any" or a number
func (r Requirement) MarshalJSON() ([]byte, error) {
	if r.Mode == RequireCountMode {
		return json.Marshal(r.Count)
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts "all", "any", a number or a numeric string
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, err := ParseRequirement(strconv.Itoa(n))
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: required approvals must be a string or number", ErrInvalidPolicy)
	}
	parsed, err := ParseRequirement(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ApproverType selects how approvers are resolved
type ApproverType string

const (
	ApproverUser             ApproverType = "user"
	ApproverRole             ApproverType = "role"
	ApproverRequesterManager ApproverType = "requester_manager"
)

// ApproverSelector is the approver-selection config of a step template
type ApproverSelector struct {
	Type  ApproverType `json:"type"`
	Users []string     `json:"users,omitempty"`
	Role  string       `json:"role,omitempty"`
}

// ApprovalStep is a step template of a workflow
type ApprovalStep struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Approvers ApproverSelector `json:"approvers"`
	Required  Requirement      `json:"required_approvals"`
}

// Workflow is the step topology of a policy
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Steps         []ApprovalStep `json:"steps"`
	Execution     ExecutionMode  `json:"execution"`
	Timeout       *Timeout       `json:"timeout,omitempty"`
	TimeoutAction TimeoutAction  `json:"timeout_action,omitempty"`
}

// Policy decides when approval is required and which workflow runs
type Policy struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	ObjectType  string             `json:"object_type"`
	Triggers    []TriggerCondition `json:"triggers"`
	Priority    int                `json:"priority"`
	Active      bool               `json:"active"`
	Workflow    Workflow           `json:"workflow"`
}

// Validate checks a policy is usable by the engine
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: policy id is required", ErrInvalidPolicy)
	}
	if p.ObjectType == "" {
		return fmt.Errorf("%w: policy %s has no object type", ErrInvalidPolicy, p.ID)
	}
	if len(p.Workflow.Steps) == 0 {
		return fmt.Errorf("%w: policy %s workflow has no steps", ErrInvalidPolicy, p.ID)
	}
	if !p.Workflow.Execution.IsValid() {
		return fmt.Errorf("%w: policy %s has unknown execution mode %q", ErrInvalidPolicy, p.ID, p.Workflow.Execution)
	}
	if p.Workflow.Timeout != nil {
		if _, err := p.Workflow.Timeout.ToDuration(); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
	}
	switch p.Workflow.TimeoutAction {
	case "", TimeoutExpire, TimeoutReject:
	default:
		return fmt.Errorf("%w: policy %s has unknown timeout action %q", ErrInvalidPolicy, p.ID, p.Workflow.TimeoutAction)
	}

	ids := make(map[string]bool, len(p.Workflow.Steps))
	for _, s := range p.Workflow.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: policy %s has a step without id", ErrInvalidPolicy, p.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("%w: policy %s has duplicate step %s", ErrInvalidPolicy, p.ID, s.ID)
		}
		ids[s.ID] = true
		if s.Required.Mode == RequireCountMode && s.Required.Count <= 0 {
			return fmt.Errorf("%w: policy %s step %s requires a positive approval count", ErrInvalidPolicy, p.ID, s.ID)
		}
	}
	for _, t := range p.Triggers {
		if t == nil {
			return fmt.Errorf("%w: policy %s has a nil trigger", ErrInvalidPolicy, p.ID)
		}
	}
	return nil
}

// Actor is a user taking part in an approval
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// AssignedApprover is an approver of a request step
type AssignedApprover struct {
	Actor        Actor      `json:"actor"`
	HasResponded bool       `json:"has_responded"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
}

// StepDecision is one approver's vote on a step
type StepDecision struct {
	ID          string       `json:"id"`
	StepID      string       `json:"step_id"`
	Approver    Actor        `json:"approver"`
	Decision    DecisionKind `json:"decision"`
	Notes       string       `json:"notes,omitempty"`
	Attachments []string     `json:"attachments,omitempty"`
	DecidedAt   time.Time    `json:"decided_at"`
}

// RequestStep is a request-scoped instance of a step template
type RequestStep struct {
	ID                string             `json:"id"`
	TemplateID        string             `json:"template_id"`
	Name              string             `json:"name"`
	Order             int                `json:"order"`
	Status            StepStatus         `json:"status"`
	AssignedApprovers []AssignedApprover `json:"assigned_approvers"`
	RequiredApprovals int                `json:"required_approvals"`
	Decisions         []StepDecision     `json:"decisions"`
	ActivatedAt       *time.Time         `json:"activated_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// Tally counts approvals, rejections and approvers yet to respond
func (s RequestStep) Tally() (approvals, rejections, remaining int) {
	for _, d := range s.Decisions {
		switch d.Decision {
		case DecisionApproved:
			approvals++
		case DecisionRejected:
			rejections++
		}
	}
	for _, a := range s.AssignedApprovers {
		if !a.HasResponded {
			remaining++
		}
	}
	return approvals, rejections, remaining
}

func (s RequestStep) approverIndex(actorID string) int {
	for i, a := range s.AssignedApprovers {
		if a.Actor.ID == actorID {
			return i
		}
	}
	return -1
}

// AuditEntry is one append-only audit log record
type AuditEntry struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id"`
	StepID    string            `json:"step_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Request is an approval request. Engine operations return new values and
// never modify the request they are given.
type Request struct {
	ID               string            `json:"id"`
	PolicyID         string            `json:"policy_id"`
	WorkflowID       string            `json:"workflow_id"`
	ObjectType       string            `json:"object_type"`
	ObjectID         string            `json:"object_id"`
	Requester        Actor             `json:"requester"`
	Status           RequestStatus     `json:"status"`
	Steps            []RequestStep     `json:"steps"`
	CurrentStepIndex int               `json:"current_step_index"`
	FinalDecision    DecisionKind      `json:"final_decision,omitempty"`
	FinalNotes       string            `json:"final_notes,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	EscalationCount  int               `json:"escalation_count"`
	LastEscalatedAt  *time.Time        `json:"last_escalated_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	AuditLog         []AuditEntry      `json:"audit_log"`
	Version          int64             `json:"version"`
}

// StepByID returns the index of a step or -1
func (r Request) StepByID(stepID string) int {
	for i, s := range r.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// clone deep-copies everything an engine operation may change
func (r Request) clone() Request {
	out := r
	out.Steps = make([]RequestStep, len(r.Steps))
	for i, s := range r.Steps {
		cp := s
		cp.AssignedApprovers = append([]AssignedApprover(nil), s.AssignedApprovers...)
		cp.Decisions = append(make([]StepDecision, 0, len(s.Decisions)+1), s.Decisions...)
		out.Steps[i] = cp
	}
	out.AuditLog = append(make([]AuditEntry, 0, len(r.AuditLog)+1), r.AuditLog...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// EvaluationContext is the object snapshot policies are matched against
type EvaluationContext struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       string         `json:"object_id"`
	ObjectData     map[string]any `json:"object_data"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
	NewValues      map[string]any `json:"new_values,omitempty"`
	Actor          *Actor         `json:"actor,omitempty"`
}
