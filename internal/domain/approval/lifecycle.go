package approval

import (
	"fmt"
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// RequestAction is an action on the request lifecycle
type RequestAction string

const (
	ActionDecide  RequestAction = "decide"
	ActionApprove RequestAction = "approve"
	ActionReject  RequestAction = "reject"
	ActionCancel  RequestAction = "cancel"
	ActionExpire  RequestAction = "expire"
)

// LifecycleInput is what the lifecycle guards look at
type LifecycleInput struct {
	Request Request
	StepID  string
	Now     time.Time
}

type lifecycleGuard = workflow.Guard[RequestStatus, RequestAction, LifecycleInput]
type lifecycleContext = workflow.GuardContext[RequestStatus, RequestAction, LifecycleInput]

// Lifecycle is the request status state machine
type Lifecycle = workflow.Machine[RequestStatus, RequestAction, LifecycleInput]

// RequestLifecycle builds the status machine shared by the engine and the
// capability queries.
func RequestLifecycle(clock workflow.Clock) (*Lifecycle, error) {
	open := []RequestStatus{StatusPending, StatusInProgress}

	b := workflow.NewBuilder[RequestStatus, RequestAction, LifecycleInput]("approval_request")
	b.Initial(StatusPending).
		Terminal(StatusApproved, StatusRejected, StatusCancelled, StatusExpired)
	b.Transition(workflow.Transition[RequestStatus, RequestAction, LifecycleInput]{
		Action: ActionDecide,
		From:   open,
		To:     StatusInProgress,
		Guard:  canDecide,
	})
	b.Transition(workflow.Transition[RequestStatus, RequestAction, LifecycleInput]{
		Action: ActionApprove,
		From:   open,
		To:     StatusApproved,
		Guard:  allStepsApproved,
	})
	b.Transition(workflow.Transition[RequestStatus, RequestAction, LifecycleInput]{
		Action: ActionReject,
		From:   open,
		To:     StatusRejected,
		Guard:  anyStepRejected,
	})
	b.Transition(workflow.Transition[RequestStatus, RequestAction, LifecycleInput]{
		Action: ActionCancel,
		From:   open,
		To:     StatusCancelled,
		Guard:  isRequester,
	})
	b.Transition(workflow.Transition[RequestStatus, RequestAction, LifecycleInput]{
		Action: ActionExpire,
		From:   open,
		To:     StatusExpired,
		Guard:  isOverdue,
	})

	def, err := b.Build()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = workflow.SystemClock
	}
	return workflow.NewMachine(def, workflow.WithClock[RequestStatus, RequestAction, LifecycleInput](clock))
}

var canDecide lifecycleGuard = func(gc lifecycleContext) workflow.GuardResult {
	req := gc.Input.Request
	for _, s := range req.Steps {
		if gc.Input.StepID != "" && s.ID != gc.Input.StepID {
			continue
		}
		if s.Status != StepActive {
			continue
		}
		i := s.approverIndex(gc.Actor)
		if i >= 0 && !s.AssignedApprovers[i].HasResponded {
			return workflow.Allow()
		}
	}
	if gc.Input.StepID != "" {
		return workflow.Deny(fmt.Sprintf("%s has no pending decision on step %s", gc.Actor, gc.Input.StepID))
	}
	return workflow.Deny(fmt.Sprintf("%s has no pending decision on an active step", gc.Actor))
}

var allStepsApproved lifecycleGuard = func(gc lifecycleContext) workflow.GuardResult {
	for _, s := range gc.Input.Request.Steps {
		if s.Status != StepApproved && s.Status != StepSkipped {
			return workflow.Deny("not every step is approved")
		}
	}
	return workflow.Allow()
}

var anyStepRejected lifecycleGuard = func(gc lifecycleContext) workflow.GuardResult {
	for _, s := range gc.Input.Request.Steps {
		if s.Status == StepRejected {
			return workflow.Allow()
		}
	}
	return workflow.Deny("no step is rejected")
}

var isRequester lifecycleGuard = func(gc lifecycleContext) workflow.GuardResult {
	if gc.Actor != "" && gc.Actor == gc.Input.Request.Requester.ID {
		return workflow.Allow()
	}
	return workflow.Deny("only the requester can cancel")
}

var isOverdue lifecycleGuard = func(gc lifecycleContext) workflow.GuardResult {
	if IsOverdue(gc.Input.Request, gc.Input.Now) {
		return workflow.Allow()
	}
	return workflow.Deny("request has not reached its deadline")
}
