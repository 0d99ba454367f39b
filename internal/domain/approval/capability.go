package approval

import (
	"time"
)

// ActionAvailability is one lifecycle action as seen by an actor
type ActionAvailability struct {
	Action  RequestAction `json:"action"`
	Enabled bool          `json:"enabled"`
	Reason  string        `json:"reason,omitempty"`
}

// RequestCapabilities is what an actor may do with a request
type RequestCapabilities struct {
	RequestID    string               `json:"request_id"`
	ActorID      string               `json:"actor_id"`
	CanView      bool                 `json:"can_view"`
	CanApprove   bool                 `json:"can_approve"`
	CanReject    bool                 `json:"can_reject"`
	CanDefer     bool                 `json:"can_defer"`
	CanEscalate  bool                 `json:"can_escalate"`
	CanCancel    bool                 `json:"can_cancel"`
	ActiveStepID string               `json:"active_step_id,omitempty"`
	Actions      []ActionAvailability `json:"actions"`
}

// Capabilities derives an actor's permitted actions from the same lifecycle
// guards the engine runs.
func (e *Engine) Capabilities(req Request, actorID string, now time.Time) RequestCapabilities {
	caps := RequestCapabilities{
		RequestID: req.ID,
		ActorID:   actorID,
		CanView:   CanView(req, actorID),
		Actions:   []ActionAvailability{},
	}

	inst, err := e.lifecycle.Restore(req.ID, req.Status)
	if err != nil {
		return caps
	}

	for _, a := range e.lifecycle.AvailableActions(inst, LifecycleInput{Request: req, Now: now}, actorID) {
		caps.Actions = append(caps.Actions, ActionAvailability{
			Action:  a.Action,
			Enabled: a.Enabled,
			Reason:  a.Reason,
		})
		if !a.Enabled {
			continue
		}
		switch a.Action {
		case ActionDecide:
			caps.CanApprove = true
			caps.CanReject = true
			caps.CanDefer = true
			caps.CanEscalate = true
		case ActionCancel:
			caps.CanCancel = true
		}
	}

	if caps.CanApprove {
		for _, s := range ActiveSteps(req) {
			if i := s.approverIndex(actorID); i >= 0 && !s.AssignedApprovers[i].HasResponded {
				caps.ActiveStepID = s.ID
				break
			}
		}
	}
	return caps
}

// CanView reports whether the actor is the requester or an assigned approver
func CanView(req Request, actorID string) bool {
	if actorID == "" {
		return false
	}
	if req.Requester.ID == actorID {
		return true
	}
	for _, s := range req.Steps {
		if s.approverIndex(actorID) >= 0 {
			return true
		}
	}
	return false
}

// ActiveSteps returns the steps currently accepting decisions
func ActiveSteps(req Request) []RequestStep {
	var out []RequestStep
	for _, s := range req.Steps {
		if s.Status == StepActive {
			out = append(out, s)
		}
	}
	return out
}

// PendingApprovers returns approvers on active steps who have not responded
func PendingApprovers(req Request) []Actor {
	var out []Actor
	seen := make(map[string]bool)
	for _, s := range ActiveSteps(req) {
		for _, a := range s.AssignedApprovers {
			if a.HasResponded || seen[a.Actor.ID] {
				continue
			}
			seen[a.Actor.ID] = true
			out = append(out, a.Actor)
		}
	}
	return out
}

// IsOverdue reports whether an open request has passed its deadline
func IsOverdue(req Request, now time.Time) bool {
	if req.Status.IsTerminal() || req.ExpiresAt == nil {
		return false
	}
	return !now.Before(*req.ExpiresAt)
}

// Summary is a compact view of a request's progress
type Summary struct {
	RequestID        string        `json:"request_id"`
	Status           RequestStatus `json:"status"`
	TotalSteps       int           `json:"total_steps"`
	CompletedSteps   int           `json:"completed_steps"`
	CurrentStep      string        `json:"current_step,omitempty"`
	Approvals        int           `json:"approvals"`
	Rejections       int           `json:"rejections"`
	PendingApprovers int           `json:"pending_approvers"`
	FinalDecision    DecisionKind  `json:"final_decision,omitempty"`
}

// Summarize computes a Summary
func Summarize(req Request) Summary {
	sum := Summary{
		RequestID:        req.ID,
		Status:           req.Status,
		TotalSteps:       len(req.Steps),
		PendingApprovers: len(PendingApprovers(req)),
		FinalDecision:    req.FinalDecision,
	}
	for _, s := range req.Steps {
		if s.Status.IsTerminal() {
			sum.CompletedSteps++
		}
		approvals, rejections, _ := s.Tally()
		sum.Approvals += approvals
		sum.Rejections += rejections
	}
	if !req.Status.IsTerminal() && req.CurrentStepIndex >= 0 && req.CurrentStepIndex < len(req.Steps) {
		sum.CurrentStep = req.Steps[req.CurrentStepIndex].Name
	}
	return sum
}
