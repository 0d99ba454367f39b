package approval

import "errors"

var (
	// Configuration errors
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrInvalidPolicy      = errors.New("invalid policy")
	ErrObjectTypeMismatch = errors.New("object type does not match policy")
	ErrNoApprovers        = errors.New("step has no approvers")
	ErrUnreachableQuorum  = errors.New("required approvals exceed assigned approvers")
	ErrInvalidEngine      = errors.New("invalid engine configuration")

	// Precondition violations
	ErrRequestNotFound     = errors.New("approval request not found")
	ErrStepNotFound        = errors.New("step not found")
	ErrStepNotActive       = errors.New("step is not active")
	ErrNotAnApprover       = errors.New("actor is not an approver for this step")
	ErrRequestNotActive    = errors.New("approval request is not active")
	ErrDuplicateDecision   = errors.New("approver has already decided on this step")
	ErrInvalidDecision     = errors.New("invalid decision")
	ErrNotRequester        = errors.New("only the requester can cancel the request")
	ErrNotExpired          = errors.New("approval request has not expired")
	ErrConcurrencyConflict = errors.New("approval request was modified concurrently")
)
