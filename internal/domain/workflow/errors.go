package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when no transition matches the current state and action
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not part of the definition
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition rejects the transition
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrHookFailed is returned when a before hook aborts the transition
	ErrHookFailed = errors.New("transition hook failed")

	// ErrInvalidDefinition is returned by Build for inconsistent definitions
	ErrInvalidDefinition = errors.New("invalid state machine definition")
)

// FailureKind classifies why a transition did not happen
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureNoTransition  FailureKind = "no_transition"
	FailureGuardRejected FailureKind = "guard_rejected"
	FailureHookFailed    FailureKind = "hook_failed"
	FailureTerminal      FailureKind = "terminal"
)

// TransitionError describes a rejected transition. The instance handed back
// alongside it is always the unchanged input.
type TransitionError struct {
	Kind   FailureKind
	From   string
	Action string
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: action %s from state %s", e.Kind, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap exposes the sentinel matching Kind (and the hook error, if any)
func (e *TransitionError) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case FailureNoTransition, FailureTerminal:
		sentinel = ErrInvalidTransition
	case FailureGuardRejected:
		sentinel = ErrGuardFailed
	case FailureHookFailed:
		sentinel = ErrHookFailed
	}
	errs := make([]error, 0, 2)
	if sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
