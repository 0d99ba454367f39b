package workflow

import "context"

// GuardContext is everything a guard may look at. Guards must be pure
// functions of this value.
type GuardContext[S ~string, A ~string, I any] struct {
	From   S
	To     S
	Action A
	Input  I
	Actor  string
}

// GuardResult is the outcome of a guard evaluation
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Guard decides whether a transition may fire
type Guard[S ~string, A ~string, I any] func(gc GuardContext[S, A, I]) GuardResult

// Allow permits the transition
func Allow() GuardResult {
	return GuardResult{Allowed: true}
}

// Deny rejects the transition with a reason
func Deny(reason string) GuardResult {
	return GuardResult{Allowed: false, Reason: reason}
}

// BoolGuard adapts a plain predicate. A false result is a rejection with no reason.
func BoolGuard[S ~string, A ~string, I any](pred func(gc GuardContext[S, A, I]) bool) Guard[S, A, I] {
	return func(gc GuardContext[S, A, I]) GuardResult {
		return GuardResult{Allowed: pred(gc)}
	}
}

// HookContext is passed to before/after hooks
type HookContext[S ~string, A ~string, I any] struct {
	Instance Instance[S, A]
	From     S
	To       S
	Action   A
	Input    I
	Actor    string
}

// Hook runs around a transition. A before hook error aborts the transition;
// an after hook error is reported but the transition stands.
type Hook[S ~string, A ~string, I any] func(ctx context.Context, hc HookContext[S, A, I]) error

// Transition maps one or more source states and an action to a destination
type Transition[S ~string, A ~string, I any] struct {
	Action A
	From   []S
	To     S
	Guard  Guard[S, A, I]
	Before Hook[S, A, I]
	After  Hook[S, A, I]
}

func (t Transition[S, A, I]) appliesTo(state S) bool {
	for _, s := range t.From {
		if s == state {
			return true
		}
	}
	return false
}
