package workflow

import (
	"context"
	"fmt"
)

// Decision is the result of evaluating whether an action may fire
type Decision struct {
	Allowed bool
	Kind    FailureKind
	Reason  string
}

// AvailableAction reports one outgoing action of the current state
type AvailableAction[S ~string, A ~string] struct {
	Action  A      `json:"action"`
	To      S      `json:"to"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Machine evaluates a Definition against instances. It holds no per-instance
// state and is safe for concurrent use.
type Machine[S ~string, A ~string, I any] struct {
	def          *Definition[S, A, I]
	clock        Clock
	afterHookErr AfterHookErrorHandler[S, A, I]
}

// AfterHookErrorHandler receives errors returned by after hooks
type AfterHookErrorHandler[S ~string, A ~string, I any] func(ctx context.Context, hc HookContext[S, A, I], err error)

// Option configures a Machine
type Option[S ~string, A ~string, I any] func(*Machine[S, A, I])

// WithClock overrides the clock used to timestamp history
func WithClock[S ~string, A ~string, I any](clock Clock) Option[S, A, I] {
	return func(m *Machine[S, A, I]) {
		m.clock = clock
	}
}

// WithAfterHookErrorHandler routes after-hook failures to fn. Without it they
// are dropped.
func WithAfterHookErrorHandler[S ~string, A ~string, I any](fn AfterHookErrorHandler[S, A, I]) Option[S, A, I] {
	return func(m *Machine[S, A, I]) {
		m.afterHookErr = fn
	}
}

// NewMachine creates a machine for a validated definition
func NewMachine[S ~string, A ~string, I any](def *Definition[S, A, I], opts ...Option[S, A, I]) (*Machine[S, A, I], error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m := &Machine[S, A, I]{def: def, clock: SystemClock}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Definition returns the machine's template
func (m *Machine[S, A, I]) Definition() *Definition[S, A, I] {
	return m.def
}

// Create returns a new instance at the initial state
func (m *Machine[S, A, I]) Create(id string) Instance[S, A] {
	now := m.clock.Now()
	return Instance[S, A]{
		ID:           id,
		DefinitionID: m.def.ID,
		CurrentState: m.def.Initial,
		History:      []HistoryEntry[S, A]{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Restore wraps a persisted state into an instance without history
func (m *Machine[S, A, I]) Restore(id string, state S) (Instance[S, A], error) {
	if _, ok := m.def.State(state); !ok {
		return Instance[S, A]{}, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	inst := m.Create(id)
	inst.CurrentState = state
	return inst, nil
}

// IsTerminal reports whether the instance is in a terminal state
func (m *Machine[S, A, I]) IsTerminal(inst Instance[S, A]) bool {
	def, ok := m.def.State(inst.CurrentState)
	return ok && def.Terminal
}

func (m *Machine[S, A, I]) find(state S, action A) (Transition[S, A, I], bool) {
	for _, t := range m.def.Transitions {
		if t.Action == action && t.appliesTo(state) {
			return t, true
		}
	}
	return Transition[S, A, I]{}, false
}

// evaluate runs global guards then the transition guard
func (m *Machine[S, A, I]) evaluate(t Transition[S, A, I], from S, input I, actor string) Decision {
	gc := GuardContext[S, A, I]{From: from, To: t.To, Action: t.Action, Input: input, Actor: actor}

	for _, g := range m.def.GlobalGuards {
		if g == nil {
			continue
		}
		if res := g(gc); !res.Allowed {
			return Decision{Kind: FailureGuardRejected, Reason: res.Reason}
		}
	}
	if t.Guard != nil {
		if res := t.Guard(gc); !res.Allowed {
			return Decision{Kind: FailureGuardRejected, Reason: res.Reason}
		}
	}
	return Decision{Allowed: true}
}

// CanTransition reports whether action may fire from the instance's state
func (m *Machine[S, A, I]) CanTransition(inst Instance[S, A], action A, input I, actor string) Decision {
	if m.IsTerminal(inst) {
		return Decision{Kind: FailureTerminal, Reason: fmt.Sprintf("state %s is terminal", inst.CurrentState)}
	}
	t, ok := m.find(inst.CurrentState, action)
	if !ok {
		return Decision{
			Kind:   FailureNoTransition,
			Reason: fmt.Sprintf("no transition for action %s from state %s", action, inst.CurrentState),
		}
	}
	return m.evaluate(t, inst.CurrentState, input, actor)
}

// Transition fires action. On any failure the unchanged instance is returned
// together with a *TransitionError. The after hook runs once the new state is
// in place and cannot fail the transition: its error goes to the
// AfterHookErrorHandler.
func (m *Machine[S, A, I]) Transition(ctx context.Context, inst Instance[S, A], action A, input I, actor string) (Instance[S, A], error) {
	if m.IsTerminal(inst) {
		return inst, &TransitionError{
			Kind:   FailureTerminal,
			From:   string(inst.CurrentState),
			Action: string(action),
		}
	}
	t, ok := m.find(inst.CurrentState, action)
	if !ok {
		return inst, &TransitionError{
			Kind:   FailureNoTransition,
			From:   string(inst.CurrentState),
			Action: string(action),
		}
	}

	if d := m.evaluate(t, inst.CurrentState, input, actor); !d.Allowed {
		return inst, &TransitionError{
			Kind:   d.Kind,
			From:   string(inst.CurrentState),
			Action: string(action),
			Reason: d.Reason,
		}
	}

	hc := HookContext[S, A, I]{
		Instance: inst,
		From:     inst.CurrentState,
		To:       t.To,
		Action:   action,
		Input:    input,
		Actor:    actor,
	}
	if t.Before != nil {
		if err := t.Before(ctx, hc); err != nil {
			return inst, &TransitionError{
				Kind:   FailureHookFailed,
				From:   string(inst.CurrentState),
				Action: string(action),
				Reason: err.Error(),
				Err:    err,
			}
		}
	}

	now := m.clock.Now()
	next := inst.clone()
	next.History = append(next.History, HistoryEntry[S, A]{
		From:      inst.CurrentState,
		To:        t.To,
		Action:    action,
		Actor:     actor,
		Timestamp: now,
		Duration:  now.Sub(inst.lastChange()),
	})
	next.CurrentState = t.To
	next.UpdatedAt = now

	if t.After != nil {
		hc.Instance = next
		if err := t.After(ctx, hc); err != nil && m.afterHookErr != nil {
			m.afterHookErr(ctx, hc, err)
		}
	}

	return next, nil
}

// AvailableActions lists every action leaving the current state together
// with the same guard evaluation Transition would perform.
func (m *Machine[S, A, I]) AvailableActions(inst Instance[S, A], input I, actor string) []AvailableAction[S, A] {
	actions := make([]AvailableAction[S, A], 0)
	for _, t := range m.def.Transitions {
		if !t.appliesTo(inst.CurrentState) {
			continue
		}
		d := m.evaluate(t, inst.CurrentState, input, actor)
		actions = append(actions, AvailableAction[S, A]{
			Action:  t.Action,
			To:      t.To,
			Enabled: d.Allowed,
			Reason:  d.Reason,
		})
	}
	return actions
}

// PermittedActions returns the enabled actions only
func (m *Machine[S, A, I]) PermittedActions(inst Instance[S, A], input I, actor string) []A {
	var out []A
	for _, a := range m.AvailableActions(inst, input, actor) {
		if a.Enabled {
			out = append(out, a.Action)
		}
	}
	return out
}
