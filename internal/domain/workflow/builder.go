package workflow

import (
	"fmt"
)

// Definition is the immutable template of a state machine
type Definition[S ~string, A ~string, I any] struct {
	ID           string
	States       []StateDef[S]
	Initial      S
	Transitions  []Transition[S, A, I]
	GlobalGuards []Guard[S, A, I]
}

// State looks up a declared state
func (d *Definition[S, A, I]) State(name S) (StateDef[S], bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return StateDef[S]{}, false
}

// Validate checks the definition is internally consistent
func (d *Definition[S, A, I]) Validate() error {
	if len(d.States) == 0 {
		return fmt.Errorf("%w: no states declared", ErrInvalidDefinition)
	}
	if _, ok := d.State(d.Initial); !ok {
		return fmt.Errorf("%w: initial state %q is not declared", ErrInvalidDefinition, d.Initial)
	}

	seen := make(map[string]bool)
	for _, t := range d.Transitions {
		if len(t.From) == 0 {
			return fmt.Errorf("%w: action %q has no source state", ErrInvalidDefinition, t.Action)
		}
		if _, ok := d.State(t.To); !ok {
			return fmt.Errorf("%w: action %q targets undeclared state %q", ErrInvalidDefinition, t.Action, t.To)
		}
		for _, from := range t.From {
			def, ok := d.State(from)
			if !ok {
				return fmt.Errorf("%w: action %q leaves undeclared state %q", ErrInvalidDefinition, t.Action, from)
			}
			if def.Terminal {
				return fmt.Errorf("%w: action %q leaves terminal state %q", ErrInvalidDefinition, t.Action, from)
			}
			key := string(from) + "\x00" + string(t.Action)
			if seen[key] {
				return fmt.Errorf("%w: duplicate action %q from state %q", ErrInvalidDefinition, t.Action, from)
			}
			seen[key] = true
		}
	}
	return nil
}

// Builder assembles a Definition
type Builder[S ~string, A ~string, I any] struct {
	def   Definition[S, A, I]
	index map[S]int
}

// StateConfiguration configures transitions leaving one state
type StateConfiguration[S ~string, A ~string, I any] struct {
	builder   *Builder[S, A, I]
	fromState S
}

// NewBuilder creates a new state machine builder
func NewBuilder[S ~string, A ~string, I any](id string) *Builder[S, A, I] {
	return &Builder[S, A, I]{
		def:   Definition[S, A, I]{ID: id},
		index: make(map[S]int),
	}
}

func (b *Builder[S, A, I]) declare(state S) int {
	if i, ok := b.index[state]; ok {
		return i
	}
	b.def.States = append(b.def.States, StateDef[S]{Name: state})
	b.index[state] = len(b.def.States) - 1
	return b.index[state]
}

// Initial declares the initial state
func (b *Builder[S, A, I]) Initial(state S) *Builder[S, A, I] {
	b.declare(state)
	b.def.Initial = state
	return b
}

// Terminal declares terminal states
func (b *Builder[S, A, I]) Terminal(states ...S) *Builder[S, A, I] {
	for _, s := range states {
		i := b.declare(s)
		b.def.States[i].Terminal = true
	}
	return b
}

// GlobalGuard adds a guard evaluated before every transition-specific guard
func (b *Builder[S, A, I]) GlobalGuard(guard Guard[S, A, I]) *Builder[S, A, I] {
	b.def.GlobalGuards = append(b.def.GlobalGuards, guard)
	return b
}

// Transition adds a fully specified transition (multiple sources, hooks)
func (b *Builder[S, A, I]) Transition(t Transition[S, A, I]) *Builder[S, A, I] {
	for _, from := range t.From {
		b.declare(from)
	}
	b.declare(t.To)
	t.From = append([]S(nil), t.From...)
	b.def.Transitions = append(b.def.Transitions, t)
	return b
}

// Configure returns a state configuration for the given state
func (b *Builder[S, A, I]) Configure(state S) *StateConfiguration[S, A, I] {
	b.declare(state)
	return &StateConfiguration[S, A, I]{builder: b, fromState: state}
}

// Build validates and returns a copy of the definition
func (b *Builder[S, A, I]) Build() (*Definition[S, A, I], error) {
	def := Definition[S, A, I]{
		ID:           b.def.ID,
		States:       append([]StateDef[S](nil), b.def.States...),
		Initial:      b.def.Initial,
		Transitions:  append([]Transition[S, A, I](nil), b.def.Transitions...),
		GlobalGuards: append([]Guard[S, A, I](nil), b.def.GlobalGuards...),
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// MustBuild is Build for static definitions; it panics on error
func (b *Builder[S, A, I]) MustBuild() *Definition[S, A, I] {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// Permit allows an action to move to the target state
func (c *StateConfiguration[S, A, I]) Permit(action A, toState S) *StateConfiguration[S, A, I] {
	return c.PermitIf(action, toState, nil)
}

// PermitIf allows an action to move to the target state if the guard passes
func (c *StateConfiguration[S, A, I]) PermitIf(action A, toState S, guard Guard[S, A, I]) *StateConfiguration[S, A, I] {
	c.builder.Transition(Transition[S, A, I]{
		Action: action,
		From:   []S{c.fromState},
		To:     toState,
		Guard:  guard,
	})
	return c
}
