package workflow

import "time"

// StateDef declares a state of a machine definition
type StateDef[S ~string] struct {
	Name     S
	Terminal bool
}

// Instance is a single tracked lifecycle. Instances are values: every
// operation returns a new Instance and never mutates its argument.
type Instance[S ~string, A ~string] struct {
	ID           string               `json:"id"`
	DefinitionID string               `json:"definition_id"`
	CurrentState S                    `json:"current_state"`
	History      []HistoryEntry[S, A] `json:"history"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// HistoryEntry records one executed transition
type HistoryEntry[S ~string, A ~string] struct {
	From      S             `json:"from"`
	To        S             `json:"to"`
	Action    A             `json:"action"`
	Actor     string        `json:"actor,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// clone returns a copy whose history can be appended without aliasing.
func (i Instance[S, A]) clone() Instance[S, A] {
	out := i
	out.History = make([]HistoryEntry[S, A], len(i.History), len(i.History)+1)
	copy(out.History, i.History)
	return out
}

// lastChange is the timestamp durations are measured from
func (i Instance[S, A]) lastChange() time.Time {
	if n := len(i.History); n > 0 {
		return i.History[n-1].Timestamp
	}
	return i.CreatedAt
}

// Clock supplies the current time. Injected so transitions are repeatable.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
