package approval

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"

	"github.com/garyjia/procurement-approval/internal/domain/finance"
)

// TriggerKind names a trigger condition type
type TriggerKind string

const (
	TriggerThreshold TriggerKind = "threshold"
	TriggerChange    TriggerKind = "change"
	TriggerStatus    TriggerKind = "status"
	TriggerCategory  TriggerKind = "category"
	TriggerCustom    TriggerKind = "custom"
)

// TriggerCondition decides whether a policy applies to an object. The set of
// implementations is closed; evaluation never fails, it only reports false.
type TriggerCondition interface {
	Kind() TriggerKind
	evaluate(ec EvaluationContext, custom map[string]CustomRuleEvaluator) bool
}

// CustomRuleEvaluator evaluates a caller-registered rule
type CustomRuleEvaluator func(ec EvaluationContext, params map[string]any) bool

// Operator is a threshold comparison
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// IsValid checks if the operator is known
func (o Operator) IsValid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// ThresholdCondition compares a numeric field against a constant. Both sides
// are rounded to cents first.
type ThresholdCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// Kind implements TriggerCondition
func (ThresholdCondition) Kind() TriggerKind { return TriggerThreshold }

func (c ThresholdCondition) evaluate(ec EvaluationContext, _ map[string]CustomRuleEvaluator) bool {
	raw, ok := Lookup(ec.ObjectData, c.Field)
	if !ok {
		return false
	}
	v, ok := toNumber(raw)
	if !ok {
		return false
	}

	cmp := finance.CompareCurrency(v, c.Value)
	switch c.Operator {
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	}
	return false
}

// MarshalJSON adds the type tag
func (c ThresholdCondition) MarshalJSON() ([]byte, error) {
	type plain ThresholdCondition
	return marshalTagged(TriggerThreshold, plain(c))
}

// ChangeCondition fires when a field's value differs between the previous
// and new values. FromValue and ToValue, when set, must also match.
type ChangeCondition struct {
	Field     string `json:"field"`
	FromValue any    `json:"from_value,omitempty"`
	ToValue   any    `json:"to_value,omitempty"`
}

// Kind implements TriggerCondition
func (ChangeCondition) Kind() TriggerKind { return TriggerChange }

func (c ChangeCondition) evaluate(ec EvaluationContext, _ map[string]CustomRuleEvaluator) bool {
	oldV, oldOK := Lookup(ec.PreviousValues, c.Field)
	newV, newOK := Lookup(ec.NewValues, c.Field)
	if !oldOK && !newOK {
		return false
	}
	if oldOK && newOK && valuesEqual(oldV, newV) {
		return false
	}
	if c.FromValue != nil && (!oldOK || !valuesEqual(oldV, c.FromValue)) {
		return false
	}
	if c.ToValue != nil && (!newOK || !valuesEqual(newV, c.ToValue)) {
		return false
	}
	return true
}

// MarshalJSON adds the type tag
func (c ChangeCondition) MarshalJSON() ([]byte, error) {
	type plain ChangeCondition
	return marshalTagged(TriggerChange, plain(c))
}

// StatusCondition fires when objectData.status is one of To
type StatusCondition struct {
	To []string `json:"to"`
}

// Kind implements TriggerCondition
func (StatusCondition) Kind() TriggerKind { return TriggerStatus }

func (c StatusCondition) evaluate(ec EvaluationContext, _ map[string]CustomRuleEvaluator) bool {
	return fieldIn(ec.ObjectData, "status", c.To)
}

// MarshalJSON adds the type tag
func (c StatusCondition) MarshalJSON() ([]byte, error) {
	type plain StatusCondition
	return marshalTagged(TriggerStatus, plain(c))
}

// CategoryCondition fires when objectData.category is one of Categories
type CategoryCondition struct {
	Categories []string `json:"categories"`
}

// Kind implements TriggerCondition
func (CategoryCondition) Kind() TriggerKind { return TriggerCategory }

func (c CategoryCondition) evaluate(ec EvaluationContext, _ map[string]CustomRuleEvaluator) bool {
	return fieldIn(ec.ObjectData, "category", c.Categories)
}

// MarshalJSON adds the type tag
func (c CategoryCondition) MarshalJSON() ([]byte, error) {
	type plain CategoryCondition
	return marshalTagged(TriggerCategory, plain(c))
}

// CustomCondition delegates to an evaluator registered under RuleID. A
// missing or panicking evaluator does not trigger.
type CustomCondition struct {
	RuleID string         `json:"rule_id"`
	Params map[string]any `json:"params,omitempty"`
}

// Kind implements TriggerCondition
func (CustomCondition) Kind() TriggerKind { return TriggerCustom }

func (c CustomCondition) evaluate(ec EvaluationContext, custom map[string]CustomRuleEvaluator) (triggered bool) {
	fn, ok := custom[c.RuleID]
	if !ok || fn == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			triggered = false
		}
	}()
	return fn(ec, c.Params)
}

// MarshalJSON adds the type tag
func (c CustomCondition) MarshalJSON() ([]byte, error) {
	type plain CustomCondition
	return marshalTagged(TriggerCustom, plain(c))
}

func marshalTagged(kind TriggerKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(kind)
	fields["type"] = tag
	return json.Marshal(fields)
}

// Lookup resolves a dot path such as "costDelta.absolute" in nested maps
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toNumber accepts Go numeric kinds and json.Number. Strings are not numbers.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func valuesEqual(a, b any) bool {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func fieldIn(data map[string]any, field string, allowed []string) bool {
	raw, ok := Lookup(data, field)
	if !ok {
		return false
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
