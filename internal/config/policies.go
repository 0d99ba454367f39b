package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// policyFile is the on-disk layout of the policy definitions
type policyFile struct {
	Policies []policyDoc `yaml:"policies"`
}

type policyDoc struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	ObjectType  string       `yaml:"object_type"`
	Priority    int          `yaml:"priority"`
	Active      *bool        `yaml:"active"`
	Triggers    []triggerDoc `yaml:"triggers"`
	Workflow    workflowDoc  `yaml:"workflow"`
}

// triggerDoc carries the union of all trigger fields; Type selects which apply
type triggerDoc struct {
	Type       string         `yaml:"type"`
	Field      string         `yaml:"field"`
	Operator   string         `yaml:"operator"`
	Value      *float64       `yaml:"value"`
	FromValue  any            `yaml:"from_value"`
	ToValue    any            `yaml:"to_value"`
	To         []string       `yaml:"to"`
	Categories []string       `yaml:"categories"`
	RuleID     string         `yaml:"rule_id"`
	Params     map[string]any `yaml:"params"`
}

type workflowDoc struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Execution     string    `yaml:"execution"`
	Timeout       *timeout  `yaml:"timeout"`
	TimeoutAction string    `yaml:"timeout_action"`
	Steps         []stepDoc `yaml:"steps"`
}

type timeout struct {
	Duration int    `yaml:"duration"`
	Unit     string `yaml:"unit"`
}

type stepDoc struct {
	ID        string      `yaml:"id"`
	Name      string      `yaml:"name"`
	Approvers approverDoc `yaml:"approvers"`
	// "all", "any" or a count
	Required yaml.Node `yaml:"required_approvals"`
}

type approverDoc struct {
	Type  string   `yaml:"type"`
	Users []string `yaml:"users"`
	Role  string   `yaml:"role"`
}

// LoadPolicies reads and validates the policy definitions at path
func LoadPolicies(path string) ([]approval.Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	policies, err := ParsePolicies(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policies, nil
}

// ParsePolicies decodes policy definitions into typed trigger conditions.
// Unknown keys are rejected.
func ParsePolicies(r io.Reader) ([]approval.Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file policyFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}

	seen := make(map[string]bool, len(file.Policies))
	policies := make([]approval.Policy, 0, len(file.Policies))
	for i, doc := range file.Policies {
		p, err := doc.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i+1, err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate policy id %s", approval.ErrInvalidPolicy, p.ID)
		}
		seen[p.ID] = true
		policies = append(policies, p)
	}
	return policies, nil
}

func (d policyDoc) toPolicy() (approval.Policy, error) {
	p := approval.Policy{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		ObjectType:  d.ObjectType,
		Priority:    d.Priority,
		Active:      d.Active == nil || *d.Active,
	}

	for _, t := range d.Triggers {
		cond, err := t.toCondition()
		if err != nil {
			return approval.Policy{}, fmt.Errorf("policy %s: %w", d.ID, err)
		}
		p.Triggers = append(p.Triggers, cond)
	}

	wf := approval.Workflow{
		ID:            d.Workflow.ID,
		Name:          d.Workflow.Name,
		Execution:     approval.ExecutionMode(d.Workflow.Execution),
		TimeoutAction: approval.TimeoutAction(d.Workflow.TimeoutAction),
	}
	if wf.ID == "" {
		wf.ID = d.ID
	}
	if wf.Execution == "" {
		wf.Execution = approval.ExecutionSequential
	}
	if d.Workflow.Timeout != nil {
		wf.Timeout = &approval.Timeout{
			Duration: d.Workflow.Timeout.Duration,
			Unit:     approval.TimeoutUnit(d.Workflow.Timeout.Unit),
		}
	}

	for _, s := range d.Workflow.Steps {
		req, err := approval.ParseRequirement(s.Required.Value)
		if err != nil {
			return approval.Policy{}, fmt.Errorf("policy %s step %s: %w", d.ID, s.ID, err)
		}
		wf.Steps = append(wf.Steps, approval.ApprovalStep{
			ID:   s.ID,
			Name: s.Name,
			Approvers: approval.ApproverSelector{
				Type:  approval.ApproverType(s.Approvers.Type),
				Users: s.Approvers.Users,
				Role:  s.Approvers.Role,
			},
			Required: req,
		})
	}
	p.Workflow = wf

	return p, nil
}

func (t triggerDoc) toCondition() (approval.TriggerCondition, error) {
	switch approval.TriggerKind(t.Type) {
	case approval.TriggerThreshold:
		op := approval.Operator(t.Operator)
		if t.Field == "" || !op.IsValid() || t.Value == nil {
			return nil, fmt.Errorf("%w: threshold trigger needs field, operator and value", approval.ErrInvalidPolicy)
		}
		return approval.ThresholdCondition{Field: t.Field, Operator: op, Value: *t.Value}, nil
	case approval.TriggerChange:
		if t.Field == "" {
			return nil, fmt.Errorf("%w: change trigger needs a field", approval.ErrInvalidPolicy)
		}
		return approval.ChangeCondition{Field: t.Field, FromValue: t.FromValue, ToValue: t.ToValue}, nil
	case approval.TriggerStatus:
		if len(t.To) == 0 {
			return nil, fmt.Errorf("%w: status trigger needs target statuses", approval.ErrInvalidPolicy)
		}
		return approval.StatusCondition{To: t.To}, nil
	case approval.TriggerCategory:
		if len(t.Categories) == 0 {
			return nil, fmt.Errorf("%w: category trigger needs categories", approval.ErrInvalidPolicy)
		}
		return approval.CategoryCondition{Categories: t.Categories}, nil
	case approval.TriggerCustom:
		if t.RuleID == "" {
			return nil, fmt.Errorf("%w: custom trigger needs a rule_id", approval.ErrInvalidPolicy)
		}
		return approval.CustomCondition{RuleID: t.RuleID, Params: t.Params}, nil
	}
	return nil, fmt.Errorf("%w: unknown trigger type %q", approval.ErrInvalidPolicy, t.Type)
}
