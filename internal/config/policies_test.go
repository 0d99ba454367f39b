package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

const samplePolicies = `
policies:
  - id: PO_OVER_10K
    name: Large orders
    object_type: purchase_order
    priority: 10
    triggers:
      - type: threshold
        field: grandTotal
        operator: ">"
        value: 10000
      - type: change
        field: vendorId
        to_value: V-2
    workflow:
      timeout:
        duration: 2
        unit: days
      timeout_action: expire
      steps:
        - id: manager
          approvers:
            type: requester_manager
        - id: finance
          approvers:
            type: role
            role: finance
          required_approvals: 2
  - id: CAPEX
    object_type: purchase_order
    priority: 20
    active: false
    triggers:
      - type: category
        categories: [capex]
      - type: status
        to: [submitted]
      - type: custom
        rule_id: weekend
        params:
          days: 2
    workflow:
      execution: parallel
      steps:
        - id: cfo
          approvers:
            type: user
            users: [u-cfo]
          required_approvals: all
`

func TestParsePolicies(t *testing.T) {
	policies, err := ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)
	require.Len(t, policies, 2)

	large := policies[0]
	assert.Equal(t, "PO_OVER_10K", large.ID)
	assert.True(t, large.Active)
	assert.Equal(t, approval.ExecutionSequential, large.Workflow.Execution)
	assert.Equal(t, "PO_OVER_10K", large.Workflow.ID)
	require.NotNil(t, large.Workflow.Timeout)
	d, err := large.Workflow.Timeout.ToDuration()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)
	assert.Equal(t, approval.TimeoutExpire, large.Workflow.TimeoutAction)

	require.Len(t, large.Triggers, 2)
	assert.Equal(t, approval.ThresholdCondition{Field: "grandTotal", Operator: approval.OpGreater, Value: 10000}, large.Triggers[0])
	assert.Equal(t, approval.ChangeCondition{Field: "vendorId", ToValue: "V-2"}, large.Triggers[1])

	require.Len(t, large.Workflow.Steps, 2)
	assert.Equal(t, approval.RequireAny(), large.Workflow.Steps[0].Required)
	assert.Equal(t, approval.ApproverRequesterManager, large.Workflow.Steps[0].Approvers.Type)
	assert.Equal(t, approval.RequireCount(2), large.Workflow.Steps[1].Required)
	assert.Equal(t, "finance", large.Workflow.Steps[1].Approvers.Role)

	capex := policies[1]
	assert.False(t, capex.Active)
	assert.Equal(t, approval.ExecutionParallel, capex.Workflow.Execution)
	require.Len(t, capex.Triggers, 3)
	assert.Equal(t, approval.CategoryCondition{Categories: []string{"capex"}}, capex.Triggers[0])
	assert.Equal(t, approval.StatusCondition{To: []string{"submitted"}}, capex.Triggers[1])
	custom, ok := capex.Triggers[2].(approval.CustomCondition)
	require.True(t, ok)
	assert.Equal(t, "weekend", custom.RuleID)
	assert.Equal(t, 2, custom.Params["days"])
	assert.Equal(t, approval.RequireAll(), capex.Workflow.Steps[0].Required)
	assert.Equal(t, []string{"u-cfo"}, capex.Workflow.Steps[0].Approvers.Users)
}

func TestParsePolicies_MatchesOrders(t *testing.T) {
	policies, err := ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)

	m := approval.NewMatcher(policies, approval.WithEnablement(map[string]bool{"CAPEX": true}))
	res := m.CheckApprovalRequired(approval.EvaluationContext{
		ObjectType: "purchase_order",
		ObjectData: map[string]any{"grandTotal": 12000.0, "category": "capex"},
	})

	require.True(t, res.Required)
	require.Len(t, res.Policies, 2)
	assert.Equal(t, "PO_OVER_10K", res.Policies[0].ID)
	assert.Equal(t, "CAPEX", res.Policies[1].ID)
}

func TestParsePolicies_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "policies:\n  - id: X\n    colour: red\n"},
		{"unknown trigger", `
policies:
  - id: X
    object_type: purchase_order
    triggers: [{type: weather}]
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}}]}
`},
		{"threshold without value", `
policies:
  - id: X
    object_type: purchase_order
    triggers: [{type: threshold, field: grandTotal, operator: ">"}]
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}}]}
`},
		{"bad operator", `
policies:
  - id: X
    object_type: purchase_order
    triggers: [{type: threshold, field: grandTotal, operator: "=>", value: 1}]
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}}]}
`},
		{"bad required approvals", `
policies:
  - id: X
    object_type: purchase_order
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}, required_approvals: most}]}
`},
		{"no steps", `
policies:
  - id: X
    object_type: purchase_order
`},
		{"duplicate id", `
policies:
  - id: X
    object_type: purchase_order
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}}]}
  - id: X
    object_type: purchase_order
    workflow: {steps: [{id: s, approvers: {type: user, users: [a]}}]}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParsePolicies_Empty(t *testing.T) {
	policies, err := ParsePolicies(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestLoadPolicies_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicies), 0644))

	policies, err := LoadPolicies(path)
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicies_ShippedFile(t *testing.T) {
	policies, err := LoadPolicies(filepath.Join("..", "..", "configs", "policies.yaml"))
	require.NoError(t, err)

	ids := make([]string, 0, len(policies))
	for _, p := range policies {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"PO_OVER_10K", "CAPEX", "REVISED_TOTAL"}, ids)
}
