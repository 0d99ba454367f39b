package approval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	n int
}

func (s *seqIDs) Generate(prefix string) string {
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

// staticResolver returns the users listed in the selector, or the role
// members from the given table.
func staticResolver(roles map[string][]string) ApproverResolver {
	return func(ctx context.Context, sel ApproverSelector, rc ResolveContext) ([]Actor, error) {
		var ids []string
		switch sel.Type {
		case ApproverUser:
			ids = sel.Users
		case ApproverRole:
			ids = roles[sel.Role]
		}
		actors := make([]Actor, len(ids))
		for i, id := range ids {
			actors[i] = Actor{ID: id}
		}
		return actors, nil
	}
}

func highValuePolicy() Policy {
	return Policy{
		ID:         "HIGH_VALUE_PO_POLICY",
		Name:       "High value purchase orders",
		ObjectType: "purchase_order",
		Priority:   10,
		Active:     true,
		Triggers: []TriggerCondition{
			ThresholdCondition{Field: "grandTotal", Operator: OpGreater, Value: 10000},
		},
		Workflow: Workflow{
			ID:        "wf-high-value",
			Execution: ExecutionSequential,
			Steps: []ApprovalStep{
				{ID: "manager", Name: "Manager", Approvers: ApproverSelector{Type: ApproverUser, Users: []string{"mgr"}}, Required: RequireAny()},
				{ID: "finance", Name: "Finance", Approvers: ApproverSelector{Type: ApproverRole, Role: "finance"}, Required: RequireAny()},
			},
			Timeout:       &Timeout{Duration: 3, Unit: UnitDays},
			TimeoutAction: TimeoutExpire,
		},
	}
}

func committeePolicy(required Requirement, execution ExecutionMode) Policy {
	return Policy{
		ID:         "COMMITTEE",
		ObjectType: "purchase_order",
		Priority:   20,
		Active:     true,
		Triggers:   []TriggerCondition{CategoryCondition{Categories: []string{"capex"}}},
		Workflow: Workflow{
			ID:        "wf-committee",
			Execution: execution,
			Steps: []ApprovalStep{
				{ID: "committee", Name: "Committee", Approvers: ApproverSelector{Type: ApproverUser, Users: []string{"a", "b", "c"}}, Required: required},
				{ID: "cfo", Name: "CFO", Approvers: ApproverSelector{Type: ApproverUser, Users: []string{"cfo"}}, Required: RequireAll()},
			},
		},
	}
}

type fixture struct {
	engine   *Engine
	clock    *fixedClock
	resolver ApproverResolver
}

func newFixture(t *testing.T, policies ...Policy) *fixture {
	t.Helper()
	clock := &fixedClock{now: t0}
	e, err := NewEngine(policies, EngineOptions{IDs: &seqIDs{}, Clock: clock})
	require.NoError(t, err)
	return &fixture{
		engine:   e,
		clock:    clock,
		resolver: staticResolver(map[string][]string{"finance": {"fin1", "fin2"}}),
	}
}

func (f *fixture) create(t *testing.T, policyID string) Request {
	t.Helper()
	req, err := f.engine.CreateRequest(context.Background(), CreateRequestInput{
		PolicyID:  policyID,
		ObjectID:  "PO-1001",
		Requester: Actor{ID: "requester"},
	}, f.resolver)
	require.NoError(t, err)
	return req
}

func (f *fixture) decide(t *testing.T, req Request, stepIdx int, approver string, kind DecisionKind) DecisionResult {
	t.Helper()
	res, err := f.engine.MakeDecision(context.Background(), req, DecisionInput{
		StepID:   req.Steps[stepIdx].ID,
		Approver: Actor{ID: approver},
		Decision: kind,
	})
	require.NoError(t, err)
	return res
}
