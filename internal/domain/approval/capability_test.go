package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Capabilities(t *testing.T) {
	f := newFixture(t, highValuePolicy())
	req := f.create(t, "HIGH_VALUE_PO_POLICY")
	now := t0.Add(time.Hour)

	tests := []struct {
		name       string
		actor      string
		canView    bool
		canApprove bool
		canCancel  bool
	}{
		{"active step approver", "mgr", true, true, false},
		{"approver of pending step", "fin1", true, false, false},
		{"requester", "requester", true, false, true},
		{"stranger", "mallory", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := f.engine.Capabilities(req, tt.actor, now)
			assert.Equal(t, tt.canView, caps.CanView)
			assert.Equal(t, tt.canApprove, caps.CanApprove)
			assert.Equal(t, tt.canApprove, caps.CanReject)
			assert.Equal(t, tt.canApprove, caps.CanDefer)
			assert.Equal(t, tt.canApprove, caps.CanEscalate)
			assert.Equal(t, tt.canCancel, caps.CanCancel)
			if tt.canApprove {
				assert.Equal(t, req.Steps[0].ID, caps.ActiveStepID)
			} else {
				assert.Empty(t, caps.ActiveStepID)
			}
		})
	}
}

func TestEngine_CapabilitiesMatchOperations(t *testing.T) {
	f := newFixture(t, highValuePolicy())
	req := f.create(t, "HIGH_VALUE_PO_POLICY")

	caps := f.engine.Capabilities(req, "mgr", t0)
	byAction := make(map[RequestAction]ActionAvailability)
	for _, a := range caps.Actions {
		byAction[a.Action] = a
	}
	require.Contains(t, byAction, ActionCancel)
	assert.False(t, byAction[ActionCancel].Enabled)
	assert.Equal(t, "only the requester can cancel", byAction[ActionCancel].Reason)
	assert.False(t, byAction[ActionExpire].Enabled)

	res := f.decide(t, req, 0, "mgr", DecisionApproved)
	after := f.engine.Capabilities(res.Request, "mgr", t0)
	assert.False(t, after.CanApprove)
	assert.True(t, after.CanView)

	finance := f.engine.Capabilities(res.Request, "fin2", t0)
	assert.True(t, finance.CanApprove)
	assert.Equal(t, res.Request.Steps[1].ID, finance.ActiveStepID)
}

func TestEngine_CapabilitiesOnTerminalRequest(t *testing.T) {
	f := newFixture(t, highValuePolicy())
	req := f.create(t, "HIGH_VALUE_PO_POLICY")
	res := f.decide(t, req, 0, "mgr", DecisionRejected)

	caps := f.engine.Capabilities(res.Request, "requester", t0)
	assert.True(t, caps.CanView)
	assert.False(t, caps.CanCancel)
	assert.Empty(t, caps.Actions)
}

func TestQueries(t *testing.T) {
	f := newFixture(t, highValuePolicy())
	req := f.create(t, "HIGH_VALUE_PO_POLICY")

	assert.Len(t, ActiveSteps(req), 1)
	assert.Equal(t, []Actor{{ID: "mgr"}}, PendingApprovers(req))

	assert.False(t, IsOverdue(req, t0.Add(71*time.Hour)))
	assert.True(t, IsOverdue(req, t0.Add(72*time.Hour)))

	res := f.decide(t, req, 0, "mgr", DecisionApproved)
	assert.ElementsMatch(t, []Actor{{ID: "fin1"}, {ID: "fin2"}}, PendingApprovers(res.Request))

	sum := Summarize(res.Request)
	assert.Equal(t, Summary{
		RequestID:        req.ID,
		Status:           StatusInProgress,
		TotalSteps:       2,
		CompletedSteps:   1,
		CurrentStep:      "Finance",
		Approvals:        1,
		PendingApprovers: 2,
	}, sum)

	res = f.decide(t, res.Request, 1, "fin2", DecisionApproved)
	assert.False(t, IsOverdue(res.Request, t0.Add(1000*time.Hour)))
	assert.Empty(t, ActiveSteps(res.Request))
}
