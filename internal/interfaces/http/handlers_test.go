package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/observability"
)

var testNow = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type testServer struct {
	server    *Server
	approvals *fakeApprovals
	orders    *fakeOrders
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	approvals := &fakeApprovals{
		policies: []approval.Policy{{ID: "PO_OVER_10K", ObjectType: "purchase_order", Active: true}},
		requests: map[string]*approval.Request{
			"req-1": {ID: "req-1", PolicyID: "PO_OVER_10K", Status: approval.StatusInProgress, Version: 3},
		},
		exportBody: "xlsx-bytes",
	}
	orders := &fakeOrders{
		orders: map[string]*entity.PurchaseOrder{
			"po-1": {ID: "po-1", RequesterID: "buyer", State: entity.OrderApproved, Version: 2},
		},
	}
	directory := fakeDirectory{
		"buyer": {ID: "buyer", Name: "Alex Novak", Email: "buyer@example.com"},
		"mgr":   {ID: "mgr", Name: "Kenji Sato"},
	}

	opts = append([]Option{WithClock(domainwf.ClockFunc(func() time.Time { return testNow }))}, opts...)
	srv := NewServer(DefaultServerConfig(), approvals, orders, directory, nopLogger{}, opts...)
	return &testServer{server: srv, approvals: approvals, orders: orders}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	resp := Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, WithHealthCheck("database", func(context.Context) error { return nil }))
		w := ts.do(t, http.MethodGet, "/health", nil)

		var health HealthResponse
		resp := decode(t, w, &health)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "2024-05-06T09:00:00Z", health.Timestamp)
		assert.Equal(t, map[string]string{"database": "ok"}, health.Components)
	})

	t.Run("unhealthy component", func(t *testing.T) {
		ts := newTestServer(t, WithHealthCheck("database", func(context.Context) error { return errors.New("disk I/O error") }))
		w := ts.do(t, http.MethodGet, "/health", nil)

		var health HealthResponse
		resp := decode(t, w, &health)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, "unhealthy", health.Status)
		assert.Equal(t, "disk I/O error", health.Components["database"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestServer(t, WithMetrics(observability.InitMetrics(reg), reg))

	ts.do(t, http.MethodGet, "/api/policies", nil)
	w := ts.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `procurement_http_requests_total{method="GET",path_pattern="/api/policies",status="200"} 1`)
}

func TestListPoliciesAndCheck(t *testing.T) {
	ts := newTestServer(t)
	ts.approvals.match = approval.MatchResult{Required: true, Policies: ts.approvals.policies}

	w := ts.do(t, http.MethodGet, "/api/policies", nil)
	var policies []map[string]interface{}
	decode(t, w, &policies)
	require.Len(t, policies, 1)
	assert.Equal(t, "PO_OVER_10K", policies[0]["id"])

	w = ts.do(t, http.MethodPost, "/api/approvals/check", approval.EvaluationContext{
		ObjectType: "purchase_order",
		ObjectData: map[string]any{"grandTotal": 12000},
	})
	var match approval.MatchResult
	decode(t, w, &match)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, match.Required)

	w = ts.do(t, http.MethodPost, "/api/approvals/check", map[string]any{"object_data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitForApproval_ResolvesRequester(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/approvals/submit", SubmitRequest{
		ObjectType:  "purchase_order",
		ObjectID:    "po-1",
		ObjectData:  map[string]any{"grandTotal": 12000},
		RequesterID: "buyer",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "buyer@example.com", ts.approvals.submitIn.Requester.Email)
	assert.Equal(t, "po-1", ts.approvals.submitIn.ObjectID)

	w = ts.do(t, http.MethodPost, "/api/approvals/submit", map[string]string{"object_type": "purchase_order"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRequest(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/requests", CreateRequestRequest{
		PolicyID:    "PO_OVER_10K",
		ObjectType:  "purchase_order",
		ObjectID:    "po-9",
		RequesterID: "stranger",
	})

	var created approval.Request
	decode(t, w, &created)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "req-new", created.ID)
	assert.Equal(t, approval.Actor{ID: "stranger"}, ts.approvals.createIn.Requester)
}

func TestListRequests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/requests?status=in_progress&approver_id=mgr&limit=5000", nil)
	var list RequestListResponse
	decode(t, w, &list)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Summaries, 1)
	assert.Equal(t, "req-1", list.Summaries[0].RequestID)
	assert.Equal(t, approval.StatusInProgress, ts.approvals.filter.Status)
	assert.Equal(t, "mgr", ts.approvals.filter.ApproverID)
	assert.Equal(t, 100, ts.approvals.filter.Limit)

	w = ts.do(t, http.MethodGet, "/api/requests?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecide(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/requests/req-1/decisions", DecisionRequest{
		StepID:          "step-1",
		ApproverID:      "mgr",
		Decision:        "approved",
		ExpectedVersion: 3,
	})

	var result DecisionResponse
	decode(t, w, &result)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, result.Complete)
	assert.Equal(t, approval.DecisionApproved, result.FinalDecision)
	assert.Equal(t, "Kenji Sato", ts.approvals.decideIn.Approver.Name)
	assert.Equal(t, int64(3), ts.approvals.decideIn.ExpectedVersion)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"request not found", fmt.Errorf("%w: req-x", approval.ErrRequestNotFound), http.StatusNotFound},
		{"policy not found", approval.ErrPolicyNotFound, http.StatusNotFound},
		{"step not found", approval.ErrStepNotFound, http.StatusNotFound},
		{"not an approver", approval.ErrNotAnApprover, http.StatusForbidden},
		{"not requester", approval.ErrNotRequester, http.StatusForbidden},
		{"version conflict", approval.ErrConcurrencyConflict, http.StatusConflict},
		{"step not active", approval.ErrStepNotActive, http.StatusConflict},
		{"request closed", approval.ErrRequestNotActive, http.StatusConflict},
		{"duplicate vote", approval.ErrDuplicateDecision, http.StatusConflict},
		{"invalid decision", approval.ErrInvalidDecision, http.StatusBadRequest},
		{"no approvers", approval.ErrNoApprovers, http.StatusBadRequest},
		{"storage failure", errors.New("database is locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.approvals.err = tt.err

			w := ts.do(t, http.MethodPost, "/api/requests/req-1/decisions", DecisionRequest{
				StepID: "s", ApproverID: "mgr", Decision: "approved",
			})

			resp := decode(t, w, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "failed to record decision", resp.Error)
			} else {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestCancelAndCapabilities(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/requests/req-1/cancel", CancelRequest{ActorID: "buyer", Reason: "duplicate"})
	var cancelled approval.Request
	decode(t, w, &cancelled)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, approval.StatusCancelled, cancelled.Status)
	assert.Equal(t, "duplicate", ts.approvals.cancelIn.Reason)

	w = ts.do(t, http.MethodGet, "/api/requests/req-1/capabilities?actor_id=mgr", nil)
	var caps approval.RequestCapabilities
	decode(t, w, &caps)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, caps.CanApprove)

	w = ts.do(t, http.MethodGet, "/api/requests/req-1/capabilities", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/requests/missing/capabilities?actor_id=mgr", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpireOverdue_UsesClock(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/requests/expire", nil)
	var expired []approval.Request
	decode(t, w, &expired)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, expired)
	assert.Equal(t, testNow, ts.approvals.expireAt)
	assert.Equal(t, 100, ts.approvals.expireMax)

	ts.do(t, http.MethodPost, "/api/requests/expire", ExpireRequest{Limit: 7})
	assert.Equal(t, 7, ts.approvals.expireMax)
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/reports/requests.xlsx?object_id=po-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xlsx-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "requests.xlsx")
	assert.Equal(t, "po-1", ts.approvals.filter.ObjectID)

	w = ts.do(t, http.MethodPost, "/api/reports/archive", nil)
	var archived map[string]string
	decode(t, w, &archived)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "reports/approvals-20240506-090000.xlsx", archived["path"])

	ts.approvals.err = errors.New("export is not configured")
	w = ts.do(t, http.MethodGet, "/api/reports/requests.xlsx", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestOrderEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/orders", service.CreateOrderInput{RequesterID: "buyer"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "buyer", ts.orders.createIn.RequesterID)

	w = ts.do(t, http.MethodGet, "/api/orders/po-1", nil)
	var detail service.OrderDetail
	decode(t, w, &detail)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "po-1", detail.Order.ID)

	w = ts.do(t, http.MethodGet, "/api/orders/po-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/orders/po-1/submit", SubmitOrderRequest{ActorID: "buyer"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alex Novak", ts.orders.actor.Name)

	rate := 0.2
	w = ts.do(t, http.MethodPost, "/api/orders/po-1/revise", ReviseOrderRequest{ActorID: "buyer", Lines: nil, TaxRate: &rate})
	assert.Equal(t, http.StatusBadRequest, w.Code, "lines are required")

	w = ts.do(t, http.MethodPost, "/api/orders/po-1/transitions", TransitionOrderRequest{Action: "place", ActorID: "buyer"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.ActionPlace, ts.orders.fired)

	w = ts.do(t, http.MethodGet, "/api/orders/po-1/actions?actor_id=buyer", nil)
	var actions []map[string]interface{}
	decode(t, w, &actions)
	require.Len(t, actions, 2)
	assert.Equal(t, "place", actions[0]["action"])
	assert.Equal(t, true, actions[0]["enabled"])
}

func TestOrderTransition_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"managed action", fmt.Errorf("%w: approve", service.ErrManagedAction), http.StatusBadRequest},
		{"invalid order", service.ErrInvalidOrder, http.StatusBadRequest},
		{"guard rejected", &domainwf.TransitionError{Kind: domainwf.FailureGuardRejected, From: "draft", Action: "submit"}, http.StatusConflict},
		{"stale order", approval.ErrConcurrencyConflict, http.StatusConflict},
		{"duplicate number", fmt.Errorf("%w: PO-0001", port.ErrDuplicateOrder), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.orders.err = tt.err

			w := ts.do(t, http.MethodPost, "/api/orders/po-1/transitions", TransitionOrderRequest{Action: "approve", ActorID: "buyer"})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
