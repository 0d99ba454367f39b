package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/event"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type mockLogger struct{}

func (mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) Generate(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type mockRequestRepo struct {
	mu        sync.Mutex
	requests  map[string]*approval.Request
	order     []string
	createErr error
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[string]*approval.Request)}
}

func (m *mockRequestRepo) Create(ctx context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *req
	m.requests[req.ID] = &cp
	m.order = append(m.order, req.ID)
	return nil
}

func (m *mockRequestRepo) Update(ctx context.Context, req *approval.Request, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrRequestNotFound, req.ID)
	}
	if stored.Version != expectedVersion {
		return approval.ErrConcurrencyConflict
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", approval.ErrRequestNotFound, id)
	}
	cp := *req
	return &cp, nil
}

func (m *mockRequestRepo) List(ctx context.Context, filter port.RequestFilter) ([]*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*approval.Request
	for _, id := range m.order {
		req := m.requests[id]
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.ObjectID != "" && req.ObjectID != filter.ObjectID {
			continue
		}
		if filter.RequesterID != "" && req.Requester.ID != filter.RequesterID {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRequestRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*approval.Request
	for _, id := range m.order {
		req := m.requests[id]
		if req.Status.IsTerminal() || req.ExpiresAt == nil || req.ExpiresAt.After(now) {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// bump simulates a concurrent writer
func (m *mockRequestRepo) bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[id].Version++
}

type mockOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*entity.PurchaseOrder
	history []*entity.OrderHistory
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*entity.PurchaseOrder)}
}

func (m *mockOrderRepo) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *po
	m.orders[po.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *po
	return &cp, nil
}

func (m *mockOrderRepo) Update(ctx context.Context, po *entity.PurchaseOrder, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[po.ID]
	if !ok || stored.Version != expectedVersion {
		return approval.ErrConcurrencyConflict
	}
	cp := *po
	m.orders[po.ID] = &cp
	return nil
}

func (m *mockOrderRepo) AppendHistory(ctx context.Context, h *entity.OrderHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = int64(len(m.history) + 1)
	m.history = append(m.history, h)
	return nil
}

func (m *mockOrderRepo) GetHistory(ctx context.Context, orderID string) ([]*entity.OrderHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.OrderHistory
	for _, h := range m.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

// mockTxManager runs fn inline. commitErr fails the outermost transaction
// after fn succeeds.
type mockTxManager struct {
	calls     int
	depth     int
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	m.depth++
	err := fn(ctx)
	m.depth--
	if err == nil && m.depth == 0 {
		return m.commitErr
	}
	return err
}

// syncDispatcher records events and runs subscribed handlers inline
type syncDispatcher struct {
	mu       sync.Mutex
	events   []*event.Event
	handlers map[event.Type][]dispatcher.HandlerInfo
	errs     []error
}

func newSyncDispatcher() *syncDispatcher {
	return &syncDispatcher{handlers: make(map[event.Type][]dispatcher.HandlerInfo)}
}

func (d *syncDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {
	d.SubscribeNamed(eventType, "", "", handler)
}

func (d *syncDispatcher) SubscribeNamed(eventType event.Type, name, description string, handler dispatcher.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], dispatcher.HandlerInfo{
		Name:        name,
		EventType:   eventType,
		Handler:     handler,
		Description: description,
	})
}

func (d *syncDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (d *syncDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.Lock()
	d.events = append(d.events, evt)
	handlers := append([]dispatcher.HandlerInfo(nil), d.handlers[evt.Type]...)
	d.mu.Unlock()

	for _, h := range handlers {
		if err := h.Handler(ctx, evt); err != nil {
			d.mu.Lock()
			d.errs = append(d.errs, err)
			d.mu.Unlock()
		}
	}
	return nil
}

func (d *syncDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = d.Dispatch(ctx, evt)
}

func (d *syncDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.HandlerInfo(nil), d.handlers[eventType]...)
}

func (d *syncDispatcher) Close() error { return nil }

func (d *syncDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

func (d *syncDispatcher) last(t event.Type) *event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.events) - 1; i >= 0; i-- {
		if d.events[i].Type == t {
			return d.events[i]
		}
	}
	return nil
}

type mockSender struct {
	mu   sync.Mutex
	sent []port.Notification
	fail map[string]error
}

func (m *mockSender) Send(ctx context.Context, n port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[n.Recipient.ID]; ok {
		return err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockSender) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, n := range m.sent {
		out[i] = n.Recipient.ID
	}
	sort.Strings(out)
	return out
}

type mockMetrics struct {
	created   []string
	decisions []approval.DecisionKind
	completed []approval.RequestStatus
	conflicts int
}

func (m *mockMetrics) RequestCreated(policyID string) { m.created = append(m.created, policyID) }

func (m *mockMetrics) DecisionRecorded(d approval.DecisionKind) {
	m.decisions = append(m.decisions, d)
}

func (m *mockMetrics) RequestCompleted(s approval.RequestStatus, took time.Duration) {
	m.completed = append(m.completed, s)
}

func (m *mockMetrics) ConcurrencyConflict() { m.conflicts++ }

type mockExporter struct{}

func (mockExporter) Export(w io.Writer, requests []*approval.Request) error {
	_, err := fmt.Fprintf(w, "requests:%d", len(requests))
	return err
}

type mockReportStore struct {
	saved map[string][]byte
}

func (m *mockReportStore) Save(ctx context.Context, name string, content []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = content
	return "reports/" + name, nil
}

func (m *mockReportStore) Read(ctx context.Context, name string) ([]byte, error) {
	content, ok := m.saved[name]
	if !ok {
		return nil, fmt.Errorf("report %s not found", name)
	}
	return content, nil
}

// Fixtures

var testNow = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func testPolicies() []approval.Policy {
	return []approval.Policy{
		{
			ID:         "PO_OVER_10K",
			Name:       "Purchase orders over 10k",
			ObjectType: entity.ObjectTypePurchaseOrder,
			Priority:   10,
			Active:     true,
			Triggers: []approval.TriggerCondition{
				approval.ThresholdCondition{Field: "grandTotal", Operator: approval.OpGreater, Value: 10000},
				approval.ThresholdCondition{Field: "costDelta.percentage", Operator: approval.OpGreater, Value: 10},
			},
			Workflow: approval.Workflow{
				ID:        "wf-over-10k",
				Execution: approval.ExecutionSequential,
				Steps: []approval.ApprovalStep{
					{ID: "manager", Name: "Manager", Approvers: approval.ApproverSelector{Type: approval.ApproverUser, Users: []string{"mgr"}}, Required: approval.RequireAny()},
					{ID: "finance", Name: "Finance", Approvers: approval.ApproverSelector{Type: approval.ApproverRole, Role: "finance"}, Required: approval.RequireAny()},
				},
				Timeout:       &approval.Timeout{Duration: 2, Unit: approval.UnitDays},
				TimeoutAction: approval.TimeoutExpire,
			},
		},
		{
			ID:         "CAPEX",
			Name:       "Capital expenditure",
			ObjectType: entity.ObjectTypePurchaseOrder,
			Priority:   20,
			Active:     true,
			Triggers:   []approval.TriggerCondition{approval.CategoryCondition{Categories: []string{"capex"}}},
			Workflow: approval.Workflow{
				ID:        "wf-capex",
				Execution: approval.ExecutionSequential,
				Steps: []approval.ApprovalStep{
					{ID: "cfo", Name: "CFO", Approvers: approval.ApproverSelector{Type: approval.ApproverUser, Users: []string{"cfo"}}, Required: approval.RequireAll()},
				},
				Timeout:       &approval.Timeout{Duration: 1, Unit: approval.UnitDays},
				TimeoutAction: approval.TimeoutReject,
			},
		},
	}
}

func testResolver() approval.ApproverResolver {
	roles := map[string][]string{"finance": {"fin1", "fin2"}}
	return func(ctx context.Context, sel approval.ApproverSelector, rc approval.ResolveContext) ([]approval.Actor, error) {
		var ids []string
		switch sel.Type {
		case approval.ApproverUser:
			ids = sel.Users
		case approval.ApproverRole:
			ids = roles[sel.Role]
		}
		actors := make([]approval.Actor, len(ids))
		for i, id := range ids {
			actors[i] = approval.Actor{ID: id, Name: "User " + id}
		}
		return actors, nil
	}
}

type approvalFixture struct {
	clock   *fixedClock
	repo    *mockRequestRepo
	tx      *mockTxManager
	disp    *syncDispatcher
	metrics *mockMetrics
	reports *mockReportStore
	svc     ApprovalService
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	f := &approvalFixture{
		clock:   &fixedClock{now: testNow},
		repo:    newMockRequestRepo(),
		tx:      &mockTxManager{},
		disp:    newSyncDispatcher(),
		metrics: &mockMetrics{},
		reports: &mockReportStore{},
	}
	policies := testPolicies()
	engine, err := approval.NewEngine(policies, approval.EngineOptions{IDs: &seqIDs{}, Clock: f.clock})
	require.NoError(t, err)

	f.svc = NewApprovalService(engine, approval.NewMatcher(policies), f.repo, f.tx, testResolver(), mockLogger{},
		WithEventDispatcher(f.disp),
		WithMetrics(f.metrics),
		WithExporter(mockExporter{}, f.reports),
	)
	return f
}

func orderData(grandTotal float64, category string) map[string]any {
	return map[string]any{"grandTotal": grandTotal, "category": category, "status": "submitted"}
}
