package http

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeDirectory map[string]approval.Actor

func (d fakeDirectory) Actor(id string) (approval.Actor, bool) {
	a, ok := d[id]
	return a, ok
}

// fakeApprovals records the last inputs and returns canned results
type fakeApprovals struct {
	policies   []approval.Policy
	match      approval.MatchResult
	requests   map[string]*approval.Request
	err        error
	submitIn   service.SubmitInput
	createIn   approval.CreateRequestInput
	decideIn   approval.DecisionInput
	cancelIn   approval.CancelInput
	filter     port.RequestFilter
	expireAt   time.Time
	expireMax  int
	archiveAs  string
	exportBody string
}

func (f *fakeApprovals) Policies() []approval.Policy { return f.policies }

func (f *fakeApprovals) CheckApproval(ctx context.Context, ec approval.EvaluationContext) approval.MatchResult {
	return f.match
}

func (f *fakeApprovals) Submit(ctx context.Context, in service.SubmitInput) (*service.SubmitResult, error) {
	f.submitIn = in
	if f.err != nil {
		return nil, f.err
	}
	res := &service.SubmitResult{Match: f.match}
	for _, r := range f.requests {
		res.Requests = append(res.Requests, r)
	}
	return res, nil
}

func (f *fakeApprovals) CreateRequest(ctx context.Context, in approval.CreateRequestInput) (*approval.Request, error) {
	f.createIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &approval.Request{ID: "req-new", PolicyID: in.PolicyID, Requester: in.Requester, Status: approval.StatusInProgress, Version: 1}, nil
}

func (f *fakeApprovals) Decide(ctx context.Context, requestID string, in approval.DecisionInput) (*approval.DecisionResult, error) {
	f.decideIn = in
	if f.err != nil {
		return nil, f.err
	}
	req, err := f.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &approval.DecisionResult{Request: *req, Complete: true, FinalDecision: in.Decision, StepCompleted: true}, nil
}

func (f *fakeApprovals) Cancel(ctx context.Context, requestID string, in approval.CancelInput) (*approval.Request, error) {
	f.cancelIn = in
	if f.err != nil {
		return nil, f.err
	}
	req, err := f.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := *req
	out.Status = approval.StatusCancelled
	return &out, nil
}

func (f *fakeApprovals) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	f.expireAt = now
	f.expireMax = limit
	return nil, f.err
}

func (f *fakeApprovals) Capabilities(ctx context.Context, requestID, actorID string) (*approval.RequestCapabilities, error) {
	if _, err := f.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return &approval.RequestCapabilities{RequestID: requestID, ActorID: actorID, CanView: true, CanApprove: actorID == "mgr"}, nil
}

func (f *fakeApprovals) Get(ctx context.Context, id string) (*approval.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", approval.ErrRequestNotFound, id)
	}
	return req, nil
}

func (f *fakeApprovals) List(ctx context.Context, filter port.RequestFilter) ([]*approval.Request, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []*approval.Request
	for _, r := range f.requests {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeApprovals) Export(ctx context.Context, w io.Writer, filter port.RequestFilter) error {
	f.filter = filter
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.exportBody)
	return err
}

func (f *fakeApprovals) Archive(ctx context.Context, name string, filter port.RequestFilter) (string, error) {
	f.archiveAs = name
	f.filter = filter
	if f.err != nil {
		return "", f.err
	}
	return "reports/" + name, nil
}

// fakeOrders keeps orders in a map and applies Fire without a state machine
type fakeOrders struct {
	orders   map[string]*entity.PurchaseOrder
	err      error
	createIn service.CreateOrderInput
	reviseIn service.ReviseOrderInput
	actor    approval.Actor
	fired    entity.OrderAction
}

func (f *fakeOrders) get(id string) (*entity.PurchaseOrder, error) {
	po, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrOrderNotFound, id)
	}
	return po, nil
}

func (f *fakeOrders) Create(ctx context.Context, in service.CreateOrderInput) (*entity.PurchaseOrder, error) {
	f.createIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &entity.PurchaseOrder{ID: "po-1", RequesterID: in.RequesterID, Lines: in.Lines, State: entity.OrderDraft, Version: 1}, nil
}

func (f *fakeOrders) Get(ctx context.Context, id string) (*service.OrderDetail, error) {
	po, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return &service.OrderDetail{Order: po, History: []*entity.OrderHistory{}}, nil
}

func (f *fakeOrders) Submit(ctx context.Context, id string, requester approval.Actor) (*service.SubmitOrderResult, error) {
	f.actor = requester
	if f.err != nil {
		return nil, f.err
	}
	po, err := f.get(id)
	if err != nil {
		return nil, err
	}
	po.State = entity.OrderApproved
	return &service.SubmitOrderResult{Order: po}, nil
}

func (f *fakeOrders) Revise(ctx context.Context, id, actorID string, in service.ReviseOrderInput) (*entity.PurchaseOrder, error) {
	f.reviseIn = in
	if f.err != nil {
		return nil, f.err
	}
	return f.get(id)
}

func (f *fakeOrders) Fire(ctx context.Context, id string, action entity.OrderAction, actorID, reason string) (*entity.PurchaseOrder, error) {
	f.fired = action
	if f.err != nil {
		return nil, f.err
	}
	return f.get(id)
}

func (f *fakeOrders) AvailableActions(ctx context.Context, id, actorID string) ([]workflow.OrderAvailableAction, error) {
	if _, err := f.get(id); err != nil {
		return nil, err
	}
	return []workflow.OrderAvailableAction{
		{Action: entity.ActionPlace, To: entity.OrderOrdered, Enabled: true},
		{Action: entity.ActionCancel, To: entity.OrderCancelled, Enabled: true},
	}, nil
}
