package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// SubmitRequest asks for approval of an object against every matching policy
type SubmitRequest struct {
	ObjectType     string            `json:"object_type" binding:"required"`
	ObjectID       string            `json:"object_id" binding:"required"`
	ObjectData     map[string]any    `json:"object_data"`
	PreviousValues map[string]any    `json:"previous_values"`
	NewValues      map[string]any    `json:"new_values"`
	RequesterID    string            `json:"requester_id" binding:"required"`
	Metadata       map[string]string `json:"metadata"`
	Notes          string            `json:"notes"`
}

// CreateRequestRequest starts a request for one named policy
type CreateRequestRequest struct {
	PolicyID    string            `json:"policy_id" binding:"required"`
	ObjectType  string            `json:"object_type" binding:"required"`
	ObjectID    string            `json:"object_id" binding:"required"`
	ObjectData  map[string]any    `json:"object_data"`
	RequesterID string            `json:"requester_id" binding:"required"`
	Metadata    map[string]string `json:"metadata"`
	Notes       string            `json:"notes"`
}

// DecisionRequest is one approver's vote
type DecisionRequest struct {
	StepID          string   `json:"step_id" binding:"required"`
	ApproverID      string   `json:"approver_id" binding:"required"`
	Decision        string   `json:"decision" binding:"required"`
	Notes           string   `json:"notes"`
	Attachments     []string `json:"attachments"`
	ExpectedVersion int64    `json:"expected_version"`
}

// CancelRequest withdraws a request
type CancelRequest struct {
	ActorID         string `json:"actor_id" binding:"required"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

// ExpireRequest bounds one expiry scan
type ExpireRequest struct {
	Limit int `json:"limit"`
}

// DecisionResponse is the outcome of a vote
type DecisionResponse struct {
	Request        approval.Request      `json:"request"`
	Complete       bool                  `json:"complete"`
	FinalDecision  approval.DecisionKind `json:"final_decision,omitempty"`
	StepCompleted  bool                  `json:"step_completed"`
	ActivatedSteps []string              `json:"activated_steps,omitempty"`
}

// RequestListResponse is a page of requests with their summaries
type RequestListResponse struct {
	Requests  []*approval.Request `json:"requests"`
	Summaries []approval.Summary  `json:"summaries"`
	Count     int                 `json:"count"`
}

// ArchiveRequest selects the requests written to the report archive
type ArchiveRequest struct {
	Name string `json:"name"`
	RequestFilterQuery
}

// ListPolicies handles GET /api/policies
func (h *Handlers) ListPolicies(c *gin.Context) {
	ok(c, http.StatusOK, h.approvalService.Policies())
}

// CheckApproval handles POST /api/approvals/check
func (h *Handlers) CheckApproval(c *gin.Context) {
	var ec approval.EvaluationContext
	if !h.bind(c, &ec) {
		return
	}
	if ec.ObjectType == "" {
		h.fail(c, "check approval", errBadRequest("object_type is required"))
		return
	}
	ok(c, http.StatusOK, h.approvalService.CheckApproval(c.Request.Context(), ec))
}

// SubmitForApproval handles POST /api/approvals/submit
func (h *Handlers) SubmitForApproval(c *gin.Context) {
	var req SubmitRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.approvalService.Submit(c.Request.Context(), service.SubmitInput{
		ObjectType:     req.ObjectType,
		ObjectID:       req.ObjectID,
		ObjectData:     req.ObjectData,
		PreviousValues: req.PreviousValues,
		NewValues:      req.NewValues,
		Requester:      h.actor(req.RequesterID),
		Metadata:       req.Metadata,
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(c, "failed to submit for approval", err)
		return
	}

	status := http.StatusOK
	if len(result.Requests) > 0 {
		status = http.StatusCreated
	}
	ok(c, status, result)
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if !h.bind(c, &req) {
		return
	}

	created, err := h.approvalService.CreateRequest(c.Request.Context(), approval.CreateRequestInput{
		PolicyID:   req.PolicyID,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Requester:  h.actor(req.RequesterID),
		ObjectData: req.ObjectData,
		Metadata:   req.Metadata,
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(c, "failed to create request", err)
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListRequests handles GET /api/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q RequestFilterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, "list requests", errBadRequest("invalid query parameters"))
		return
	}
	filter, err := q.filter()
	if err != nil {
		h.fail(c, "list requests", err)
		return
	}

	requests, err := h.approvalService.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "failed to retrieve requests", err)
		return
	}

	resp := RequestListResponse{
		Requests:  make([]*approval.Request, 0, len(requests)),
		Summaries: make([]approval.Summary, 0, len(requests)),
	}
	for _, r := range requests {
		resp.Requests = append(resp.Requests, r)
		resp.Summaries = append(resp.Summaries, approval.Summarize(*r))
	}
	resp.Count = len(resp.Requests)
	ok(c, http.StatusOK, resp)
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.approvalService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get request", err)
		return
	}
	ok(c, http.StatusOK, req)
}

// Decide handles POST /api/requests/:id/decisions
func (h *Handlers) Decide(c *gin.Context) {
	var req DecisionRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.approvalService.Decide(c.Request.Context(), c.Param("id"), approval.DecisionInput{
		StepID:          req.StepID,
		Approver:        h.actor(req.ApproverID),
		Decision:        approval.DecisionKind(req.Decision),
		Notes:           req.Notes,
		Attachments:     req.Attachments,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, "failed to record decision", err)
		return
	}

	ok(c, http.StatusOK, DecisionResponse{
		Request:        result.Request,
		Complete:       result.Complete,
		FinalDecision:  result.FinalDecision,
		StepCompleted:  result.StepCompleted,
		ActivatedSteps: result.ActivatedSteps,
	})
}

// CancelRequest handles POST /api/requests/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	var req CancelRequest
	if !h.bind(c, &req) {
		return
	}

	cancelled, err := h.approvalService.Cancel(c.Request.Context(), c.Param("id"), approval.CancelInput{
		ActorID:         req.ActorID,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, "failed to cancel request", err)
		return
	}
	ok(c, http.StatusOK, cancelled)
}

// Capabilities handles GET /api/requests/:id/capabilities?actor_id=
func (h *Handlers) Capabilities(c *gin.Context) {
	actorID := c.Query("actor_id")
	if actorID == "" {
		h.fail(c, "capabilities", errBadRequest("actor_id is required"))
		return
	}

	caps, err := h.approvalService.Capabilities(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		h.fail(c, "failed to compute capabilities", err)
		return
	}
	ok(c, http.StatusOK, caps)
}

// ExpireOverdue handles POST /api/requests/expire
func (h *Handlers) ExpireOverdue(c *gin.Context) {
	var req ExpireRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	expired, err := h.approvalService.ExpireOverdue(c.Request.Context(), h.clock.Now(), req.Limit)
	if err != nil {
		h.fail(c, "failed to expire overdue requests", err)
		return
	}
	if expired == nil {
		expired = []*approval.Request{}
	}
	ok(c, http.StatusOK, expired)
}

// ExportRequests handles GET /api/reports/requests.xlsx
func (h *Handlers) ExportRequests(c *gin.Context) {
	var q RequestFilterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, "export requests", errBadRequest("invalid query parameters"))
		return
	}
	filter, err := q.filter()
	if err != nil {
		h.fail(c, "export requests", err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="requests.xlsx"`)
	if err := h.approvalService.Export(c.Request.Context(), c.Writer, filter); err != nil {
		if c.Writer.Written() {
			h.logger.Error("Export aborted mid-stream", "error", err)
			return
		}
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		h.fail(c, "failed to export requests", err)
	}
}

// ArchiveRequests handles POST /api/reports/archive
func (h *Handlers) ArchiveRequests(c *gin.Context) {
	var req ArchiveRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	filter, err := req.filter()
	if err != nil {
		h.fail(c, "archive requests", err)
		return
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("approvals-%s.xlsx", h.clock.Now().UTC().Format("20060102-150405"))
	}

	path, err := h.approvalService.Archive(c.Request.Context(), name, filter)
	if err != nil {
		h.fail(c, "failed to archive requests", err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"path": path})
}
