package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	approvalService service.ApprovalService
	orderService    service.OrderService
	directory       ActorDirectory
	checks          map[string]HealthCheck
	clock           domainwf.Clock
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	approvalService service.ApprovalService,
	orderService service.OrderService,
	directory ActorDirectory,
	logger Logger,
) *Handlers {
	return &Handlers{
		approvalService: approvalService,
		orderService:    orderService,
		directory:       directory,
		checks:          make(map[string]HealthCheck),
		clock:           domainwf.SystemClock,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// RequestFilterQuery represents query parameters for listing requests
type RequestFilterQuery struct {
	Status      string `form:"status" json:"status"`
	ObjectID    string `form:"object_id" json:"object_id"`
	ApproverID  string `form:"approver_id" json:"approver_id"`
	RequesterID string `form:"requester_id" json:"requester_id"`
	Limit       int    `form:"limit" json:"limit"`
	Offset      int    `form:"offset" json:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	for _, name := range names {
		if response.Components == nil {
			response.Components = make(map[string]string, len(names))
		}
		if err := h.checks[name](c.Request.Context()); err != nil {
			response.Components[name] = err.Error()
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Components[name] = "ok"
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// actor resolves a user id through the directory. Unknown ids are passed on
// bare so the engine can reject them by membership.
func (h *Handlers) actor(id string) approval.Actor {
	if h.directory != nil {
		if a, ok := h.directory.Actor(id); ok {
			return a
		}
	}
	return approval.Actor{ID: id}
}

// filter converts the query into a repository filter, validating the status
func (q RequestFilterQuery) filter() (port.RequestFilter, error) {
	f := port.RequestFilter{
		Status:      approval.RequestStatus(q.Status),
		ObjectID:    q.ObjectID,
		ApproverID:  q.ApproverID,
		RequesterID: q.RequesterID,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if f.Status != "" && !f.Status.IsValid() {
		return f, errBadRequest("unknown status " + q.Status)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

// badRequest is a validation failure detected by the handler itself
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func errBadRequest(msg string) error { return badRequest{msg: msg} }

// statusFor maps application errors onto HTTP status codes
func statusFor(err error) int {
	var br badRequest
	var te *domainwf.TransitionError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrPolicyNotFound),
		errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, approval.ErrStepNotFound),
		errors.Is(err, workflow.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrNotAnApprover),
		errors.Is(err, approval.ErrNotRequester):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrConcurrencyConflict),
		errors.Is(err, approval.ErrStepNotActive),
		errors.Is(err, approval.ErrRequestNotActive),
		errors.Is(err, approval.ErrDuplicateDecision),
		errors.Is(err, approval.ErrNotExpired),
		errors.Is(err, port.ErrDuplicateOrder),
		errors.As(err, &te):
		return http.StatusConflict
	case errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, approval.ErrObjectTypeMismatch),
		errors.Is(err, approval.ErrNoApprovers),
		errors.Is(err, approval.ErrUnreachableQuorum),
		errors.Is(err, approval.ErrInvalidPolicy),
		errors.Is(err, service.ErrInvalidOrder),
		errors.Is(err, service.ErrManagedAction):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes the error envelope. Server-side failures hide the error text.
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	text := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
		text = msg
	}
	c.JSON(status, Response{
		Success: false,
		Error:   text,
	})
}

// bind decodes a JSON body, reporting failures as 400
func (h *Handlers) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}
