package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/finance"
)

// SubmitOrderRequest names the requester submitting an order
type SubmitOrderRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// ReviseOrderRequest replaces the commercial terms of an order
type ReviseOrderRequest struct {
	ActorID  string             `json:"actor_id" binding:"required"`
	VendorID string             `json:"vendor_id"`
	Lines    []finance.LineItem `json:"lines" binding:"required"`
	TaxRate  *float64           `json:"tax_rate"`
	Reason   string             `json:"reason"`
}

// TransitionOrderRequest fires a lifecycle action on an order
type TransitionOrderRequest struct {
	Action  string `json:"action" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
	Reason  string `json:"reason"`
}

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req service.CreateOrderInput
	if !h.bind(c, &req) {
		return
	}

	po, err := h.orderService.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "failed to create order", err)
		return
	}
	ok(c, http.StatusCreated, po)
}

// GetOrder handles GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	detail, err := h.orderService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to get order", err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// SubmitOrder handles POST /api/orders/:id/submit
func (h *Handlers) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.orderService.Submit(c.Request.Context(), c.Param("id"), h.actor(req.ActorID))
	if err != nil {
		h.fail(c, "failed to submit order", err)
		return
	}
	ok(c, http.StatusOK, result)
}

// ReviseOrder handles POST /api/orders/:id/revise
func (h *Handlers) ReviseOrder(c *gin.Context) {
	var req ReviseOrderRequest
	if !h.bind(c, &req) {
		return
	}

	po, err := h.orderService.Revise(c.Request.Context(), c.Param("id"), req.ActorID, service.ReviseOrderInput{
		VendorID: req.VendorID,
		Lines:    req.Lines,
		TaxRate:  req.TaxRate,
		Reason:   req.Reason,
	})
	if err != nil {
		h.fail(c, "failed to revise order", err)
		return
	}
	ok(c, http.StatusOK, po)
}

// TransitionOrder handles POST /api/orders/:id/transitions
func (h *Handlers) TransitionOrder(c *gin.Context) {
	var req TransitionOrderRequest
	if !h.bind(c, &req) {
		return
	}

	po, err := h.orderService.Fire(c.Request.Context(), c.Param("id"), entity.OrderAction(req.Action), req.ActorID, req.Reason)
	if err != nil {
		h.fail(c, "failed to transition order", err)
		return
	}
	ok(c, http.StatusOK, po)
}

// OrderActions handles GET /api/orders/:id/actions?actor_id=
func (h *Handlers) OrderActions(c *gin.Context) {
	actions, err := h.orderService.AvailableActions(c.Request.Context(), c.Param("id"), c.Query("actor_id"))
	if err != nil {
		h.fail(c, "failed to list order actions", err)
		return
	}
	ok(c, http.StatusOK, actions)
}
