package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
	"github.com/garyjia/procurement-approval/internal/domain/event"
)

// NotificationService tells approval participants what needs their attention
type NotificationService interface {
	// Register subscribes the service to approval events
	Register(d dispatcher.Dispatcher)
	NotifyStepActivated(ctx context.Context, requestID, stepID string, approverIDs ...string) error
	NotifyOutcome(ctx context.Context, requestID string) error
}

type notificationServiceImpl struct {
	repo   port.RequestRepository
	sender port.NotificationSender
	logger Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	repo port.RequestRepository,
	sender port.NotificationSender,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		repo:   repo,
		sender: sender,
		logger: logger,
	}
}

// Register subscribes to step activation and request completion
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeApprovalStepActivated, "notify-approvers",
		"Tell the approvers of a newly active step", func(ctx context.Context, evt *event.Event) error {
			return s.NotifyStepActivated(ctx, evt.AggregateID, evt.GetPayloadString("step_id"),
				evt.GetPayloadStrings("approver_ids")...)
		})

	outcome := func(ctx context.Context, evt *event.Event) error {
		return s.NotifyOutcome(ctx, evt.AggregateID)
	}
	d.SubscribeNamed(event.TypeApprovalCompleted, "notify-requester-completed",
		"Tell the requester the request was decided", outcome)
	d.SubscribeNamed(event.TypeApprovalCancelled, "notify-requester-cancelled",
		"Confirm a cancellation to the requester", outcome)
	d.SubscribeNamed(event.TypeApprovalExpired, "notify-requester-expired",
		"Tell the requester the request timed out", outcome)
}

// NotifyStepActivated sends a review request to every approver of the step
// who has not answered yet. approverIDs, when given, narrows the recipients to
// the approvers named by the activation event.
func (s *notificationServiceImpl) NotifyStepActivated(ctx context.Context, requestID, stepID string, approverIDs ...string) error {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		s.logger.Error("Failed to get request", "error", err, "request_id", requestID)
		return fmt.Errorf("get request: %w", err)
	}
	idx := req.StepByID(stepID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", approval.ErrStepNotFound, stepID)
	}
	step := req.Steps[idx]
	if step.Status != approval.StepActive {
		return nil
	}

	title := fmt.Sprintf("Approval needed: %s", step.Name)
	body := fmt.Sprintf(
		"%s requests approval of %s %s.\nStep: %s (%d of %d approvals required)\nRequest: %s",
		displayName(req.Requester), req.ObjectType, req.ObjectID,
		step.Name, step.RequiredApprovals, len(step.AssignedApprovers), req.ID,
	)
	if req.ExpiresAt != nil {
		body += fmt.Sprintf("\nDue: %s", req.ExpiresAt.Format("2006-01-02 15:04 MST"))
	}

	only := make(map[string]bool, len(approverIDs))
	for _, id := range approverIDs {
		only[id] = true
	}

	var errs []error
	sent := 0
	for _, a := range step.AssignedApprovers {
		if a.HasResponded || (len(only) > 0 && !only[a.Actor.ID]) {
			continue
		}
		n := port.Notification{Recipient: a.Actor, Title: title, Body: body, RequestID: req.ID}
		if err := s.sender.Send(ctx, n); err != nil {
			s.logger.Error("Failed to notify approver", "error", err, "request_id", req.ID, "approver_id", a.Actor.ID)
			errs = append(errs, fmt.Errorf("notify %s: %w", a.Actor.ID, err))
			continue
		}
		sent++
	}

	s.logger.Info("Approvers notified", "request_id", req.ID, "step_id", stepID, "sent", sent)
	return errors.Join(errs...)
}

// NotifyOutcome tells the requester how the request ended
func (s *notificationServiceImpl) NotifyOutcome(ctx context.Context, requestID string) error {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		s.logger.Error("Failed to get request", "error", err, "request_id", requestID)
		return fmt.Errorf("get request: %w", err)
	}
	if !req.Status.IsTerminal() {
		return nil
	}

	n := port.Notification{
		Recipient: req.Requester,
		Title:     fmt.Sprintf("Approval %s: %s %s", req.Status, req.ObjectType, req.ObjectID),
		Body:      outcomeBody(req),
		RequestID: req.ID,
	}
	if err := s.sender.Send(ctx, n); err != nil {
		s.logger.Error("Failed to notify requester", "error", err, "request_id", req.ID)
		return fmt.Errorf("send message: %w", err)
	}

	s.logger.Info("Requester notified", "request_id", req.ID, "status", req.Status)
	return nil
}

func outcomeBody(req *approval.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your request %s for %s %s is %s.", req.ID, req.ObjectType, req.ObjectID, req.Status)
	if req.FinalNotes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", req.FinalNotes)
	}
	for _, step := range req.Steps {
		fmt.Fprintf(&b, "\n- %s: %s", step.Name, step.Status)
		for _, d := range step.Decisions {
			fmt.Fprintf(&b, "\n    %s %s", displayName(d.Approver), d.Decision)
			if d.Notes != "" {
				fmt.Fprintf(&b, " (%s)", d.Notes)
			}
		}
	}
	return b.String()
}

func displayName(a approval.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
