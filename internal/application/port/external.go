package port

import (
	"context"
	"io"
	"time"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// Notification is a message to one participant of an approval
type Notification struct {
	Recipient approval.Actor
	Title     string
	Body      string
	RequestID string
}

// NotificationSender delivers notifications (Lark, log, ...)
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// RequestExporter renders requests and their audit logs as a spreadsheet
type RequestExporter interface {
	Export(w io.Writer, requests []*approval.Request) error
}

// ApprovalMetrics records approval activity
type ApprovalMetrics interface {
	RequestCreated(policyID string)
	DecisionRecorded(decision approval.DecisionKind)
	RequestCompleted(status approval.RequestStatus, took time.Duration)
	ConcurrencyConflict()
}
