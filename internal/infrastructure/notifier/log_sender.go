package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
)

// LogSender writes notifications to the log. Used when Lark is disabled.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notifications")}
}

// Send implements port.NotificationSender
func (s *LogSender) Send(ctx context.Context, n port.Notification) error {
	s.logger.Info(n.Title,
		zap.String("recipient_id", n.Recipient.ID),
		zap.String("recipient_email", n.Recipient.Email),
		zap.String("request_id", n.RequestID),
		zap.String("body", n.Body))
	return nil
}

var _ port.NotificationSender = (*LogSender)(nil)
