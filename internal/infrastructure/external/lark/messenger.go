package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/approval"
)

// messageCreator is the slice of the IM API the messenger uses
type messageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// Messenger delivers approval notifications as Lark text messages
type Messenger struct {
	api    messageCreator
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender
func NewMessenger(client *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		api:    client.GetClient().Im.Message,
		logger: logger,
	}
}

// Send implements port.NotificationSender
func (m *Messenger) Send(ctx context.Context, n port.Notification) error {
	idType, id := receiver(n.Recipient)
	if id == "" {
		return fmt.Errorf("recipient has no lark id")
	}

	content, err := json.Marshal(map[string]string{"text": n.Title + "\n" + n.Body})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(id).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := m.api.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", id),
			zap.String("request_id", n.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", id),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", id),
		zap.String("request_id", n.RequestID))

	return nil
}

// receiver addresses users by email when known, otherwise by their Lark user id
func receiver(a approval.Actor) (idType, id string) {
	if a.Email != "" {
		return "email", a.Email
	}
	return "user_id", a.ID
}

var _ port.NotificationSender = (*Messenger)(nil)
