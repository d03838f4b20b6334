// Package lark delivers workflow notifications as Lark (Feishu) IM text
// messages.
package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/trip-approval/internal/application/port"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

const defaultReceiveIDType = "open_id"

// Config identifies the bot application
type Config struct {
	AppID     string
	AppSecret string
	// BaseURL overrides the open platform domain, e.g. for Feishu
	BaseURL string
	// ReceiveIDType is how recipient ids are read: open_id, user_id or chat_id
	ReceiveIDType string
}

// messageAPI is the part of the IM service used here; tests replace it
type messageAPI interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// Messenger implements port.Notifier
type Messenger struct {
	api    messageAPI
	idType string
	logger *zap.Logger
}

var _ port.Notifier = (*Messenger)(nil)

// NewMessenger builds an SDK client with tenant token caching and wraps it
func NewMessenger(cfg Config, logger *zap.Logger) *Messenger {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelWarn),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	client := lark.NewClient(cfg.AppID, cfg.AppSecret, opts...)
	return newMessenger(client.Im.Message, cfg.ReceiveIDType, logger)
}

func newMessenger(api messageAPI, idType string, logger *zap.Logger) *Messenger {
	if idType == "" {
		idType = defaultReceiveIDType
	}
	return &Messenger{api: api, idType: idType, logger: logger}
}

// Send posts text to recipientID. A response with a non-zero code is an error.
func (m *Messenger) Send(ctx context.Context, recipientID, text string) error {
	switch {
	case recipientID == "":
		return fmt.Errorf("recipient id cannot be empty")
	case text == "":
		return fmt.Errorf("content cannot be empty")
	}

	body, err := textMessageBody(recipientID, text)
	if err != nil {
		return err
	}
	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.idType).
		Body(body).
		Build()

	resp, err := m.api.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", recipientID, err)
	}
	if !resp.Success() {
		m.logger.Info("Lark rejected message",
			zap.String("recipient", recipientID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark error code=%d: %s", resp.Code, resp.Msg)
	}

	if resp.Data != nil && resp.Data.MessageId != nil {
		m.logger.Debug("Lark message sent",
			zap.String("recipient", recipientID),
			zap.String("message_id", *resp.Data.MessageId))
	}
	return nil
}

// textMessageBody is the create-message payload for a plain text message
func textMessageBody(recipientID, text string) (*larkIm.CreateMessageReqBody, error) {
	content, err := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(recipientID).
		MsgType("text").
		Content(string(content)).
		Build(), nil
}
