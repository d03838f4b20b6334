package messaging

import (
	"context"

	"github.com/garyjia/trip-approval/internal/application/port"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log instead of delivering them.
// Used when no messaging channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, recipientID, text string) error {
	n.logger.Info("Notification",
		zap.String("recipient_id", recipientID),
		zap.String("text", text))
	return nil
}
