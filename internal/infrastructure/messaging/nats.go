package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/trip-approval/internal/application/dispatcher"
	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/event"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect opens a NATS connection that logs disconnects and reconnects
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// publisher is the part of *nats.Conn used here
type publisher interface {
	Publish(subject string, data []byte) error
}

// EventPublisher forwards committed domain events to NATS subjects
// named <prefix>.<event type>
type EventPublisher struct {
	conn   publisher
	prefix string
	logger *zap.Logger
}

// NewEventPublisher creates a publisher for conn
func NewEventPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *EventPublisher {
	return newEventPublisher(conn, prefix, logger)
}

func newEventPublisher(conn publisher, prefix string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Register subscribes the publisher to every event of d
func (p *EventPublisher) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll("nats-publisher", p.Handle)
}

// Handle is a dispatcher.Handler that publishes evt
func (p *EventPublisher) Handle(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := evt.Subject(p.prefix)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Notification is the message body published by Notifier
type Notification struct {
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// Notifier implements port.Notifier by publishing to <prefix>.notify,
// leaving delivery to whichever chat bridge consumes the subject
type Notifier struct {
	conn    publisher
	subject string
	now     func() time.Time
}

var _ port.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier publishing on conn
func NewNotifier(conn *nats.Conn, prefix string) *Notifier {
	return newNotifier(conn, prefix)
}

func newNotifier(conn publisher, prefix string) *Notifier {
	subject := "notify"
	if prefix != "" {
		subject = prefix + "." + subject
	}
	return &Notifier{conn: conn, subject: subject, now: time.Now}
}

// Send publishes the message for recipientID
func (n *Notifier) Send(ctx context.Context, recipientID, text string) error {
	if recipientID == "" {
		return fmt.Errorf("recipient id cannot be empty")
	}

	data, err := json.Marshal(Notification{RecipientID: recipientID, Text: text, SentAt: n.now()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}
