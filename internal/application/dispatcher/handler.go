package dispatcher

import (
	"context"

	"github.com/garyjia/trip-approval/internal/domain/event"
)

// Handler processes a committed workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo is a registered handler. EventType is empty for wildcard handlers.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
