// Package dispatcher fans committed workflow events out to subscribers such
// as the NATS publisher.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/trip-approval/internal/domain/event"
)

// DefaultQueueSize bounds how many events may wait for the async worker
const DefaultQueueSize = 256

// ErrClosed is returned once the dispatcher has been closed
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler that receives every event type
	// after the type-specific handlers
	SubscribeAll(name string, handler Handler)

	// Dispatch runs every matching handler in order and joins their errors.
	// A failing handler does not stop the ones after it.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues evt for the background worker. Events are
	// delivered in the order they were queued.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Handlers returns the names of the handlers that would receive eventType
	Handlers(eventType event.Type) []string

	// Close stops accepting events and waits for the queue to drain
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type queued struct {
	ctx context.Context
	evt *event.Event
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	wildcard []HandlerInfo
	logger   Logger

	queueSize int
	queue     chan queued
	closed    bool
	done      chan struct{}
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithQueueSize sets how many async events may be pending
func WithQueueSize(n int) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// NewDispatcher creates a dispatcher and starts its async worker
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:  make(map[event.Type][]HandlerInfo),
		logger:    nopLogger{},
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan queued, d.queueSize)
	go d.run()
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.wildcard = append(d.wildcard, HandlerInfo{Name: name, Handler: handler})
	d.logger.Info("Wildcard handler registered", "handler_name", name)
}

// handlersFor returns a snapshot of the handlers that should receive eventType
func (d *eventDispatcher) handlersFor(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.handlers[eventType]
	out := make([]HandlerInfo, 0, len(specific)+len(d.wildcard))
	out = append(out, specific...)
	return append(out, d.wildcard...)
}

func (d *eventDispatcher) Handlers(eventType event.Type) []string {
	infos := d.handlersFor(eventType)
	names := make([]string, len(infos))
	for i, h := range infos {
		names[i] = h.Name
	}
	return names
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return d.deliver(ctx, evt)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error("Event dropped, dispatcher is closed",
			"event_type", evt.Type,
			"request_id", evt.RequestID)
		return
	}

	select {
	case d.queue <- queued{ctx: ctx, evt: evt}:
	default:
		d.logger.Error("Event dropped, queue is full",
			"event_type", evt.Type,
			"request_id", evt.RequestID,
			"queue_size", d.queueSize)
	}
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("Closing dispatcher, draining queue", "pending", len(d.queue))
	<-d.done
	d.logger.Info("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		if err := d.deliver(q.ctx, q.evt); err != nil {
			d.logger.Error("Async event delivery failed",
				"event_type", q.evt.Type,
				"event_id", q.evt.ID,
				"error", err)
		}
	}
}

// deliver runs every handler for evt and joins their errors
func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event) error {
	var errs []error
	for _, info := range d.handlersFor(evt.Type) {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("Handler panic recovered",
				"event_type", evt.Type,
				"handler_name", info.Name,
				"panic", r)
		}
	}()

	return info.Handler(ctx, evt)
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
