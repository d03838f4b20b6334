package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/trip-approval/internal/application/dispatcher"
	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/application/service"
	"github.com/garyjia/trip-approval/internal/config"
	"github.com/garyjia/trip-approval/internal/infrastructure/metrics"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/trip-approval/internal/infrastructure/workbook"
	"github.com/garyjia/trip-approval/pkg/database"
	"github.com/garyjia/trip-approval/pkg/utils"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type lifecycle int

const (
	created lifecycle = iota
	running
	stopped
)

// Container holds every component built from one configuration.
// Start builds them in dependency order; Close releases them in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	database     *database.DB
	tx           *sqlite.DB
	repositories *RepositoryBundle
	storage      *StorageBundle
	natsConn     *nats.Conn
	notifier     port.Notifier
	metrics      *metrics.Recorder
	dispatcher   dispatcher.Dispatcher
	services     *ServiceBundle
	workbook     *WorkbookBundle

	// closers run last-in first-out on Close
	closers []namedCloser

	mu    sync.Mutex
	state lifecycle
}

type namedCloser struct {
	name  string
	close func() error
}

// RepositoryBundle groups the repositories.
type RepositoryBundle struct {
	Requests  port.RequestRepository
	Expenses  port.ExpenseRepository
	Directory port.DirectoryRepository
}

// ServiceBundle groups the application services.
type ServiceBundle struct {
	Requests      service.RequestService
	Expenses      service.ExpenseService
	Queries       service.QueryService
	Reference     service.ReferenceService
	Notifications service.NotificationService
	Locks         *lock.Manager
}

// WorkbookBundle groups spreadsheet import and export.
type WorkbookBundle struct {
	Exporter *workbook.Exporter
	Importer *workbook.Importer
}

// HealthStatus is the /health body
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("config is required")
	case logger == nil:
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start builds the database, storage and messaging layers first, then the
// dispatcher, services and workbook on top of them. On failure whatever was
// already opened is released.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case running:
		return fmt.Errorf("container already started")
	case stopped:
		return fmt.Errorf("container has been closed")
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"database", c.startDatabase},
		{"storage", c.startStorage},
		{"messaging", c.startMessaging},
		{"dispatcher", c.startDispatcher},
		{"services", c.startServices},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			c.release()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Component ready", zap.String("component", step.name))
	}

	c.state = running
	c.logger.Info("Container started", zap.String("notifier", c.config.Notifier.Driver))
	return nil
}

// Close drains the dispatcher before the connections its handlers use.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stopped {
		return fmt.Errorf("container already closed")
	}
	c.state = stopped

	if err := c.release(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

func (c *Container) release() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) startDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database, c.tx = bundle.DB, bundle.TransactionMgr
	c.onClose("database", c.database.Close)

	c.repositories, err = ProvideRepositories(c.tx, c.logger)
	return err
}

func (c *Container) startStorage(context.Context) error {
	bundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.storage = bundle
	return nil
}

func (c *Container) startMessaging(context.Context) error {
	conn, err := ProvideNATS(c.config, c.logger)
	if err != nil {
		return err
	}
	if conn != nil {
		c.natsConn = conn
		c.onClose("nats", func() error {
			defer conn.Close()
			return conn.Drain()
		})
	}

	c.notifier, err = ProvideNotifier(c.config, conn, c.logger)
	return err
}

func (c *Container) startDispatcher(context.Context) error {
	c.metrics = metrics.NewRecorder()

	disp, err := ProvideDispatcher(c.config, c.natsConn, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.onClose("dispatcher", disp.Close)
	return nil
}

func (c *Container) startServices(context.Context) error {
	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		TxManager:  c.tx,
		Storage:    c.storage,
		Notifier:   c.notifier,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	c.workbook, err = ProvideWorkbook(&c.config.Workbook, c.repositories, c.tx, c.logger)
	return err
}

func (c *Container) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == running
}

// Health pings the database and reports NATS and lock state
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Overall: true, Components: map[string]ComponentHealth{}}
	report := func(name string, err error, info string) {
		h := ComponentHealth{Healthy: err == nil, Message: info}
		if err != nil {
			h.Message = err.Error()
			status.Overall = false
		}
		status.Components[name] = h
	}

	if c.database == nil {
		report("database", errors.New("not initialized"), "")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.database.Healthy(pingCtx); err != nil {
			report("database", fmt.Errorf("ping failed: %w", err), "")
		} else {
			report("database", nil, "")
		}
	}

	if c.config.NATSEnabled() {
		if c.natsConn == nil || !c.natsConn.IsConnected() {
			report("nats", errors.New("not connected"), "")
		} else {
			report("nats", nil, c.natsConn.ConnectedUrlRedacted())
		}
	}

	if c.services != nil {
		report("locks", nil, fmt.Sprintf("record locks held: %d", c.services.Locks.HeldRecords()))
	}
	return status
}

func (c *Container) Services() *ServiceBundle {
	return c.services
}

func (c *Container) Workbook() *WorkbookBundle {
	return c.workbook
}

func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// ServiceLogger is the key-value logger used by services and the HTTP layer
func (c *Container) ServiceLogger() service.Logger {
	return utils.NewKVLogger(c.logger)
}
