// Package container provides dependency injection and lifecycle management
// for the trip approval service.
package container

import (
	"context"
	"fmt"

	"github.com/garyjia/trip-approval/internal/application/dispatcher"
	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/application/service"
	"github.com/garyjia/trip-approval/internal/config"
	"github.com/garyjia/trip-approval/internal/infrastructure/cache"
	infraLark "github.com/garyjia/trip-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/trip-approval/internal/infrastructure/idgen"
	"github.com/garyjia/trip-approval/internal/infrastructure/messaging"
	"github.com/garyjia/trip-approval/internal/infrastructure/metrics"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/trip-approval/internal/infrastructure/storage"
	"github.com/garyjia/trip-approval/internal/infrastructure/workbook"
	"github.com/garyjia/trip-approval/migrations"
	"github.com/garyjia/trip-approval/pkg/database"
	"github.com/garyjia/trip-approval/pkg/utils"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	Receipts port.ReceiptStore
	Uploader port.Uploader
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator, err := database.NewMigrator(db, migrations.FS, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on the transaction-aware DB.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests:  repository.NewRequestRepository(db, logger),
		Expenses:  repository.NewExpenseRepository(db, logger),
		Directory: repository.NewDirectoryRepository(db, logger),
	}, nil
}

// ProvideStorage creates the receipt store and its uploader.
func ProvideStorage(cfg *config.StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	receipts := storage.NewReceiptDir(cfg.BaseDir, cfg.Folder, logger)

	return &StorageBundle{
		Receipts: receipts,
		Uploader: storage.NewReceiptUploader(receipts, cfg.PublicBaseURL, logger),
	}, nil
}

// ProvideNATS connects to NATS when the configuration needs it.
// Returns nil when NATS is not used.
func ProvideNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	if !cfg.NATSEnabled() {
		return nil, nil
	}
	return messaging.Connect(messaging.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	}, logger)
}

// ProvideNotifier selects the message channel named by notifier.driver.
func ProvideNotifier(cfg *config.Config, conn *nats.Conn, logger *zap.Logger) (port.Notifier, error) {
	switch cfg.Notifier.Driver {
	case config.NotifierLark:
		return infraLark.NewMessenger(infraLark.Config{
			AppID:         cfg.Lark.AppID,
			AppSecret:     cfg.Lark.AppSecret,
			BaseURL:       cfg.Lark.BaseURL,
			ReceiveIDType: cfg.Lark.ReceiveIDType,
		}, logger), nil
	case config.NotifierNATS:
		if conn == nil {
			return nil, fmt.Errorf("nats notifier requires a connection")
		}
		return messaging.NewNotifier(conn, cfg.NATS.SubjectPrefix), nil
	case config.NotifierLog:
		return messaging.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Notifier.Driver)
	}
}

// ProvideDispatcher creates the domain event dispatcher and attaches the
// NATS publisher when events are forwarded.
func ProvideDispatcher(cfg *config.Config, conn *nats.Conn, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger)))

	if cfg.NATS.PublishEvents {
		if conn == nil {
			return nil, fmt.Errorf("event publishing requires a nats connection")
		}
		messaging.NewEventPublisher(conn, cfg.NATS.SubjectPrefix, logger).Register(disp)
	}
	return disp, nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Config     *config.Config
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Storage    *StorageBundle
	Notifier   port.Notifier
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	cfg := deps.Config
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	serviceLogger := utils.NewKVLogger(deps.Logger)

	ids, err := idgen.NewSnowflakeGenerator(cfg.IDs.NodeID)
	if err != nil {
		return nil, err
	}

	locks := lock.NewManager(
		lock.WithObserver(recorder),
		lock.WithLogger(serviceLogger),
	)

	reference := service.NewReferenceService(deps.Repos.Directory, cache.NewTTLCache(cfg.Cache.TTL), serviceLogger)
	notifications := service.NewNotificationService(deps.Notifier, deps.Repos.Directory, serviceLogger)

	shared := service.Deps{
		Requests:  deps.Repos.Requests,
		Expenses:  deps.Repos.Expenses,
		Directory: deps.Repos.Directory,
		Tx:        deps.TxManager,
		Locks:     locks,
		IDs:       ids,
		Events:    deps.Dispatcher,
		Metrics:   recorder,
		Timeouts: service.LockTimeouts{
			Quick: cfg.Locks.QuickTimeout,
			Long:  cfg.Locks.LongTimeout,
		},
		Logger: serviceLogger,
	}

	return &ServiceBundle{
		Requests:      service.NewRequestService(shared, reference, notifications),
		Expenses:      service.NewExpenseService(shared, deps.Storage.Uploader, notifications),
		Queries:       service.NewQueryService(deps.Repos.Requests, deps.Repos.Expenses, deps.Repos.Directory, serviceLogger),
		Reference:     reference,
		Notifications: notifications,
		Locks:         locks,
	}, nil
}

// ProvideWorkbook creates the spreadsheet exporter and importer.
func ProvideWorkbook(cfg *config.WorkbookConfig, repos *RepositoryBundle, tx port.TransactionManager, logger *zap.Logger) (*WorkbookBundle, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid workbook timezone: %w", err)
	}
	return &WorkbookBundle{
		Exporter: workbook.NewExporter(repos.Requests, repos.Expenses, repos.Directory, logger),
		Importer: workbook.NewImporter(repos.Requests, repos.Expenses, repos.Directory, tx, logger, workbook.WithLocation(loc)),
	}, nil
}
