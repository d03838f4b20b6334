package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrator applies the embedded goose migrations
type Migrator struct {
	provider *goose.Provider
	logger   *zap.Logger
}

// NewMigrator creates a migrator over the given migration files
func NewMigrator(db *DB, migrations fs.FS, logger *zap.Logger) (*Migrator, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return &Migrator{
		provider: provider,
		logger:   logger,
	}, nil
}

// Up applies every pending migration
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("Starting database migrations")

	results, err := m.provider.Up(ctx)
	for _, r := range results {
		if r.Source == nil {
			continue
		}
		m.logger.Info("Applied migration",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("duration", r.Duration))
	}
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	m.logger.Info("Database migrations completed successfully", zap.Int("applied", len(results)))
	return nil
}

// DownTo rolls back to the given version; zero removes the whole schema
func (m *Migrator) DownTo(ctx context.Context, version int64) error {
	results, err := m.provider.DownTo(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	m.logger.Info("Database migrations rolled back", zap.Int64("version", version), zap.Int("reverted", len(results)))
	return nil
}

// Version returns the current schema version
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
