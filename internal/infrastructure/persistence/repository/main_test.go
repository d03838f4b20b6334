package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/trip-approval/migrations"
	"github.com/garyjia/trip-approval/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestDB opens a migrated SQLite database in a temp dir
func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := database.NewMigrator(db, migrations.FS, logger)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))

	return sqlite.NewDB(db.DB, logger)
}
