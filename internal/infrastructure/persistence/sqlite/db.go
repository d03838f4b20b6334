// Package sqlite carries the active transaction through context so that
// repositories join whatever unit of work the service opened.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type txKey struct{}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is the transaction manager shared by all repositories
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB wraps an opened connection pool
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// Executor returns the transaction carried by ctx, or the pool itself
func (db *DB) Executor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.DB
}

// WithTransaction runs fn in a transaction. A call made inside fn joins the
// outer transaction instead of opening a new one; only the outermost call
// commits. SQLite lock contention comes back as apperr.ErrBusy.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(txKey{}).(*sql.Tx); nested {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return db.classify("begin", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		if p := recover(); p != nil {
			db.logger.Error("Transaction rolled back after panic", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	done = true
	if err := tx.Commit(); err != nil {
		return db.classify("commit", err)
	}
	return nil
}

func (db *DB) classify(step string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		db.logger.Info("Database busy", zap.String("step", step), zap.Error(err))
		return &apperr.Error{Kind: apperr.ErrBusy, Message: "database busy, try again", Cause: err}
	}
	db.logger.Error("Transaction failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("failed to %s transaction: %w", step, err)
}

var _ port.TransactionManager = (*DB)(nil)
