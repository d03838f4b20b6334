package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const expenseColumns = `
	id, req_id, user_id, user_name, created_at, name, amount, description,
	link, file_urls, status, approver, decided_at, company, submission_key`

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sqlite.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts the expenses in order
func (r *ExpenseRepository) CreateBatch(ctx context.Context, expenses []*entity.Expense) error {
	query := `
		INSERT INTO expenses (` + expenseColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	exec := r.db.Executor(ctx)
	for _, e := range expenses {
		_, err := exec.ExecContext(ctx, query,
			e.ID,
			e.ReqID,
			e.UserID,
			e.UserName,
			e.CreatedAt,
			e.Name,
			e.Amount,
			e.Description,
			e.Link,
			e.FileURLs,
			e.Status,
			e.Approver,
			nullTime(e.DecidedAt),
			e.Company,
			e.SubmissionKey,
		)
		if err != nil {
			r.logger.Error("Failed to create expense", zap.String("id", e.ID), zap.Error(err))
			return fmt.Errorf("failed to create expense %s: %w", e.ID, err)
		}
	}
	return nil
}

// GetByID retrieves an expense by ID
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	e, err := scanExpense(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// ListByRequest returns a request's expenses in submission order
func (r *ExpenseRepository) ListByRequest(ctx context.Context, reqID string) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE req_id = ? ORDER BY rowid`
	return r.list(ctx, query, reqID)
}

// ListByStatus returns expenses with the status in submission order
func (r *ExpenseRepository) ListByStatus(ctx context.Context, status string) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE status = ? ORDER BY rowid`
	return r.list(ctx, query, status)
}

// Decide records the decision and optionally replaces the amount
func (r *ExpenseRepository) Decide(ctx context.Context, id, status, approver string, decidedAt time.Time, amount *decimal.Decimal) error {
	var override interface{}
	if amount != nil {
		override = *amount
	}

	query := `
		UPDATE expenses
		SET status = ?, approver = ?, decided_at = ?, amount = COALESCE(?, amount)
		WHERE id = ?
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, status, approver, decidedAt, override, id)
	if err != nil {
		r.logger.Error("Failed to decide expense", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to decide expense: %w", err)
	}
	return requireAffected(result, "expense", id)
}

// SubmissionExists reports whether a batch with this key was already stored
func (r *ExpenseRepository) SubmissionExists(ctx context.Context, reqID, submissionKey string) (bool, error) {
	if submissionKey == "" {
		return false, nil
	}
	var n int
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expenses WHERE req_id = ? AND submission_key = ?`,
		reqID, submissionKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check submission: %w", err)
	}
	return n > 0, nil
}

// ListAll returns every expense in submission order
func (r *ExpenseRepository) ListAll(ctx context.Context) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses ORDER BY rowid`
	return r.list(ctx, query)
}

func (r *ExpenseRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Expense, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	expenses := []*entity.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}
	return expenses, nil
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var decidedAt sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.ReqID,
		&e.UserID,
		&e.UserName,
		&e.CreatedAt,
		&e.Name,
		&e.Amount,
		&e.Description,
		&e.Link,
		&e.FileURLs,
		&e.Status,
		&e.Approver,
		&decidedAt,
		&e.Company,
		&e.SubmissionKey,
	)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		e.DecidedAt = &decidedAt.Time
	}
	return &e, nil
}

// Verify interface compliance
var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
