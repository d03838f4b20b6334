package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DirectoryRepository implements port.DirectoryRepository
type DirectoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqlite.DB, logger *zap.Logger) port.DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// GetUser looks a user up by normalized id
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	var u entity.User
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT id, name, role, companies, cards FROM users WHERE id = ?`,
		entity.NormalizeID(id),
	).Scan(&u.ID, &u.Name, &u.Role, &u.Company, &u.Cards)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns users in directory order
func (r *DirectoryRepository) ListUsers(ctx context.Context) ([]*entity.User, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT id, name, role, companies, cards FROM users ORDER BY position`)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*entity.User{}
	for rows.Next() {
		var u entity.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Company, &u.Cards); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *DirectoryRepository) ListDepartments(ctx context.Context) ([]string, error) {
	return r.listNames(ctx, `SELECT name FROM departments ORDER BY position`)
}

func (r *DirectoryRepository) ListExpenseOptions(ctx context.Context) ([]string, error) {
	return r.listNames(ctx, `SELECT name FROM expense_options ORDER BY position`)
}

// ListPerDiemRates returns the rate table in directory order
func (r *DirectoryRepository) ListPerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT name, rate_short, rate_long FROM per_diem_rates ORDER BY position`)
	if err != nil {
		r.logger.Error("Failed to list per-diem rates", zap.Error(err))
		return nil, fmt.Errorf("failed to list per-diem rates: %w", err)
	}
	defer rows.Close()

	rates := []entity.PerDiemRate{}
	for rows.Next() {
		var rate entity.PerDiemRate
		if err := rows.Scan(&rate.Name, &rate.RateShort, &rate.RateLong); err != nil {
			return nil, fmt.Errorf("failed to scan per-diem rate: %w", err)
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// Replace swaps every reference table for the snapshot in one transaction
func (r *DirectoryRepository) Replace(ctx context.Context, dir *entity.Directory) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)
		for _, table := range []string{"users", "departments", "per_diem_rates", "expense_options"} {
			if _, err := exec.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for i, u := range dir.Users {
			_, err := exec.ExecContext(ctx,
				`INSERT INTO users (id, position, name, role, companies, cards) VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role,
				   companies = excluded.companies, cards = excluded.cards`,
				entity.NormalizeID(u.ID), i, u.Name, u.Role, u.Company, u.Cards)
			if err != nil {
				return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
			}
		}
		for i, name := range dir.Departments {
			if _, err := exec.ExecContext(ctx, `INSERT INTO departments (position, name) VALUES (?, ?)`, i, name); err != nil {
				return fmt.Errorf("failed to insert department: %w", err)
			}
		}
		for i, rate := range dir.Rates {
			_, err := exec.ExecContext(ctx,
				`INSERT INTO per_diem_rates (name, position, rate_short, rate_long) VALUES (?, ?, ?, ?)
				 ON CONFLICT(name) DO NOTHING`,
				rate.Name, i, rate.RateShort, rate.RateLong)
			if err != nil {
				return fmt.Errorf("failed to insert per-diem rate %s: %w", rate.Name, err)
			}
		}
		for i, name := range dir.ExpenseOptions {
			if _, err := exec.ExecContext(ctx, `INSERT INTO expense_options (position, name) VALUES (?, ?)`, i, name); err != nil {
				return fmt.Errorf("failed to insert expense option: %w", err)
			}
		}

		r.logger.Info("Directory replaced",
			zap.Int("users", len(dir.Users)),
			zap.Int("departments", len(dir.Departments)),
			zap.Int("rates", len(dir.Rates)),
			zap.Int("expense_options", len(dir.ExpenseOptions)))
		return nil
	})
}

func (r *DirectoryRepository) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list reference data", zap.Error(err))
		return nil, fmt.Errorf("failed to list reference data: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Verify interface compliance
var _ port.DirectoryRepository = (*DirectoryRepository)(nil)
