package port

import (
	"context"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// RequestRepository defines persistence operations for TripRequest.
// GetByID returns (nil, nil) when the request does not exist.
type RequestRepository interface {
	// Create inserts the request together with its initial log entries
	Create(ctx context.Context, req *entity.TripRequest) error
	GetByID(ctx context.Context, id string) (*entity.TripRequest, error)
	// Update rewrites the mutable columns; the log is untouched
	Update(ctx context.Context, req *entity.TripRequest) error
	// AppendLog adds entries to the end of the request's log
	AppendLog(ctx context.Context, id string, entries ...auditlog.Entry) error
	// SetAdditionalItems stores the approved-expense aggregate
	SetAdditionalItems(ctx context.Context, id string, items []entity.ApprovedItem, total decimal.Decimal, at time.Time) error
	// ListRecent returns up to limit most recently created requests, newest first
	ListRecent(ctx context.Context, limit int) ([]*entity.TripRequest, error)
	// ListByStatuses returns requests in any of the statuses, newest first
	ListByStatuses(ctx context.Context, statuses []string) ([]*entity.TripRequest, error)
	// GetByIDs returns the requests that exist, keyed by id
	GetByIDs(ctx context.Context, ids []string) (map[string]*entity.TripRequest, error)
	// ListAll returns every request in creation order
	ListAll(ctx context.Context) ([]*entity.TripRequest, error)
}

// ExpenseRepository defines persistence operations for Expense.
// GetByID returns (nil, nil) when the expense does not exist.
type ExpenseRepository interface {
	CreateBatch(ctx context.Context, expenses []*entity.Expense) error
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	// ListByRequest returns a request's expenses in submission order
	ListByRequest(ctx context.Context, reqID string) ([]*entity.Expense, error)
	// ListByStatus returns expenses in submission order
	ListByStatus(ctx context.Context, status string) ([]*entity.Expense, error)
	// Decide records a decision; a non-nil amount replaces the claimed amount
	Decide(ctx context.Context, id, status, approver string, decidedAt time.Time, amount *decimal.Decimal) error
	// SubmissionExists reports whether a batch with this key was already stored
	SubmissionExists(ctx context.Context, reqID, submissionKey string) (bool, error)
	ListAll(ctx context.Context) ([]*entity.Expense, error)
}

// DirectoryRepository defines access to users and reference data.
// GetUser returns (nil, nil) when the user does not exist.
type DirectoryRepository interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	ListUsers(ctx context.Context) ([]*entity.User, error)
	ListDepartments(ctx context.Context) ([]string, error)
	ListPerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error)
	ListExpenseOptions(ctx context.Context) ([]string, error)
	// Replace swaps the whole directory for the given snapshot
	Replace(ctx context.Context, dir *entity.Directory) error
}

// TransactionManager runs fn inside a single storage transaction.
// Repositories called with the context passed to fn join that transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
