package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/infrastructure/persistence/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requestColumns = `
	id, user_id, user_name, created_at, company, department, purpose,
	date_start, date_end, people_count, per_diem_name, per_diem_rate,
	daily_total, plan_items, plan_items_total, additional_items,
	additional_items_total, payment_method, payment_card, status,
	approver, updated_at, completed_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the request row and its initial log entries
func (r *RequestRepository) Create(ctx context.Context, req *entity.TripRequest) error {
	planItems, err := marshalJSON(req.PlanItems, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode plan items: %w", err)
	}
	additional, err := marshalJSON(req.AdditionalItems, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode additional items: %w", err)
	}

	query := `
		INSERT INTO trip_requests (` + requestColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		req.ID,
		req.UserID,
		req.UserName,
		req.CreatedAt,
		req.Company,
		req.Department,
		req.Purpose,
		req.DateStart,
		req.DateEnd,
		req.PeopleCount,
		req.PerDiemName,
		req.PerDiemRate,
		req.DailyTotal,
		planItems,
		req.PlanItemsTotal,
		additional,
		req.AdditionalItemsTotal,
		req.PaymentMethod,
		req.PaymentCard,
		req.Status,
		req.Approver,
		nullTime(req.UpdatedAt),
		nullTime(req.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	return r.AppendLog(ctx, req.ID, req.Log...)
}

// GetByID retrieves a request with its log
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.TripRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM trip_requests WHERE id = ?`

	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	logs, err := r.loadLogs(ctx, []string{req.ID})
	if err != nil {
		return nil, err
	}
	req.Log = logs[req.ID]
	return req, nil
}

// Update rewrites the mutable columns of a request
func (r *RequestRepository) Update(ctx context.Context, req *entity.TripRequest) error {
	planItems, err := marshalJSON(req.PlanItems, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode plan items: %w", err)
	}

	query := `
		UPDATE trip_requests SET
			company = ?, department = ?, purpose = ?, date_start = ?, date_end = ?,
			people_count = ?, per_diem_name = ?, per_diem_rate = ?, daily_total = ?,
			plan_items = ?, plan_items_total = ?, payment_method = ?, payment_card = ?,
			status = ?, approver = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.Company,
		req.Department,
		req.Purpose,
		req.DateStart,
		req.DateEnd,
		req.PeopleCount,
		req.PerDiemName,
		req.PerDiemRate,
		req.DailyTotal,
		planItems,
		req.PlanItemsTotal,
		req.PaymentMethod,
		req.PaymentCard,
		req.Status,
		req.Approver,
		nullTime(req.UpdatedAt),
		nullTime(req.CompletedAt),
		req.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.String("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}
	return requireAffected(result, "request", req.ID)
}

// AppendLog adds entries after the existing ones
func (r *RequestRepository) AppendLog(ctx context.Context, id string, entries ...auditlog.Entry) error {
	query := `
		INSERT INTO request_log_entries (request_id, entry_type, user_id, user_name, created_at, text)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	exec := r.db.Executor(ctx)
	for _, e := range entries {
		_, err := exec.ExecContext(ctx, query, id, string(e.Type), e.UserID, e.UserName, e.Timestamp, e.Text)
		if err != nil {
			r.logger.Error("Failed to append log entry", zap.String("request_id", id), zap.String("type", e.Type.String()), zap.Error(err))
			return fmt.Errorf("failed to append log entry: %w", err)
		}
	}
	return nil
}

// SetAdditionalItems stores the approved-expense aggregate
func (r *RequestRepository) SetAdditionalItems(ctx context.Context, id string, items []entity.ApprovedItem, total decimal.Decimal, at time.Time) error {
	if items == nil {
		items = []entity.ApprovedItem{}
	}
	encoded, err := marshalJSON(items, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode additional items: %w", err)
	}

	query := `
		UPDATE trip_requests
		SET additional_items = ?, additional_items_total = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, encoded, total, at, id)
	if err != nil {
		r.logger.Error("Failed to set additional items", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to set additional items: %w", err)
	}
	return requireAffected(result, "request", id)
}

// ListRecent returns the newest requests first
func (r *RequestRepository) ListRecent(ctx context.Context, limit int) ([]*entity.TripRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM trip_requests ORDER BY rowid DESC LIMIT ?`
	return r.list(ctx, query, limit)
}

// ListByStatuses returns matching requests, newest first
func (r *RequestRepository) ListByStatuses(ctx context.Context, statuses []string) ([]*entity.TripRequest, error) {
	if len(statuses) == 0 {
		return []*entity.TripRequest{}, nil
	}
	query := `SELECT ` + requestColumns + ` FROM trip_requests WHERE status IN (` +
		placeholders(len(statuses)) + `) ORDER BY rowid DESC`
	return r.list(ctx, query, toArgs(statuses)...)
}

// GetByIDs returns the requests that exist, keyed by id
func (r *RequestRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.TripRequest, error) {
	out := make(map[string]*entity.TripRequest, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + requestColumns + ` FROM trip_requests WHERE id IN (` + placeholders(len(ids)) + `)`
	reqs, err := r.list(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		out[req.ID] = req
	}
	return out, nil
}

// ListAll returns every request in creation order
func (r *RequestRepository) ListAll(ctx context.Context) ([]*entity.TripRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM trip_requests ORDER BY rowid`
	return r.list(ctx, query)
}

func (r *RequestRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.TripRequest, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var reqs []*entity.TripRequest
	var ids []string
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		reqs = append(reqs, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	rows.Close()

	logs, err := r.loadLogs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		req.Log = logs[req.ID]
	}
	if reqs == nil {
		reqs = []*entity.TripRequest{}
	}
	return reqs, nil
}

// loadLogs reads the log entries of the given requests in append order
func (r *RequestRepository) loadLogs(ctx context.Context, ids []string) (map[string]auditlog.Log, error) {
	out := make(map[string]auditlog.Log, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT request_id, entry_type, user_id, user_name, created_at, text
		FROM request_log_entries
		WHERE request_id IN (` + placeholders(len(ids)) + `)
		ORDER BY id
	`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		r.logger.Error("Failed to load request logs", zap.Int("requests", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("failed to load request logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reqID, entryType string
		var e auditlog.Entry
		if err := rows.Scan(&reqID, &entryType, &e.UserID, &e.UserName, &e.Timestamp, &e.Text); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Type = auditlog.EntryType(entryType)
		out[reqID] = append(out[reqID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}

	for _, id := range ids {
		if out[id] == nil {
			out[id] = auditlog.Log{}
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.TripRequest, error) {
	var req entity.TripRequest
	var planItems, additional string
	var updatedAt, completedAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.UserName,
		&req.CreatedAt,
		&req.Company,
		&req.Department,
		&req.Purpose,
		&req.DateStart,
		&req.DateEnd,
		&req.PeopleCount,
		&req.PerDiemName,
		&req.PerDiemRate,
		&req.DailyTotal,
		&planItems,
		&req.PlanItemsTotal,
		&additional,
		&req.AdditionalItemsTotal,
		&req.PaymentMethod,
		&req.PaymentCard,
		&req.Status,
		&req.Approver,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	req.PlanItems = []entity.PlanItem{}
	if err := json.Unmarshal([]byte(planItems), &req.PlanItems); err != nil {
		return nil, fmt.Errorf("failed to decode plan items of %s: %w", req.ID, err)
	}
	req.AdditionalItems = []entity.ApprovedItem{}
	if err := json.Unmarshal([]byte(additional), &req.AdditionalItems); err != nil {
		return nil, fmt.Errorf("failed to decode additional items of %s: %w", req.ID, err)
	}
	if updatedAt.Valid {
		req.UpdatedAt = &updatedAt.Time
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	return &req, nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
