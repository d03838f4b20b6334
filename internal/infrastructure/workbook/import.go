package workbook

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// RequestStore is the request persistence used by the importer
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*entity.TripRequest, error)
	Create(ctx context.Context, req *entity.TripRequest) error
}

// ExpenseStore is the expense persistence used by the importer
type ExpenseStore interface {
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	CreateBatch(ctx context.Context, expenses []*entity.Expense) error
}

// DirectoryStore replaces the reference data
type DirectoryStore interface {
	Replace(ctx context.Context, dir *entity.Directory) error
}

// ImportResult counts what an import wrote and skipped
type ImportResult struct {
	Users            int `json:"users"`
	Departments      int `json:"departments"`
	Rates            int `json:"rates"`
	ExpenseOptions   int `json:"expenseOptions"`
	RequestsImported int `json:"requestsImported"`
	RequestsSkipped  int `json:"requestsSkipped"`
	ExpensesImported int `json:"expensesImported"`
	ExpensesSkipped  int `json:"expensesSkipped"`
	// ExpenseRequests lists the requests that received new expenses, in
	// first-seen order. Their approved aggregate may need recomputing.
	ExpenseRequests []string `json:"expenseRequests,omitempty"`
}

// Importer loads a legacy workbook into the store. Rows whose id already
// exists are skipped, so importing the same file twice is harmless.
type Importer struct {
	requests  RequestStore
	expenses  ExpenseStore
	directory DirectoryStore
	tx        port.TransactionManager
	loc       *time.Location
	logger    *zap.Logger
}

// ImporterOption configures an Importer
type ImporterOption func(*Importer)

// WithLocation sets the zone timestamps in the workbook are read in
func WithLocation(loc *time.Location) ImporterOption {
	return func(i *Importer) {
		i.loc = loc
	}
}

// NewImporter creates a new Importer
func NewImporter(requests RequestStore, expenses ExpenseStore, directory DirectoryStore, tx port.TransactionManager, logger *zap.Logger, opts ...ImporterOption) *Importer {
	i := &Importer{
		requests:  requests,
		expenses:  expenses,
		directory: directory,
		tx:        tx,
		loc:       time.Local,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import reads r and writes everything in one transaction
func (i *Importer) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	dir, err := i.readSettings(f)
	if err != nil {
		return nil, err
	}
	expenses, err := i.readExpenses(f)
	if err != nil {
		return nil, err
	}
	requests, err := i.readRequests(f, expenses)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Users:          len(dir.Users),
		Departments:    len(dir.Departments),
		Rates:          len(dir.Rates),
		ExpenseOptions: len(dir.ExpenseOptions),
	}

	err = i.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := i.directory.Replace(txCtx, dir); err != nil {
			return fmt.Errorf("failed to replace directory: %w", err)
		}

		for _, req := range requests {
			existing, err := i.requests.GetByID(txCtx, req.ID)
			if err != nil {
				return fmt.Errorf("failed to check request %s: %w", req.ID, err)
			}
			if existing != nil {
				result.RequestsSkipped++
				continue
			}
			if err := i.requests.Create(txCtx, req); err != nil {
				return fmt.Errorf("failed to import request %s: %w", req.ID, err)
			}
			result.RequestsImported++
		}

		fresh := make([]*entity.Expense, 0, len(expenses))
		for _, exp := range expenses {
			existing, err := i.expenses.GetByID(txCtx, exp.ID)
			if err != nil {
				return fmt.Errorf("failed to check expense %s: %w", exp.ID, err)
			}
			if existing != nil {
				result.ExpensesSkipped++
				continue
			}
			parent, err := i.requests.GetByID(txCtx, exp.ReqID)
			if err != nil {
				return fmt.Errorf("failed to check request %s: %w", exp.ReqID, err)
			}
			if parent == nil {
				i.logger.Warn("Skipping expense of unknown request",
					zap.String("expense_id", exp.ID),
					zap.String("req_id", exp.ReqID))
				result.ExpensesSkipped++
				continue
			}
			fresh = append(fresh, exp)
		}
		if len(fresh) > 0 {
			if err := i.expenses.CreateBatch(txCtx, fresh); err != nil {
				return fmt.Errorf("failed to import expenses: %w", err)
			}
		}
		result.ExpensesImported = len(fresh)

		seen := make(map[string]bool)
		for _, exp := range fresh {
			if !seen[exp.ReqID] {
				seen[exp.ReqID] = true
				result.ExpenseRequests = append(result.ExpenseRequests, exp.ReqID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.logger.Info("Workbook imported",
		zap.Int("users", result.Users),
		zap.Int("requests_imported", result.RequestsImported),
		zap.Int("requests_skipped", result.RequestsSkipped),
		zap.Int("expenses_imported", result.ExpensesImported),
		zap.Int("expenses_skipped", result.ExpensesSkipped))
	return result, nil
}

// rows returns the data rows of sheet, without the header row.
// A missing sheet reads as empty.
func rows(f *excelize.File, sheet string) ([][]string, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, nil
	}
	all, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil
}

func (i *Importer) readSettings(f *excelize.File) (*entity.Directory, error) {
	data, err := rows(f, SheetSettings)
	if err != nil {
		return nil, err
	}

	dir := &entity.Directory{
		Users:          []*entity.User{},
		Departments:    []string{},
		Rates:          []entity.PerDiemRate{},
		ExpenseOptions: []string{},
	}
	seen := make(map[string]bool)
	for n, row := range data {
		if id := entity.NormalizeID(cell(row, 0)); id != "" && !seen[id] {
			seen[id] = true
			dir.Users = append(dir.Users, &entity.User{
				ID:      id,
				Name:    cell(row, 1),
				Role:    roleFrom(cell(row, 2)),
				Company: cell(row, 3),
				Cards:   cell(row, 4),
			})
		}
		if v := cell(row, colDepartments); v != "" {
			dir.Departments = append(dir.Departments, v)
		}
		if v := cell(row, colExpenseOptions); v != "" {
			dir.ExpenseOptions = append(dir.ExpenseOptions, v)
		}

		sheetRow := n + settingsFirstRow
		if sheetRow >= ratesFirstRow && sheetRow <= ratesLastRow {
			if name := cell(row, colRateName); name != "" {
				dir.Rates = append(dir.Rates, entity.PerDiemRate{
					Name:      name,
					RateShort: parseAmount(cell(row, colRateName+1)),
					RateLong:  parseAmount(cell(row, colRateName+2)),
				})
			}
		}
	}
	return dir, nil
}

func (i *Importer) readExpenses(f *excelize.File) ([]*entity.Expense, error) {
	data, err := rows(f, SheetExpenses)
	if err != nil {
		return nil, err
	}

	out := make([]*entity.Expense, 0, len(data))
	for n, row := range data {
		id := cell(row, 0)
		if id == "" {
			continue
		}
		status, ok := statusFrom(expenseStatusLabels, cell(row, 10))
		if !ok {
			return nil, fmt.Errorf("expenses row %d: unknown status %q", n+2, cell(row, 10))
		}
		created, _ := parseTimestamp(cell(row, 4), i.loc)

		exp := &entity.Expense{
			ID:          id,
			ReqID:       cell(row, 1),
			UserID:      entity.NormalizeID(cell(row, 2)),
			UserName:    cell(row, 3),
			CreatedAt:   created,
			Name:        cell(row, 5),
			Amount:      parseAmount(cell(row, 6)),
			Description: cell(row, 7),
			Link:        cell(row, 8),
			FileURLs:    cell(row, 9),
			Status:      status,
			Approver:    cell(row, 11),
			Company:     cell(row, 13),
		}
		if decided, ok := parseTimestamp(cell(row, 12), i.loc); ok {
			exp.DecidedAt = &decided
		}
		out = append(out, exp)
	}
	return out, nil
}

func (i *Importer) readRequests(f *excelize.File, expenses []*entity.Expense) ([]*entity.TripRequest, error) {
	data, err := rows(f, SheetLogs)
	if err != nil {
		return nil, err
	}

	byRequest := make(map[string][]*entity.Expense)
	for _, exp := range expenses {
		byRequest[exp.ReqID] = append(byRequest[exp.ReqID], exp)
	}

	out := make([]*entity.TripRequest, 0, len(data))
	for n, row := range data {
		id := cell(row, 2)
		if id == "" {
			continue
		}
		status, ok := statusFrom(requestStatusLabels, cell(row, 19))
		if !ok {
			return nil, fmt.Errorf("logs row %d: unknown status %q", n+2, cell(row, 19))
		}
		created, _ := parseTimestamp(cell(row, 3), i.loc)
		people, _ := strconv.Atoi(cell(row, 9))
		planItems := parsePlanItems(cell(row, 13))

		req := &entity.TripRequest{
			ID:             id,
			UserID:         entity.NormalizeID(cell(row, 0)),
			UserName:       cell(row, 1),
			CreatedAt:      created,
			Company:        cell(row, 4),
			Department:     cell(row, 5),
			Purpose:        cell(row, 6),
			DateStart:      stripQuote(cell(row, 7)),
			DateEnd:        stripQuote(cell(row, 8)),
			PeopleCount:    people,
			PerDiemName:    cell(row, 10),
			PerDiemRate:    parseAmount(cell(row, 11)),
			DailyTotal:     parseAmount(cell(row, 12)),
			PlanItems:      planItems,
			PlanItemsTotal: parseAmount(cell(row, 14)),
			PaymentMethod:  paymentFrom(cell(row, 17)),
			PaymentCard:    cell(row, 18),
			Status:         status,
			Approver:       cell(row, 20),
			Log:            decodeLog(cell(row, 23), i.loc),
		}
		if updated, ok := parseTimestamp(cell(row, 21), i.loc); ok {
			req.UpdatedAt = &updated
		}
		if completed, ok := parseTimestamp(cell(row, 22), i.loc); ok {
			req.CompletedAt = &completed
		}

		summary := entity.SummarizeApproved(byRequest[id])
		req.AdditionalItems = summary.Items
		req.AdditionalItemsTotal = summary.Total

		out = append(out, req)
	}
	return out, nil
}
