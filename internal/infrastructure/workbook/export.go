package workbook

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// RequestSource lists every stored trip request
type RequestSource interface {
	ListAll(ctx context.Context) ([]*entity.TripRequest, error)
}

// ExpenseSource lists every stored expense
type ExpenseSource interface {
	ListAll(ctx context.Context) ([]*entity.Expense, error)
}

// DirectorySource reads the reference data
type DirectorySource interface {
	ListUsers(ctx context.Context) ([]*entity.User, error)
	ListDepartments(ctx context.Context) ([]string, error)
	ListPerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error)
	ListExpenseOptions(ctx context.Context) ([]string, error)
}

// Exporter writes the whole store as a workbook
type Exporter struct {
	requests  RequestSource
	expenses  ExpenseSource
	directory DirectorySource
	logger    *zap.Logger
}

// NewExporter creates a new Exporter
func NewExporter(requests RequestSource, expenses ExpenseSource, directory DirectorySource, logger *zap.Logger) *Exporter {
	return &Exporter{
		requests:  requests,
		expenses:  expenses,
		directory: directory,
		logger:    logger,
	}
}

// Export writes the Logs, Expenses and Settings sheets to w
func (e *Exporter) Export(ctx context.Context, w io.Writer) error {
	requests, err := e.requests.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	expenses, err := e.expenses.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list expenses: %w", err)
	}
	dir, err := e.loadDirectory(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetLogs); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetExpenses, SheetSettings} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := e.writeRequests(f, requests); err != nil {
		return err
	}
	if err := e.writeExpenses(f, expenses); err != nil {
		return err
	}
	if err := e.writeSettings(f, dir); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Workbook exported",
		zap.Int("requests", len(requests)),
		zap.Int("expenses", len(expenses)),
		zap.Int("users", len(dir.Users)))
	return nil
}

func (e *Exporter) loadDirectory(ctx context.Context) (*entity.Directory, error) {
	users, err := e.directory.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	depts, err := e.directory.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	rates, err := e.directory.ListPerDiemRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list per-diem rates: %w", err)
	}
	opts, err := e.directory.ListExpenseOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expense options: %w", err)
	}
	return &entity.Directory{Users: users, Departments: depts, Rates: rates, ExpenseOptions: opts}, nil
}

func (e *Exporter) writeRequests(f *excelize.File, requests []*entity.TripRequest) error {
	if err := setRow(f, SheetLogs, 1, toRow(RequestHeaders)); err != nil {
		return err
	}
	for i, req := range requests {
		planItems, err := marshalItems(req.PlanItems)
		if err != nil {
			return fmt.Errorf("failed to encode plan items of %s: %w", req.ID, err)
		}
		additional, err := marshalItems(req.AdditionalItems)
		if err != nil {
			return fmt.Errorf("failed to encode additional items of %s: %w", req.ID, err)
		}
		log, err := encodeLog(req.Log)
		if err != nil {
			return fmt.Errorf("failed to encode log of %s: %w", req.ID, err)
		}
		created := req.CreatedAt

		row := []interface{}{
			req.UserID,
			req.UserName,
			req.ID,
			formatTimestamp(&created),
			req.Company,
			req.Department,
			req.Purpose,
			req.DateStart,
			req.DateEnd,
			req.PeopleCount,
			req.PerDiemName,
			number(req.PerDiemRate),
			number(req.DailyTotal),
			planItems,
			number(req.PlanItemsTotal),
			additional,
			number(req.AdditionalItemsTotal),
			paymentLabel(req.PaymentMethod),
			req.PaymentCard,
			labelFor(requestStatusLabels, req.Status),
			req.Approver,
			formatTimestamp(req.UpdatedAt),
			formatTimestamp(req.CompletedAt),
			log,
		}
		if err := setRow(f, SheetLogs, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeExpenses(f *excelize.File, expenses []*entity.Expense) error {
	if err := setRow(f, SheetExpenses, 1, toRow(ExpenseHeaders)); err != nil {
		return err
	}
	for i, exp := range expenses {
		created := exp.CreatedAt
		row := []interface{}{
			exp.ID,
			exp.ReqID,
			exp.UserID,
			exp.UserName,
			formatTimestamp(&created),
			exp.Name,
			number(exp.Amount),
			exp.Description,
			exp.Link,
			exp.FileURLs,
			labelFor(expenseStatusLabels, exp.Status),
			exp.Approver,
			formatTimestamp(exp.DecidedAt),
			exp.Company,
		}
		if err := setRow(f, SheetExpenses, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeSettings(f *excelize.File, dir *entity.Directory) error {
	header := []interface{}{"UserId", "Імʼя", "Роль", "Компанія", "Карти"}
	if err := setRow(f, SheetSettings, 1, header); err != nil {
		return err
	}
	for _, c := range []struct{ cell, value string }{
		{"H1", "Відділи"},
		{"I1", "Витрати"},
		{"K2", "Ставка"},
		{"L2", "До 30 днів"},
		{"M2", "Від 31 дня"},
	} {
		if err := f.SetCellValue(SheetSettings, c.cell, c.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", c.cell, err)
		}
	}

	for i, u := range dir.Users {
		row := []interface{}{u.ID, u.Name, roleLabel(u.Role), u.Company, u.Cards}
		if err := setRow(f, SheetSettings, settingsFirstRow+i, row); err != nil {
			return err
		}
	}
	if err := setColumn(f, "H", settingsFirstRow, dir.Departments); err != nil {
		return err
	}
	if err := setColumn(f, "I", settingsFirstRow, dir.ExpenseOptions); err != nil {
		return err
	}

	for i, rate := range dir.Rates {
		r := ratesFirstRow + i
		if r > ratesLastRow {
			e.logger.Warn("Per-diem table is full, dropping rate", zap.String("name", rate.Name))
			continue
		}
		cellName, err := excelize.CoordinatesToCellName(colRateName+1, r)
		if err != nil {
			return fmt.Errorf("failed to address rate row: %w", err)
		}
		row := []interface{}{rate.Name, number(rate.RateShort), number(rate.RateLong)}
		if err := f.SetSheetRow(SheetSettings, cellName, &row); err != nil {
			return fmt.Errorf("failed to write rate %s: %w", rate.Name, err)
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cellName, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", rowNum, err)
	}
	if err := f.SetSheetRow(sheet, cellName, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}

func setColumn(f *excelize.File, col string, firstRow int, values []string) error {
	for i, v := range values {
		cellName := fmt.Sprintf("%s%d", col, firstRow+i)
		if err := f.SetCellValue(SheetSettings, cellName, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", cellName, err)
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
