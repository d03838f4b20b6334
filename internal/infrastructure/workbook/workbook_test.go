package workbook

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type memRequests struct {
	items []*entity.TripRequest
}

func (m *memRequests) GetByID(ctx context.Context, id string) (*entity.TripRequest, error) {
	for _, r := range m.items {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memRequests) Create(ctx context.Context, req *entity.TripRequest) error {
	m.items = append(m.items, req)
	return nil
}

func (m *memRequests) ListAll(ctx context.Context) ([]*entity.TripRequest, error) {
	return m.items, nil
}

type memExpenses struct {
	items []*entity.Expense
}

func (m *memExpenses) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	for _, e := range m.items {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memExpenses) CreateBatch(ctx context.Context, expenses []*entity.Expense) error {
	m.items = append(m.items, expenses...)
	return nil
}

func (m *memExpenses) ListAll(ctx context.Context) ([]*entity.Expense, error) {
	return m.items, nil
}

type memDirectory struct {
	dir *entity.Directory
}

func (m *memDirectory) Replace(ctx context.Context, dir *entity.Directory) error {
	m.dir = dir
	return nil
}

func (m *memDirectory) ListUsers(ctx context.Context) ([]*entity.User, error) {
	return m.dir.Users, nil
}

func (m *memDirectory) ListDepartments(ctx context.Context) ([]string, error) {
	return m.dir.Departments, nil
}

func (m *memDirectory) ListPerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error) {
	return m.dir.Rates, nil
}

func (m *memDirectory) ListExpenseOptions(ctx context.Context) ([]string, error) {
	return m.dir.ExpenseOptions, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type store struct {
	requests  *memRequests
	expenses  *memExpenses
	directory *memDirectory
}

func newStore() *store {
	return &store{
		requests:  &memRequests{},
		expenses:  &memExpenses{},
		directory: &memDirectory{dir: &entity.Directory{}},
	}
}

func (s *store) importer() *Importer {
	return NewImporter(s.requests, s.expenses, s.directory, passthroughTx{}, zap.NewNop(), WithLocation(time.UTC))
}

func (s *store) exporter() *Exporter {
	return NewExporter(s.requests, s.expenses, s.directory, zap.NewNop())
}

func setCells(t *testing.T, f *excelize.File, sheet string, cells map[string]interface{}) {
	t.Helper()
	for addr, v := range cells {
		require.NoError(t, f.SetCellValue(sheet, addr, v))
	}
}

// legacyWorkbook builds a sheet in the shape the spreadsheet tool produced
func legacyWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", SheetLogs))
	_, err := f.NewSheet(SheetExpenses)
	require.NoError(t, err)
	_, err = f.NewSheet(SheetSettings)
	require.NoError(t, err)

	require.NoError(t, setRow(f, SheetLogs, 1, toRow(RequestHeaders)))
	log := `[{"type":"запит","userId":"200","userName":"Olena","date":"20.05.2025 10:15","text":"Створено заявку"},` +
		`{"type":"коментар","userId":"200","userName":"Olena","date":"20.05.2025 10:15","text":"Need hotel"},` +
		`{"type":"запит","userId":"100","userName":"Iryna","date":"21.05.2025 09:00","text":"Which client?"},` +
		`{"type":"відповідь","userId":"200","userName":"Olena","date":"21.05.2025 11:30","text":"Acme"},` +
		`{"type":"рішення","userId":"100","userName":"Iryna","date":"22.05.2025 08:00","text":"Погоджено"}]`
	require.NoError(t, setRow(f, SheetLogs, 2, []interface{}{
		"'200 ", "Olena Petrenko", "1716200000000", "20.05.2025 10:15", "Alpha", "Sales", "Client visit",
		"'2025-06-02", "'2025-06-06", 2, "Kyiv", 300, 2600,
		`[{"name":"Hotel","amount":"800"},{"name":"Taxi","amount":200}]`, 1000,
		`[{"name":"stale"}]`, 999,
		"Карта", "5168", "Погоджено", "Iryna Admin", "22.05.2025 08:00", "", log,
	}))
	require.NoError(t, setRow(f, SheetLogs, 3, []interface{}{
		"300", "Taras", "1716300000000", "23.05.2025 12:00", "Beta", "Ops", "Audit",
		"2025-07-01", "2025-07-01", 1, "", 250, 250, "", 0, "", 0,
		"Готівка", "", "Нова", "", "", "", "not json",
	}))

	require.NoError(t, setRow(f, SheetExpenses, 1, toRow(ExpenseHeaders)))
	require.NoError(t, setRow(f, SheetExpenses, 2, []interface{}{
		"1716400000000_123", "1716200000000", "'200", "Olena Petrenko", "07.06.2025 18:00",
		"Hotel", 850.5, "2 nights", "", "https://files/a.jpg, https://files/b.pdf",
		"Погоджено", "Iryna Admin", "08.06.2025 09:00", "Alpha",
	}))
	require.NoError(t, setRow(f, SheetExpenses, 3, []interface{}{
		"1716400000000_456", "1716200000000", "200", "Olena Petrenko", "07.06.2025 18:00",
		"Museum", 250, "", "", "", "Нова", "", "", "Alpha",
	}))
	require.NoError(t, setRow(f, SheetExpenses, 4, []interface{}{
		"orphan_1", "404", "200", "Olena Petrenko", "07.06.2025 18:00",
		"Lost", 10, "", "", "", "Нова", "", "", "Alpha",
	}))

	setCells(t, f, SheetSettings, map[string]interface{}{
		"A1": "UserId", "B1": "Name", "C1": "Role", "D1": "Company", "E1": "Cards",
		"A2": "'100 ", "B2": "Iryna Admin", "C2": "Адмін", "D2": "Alpha, Beta",
		"A3": "200", "B3": "Olena Petrenko", "C3": "Користувач", "D3": "Alpha", "E3": "5168, 4441",
		"A4": "100", "B4": "Duplicate", "C4": "Адмін", "D4": "Gamma",
		"H2": "Sales", "H3": "Ops",
		"I2": "Hotel", "I3": "Taxi", "I4": "Museum",
		"K2": "Name", "L2": "Short", "M2": "Long",
		"K3": "Kyiv", "L3": 350, "M3": 300,
		"K4": "Lviv", "L4": 300, "M4": 250,
		"K17": "Outside", "L17": 1, "M17": 1,
	})

	buf := &bytes.Buffer{}
	require.NoError(t, f.Write(buf))
	return buf
}

func TestImporter_Import(t *testing.T) {
	s := newStore()

	result, err := s.importer().Import(context.Background(), legacyWorkbook(t))
	require.NoError(t, err)

	assert.Equal(t, &ImportResult{
		Users:            2,
		Departments:      2,
		Rates:            2,
		ExpenseOptions:   3,
		RequestsImported: 2,
		ExpensesImported: 2,
		ExpensesSkipped:  1,
		ExpenseRequests:  []string{"1716200000000"},
	}, result)

	dir := s.directory.dir
	require.Len(t, dir.Users, 2)
	assert.Equal(t, "100", dir.Users[0].ID)
	assert.Equal(t, entity.RoleAdmin, dir.Users[0].Role)
	assert.Equal(t, entity.RoleUser, dir.Users[1].Role)
	assert.Equal(t, "5168, 4441", dir.Users[1].Cards)
	assert.Equal(t, []string{"Sales", "Ops"}, dir.Departments)
	assert.Equal(t, []string{"Hotel", "Taxi", "Museum"}, dir.ExpenseOptions)
	require.Len(t, dir.Rates, 2)
	assert.Equal(t, "Kyiv", dir.Rates[0].Name)
	assert.True(t, dir.Rates[0].RateShort.Equal(decimal.NewFromInt(350)))
	assert.True(t, dir.Rates[0].RateLong.Equal(decimal.NewFromInt(300)))

	require.Len(t, s.requests.items, 2)
	req := s.requests.items[0]
	assert.Equal(t, "1716200000000", req.ID)
	assert.Equal(t, "200", req.UserID)
	assert.Equal(t, "2025-06-02", req.DateStart)
	assert.Equal(t, "2025-06-06", req.DateEnd)
	assert.Equal(t, 2, req.PeopleCount)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	assert.Equal(t, entity.PaymentCard, req.PaymentMethod)
	assert.Equal(t, time.Date(2025, 5, 20, 10, 15, 0, 0, time.UTC), req.CreatedAt)
	require.NotNil(t, req.UpdatedAt)
	assert.Nil(t, req.CompletedAt)
	require.Len(t, req.PlanItems, 2)
	assert.True(t, req.PlanItems[0].Amount.Equal(decimal.NewFromInt(800)))
	assert.True(t, req.PlanItems[1].Amount.Equal(decimal.NewFromInt(200)))

	// the approved-expense aggregate is rebuilt from the Expenses sheet
	require.Len(t, req.AdditionalItems, 1)
	assert.Equal(t, "Hotel", req.AdditionalItems[0].Name)
	assert.True(t, req.AdditionalItemsTotal.Equal(decimal.RequireFromString("850.5")))

	types := make([]auditlog.EntryType, 0, len(req.Log))
	for _, e := range req.Log {
		types = append(types, e.Type)
	}
	assert.Equal(t, []auditlog.EntryType{
		auditlog.TypeRequestCreated,
		auditlog.TypeComment,
		auditlog.TypeClarificationQuestion,
		auditlog.TypeClarificationAnswer,
		auditlog.TypeDecision,
	}, types)
	assert.Equal(t, "Which client?", req.Log.Facets().ClarifyQuestion)

	second := s.requests.items[1]
	assert.Equal(t, entity.RequestStatusNew, second.Status)
	assert.Equal(t, entity.PaymentCash, second.PaymentMethod)
	assert.Empty(t, second.Log)
	assert.Empty(t, second.PlanItems)

	require.Len(t, s.expenses.items, 2)
	exp := s.expenses.items[0]
	assert.Equal(t, "200", exp.UserID)
	assert.Equal(t, entity.ExpenseStatusApproved, exp.Status)
	assert.Equal(t, []string{"https://files/a.jpg", "https://files/b.pdf"}, exp.FileURLList())
	require.NotNil(t, exp.DecidedAt)
	assert.Equal(t, entity.ExpenseStatusNew, s.expenses.items[1].Status)
}

func TestImporter_Import_SkipsExisting(t *testing.T) {
	s := newStore()
	wb := legacyWorkbook(t).Bytes()

	_, err := s.importer().Import(context.Background(), bytes.NewReader(wb))
	require.NoError(t, err)

	result, err := s.importer().Import(context.Background(), bytes.NewReader(wb))
	require.NoError(t, err)
	assert.Equal(t, 0, result.RequestsImported)
	assert.Equal(t, 2, result.RequestsSkipped)
	assert.Equal(t, 0, result.ExpensesImported)
	assert.Equal(t, 3, result.ExpensesSkipped)
	assert.Empty(t, result.ExpenseRequests)
	assert.Len(t, s.requests.items, 2)
}

func TestImporter_Import_UnknownStatus(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetLogs))
	require.NoError(t, setRow(f, SheetLogs, 1, toRow(RequestHeaders)))
	row := make([]interface{}, len(RequestHeaders))
	for i := range row {
		row[i] = ""
	}
	row[2], row[19] = "1", "Archived"
	require.NoError(t, setRow(f, SheetLogs, 2, row))
	buf := &bytes.Buffer{}
	require.NoError(t, f.Write(buf))

	_, err := newStore().importer().Import(context.Background(), buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `logs row 2: unknown status "Archived"`)
}

func TestImporter_Import_NotAWorkbook(t *testing.T) {
	_, err := newStore().importer().Import(context.Background(), bytes.NewBufferString("plain text"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open workbook")
}

func TestExporter_Export_RoundTrip(t *testing.T) {
	src := newStore()
	_, err := src.importer().Import(context.Background(), legacyWorkbook(t))
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, src.exporter().Export(context.Background(), buf))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetLogs, SheetExpenses, SheetSettings}, f.GetSheetList())

	logs, err := f.GetRows(SheetLogs)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, RequestHeaders, logs[0])
	assert.Equal(t, "Погоджено", logs[1][19])
	assert.Equal(t, "Карта", logs[1][17])
	assert.Equal(t, "20.05.2025 10:15", logs[1][3])

	expenses, err := f.GetRows(SheetExpenses)
	require.NoError(t, err)
	assert.Equal(t, ExpenseHeaders, expenses[0])
	assert.Equal(t, "Нова", expenses[2][10])

	dst := newStore()
	_, err = dst.importer().Import(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Len(t, dst.requests.items, len(src.requests.items))
	for i, want := range src.requests.items {
		got := dst.requests.items[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.UserID, got.UserID)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.PaymentMethod, got.PaymentMethod)
		assert.Equal(t, want.DateStart, got.DateStart)
		assert.True(t, want.DailyTotal.Equal(got.DailyTotal))
		assert.True(t, want.AdditionalItemsTotal.Equal(got.AdditionalItemsTotal))
		assert.Equal(t, len(want.Log), len(got.Log))
		assert.Equal(t, want.Log.Facets(), got.Log.Facets())
	}
	assert.Equal(t, src.directory.dir.Departments, dst.directory.dir.Departments)
	assert.Equal(t, len(src.directory.dir.Rates), len(dst.directory.dir.Rates))
	assert.Equal(t, len(src.expenses.items), len(dst.expenses.items))
}
