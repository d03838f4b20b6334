package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// mockLogger discards everything
type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockTxManager runs fn directly
type mockTxManager struct {
	calls atomic.Int32
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls.Add(1)
	return fn(ctx)
}

func cloneRequest(r *entity.TripRequest) *entity.TripRequest {
	c := *r
	c.Log = append(auditlog.Log{}, r.Log...)
	c.PlanItems = append([]entity.PlanItem{}, r.PlanItems...)
	c.AdditionalItems = append([]entity.ApprovedItem{}, r.AdditionalItems...)
	return &c
}

// mockRequestRepo is an in-memory RequestRepository
type mockRequestRepo struct {
	mu    sync.Mutex
	items map[string]*entity.TripRequest
	order []string

	updateFunc    func(ctx context.Context, req *entity.TripRequest) error
	appendLogFunc func(ctx context.Context, id string, entries ...auditlog.Entry) error
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{items: map[string]*entity.TripRequest{}}
}

func (m *mockRequestRepo) Create(ctx context.Context, req *entity.TripRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[req.ID]; ok {
		return fmt.Errorf("duplicate request %s", req.ID)
	}
	m.items[req.ID] = cloneRequest(req)
	m.order = append(m.order, req.ID)
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id string) (*entity.TripRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return cloneRequest(r), nil
}

func (m *mockRequestRepo) Update(ctx context.Context, req *entity.TripRequest) error {
	if m.updateFunc != nil {
		if err := m.updateFunc(ctx, req); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[req.ID]
	if !ok {
		return fmt.Errorf("request %s not found", req.ID)
	}
	c := cloneRequest(req)
	c.Log = existing.Log
	m.items[req.ID] = c
	return nil
}

func (m *mockRequestRepo) AppendLog(ctx context.Context, id string, entries ...auditlog.Entry) error {
	if m.appendLogFunc != nil {
		if err := m.appendLogFunc(ctx, id, entries...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return fmt.Errorf("request %s not found", id)
	}
	r.Log = r.Log.Append(entries...)
	return nil
}

func (m *mockRequestRepo) SetAdditionalItems(ctx context.Context, id string, items []entity.ApprovedItem, total decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil
	}
	r.AdditionalItems = append([]entity.ApprovedItem{}, items...)
	r.AdditionalItemsTotal = total
	return nil
}

func (m *mockRequestRepo) ListRecent(ctx context.Context, limit int) ([]*entity.TripRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TripRequest
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRequest(m.items[m.order[i]]))
	}
	return out, nil
}

func (m *mockRequestRepo) ListByStatuses(ctx context.Context, statuses []string) ([]*entity.TripRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*entity.TripRequest
	for i := len(m.order) - 1; i >= 0; i-- {
		if r := m.items[m.order[i]]; want[r.Status] {
			out = append(out, cloneRequest(r))
		}
	}
	return out, nil
}

func (m *mockRequestRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.TripRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]*entity.TripRequest{}
	for _, id := range ids {
		if r, ok := m.items[id]; ok {
			out[id] = cloneRequest(r)
		}
	}
	return out, nil
}

func (m *mockRequestRepo) ListAll(ctx context.Context) ([]*entity.TripRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TripRequest
	for _, id := range m.order {
		out = append(out, cloneRequest(m.items[id]))
	}
	return out, nil
}

// get is a test shortcut that fails the test when the request is missing
func (m *mockRequestRepo) get(t *testing.T, id string) *entity.TripRequest {
	t.Helper()
	r, _ := m.GetByID(context.Background(), id)
	if r == nil {
		t.Fatalf("request %s not stored", id)
	}
	return r
}

// mockExpenseRepo is an in-memory ExpenseRepository
type mockExpenseRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Expense
	order []string

	decideFunc func(ctx context.Context, id string) error
}

func newMockExpenseRepo() *mockExpenseRepo {
	return &mockExpenseRepo{items: map[string]*entity.Expense{}}
}

func (m *mockExpenseRepo) CreateBatch(ctx context.Context, expenses []*entity.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range expenses {
		c := *e
		m.items[e.ID] = &c
		m.order = append(m.order, e.ID)
	}
	return nil
}

func (m *mockExpenseRepo) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (m *mockExpenseRepo) list(match func(e *entity.Expense) bool) []*entity.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.Expense{}
	for _, id := range m.order {
		if e := m.items[id]; match(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

func (m *mockExpenseRepo) ListByRequest(ctx context.Context, reqID string) ([]*entity.Expense, error) {
	return m.list(func(e *entity.Expense) bool { return e.ReqID == reqID }), nil
}

func (m *mockExpenseRepo) ListByStatus(ctx context.Context, status string) ([]*entity.Expense, error) {
	return m.list(func(e *entity.Expense) bool { return e.Status == status }), nil
}

func (m *mockExpenseRepo) Decide(ctx context.Context, id, status, approver string, decidedAt time.Time, amount *decimal.Decimal) error {
	if m.decideFunc != nil {
		if err := m.decideFunc(ctx, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return fmt.Errorf("expense %s not found", id)
	}
	e.Status = status
	e.Approver = approver
	e.DecidedAt = &decidedAt
	if amount != nil {
		e.Amount = *amount
	}
	return nil
}

func (m *mockExpenseRepo) SubmissionExists(ctx context.Context, reqID, key string) (bool, error) {
	found := m.list(func(e *entity.Expense) bool { return e.ReqID == reqID && e.SubmissionKey == key })
	return len(found) > 0, nil
}

func (m *mockExpenseRepo) ListAll(ctx context.Context) ([]*entity.Expense, error) {
	return m.list(func(e *entity.Expense) bool { return true }), nil
}

func (m *mockExpenseRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// mockDirectory is an in-memory DirectoryRepository
type mockDirectory struct {
	users       []*entity.User
	departments []string
	rates       []entity.PerDiemRate
	options     []string

	getUserCalls int
	ratesCalls   int
	mu           sync.Mutex
}

func (m *mockDirectory) GetUser(ctx context.Context, id string) (*entity.User, error) {
	m.mu.Lock()
	m.getUserCalls++
	m.mu.Unlock()
	for _, u := range m.users {
		if entity.SameID(u.ID, id) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockDirectory) ListUsers(ctx context.Context) ([]*entity.User, error) {
	return m.users, nil
}

func (m *mockDirectory) ListDepartments(ctx context.Context) ([]string, error) {
	return m.departments, nil
}

func (m *mockDirectory) ListPerDiemRates(ctx context.Context) ([]entity.PerDiemRate, error) {
	m.mu.Lock()
	m.ratesCalls++
	m.mu.Unlock()
	return m.rates, nil
}

func (m *mockDirectory) ListExpenseOptions(ctx context.Context) ([]string, error) {
	return m.options, nil
}

func (m *mockDirectory) Replace(ctx context.Context, dir *entity.Directory) error {
	m.users = dir.Users
	m.departments = dir.Departments
	m.rates = dir.Rates
	m.options = dir.ExpenseOptions
	return nil
}

// mockNotifier records every message and fails for configured recipients
type mockNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures map[string]error

	// onSend runs before each delivery, outside the mock's own lock
	onSend func()
}

type sentMessage struct {
	To   string
	Text string
}

func (m *mockNotifier) Send(ctx context.Context, recipientID, text string) error {
	if m.onSend != nil {
		m.onSend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures[recipientID]; ok {
		return err
	}
	m.sent = append(m.sent, sentMessage{To: recipientID, Text: text})
	return nil
}

func (m *mockNotifier) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.To)
	}
	sort.Strings(out)
	return out
}

func (m *mockNotifier) messagesTo(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == id {
			out = append(out, s.Text)
		}
	}
	return out
}

// mockUploader stores file names in memory
type mockUploader struct {
	mu          sync.Mutex
	unavailable bool
	existing    []string
	uploaded    []string
	uploadFunc  func(name string) error
}

func (m *mockUploader) Available(ctx context.Context) bool {
	return !m.unavailable
}

func (m *mockUploader) CountWithPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, name := range append(append([]string{}, m.existing...), m.uploaded...) {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (m *mockUploader) Upload(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if m.uploadFunc != nil {
		if err := m.uploadFunc(name); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, name)
	return "/files/" + name, nil
}

// mockIDs issues sequential ids
type mockIDs struct {
	mu   sync.Mutex
	next int64
}

func (m *mockIDs) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return strconv.FormatInt(1_000+m.next, 10)
}

// mockCache is a map without expiry
type mockCache struct {
	mu    sync.Mutex
	items map[string]interface{}
}

func newMockCache() *mockCache {
	return &mockCache{items: map[string]interface{}{}}
}

func (m *mockCache) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *mockCache) Set(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *mockCache) Delete(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
}

// mockMetrics counts calls
type mockMetrics struct {
	mu                   sync.Mutex
	transitions          []string
	notificationFailures map[string]int
	uploadFailures       int
}

func (m *mockMetrics) IncTransition(kind, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, kind+":"+from+"->"+to)
}

func (m *mockMetrics) IncNotificationFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notificationFailures == nil {
		m.notificationFailures = map[string]int{}
	}
	m.notificationFailures[kind]++
}

func (m *mockMetrics) IncUploadFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadFailures++
}

// Test fixture ids
const (
	adminID       = "100"
	userID        = "200"
	otherAdminID  = "300"
	otherUserID   = "400"
	secondAdminID = "500"
)

var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

// testEnv wires real services over in-memory collaborators
type testEnv struct {
	requests  *mockRequestRepo
	expenses  *mockExpenseRepo
	directory *mockDirectory
	notifier  *mockNotifier
	uploader  *mockUploader
	metrics   *mockMetrics
	locks     *lock.Manager
	tx        *mockTxManager

	reference     ReferenceService
	notifications NotificationService
	requestSvc    RequestService
	expenseSvc    ExpenseService
	querySvc      QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		requests: newMockRequestRepo(),
		expenses: newMockExpenseRepo(),
		directory: &mockDirectory{
			users: []*entity.User{
				{ID: adminID, Name: "Iryna Admin", Role: entity.RoleAdmin, Company: "Alpha, Beta"},
				{ID: userID, Name: "Olena Petrenko", Role: entity.RoleUser, Company: "Alpha"},
				{ID: otherAdminID, Name: "Gamma Admin", Role: entity.RoleAdmin, Company: "Gamma"},
				{ID: otherUserID, Name: "Taras", Role: entity.RoleUser, Company: "Alpha"},
				{ID: secondAdminID, Name: "Second Alpha Admin", Role: entity.RoleAdmin, Company: "Alpha"},
			},
			departments: []string{"Sales", "IT"},
			rates: []entity.PerDiemRate{
				{Name: "Ukraine", RateShort: decimal.NewFromInt(300), RateLong: decimal.NewFromInt(200)},
				{Name: "Europe", RateShort: decimal.NewFromInt(1500), RateLong: decimal.NewFromInt(1200)},
			},
			options: []string{"Taxi", "Hotel"},
		},
		notifier: &mockNotifier{failures: map[string]error{}},
		uploader: &mockUploader{},
		metrics:  &mockMetrics{},
		locks:    lock.NewManager(),
		tx:       &mockTxManager{},
	}

	logger := &mockLogger{}
	deps := Deps{
		Requests:  env.requests,
		Expenses:  env.expenses,
		Directory: env.directory,
		Tx:        env.tx,
		Locks:     env.locks,
		IDs:       &mockIDs{},
		Metrics:   env.metrics,
		Timeouts:  LockTimeouts{Quick: 200 * time.Millisecond, Long: 200 * time.Millisecond},
		Clock:     func() time.Time { return testNow },
		Logger:    logger,
	}

	env.reference = NewReferenceService(env.directory, newMockCache(), logger)
	env.notifications = NewNotificationService(env.notifier, env.directory, logger)
	env.requestSvc = NewRequestService(deps, env.reference, env.notifications)
	env.expenseSvc = NewExpenseService(deps, env.uploader, env.notifications)
	env.querySvc = NewQueryService(env.requests, env.expenses, env.directory, logger)
	return env
}

// validInput is a 5 day trip for two people in company Alpha
func validInput() CreateRequestInput {
	return CreateRequestInput{
		UserID:        userID,
		UserName:      "Olena Petrenko",
		Company:       "Alpha",
		Department:    "Sales",
		Purpose:       "Client visit",
		DateStart:     "2025-06-02",
		DateEnd:       "2025-06-06",
		PeopleCount:   2,
		PerDiemName:   "Ukraine",
		PlanItems:     []entity.PlanItem{{Name: "Train", Amount: decimal.NewFromInt(1000)}},
		PaymentMethod: "Cash",
	}
}

// createRequest stores a NEW request and returns its id
func (e *testEnv) createRequest(t *testing.T) string {
	t.Helper()
	res, err := e.requestSvc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return res.RequestID
}

// approvedRequest stores a request and approves it
func (e *testEnv) approvedRequest(t *testing.T) string {
	t.Helper()
	id := e.createRequest(t)
	if _, err := e.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna Admin"); err != nil {
		t.Fatalf("approve request: %v", err)
	}
	return id
}

// submitExpenses adds named expenses of 100 each and returns their ids
func (e *testEnv) submitExpenses(t *testing.T, reqID string, names ...string) []string {
	t.Helper()
	items := make([]ExpenseInput, 0, len(names))
	for _, n := range names {
		items = append(items, ExpenseInput{Name: n, Amount: decimal.NewFromInt(100)})
	}
	before := e.expenses.count()
	if _, err := e.expenseSvc.Submit(context.Background(), SubmitExpensesInput{
		RequestID: reqID,
		UserID:    userID,
		UserName:  "Olena Petrenko",
		Items:     items,
	}); err != nil {
		t.Fatalf("submit expenses: %v", err)
	}
	all, _ := e.expenses.ListAll(context.Background())
	var ids []string
	for _, x := range all[before:] {
		ids = append(ids, x.ID)
	}
	return ids
}
