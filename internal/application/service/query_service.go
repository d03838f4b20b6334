package service

import (
	"context"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
)

const (
	userScanWindow  = 200
	userResultLimit = 50
	adminScanWindow = 300
)

// RequestView is a trip request together with its latest log facets
type RequestView struct {
	*entity.TripRequest
	auditlog.Facets
}

// ExpenseGroup gathers pending expenses under their request
type ExpenseGroup struct {
	ReqID     string            `json:"reqId"`
	Company   string            `json:"company"`
	UserID    string            `json:"userId"`
	UserName  string            `json:"userName"`
	Purpose   string            `json:"purpose"`
	DateStart string            `json:"dStart"`
	DateEnd   string            `json:"dEnd"`
	Items     []*entity.Expense `json:"items"`
}

// QueryService serves the read-only views. Admin views are scoped to the
// caller's companies; non-admins get empty lists.
type QueryService interface {
	UserRequests(ctx context.Context, userID string) ([]*RequestView, error)
	PendingRequests(ctx context.Context, userID string) ([]*RequestView, error)
	AdminRequests(ctx context.Context, userID string) ([]*RequestView, error)
	PendingExpenses(ctx context.Context, userID string) ([]*entity.Expense, error)
	PendingExpensesGrouped(ctx context.Context, userID string) ([]*ExpenseGroup, error)
	ExpensesByRequest(ctx context.Context, reqID, userID string) ([]*entity.Expense, error)
}

type queryServiceImpl struct {
	requests  port.RequestRepository
	expenses  port.ExpenseRepository
	directory port.DirectoryRepository
	logger    Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(requests port.RequestRepository, expenses port.ExpenseRepository, directory port.DirectoryRepository, logger Logger) QueryService {
	return &queryServiceImpl{
		requests:  requests,
		expenses:  expenses,
		directory: directory,
		logger:    logger,
	}
}

// UserRequests returns the caller's own requests among the most recent ones
func (s *queryServiceImpl) UserRequests(ctx context.Context, userID string) ([]*RequestView, error) {
	recent, err := s.requests.ListRecent(ctx, userScanWindow)
	if err != nil {
		return nil, s.fail("list recent requests", err)
	}

	views := make([]*RequestView, 0)
	for _, r := range recent {
		if !r.IsOwnedBy(userID) {
			continue
		}
		views = append(views, newRequestView(r))
		if len(views) == userResultLimit {
			break
		}
	}
	return views, nil
}

// PendingRequests returns the admin work queue
func (s *queryServiceImpl) PendingRequests(ctx context.Context, userID string) ([]*RequestView, error) {
	admin, err := s.admin(ctx, userID)
	if err != nil || admin == nil {
		return []*RequestView{}, err
	}

	pending, err := s.requests.ListByStatuses(ctx, entity.PendingRequestStatuses)
	if err != nil {
		return nil, s.fail("list pending requests", err)
	}
	return scopedViews(pending, admin), nil
}

// AdminRequests returns recent requests of the admin's companies in any status
func (s *queryServiceImpl) AdminRequests(ctx context.Context, userID string) ([]*RequestView, error) {
	admin, err := s.admin(ctx, userID)
	if err != nil || admin == nil {
		return []*RequestView{}, err
	}

	recent, err := s.requests.ListRecent(ctx, adminScanWindow)
	if err != nil {
		return nil, s.fail("list recent requests", err)
	}
	return scopedViews(recent, admin), nil
}

// PendingExpenses returns NEW expenses of the admin's companies, newest first
func (s *queryServiceImpl) PendingExpenses(ctx context.Context, userID string) ([]*entity.Expense, error) {
	admin, err := s.admin(ctx, userID)
	if err != nil || admin == nil {
		return []*entity.Expense{}, err
	}

	pending, err := s.expenses.ListByStatus(ctx, entity.ExpenseStatusNew)
	if err != nil {
		return nil, s.fail("list pending expenses", err)
	}

	out := make([]*entity.Expense, 0, len(pending))
	for i := len(pending) - 1; i >= 0; i-- {
		if admin.CanAccessCompany(pending[i].Company) {
			out = append(out, pending[i])
		}
	}
	return out, nil
}

// PendingExpensesGrouped groups the pending expenses by request, newest group first
func (s *queryServiceImpl) PendingExpensesGrouped(ctx context.Context, userID string) ([]*ExpenseGroup, error) {
	admin, err := s.admin(ctx, userID)
	if err != nil || admin == nil {
		return []*ExpenseGroup{}, err
	}

	pending, err := s.expenses.ListByStatus(ctx, entity.ExpenseStatusNew)
	if err != nil {
		return nil, s.fail("list pending expenses", err)
	}

	var order []string
	groups := make(map[string]*ExpenseGroup)
	for _, e := range pending {
		if !admin.CanAccessCompany(e.Company) {
			continue
		}
		g, ok := groups[e.ReqID]
		if !ok {
			g = &ExpenseGroup{ReqID: e.ReqID, Company: e.Company, UserID: e.UserID, UserName: e.UserName}
			groups[e.ReqID] = g
			order = append(order, e.ReqID)
		}
		g.Items = append(g.Items, e)
	}

	reqs, err := s.requests.GetByIDs(ctx, order)
	if err != nil {
		return nil, s.fail("load requests for pending expenses", err)
	}

	out := make([]*ExpenseGroup, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		g := groups[order[i]]
		if r, ok := reqs[g.ReqID]; ok {
			g.Purpose = r.Purpose
			g.DateStart = r.DateStart
			g.DateEnd = r.DateEnd
		}
		out = append(out, g)
	}
	return out, nil
}

// ExpensesByRequest lists a request's expenses for its owner or a scoped admin
func (s *queryServiceImpl) ExpensesByRequest(ctx context.Context, reqID, userID string) ([]*entity.Expense, error) {
	empty := []*entity.Expense{}
	if reqID == "" || entity.NormalizeID(userID) == "" {
		return empty, nil
	}

	req, err := s.requests.GetByID(ctx, reqID)
	if err != nil {
		return nil, s.fail("load request", err)
	}
	if req == nil {
		return empty, nil
	}

	if !req.IsOwnedBy(userID) {
		user, err := s.directory.GetUser(ctx, entity.NormalizeID(userID))
		if err != nil {
			return nil, s.fail("load user", err)
		}
		if !user.IsAdmin() || !user.CanAccessCompany(req.Company) {
			return empty, nil
		}
	}

	expenses, err := s.expenses.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, s.fail("list expenses", err)
	}
	return expenses, nil
}

// admin returns the caller when they are an admin, or nil otherwise
func (s *queryServiceImpl) admin(ctx context.Context, userID string) (*entity.User, error) {
	id := entity.NormalizeID(userID)
	if id == "" {
		return nil, nil
	}
	user, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, s.fail("load user", err)
	}
	if !user.IsAdmin() {
		return nil, nil
	}
	return user, nil
}

func (s *queryServiceImpl) fail(step string, err error) error {
	s.logger.Error("Query failed", "step", step, "error", err)
	return apperr.Dependency(err, "failed to %s", step)
}

func newRequestView(r *entity.TripRequest) *RequestView {
	return &RequestView{TripRequest: r, Facets: r.Log.Facets()}
}

func scopedViews(reqs []*entity.TripRequest, admin *entity.User) []*RequestView {
	views := make([]*RequestView, 0, len(reqs))
	for _, r := range reqs {
		if admin.CanAccessCompany(r.Company) {
			views = append(views, newRequestView(r))
		}
	}
	return views
}
