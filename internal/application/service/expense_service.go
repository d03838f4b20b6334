package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/domain/event"
	"github.com/garyjia/trip-approval/internal/domain/workflow"
	"github.com/garyjia/trip-approval/pkg/utils"
	"github.com/shopspring/decimal"
)

// FileUpload is one receipt attached to an expense
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// ExpenseInput is one line of an expense submission
type ExpenseInput struct {
	Name        string
	Amount      decimal.Decimal
	Description string
	Link        string
	Files       []FileUpload
}

// SubmitExpensesInput is a batch of expenses for one approved request.
// SubmissionKey makes retries of the same batch idempotent when set.
type SubmitExpensesInput struct {
	RequestID     string
	UserID        string
	UserName      string
	SubmissionKey string
	Items         []ExpenseInput
}

// ExpenseDecision names an expense and an optional corrected amount
type ExpenseDecision struct {
	ExpenseID string
	Amount    *decimal.Decimal
}

// ExpenseService manages additional expenses claimed against approved trips
type ExpenseService interface {
	Submit(ctx context.Context, in SubmitExpensesInput) (*Result, error)
	Decide(ctx context.Context, expenseID string, decision Decision, approverID, approverName string) (*Result, error)
	DecideBatch(ctx context.Context, items []ExpenseDecision, decision Decision, approverID, approverName string) (*Result, error)
	// RecomputeApproved rebuilds the request's approved-expense aggregate
	RecomputeApproved(ctx context.Context, reqID string) (*entity.ApprovedSummary, error)
}

type expenseServiceImpl struct {
	base
	uploader      port.Uploader
	notifications NotificationService
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(deps Deps, uploader port.Uploader, notifications NotificationService) ExpenseService {
	return &expenseServiceImpl{
		base:          newBase(deps),
		uploader:      uploader,
		notifications: notifications,
	}
}

// Submit stores a batch of NEW expenses. Receipt upload failures are reported
// in the result but never fail the submission.
func (s *expenseServiceImpl) Submit(ctx context.Context, in SubmitExpensesInput) (*Result, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Validation("no expenses to submit")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, apperr.Validation("expense #%d has no name", i+1)
		}
		if err := utils.ValidateAmount(it.Amount); err != nil {
			return nil, apperr.Validation("expense %q: %v", it.Name, err)
		}
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Long)
	if err != nil {
		return nil, err
	}
	defer release()

	releaseRecord, err := s.Locks.AcquireRecord(ctx, recordKey(in.RequestID), s.Timeouts.Long)
	if err != nil {
		return nil, err
	}
	defer releaseRecord()

	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsOwnedBy(in.UserID) {
		return nil, apperr.Authorization("only the requester can add expenses")
	}
	if req.Status != entity.RequestStatusApproved {
		return nil, apperr.StateConflict("expenses can only be added to an approved request (%s)", entity.StatusLabel(req.Status))
	}

	key := strings.TrimSpace(in.SubmissionKey)
	if key != "" {
		exists, err := s.Expenses.SubmissionExists(ctx, req.ID, key)
		if err != nil {
			return nil, apperr.Dependency(err, "failed to check submission")
		}
		if exists {
			s.Logger.Info("Duplicate expense submission ignored", "request_id", req.ID, "submission_key", key)
			return &Result{Message: "Expenses submitted for approval.", RequestID: req.ID}, nil
		}
	}

	userName := strings.TrimSpace(in.UserName)
	if userName == "" {
		userName = req.UserName
	}

	result := &Result{RequestID: req.ID}
	uploads := s.newUploadSession(ctx, userName, req.ID, result)

	batchID := s.IDs.NewID()
	now := s.now()
	expenses := make([]*entity.Expense, 0, len(in.Items))
	for i, it := range in.Items {
		urls := uploads.uploadAll(ctx, it.Files)
		expenses = append(expenses, &entity.Expense{
			ID:            batchID + "_" + strconv.Itoa(i+1),
			ReqID:         req.ID,
			UserID:        req.UserID,
			UserName:      userName,
			CreatedAt:     now,
			Name:          utils.SanitizeString(it.Name),
			Amount:        it.Amount,
			Description:   strings.TrimSpace(it.Description),
			Link:          strings.TrimSpace(it.Link),
			FileURLs:      entity.JoinFileURLs(urls),
			Status:        entity.ExpenseStatusNew,
			Company:       req.Company,
			SubmissionKey: key,
		})
	}

	err = s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.Expenses.CreateBatch(txCtx, expenses)
	})
	if err != nil {
		s.Logger.Error("Failed to save expenses", "request_id", req.ID, "error", err)
		return nil, apperr.Dependency(err, "failed to save expenses")
	}

	s.Logger.Info("Expenses submitted", "request_id", req.ID, "count", len(expenses), "files_skipped", result.FilesSkipped)

	// the rows are committed; delivery runs without holding the locks
	releaseRecord()
	release()

	s.recordUploadFailures(ctx, req.ID, req.UserID, userName, uploads.failures)
	if err := s.notifications.NotifyExpensesSubmitted(ctx, req, userName); err != nil {
		s.recordNotificationError(ctx, req.ID, "expenses-submitted", req.UserID, userName, err)
	}
	s.emit(ctx, event.TypeExpensesSubmitted, req.ID, req.UserID, map[string]interface{}{
		"count":         len(expenses),
		"files_skipped": result.FilesSkipped,
	})

	result.Message = "Expenses submitted for approval."
	if result.FilesSkipped {
		result.Message = "Expenses submitted for approval, but some files were not uploaded."
	}
	return result, nil
}

// Decide approves or rejects one NEW expense
func (s *expenseServiceImpl) Decide(ctx context.Context, expenseID string, decision Decision, approverID, approverName string) (*Result, error) {
	expenseID = strings.TrimSpace(expenseID)
	if expenseID == "" {
		return nil, apperr.Validation("expense id is required")
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	exp, err := s.Expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load expense")
	}
	if exp == nil {
		return nil, apperr.NotFound("expense %s not found", expenseID)
	}

	out, err := s.decide(ctx, []*entity.Expense{exp}, map[string]*decimal.Decimal{}, decision, approverID, approverName)
	if err != nil {
		return nil, err
	}
	release()
	s.announce(ctx, out)

	if decision == DecisionApprove {
		return &Result{Message: "Expense approved.", RequestID: exp.ReqID}, nil
	}
	return &Result{Message: "Expense rejected.", RequestID: exp.ReqID}, nil
}

// DecideBatch applies one decision to many expenses. Unknown ids are skipped;
// an already decided expense fails the whole batch before anything is written.
func (s *expenseServiceImpl) DecideBatch(ctx context.Context, items []ExpenseDecision, decision Decision, approverID, approverName string) (*Result, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("no expenses selected")
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	overrides := make(map[string]*decimal.Decimal)
	seen := make(map[string]bool)
	var expenses []*entity.Expense
	for _, it := range items {
		id := strings.TrimSpace(it.ExpenseID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		exp, err := s.Expenses.GetByID(ctx, id)
		if err != nil {
			return nil, apperr.Dependency(err, "failed to load expense")
		}
		if exp == nil {
			s.Logger.Info("Skipping unknown expense in batch", "expense_id", id)
			continue
		}
		if it.Amount != nil {
			if err := utils.ValidateAmount(*it.Amount); err != nil {
				return nil, apperr.Validation("expense %s: %v", id, err)
			}
			overrides[id] = it.Amount
		}
		expenses = append(expenses, exp)
	}

	if len(expenses) == 0 {
		return &Result{Message: "No matching expenses to decide."}, nil
	}

	out, err := s.decide(ctx, expenses, overrides, decision, approverID, approverName)
	if err != nil {
		return nil, err
	}
	release()
	s.announce(ctx, out)

	if decision == DecisionApprove {
		return &Result{Message: fmt.Sprintf("%d expense(s) approved.", len(expenses))}, nil
	}
	return &Result{Message: fmt.Sprintf("%d expense(s) rejected.", len(expenses))}, nil
}

// RecomputeApproved rebuilds the aggregate under the global lock
func (s *expenseServiceImpl) RecomputeApproved(ctx context.Context, reqID string) (*entity.ApprovedSummary, error) {
	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}

	var summary entity.ApprovedSummary
	err = s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		summary, err = s.recompute(txCtx, req.ID)
		return err
	})
	if err != nil {
		return nil, apperr.Dependency(err, "failed to recompute approved expenses")
	}
	return &summary, nil
}

// decidedGroup is the part of a committed decision that one requester hears about
type decidedGroup struct {
	reqID    string
	expenses []*entity.Expense
}

// decisionOutcome is what decide committed, kept for announce
type decisionOutcome struct {
	decision     Decision
	approverID   string
	approverName string
	groups       []decidedGroup
}

// decide validates every expense first, then writes all decisions and the
// affected aggregates in one transaction. The caller announces the outcome
// once its locks are released.
func (s *expenseServiceImpl) decide(ctx context.Context, expenses []*entity.Expense, overrides map[string]*decimal.Decimal, decision Decision, approverID, approverName string) (*decisionOutcome, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.Validation("unknown decision %q", decision)
	}

	companies := make([]string, 0, len(expenses))
	for _, e := range expenses {
		companies = append(companies, e.Company)
	}
	admin, err := s.resolveApprover(ctx, approverID, approverName, companies...)
	if err != nil {
		return nil, err
	}
	approverName = displayName(approverName, admin)

	next := make(map[string]string, len(expenses))
	for _, e := range expenses {
		m, err := workflow.NewExpenseMachine(e.Status)
		if err != nil {
			return nil, apperr.StateConflict("expense %s has an unknown status (%s)", e.ID, e.Status)
		}
		if err := m.Fire(ctx, decision.trigger()); err != nil {
			return nil, apperr.StateConflict("expense %s was already processed (%s)", e.ID, entity.StatusLabel(e.Status))
		}
		next[e.ID] = m.State().String()
	}

	// request ids in first-seen order
	var reqIDs []string
	byReq := make(map[string][]*entity.Expense)
	for _, e := range expenses {
		if _, ok := byReq[e.ReqID]; !ok {
			reqIDs = append(reqIDs, e.ReqID)
		}
		byReq[e.ReqID] = append(byReq[e.ReqID], e)
	}

	now := s.now()
	err = s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, e := range expenses {
			if err := s.Expenses.Decide(txCtx, e.ID, next[e.ID], approverName, now, overrides[e.ID]); err != nil {
				return fmt.Errorf("decide expense %s: %w", e.ID, err)
			}
		}
		for _, reqID := range reqIDs {
			if _, err := s.recompute(txCtx, reqID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Failed to save expense decisions", "count", len(expenses), "error", err)
		return nil, apperr.Dependency(err, "failed to save expense decisions")
	}

	for _, e := range expenses {
		s.Metrics.IncTransition("expense", e.Status, next[e.ID])
		e.Status = next[e.ID]
		e.Approver = approverName
		decidedAt := now
		e.DecidedAt = &decidedAt
		if amount := overrides[e.ID]; amount != nil {
			e.Amount = *amount
		}
	}

	s.Logger.Info("Expenses decided", "count", len(expenses), "decision", string(decision), "approver_id", admin.ID)

	out := &decisionOutcome{decision: decision, approverID: admin.ID, approverName: approverName}
	for _, reqID := range reqIDs {
		out.groups = append(out.groups, decidedGroup{reqID: reqID, expenses: byReq[reqID]})
	}
	return out, nil
}

// announce notifies each requester once and publishes one event per request
func (s *expenseServiceImpl) announce(ctx context.Context, out *decisionOutcome) {
	for _, g := range out.groups {
		s.notifyExpenseOwner(ctx, g.reqID, g.expenses, out.decision, out.approverID, out.approverName)
		s.emit(ctx, event.TypeExpenseDecided, g.reqID, out.approverID, map[string]interface{}{
			"decision": string(out.decision),
			"count":    len(g.expenses),
		})
	}
}

func (s *expenseServiceImpl) notifyExpenseOwner(ctx context.Context, reqID string, group []*entity.Expense, decision Decision, adminID, adminName string) {
	purpose := ""
	if req, err := s.Requests.GetByID(ctx, reqID); err == nil && req != nil {
		purpose = req.Purpose
	}

	lines := make([]ExpenseLine, 0, len(group))
	for _, e := range group {
		lines = append(lines, ExpenseLine{Name: e.Name, Amount: e.Amount})
	}

	if err := s.notifications.NotifyExpensesDecided(ctx, group[0].UserID, purpose, decision, lines); err != nil {
		s.recordNotificationError(ctx, reqID, "expense-decision", adminID, adminName, err)
	}
}

// recompute derives the approved aggregate from the current expense rows
func (s *expenseServiceImpl) recompute(ctx context.Context, reqID string) (entity.ApprovedSummary, error) {
	expenses, err := s.Expenses.ListByRequest(ctx, reqID)
	if err != nil {
		return entity.ApprovedSummary{}, fmt.Errorf("list expenses for %s: %w", reqID, err)
	}
	summary := entity.SummarizeApproved(expenses)
	if err := s.Requests.SetAdditionalItems(ctx, reqID, summary.Items, summary.Total, s.now()); err != nil {
		return entity.ApprovedSummary{}, fmt.Errorf("store approved expenses for %s: %w", reqID, err)
	}
	return summary, nil
}

// recordUploadFailures appends one notification-error entry per receipt that
// was not stored. The expense rows are already committed.
func (s *expenseServiceImpl) recordUploadFailures(ctx context.Context, reqID, actorID, actorName string, failures []uploadFailure) {
	if len(failures) == 0 {
		return
	}

	now := s.now()
	entries := make([]auditlog.Entry, 0, len(failures))
	for _, f := range failures {
		entries = append(entries, auditlog.NewEntry(auditlog.TypeNotificationError, actorID, actorName,
			fmt.Sprintf("upload of %s failed: %s", f.file, f.reason), now))
	}
	s.appendDetached(ctx, reqID, entries...)

	s.emit(ctx, event.TypeNotificationFailed, reqID, actorID, map[string]interface{}{
		"kind":  "upload",
		"count": len(failures),
	})
}

type uploadFailure struct {
	file   string
	reason string
}

// uploadSession names and stores the receipts of one submission
type uploadSession struct {
	svc      *expenseServiceImpl
	prefix   string
	next     int
	disabled bool
	result   *Result
	failures []uploadFailure
}

func (s *expenseServiceImpl) newUploadSession(ctx context.Context, userName, reqID string, result *Result) *uploadSession {
	u := &uploadSession{
		svc:    s,
		prefix: fmt.Sprintf("%s_%s_", utils.SanitizeFileName(userName), reqID),
		result: result,
	}

	if s.uploader == nil || !s.uploader.Available(ctx) {
		u.disabled = true
		return u
	}

	count, err := s.uploader.CountWithPrefix(ctx, u.prefix)
	if err != nil {
		s.Logger.Error("Failed to count existing receipts", "prefix", u.prefix, "error", err)
		u.disabled = true
		return u
	}
	u.next = count + 1
	return u
}

func (u *uploadSession) uploadAll(ctx context.Context, files []FileUpload) []string {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		if u.disabled {
			u.skip(f.Name, "upload folder unavailable")
			continue
		}

		name := u.prefix + strconv.Itoa(u.next) + utils.FileExtension(f.Name)
		u.next++

		url, err := u.svc.uploader.Upload(ctx, name, f.MimeType, f.Data)
		if err != nil {
			u.svc.Logger.Error("Failed to upload receipt", "file", name, "error", err)
			u.skip(f.Name, err.Error())
			continue
		}
		u.result.Debug = append(u.result.Debug, "uploaded "+name)
		urls = append(urls, url)
	}
	return urls
}

func (u *uploadSession) skip(file, reason string) {
	u.svc.Metrics.IncUploadFailure()
	u.result.FilesSkipped = true
	u.failures = append(u.failures, uploadFailure{file: file, reason: reason})
	u.result.Debug = append(u.result.Debug, fmt.Sprintf("skipped %s: %s", file, reason))
}
