package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/domain/event"
	"github.com/garyjia/trip-approval/internal/domain/perdiem"
	"github.com/garyjia/trip-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// Result is returned by every mutating operation
type Result struct {
	Message      string   `json:"message"`
	RequestID    string   `json:"reqId,omitempty"`
	FilesSkipped bool     `json:"filesSkipped,omitempty"`
	Debug        []string `json:"debug,omitempty"`
}

// CreateRequestInput is the requester's trip form
type CreateRequestInput struct {
	UserID        string
	UserName      string
	Company       string
	Department    string
	Purpose       string
	DateStart     string
	DateEnd       string
	PeopleCount   int
	PerDiemName   string
	PerDiemRate   decimal.Decimal
	PlanItems     []entity.PlanItem
	PaymentMethod string
	PaymentCard   string
	Comment       string
}

// RequestEdits overlays a request during edit-and-approve.
// Empty strings, zero numbers and nil slices keep the current value.
type RequestEdits struct {
	Company       string
	Department    string
	Purpose       string
	DateStart     string
	DateEnd       string
	PeopleCount   int
	PerDiemName   string
	PerDiemRate   decimal.Decimal
	PlanItems     []entity.PlanItem
	PaymentMethod string
	PaymentCard   string
}

// RequestService drives the trip request lifecycle
type RequestService interface {
	Create(ctx context.Context, in CreateRequestInput) (*Result, error)
	Decide(ctx context.Context, reqID string, decision Decision, approverID, approverName string) (*Result, error)
	UpdateAndApprove(ctx context.Context, reqID string, edits RequestEdits, adminComment, approverID, approverName string) (*Result, error)
	RequestClarification(ctx context.Context, reqID, question, adminID, adminName string) (*Result, error)
	AnswerClarification(ctx context.Context, reqID, answer, userID string) (*Result, error)
	Complete(ctx context.Context, reqID, userID string) (*Result, error)
}

type requestServiceImpl struct {
	base
	reference     ReferenceService
	notifications NotificationService
}

// NewRequestService creates a new RequestService
func NewRequestService(deps Deps, reference ReferenceService, notifications NotificationService) RequestService {
	return &requestServiceImpl{
		base:          newBase(deps),
		reference:     reference,
		notifications: notifications,
	}
}

// Create validates the form, computes the per-diem and stores a NEW request
func (s *requestServiceImpl) Create(ctx context.Context, in CreateRequestInput) (*Result, error) {
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, apperr.Validation("trip purpose is required")
	}
	start, end, err := parseTripDates(in.DateStart, in.DateEnd)
	if err != nil {
		return nil, err
	}
	payment, card, err := normalizePayment(in.PaymentMethod, in.PaymentCard)
	if err != nil {
		return nil, err
	}
	for _, it := range in.PlanItems {
		if it.Amount.IsNegative() {
			return nil, apperr.Validation("planned amount for %q cannot be negative", it.Name)
		}
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	user, err := s.loadUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user %s is not registered", entity.NormalizeID(in.UserID))
	}
	company := strings.TrimSpace(in.Company)
	if !user.CanAccessCompany(company) {
		return nil, apperr.Authorization("no access to company %q", company)
	}

	rates, err := s.reference.ResolveRates(ctx, in.PerDiemName, in.PerDiemRate)
	if err != nil {
		return nil, err
	}

	people := perdiem.CoercePeople(in.PeopleCount)
	userName := strings.TrimSpace(in.UserName)
	if userName == "" {
		userName = user.Name
	}
	planItems := in.PlanItems
	if planItems == nil {
		planItems = []entity.PlanItem{}
	}

	now := s.now()
	req := &entity.TripRequest{
		ID:                   s.IDs.NewID(),
		UserID:               user.ID,
		UserName:             userName,
		CreatedAt:            now,
		Company:              company,
		Department:           strings.TrimSpace(in.Department),
		Purpose:              strings.TrimSpace(in.Purpose),
		DateStart:            start.Format(perdiem.DateLayout),
		DateEnd:              end.Format(perdiem.DateLayout),
		PeopleCount:          people,
		PerDiemName:          strings.TrimSpace(in.PerDiemName),
		PerDiemRate:          rates.Long,
		DailyTotal:           perdiem.TieredTotal(start, end, people, rates),
		PlanItems:            planItems,
		PlanItemsTotal:       entity.SumPlanItems(planItems),
		AdditionalItems:      []entity.ApprovedItem{},
		AdditionalItemsTotal: decimal.Zero,
		PaymentMethod:        payment,
		PaymentCard:          card,
		Status:               entity.RequestStatusNew,
	}

	req.Log = auditlog.Log{}.Append(auditlog.NewEntry(auditlog.TypeRequestCreated, user.ID, userName, "Request created", now))
	if c := strings.TrimSpace(in.Comment); c != "" {
		req.Log = req.Log.Append(auditlog.NewEntry(auditlog.TypeComment, user.ID, userName, c, now))
	}

	err = s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.Requests.Create(txCtx, req)
	})
	if err != nil {
		s.Logger.Error("Failed to create request", "user_id", user.ID, "error", err)
		return nil, apperr.Dependency(err, "failed to save request")
	}

	s.Logger.Info("Request created", "request_id", req.ID, "user_id", user.ID, "company", company)
	s.emit(ctx, event.TypeRequestCreated, req.ID, user.ID, map[string]interface{}{
		"company":     company,
		"daily_total": req.DailyTotal.String(),
	})

	return &Result{Message: "Request submitted.", RequestID: req.ID}, nil
}

// Decide approves or rejects a NEW or CLARIFIED request
func (s *requestServiceImpl) Decide(ctx context.Context, reqID string, decision Decision, approverID, approverName string) (*Result, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.Validation("unknown decision %q", decision)
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	admin, err := s.requireAdmin(ctx, approverID, req.Company)
	if err != nil {
		return nil, err
	}
	approverName = displayName(approverName, admin)

	next, err := s.fire(ctx, req, decision.trigger())
	if err != nil {
		return nil, err
	}

	now := s.now()
	req.Status = next
	req.Approver = approverName
	req.UpdatedAt = &now

	entry := auditlog.NewEntry(auditlog.TypeDecision, admin.ID, approverName, next, now)
	if err := s.persist(ctx, req, entry); err != nil {
		return nil, err
	}

	s.Logger.Info("Request decided", "request_id", req.ID, "status", next, "approver_id", admin.ID)
	release()

	// a request decided after an earlier edit still reports the last edit
	facets := req.Log.Facets()
	if err := s.notifications.NotifyRequestDecided(ctx, req, facets.EditSummary, facets.AdminComment); err != nil {
		s.recordNotificationError(ctx, req.ID, "decision", admin.ID, approverName, err)
	}

	eventType := event.TypeRequestApproved
	if next == entity.RequestStatusRejected {
		eventType = event.TypeRequestRejected
	}
	s.emit(ctx, eventType, req.ID, admin.ID, map[string]interface{}{"status": next})

	if next == entity.RequestStatusRejected {
		return &Result{Message: "Request rejected.", RequestID: req.ID}, nil
	}
	return &Result{Message: "Request approved.", RequestID: req.ID}, nil
}

// UpdateAndApprove overlays admin edits, recomputes the per-diem and approves
func (s *requestServiceImpl) UpdateAndApprove(ctx context.Context, reqID string, edits RequestEdits, adminComment, approverID, approverName string) (*Result, error) {
	adminComment = strings.TrimSpace(adminComment)
	if adminComment == "" {
		return nil, apperr.Validation("a comment is required when editing a request")
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}

	updated, err := overlay(current, edits)
	if err != nil {
		return nil, err
	}

	admin, err := s.requireAdmin(ctx, approverID, current.Company, updated.Company)
	if err != nil {
		return nil, err
	}
	approverName = displayName(approverName, admin)

	next, err := s.fire(ctx, current, workflow.TriggerEditAndApprove)
	if err != nil {
		return nil, err
	}

	start, end, err := parseTripDates(updated.DateStart, updated.DateEnd)
	if err != nil {
		return nil, err
	}
	fallback := edits.PerDiemRate
	if fallback.IsZero() {
		fallback = current.PerDiemRate
	}
	rates, err := s.reference.ResolveRates(ctx, updated.PerDiemName, fallback)
	if err != nil {
		return nil, err
	}
	updated.DateStart = start.Format(perdiem.DateLayout)
	updated.DateEnd = end.Format(perdiem.DateLayout)
	updated.PerDiemRate = rates.Long
	updated.DailyTotal = perdiem.TieredTotal(start, end, updated.PeopleCount, rates)

	summary := BuildEditSummary(current, updated)

	now := s.now()
	updated.Status = next
	updated.Approver = approverName
	updated.UpdatedAt = &now

	var entries []auditlog.Entry
	if summary != "" {
		entries = append(entries, auditlog.NewEntry(auditlog.TypeEditSummary, admin.ID, approverName, summary, now))
	}
	entries = append(entries,
		auditlog.NewEntry(auditlog.TypeAdminComment, admin.ID, approverName, adminComment, now),
		auditlog.NewEntry(auditlog.TypeDecision, admin.ID, approverName, next, now),
	)
	if err := s.persist(ctx, updated, entries...); err != nil {
		return nil, err
	}

	s.Logger.Info("Request edited and approved", "request_id", updated.ID, "approver_id", admin.ID, "changes", summary)
	release()

	if err := s.notifications.NotifyRequestDecided(ctx, updated, summary, adminComment); err != nil {
		s.recordNotificationError(ctx, updated.ID, "decision", admin.ID, approverName, err)
	}
	s.emit(ctx, event.TypeRequestEdited, updated.ID, admin.ID, map[string]interface{}{
		"status":  next,
		"changes": summary,
	})

	return &Result{Message: "Request updated and approved.", RequestID: updated.ID}, nil
}

// RequestClarification moves the request to NEEDS_CLARIFICATION and asks the requester
func (s *requestServiceImpl) RequestClarification(ctx context.Context, reqID, question, adminID, adminName string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("a clarification question is required")
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	admin, err := s.requireAdmin(ctx, adminID, req.Company)
	if err != nil {
		return nil, err
	}
	adminName = displayName(adminName, admin)

	next, err := s.fire(ctx, req, workflow.TriggerRequestClarification)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req.Status = next
	req.UpdatedAt = &now

	entry := auditlog.NewEntry(auditlog.TypeClarificationQuestion, admin.ID, adminName, question, now)
	if err := s.persist(ctx, req, entry); err != nil {
		return nil, err
	}

	s.Logger.Info("Clarification requested", "request_id", req.ID, "admin_id", admin.ID)
	release()

	if err := s.notifications.NotifyClarificationRequested(ctx, req, question); err != nil {
		s.recordNotificationError(ctx, req.ID, "clarification", admin.ID, adminName, err)
	}
	s.emit(ctx, event.TypeClarificationRequested, req.ID, admin.ID, nil)

	return &Result{Message: "Clarification requested.", RequestID: req.ID}, nil
}

// AnswerClarification records the requester's answer and returns the request to review
func (s *requestServiceImpl) AnswerClarification(ctx context.Context, reqID, answer, userID string) (*Result, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, apperr.Validation("an answer is required")
	}

	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Quick)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if !req.IsOwnedBy(userID) {
		return nil, apperr.Authorization("only the requester can answer")
	}

	next, err := s.fire(ctx, req, workflow.TriggerAnswerClarification)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req.Status = next
	req.UpdatedAt = &now

	entry := auditlog.NewEntry(auditlog.TypeClarificationAnswer, req.UserID, req.UserName, answer, now)
	if err := s.persist(ctx, req, entry); err != nil {
		return nil, err
	}

	s.Logger.Info("Clarification answered", "request_id", req.ID)
	release()

	if err := s.notifications.NotifyClarificationAnswered(ctx, req, answer); err != nil {
		s.recordNotificationError(ctx, req.ID, "clarification-answer", req.UserID, req.UserName, err)
	}
	s.emit(ctx, event.TypeClarificationAnswered, req.ID, req.UserID, nil)

	return &Result{Message: "Answer sent.", RequestID: req.ID}, nil
}

// Complete closes an approved trip once every additional expense is approved
func (s *requestServiceImpl) Complete(ctx context.Context, reqID, userID string) (*Result, error) {
	release, err := s.Locks.AcquireGlobal(ctx, s.Timeouts.Long)
	if err != nil {
		return nil, err
	}
	defer release()

	releaseRecord, err := s.Locks.AcquireRecord(ctx, recordKey(reqID), s.Timeouts.Long)
	if err != nil {
		return nil, err
	}
	defer releaseRecord()

	req, err := s.loadRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if !req.IsOwnedBy(userID) {
		return nil, apperr.Authorization("only the requester can complete the trip")
	}

	expenses, err := s.Expenses.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load expenses")
	}

	guardCtx := workflow.WithExpensesSettled(ctx, !entity.HasUnresolved(expenses))
	next, err := s.fire(guardCtx, req, workflow.TriggerComplete)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req.Status = next
	req.UpdatedAt = &now
	req.CompletedAt = &now

	entry := auditlog.NewEntry(auditlog.TypeCompleted, req.UserID, req.UserName, "Trip completed", now)
	if err := s.persist(ctx, req, entry); err != nil {
		return nil, err
	}

	s.Logger.Info("Trip completed", "request_id", req.ID)
	s.emit(ctx, event.TypeRequestCompleted, req.ID, req.UserID, nil)

	return &Result{Message: "Trip completed.", RequestID: req.ID}, nil
}

// BuildEditSummary lists changed fields as "label: old → new" joined by "; "
func BuildEditSummary(current, updated *entity.TripRequest) string {
	var changes []string
	add := func(label, before, after string) {
		if before != after {
			changes = append(changes, fmt.Sprintf("%s: %s → %s", label, before, after))
		}
	}
	dash := func(v string) string {
		if v == "" {
			return "-"
		}
		return v
	}

	add("Company", current.Company, updated.Company)
	add("Department", current.Department, updated.Department)
	add("Purpose", current.Purpose, updated.Purpose)
	add("Start date", current.DateStart, updated.DateStart)
	add("End date", current.DateEnd, updated.DateEnd)
	add("People", fmt.Sprint(current.PeopleCount), fmt.Sprint(updated.PeopleCount))
	add("Payment", current.PaymentMethod, updated.PaymentMethod)
	add("Card", dash(current.PaymentCard), dash(updated.PaymentCard))
	add("Per-diem rate", current.PerDiemRate.String(), updated.PerDiemRate.String())
	add("Per-diem total", current.DailyTotal.String(), updated.DailyTotal.String())
	add("Planned expenses", current.PlanItemsTotal.String(), updated.PlanItemsTotal.String())

	return strings.Join(changes, "; ")
}

// overlay returns a copy of current with the non-empty edits applied
func overlay(current *entity.TripRequest, edits RequestEdits) (*entity.TripRequest, error) {
	updated := *current
	pick := func(edit, cur string) string {
		if v := strings.TrimSpace(edit); v != "" {
			return v
		}
		return cur
	}

	updated.Company = pick(edits.Company, current.Company)
	updated.Department = pick(edits.Department, current.Department)
	updated.Purpose = pick(edits.Purpose, current.Purpose)
	updated.DateStart = pick(edits.DateStart, current.DateStart)
	updated.DateEnd = pick(edits.DateEnd, current.DateEnd)
	updated.PerDiemName = pick(edits.PerDiemName, current.PerDiemName)
	if edits.PeopleCount > 0 {
		updated.PeopleCount = edits.PeopleCount
	}
	updated.PeopleCount = perdiem.CoercePeople(updated.PeopleCount)

	if edits.PlanItems != nil {
		for _, it := range edits.PlanItems {
			if it.Amount.IsNegative() {
				return nil, apperr.Validation("planned amount for %q cannot be negative", it.Name)
			}
		}
		updated.PlanItems = edits.PlanItems
		updated.PlanItemsTotal = entity.SumPlanItems(edits.PlanItems)
	}

	method := pick(edits.PaymentMethod, current.PaymentMethod)
	card := current.PaymentCard
	if strings.TrimSpace(edits.PaymentCard) != "" {
		card = edits.PaymentCard
	}
	payment, card, err := normalizePayment(method, card)
	if err != nil {
		return nil, err
	}
	updated.PaymentMethod = payment
	updated.PaymentCard = card

	return &updated, nil
}

func parseTripDates(startRaw, endRaw string) (start, end time.Time, err error) {
	start, err = perdiem.ParseDate(startRaw)
	if err != nil {
		return start, end, apperr.Validation("start date is invalid: %v", err)
	}
	end, err = perdiem.ParseDate(endRaw)
	if err != nil {
		return start, end, apperr.Validation("end date is invalid: %v", err)
	}
	if end.Before(start) {
		return start, end, apperr.Validation("end date %s is before start date %s", end.Format(perdiem.DateLayout), start.Format(perdiem.DateLayout))
	}
	return start, end, nil
}

// normalizePayment canonicalises the payment method and enforces the card rule
func normalizePayment(method, card string) (string, string, error) {
	card = strings.TrimSpace(card)
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card", "карта":
		if card == "" {
			return "", "", apperr.Validation("a card is required for card payment")
		}
		return entity.PaymentCard, card, nil
	case "", "cash", "готівка":
		return entity.PaymentCash, "", nil
	default:
		return "", "", apperr.Validation("unknown payment method %q", method)
	}
}

func displayName(given string, user *entity.User) string {
	if v := strings.TrimSpace(given); v != "" {
		return v
	}
	return user.Name
}

func recordKey(reqID string) string {
	return "request:" + strings.TrimSpace(reqID)
}
