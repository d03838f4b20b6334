package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
)

// NotificationService decides who hears about a committed change and what they read.
// Every method returns the delivery error so callers can record it; none of them
// roll anything back.
type NotificationService interface {
	NotifyRequestDecided(ctx context.Context, req *entity.TripRequest, summary, adminComment string) error
	NotifyClarificationRequested(ctx context.Context, req *entity.TripRequest, question string) error
	NotifyClarificationAnswered(ctx context.Context, req *entity.TripRequest, answer string) error
	NotifyExpensesSubmitted(ctx context.Context, req *entity.TripRequest, userName string) error
	NotifyExpensesDecided(ctx context.Context, userID, purpose string, decision Decision, items []ExpenseLine) error
}

type notificationServiceImpl struct {
	notifier  port.Notifier
	directory port.DirectoryRepository
	logger    Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier port.Notifier, directory port.DirectoryRepository, logger Logger) NotificationService {
	return &notificationServiceImpl{
		notifier:  notifier,
		directory: directory,
		logger:    logger,
	}
}

func (s *notificationServiceImpl) NotifyRequestDecided(ctx context.Context, req *entity.TripRequest, summary, adminComment string) error {
	return s.send(ctx, req.UserID, BuildDecisionMessage(req, req.Status, summary, adminComment))
}

func (s *notificationServiceImpl) NotifyClarificationRequested(ctx context.Context, req *entity.TripRequest, question string) error {
	return s.send(ctx, req.UserID, BuildClarificationRequestMessage(req.Purpose, question))
}

// NotifyClarificationAnswered tells the admin who asked the open question.
// When nobody can be identified, or that delivery fails, every admin of the
// request's company is told instead.
func (s *notificationServiceImpl) NotifyClarificationAnswered(ctx context.Context, req *entity.TripRequest, answer string) error {
	text := BuildClarificationAnswerMessage(req.Purpose, req.UserName, answer)

	if asked, ok := lastQuestion(req.Log); ok && asked.UserID != "" {
		err := s.send(ctx, asked.UserID, text)
		if err == nil {
			return nil
		}
		s.logger.Error("Failed to notify asking admin, falling back to company admins",
			"request_id", req.ID,
			"admin_id", asked.UserID,
			"error", err,
		)
	}

	return s.broadcastAdmins(ctx, req.Company, text)
}

func (s *notificationServiceImpl) NotifyExpensesSubmitted(ctx context.Context, req *entity.TripRequest, userName string) error {
	return s.broadcastAdmins(ctx, req.Company, BuildExpensesSubmittedMessage(req.Purpose, userName))
}

func (s *notificationServiceImpl) NotifyExpensesDecided(ctx context.Context, userID, purpose string, decision Decision, items []ExpenseLine) error {
	return s.send(ctx, userID, BuildExpenseDecisionMessage(purpose, decision, items))
}

func (s *notificationServiceImpl) send(ctx context.Context, recipientID, text string) error {
	recipientID = entity.NormalizeID(recipientID)
	if recipientID == "" {
		return fmt.Errorf("recipient is empty")
	}
	if err := s.notifier.Send(ctx, recipientID, text); err != nil {
		return fmt.Errorf("send to %s: %w", recipientID, err)
	}
	return nil
}

// broadcastAdmins sends text to every admin scoped to company
func (s *notificationServiceImpl) broadcastAdmins(ctx context.Context, company, text string) error {
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}

	var errs []error
	sent := 0
	for _, u := range users {
		if !u.IsAdmin() || !u.CanAccessCompany(company) {
			continue
		}
		if err := s.send(ctx, u.ID, text); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}

	if sent == 0 && len(errs) == 0 {
		return fmt.Errorf("no admins configured for company %q", company)
	}
	if len(errs) > 0 {
		s.logger.Error("Some admin notifications failed", "company", company, "failed", len(errs), "sent", sent)
	}
	return errors.Join(errs...)
}

// lastQuestion prefers the open question and otherwise the latest one asked
func lastQuestion(l auditlog.Log) (auditlog.Entry, bool) {
	if e, ok := l.OpenQuestion(); ok {
		return e, true
	}
	return l.Last(auditlog.TypeClarificationQuestion)
}
