package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logTypes(l auditlog.Log) []auditlog.EntryType {
	out := make([]auditlog.EntryType, 0, len(l))
	for _, e := range l {
		out = append(out, e.Type)
	}
	return out
}

func TestRequestService_Create(t *testing.T) {
	t.Run("stores a new request with tiered per-diem", func(t *testing.T) {
		env := newTestEnv(t)
		in := validInput()
		in.Comment = "  need a hotel near the office "

		res, err := env.requestSvc.Create(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "1001", res.RequestID)

		req := env.requests.get(t, res.RequestID)
		assert.Equal(t, entity.RequestStatusNew, req.Status)
		assert.Equal(t, "Alpha", req.Company)
		assert.Equal(t, 2, req.PeopleCount)
		// (3*300 + 2*200) * 2 people
		assert.True(t, req.DailyTotal.Equal(decimal.NewFromInt(2600)), "daily total %s", req.DailyTotal)
		assert.True(t, req.PerDiemRate.Equal(decimal.NewFromInt(200)))
		assert.True(t, req.PlanItemsTotal.Equal(decimal.NewFromInt(1000)))
		assert.True(t, req.AdditionalItemsTotal.IsZero())
		assert.Equal(t, entity.PaymentCash, req.PaymentMethod)
		assert.Equal(t, testNow, req.CreatedAt)

		require.Len(t, req.Log, 2)
		assert.Equal(t, auditlog.TypeRequestCreated, req.Log[0].Type)
		assert.Equal(t, "need a hotel near the office", req.Log[1].Text)
		assert.Empty(t, env.notifier.recipients(), "creation does not notify")
	})

	t.Run("unknown rate name falls back to the flat rate", func(t *testing.T) {
		env := newTestEnv(t)
		in := validInput()
		in.PerDiemName = "Moon"
		in.PerDiemRate = decimal.NewFromInt(250)

		res, err := env.requestSvc.Create(context.Background(), in)
		require.NoError(t, err)

		req := env.requests.get(t, res.RequestID)
		assert.True(t, req.DailyTotal.Equal(decimal.NewFromInt(2500)), "daily total %s", req.DailyTotal)
	})

	t.Run("non-positive people count is stored as one", func(t *testing.T) {
		env := newTestEnv(t)
		in := validInput()
		in.PeopleCount = 0

		res, err := env.requestSvc.Create(context.Background(), in)
		require.NoError(t, err)

		req := env.requests.get(t, res.RequestID)
		assert.Equal(t, 1, req.PeopleCount)
		assert.True(t, req.DailyTotal.Equal(decimal.NewFromInt(1300)))
	})

	t.Run("card payment keeps the card", func(t *testing.T) {
		env := newTestEnv(t)
		in := validInput()
		in.PaymentMethod = "card"
		in.PaymentCard = " 4441 "

		res, err := env.requestSvc.Create(context.Background(), in)
		require.NoError(t, err)

		req := env.requests.get(t, res.RequestID)
		assert.Equal(t, entity.PaymentCard, req.PaymentMethod)
		assert.Equal(t, "4441", req.PaymentCard)
	})

	tests := []struct {
		name    string
		mutate  func(in *CreateRequestInput)
		wantErr error
	}{
		{"missing purpose", func(in *CreateRequestInput) { in.Purpose = " " }, apperr.ErrValidation},
		{"bad start date", func(in *CreateRequestInput) { in.DateStart = "02.06.2025" }, apperr.ErrValidation},
		{"end before start", func(in *CreateRequestInput) { in.DateEnd = "2025-06-01" }, apperr.ErrValidation},
		{"card without number", func(in *CreateRequestInput) { in.PaymentMethod = "Card" }, apperr.ErrValidation},
		{"unknown payment", func(in *CreateRequestInput) { in.PaymentMethod = "barter" }, apperr.ErrValidation},
		{"negative plan item", func(in *CreateRequestInput) {
			in.PlanItems = []entity.PlanItem{{Name: "Refund", Amount: decimal.NewFromInt(-5)}}
		}, apperr.ErrValidation},
		{"company outside scope", func(in *CreateRequestInput) { in.Company = "Gamma" }, apperr.ErrAuthorization},
		{"unregistered user", func(in *CreateRequestInput) { in.UserID = "999" }, apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := validInput()
			tt.mutate(&in)

			_, err := env.requestSvc.Create(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			all, _ := env.requests.ListAll(context.Background())
			assert.Empty(t, all)
		})
	}
}

func TestRequestService_Decide(t *testing.T) {
	t.Run("approve notifies the requester", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		res, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "")
		require.NoError(t, err)
		assert.Equal(t, "Request approved.", res.Message)

		req := env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)
		assert.Equal(t, "Iryna Admin", req.Approver)
		require.NotNil(t, req.UpdatedAt)

		last := req.Log[len(req.Log)-1]
		assert.Equal(t, auditlog.TypeDecision, last.Type)
		assert.Equal(t, entity.RequestStatusApproved, last.Text)

		msgs := env.notifier.messagesTo(userID)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "Status: Approved")
		assert.Contains(t, msgs[0], "Dates: 02.06.2025 - 06.06.2025")
		assert.Contains(t, msgs[0], "Total: 3600.00 UAH")
		assert.Contains(t, env.metrics.transitions, "request:NEW->APPROVED")
	})

	t.Run("reject is terminal", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		res, err := env.requestSvc.Decide(context.Background(), id, DecisionReject, adminID, "Iryna")
		require.NoError(t, err)
		assert.Equal(t, "Request rejected.", res.Message)

		_, err = env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrStateConflict))
		assert.Equal(t, "request is already finalized (Rejected)", apperr.Message(err))
		assert.Equal(t, entity.RequestStatusRejected, env.requests.get(t, id).Status)
	})

	t.Run("second approval conflicts without writing", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.approvedRequest(t)
		before := env.requests.get(t, id)

		_, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		require.Error(t, err)
		assert.Equal(t, "request was already processed (Approved)", apperr.Message(err))
		assert.Equal(t, before, env.requests.get(t, id))
	})

	t.Run("authorization", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		for _, who := range []string{userID, otherAdminID, "999"} {
			_, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, who, "x")
			assert.True(t, errors.Is(err, apperr.ErrAuthorization), "approver %s: %v", who, err)
		}
		assert.Equal(t, entity.RequestStatusNew, env.requests.get(t, id).Status)
	})

	t.Run("unknown request", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.requestSvc.Decide(context.Background(), "42", DecisionApprove, adminID, "x")
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})

	t.Run("notification failure keeps the decision", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)
		env.notifier.failures[userID] = errors.New("bot blocked")

		_, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		require.NoError(t, err)

		req := env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)
		assert.Equal(t, []auditlog.EntryType{
			auditlog.TypeRequestCreated,
			auditlog.TypeDecision,
			auditlog.TypeNotificationError,
		}, logTypes(req.Log))
		assert.Contains(t, req.Log[2].Text, "bot blocked")
		assert.Equal(t, 1, env.metrics.notificationFailures["decision"])
	})

	t.Run("requester is notified without the lock held", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		var lockedDuringSend int
		env.notifier.onSend = func() {
			release, err := env.locks.AcquireGlobal(context.Background(), 10*time.Millisecond)
			if err != nil {
				lockedDuringSend++
				return
			}
			release()
		}

		_, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		require.NoError(t, err)
		_, err = env.requestSvc.RequestClarification(context.Background(), env.createRequest(t), "Which client?", adminID, "Iryna")
		require.NoError(t, err)

		assert.Len(t, env.notifier.messagesTo(userID), 2)
		assert.Zero(t, lockedDuringSend)
	})

	t.Run("busy lock leaves the request untouched", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		release, err := env.locks.AcquireGlobal(context.Background(), time.Second)
		require.NoError(t, err)
		defer release()

		_, err = env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		assert.True(t, apperr.IsBusy(err))
		assert.Equal(t, entity.RequestStatusNew, env.requests.get(t, id).Status)
	})

	t.Run("storage failure is a dependency error", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)
		env.requests.updateFunc = func(ctx context.Context, req *entity.TripRequest) error {
			return errors.New("disk I/O error")
		}

		_, err := env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		assert.True(t, errors.Is(err, apperr.ErrDependency))
		assert.Equal(t, "failed to save request", apperr.Message(err))
		assert.Empty(t, env.notifier.recipients())
	})
}

func TestRequestService_ConcurrentDecisions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createRequest(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, conflicts int

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := DecisionApprove
			if i%2 == 1 {
				decision = DecisionReject
			}
			_, err := env.requestSvc.Decide(context.Background(), id, decision, adminID, "Iryna")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrStateConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, conflicts)

	decisions := 0
	for _, e := range env.requests.get(t, id).Log {
		if e.Type == auditlog.TypeDecision {
			decisions++
		}
	}
	assert.Equal(t, 1, decisions)
}

func TestRequestService_Clarification(t *testing.T) {
	t.Run("question and answer round trip", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		_, err := env.requestSvc.RequestClarification(context.Background(), id, "Why two people?", adminID, "Iryna")
		require.NoError(t, err)

		req := env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusNeedsClarification, req.Status)
		assert.Equal(t, "Why two people?", req.Log.Facets().ClarifyQuestion)
		require.Len(t, env.notifier.messagesTo(userID), 1)
		assert.Contains(t, env.notifier.messagesTo(userID)[0], "Why two people?")

		_, err = env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		assert.True(t, errors.Is(err, apperr.ErrStateConflict), "cannot approve while waiting for an answer")

		_, err = env.requestSvc.AnswerClarification(context.Background(), id, "Driver and manager", " '200")
		require.NoError(t, err)

		req = env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusClarified, req.Status)
		assert.Equal(t, "Driver and manager", req.Log.Facets().ClarifyAnswer)

		toAdmin := env.notifier.messagesTo(adminID)
		require.Len(t, toAdmin, 1)
		assert.Contains(t, toAdmin[0], "Clarification received")
		assert.Empty(t, env.notifier.messagesTo(secondAdminID), "only the asking admin is told")

		_, err = env.requestSvc.Decide(context.Background(), id, DecisionApprove, adminID, "Iryna")
		assert.NoError(t, err, "clarified request can be approved")
	})

	t.Run("answer falls back to company admins", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)
		_, err := env.requestSvc.RequestClarification(context.Background(), id, "Hotel?", adminID, "Iryna")
		require.NoError(t, err)

		env.notifier.failures[adminID] = errors.New("chat not found")

		_, err = env.requestSvc.AnswerClarification(context.Background(), id, "Yes", userID)
		require.NoError(t, err)

		assert.Len(t, env.notifier.messagesTo(secondAdminID), 1)
		req := env.requests.get(t, id)
		assert.Equal(t, auditlog.TypeNotificationError, req.Log[len(req.Log)-1].Type)
	})

	t.Run("validation and ownership", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		_, err := env.requestSvc.RequestClarification(context.Background(), id, "  ", adminID, "Iryna")
		assert.True(t, errors.Is(err, apperr.ErrValidation))

		_, err = env.requestSvc.AnswerClarification(context.Background(), id, "unprompted", userID)
		assert.True(t, errors.Is(err, apperr.ErrStateConflict))
		assert.Contains(t, apperr.Message(err), "no clarification is pending")

		_, err = env.requestSvc.RequestClarification(context.Background(), id, "Why?", adminID, "Iryna")
		require.NoError(t, err)

		_, err = env.requestSvc.AnswerClarification(context.Background(), id, "because", otherUserID)
		assert.True(t, errors.Is(err, apperr.ErrAuthorization))

		_, err = env.requestSvc.AnswerClarification(context.Background(), id, "", userID)
		assert.True(t, errors.Is(err, apperr.ErrValidation))

		assert.Equal(t, entity.RequestStatusNeedsClarification, env.requests.get(t, id).Status)
	})
}

func TestRequestService_UpdateAndApprove(t *testing.T) {
	t.Run("recomputes per-diem and records the diff", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		edits := RequestEdits{PeopleCount: 3, DateEnd: "2025-06-03"}
		_, err := env.requestSvc.UpdateAndApprove(context.Background(), id, edits, "Shorter trip", adminID, "Iryna")
		require.NoError(t, err)

		req := env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)
		assert.Equal(t, 3, req.PeopleCount)
		// 2 days * 300 * 3 people
		assert.True(t, req.DailyTotal.Equal(decimal.NewFromInt(1800)), "daily total %s", req.DailyTotal)

		assert.Equal(t, []auditlog.EntryType{
			auditlog.TypeRequestCreated,
			auditlog.TypeEditSummary,
			auditlog.TypeAdminComment,
			auditlog.TypeDecision,
		}, logTypes(req.Log))

		facets := req.Log.Facets()
		assert.Equal(t, "End date: 2025-06-06 → 2025-06-03; People: 2 → 3; Per-diem total: 2600 → 1800", facets.EditSummary)
		assert.Equal(t, "Shorter trip", facets.AdminComment)

		msgs := env.notifier.messagesTo(userID)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "Changes:\nEnd date: 2025-06-06 → 2025-06-03\nPeople: 2 → 3")
		assert.Contains(t, msgs[0], "Comment: Shorter trip")
	})

	t.Run("switching to card shows the card change", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createRequest(t)

		edits := RequestEdits{PaymentMethod: "Card", PaymentCard: "5168"}
		_, err := env.requestSvc.UpdateAndApprove(context.Background(), id, edits, "company card", adminID, "Iryna")
		require.NoError(t, err)

		summary := env.requests.get(t, id).Log.Facets().EditSummary
		assert.Equal(t, "Payment: Cash → Card; Card: - → 5168", summary)
	})

	tests := []struct {
		name    string
		edits   RequestEdits
		comment string
		wantErr error
	}{
		{"comment required", RequestEdits{PeopleCount: 3}, " ", apperr.ErrValidation},
		{"card without number", RequestEdits{PaymentMethod: "Card"}, "ok", apperr.ErrValidation},
		{"moving to a foreign company", RequestEdits{Company: "Gamma"}, "ok", apperr.ErrAuthorization},
		{"bad date", RequestEdits{DateStart: "tomorrow"}, "ok", apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := env.createRequest(t)
			before := env.requests.get(t, id)

			_, err := env.requestSvc.UpdateAndApprove(context.Background(), id, tt.edits, tt.comment, adminID, "Iryna")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, before, env.requests.get(t, id))
		})
	}

	t.Run("approved request cannot be edited", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.approvedRequest(t)

		_, err := env.requestSvc.UpdateAndApprove(context.Background(), id, RequestEdits{PeopleCount: 5}, "late edit", adminID, "Iryna")
		assert.True(t, errors.Is(err, apperr.ErrStateConflict))
	})
}

func TestRequestService_Complete(t *testing.T) {
	t.Run("approved request without expenses", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.approvedRequest(t)

		res, err := env.requestSvc.Complete(context.Background(), id, userID)
		require.NoError(t, err)
		assert.Equal(t, "Trip completed.", res.Message)

		req := env.requests.get(t, id)
		assert.Equal(t, entity.RequestStatusCompleted, req.Status)
		require.NotNil(t, req.CompletedAt)
		assert.Equal(t, auditlog.TypeCompleted, req.Log[len(req.Log)-1].Type)
		assert.Equal(t, 0, env.locks.HeldRecords())

		_, err = env.requestSvc.Complete(context.Background(), id, userID)
		assert.Equal(t, "request is already finalized (Completed)", apperr.Message(err))
	})

	t.Run("pending expense blocks completion", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.approvedRequest(t)
		ids := env.submitExpenses(t, id, "Taxi")

		_, err := env.requestSvc.Complete(context.Background(), id, userID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrStateConflict))
		assert.Contains(t, apperr.Message(err), "additional expenses")

		_, err = env.expenseSvc.Decide(context.Background(), ids[0], DecisionApprove, adminID, "Iryna")
		require.NoError(t, err)

		_, err = env.requestSvc.Complete(context.Background(), id, userID)
		assert.NoError(t, err)
	})

	t.Run("rejected expense still blocks completion", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.approvedRequest(t)
		ids := env.submitExpenses(t, id, "Museum")

		_, err := env.expenseSvc.Decide(context.Background(), ids[0], DecisionReject, adminID, "Iryna")
		require.NoError(t, err)

		_, err = env.requestSvc.Complete(context.Background(), id, userID)
		assert.True(t, errors.Is(err, apperr.ErrStateConflict))
		assert.Equal(t, entity.RequestStatusApproved, env.requests.get(t, id).Status)
	})

	t.Run("only the owner of an approved request", func(t *testing.T) {
		env := newTestEnv(t)
		newID := env.createRequest(t)

		_, err := env.requestSvc.Complete(context.Background(), newID, userID)
		assert.Contains(t, apperr.Message(err), "only an approved request can be completed")

		approved := env.approvedRequest(t)
		_, err = env.requestSvc.Complete(context.Background(), approved, adminID)
		assert.True(t, errors.Is(err, apperr.ErrAuthorization))
	})
}
