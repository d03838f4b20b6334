package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/trip-approval/internal/application/dispatcher"
	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/garyjia/trip-approval/internal/application/port"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/garyjia/trip-approval/internal/domain/event"
	"github.com/garyjia/trip-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives workflow counters
type Metrics interface {
	IncTransition(kind, from, to string)
	IncNotificationFailure(kind string)
	IncUploadFailure()
}

type noopMetrics struct{}

func (noopMetrics) IncTransition(kind, from, to string) {}
func (noopMetrics) IncNotificationFailure(kind string)  {}
func (noopMetrics) IncUploadFailure()                   {}

// LockTimeouts bounds how long an operation waits for a lock
type LockTimeouts struct {
	// Quick applies to single-record operations
	Quick time.Duration
	// Long applies to operations that also touch the expense table
	Long time.Duration
}

// DefaultLockTimeouts matches the production configuration defaults
var DefaultLockTimeouts = LockTimeouts{Quick: 10 * time.Second, Long: 30 * time.Second}

// Deps bundles the collaborators shared by the workflow services
type Deps struct {
	Requests  port.RequestRepository
	Expenses  port.ExpenseRepository
	Directory port.DirectoryRepository
	Tx        port.TransactionManager
	Locks     *lock.Manager
	IDs       port.IDGenerator
	Events    dispatcher.Dispatcher
	Metrics   Metrics
	Timeouts  LockTimeouts
	Clock     func() time.Time
	Logger    Logger
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Timeouts.Quick <= 0 {
		d.Timeouts.Quick = DefaultLockTimeouts.Quick
	}
	if d.Timeouts.Long <= 0 {
		d.Timeouts.Long = DefaultLockTimeouts.Long
	}
	if d.Locks == nil {
		d.Locks = lock.NewManager()
	}
	return d
}

// Decision is an approver's verdict on a request or expense
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve" or "reject" in any case
func ParseDecision(v string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(v))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	default:
		return "", apperr.Validation("unknown decision %q", v)
	}
}

func (d Decision) trigger() workflow.Trigger {
	if d == DecisionApprove {
		return workflow.TriggerApprove
	}
	return workflow.TriggerReject
}

// base holds the helpers shared by the workflow services
type base struct {
	Deps
}

func newBase(deps Deps) base {
	return base{Deps: deps.withDefaults()}
}

func (b *base) now() time.Time {
	return b.Clock()
}

func (b *base) loadRequest(ctx context.Context, id string) (*entity.TripRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("request id is required")
	}
	req, err := b.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load request")
	}
	if req == nil {
		return nil, apperr.NotFound("request %s not found", id)
	}
	return req, nil
}

func (b *base) loadUser(ctx context.Context, id string) (*entity.User, error) {
	user, err := b.Directory.GetUser(ctx, entity.NormalizeID(id))
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load user")
	}
	return user, nil
}

// requireAdmin checks that userID is an admin scoped to every given company
func (b *base) requireAdmin(ctx context.Context, userID string, companies ...string) (*entity.User, error) {
	user, err := b.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, apperr.Authorization("only an admin can do this")
	}
	for _, c := range companies {
		if !user.CanAccessCompany(c) {
			return nil, apperr.Authorization("no access to company %q", c)
		}
	}
	return user, nil
}

// fire applies trigger to the request's state machine and returns the new state
func (b *base) fire(ctx context.Context, req *entity.TripRequest, trigger workflow.Trigger) (string, error) {
	m, err := workflow.NewRequestMachine(req.Status)
	if err != nil {
		return "", apperr.StateConflict("request has an unknown status (%s)", req.Status)
	}

	if err := m.Fire(ctx, trigger); err != nil {
		label := entity.StatusLabel(req.Status)
		switch {
		case errors.Is(err, workflow.ErrGuardFailed):
			return "", apperr.StateConflict("there are additional expenses without an approval; wait for the decision before completing the trip")
		case workflow.State(req.Status).IsTerminal():
			return "", apperr.StateConflict("request is already finalized (%s)", label)
		case trigger == workflow.TriggerAnswerClarification:
			return "", apperr.StateConflict("no clarification is pending for this request (%s)", label)
		case trigger == workflow.TriggerComplete:
			return "", apperr.StateConflict("only an approved request can be completed (%s)", label)
		default:
			return "", apperr.StateConflict("request was already processed (%s)", label)
		}
	}

	b.Metrics.IncTransition("request", req.Status, m.State().String())
	return m.State().String(), nil
}

// persist writes the request row and appends entries in one transaction
func (b *base) persist(ctx context.Context, req *entity.TripRequest, entries ...auditlog.Entry) error {
	err := b.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := b.Requests.Update(txCtx, req); err != nil {
			return err
		}
		if len(entries) > 0 {
			return b.Requests.AppendLog(txCtx, req.ID, entries...)
		}
		return nil
	})
	if err != nil {
		b.Logger.Error("Failed to save request", "request_id", req.ID, "error", err)
		return apperr.Dependency(err, "failed to save request")
	}
	req.Log = req.Log.Append(entries...)
	return nil
}

// recordNotificationError appends a notification-error entry after a failed
// delivery. The parent operation has already committed and is not affected.
func (b *base) recordNotificationError(ctx context.Context, reqID, kind, actorID, actorName string, cause error) {
	b.Metrics.IncNotificationFailure(kind)
	b.Logger.Error("Notification failed", "request_id", reqID, "kind", kind, "error", cause)

	b.appendDetached(ctx, reqID, auditlog.NewEntry(auditlog.TypeNotificationError, actorID, actorName,
		fmt.Sprintf("%s notification failed: %v", kind, cause), b.now()))

	b.emit(ctx, event.TypeNotificationFailed, reqID, actorID, map[string]interface{}{
		"kind":  kind,
		"error": cause.Error(),
	})
}

// appendDetached writes entries in their own transaction after the parent
// operation has committed. A failure here is logged and otherwise ignored.
func (b *base) appendDetached(ctx context.Context, reqID string, entries ...auditlog.Entry) {
	err := b.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return b.Requests.AppendLog(txCtx, reqID, entries...)
	})
	if err != nil {
		b.Logger.Error("Failed to record delivery error", "request_id", reqID, "error", err)
	}
}

// resolveApprover identifies the acting admin of an expense decision. An
// explicit id goes through requireAdmin. A call that carries only a display
// name is matched by name against the directory's admins, and the company
// scope still applies.
func (b *base) resolveApprover(ctx context.Context, approverID, approverName string, companies ...string) (*entity.User, error) {
	if strings.TrimSpace(approverID) != "" {
		return b.requireAdmin(ctx, approverID, companies...)
	}
	name := strings.TrimSpace(approverName)
	if name == "" {
		return nil, apperr.Validation("approver is required")
	}

	users, err := b.Directory.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load users")
	}
	for _, u := range users {
		if !u.IsAdmin() || !strings.EqualFold(strings.TrimSpace(u.Name), name) {
			continue
		}
		if canAccessAll(u, companies) {
			return u, nil
		}
	}
	return nil, apperr.Authorization("%s is not an admin of this company", name)
}

func canAccessAll(u *entity.User, companies []string) bool {
	for _, c := range companies {
		if !u.CanAccessCompany(c) {
			return false
		}
	}
	return true
}

// emit publishes a committed change to subscribers without blocking the caller
func (b *base) emit(ctx context.Context, eventType event.Type, reqID, actorID string, payload map[string]interface{}) {
	if b.Events == nil {
		return
	}
	b.Events.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(eventType, reqID, actorID, payload))
}
