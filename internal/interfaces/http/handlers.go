package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/trip-approval/internal/application/service"
	"github.com/garyjia/trip-approval/internal/domain/apperr"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Exporter writes the workbook download
type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
}

// HealthFunc reports overall health and a per-component breakdown
type HealthFunc func(ctx context.Context) (bool, interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	requests  service.RequestService
	expenses  service.ExpenseService
	queries   service.QueryService
	reference service.ReferenceService
	exporter  Exporter
	health    HealthFunc
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		requests:  deps.Requests,
		expenses:  deps.Expenses,
		queries:   deps.Queries,
		reference: deps.Reference,
		exporter:  deps.Exporter,
		health:    deps.Health,
		logger:    logger,
	}
}

// WriteResponse is the envelope of every POST /exec reply
type WriteResponse struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	RequestID    string   `json:"reqId,omitempty"`
	FilesSkipped bool     `json:"filesSkipped,omitempty"`
	Debug        []string `json:"debug,omitempty"`
}

// ErrorResponse is returned by GET /exec when the read fails
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
		return
	}

	healthy, details := h.health(c.Request.Context())
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().Unix(),
		"components": details,
	})
}

// Read handles GET /exec
func (h *Handlers) Read(c *gin.Context) {
	ctx := c.Request.Context()
	action := c.Query("action")
	userID := c.Query("userId")

	var (
		result interface{}
		err    error
	)
	switch action {
	case "getUserInfo":
		result, err = h.reference.UserInfo(ctx, userID)
	case "getDepartments":
		result, err = h.reference.Departments(ctx)
	case "getUserRequests":
		result, err = h.queries.UserRequests(ctx, userID)
	case "getPendingRequests":
		result, err = h.queries.PendingRequests(ctx, userID)
	case "getAdminRequests":
		result, err = h.queries.AdminRequests(ctx, userID)
	case "getDailyRates":
		result, err = h.reference.PerDiemRates(ctx)
	case "getTripExpenseOptions":
		result, err = h.reference.ExpenseOptions(ctx)
	case "getPendingExpenses":
		result, err = h.queries.PendingExpenses(ctx, userID)
	case "getPendingExpensesGrouped":
		result, err = h.queries.PendingExpensesGrouped(ctx, userID)
	case "getExpensesByReqId":
		result, err = h.queries.ExpensesByRequest(ctx, c.Query("reqId"), userID)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown action %q", action)})
		return
	}

	if err != nil {
		h.logFailure("read", action, err)
		c.JSON(http.StatusOK, ErrorResponse{Error: apperr.Message(err)})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Write handles POST /exec
func (h *Handlers) Write(c *gin.Context) {
	var p writePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, WriteResponse{Status: statusError, Message: "invalid request body: " + err.Error()})
		return
	}

	res, err := h.dispatchWrite(c.Request.Context(), &p)
	if errors.Is(err, errUnknownAction) {
		c.JSON(http.StatusBadRequest, WriteResponse{Status: statusError, Message: err.Error()})
		return
	}
	if err != nil {
		h.logFailure("write", p.Action, err)
		msg := apperr.Message(err)
		if apperr.IsBusy(err) {
			msg = "busy"
		}
		c.JSON(http.StatusOK, WriteResponse{Status: statusError, Message: msg})
		return
	}

	c.JSON(http.StatusOK, WriteResponse{
		Status:       statusSuccess,
		Message:      res.Message,
		RequestID:    res.RequestID,
		FilesSkipped: res.FilesSkipped,
		Debug:        res.Debug,
	})
}

var errUnknownAction = errors.New("unknown action")

func (h *Handlers) dispatchWrite(ctx context.Context, p *writePayload) (*service.Result, error) {
	switch p.Action {
	case "createRequest":
		if p.Data == nil {
			return nil, apperr.Validation("request data is required")
		}
		return h.requests.Create(ctx, p.Data.createInput())

	case "approveRequest":
		decision, err := service.ParseDecision(p.Decision)
		if err != nil {
			return nil, err
		}
		return h.requests.Decide(ctx, p.RowID.String(), decision, p.approverID(), p.Approver)

	case "updateAndApproveRequest":
		if p.Data == nil {
			return nil, apperr.Validation("request data is required")
		}
		return h.requests.UpdateAndApprove(ctx, p.RowID.String(), p.Data.edits(), p.Data.AdminComment, p.approverID(), p.Approver)

	case "requestClarification":
		return h.requests.RequestClarification(ctx, p.RowID.String(), p.Question, p.AdminID.String(), p.AdminName)

	case "submitClarificationAnswer":
		return h.requests.AnswerClarification(ctx, p.RowID.String(), p.Answer, p.UserID.String())

	case "submitExpenses":
		in, err := p.submitInput()
		if err != nil {
			return nil, apperr.Validation("%v", err)
		}
		return h.expenses.Submit(ctx, in)

	case "decideExpense":
		decision, err := service.ParseDecision(p.Decision)
		if err != nil {
			return nil, err
		}
		return h.expenses.Decide(ctx, p.ExpenseID.String(), decision, p.approverID(), p.Approver)

	case "decideExpensesBatch":
		decision, err := service.ParseDecision(p.Decision)
		if err != nil {
			return nil, err
		}
		return h.expenses.DecideBatch(ctx, p.batchItems(), decision, p.approverID(), p.Approver)

	case "completeTrip":
		return h.requests.Complete(ctx, p.RowID.String(), p.UserID.String())

	case "clearCache":
		h.reference.ClearCache(ctx, p.UserID.String())
		return &service.Result{Message: "ok"}, nil

	default:
		return nil, fmt.Errorf("%w %q", errUnknownAction, p.Action)
	}
}

// Export handles GET /export.xlsx. Only admins may download the workbook.
func (h *Handlers) Export(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.reference.UserInfo(ctx, c.Query("userId"))
	if err != nil {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: apperr.Message(err)})
		return
	}
	if !user.IsAdmin() {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only an admin can export the workbook"})
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Export(ctx, &buf); err != nil {
		h.logger.Error("Workbook export failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "export failed"})
		return
	}

	name := fmt.Sprintf("trips-%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// logFailure keeps expected user errors at info level
func (h *Handlers) logFailure(verb, action string, err error) {
	switch apperr.Kind(err) {
	case apperr.ErrDependency, nil:
		h.logger.Error("Action failed", "verb", verb, "action", action, "error", err)
	default:
		h.logger.Info("Action rejected", "verb", verb, "action", action, "reason", apperr.Message(err))
	}
}
