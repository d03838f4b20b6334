// Package workbook reads and writes the spreadsheet layout used before the
// service had its own database: a "Logs" sheet of trip requests, an
// "Expenses" sheet and a "Settings" sheet of reference data.
package workbook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	SheetLogs     = "Logs"
	SheetExpenses = "Expenses"
	SheetSettings = "Settings"

	// TimestampLayout is the dd.MM.yyyy HH:mm format of every timestamp cell
	TimestampLayout = "02.01.2006 15:04"
)

// RequestHeaders is the header row of the Logs sheet
var RequestHeaders = []string{
	"UserId",
	"Користувач",
	"ReqId",
	"Створено",
	"Компанія",
	"Відділ",
	"Мета",
	"Дата початку",
	"Дата кінця",
	"Людей",
	"Ставка добових (назва)",
	"Ставка добових (грн)",
	"Сума добових",
	"Планові витрати (JSON)",
	"Сума планових",
	"Додаткові витрати (JSON)",
	"Сума додаткових",
	"Оплата",
	"Карта",
	"Статус",
	"Погодив",
	"Оновлено",
	"Завершено",
	"Лог (JSON)",
}

// ExpenseHeaders is the header row of the Expenses sheet
var ExpenseHeaders = []string{
	"ExpenseId", "ReqId", "UserId", "UserName", "CreatedAt",
	"Name", "Amount", "Description", "Link", "FileUrls",
	"Status", "Approver", "DecidedAt", "Company",
}

// Settings layout. Users occupy A:E from row 2, departments H, expense
// options I, and the per-diem table K3:M16.
const (
	settingsFirstRow  = 2
	colDepartments    = 7
	colExpenseOptions = 8
	colRateName       = 10
	ratesFirstRow     = 3
	ratesLastRow      = 16
)

var requestStatusLabels = map[string]string{
	entity.RequestStatusNew:                "Нова",
	entity.RequestStatusNeedsClarification: "Потребує уточнення",
	entity.RequestStatusClarified:          "Уточнено",
	entity.RequestStatusApproved:           "Погоджено",
	entity.RequestStatusRejected:           "Відхилено",
	entity.RequestStatusCompleted:          "Завершено",
}

var expenseStatusLabels = map[string]string{
	entity.ExpenseStatusNew:      "Нова",
	entity.ExpenseStatusApproved: "Погоджено",
	entity.ExpenseStatusRejected: "Відхилено",
}

const (
	legacyCard  = "Карта"
	legacyCash  = "Готівка"
	legacyAdmin = "Адмін"
	legacyUser  = "Користувач"

	legacyCreatedText = "Створено заявку"
)

// legacy log entry types
const (
	legacyRequest       = "запит"
	legacyComment       = "коментар"
	legacyAdminComment  = "коментар_адмін"
	legacyEditSummary   = "зміни"
	legacyDecision      = "рішення"
	legacyAnswer        = "відповідь"
	legacyCompleted     = "завершено"
	legacyMessageFailed = "telegram_error"
)

var entryTypeLabels = map[auditlog.EntryType]string{
	auditlog.TypeComment:             legacyComment,
	auditlog.TypeAdminComment:        legacyAdminComment,
	auditlog.TypeEditSummary:         legacyEditSummary,
	auditlog.TypeDecision:            legacyDecision,
	auditlog.TypeClarificationAnswer: legacyAnswer,
	auditlog.TypeCompleted:           legacyCompleted,
	auditlog.TypeNotificationError:   legacyMessageFailed,
}

func labelFor(labels map[string]string, status string) string {
	if label, ok := labels[status]; ok {
		return label
	}
	return status
}

func statusFrom(labels map[string]string, label string) (string, bool) {
	label = strings.TrimSpace(label)
	for status, l := range labels {
		if l == label || status == label {
			return status, true
		}
	}
	return "", false
}

func paymentLabel(method string) string {
	if method == entity.PaymentCard {
		return legacyCard
	}
	return legacyCash
}

func paymentFrom(label string) string {
	switch strings.TrimSpace(label) {
	case legacyCard, entity.PaymentCard:
		return entity.PaymentCard
	default:
		return entity.PaymentCash
	}
}

func roleLabel(role string) string {
	if role == entity.RoleAdmin {
		return legacyAdmin
	}
	return legacyUser
}

func roleFrom(label string) string {
	switch strings.TrimSpace(label) {
	case legacyAdmin, entity.RoleAdmin:
		return entity.RoleAdmin
	default:
		return entity.RoleUser
	}
}

type legacyEntry struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Date     string `json:"date"`
	Text     string `json:"text"`
}

// encodeLog writes the audit log in the sheet's JSON shape
func encodeLog(l auditlog.Log) (string, error) {
	out := make([]legacyEntry, 0, len(l))
	for _, e := range l {
		typ, text := entryTypeLabels[e.Type], e.Text
		switch e.Type {
		case auditlog.TypeRequestCreated:
			typ, text = legacyRequest, legacyCreatedText
		case auditlog.TypeClarificationQuestion:
			typ = legacyRequest
		}
		if typ == "" {
			typ = e.Type.String()
		}
		out = append(out, legacyEntry{
			Type:     typ,
			UserID:   e.UserID,
			UserName: e.UserName,
			Date:     e.Timestamp.Format(TimestampLayout),
			Text:     text,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeLog reads the sheet's JSON log. Malformed input yields an empty log.
func decodeLog(raw string, loc *time.Location) auditlog.Log {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return auditlog.Log{}
	}
	var entries []legacyEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return auditlog.Log{}
	}

	out := make(auditlog.Log, 0, len(entries))
	for _, le := range entries {
		at, _ := parseTimestamp(le.Date, loc)
		out = append(out, auditlog.NewEntry(entryTypeFrom(le), le.UserID, le.UserName, le.Text, at))
	}
	return out
}

func entryTypeFrom(le legacyEntry) auditlog.EntryType {
	if le.Type == legacyRequest {
		if t := strings.TrimSpace(le.Text); t == "" || t == legacyCreatedText {
			return auditlog.TypeRequestCreated
		}
		return auditlog.TypeClarificationQuestion
	}
	for typ, label := range entryTypeLabels {
		if label == le.Type {
			return typ
		}
	}
	return auditlog.EntryType(le.Type)
}

// parseTimestamp accepts the text layout or a spreadsheet date serial
func parseTimestamp(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(TimestampLayout, v, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("02.01.2006", v, loc); err == nil {
		return t, true
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), true
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), true
	}
	return time.Time{}, false
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

// parseAmount reads a money cell; blanks and junk count as zero
func parseAmount(v string) decimal.Decimal {
	v = strings.ReplaceAll(strings.TrimSpace(v), " ", "")
	v = strings.ReplaceAll(v, ",", ".")
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parsePlanItems decodes plan items whose amounts may be numbers, numeric
// strings or blanks
func parsePlanItems(raw string) []entity.PlanItem {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []entity.PlanItem{}
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return []entity.PlanItem{}
	}
	items := make([]entity.PlanItem, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		var amount decimal.Decimal
		switch v := row["amount"].(type) {
		case float64:
			amount = decimal.NewFromFloat(v)
		case string:
			amount = parseAmount(v)
		}
		items = append(items, entity.PlanItem{Name: name, Amount: amount})
	}
	return items
}

// cell returns row[i] or "" for ragged rows
func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func marshalItems(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

// stripQuote drops the apostrophe used to keep dates as text
func stripQuote(v string) string {
	return strings.TrimLeft(v, "'")
}
