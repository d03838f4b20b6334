package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/trip-approval/internal/application/service"
	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// flexString accepts a JSON string or number. Chat ids arrive as either.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) String() string {
	return string(s)
}

// flexAmount accepts a number, a numeric string with a comma or spaces, or
// nothing at all. Blank values read as zero.
type flexAmount struct {
	decimal.Decimal
	set bool
}

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	v := strings.TrimSpace(raw.String())
	v = strings.ReplaceAll(v, " ", "")
	v = strings.ReplaceAll(v, "\u00a0", "")
	v = strings.ReplaceAll(v, ",", ".")
	if v == "" {
		*a = flexAmount{}
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid amount %q", raw)
	}
	*a = flexAmount{Decimal: d, set: true}
	return nil
}

// flexInt accepts a number or a numeric string; anything else reads as zero
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw.String()), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}

type planItemPayload struct {
	Name   string     `json:"name"`
	Amount flexAmount `json:"amount"`
}

func toPlanItems(in []planItemPayload) []entity.PlanItem {
	if in == nil {
		return nil
	}
	out := make([]entity.PlanItem, 0, len(in))
	for _, it := range in {
		out = append(out, entity.PlanItem{Name: strings.TrimSpace(it.Name), Amount: it.Amount.Decimal})
	}
	return out
}

// requestForm is the trip form shared by createRequest and updateAndApproveRequest
type requestForm struct {
	UserID        flexString        `json:"userId"`
	UserName      string            `json:"userName"`
	Company       string            `json:"company"`
	Department    string            `json:"department"`
	Purpose       string            `json:"purpose"`
	DateStart     string            `json:"dateStart"`
	DateEnd       string            `json:"dateEnd"`
	PeopleCount   flexInt           `json:"peopleCount"`
	PerDiemName   string            `json:"perDiemName"`
	PerDiemRate   flexAmount        `json:"perDiemRate"`
	PlanItems     []planItemPayload `json:"planItems"`
	PaymentMethod string            `json:"paymentMethod"`
	PaymentCard   flexString        `json:"paymentCard"`
	Comment       string            `json:"comment"`
	AdminComment  string            `json:"adminComment"`
}

func (f requestForm) createInput() service.CreateRequestInput {
	return service.CreateRequestInput{
		UserID:        f.UserID.String(),
		UserName:      f.UserName,
		Company:       f.Company,
		Department:    f.Department,
		Purpose:       f.Purpose,
		DateStart:     f.DateStart,
		DateEnd:       f.DateEnd,
		PeopleCount:   int(f.PeopleCount),
		PerDiemName:   f.PerDiemName,
		PerDiemRate:   f.PerDiemRate.Decimal,
		PlanItems:     toPlanItems(f.PlanItems),
		PaymentMethod: f.PaymentMethod,
		PaymentCard:   f.PaymentCard.String(),
		Comment:       f.Comment,
	}
}

func (f requestForm) edits() service.RequestEdits {
	return service.RequestEdits{
		Company:       f.Company,
		Department:    f.Department,
		Purpose:       f.Purpose,
		DateStart:     f.DateStart,
		DateEnd:       f.DateEnd,
		PeopleCount:   int(f.PeopleCount),
		PerDiemName:   f.PerDiemName,
		PerDiemRate:   f.PerDiemRate.Decimal,
		PlanItems:     toPlanItems(f.PlanItems),
		PaymentMethod: f.PaymentMethod,
		PaymentCard:   f.PaymentCard.String(),
	}
}

type filePayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Mime     string `json:"mime"`
	Data     string `json:"data"`
}

type expensePayload struct {
	Name        string        `json:"name"`
	Amount      flexAmount    `json:"amount"`
	Description string        `json:"description"`
	Link        string        `json:"link"`
	Files       []filePayload `json:"files"`
}

type expenseItemPayload struct {
	ExpenseID flexString `json:"expenseId"`
	Amount    flexAmount `json:"amount"`
}

// writePayload is the body of POST /exec. Each action reads the fields it needs.
type writePayload struct {
	Action string `json:"action"`

	RowID      flexString `json:"rowId"`
	UserID     flexString `json:"userId"`
	UserName   string     `json:"userName"`
	Approver   string     `json:"approver"`
	ApproverID flexString `json:"approverId"`
	AdminID    flexString `json:"adminId"`
	AdminName  string     `json:"adminName"`
	Decision   string     `json:"decision"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`

	Data *requestForm `json:"data"`

	Expenses      []expensePayload     `json:"expenses"`
	SubmissionKey string               `json:"submissionKey"`
	ExpenseID     flexString           `json:"expenseId"`
	ExpenseIDs    []flexString         `json:"expenseIds"`
	ExpenseItems  []expenseItemPayload `json:"expenseItems"`
}

// approverID falls back to userId for clients that send only one of them
func (p *writePayload) approverID() string {
	if id := strings.TrimSpace(p.ApproverID.String()); id != "" {
		return id
	}
	return strings.TrimSpace(p.UserID.String())
}

// submitInput decodes receipts and builds the service input
func (p *writePayload) submitInput() (service.SubmitExpensesInput, error) {
	in := service.SubmitExpensesInput{
		RequestID:     p.RowID.String(),
		UserID:        p.UserID.String(),
		UserName:      p.UserName,
		SubmissionKey: p.SubmissionKey,
		Items:         make([]service.ExpenseInput, 0, len(p.Expenses)),
	}
	for i, exp := range p.Expenses {
		item := service.ExpenseInput{
			Name:        exp.Name,
			Amount:      exp.Amount.Decimal,
			Description: exp.Description,
			Link:        exp.Link,
		}
		for j, f := range exp.Files {
			data, err := decodeFileData(f.Data)
			if err != nil {
				return in, fmt.Errorf("expense %d file %d: %w", i+1, j+1, err)
			}
			mime := f.MimeType
			if mime == "" {
				mime = f.Mime
			}
			item.Files = append(item.Files, service.FileUpload{Name: f.Name, MimeType: mime, Data: data})
		}
		in.Items = append(in.Items, item)
	}
	return in, nil
}

// batchItems returns the selected expenseIds in order. expenseItems only
// carries amount corrections; entries for ids that are not selected are ignored.
func (p *writePayload) batchItems() []service.ExpenseDecision {
	amounts := make(map[string]*decimal.Decimal, len(p.ExpenseItems))
	for _, it := range p.ExpenseItems {
		if !it.Amount.set {
			continue
		}
		amount := it.Amount.Decimal
		amounts[strings.TrimSpace(it.ExpenseID.String())] = &amount
	}

	out := make([]service.ExpenseDecision, 0, len(p.ExpenseIDs))
	seen := make(map[string]bool, len(p.ExpenseIDs))
	for _, raw := range p.ExpenseIDs {
		id := strings.TrimSpace(raw.String())
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, service.ExpenseDecision{ExpenseID: id, Amount: amounts[id]})
	}
	return out
}

// decodeFileData accepts plain base64 or a data URL
func decodeFileData(v string) ([]byte, error) {
	if i := strings.Index(v, ";base64,"); i >= 0 && strings.HasPrefix(v, "data:") {
		v = v[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	return data, nil
}
