package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FileURLSeparator joins uploaded file URLs in Expense.FileURLs
const FileURLSeparator = ", "

// Expense is an additional cost claimed against an approved trip request
type Expense struct {
	ID            string          `json:"expenseId"`
	ReqID         string          `json:"reqId"`
	UserID        string          `json:"userId"`
	UserName      string          `json:"userName"`
	CreatedAt     time.Time       `json:"created"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Link          string          `json:"link"`
	FileURLs      string          `json:"fileUrls"`
	Status        string          `json:"status"`
	Approver      string          `json:"approver"`
	DecidedAt     *time.Time      `json:"decidedAt,omitempty"`
	Company       string          `json:"company"`
	SubmissionKey string          `json:"-"`
}

// FileURLList splits FileURLs into individual links
func (e *Expense) FileURLList() []string {
	return SplitList(e.FileURLs)
}

// JoinFileURLs is the inverse of FileURLList
func JoinFileURLs(urls []string) string {
	return strings.Join(urls, FileURLSeparator)
}

// ApprovedSummary is the derived aggregate of a request's approved expenses
type ApprovedSummary struct {
	Items []ApprovedItem
	Total decimal.Decimal
}

// SummarizeApproved builds the approved-expense aggregate from the current
// expense rows, preserving their order. The result depends only on the input.
func SummarizeApproved(expenses []*Expense) ApprovedSummary {
	summary := ApprovedSummary{Items: []ApprovedItem{}, Total: decimal.Zero}
	for _, e := range expenses {
		if e.Status != ExpenseStatusApproved {
			continue
		}
		summary.Items = append(summary.Items, ApprovedItem{
			Name:        e.Name,
			Amount:      e.Amount,
			Description: e.Description,
			Link:        e.Link,
			FileURLs:    e.FileURLs,
			Approver:    e.Approver,
			DecidedAt:   e.DecidedAt,
		})
		summary.Total = summary.Total.Add(e.Amount)
	}
	return summary
}

// HasUnresolved returns true if any expense is not approved.
// A rejected expense still counts as unresolved.
func HasUnresolved(expenses []*Expense) bool {
	for _, e := range expenses {
		if e.Status != ExpenseStatusApproved {
			return true
		}
	}
	return false
}
