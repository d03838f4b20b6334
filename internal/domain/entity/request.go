package entity

import (
	"time"

	"github.com/garyjia/trip-approval/internal/domain/auditlog"
	"github.com/shopspring/decimal"
)

// TripRequest represents a pre-approval request for a business trip
type TripRequest struct {
	ID                   string          `json:"reqId"`
	UserID               string          `json:"userId"`
	UserName             string          `json:"userName"`
	CreatedAt            time.Time       `json:"created"`
	Company              string          `json:"company"`
	Department           string          `json:"dept"`
	Purpose              string          `json:"purpose"`
	DateStart            string          `json:"dStart"`
	DateEnd              string          `json:"dEnd"`
	PeopleCount          int             `json:"people"`
	PerDiemName          string          `json:"perDiemName"`
	PerDiemRate          decimal.Decimal `json:"perDiemRate"`
	DailyTotal           decimal.Decimal `json:"dailyTotal"`
	PlanItems            []PlanItem      `json:"planItems"`
	PlanItemsTotal       decimal.Decimal `json:"planItemsTotal"`
	AdditionalItems      []ApprovedItem  `json:"additionalItems"`
	AdditionalItemsTotal decimal.Decimal `json:"additionalItemsTotal"`
	PaymentMethod        string          `json:"payment"`
	PaymentCard          string          `json:"paymentCard"`
	Status               string          `json:"status"`
	Approver             string          `json:"approver"`
	UpdatedAt            *time.Time      `json:"updatedAt,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
	Log                  auditlog.Log    `json:"log"`
}

// PlanItem is a planned expense line declared at request time
type PlanItem struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// ApprovedItem is the snapshot of an approved expense kept on the request
type ApprovedItem struct {
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Link        string          `json:"link"`
	FileURLs    string          `json:"fileUrls"`
	Approver    string          `json:"approver"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty"`
}

// IsOwnedBy returns true if userID is the requester
func (r *TripRequest) IsOwnedBy(userID string) bool {
	return SameID(r.UserID, userID)
}

// TotalAmount is the per-diem, planned and approved additional totals combined
func (r *TripRequest) TotalAmount() decimal.Decimal {
	return r.DailyTotal.Add(r.PlanItemsTotal).Add(r.AdditionalItemsTotal)
}

// SumPlanItems adds up planned expense amounts
func SumPlanItems(items []PlanItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}
