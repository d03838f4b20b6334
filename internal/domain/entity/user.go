package entity

import "github.com/shopspring/decimal"

// User is a directory record describing who may do what
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Company string `json:"company"`
	Cards   string `json:"cards"`
}

// IsAdmin returns true if the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Companies returns the companies the user is scoped to
func (u *User) Companies() []string {
	if u == nil {
		return nil
	}
	return SplitList(u.Company)
}

// CanAccessCompany returns true if company is in the user's scope
func (u *User) CanAccessCompany(company string) bool {
	for _, c := range u.Companies() {
		if c == company {
			return true
		}
	}
	return false
}

// PerDiemRate is one row of the per-diem rate table
type PerDiemRate struct {
	Name      string          `json:"name"`
	RateShort decimal.Decimal `json:"rateShort"`
	RateLong  decimal.Decimal `json:"rateLong"`
}

// Directory is the full reference data set, used by the workbook importer
type Directory struct {
	Users          []*User
	Departments    []string
	Rates          []PerDiemRate
	ExpenseOptions []string
}
