package entity

// Status constants for TripRequest
const (
	RequestStatusNew                = "NEW"
	RequestStatusNeedsClarification = "NEEDS_CLARIFICATION"
	RequestStatusClarified          = "CLARIFIED"
	RequestStatusApproved           = "APPROVED"
	RequestStatusRejected           = "REJECTED"
	RequestStatusCompleted          = "COMPLETED"
)

// Status constants for Expense
const (
	ExpenseStatusNew      = "NEW"
	ExpenseStatusApproved = "APPROVED"
	ExpenseStatusRejected = "REJECTED"
)

// Payment method constants
const (
	PaymentCash = "Cash"
	PaymentCard = "Card"
)

// Role constants
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// PendingRequestStatuses are the statuses shown in the admin work queue
var PendingRequestStatuses = []string{
	RequestStatusNew,
	RequestStatusClarified,
	RequestStatusNeedsClarification,
}

// StatusLabel returns a human readable label for a request or expense status
func StatusLabel(status string) string {
	switch status {
	case RequestStatusNew:
		return "New"
	case RequestStatusNeedsClarification:
		return "Needs clarification"
	case RequestStatusClarified:
		return "Clarified"
	case RequestStatusApproved:
		return "Approved"
	case RequestStatusRejected:
		return "Rejected"
	case RequestStatusCompleted:
		return "Completed"
	default:
		return status
	}
}
