package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestCreated         Type = "request.created"
	TypeRequestApproved        Type = "request.approved"
	TypeRequestRejected        Type = "request.rejected"
	TypeRequestEdited          Type = "request.edited"
	TypeClarificationRequested Type = "request.clarification_requested"
	TypeClarificationAnswered  Type = "request.clarification_answered"
	TypeRequestCompleted       Type = "request.completed"
	TypeExpensesSubmitted      Type = "expense.submitted"
	TypeExpenseDecided         Type = "expense.decided"
	TypeNotificationFailed     Type = "notification.failed"
)

// AllTypes lists every defined event type
var AllTypes = []Type{
	TypeRequestCreated,
	TypeRequestApproved,
	TypeRequestRejected,
	TypeRequestEdited,
	TypeClarificationRequested,
	TypeClarificationAnswered,
	TypeRequestCompleted,
	TypeExpensesSubmitted,
	TypeExpenseDecided,
	TypeNotificationFailed,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}
