package workflow

// State is a lifecycle status shared by trip requests and expenses.
// Expenses only use NEW, APPROVED and REJECTED.
type State string

const (
	StateNew                State = "NEW"
	StateNeedsClarification State = "NEEDS_CLARIFICATION"
	StateClarified          State = "CLARIFIED"
	StateApproved           State = "APPROVED"
	StateRejected           State = "REJECTED"
	StateCompleted          State = "COMPLETED"
)

func (s State) String() string {
	return string(s)
}

func (s State) IsValid() bool {
	switch s {
	case StateNew, StateNeedsClarification, StateClarified,
		StateApproved, StateRejected, StateCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether a trip request in s accepts no further action
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateCompleted
}
