package workflow

import "fmt"

var expenseMachine = newExpenseBuilder()

func newExpenseBuilder() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StateNew).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected)
	return b
}

// NewExpenseMachine returns an expense machine positioned at status.
// Approved and rejected expenses accept no triggers.
func NewExpenseMachine(status string) (StateMachine, error) {
	s := State(status)
	switch s {
	case StateNew, StateApproved, StateRejected:
		return expenseMachine.Build(s), nil
	default:
		return nil, fmt.Errorf("%w: %q is not an expense status", ErrInvalidState, status)
	}
}
