package workflow

import (
	"context"
	"fmt"
)

type expensesSettledKey struct{}

// WithExpensesSettled records whether every additional expense of the request
// being completed has been approved. TriggerComplete is only permitted when it
// has.
func WithExpensesSettled(ctx context.Context, settled bool) context.Context {
	return context.WithValue(ctx, expensesSettledKey{}, settled)
}

func expensesSettled(ctx context.Context) bool {
	settled, _ := ctx.Value(expensesSettledKey{}).(bool)
	return settled
}

var requestMachine = newRequestBuilder()

func newRequestBuilder() StateMachineBuilder {
	b := NewBuilder()

	for _, s := range []State{StateNew, StateClarified} {
		b.Configure(s).
			Permit(TriggerApprove, StateApproved).
			Permit(TriggerReject, StateRejected).
			Permit(TriggerEditAndApprove, StateApproved).
			Permit(TriggerRequestClarification, StateNeedsClarification)
	}

	b.Configure(StateNeedsClarification).
		Permit(TriggerAnswerClarification, StateClarified)

	b.Configure(StateApproved).
		PermitIf(TriggerComplete, StateCompleted, expensesSettled)

	return b
}

// NewRequestMachine returns a trip request machine positioned at status
func NewRequestMachine(status string) (StateMachine, error) {
	s := State(status)
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, status)
	}
	return requestMachine.Build(s), nil
}
