package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateNew, false},
		{StateNeedsClarification, false},
		{StateClarified, false},
		{StateApproved, false},
		{StateRejected, true},
		{StateCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StateNew, true},
		{"valid state", StateCompleted, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	NewBuilder().Configure(State("INVALID"))
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateApproved).
		PermitIf(TriggerComplete, StateCompleted, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StateApproved)

	err := machine.Fire(context.Background(), TriggerComplete)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if machine.State() != StateApproved {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateApproved, machine.State())
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	m1, _ := NewRequestMachine("NEW")
	m2, _ := NewRequestMachine("NEW")

	if err := m1.Fire(context.Background(), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}

	if m2.State() != StateNew {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", m2.State(), StateNew)
	}
}

func TestRequestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		trigger Trigger
		settled bool
		want    State
		wantErr error
	}{
		{"approve new", StateNew, TriggerApprove, false, StateApproved, nil},
		{"reject new", StateNew, TriggerReject, false, StateRejected, nil},
		{"edit and approve new", StateNew, TriggerEditAndApprove, false, StateApproved, nil},
		{"ask clarification on new", StateNew, TriggerRequestClarification, false, StateNeedsClarification, nil},
		{"approve clarified", StateClarified, TriggerApprove, false, StateApproved, nil},
		{"ask again on clarified", StateClarified, TriggerRequestClarification, false, StateNeedsClarification, nil},
		{"answer clarification", StateNeedsClarification, TriggerAnswerClarification, false, StateClarified, nil},
		{"complete with settled expenses", StateApproved, TriggerComplete, true, StateCompleted, nil},

		{"approve while waiting for answer", StateNeedsClarification, TriggerApprove, false, StateNeedsClarification, ErrInvalidTransition},
		{"answer when not asked", StateNew, TriggerAnswerClarification, false, StateNew, ErrInvalidTransition},
		{"approve twice", StateApproved, TriggerApprove, false, StateApproved, ErrInvalidTransition},
		{"complete with open expenses", StateApproved, TriggerComplete, false, StateApproved, ErrGuardFailed},
		{"complete a new request", StateNew, TriggerComplete, true, StateNew, ErrInvalidTransition},
		{"approve rejected", StateRejected, TriggerApprove, false, StateRejected, ErrInvalidTransition},
		{"reject completed", StateCompleted, TriggerReject, false, StateCompleted, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewRequestMachine(string(tt.from))
			if err != nil {
				t.Fatalf("NewRequestMachine() error = %v", err)
			}

			ctx := WithExpensesSettled(context.Background(), tt.settled)
			err = m.Fire(ctx, tt.trigger)

			if tt.wantErr == nil && err != nil {
				t.Fatalf("Fire() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fire() error = %v, want %v", err, tt.wantErr)
			}
			if m.State() != tt.want {
				t.Errorf("State() = %v, want %v", m.State(), tt.want)
			}
		})
	}
}

func TestRequestMachine_TerminalStatesRejectEverything(t *testing.T) {
	triggers := []Trigger{
		TriggerApprove, TriggerReject, TriggerEditAndApprove,
		TriggerRequestClarification, TriggerAnswerClarification, TriggerComplete,
	}
	ctx := WithExpensesSettled(context.Background(), true)
	for _, s := range []State{StateRejected, StateCompleted} {
		for _, tr := range triggers {
			m, err := NewRequestMachine(string(s))
			if err != nil {
				t.Fatalf("NewRequestMachine(%s) error = %v", s, err)
			}
			if err := m.Fire(ctx, tr); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s: Fire(%s) error = %v, want %v", s, tr, err, ErrInvalidTransition)
			}
		}
	}
}

func TestRequestMachine_CompleteWithoutContextFlag(t *testing.T) {
	m, _ := NewRequestMachine(string(StateApproved))
	if err := m.Fire(context.Background(), TriggerComplete); !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() without settled flag error = %v, want %v", err, ErrGuardFailed)
	}
	if m.State() != StateApproved {
		t.Errorf("State() = %v, want %v", m.State(), StateApproved)
	}
}

func TestNewRequestMachine_InvalidStatus(t *testing.T) {
	if _, err := NewRequestMachine("Нова"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("NewRequestMachine() error = %v, want %v", err, ErrInvalidState)
	}
}

func TestExpenseMachine(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		trigger Trigger
		want    State
		wantErr error
	}{
		{"approve new", "NEW", TriggerApprove, StateApproved, nil},
		{"reject new", "NEW", TriggerReject, StateRejected, nil},
		{"approve approved", "APPROVED", TriggerApprove, StateApproved, ErrInvalidTransition},
		{"reject approved", "APPROVED", TriggerReject, StateApproved, ErrInvalidTransition},
		{"approve rejected", "REJECTED", TriggerApprove, StateRejected, ErrInvalidTransition},
		{"clarify expense", "NEW", TriggerRequestClarification, StateNew, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewExpenseMachine(tt.from)
			if err != nil {
				t.Fatalf("NewExpenseMachine() error = %v", err)
			}

			err = m.Fire(context.Background(), tt.trigger)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Fire() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fire() error = %v, want %v", err, tt.wantErr)
			}
			if m.State() != tt.want {
				t.Errorf("State() = %v, want %v", m.State(), tt.want)
			}
		})
	}

	if _, err := NewExpenseMachine("CLARIFIED"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("NewExpenseMachine(CLARIFIED) error = %v, want %v", err, ErrInvalidState)
	}
}

func TestBuilder_ConfigureAfterBuildPanics(t *testing.T) {
	b := NewBuilder()
	b.Configure(StateNew).Permit(TriggerApprove, StateApproved)
	b.Build(StateNew)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() after Build() should panic")
		}
	}()
	b.Configure(StateApproved)
}

func TestBuilder_GuardedTargetsInOrder(t *testing.T) {
	b := NewBuilder()
	b.Configure(StateApproved).
		PermitIf(TriggerComplete, StateCompleted, expensesSettled).
		PermitIf(TriggerComplete, StateRejected, func(ctx context.Context) bool { return true })

	m := b.Build(StateApproved)
	if err := m.Fire(WithExpensesSettled(context.Background(), true), TriggerComplete); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if m.State() != StateCompleted {
		t.Errorf("State() = %v, want %v", m.State(), StateCompleted)
	}

	m = b.Build(StateApproved)
	if err := m.Fire(context.Background(), TriggerComplete); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if m.State() != StateRejected {
		t.Errorf("State() = %v, want fallback %v", m.State(), StateRejected)
	}
}
