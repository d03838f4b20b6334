package workflow

import (
	"context"
	"fmt"
)

// StateMachine tracks one record's status and validates transitions on it
type StateMachine interface {
	// State returns the current state
	State() State

	// Fire moves to the first target whose guard holds
	Fire(ctx context.Context, trigger Trigger) error
}

type machine struct {
	current State
	table   *table
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	targets := m.table.edges[edge{from: m.current, trigger: trigger}]
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range targets {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}
