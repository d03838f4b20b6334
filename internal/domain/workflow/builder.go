package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a guarded transition may fire. Guards read the
// facts they need from ctx (see WithExpensesSettled).
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder declares the lifecycle once; Build hands out machines
// positioned at a stored status.
type StateMachineBuilder interface {
	// Configure returns the transition declarations for state
	Configure(state State) StateConfiguration

	// Build returns a machine at initialState. The first Build freezes the
	// table, so every machine shares one read-only copy.
	Build(initialState State) StateMachine
}

// StateConfiguration declares the transitions leaving one state
type StateConfiguration interface {
	// Permit allows trigger to move to toState unconditionally
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows trigger to move to toState when guard holds.
	// Several guarded targets for one trigger are tried in declaration order.
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edge struct {
	from    State
	trigger Trigger
}

type target struct {
	to    State
	guard GuardFunc
}

// table is the frozen transition table shared by machines
type table struct {
	edges map[edge][]target
}

type builder struct {
	edges  map[edge][]target
	frozen *table
}

type stateConfig struct {
	b    *builder
	from State
}

// NewBuilder creates an empty lifecycle declaration
func NewBuilder() StateMachineBuilder {
	return &builder{edges: make(map[edge][]target)}
}

func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("workflow: invalid state %q", state))
	}
	if b.frozen != nil {
		panic("workflow: Configure called after Build")
	}
	return &stateConfig{b: b, from: state}
}

func (b *builder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("workflow: invalid initial state %q", initialState))
	}
	if b.frozen == nil {
		b.frozen = &table{edges: b.edges}
	}
	return &machine{current: initialState, table: b.frozen}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("workflow: invalid target state %q", toState))
	}
	key := edge{from: c.from, trigger: trigger}
	c.b.edges[key] = append(c.b.edges[key], target{to: toState, guard: guard})
	return c
}
