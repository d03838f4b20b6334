package workflow

import "errors"

var (
	// ErrInvalidTransition means the trigger is not declared for the current state
	ErrInvalidTransition = errors.New("transition not permitted")

	// ErrInvalidState means a stored status is not part of the lifecycle
	ErrInvalidState = errors.New("unknown status")

	// ErrGuardFailed means the trigger is declared but its condition does not hold
	ErrGuardFailed = errors.New("transition condition not met")
)
