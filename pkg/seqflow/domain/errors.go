package domain

import "errors"

var (
	ErrStructural         = errors.New("structural error in state machine")
	ErrMachineNotFound    = errors.New("state machine not found")
	ErrStateNotFound      = errors.New("state not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrMachineLocked      = errors.New("state machine is locked by another executor")
	ErrStaleMachine       = errors.New("state machine was modified concurrently")
	ErrMachineNotRunnable = errors.New("state machine is not runnable")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrNoCommandLine      = errors.New("task kind has no command line")
)
