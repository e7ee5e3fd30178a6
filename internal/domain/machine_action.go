package domain

import "time"

// Action types written to the machine audit log.
const (
	ActionScheduled       = "SCHEDULED"
	ActionLockFailed      = "LOCK_FAILED"
	ActionStarted         = "STARTED"
	ActionDispatched      = "DISPATCHED"
	ActionDispatchFailed  = "DISPATCH_FAILED"
	ActionCompleted       = "COMPLETED"
	ActionFailed          = "FAILED"
	ActionSuspended       = "SUSPENDED"
	ActionStopped         = "STOPPED"
	ActionTransition      = "TRANSITION"
	ActionExitTask        = "EXIT_TASK"
	ActionMachineComplete = "MACHINE_COMPLETE"
	ActionStructuralError = "STRUCTURAL_ERROR"
	ActionRepaired        = "REPAIRED"
	ActionOperator        = "OPERATOR"
)

type MachineAction struct {
	ID         int64     `json:"id"`         // BIGSERIAL
	MachineID  string    `json:"machineId"`  // VARCHAR(36)
	StateID    string    `json:"stateId"`    // VARCHAR(36), empty for machine level actions
	TaskID     string    `json:"taskId"`     // VARCHAR(36)
	ExecutorID int64     `json:"executorId"` // BIGINT
	Type       string    `json:"type"`       // TEXT
	Name       string    `json:"name"`       // TEXT
	Text       string    `json:"text"`       // TEXT
	DateTime   time.Time `json:"dateTime"`   // TIMESTAMP
}
