package domain

import "database/sql"

type StateKind string

const (
	StateGeneric     StateKind = "GENERIC"
	StateDemultiplex StateKind = "DEMULTIPLEX"
	StateAlignment   StateKind = "ALIGNMENT"
	StateAggregation StateKind = "AGGREGATION"
	StateFingerprint StateKind = "FINGERPRINT"
	StateCrosscheck  StateKind = "CROSSCHECK"
	StateUpload      StateKind = "UPLOAD"
	StateReview      StateKind = "REVIEW"
	StatePoolGroup   StateKind = "POOL_GROUP"
)

// TaskBlueprint is what a state knows about the task it creates on entry.
type TaskBlueprint struct {
	Name   string     `json:"name"`
	Kind   TaskKind   `json:"kind"`
	Params TaskParams `json:"params"`
}

// State is a node of the machine. It references its current task by id so it
// can be re-pointed at a fresh task when entered again.
type State struct {
	ID            string         `json:"id"`
	MachineID     string         `json:"machineId"`
	Name          string         `json:"name"`
	Kind          StateKind      `json:"kind"`
	Position      int            `json:"position"`
	Start         bool           `json:"start"`
	Active        bool           `json:"active"`
	TaskID        string         `json:"taskId,omitempty"`
	Blueprint     *TaskBlueprint `json:"blueprint,omitempty"`
	ExitBlueprint *TaskBlueprint `json:"exitBlueprint,omitempty"`
	ExitTaskID    string         `json:"exitTaskId,omitempty"`
	Samples       []string       `json:"samples,omitempty"`
	RunChambers   []string       `json:"runChambers,omitempty"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	DateEntered   sql.NullTime   `json:"dateEntered"`
	DateExited    sql.NullTime   `json:"dateExited"`
}

// GatedByPrerequisites reports whether the kind waits for other tasks before
// its own task may be dispatched.
func (s *State) GatedByPrerequisites() bool {
	switch s.Kind {
	case StateAlignment, StateAggregation:
		return true
	}
	return false
}

// RunningExitTask is true once the state has been re-pointed at its exit task.
func (s *State) RunningExitTask() bool {
	return s.ExitTaskID != "" && s.TaskID == s.ExitTaskID
}

func (s *State) HasSample(sample string) bool {
	for _, v := range s.Samples {
		if v == sample {
			return true
		}
	}
	return false
}

type Transition struct {
	ID          string `json:"id"`
	MachineID   string `json:"machineId"`
	Name        string `json:"name,omitempty"`
	FromStateID string `json:"fromStateId"`
	ToStateID   string `json:"toStateId"`
}
