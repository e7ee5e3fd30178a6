package domain

import (
	"database/sql"
	"time"
)

type TaskKind string

const (
	TaskWaitForFile        TaskKind = "WAIT_FOR_FILE"
	TaskDemultiplex        TaskKind = "DEMULTIPLEX"
	TaskAlignment          TaskKind = "ALIGNMENT"
	TaskAggregation        TaskKind = "AGGREGATION"
	TaskUpload             TaskKind = "UPLOAD"
	TaskFingerprint        TaskKind = "FINGERPRINT"
	TaskCrosscheck         TaskKind = "CROSSCHECK"
	TaskWaitForReview      TaskKind = "WAIT_FOR_REVIEW"
	TaskHold               TaskKind = "HOLD"
	TaskDemultiplexMetrics TaskKind = "DEMULTIPLEX_METRICS"
	TaskAlignmentMetrics   TaskKind = "ALIGNMENT_METRICS"
)

var AllTaskKinds = []TaskKind{
	TaskWaitForFile, TaskDemultiplex, TaskAlignment, TaskAggregation, TaskUpload, TaskFingerprint,
	TaskCrosscheck, TaskWaitForReview, TaskHold, TaskDemultiplexMetrics, TaskAlignmentMetrics,
}

// Task is one unit of work bound to a state. ProcessID is the only handle
// needed to poll it again after a restart.
type Task struct {
	ID        string        `json:"id"`
	MachineID string        `json:"machineId"`
	StateID   string        `json:"stateId"`
	Name      string        `json:"name"`
	Kind      TaskKind      `json:"kind"`
	Status    Status        `json:"status"`
	Params    TaskParams    `json:"params"`
	ProcessID sql.NullInt64 `json:"processId"`
	ExitCode  sql.NullInt32 `json:"exitCode"`
	Output    string        `json:"output"`
	Created   time.Time     `json:"created"`
	Started   sql.NullTime  `json:"started"`
	Ended     sql.NullTime  `json:"ended"`
}

// Reset clears the handle and result so the task is dispatched again.
func (t *Task) Reset() {
	t.Status = StatusQueued
	t.ProcessID = sql.NullInt64{}
	t.ExitCode = sql.NullInt32{}
	t.Output = ""
	t.Started = sql.NullTime{}
	t.Ended = sql.NullTime{}
}

// TaskResult is returned by a dispatch and consumed in the same tick.
type TaskResult struct {
	ProcessID int64
	Output    string
	ExitCode  int
}

func (r TaskResult) Failed() bool {
	return r.ExitCode != 0
}

// PollResult is what a poll learns about previously dispatched work.
type PollResult struct {
	Status   Status
	ExitCode int
	Output   string
}
