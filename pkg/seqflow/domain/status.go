package domain

import (
	"fmt"
	"strings"
)

// Status is shared by tasks and machines. Not every value is legal for both,
// see IsTaskStatus and IsMachineStatus.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further progress happens without an operator.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusStopped, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsSuccess() bool {
	return s == StatusComplete
}

// NeedsAttention is true for tasks that keep their state active but are no
// longer dispatched or polled.
func (s Status) NeedsAttention() bool {
	switch s {
	case StatusFailed, StatusStopped, StatusSuspended:
		return true
	}
	return false
}

// IsLive is true while the engine still dispatches or polls the task.
func (s Status) IsLive() bool {
	return s == StatusQueued || s == StatusRunning
}

func (s Status) IsTaskStatus() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusComplete, StatusFailed, StatusStopped, StatusSuspended:
		return true
	}
	return false
}

func (s Status) IsMachineStatus() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusComplete, StatusFailed, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus accepts operator input in any case. REQUEUE and RETRY are
// accepted as aliases of QUEUED.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case "REQUEUE", "RETRY":
		return StatusQueued, nil
	}
	if s.IsTaskStatus() || s.IsMachineStatus() {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}
