package models

import (
	"time"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Username string    `json:"username"`
	Expires  time.Time `json:"expires"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateMachineResponse is returned by every machine factory endpoint.
type CreateMachineResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	States int    `json:"states"`
}

type CreateAggregationRequest struct {
	SampleKey        string   `json:"sampleKey"`
	AlignmentTaskIDs []string `json:"alignmentTaskIds"`
}

type CreateUploadRequest struct {
	Name        string   `json:"name"`
	Sources     []string `json:"sources"`
	Destination string   `json:"destination"`
}

// CreateHoldingRequest creates a top-off or triage machine.
type CreateHoldingRequest struct {
	Name    string   `json:"name"`
	Samples []string `json:"samples"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type MoveSamplesRequest struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Samples []string `json:"samples"`
}

type CreatePoolGroupRequest struct {
	From    string   `json:"from"`
	Name    string   `json:"name"`
	Samples []string `json:"samples"`
}

// MachineApiResponse is the machine graph plus the names of its active states.
type MachineApiResponse struct {
	*domain.FiniteStateMachine
	ActiveStates []string `json:"activeStates"`
}

type MachineSummary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         domain.Status `json:"status"`
	ExecutorGroup  string        `json:"executorGroup"`
	Created        time.Time     `json:"created"`
	NextActivation *time.Time    `json:"nextActivation,omitempty"`
}

type TaskLogResponse struct {
	TaskID string `json:"taskId"`
	Log    string `json:"log"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ApiKey   string `json:"apiKey"`
}
