package engine

import (
	"context"
	"time"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// MachineRepo defines the interface for machine persistence, matching repository.MachineRepository.
type MachineRepo interface {
	SaveMachine(ctx context.Context, m *domain.FiniteStateMachine) error
	FindByID(id string) (*domain.FiniteStateMachine, error)
	FindDueMachines(size int, executorGroup string) ([]*domain.FiniteStateMachine, error)
	ClaimMachine(id string, executorID int64, version int64) bool
	ReleaseMachine(id string, executorID int64, nextActivation time.Time) error
	CommitTick(ctx context.Context, cs *internal.ChangeSet, executorID int64, nextActivation time.Time) error
	FindStuckMachines(minutesRepair string, executorGroup string, limit int) ([]*domain.FiniteStateMachine, error)
	ClearExecutorID(id string, executorID int64) bool
	SaveAction(a *internal.MachineAction) error
	SearchMachines(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error)
	FindTaskByID(id string) (*domain.Task, error)
	FindTaskStatuses(ids []string) (map[string]domain.Status, error)
}

// MachineActionRepo defines the interface for the machine audit log.
type MachineActionRepo interface {
	Save(a *internal.MachineAction) (int64, error)
	FindAllByMachineID(machineID string) ([]*internal.MachineAction, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(e *internal.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*internal.Executor, error)
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindBySessionID(sessionID string, now time.Time) (*internal.User, error)
	FindByApiKey(apiKey string) (*internal.User, error)
	FindAll() ([]*internal.User, error)
	Save(user *internal.User) (int64, error)
	FindById(id int64) (*internal.User, error)
	DeleteById(id int64) error
	FindByUsername(username string) (*internal.User, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
}

// TaskManager dispatches and polls tasks, matching scheduler.TaskManager.
type TaskManager interface {
	Prepare(ctx context.Context, t *domain.Task) error
	Dispatch(ctx context.Context, t *domain.Task) domain.TaskResult
	Poll(ctx context.Context, t *domain.Task) domain.PollResult
	Cancel(ctx context.Context, t *domain.Task) error
	ReadLog(t *domain.Task) (string, error)
	OnEnter(ctx context.Context, s *domain.State, t *domain.Task) error
}
