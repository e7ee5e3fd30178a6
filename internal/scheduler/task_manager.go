package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/RealZimboGuy/seqflow/internal/tasks"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// TaskManager is the one place the engine dispatches and polls through.
// Process kinds go to the backend, check kinds are evaluated in process.
type TaskManager struct {
	backend SchedulerContext
}

func NewTaskManager(backend SchedulerContext) *TaskManager {
	return &TaskManager{backend: backend}
}

func (m *TaskManager) Backend() SchedulerContext {
	return m.backend
}

// Dispatch starts the work of a QUEUED task. Check kinds have nothing to
// start and always succeed with a zero handle.
func (m *TaskManager) Dispatch(ctx context.Context, t *domain.Task) domain.TaskResult {
	if !tasks.IsProcess(t.Kind) {
		return domain.TaskResult{Output: "check " + string(t.Kind)}
	}
	cmd, err := tasks.CommandLine(t)
	if err != nil {
		return failed("build command line: %v", err)
	}
	slog.InfoContext(ctx, "Dispatching task", "task_id", t.ID, "task", t.Name, "backend", m.backend.Name(), "command", cmd)
	return m.backend.FireProcess(ctx, cmd, t)
}

// Poll reports the status of a dispatched task. A process that exited zero is
// only COMPLETE once its output files are there.
func (m *TaskManager) Poll(ctx context.Context, t *domain.Task) domain.PollResult {
	if !tasks.IsProcess(t.Kind) {
		res, err := tasks.Check(t)
		if err != nil {
			return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: err.Error()}
		}
		return res
	}
	res := m.backend.CheckStatus(ctx, t)
	if res.Status != domain.StatusComplete {
		return res
	}
	status, err := tasks.VerifyEvidence(t)
	res.Status = status
	if err != nil {
		res.Output = appendLine(res.Output, err.Error())
	}
	return res
}

func (m *TaskManager) Cancel(ctx context.Context, t *domain.Task) error {
	if !tasks.IsProcess(t.Kind) || !t.ProcessID.Valid {
		return nil
	}
	return m.backend.Cancel(ctx, t)
}

// ReadLog returns the backend log of a task.
func (m *TaskManager) ReadLog(t *domain.Task) (string, error) {
	path := m.backend.LogFile(t)
	if path == "" {
		return t.Output, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t.Output, nil
	}
	if err != nil {
		return "", fmt.Errorf("read log %s: %w", path, err)
	}
	return string(data), nil
}

func (m *TaskManager) OnEnter(ctx context.Context, s *domain.State, t *domain.Task) error {
	if t == nil {
		return nil
	}
	if err := tasks.OnEnter(t); err != nil {
		return fmt.Errorf("enter state %s: %w", s.Name, err)
	}
	return nil
}

func (m *TaskManager) Prepare(ctx context.Context, t *domain.Task) error {
	return tasks.Prepare(t)
}

func appendLine(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
