package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// SchedulerContext is a backend that runs command lines somewhere and can be
// asked about them later using nothing but the handle it returned. Failures
// are reported in the results, never as errors.
type SchedulerContext interface {
	FireProcess(ctx context.Context, commandLine string, task *domain.Task) domain.TaskResult
	CheckStatus(ctx context.Context, task *domain.Task) domain.PollResult
	Cancel(ctx context.Context, task *domain.Task) error
	LogFile(task *domain.Task) string
	Name() string
}

// NewFromSettings picks the backend named by SEQFLOW_SCHEDULER.
func NewFromSettings() (SchedulerContext, error) {
	stateDir := config.GetSystemSettingString(config.SCHEDULER_STATE_DIR)
	switch strings.ToUpper(config.GetSystemSettingString(config.SCHEDULER)) {
	case config.SCHEDULER_LOCAL:
		return NewLocalScheduler(stateDir), nil
	case config.SCHEDULER_SLURM:
		return NewSlurmScheduler(ExecRunner{}, config.GetSystemSettingString(config.SLURM_PARTITION), stateDir), nil
	case config.SCHEDULER_SIMULATOR:
		return NewSimulator(stateDir), nil
	}
	return nil, fmt.Errorf("unknown scheduler %q", config.GetSystemSettingString(config.SCHEDULER))
}

// failed is the result of a dispatch that never reached the backend.
func failed(format string, args ...interface{}) domain.TaskResult {
	return domain.TaskResult{ExitCode: -1, Output: fmt.Sprintf(format, args...)}
}
