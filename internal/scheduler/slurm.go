package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// CommandRunner runs a command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// SlurmScheduler submits tasks with sbatch. The job id is the process handle.
type SlurmScheduler struct {
	runner    CommandRunner
	partition string
	logDir    string
}

func NewSlurmScheduler(runner CommandRunner, partition string, logDir string) *SlurmScheduler {
	return &SlurmScheduler{runner: runner, partition: partition, logDir: logDir}
}

func (s *SlurmScheduler) Name() string {
	return "slurm"
}

func (s *SlurmScheduler) FireProcess(ctx context.Context, commandLine string, task *domain.Task) domain.TaskResult {
	args := []string{"--parsable", "--job-name", task.Name}
	if s.partition != "" {
		args = append(args, "--partition", s.partition)
	}
	args = append(args, "--output", filepath.Join(s.logDir, "slurm-%j.out"), "--wrap", commandLine)
	out, err := s.runner.Run(ctx, "sbatch", args...)
	if err != nil {
		return domain.TaskResult{ExitCode: 1, Output: err.Error()}
	}
	// --parsable prints "jobid" or "jobid;cluster"
	id := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), ";", 2)[0])
	jobID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return domain.TaskResult{ExitCode: 1, Output: fmt.Sprintf("unexpected sbatch output %q", out)}
	}
	return domain.TaskResult{ProcessID: jobID, Output: "submitted batch job " + id}
}

func (s *SlurmScheduler) CheckStatus(ctx context.Context, task *domain.Task) domain.PollResult {
	if !task.ProcessID.Valid {
		return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: "task has no job id"}
	}
	id := strconv.FormatInt(task.ProcessID.Int64, 10)
	out, err := s.runner.Run(ctx, "sacct", "-j", id, "-X", "--noheader", "--parsable2", "--format=State")
	if err != nil {
		// slurmdbd hiccups are not task failures
		return domain.PollResult{Status: domain.StatusRunning, Output: err.Error()}
	}
	res := domain.PollResult{Status: mapSlurmState(out), Output: strings.TrimSpace(out)}
	if res.Status == domain.StatusFailed {
		res.ExitCode = 1
	}
	return res
}

// mapSlurmState reads the first line of sacct output. An empty answer means
// the job is not in the accounting database yet.
func mapSlurmState(out string) domain.Status {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return domain.StatusRunning
	}
	switch strings.TrimSuffix(fields[0], "+") {
	case "COMPLETED":
		return domain.StatusComplete
	case "FAILED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "BOOT_FAIL", "DEADLINE", "PREEMPTED":
		return domain.StatusFailed
	case "CANCELLED":
		return domain.StatusStopped
	}
	return domain.StatusRunning
}

func (s *SlurmScheduler) Cancel(ctx context.Context, task *domain.Task) error {
	if !task.ProcessID.Valid {
		return nil
	}
	_, err := s.runner.Run(ctx, "scancel", strconv.FormatInt(task.ProcessID.Int64, 10))
	return err
}

func (s *SlurmScheduler) LogFile(task *domain.Task) string {
	if !task.ProcessID.Valid {
		return ""
	}
	return filepath.Join(s.logDir, fmt.Sprintf("slurm-%d.out", task.ProcessID.Int64))
}
