package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

const maxOutputTail = 4096

// LocalScheduler runs tasks as process groups on this host. The shell
// wrapper leaves <task id>.out and <task id>.exit in the state directory,
// so a process started before a restart can still be polled. Naming the
// files by task rather than pid keeps a reused pid from picking up an
// earlier process's exit status.
type LocalScheduler struct {
	stateDir string
}

func NewLocalScheduler(stateDir string) *LocalScheduler {
	return &LocalScheduler{stateDir: stateDir}
}

func (l *LocalScheduler) Name() string {
	return "local"
}

func (l *LocalScheduler) outFile(task *domain.Task) string {
	return filepath.Join(l.stateDir, task.ID+".out")
}

func (l *LocalScheduler) exitFile(task *domain.Task) string {
	return filepath.Join(l.stateDir, task.ID+".exit")
}

func (l *LocalScheduler) wrap(commandLine, outFile, exitFile string) string {
	out, exit := quoteShell(outFile), quoteShell(exitFile)
	return fmt.Sprintf(`rm -f %[2]s; exec >%[1]s 2>&1; ( %[3]s ); rc=$?; echo $rc >%[2]s.tmp; mv %[2]s.tmp %[2]s`,
		out, exit, commandLine)
}

func (l *LocalScheduler) FireProcess(ctx context.Context, commandLine string, task *domain.Task) domain.TaskResult {
	if task.ID == "" {
		return failed("task %s has no id", task.Name)
	}
	if err := os.MkdirAll(l.stateDir, 0o755); err != nil {
		return failed("create state dir %s: %v", l.stateDir, err)
	}
	// a rerun of the task must not see the previous attempt's exit status
	for _, path := range []string{l.exitFile(task), l.exitFile(task) + ".tmp"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return failed("clear %s: %v", path, err)
		}
	}
	// the process outlives the dispatch call
	cmd := exec.CommandContext(context.WithoutCancel(ctx), "/bin/sh", "-c", l.wrap(commandLine, l.outFile(task), l.exitFile(task)))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return failed("start %s: %v", task.Name, err)
	}
	pid := int64(cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Local process exited", "pid", pid, "error", err)
		}
	}()
	return domain.TaskResult{ProcessID: pid, Output: "started pid " + strconv.FormatInt(pid, 10)}
}

func (l *LocalScheduler) readExit(task *domain.Task) (int, bool) {
	data, err := os.ReadFile(l.exitFile(task))
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1, true
	}
	return code, true
}

func (l *LocalScheduler) CheckStatus(ctx context.Context, task *domain.Task) domain.PollResult {
	if !task.ProcessID.Valid {
		return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: "task has no process id"}
	}
	pid := task.ProcessID.Int64
	if code, ok := l.readExit(task); ok {
		return exitResult(code, tail(l.outFile(task)))
	}
	if alive(pid) {
		return domain.PollResult{Status: domain.StatusRunning}
	}
	// it may have finished between the two checks
	if code, ok := l.readExit(task); ok {
		return exitResult(code, tail(l.outFile(task)))
	}
	return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: fmt.Sprintf("process %d is gone without an exit status", pid)}
}

func exitResult(code int, output string) domain.PollResult {
	if code == 0 {
		return domain.PollResult{Status: domain.StatusComplete, Output: output}
	}
	return domain.PollResult{Status: domain.StatusFailed, ExitCode: code, Output: output}
}

func alive(pid int64) bool {
	err := syscall.Kill(int(pid), 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l *LocalScheduler) Cancel(ctx context.Context, task *domain.Task) error {
	if !task.ProcessID.Valid {
		return nil
	}
	err := syscall.Kill(-int(task.ProcessID.Int64), syscall.SIGTERM)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", task.ProcessID.Int64, err)
	}
	return nil
}

func (l *LocalScheduler) LogFile(task *domain.Task) string {
	if task.ID == "" || !task.ProcessID.Valid {
		return ""
	}
	return l.outFile(task)
}

func tail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > maxOutputTail {
		data = data[len(data)-maxOutputTail:]
	}
	return string(data)
}

func quoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
