package engine

import (
	"context"
	"errors"
	"slices"
	"testing"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

func failingThenComplete() *MockTaskManager {
	calls := 0
	return &MockTaskManager{PollFunc: func(ctx context.Context, t *domain.Task) domain.PollResult {
		calls++
		if calls == 1 {
			return domain.PollResult{Status: domain.StatusFailed, ExitCode: 2}
		}
		return domain.PollResult{Status: domain.StatusComplete}
	}}
}

func TestOperator_RequeueFailedTask(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("align", "upload"))
	tm := failingThenComplete()
	e := newTestEngine(repo, tm)
	op := NewOperator(e)

	tick(t, e, id)
	failed := repo.Stored(id).CurrentTask(repo.Stored(id).StateByName("align"))
	if failed.Status != domain.StatusFailed || repo.Stored(id).Status != domain.StatusFailed {
		t.Fatalf("expected failed task and machine, got %s / %s", failed.Status, repo.Stored(id).Status)
	}

	task, err := op.UpdateTaskStatus(context.Background(), failed.ID, domain.StatusQueued, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusQueued || task.ProcessID.Valid || task.ExitCode.Valid {
		t.Errorf("expected a reset task, got %+v", task)
	}
	if got := repo.Stored(id).Status; got != domain.StatusRunning {
		t.Errorf("expected the machine to be RUNNING again, got %s", got)
	}
	actions := repo.ActionsOfType(internal.ActionOperator)
	if len(actions) != 1 || actions[0].Text != "Task status changed from FAILED to QUEUED by alice" {
		t.Errorf("unexpected operator actions %+v", actions)
	}

	tick(t, e, id)
	if tm.DispatchCount() != 2 {
		t.Errorf("expected the task to be dispatched again, got %v", tm.Dispatched)
	}
	if got := activeNames(repo.Stored(id)); len(got) != 1 || got[0] != "upload" {
		t.Errorf("expected upload active after retry, got %v", got)
	}
}

func TestOperator_CompleteOverrideFiresNextTick(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("review", "upload"))
	e := newTestEngine(repo, &MockTaskManager{})
	op := NewOperator(e)

	tick(t, e, id)
	review := repo.Stored(id).CurrentTask(repo.Stored(id).StateByName("review"))
	if _, err := op.UpdateTaskStatus(context.Background(), review.ID, domain.StatusComplete, "bob"); err != nil {
		t.Fatal(err)
	}
	if got := activeNames(repo.Stored(id)); len(got) != 1 || got[0] != "review" {
		t.Fatalf("override must not fire transitions by itself, active %v", got)
	}

	tick(t, e, id)
	if got := activeNames(repo.Stored(id)); len(got) != 1 || got[0] != "upload" {
		t.Errorf("expected upload active, got %v", got)
	}
}

func TestOperator_StopCancelsRunningProcess(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("align"))
	cancelled := ""
	tm := &MockTaskManager{CancelFunc: func(t *domain.Task) error {
		cancelled = t.ID
		return nil
	}}
	e := newTestEngine(repo, tm)

	tick(t, e, id)
	running := repo.Stored(id).CurrentTask(repo.Stored(id).States[0])
	task, err := NewOperator(e).UpdateTaskStatus(context.Background(), running.ID, domain.StatusStopped, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled != running.ID {
		t.Errorf("expected the backend to cancel %s, got %q", running.ID, cancelled)
	}
	if task.Status != domain.StatusStopped || !task.Ended.Valid {
		t.Errorf("expected STOPPED with an end time, got %+v", task)
	}
}

func TestOperator_RejectsRunning(t *testing.T) {
	_, err := NewOperator(newTestEngine(NewMemoryMachineRepo(), &MockTaskManager{})).
		UpdateTaskStatus(context.Background(), "x", domain.StatusRunning, "")
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestOperator_SuspendAndResume(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("a", "b"))
	e := newTestEngine(repo, completeAll())
	op := NewOperator(e)

	if _, err := op.UpdateMachineStatus(context.Background(), id, domain.StatusSuspended, "dave"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Tick(context.Background(), id); !errors.Is(err, domain.ErrMachineNotRunnable) {
		t.Fatalf("expected suspended machine to be skipped, got %v", err)
	}

	report, err := op.Resume(context.Background(), id, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Committed || report.Transitions != 1 {
		t.Errorf("expected resume to tick the machine, got %+v", report)
	}
}

func TestOperator_CancelStopsRunningTasks(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("align"))
	e := newTestEngine(repo, &MockTaskManager{})
	tick(t, e, id)

	m, err := NewOperator(e).UpdateMachineStatus(context.Background(), id, domain.StatusCancelled, "erin")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusCancelled || m.CurrentTask(m.States[0]).Status != domain.StatusStopped {
		t.Errorf("expected cancelled machine with stopped task, got %s / %s", m.Status, m.CurrentTask(m.States[0]).Status)
	}
}

func TestOperator_MachineStatusValidation(t *testing.T) {
	op := NewOperator(newTestEngine(NewMemoryMachineRepo(), &MockTaskManager{}))
	if _, err := op.UpdateMachineStatus(context.Background(), "x", domain.StatusComplete, ""); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestOperator_SampleMoves(t *testing.T) {
	m := domain.NewFiniteStateMachine("topoff", "default", epoch)
	hold := m.AddState(&domain.State{Name: "Hold For Top Off", Start: true, Samples: []string{"SM-1", "SM-2", "SM-3"}, Blueprint: blueprint("hold")})
	nova := m.AddState(&domain.State{Name: "NovaSeq", Blueprint: blueprint("nova")})
	m.AddTransition("hold-nova", hold, nova)
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, m)
	op := NewOperator(newTestEngine(repo, &MockTaskManager{}))
	ctx := context.Background()

	if _, err := op.MoveSamples(ctx, id, "Hold For Top Off", "NovaSeq", []string{"SM-1", "SM-2"}, "frank"); err != nil {
		t.Fatal(err)
	}
	stored := repo.Stored(id)
	if got := stored.StateByName("NovaSeq").Samples; !slices.Equal(got, []string{"SM-1", "SM-2"}) {
		t.Errorf("unexpected NovaSeq samples %v", got)
	}
	if got := stored.StateByName("Hold For Top Off").Samples; !slices.Equal(got, []string{"SM-3"}) {
		t.Errorf("unexpected hold samples %v", got)
	}

	if _, err := op.MoveSamples(ctx, id, "Hold For Top Off", "NovaSeq", []string{"SM-9"}, ""); !errors.Is(err, domain.ErrStateNotFound) {
		t.Errorf("expected an error for a sample that is not there, got %v", err)
	}

	if _, err := op.AddSamplesToState(ctx, id, "NovaSeq", []string{"SM-2", "SM-4"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := op.RemoveSamplesFromState(ctx, id, "NovaSeq", []string{"SM-1"}, ""); err != nil {
		t.Fatal(err)
	}
	if got := repo.Stored(id).StateByName("NovaSeq").Samples; !slices.Equal(got, []string{"SM-2", "SM-4"}) {
		t.Errorf("unexpected NovaSeq samples %v", got)
	}
	if _, err := op.AddSamplesToState(ctx, id, "MiSeq", []string{"SM-1"}, ""); !errors.Is(err, domain.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestOperator_CreatePoolGroup(t *testing.T) {
	m := domain.NewFiniteStateMachine("topoff", "default", epoch)
	m.AddState(&domain.State{Name: "Hold For Top Off", Start: true, Blueprint: blueprint("hold")})
	m.AddState(&domain.State{Name: "NovaSeq", Samples: []string{"SM-1", "SM-2"}, Blueprint: blueprint("nova")})
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, m)
	op := NewOperator(newTestEngine(repo, &MockTaskManager{}))

	got, err := op.CreatePoolGroup(context.Background(), id, "NovaSeq", "Pool 1", []string{"SM-1"}, "grace")
	if err != nil {
		t.Fatal(err)
	}
	group := got.StateByName("Pool 1")
	if group == nil || group.Kind != domain.StatePoolGroup || !slices.Equal(group.Samples, []string{"SM-1"}) {
		t.Fatalf("unexpected pool group %+v", group)
	}
	if task := got.CurrentTask(group); task == nil || task.Kind != domain.TaskHold {
		t.Errorf("expected a HOLD task on the pool group")
	}
	if trs := got.TransitionsTo(group.ID); len(trs) != 1 || trs[0].FromStateID != got.StateByName("NovaSeq").ID {
		t.Errorf("expected one transition from NovaSeq, got %+v", trs)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("machine no longer valid: %v", err)
	}

	if _, err := op.CreatePoolGroup(context.Background(), id, "NovaSeq", "Pool 1", nil, ""); !errors.Is(err, domain.ErrStructural) {
		t.Errorf("expected duplicate pool group to be rejected, got %v", err)
	}
}

func TestOperator_ViewLog(t *testing.T) {
	repo := NewMemoryMachineRepo()
	id := saved(t, repo, chain("a"))
	tm := &MockTaskManager{ReadLogFunc: func(t *domain.Task) (string, error) {
		return "log of " + t.Name, nil
	}}
	e := newTestEngine(repo, tm)
	tick(t, e, id)

	task := repo.Stored(id).CurrentTask(repo.Stored(id).States[0])
	got, err := NewOperator(e).ViewLog(task.ID)
	if err != nil || got != "log of a" {
		t.Errorf("got %q %v", got, err)
	}
}
