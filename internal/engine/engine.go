package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/config"
	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
	"golang.org/x/sync/errgroup"
)

// Engine advances state machines one tick at a time. A tick never blocks on
// a running process: it dispatches what is ready, polls what is running and
// fires the transitions of what completed, then persists it all at once.
type Engine struct {
	machines     MachineRepo
	tasks        TaskManager
	clock        core.Clock
	executorID   atomic.Int64
	Parallelism  int
	CallTimeout  time.Duration
	TickInterval time.Duration
}

// TickReport summarises what a single tick did.
type TickReport struct {
	MachineID    string        `json:"machineId"`
	Status       domain.Status `json:"status"`
	Dispatched   int           `json:"dispatched"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Transitions  int           `json:"transitions"`
	ActiveStates int           `json:"activeStates"`
	Committed    bool          `json:"committed"`
}

func NewEngine(machines MachineRepo, tasks TaskManager, clock core.Clock) *Engine {
	e := &Engine{
		machines:     machines,
		tasks:        tasks,
		clock:        clock,
		Parallelism:  config.GetSystemSettingInteger(config.ENGINE_TICK_PARALLELISM),
		CallTimeout:  config.GetSystemSettingDuration(config.ENGINE_TASK_CALL_TIMEOUT),
		TickInterval: config.GetSystemSettingDuration(config.ENGINE_MACHINE_TICK_INTERVAL),
	}
	if e.Parallelism <= 0 {
		e.Parallelism = 8
	}
	if e.CallTimeout <= 0 {
		e.CallTimeout = 30 * time.Second
	}
	if e.TickInterval <= 0 {
		e.TickInterval = time.Minute
	}
	return e
}

func (e *Engine) SetExecutorID(id int64) {
	e.executorID.Store(id)
}

func (e *Engine) ExecutorID() int64 {
	return e.executorID.Load()
}

// outcome is what the parallel phase of a tick learned about one state.
type outcome struct {
	prepareErr  error
	dispatched  bool
	dispatch    domain.TaskResult
	polled      bool
	poll        domain.PollResult
	pollTimeout bool
}

// Tick loads, claims, advances and persists one machine. Task failures are
// recorded on the machine, only infrastructure and structural problems are
// returned as errors.
func (e *Engine) Tick(ctx context.Context, machineID string) (*TickReport, error) {
	m, err := e.machines.FindByID(machineID)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case domain.StatusComplete, domain.StatusCancelled, domain.StatusSuspended:
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrMachineNotRunnable, m.ID, m.Status)
	}
	executorID := e.ExecutorID()
	if !e.machines.ClaimMachine(m.ID, executorID, m.Version) {
		return nil, fmt.Errorf("%w: %s", domain.ErrMachineLocked, m.ID)
	}
	ctx = context.WithValue(ctx, core.CtxKeyMachineId, m.ID)

	now := e.clock.Now()
	cs := internal.NewChangeSet(m)
	report := &TickReport{MachineID: m.ID}

	if err := m.Validate(); err != nil {
		slog.ErrorContext(ctx, "Structural error in machine", "machine_id", m.ID, "error", err)
		e.failStructurally(m, cs, err, now)
		if cerr := e.commit(ctx, cs, report); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return report, err
	}

	// a machine suspended before its first tick resumes as RUNNING without a start date
	if m.Status == domain.StatusQueued || !m.DateStarted.Valid {
		if err := e.start(ctx, m, cs, now); err != nil {
			return e.abort(ctx, m, err, now)
		}
	}

	work := m.ActiveStates()
	lookup := e.prerequisiteLookup(ctx, m, work)
	outcomes := e.evaluate(ctx, m, work, lookup)

	for i, s := range work {
		e.apply(m, cs, s, outcomes[i], report, now)
	}

	for _, s := range work {
		t := m.CurrentTask(s)
		if !s.Active || t == nil || t.Status != domain.StatusComplete {
			continue
		}
		if err := e.complete(ctx, m, cs, s, report, now); err != nil {
			return e.abort(ctx, m, err, now)
		}
	}

	e.updateStatus(m, cs, lookup, now)
	if err := e.commit(ctx, cs, report); err != nil {
		return nil, err
	}
	return report, nil
}

// start moves a QUEUED machine to RUNNING and enters its start state.
func (e *Engine) start(ctx context.Context, m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
	start, err := m.StartState()
	if err != nil {
		return err
	}
	m.Status = domain.StatusRunning
	m.DateStarted.Time, m.DateStarted.Valid = now, true
	cs.TouchMachine()
	cs.Record(&internal.MachineAction{Type: internal.ActionStarted, Name: start.Name, Text: "Machine started", DateTime: now})
	return e.enter(ctx, m, cs, start, now)
}

// enter activates s and calls OnEnter once for the activation.
func (e *Engine) enter(ctx context.Context, m *domain.FiniteStateMachine, cs *internal.ChangeSet, s *domain.State, now time.Time) error {
	created, err := m.Activate(s, now)
	if err != nil {
		return err
	}
	if created != nil {
		cs.AddTask(created)
	}
	cs.TouchState(s)
	t := m.CurrentTask(s)
	if err := e.tasks.OnEnter(ctx, s, t); err != nil {
		slog.ErrorContext(ctx, "Failed to enter state", "machine_id", m.ID, "state", s.Name, "error", err)
		if t != nil && t.Status.IsLive() {
			e.finish(t, domain.StatusFailed, -1, err.Error(), now)
			cs.TouchTask(t)
			cs.Record(&internal.MachineAction{Type: internal.ActionFailed, StateID: s.ID, TaskID: t.ID, Name: s.Name, Text: err.Error(), DateTime: now})
		}
	}
	return nil
}

// evaluate runs the external calls of a tick concurrently. Nothing on the
// machine is mutated here, tasks are copied before a call sees them.
func (e *Engine) evaluate(ctx context.Context, m *domain.FiniteStateMachine, work []*domain.State, lookup domain.StatusLookup) []outcome {
	outcomes := make([]outcome, len(work))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Parallelism)
	for i, s := range work {
		t := m.CurrentTask(s)
		if t == nil {
			continue
		}
		switch t.Status {
		case domain.StatusQueued:
			if len(m.ActiveTasks(s, lookup)) == 0 {
				slog.DebugContext(ctx, "Task waiting for prerequisites", "machine_id", m.ID, "state", s.Name)
				continue
			}
			task := *t
			g.Go(func() error {
				outcomes[i] = e.dispatchAndPoll(gctx, &task)
				return nil
			})
		case domain.StatusRunning:
			task := *t
			g.Go(func() error {
				res, timedOut := e.poll(gctx, &task)
				outcomes[i] = outcome{polled: true, poll: res, pollTimeout: timedOut}
				return nil
			})
		}
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) dispatchAndPoll(ctx context.Context, t *domain.Task) outcome {
	if err := e.tasks.Prepare(ctx, t); err != nil {
		return outcome{prepareErr: err}
	}
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	res := e.tasks.Dispatch(callCtx, t)
	cancel()
	o := outcome{dispatched: true, dispatch: res}
	if res.Failed() {
		return o
	}
	if res.ProcessID > 0 {
		t.ProcessID.Int64, t.ProcessID.Valid = res.ProcessID, true
	}
	t.Status = domain.StatusRunning
	o.poll, o.pollTimeout = e.poll(ctx, t)
	o.polled = true
	return o
}

// poll reports a timeout or a cancelled context as still running.
func (e *Engine) poll(ctx context.Context, t *domain.Task) (domain.PollResult, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout)
	defer cancel()
	res := e.tasks.Poll(callCtx, t)
	if callCtx.Err() != nil {
		return domain.PollResult{Status: domain.StatusRunning}, true
	}
	return res, false
}

// prerequisiteLookup resolves prerequisites owned by other machines in one query.
func (e *Engine) prerequisiteLookup(ctx context.Context, m *domain.FiniteStateMachine, work []*domain.State) domain.StatusLookup {
	var foreign []string
	for _, s := range work {
		for _, id := range s.Prerequisites {
			if m.Task(id) == nil {
				foreign = append(foreign, id)
			}
		}
	}
	if len(foreign) == 0 {
		return nil
	}
	statuses, err := e.machines.FindTaskStatuses(foreign)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to look up prerequisite tasks", "machine_id", m.ID, "error", err)
		return nil
	}
	return func(id string) (domain.Status, bool) {
		s, ok := statuses[id]
		return s, ok
	}
}

// apply records the outcome of the parallel phase on the machine.
func (e *Engine) apply(m *domain.FiniteStateMachine, cs *internal.ChangeSet, s *domain.State, o outcome, report *TickReport, now time.Time) {
	t := m.CurrentTask(s)
	if t == nil {
		return
	}
	action := func(typ string, text string) {
		cs.Record(&internal.MachineAction{Type: typ, StateID: s.ID, TaskID: t.ID, Name: t.Name, Text: text, DateTime: now})
	}
	if o.prepareErr != nil {
		e.finish(t, domain.StatusFailed, -1, o.prepareErr.Error(), now)
		cs.TouchTask(t)
		action(internal.ActionDispatchFailed, o.prepareErr.Error())
		report.Failed++
		return
	}
	if o.dispatched {
		if o.dispatch.Failed() {
			e.finish(t, domain.StatusFailed, o.dispatch.ExitCode, o.dispatch.Output, now)
			cs.TouchTask(t)
			action(internal.ActionDispatchFailed, o.dispatch.Output)
			report.Failed++
			return
		}
		t.Status = domain.StatusRunning
		t.Started.Time, t.Started.Valid = now, true
		if o.dispatch.ProcessID > 0 {
			t.ProcessID.Int64, t.ProcessID.Valid = o.dispatch.ProcessID, true
		}
		t.Output = o.dispatch.Output
		cs.TouchTask(t)
		action(internal.ActionDispatched, o.dispatch.Output)
		report.Dispatched++
	}
	if !o.polled || o.pollTimeout {
		return
	}
	switch o.poll.Status {
	case domain.StatusComplete:
		e.finish(t, domain.StatusComplete, 0, o.poll.Output, now)
		action(internal.ActionCompleted, o.poll.Output)
		report.Completed++
	case domain.StatusFailed:
		e.finish(t, domain.StatusFailed, o.poll.ExitCode, o.poll.Output, now)
		action(internal.ActionFailed, o.poll.Output)
		report.Failed++
	case domain.StatusStopped:
		e.finish(t, domain.StatusStopped, o.poll.ExitCode, o.poll.Output, now)
		action(internal.ActionStopped, o.poll.Output)
		report.Failed++
	case domain.StatusSuspended:
		t.Status = domain.StatusSuspended
		t.Output = o.poll.Output
		action(internal.ActionSuspended, o.poll.Output)
	default:
		return
	}
	cs.TouchTask(t)
}

func (e *Engine) finish(t *domain.Task, status domain.Status, exitCode int, output string, now time.Time) {
	t.Status = status
	t.ExitCode.Int32, t.ExitCode.Valid = int32(exitCode), true
	if output != "" {
		t.Output = output
	}
	t.Ended.Time, t.Ended.Valid = now, true
}

// complete runs the exit task of s if it has one left, otherwise fires every
// outgoing transition and then leaves s.
func (e *Engine) complete(ctx context.Context, m *domain.FiniteStateMachine, cs *internal.ChangeSet, s *domain.State, report *TickReport, now time.Time) error {
	if s.ExitBlueprint != nil && s.ExitTaskID == "" {
		exit := m.NewTask(s, *s.ExitBlueprint, now)
		s.ExitTaskID = exit.ID
		s.TaskID = exit.ID
		cs.AddTask(exit)
		cs.TouchState(s)
		cs.Record(&internal.MachineAction{Type: internal.ActionExitTask, StateID: s.ID, TaskID: exit.ID, Name: s.Name, Text: "Exit task " + exit.Name, DateTime: now})
		slog.InfoContext(ctx, "Starting exit task", "machine_id", m.ID, "state", s.Name, "task", exit.Name)
		return nil
	}
	for _, tr := range m.TransitionsFrom(s.ID) {
		target := m.State(tr.ToStateID)
		if target == nil {
			return fmt.Errorf("%w: transition %q has no target", domain.ErrStructural, tr.Name)
		}
		if target.Active {
			continue
		}
		if err := e.enter(ctx, m, cs, target, now); err != nil {
			return err
		}
		cs.Record(&internal.MachineAction{Type: internal.ActionTransition, StateID: target.ID, Name: tr.Name,
			Text: "From " + s.Name + " to " + target.Name, DateTime: now})
		report.Transitions++
	}
	m.Deactivate(s, now)
	cs.TouchState(s)
	return nil
}

// machineStatus derives the machine status from its active states. A queued
// task behind a failed prerequisite counts as failed, not live.
func machineStatus(m *domain.FiniteStateMachine, lookup domain.StatusLookup) domain.Status {
	active := m.ActiveStates()
	if len(active) == 0 {
		return domain.StatusComplete
	}
	failed := false
	for _, s := range active {
		t := m.CurrentTask(s)
		if t == nil {
			continue
		}
		if t.Status == domain.StatusQueued && m.PrerequisiteFailed(s, lookup) {
			failed = true
			continue
		}
		if t.Status.IsLive() {
			return domain.StatusRunning
		}
		if t.Status == domain.StatusFailed || t.Status == domain.StatusStopped {
			failed = true
		}
	}
	if failed {
		return domain.StatusFailed
	}
	return domain.StatusSuspended
}

func (e *Engine) updateStatus(m *domain.FiniteStateMachine, cs *internal.ChangeSet, lookup domain.StatusLookup, now time.Time) {
	status := machineStatus(m, lookup)
	if status == m.Status {
		return
	}
	m.Status = status
	cs.TouchMachine()
	if status == domain.StatusComplete {
		m.DateCompleted.Time, m.DateCompleted.Valid = now, true
		cs.Record(&internal.MachineAction{Type: internal.ActionMachineComplete, Name: m.Name, Text: "Machine complete", DateTime: now})
	}
}

func (e *Engine) failStructurally(m *domain.FiniteStateMachine, cs *internal.ChangeSet, err error, now time.Time) {
	m.Status = domain.StatusFailed
	cs.TouchMachine()
	cs.Record(&internal.MachineAction{Type: internal.ActionStructuralError, Name: m.Name, Text: err.Error(), DateTime: now})
}

// abort drops whatever the tick changed so far and commits only the failure.
// The machine is reloaded so no half-entered state reaches storage.
func (e *Engine) abort(ctx context.Context, m *domain.FiniteStateMachine, cause error, now time.Time) (*TickReport, error) {
	slog.ErrorContext(ctx, "Structural error in machine", "machine_id", m.ID, "error", cause)
	report := &TickReport{MachineID: m.ID}
	fresh, err := e.machines.FindByID(m.ID)
	if err != nil {
		if rerr := e.machines.ReleaseMachine(m.ID, e.ExecutorID(), e.clock.Now().Add(e.TickInterval)); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, errors.Join(cause, err)
	}
	// the claim does not bump the version, so this is still the one loaded
	fresh.Version = m.Version
	cs := internal.NewChangeSet(fresh)
	e.failStructurally(fresh, cs, cause, now)
	if cerr := e.commit(ctx, cs, report); cerr != nil {
		return nil, errors.Join(cause, cerr)
	}
	return report, cause
}

// commit persists the change set, or only drops the claim when nothing changed.
func (e *Engine) commit(ctx context.Context, cs *internal.ChangeSet, report *TickReport) error {
	m := cs.Machine
	executorID := e.ExecutorID()
	next := e.clock.Now().Add(e.TickInterval)
	report.Status = m.Status
	report.ActiveStates = len(m.ActiveStates())
	if cs.Empty() {
		return e.machines.ReleaseMachine(m.ID, executorID, next)
	}
	if err := e.machines.CommitTick(ctx, cs, executorID, next); err != nil {
		slog.ErrorContext(ctx, "Failed to commit tick", "machine_id", m.ID, "error", err)
		if rerr := e.machines.ReleaseMachine(m.ID, executorID, next); rerr != nil {
			slog.ErrorContext(ctx, "Failed to release machine", "machine_id", m.ID, "error", rerr)
		}
		return fmt.Errorf("commit tick of %s: %w", m.ID, err)
	}
	report.Committed = true
	slog.InfoContext(ctx, "Tick committed", "machine_id", m.ID, "status", m.Status, "active_states", report.ActiveStates,
		"dispatched", report.Dispatched, "completed", report.Completed, "failed", report.Failed)
	return nil
}
