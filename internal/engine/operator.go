package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// Operator applies manual interventions. Every change goes through the same
// claim and versioned commit as a tick, so it cannot race the engine.
type Operator struct {
	engine *Engine
}

func NewOperator(engine *Engine) *Operator {
	return &Operator{engine: engine}
}

// mutate claims the machine, lets fn change it and commits the result with an
// immediate next activation.
func (o *Operator) mutate(ctx context.Context, machineID string, fn func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error) (*domain.FiniteStateMachine, error) {
	e := o.engine
	m, err := e.machines.FindByID(machineID)
	if err != nil {
		return nil, err
	}
	executorID := e.ExecutorID()
	if !e.machines.ClaimMachine(m.ID, executorID, m.Version) {
		return nil, fmt.Errorf("%w: %s", domain.ErrMachineLocked, m.ID)
	}
	now := e.clock.Now()
	cs := internal.NewChangeSet(m)
	if err := fn(m, cs, now); err != nil {
		if rerr := e.machines.ReleaseMachine(m.ID, executorID, now); rerr != nil {
			slog.ErrorContext(ctx, "Failed to release machine", "machine_id", m.ID, "error", rerr)
		}
		return nil, err
	}
	if cs.Empty() {
		return m, e.machines.ReleaseMachine(m.ID, executorID, now)
	}
	if err := e.machines.CommitTick(ctx, cs, executorID, now); err != nil {
		if rerr := e.machines.ReleaseMachine(m.ID, executorID, now); rerr != nil {
			slog.ErrorContext(ctx, "Failed to release machine", "machine_id", m.ID, "error", rerr)
		}
		return nil, err
	}
	return m, nil
}

func operatorAction(user string, stateID string, taskID string, name string, text string, now time.Time) *internal.MachineAction {
	if user != "" {
		text += " by " + user
	}
	return &internal.MachineAction{Type: internal.ActionOperator, StateID: stateID, TaskID: taskID, Name: name, Text: text, DateTime: now}
}

// wake puts a finished or stuck machine back in front of the engine.
func wake(m *domain.FiniteStateMachine, cs *internal.ChangeSet) {
	switch m.Status {
	case domain.StatusRunning, domain.StatusQueued:
		return
	}
	m.Status = domain.StatusRunning
	m.DateCompleted.Valid = false
	cs.TouchMachine()
}

// UpdateTaskStatus overrides the status of a task. QUEUED redispatches it,
// COMPLETE lets the next tick fire its transitions and STOPPED cancels the
// process first.
func (o *Operator) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, user string) (*domain.Task, error) {
	if !status.IsTaskStatus() || status == domain.StatusRunning {
		return nil, fmt.Errorf("%w: a task cannot be set to %s", domain.ErrInvalidStatus, status)
	}
	found, err := o.engine.machines.FindTaskByID(taskID)
	if err != nil {
		return nil, err
	}
	var updated *domain.Task
	_, err = o.mutate(ctx, found.MachineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		t := m.Task(taskID)
		if t == nil {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
		}
		s := m.State(t.StateID)
		if s == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, t.StateID)
		}
		previous := t.Status
		switch status {
		case domain.StatusQueued:
			if previous == domain.StatusRunning {
				if err := o.engine.tasks.Cancel(ctx, t); err != nil {
					return fmt.Errorf("cancel task %s: %w", t.ID, err)
				}
			}
			t.Reset()
			if t.ID != s.ExitTaskID {
				s.ExitTaskID = ""
			}
			s.TaskID = t.ID
			if !s.Active {
				s.Active = true
				s.DateEntered.Time, s.DateEntered.Valid = now, true
				s.DateExited.Valid = false
			}
			cs.TouchState(s)
			wake(m, cs)
		case domain.StatusStopped:
			if previous == domain.StatusRunning {
				if err := o.engine.tasks.Cancel(ctx, t); err != nil {
					return fmt.Errorf("cancel task %s: %w", t.ID, err)
				}
			}
			o.engine.finish(t, domain.StatusStopped, -1, "", now)
		case domain.StatusComplete:
			o.engine.finish(t, domain.StatusComplete, 0, "", now)
			if s.Active {
				wake(m, cs)
			}
		default:
			t.Status = status
		}
		cs.TouchTask(t)
		cs.Record(operatorAction(user, s.ID, t.ID, t.Name, fmt.Sprintf("Task status changed from %s to %s", previous, status), now))
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Task status updated", "task_id", taskID, "status", status, "user", user)
	return updated, nil
}

// UpdateMachineStatus accepts RUNNING, SUSPENDED and CANCELLED. Cancelling
// stops every running process of the machine.
func (o *Operator) UpdateMachineStatus(ctx context.Context, machineID string, status domain.Status, user string) (*domain.FiniteStateMachine, error) {
	switch status {
	case domain.StatusRunning, domain.StatusSuspended, domain.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: a machine cannot be set to %s", domain.ErrInvalidStatus, status)
	}
	return o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		if m.Status == status {
			return nil
		}
		if m.Status == domain.StatusComplete {
			return fmt.Errorf("%w: machine %s is already complete", domain.ErrInvalidStatus, m.ID)
		}
		if status == domain.StatusCancelled {
			for _, s := range m.ActiveStates() {
				t := m.CurrentTask(s)
				if t == nil || t.Status != domain.StatusRunning {
					continue
				}
				if err := o.engine.tasks.Cancel(ctx, t); err != nil {
					slog.ErrorContext(ctx, "Failed to cancel task", "machine_id", m.ID, "task_id", t.ID, "error", err)
				}
				o.engine.finish(t, domain.StatusStopped, -1, "", now)
				cs.TouchTask(t)
			}
		}
		cs.Record(operatorAction(user, "", "", m.Name, fmt.Sprintf("Machine status changed from %s to %s", m.Status, status), now))
		m.Status = status
		cs.TouchMachine()
		return nil
	})
}

// Resume makes the machine runnable again and ticks it straight away.
func (o *Operator) Resume(ctx context.Context, machineID string, user string) (*TickReport, error) {
	_, err := o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		switch m.Status {
		case domain.StatusComplete:
			return fmt.Errorf("%w: %s is complete", domain.ErrMachineNotRunnable, m.ID)
		case domain.StatusQueued, domain.StatusRunning:
			return nil
		}
		cs.Record(operatorAction(user, "", "", m.Name, "Resumed from "+string(m.Status), now))
		m.Status = domain.StatusRunning
		cs.TouchMachine()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.engine.Tick(ctx, machineID)
}

func (o *Operator) ViewLog(taskID string) (string, error) {
	t, err := o.engine.machines.FindTaskByID(taskID)
	if err != nil {
		return "", err
	}
	return o.engine.tasks.ReadLog(t)
}

func (o *Operator) AddSamplesToState(ctx context.Context, machineID string, stateName string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	return o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		s := m.StateByName(stateName)
		if s == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, stateName)
		}
		if addSamples(s, samples) {
			cs.TouchState(s)
			cs.Record(operatorAction(user, s.ID, "", s.Name, "Added "+strings.Join(samples, ","), now))
		}
		return nil
	})
}

func (o *Operator) RemoveSamplesFromState(ctx context.Context, machineID string, stateName string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	return o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		s := m.StateByName(stateName)
		if s == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, stateName)
		}
		if removeSamples(s, samples) {
			cs.TouchState(s)
			cs.Record(operatorAction(user, s.ID, "", s.Name, "Removed "+strings.Join(samples, ","), now))
		}
		return nil
	})
}

// MoveSamples takes samples out of one state and into another in a single commit.
func (o *Operator) MoveSamples(ctx context.Context, machineID string, from string, to string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	return o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		src, dst := m.StateByName(from), m.StateByName(to)
		if src == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, from)
		}
		if dst == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, to)
		}
		for _, sample := range samples {
			if !src.HasSample(sample) {
				return fmt.Errorf("%w: sample %s is not in %s", domain.ErrStateNotFound, sample, from)
			}
		}
		removeSamples(src, samples)
		addSamples(dst, samples)
		cs.TouchState(src)
		cs.TouchState(dst)
		cs.Record(operatorAction(user, dst.ID, "", dst.Name, fmt.Sprintf("Moved %s from %s", strings.Join(samples, ","), from), now))
		return nil
	})
}

// CreatePoolGroup splits samples off a sequencer queue into a new pool group
// state reached from that queue.
func (o *Operator) CreatePoolGroup(ctx context.Context, machineID string, fromState string, groupName string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	if strings.TrimSpace(groupName) == "" {
		return nil, fmt.Errorf("%w: pool group needs a name", domain.ErrStructural)
	}
	return o.mutate(ctx, machineID, func(m *domain.FiniteStateMachine, cs *internal.ChangeSet, now time.Time) error {
		from := m.StateByName(fromState)
		if from == nil {
			return fmt.Errorf("%w: %s", domain.ErrStateNotFound, fromState)
		}
		if m.StateByName(groupName) != nil {
			return fmt.Errorf("%w: state %q already exists", domain.ErrStructural, groupName)
		}
		group := m.AddState(&domain.State{
			Name: groupName,
			Kind: domain.StatePoolGroup,
			Blueprint: &domain.TaskBlueprint{
				Name:   groupName,
				Kind:   domain.TaskHold,
				Params: domain.TaskParams{Review: &domain.ReviewParams{Note: "Pool group from " + fromState}},
			},
		})
		addSamples(group, samples)
		task := m.NewTask(group, *group.Blueprint, now)
		group.TaskID = task.ID
		tr := m.AddTransition(fromState+" To "+groupName, from, group)
		if removeSamples(from, samples) {
			cs.TouchState(from)
		}
		cs.AddState(group)
		cs.AddTask(task)
		cs.AddTransition(tr)
		cs.Record(operatorAction(user, group.ID, task.ID, groupName, "Pool group created from "+fromState, now))
		return nil
	})
}

func addSamples(s *domain.State, samples []string) bool {
	changed := false
	for _, sample := range samples {
		if sample != "" && !s.HasSample(sample) {
			s.Samples = append(s.Samples, sample)
			changed = true
		}
	}
	return changed
}

func removeSamples(s *domain.State, samples []string) bool {
	before := len(s.Samples)
	s.Samples = slices.DeleteFunc(s.Samples, func(v string) bool {
		return slices.Contains(samples, v)
	})
	return len(s.Samples) != before
}
