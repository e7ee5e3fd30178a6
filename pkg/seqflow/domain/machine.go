package domain

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// FiniteStateMachine is the persisted graph. States and transitions are
// owned by the machine, tasks live in an arena keyed by id.
type FiniteStateMachine struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         Status           `json:"status"`
	Version        int64            `json:"version"`
	ExecutorGroup  string           `json:"executorGroup"`
	ExecutorID     sql.NullInt64    `json:"executorId"`
	NextActivation sql.NullTime     `json:"nextActivation"`
	Created        time.Time        `json:"created"`
	Modified       time.Time        `json:"modified"`
	DateQueued     sql.NullTime     `json:"dateQueued"`
	DateStarted    sql.NullTime     `json:"dateStarted"`
	DateCompleted  sql.NullTime     `json:"dateCompleted"`
	States         []*State         `json:"states"`
	Transitions    []*Transition    `json:"transitions"`
	Tasks          map[string]*Task `json:"tasks"`
}

// StatusLookup resolves the status of a task that may belong to another machine.
type StatusLookup func(taskID string) (Status, bool)

func NewFiniteStateMachine(name string, executorGroup string, now time.Time) *FiniteStateMachine {
	return &FiniteStateMachine{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         StatusQueued,
		ExecutorGroup:  executorGroup,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		Created:        now,
		Modified:       now,
		DateQueued:     sql.NullTime{Time: now, Valid: true},
		Tasks:          map[string]*Task{},
	}
}

func (m *FiniteStateMachine) AddState(s *State) *State {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Kind == "" {
		s.Kind = StateGeneric
	}
	s.MachineID = m.ID
	s.Position = len(m.States)
	m.States = append(m.States, s)
	return s
}

func (m *FiniteStateMachine) AddTransition(name string, from *State, to *State) *Transition {
	t := &Transition{
		ID:          uuid.NewString(),
		MachineID:   m.ID,
		Name:        name,
		FromStateID: from.ID,
		ToStateID:   to.ID,
	}
	m.Transitions = append(m.Transitions, t)
	return t
}

// NewTask creates a QUEUED task for state from a blueprint and adds it to the arena.
func (m *FiniteStateMachine) NewTask(s *State, bp TaskBlueprint, now time.Time) *Task {
	name := bp.Name
	if name == "" {
		name = s.Name
	}
	t := &Task{
		ID:        uuid.NewString(),
		MachineID: m.ID,
		StateID:   s.ID,
		Name:      name,
		Kind:      bp.Kind,
		Status:    StatusQueued,
		Params:    bp.Params,
		Created:   now,
	}
	if m.Tasks == nil {
		m.Tasks = map[string]*Task{}
	}
	m.Tasks[t.ID] = t
	return t
}

// Activate marks s active and points it at a fresh task when it has none or
// its task already finished. An active state with a live task is left alone
// and nil is returned.
func (m *FiniteStateMachine) Activate(s *State, now time.Time) (*Task, error) {
	current := m.CurrentTask(s)
	if s.Active && current != nil && !current.Status.IsTerminal() {
		return nil, nil
	}
	var created *Task
	if current == nil || current.Status.IsTerminal() {
		if s.Blueprint == nil {
			return nil, fmt.Errorf("%w: state %q has no task blueprint", ErrStructural, s.Name)
		}
		created = m.NewTask(s, *s.Blueprint, now)
		s.TaskID = created.ID
	}
	s.Active = true
	s.ExitTaskID = ""
	s.DateEntered = sql.NullTime{Time: now, Valid: true}
	s.DateExited = sql.NullTime{}
	return created, nil
}

func (m *FiniteStateMachine) Deactivate(s *State, now time.Time) {
	s.Active = false
	s.DateExited = sql.NullTime{Time: now, Valid: true}
}

func (m *FiniteStateMachine) StartState() (*State, error) {
	var start *State
	for _, s := range m.States {
		if !s.Start {
			continue
		}
		if start != nil {
			return nil, fmt.Errorf("%w: machine %s has more than one start state", ErrStructural, m.Name)
		}
		start = s
	}
	if start == nil {
		return nil, fmt.Errorf("%w: machine %s has no start state", ErrStructural, m.Name)
	}
	return start, nil
}

// ActiveStates is the engine's work list, in state order.
func (m *FiniteStateMachine) ActiveStates() []*State {
	var active []*State
	for _, s := range m.States {
		if s.Active {
			active = append(active, s)
		}
	}
	return active
}

func (m *FiniteStateMachine) IsComplete() bool {
	return len(m.ActiveStates()) == 0
}

func (m *FiniteStateMachine) TransitionsFrom(stateID string) []*Transition {
	var out []*Transition
	for _, t := range m.Transitions {
		if t.FromStateID == stateID {
			out = append(out, t)
		}
	}
	return out
}

func (m *FiniteStateMachine) TransitionsTo(stateID string) []*Transition {
	var out []*Transition
	for _, t := range m.Transitions {
		if t.ToStateID == stateID {
			out = append(out, t)
		}
	}
	return out
}

func (m *FiniteStateMachine) State(id string) *State {
	for _, s := range m.States {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *FiniteStateMachine) StateByName(name string) *State {
	for _, s := range m.States {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (m *FiniteStateMachine) Task(id string) *Task {
	if id == "" {
		return nil
	}
	return m.Tasks[id]
}

func (m *FiniteStateMachine) CurrentTask(s *State) *Task {
	return m.Task(s.TaskID)
}

// ActiveTasks returns the tasks the engine may work on for s. Alignment and
// aggregation states return nothing until every prerequisite task is COMPLETE.
func (m *FiniteStateMachine) ActiveTasks(s *State, lookup StatusLookup) []*Task {
	if !s.Active {
		return nil
	}
	current := m.CurrentTask(s)
	if current == nil {
		return nil
	}
	if s.GatedByPrerequisites() && !s.RunningExitTask() {
		for _, id := range s.Prerequisites {
			status, ok := m.prerequisiteStatus(id, lookup)
			if !ok || !status.IsSuccess() {
				return nil
			}
		}
	}
	return []*Task{current}
}

// PrerequisiteFailed is true when a gated state waits on a prerequisite that
// finished without success, so its task can never start on its own.
func (m *FiniteStateMachine) PrerequisiteFailed(s *State, lookup StatusLookup) bool {
	if !s.GatedByPrerequisites() || s.RunningExitTask() {
		return false
	}
	for _, id := range s.Prerequisites {
		status, ok := m.prerequisiteStatus(id, lookup)
		if ok && status.IsTerminal() && !status.IsSuccess() {
			return true
		}
	}
	return false
}

func (m *FiniteStateMachine) prerequisiteStatus(id string, lookup StatusLookup) (Status, bool) {
	if t := m.Task(id); t != nil {
		return t.Status, true
	}
	if lookup == nil {
		return "", false
	}
	return lookup(id)
}

// Validate reports every structural problem found in the graph.
func (m *FiniteStateMachine) Validate() error {
	var result *multierror.Error
	starts := 0
	names := map[string]bool{}
	ids := map[string]*State{}
	for _, s := range m.States {
		ids[s.ID] = s
		if s.Start {
			starts++
		}
		if names[s.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate state name %q", s.Name))
		}
		names[s.Name] = true
		if s.TaskID == "" && s.Blueprint == nil {
			result = multierror.Append(result, fmt.Errorf("state %q has neither a task nor a blueprint", s.Name))
		}
		if s.TaskID != "" && m.Task(s.TaskID) == nil {
			result = multierror.Append(result, fmt.Errorf("state %q references unknown task %s", s.Name, s.TaskID))
		}
		for _, bp := range []*TaskBlueprint{s.Blueprint, s.ExitBlueprint} {
			if bp == nil {
				continue
			}
			if err := bp.Params.Validate(bp.Kind); err != nil {
				result = multierror.Append(result, fmt.Errorf("state %q: %w", s.Name, err))
			}
		}
	}
	if starts == 0 {
		result = multierror.Append(result, fmt.Errorf("no start state"))
	}
	if starts > 1 {
		result = multierror.Append(result, fmt.Errorf("%d start states, expected exactly one", starts))
	}
	for _, t := range m.Transitions {
		if t.FromStateID == "" || t.ToStateID == "" {
			result = multierror.Append(result, fmt.Errorf("transition %q is missing an endpoint", t.Name))
			continue
		}
		if ids[t.FromStateID] == nil {
			result = multierror.Append(result, fmt.Errorf("transition %q references unknown state %s", t.Name, t.FromStateID))
		}
		target := ids[t.ToStateID]
		if target == nil {
			result = multierror.Append(result, fmt.Errorf("transition %q references unknown state %s", t.Name, t.ToStateID))
			continue
		}
		// a target is re-entered with a fresh task whenever its current one has finished
		if target.Blueprint == nil {
			result = multierror.Append(result, fmt.Errorf("transition %q enters state %q, which has no blueprint", t.Name, target.Name))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: machine %s: %w", ErrStructural, m.Name, err)
	}
	return nil
}
