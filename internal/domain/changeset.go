package domain

import (
	"time"

	fsm "github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// ChangeSet collects everything one tick mutated. It is committed in a single
// transaction or not at all.
type ChangeSet struct {
	Machine         *fsm.FiniteStateMachine
	ExpectedVersion int64
	MachineDirty    bool
	States          map[string]*fsm.State
	NewStates       map[string]*fsm.State
	NewTransitions  []*fsm.Transition
	NewTasks        map[string]*fsm.Task
	Tasks           map[string]*fsm.Task
	Actions         []*MachineAction
}

func NewChangeSet(m *fsm.FiniteStateMachine) *ChangeSet {
	return &ChangeSet{
		Machine:         m,
		ExpectedVersion: m.Version,
		States:          map[string]*fsm.State{},
		NewStates:       map[string]*fsm.State{},
		NewTasks:        map[string]*fsm.Task{},
		Tasks:           map[string]*fsm.Task{},
	}
}

func (c *ChangeSet) TouchMachine() {
	c.MachineDirty = true
}

func (c *ChangeSet) TouchState(s *fsm.State) {
	if _, ok := c.NewStates[s.ID]; ok {
		return
	}
	c.States[s.ID] = s
}

func (c *ChangeSet) AddState(s *fsm.State) {
	c.NewStates[s.ID] = s
}

func (c *ChangeSet) AddTransition(t *fsm.Transition) {
	c.NewTransitions = append(c.NewTransitions, t)
}

func (c *ChangeSet) AddTask(t *fsm.Task) {
	c.NewTasks[t.ID] = t
}

// TouchTask records an update, unless the task is new in this change set.
func (c *ChangeSet) TouchTask(t *fsm.Task) {
	if _, ok := c.NewTasks[t.ID]; ok {
		return
	}
	c.Tasks[t.ID] = t
}

func (c *ChangeSet) Record(a *MachineAction) {
	if a.MachineID == "" {
		a.MachineID = c.Machine.ID
	}
	if a.DateTime.IsZero() {
		a.DateTime = time.Now()
	}
	c.Actions = append(c.Actions, a)
}

// Empty is true when nothing about the graph changed. Actions alone do not
// make a change set worth committing.
func (c *ChangeSet) Empty() bool {
	return !c.MachineDirty && len(c.States) == 0 && len(c.NewStates) == 0 && len(c.NewTransitions) == 0 &&
		len(c.NewTasks) == 0 && len(c.Tasks) == 0
}
