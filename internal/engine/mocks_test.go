package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// MemoryMachineRepo implements MachineRepo over cloned in-memory machines so
// every load sees what was last committed, like the SQL repository does.
type MemoryMachineRepo struct {
	mu       sync.Mutex
	machines map[string]*domain.FiniteStateMachine
	Actions  []*internal.MachineAction
	Commits  int
	Releases int

	ClaimMachineFunc      func(id string, executorID int64, version int64) bool
	FindDueMachinesFunc   func(size int, executorGroup string) ([]*domain.FiniteStateMachine, error)
	FindStuckMachinesFunc func(minutesRepair string, executorGroup string, limit int) ([]*domain.FiniteStateMachine, error)
	ClearExecutorIDFunc   func(id string, executorID int64) bool
}

func NewMemoryMachineRepo() *MemoryMachineRepo {
	return &MemoryMachineRepo{machines: map[string]*domain.FiniteStateMachine{}}
}

func clone(m *domain.FiniteStateMachine) *domain.FiniteStateMachine {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	var out domain.FiniteStateMachine
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (r *MemoryMachineRepo) SaveMachine(ctx context.Context, m *domain.FiniteStateMachine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.ID] = clone(m)
	return nil
}

func (r *MemoryMachineRepo) FindByID(id string) (*domain.FiniteStateMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, id)
	}
	return clone(m), nil
}

// Stored returns the committed machine without cloning, for assertions.
func (r *MemoryMachineRepo) Stored(id string) *domain.FiniteStateMachine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[id]
}

func (r *MemoryMachineRepo) FindDueMachines(size int, executorGroup string) ([]*domain.FiniteStateMachine, error) {
	if r.FindDueMachinesFunc != nil {
		return r.FindDueMachinesFunc(size, executorGroup)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.FiniteStateMachine
	for _, m := range r.machines {
		if (m.Status == domain.StatusQueued || m.Status == domain.StatusRunning) && !m.ExecutorID.Valid {
			due = append(due, clone(m))
		}
	}
	return due, nil
}

func (r *MemoryMachineRepo) ClaimMachine(id string, executorID int64, version int64) bool {
	if r.ClaimMachineFunc != nil {
		return r.ClaimMachineFunc(id, executorID, version)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	if !ok || m.Version != version || m.ExecutorID.Valid {
		return false
	}
	m.ExecutorID.Int64, m.ExecutorID.Valid = executorID, true
	return true
}

func (r *MemoryMachineRepo) ReleaseMachine(id string, executorID int64, nextActivation time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Releases++
	if m, ok := r.machines[id]; ok && m.ExecutorID.Int64 == executorID {
		m.ExecutorID.Valid = false
		m.NextActivation.Time, m.NextActivation.Valid = nextActivation, true
	}
	return nil
}

func (r *MemoryMachineRepo) CommitTick(ctx context.Context, cs *internal.ChangeSet, executorID int64, nextActivation time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.machines[cs.Machine.ID]
	if !ok || stored.Version != cs.ExpectedVersion || !stored.ExecutorID.Valid || stored.ExecutorID.Int64 != executorID {
		return fmt.Errorf("%w: %s", domain.ErrStaleMachine, cs.Machine.ID)
	}
	m := cs.Machine
	m.Version = cs.ExpectedVersion + 1
	m.ExecutorID.Valid = false
	m.NextActivation.Time, m.NextActivation.Valid = nextActivation, true
	r.machines[m.ID] = clone(m)
	for _, a := range cs.Actions {
		if a.ExecutorID == 0 {
			a.ExecutorID = executorID
		}
		r.Actions = append(r.Actions, a)
	}
	r.Commits++
	return nil
}

func (r *MemoryMachineRepo) FindStuckMachines(minutesRepair string, executorGroup string, limit int) ([]*domain.FiniteStateMachine, error) {
	if r.FindStuckMachinesFunc != nil {
		return r.FindStuckMachinesFunc(minutesRepair, executorGroup, limit)
	}
	return nil, nil
}

func (r *MemoryMachineRepo) ClearExecutorID(id string, executorID int64) bool {
	if r.ClearExecutorIDFunc != nil {
		return r.ClearExecutorIDFunc(id, executorID)
	}
	return true
}

func (r *MemoryMachineRepo) SaveAction(a *internal.MachineAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Actions = append(r.Actions, a)
	return nil
}

func (r *MemoryMachineRepo) ActionsOfType(typ string) []*internal.MachineAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*internal.MachineAction
	for _, a := range r.Actions {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (r *MemoryMachineRepo) SearchMachines(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error) {
	return nil, nil
}

func (r *MemoryMachineRepo) FindTaskByID(id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.machines {
		if t, ok := m.Tasks[id]; ok {
			c := *t
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
}

func (r *MemoryMachineRepo) FindTaskStatuses(ids []string) (map[string]domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]domain.Status{}
	for _, m := range r.machines {
		for _, id := range ids {
			if t, ok := m.Tasks[id]; ok {
				out[id] = t.Status
			}
		}
	}
	return out, nil
}

// MockTaskManager implements TaskManager for testing. Unset functions
// dispatch successfully and poll RUNNING.
type MockTaskManager struct {
	mu           sync.Mutex
	PrepareFunc  func(t *domain.Task) error
	DispatchFunc func(ctx context.Context, t *domain.Task) domain.TaskResult
	PollFunc     func(ctx context.Context, t *domain.Task) domain.PollResult
	CancelFunc   func(t *domain.Task) error
	ReadLogFunc  func(t *domain.Task) (string, error)
	OnEnterFunc  func(s *domain.State, t *domain.Task) error
	Dispatched   []string
	Entered      []string
}

func (m *MockTaskManager) Prepare(ctx context.Context, t *domain.Task) error {
	if m.PrepareFunc != nil {
		return m.PrepareFunc(t)
	}
	return nil
}

func (m *MockTaskManager) Dispatch(ctx context.Context, t *domain.Task) domain.TaskResult {
	m.mu.Lock()
	m.Dispatched = append(m.Dispatched, t.Name)
	m.mu.Unlock()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, t)
	}
	return domain.TaskResult{ProcessID: 1}
}

func (m *MockTaskManager) Poll(ctx context.Context, t *domain.Task) domain.PollResult {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, t)
	}
	return domain.PollResult{Status: domain.StatusRunning}
}

func (m *MockTaskManager) Cancel(ctx context.Context, t *domain.Task) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(t)
	}
	return nil
}

func (m *MockTaskManager) ReadLog(t *domain.Task) (string, error) {
	if m.ReadLogFunc != nil {
		return m.ReadLogFunc(t)
	}
	return "", nil
}

func (m *MockTaskManager) OnEnter(ctx context.Context, s *domain.State, t *domain.Task) error {
	m.mu.Lock()
	m.Entered = append(m.Entered, s.Name)
	m.mu.Unlock()
	if m.OnEnterFunc != nil {
		return m.OnEnterFunc(s, t)
	}
	return nil
}

func (m *MockTaskManager) DispatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Dispatched)
}

type MockExecutorRepo struct {
	SaveFunc                     func(e *internal.Executor) (int64, error)
	UpdateLastActiveFunc         func(id int64, ts time.Time) error
	GetExecutorsByLastActiveFunc func(limit int) ([]*internal.Executor, error)
}

func (m *MockExecutorRepo) Save(e *internal.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}
func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(id, ts)
	}
	return nil
}
func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*internal.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

type MockMachineActionRepo struct {
	SaveFunc               func(a *internal.MachineAction) (int64, error)
	FindAllByMachineIDFunc func(machineID string) ([]*internal.MachineAction, error)
}

func (m *MockMachineActionRepo) Save(a *internal.MachineAction) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(a)
	}
	return 1, nil
}
func (m *MockMachineActionRepo) FindAllByMachineID(machineID string) ([]*internal.MachineAction, error) {
	if m.FindAllByMachineIDFunc != nil {
		return m.FindAllByMachineIDFunc(machineID)
	}
	return nil, nil
}
