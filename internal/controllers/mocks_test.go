package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// MockUserRepo implements engine.UserRepo for testing
type MockUserRepo struct {
	FindBySessionIDFunc         func(sessionID string, now time.Time) (*internal.User, error)
	FindByApiKeyFunc            func(apiKey string) (*internal.User, error)
	FindAllFunc                 func() ([]*internal.User, error)
	SaveFunc                    func(user *internal.User) (int64, error)
	FindByIdFunc                func(id int64) (*internal.User, error)
	DeleteByIdFunc              func(id int64) error
	FindByUsernameFunc          func(username string) (*internal.User, error)
	UpdateSessionFunc           func(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionIDFunc func(sessionID string) error
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*internal.User, error) {
	if m.FindBySessionIDFunc != nil {
		return m.FindBySessionIDFunc(sessionID, now)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*internal.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	if apiKey == "operator-key" {
		return &internal.User{ID: 1, Username: "operator"}, nil
	}
	return nil, nil
}
func (m *MockUserRepo) FindAll() ([]*internal.User, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockUserRepo) Save(user *internal.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 0, nil
}
func (m *MockUserRepo) FindById(id int64) (*internal.User, error) {
	if m.FindByIdFunc != nil {
		return m.FindByIdFunc(id)
	}
	return nil, nil
}
func (m *MockUserRepo) DeleteById(id int64) error {
	if m.DeleteByIdFunc != nil {
		return m.DeleteByIdFunc(id)
	}
	return nil
}
func (m *MockUserRepo) FindByUsername(username string) (*internal.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}
func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(userID, sessionID, expiry)
	}
	return nil
}
func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error {
	if m.ClearSessionBySessionIDFunc != nil {
		return m.ClearSessionBySessionIDFunc(sessionID)
	}
	return nil
}

type MockMachineService struct {
	SearchMachinesFunc func(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error)
	GetMachineFunc     func(id string) (*domain.FiniteStateMachine, error)
	GetTaskFunc        func(id string) (*domain.Task, error)
	SubmitFunc         func(ctx context.Context, m *domain.FiniteStateMachine) error
	Submitted          []*domain.FiniteStateMachine
}

func (m *MockMachineService) SearchMachines(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error) {
	if m.SearchMachinesFunc != nil {
		return m.SearchMachinesFunc(req)
	}
	return nil, nil
}
func (m *MockMachineService) GetMachine(id string) (*domain.FiniteStateMachine, error) {
	if m.GetMachineFunc != nil {
		return m.GetMachineFunc(id)
	}
	return nil, domain.ErrMachineNotFound
}
func (m *MockMachineService) GetTask(id string) (*domain.Task, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(id)
	}
	return nil, domain.ErrTaskNotFound
}
func (m *MockMachineService) Submit(ctx context.Context, fsm *domain.FiniteStateMachine) error {
	m.Submitted = append(m.Submitted, fsm)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, fsm)
	}
	return nil
}

type MockOperator struct {
	UpdateTaskStatusFunc    func(ctx context.Context, taskID string, status domain.Status, user string) (*domain.Task, error)
	UpdateMachineStatusFunc func(ctx context.Context, machineID string, status domain.Status, user string) (*domain.FiniteStateMachine, error)
	ResumeFunc              func(ctx context.Context, machineID string, user string) (*engine.TickReport, error)
	ViewLogFunc             func(taskID string) (string, error)
	MoveSamplesFunc         func(ctx context.Context, machineID, from, to string, samples []string, user string) (*domain.FiniteStateMachine, error)
	CreatePoolGroupFunc     func(ctx context.Context, machineID, fromState, groupName string, samples []string, user string) (*domain.FiniteStateMachine, error)
}

func (m *MockOperator) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, user string) (*domain.Task, error) {
	if m.UpdateTaskStatusFunc != nil {
		return m.UpdateTaskStatusFunc(ctx, taskID, status, user)
	}
	return nil, domain.ErrTaskNotFound
}
func (m *MockOperator) UpdateMachineStatus(ctx context.Context, machineID string, status domain.Status, user string) (*domain.FiniteStateMachine, error) {
	if m.UpdateMachineStatusFunc != nil {
		return m.UpdateMachineStatusFunc(ctx, machineID, status, user)
	}
	return nil, domain.ErrMachineNotFound
}
func (m *MockOperator) Resume(ctx context.Context, machineID string, user string) (*engine.TickReport, error) {
	if m.ResumeFunc != nil {
		return m.ResumeFunc(ctx, machineID, user)
	}
	return nil, domain.ErrMachineNotFound
}
func (m *MockOperator) ViewLog(taskID string) (string, error) {
	if m.ViewLogFunc != nil {
		return m.ViewLogFunc(taskID)
	}
	return "", domain.ErrTaskNotFound
}
func (m *MockOperator) MoveSamples(ctx context.Context, machineID, from, to string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	if m.MoveSamplesFunc != nil {
		return m.MoveSamplesFunc(ctx, machineID, from, to, samples, user)
	}
	return nil, domain.ErrMachineNotFound
}
func (m *MockOperator) CreatePoolGroup(ctx context.Context, machineID, fromState, groupName string, samples []string, user string) (*domain.FiniteStateMachine, error) {
	if m.CreatePoolGroupFunc != nil {
		return m.CreatePoolGroupFunc(ctx, machineID, fromState, groupName, samples, user)
	}
	return nil, domain.ErrMachineNotFound
}

type MockMachineActionRepo struct {
	FindAllByMachineIDFunc func(machineID string) ([]*internal.MachineAction, error)
}

func (m *MockMachineActionRepo) Save(a *internal.MachineAction) (int64, error) { return 1, nil }
func (m *MockMachineActionRepo) FindAllByMachineID(machineID string) ([]*internal.MachineAction, error) {
	if m.FindAllByMachineIDFunc != nil {
		return m.FindAllByMachineIDFunc(machineID)
	}
	return nil, nil
}

type MockExecutorRepo struct {
	GetExecutorsByLastActiveFunc func(limit int) ([]*internal.Executor, error)
}

func (m *MockExecutorRepo) Save(e *internal.Executor) (int64, error)      { return 1, nil }
func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error { return nil }
func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*internal.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

// call sends an authenticated request through mux.
func call(mux *http.ServeMux, method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", "operator-key")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}
