package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/seqflow/internal/decorators"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
)

// MachineService is the part of engine.MachineManager the API reads and submits through.
type MachineService interface {
	SearchMachines(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error)
	GetMachine(id string) (*domain.FiniteStateMachine, error)
	GetTask(id string) (*domain.Task, error)
	Submit(ctx context.Context, m *domain.FiniteStateMachine) error
}

// OperatorService is implemented by engine.Operator.
type OperatorService interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, user string) (*domain.Task, error)
	UpdateMachineStatus(ctx context.Context, machineID string, status domain.Status, user string) (*domain.FiniteStateMachine, error)
	Resume(ctx context.Context, machineID string, user string) (*engine.TickReport, error)
	ViewLog(taskID string) (string, error)
	MoveSamples(ctx context.Context, machineID string, from string, to string, samples []string, user string) (*domain.FiniteStateMachine, error)
	CreatePoolGroup(ctx context.Context, machineID string, fromState string, groupName string, samples []string, user string) (*domain.FiniteStateMachine, error)
}

type MachinesController struct {
	AuthController
	Machines MachineService
	Operator OperatorService
	Factory  *factory.Factory
}

func NewMachinesController(machines MachineService, operator OperatorService, f *factory.Factory, userRepo engine.UserRepo) *MachinesController {
	return &MachinesController{Machines: machines, Operator: operator, Factory: f, AuthController: *NewBaseController(userRepo)}
}

// writeError maps engine errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMachineNotFound), errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrStateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMachineLocked), errors.Is(err, domain.ErrMachineNotRunnable), errors.Is(err, domain.ErrStaleMachine):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStructural), errors.Is(err, domain.ErrInvalidStatus):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	util.WriteJSONResponse(w, status, models.ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: msg})
}

func summarize(m *domain.FiniteStateMachine) models.MachineSummary {
	s := models.MachineSummary{ID: m.ID, Name: m.Name, Status: m.Status, ExecutorGroup: m.ExecutorGroup, Created: m.Created}
	if m.NextActivation.Valid {
		next := m.NextActivation.Time
		s.NextActivation = &next
	}
	return s
}

func activeStateNames(m *domain.FiniteStateMachine) []string {
	names := make([]string, 0)
	for _, s := range m.ActiveStates() {
		names = append(names, s.Name)
	}
	return names
}

func (c *MachinesController) handleSearchMachines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := repository.MachineSearch{Status: q.Get("status"), Name: q.Get("name")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "offset must be a positive integer")
			return
		}
		req.Offset = n
	}
	if req.Status != "" {
		s, err := domain.ParseStatus(req.Status)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Status = string(s)
	}
	machines, err := c.Machines.SearchMachines(req)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.MachineSummary, 0, len(machines))
	for _, m := range machines {
		out = append(out, summarize(m))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *MachinesController) submit(w http.ResponseWriter, r *http.Request, m *domain.FiniteStateMachine, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Machines.Submit(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	slog.InfoContext(r.Context(), "Machine created", "machine_id", m.ID, "name", m.Name, "user", username(r))
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateMachineResponse{ID: m.ID, Name: m.Name, States: len(m.States)})
}

func (c *MachinesController) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	run, err := util.DecodeJSONBody[factory.RunDescription](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	opts := factory.RunOptions{SkipMetrics: r.URL.Query().Get("skipMetrics") == "true"}
	m, err := c.Factory.CreateRunMachine(&run, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Factory.WriteSampleSheets(&run); err != nil {
		writeError(w, err)
		return
	}
	c.submit(w, r, m, nil)
}

func (c *MachinesController) handleCreateAggregation(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateAggregationRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	alignments := make([]*domain.Task, 0, len(req.AlignmentTaskIDs))
	for _, id := range req.AlignmentTaskIDs {
		t, err := c.Machines.GetTask(id)
		if err != nil {
			writeError(w, err)
			return
		}
		alignments = append(alignments, t)
	}
	m, err := c.Factory.CreateAggregationMachine(req.SampleKey, alignments)
	c.submit(w, r, m, err)
}

func (c *MachinesController) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateUploadRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	m, err := c.Factory.CreateUploadMachine(req.Name, req.Sources, req.Destination)
	c.submit(w, r, m, err)
}

func (c *MachinesController) handleCreateTopOff(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateHoldingRequest](r)
	if err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	m, err := c.Factory.CreateTopOffMachine(req.Name, req.Samples)
	c.submit(w, r, m, err)
}

func (c *MachinesController) handleCreateTriage(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateHoldingRequest](r)
	if err != nil || req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	m, err := c.Factory.CreateTriageMachine(req.Name, req.Samples)
	c.submit(w, r, m, err)
}

func (c *MachinesController) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := c.Machines.GetMachine(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.MachineApiResponse{FiniteStateMachine: m, ActiveStates: activeStateNames(m)})
}

func (c *MachinesController) handleFlowChart(w http.ResponseWriter, r *http.Request) {
	m, err := c.Machines.GetMachine(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(engine.FlowChart(m)))
}

func (c *MachinesController) handleUpdateMachineStatus(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.UpdateStatusRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := c.Operator.UpdateMachineStatus(r.Context(), r.PathValue("id"), status, username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, summarize(m))
}

func (c *MachinesController) handleResume(w http.ResponseWriter, r *http.Request) {
	report, err := c.Operator.Resume(r.Context(), r.PathValue("id"), username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, report)
}

func (c *MachinesController) handleTopOffView(w http.ResponseWriter, r *http.Request) {
	m, err := c.Machines.GetMachine(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, decorators.NewTopOff(m).View())
}

func (c *MachinesController) handleTriageView(w http.ResponseWriter, r *http.Request) {
	m, err := c.Machines.GetMachine(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, decorators.NewTriage(m).View())
}

func (c *MachinesController) handleMoveSamples(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.MoveSamplesRequest](r)
	if err != nil || req.From == "" || req.To == "" || len(req.Samples) == 0 {
		badRequest(w, "from, to and samples are required")
		return
	}
	m, err := c.Operator.MoveSamples(r.Context(), r.PathValue("id"), req.From, req.To, req.Samples, username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, decorators.NewTopOff(m).View())
}

func (c *MachinesController) handleCreatePoolGroup(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreatePoolGroupRequest](r)
	if err != nil || req.From == "" || req.Name == "" {
		badRequest(w, "from and name are required")
		return
	}
	m, err := c.Operator.CreatePoolGroup(r.Context(), r.PathValue("id"), req.From, req.Name, req.Samples, username(r))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, decorators.NewTopOff(m).View())
}
