package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/internal/decorators"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

const runJSON = `{
	"name": "240301_A00123_0042_AHXXXXDSX2",
	"runDirectory": "/seq/illumina/240301_A00123_0042_AHXXXXDSX2",
	"flowcell": "HXXXXDSX2",
	"lanes": [
		{"number": 1, "samples": [{"name": "SM-1", "index": "ACGTACGT"}, {"name": "SM-2", "index": "TTGGCCAA"}]},
		{"number": 2, "samples": [{"name": "SM-1", "index": "ACGTACGT"}]}
	]
}`

func newMachinesMux(t *testing.T, machines *MockMachineService, op *MockOperator) (*http.ServeMux, *factory.Factory) {
	p := config.DefaultPipeline()
	p.OutputRoot = t.TempDir()
	f := factory.NewFactory(p, core.NewFakeClock(epoch))
	mux := http.NewServeMux()
	NewMachinesController(machines, op, f, &MockUserRepo{}).RegisterRoutes(mux)
	return mux, f
}

func topOffMachine() *domain.FiniteStateMachine {
	m := domain.NewFiniteStateMachine("TopOffs", "default", epoch)
	for i, name := range decorators.StateNames {
		m.AddState(&domain.State{Name: name, Start: i == 0})
	}
	m.StateByName(decorators.HoldForTopOff).Samples = []string{"SM-1", "SM-2"}
	return m
}

func TestMachinesController_CreateRun(t *testing.T) {
	machines := &MockMachineService{}
	mux, f := newMachinesMux(t, machines, &MockOperator{})

	w := call(mux, "POST", "/api/machines/run", runJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.CreateMachineResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(machines.Submitted) != 1 || resp.ID != machines.Submitted[0].ID || resp.States != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
	run := &factory.RunDescription{Name: "240301_A00123_0042_AHXXXXDSX2"}
	if _, err := factory.LoadSampleSheet(f.SampleSheetPath(run, 1)); err != nil {
		t.Errorf("expected the lane 1 sample sheet to be written: %v", err)
	}
}

func TestMachinesController_CreateRunRejectsBadInput(t *testing.T) {
	machines := &MockMachineService{}
	mux, _ := newMachinesMux(t, machines, &MockOperator{})

	if w := call(mux, "POST", "/api/machines/run", `{"name": "x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an incomplete run, got %d", w.Code)
	}
	if w := call(mux, "POST", "/api/machines/run", `{"unknown": 1}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown fields, got %d", w.Code)
	}
	if len(machines.Submitted) != 0 {
		t.Error("nothing should have been submitted")
	}
}

func TestMachinesController_CreateAggregation(t *testing.T) {
	alignment := &domain.Task{ID: "t-1", Kind: domain.TaskAlignment,
		Params: domain.TaskParams{Alignment: &domain.AlignmentParams{FastqList: "/out/SM-1/fastq_list.csv"}}}
	machines := &MockMachineService{GetTaskFunc: func(id string) (*domain.Task, error) {
		if id == "t-1" {
			return alignment, nil
		}
		return nil, domain.ErrTaskNotFound
	}}
	mux, _ := newMachinesMux(t, machines, &MockOperator{})

	w := call(mux, "POST", "/api/machines/aggregation", `{"sampleKey": "SM-1", "alignmentTaskIds": ["t-1"]}`)
	if w.Code != http.StatusCreated || len(machines.Submitted) != 1 || machines.Submitted[0].Name != "Agg_SM-1" {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
	if w := call(mux, "POST", "/api/machines/aggregation", `{"sampleKey": "SM-1", "alignmentTaskIds": ["t-9"]}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown alignment, got %d", w.Code)
	}
}

func TestMachinesController_CreateHoldingMachines(t *testing.T) {
	machines := &MockMachineService{}
	mux, _ := newMachinesMux(t, machines, &MockOperator{})

	if w := call(mux, "POST", "/api/machines/topoff", `{"name": "TopOffs", "samples": ["SM-1"]}`); w.Code != http.StatusCreated {
		t.Errorf("top off: expected 201, got %d", w.Code)
	}
	if w := call(mux, "POST", "/api/machines/triage", `{"name": "Triage"}`); w.Code != http.StatusCreated {
		t.Errorf("triage: expected 201, got %d", w.Code)
	}
	if w := call(mux, "POST", "/api/machines/upload", `{"sources": ["/a.cram"]}`); w.Code != http.StatusCreated {
		t.Errorf("upload: expected 201, got %d", w.Code)
	}
	if w := call(mux, "POST", "/api/machines/triage", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a name, got %d", w.Code)
	}
	if len(machines.Submitted) != 3 {
		t.Errorf("expected 3 machines, got %d", len(machines.Submitted))
	}
}

func TestMachinesController_Search(t *testing.T) {
	var got repository.MachineSearch
	machines := &MockMachineService{SearchMachinesFunc: func(req repository.MachineSearch) ([]*domain.FiniteStateMachine, error) {
		got = req
		return []*domain.FiniteStateMachine{topOffMachine()}, nil
	}}
	mux, _ := newMachinesMux(t, machines, &MockOperator{})

	w := call(mux, "GET", "/api/machines?status=running&limit=5&offset=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got.Status != "RUNNING" || got.Limit != 5 || got.Offset != 10 {
		t.Errorf("unexpected search %+v", got)
	}
	var out []models.MachineSummary
	json.NewDecoder(w.Body).Decode(&out)
	if len(out) != 1 || out[0].Name != "TopOffs" {
		t.Errorf("unexpected summaries %+v", out)
	}

	if w := call(mux, "GET", "/api/machines?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", w.Code)
	}
	if w := call(mux, "GET", "/api/machines?status=DONE", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad status, got %d", w.Code)
	}
}

func TestMachinesController_GetMachineAndFlowChart(t *testing.T) {
	m := topOffMachine()
	m.States[0].Active = true
	machines := &MockMachineService{GetMachineFunc: func(id string) (*domain.FiniteStateMachine, error) {
		if id == m.ID {
			return m, nil
		}
		return nil, domain.ErrMachineNotFound
	}}
	mux, _ := newMachinesMux(t, machines, &MockOperator{})

	w := call(mux, "GET", "/api/machines/"+m.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body struct {
		ID           string   `json:"id"`
		ActiveStates []string `json:"activeStates"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.ID != m.ID || len(body.ActiveStates) != 1 || body.ActiveStates[0] != decorators.HoldForTopOff {
		t.Errorf("unexpected machine body %+v", body)
	}

	w = call(mux, "GET", "/api/machines/"+m.ID+"/flowchart", "")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "flowchart TD") {
		t.Errorf("unexpected flowchart %d %q", w.Code, w.Body.String())
	}

	if w := call(mux, "GET", "/api/machines/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMachinesController_StatusAndResume(t *testing.T) {
	m := topOffMachine()
	op := &MockOperator{
		UpdateMachineStatusFunc: func(ctx context.Context, machineID string, status domain.Status, user string) (*domain.FiniteStateMachine, error) {
			if status != domain.StatusSuspended || user != "operator" {
				t.Errorf("unexpected update %s by %q", status, user)
			}
			m.Status = status
			return m, nil
		},
		ResumeFunc: func(ctx context.Context, machineID string, user string) (*engine.TickReport, error) {
			if machineID == "locked" {
				return nil, domain.ErrMachineLocked
			}
			return &engine.TickReport{MachineID: machineID, Status: domain.StatusRunning, Dispatched: 2, Committed: true}, nil
		},
	}
	mux, _ := newMachinesMux(t, &MockMachineService{}, op)

	w := call(mux, "POST", "/api/machines/"+m.ID+"/status", `{"status": "suspended"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"SUSPENDED"`) {
		t.Errorf("unexpected status response %d %s", w.Code, w.Body.String())
	}
	if w := call(mux, "POST", "/api/machines/x/status", `{"status": "later"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown status, got %d", w.Code)
	}

	w = call(mux, "POST", "/api/machines/m-1/resume", "")
	var report engine.TickReport
	json.NewDecoder(w.Body).Decode(&report)
	if w.Code != http.StatusOK || report.Dispatched != 2 || !report.Committed {
		t.Errorf("unexpected resume %d %+v", w.Code, report)
	}
	if w := call(mux, "POST", "/api/machines/locked/resume", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a locked machine, got %d", w.Code)
	}
}

func TestMachinesController_TopOffOperations(t *testing.T) {
	m := topOffMachine()
	machines := &MockMachineService{GetMachineFunc: func(id string) (*domain.FiniteStateMachine, error) { return m, nil }}
	op := &MockOperator{
		MoveSamplesFunc: func(ctx context.Context, machineID, from, to string, samples []string, user string) (*domain.FiniteStateMachine, error) {
			if from != decorators.HoldForTopOff || to != decorators.Nova || len(samples) != 1 {
				t.Errorf("unexpected move %s -> %s %v", from, to, samples)
			}
			m.StateByName(decorators.HoldForTopOff).Samples = []string{"SM-2"}
			m.StateByName(decorators.Nova).Samples = samples
			return m, nil
		},
		CreatePoolGroupFunc: func(ctx context.Context, machineID, fromState, groupName string, samples []string, user string) (*domain.FiniteStateMachine, error) {
			if groupName == "dup" {
				return nil, domain.ErrStructural
			}
			m.AddState(&domain.State{Name: groupName, Kind: domain.StatePoolGroup, Samples: samples})
			return m, nil
		},
	}
	mux, _ := newMachinesMux(t, machines, op)

	w := call(mux, "POST", "/api/machines/"+m.ID+"/samples/move", `{"from": "Hold For Top Off", "to": "NovaSeq", "samples": ["SM-1"]}`)
	var view decorators.TopOffView
	json.NewDecoder(w.Body).Decode(&view)
	if w.Code != http.StatusOK || len(view.States[decorators.Nova]) != 1 {
		t.Errorf("unexpected move response %d %+v", w.Code, view)
	}
	if w := call(mux, "POST", "/api/machines/"+m.ID+"/samples/move", `{"from": "Hold For Top Off"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = call(mux, "POST", "/api/machines/"+m.ID+"/poolgroups", `{"from": "NovaSeq", "name": "Pool 1", "samples": ["SM-1"]}`)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"Pool 1"`) {
		t.Errorf("unexpected pool group response %d %s", w.Code, w.Body.String())
	}
	if w := call(mux, "POST", "/api/machines/"+m.ID+"/poolgroups", `{"from": "NovaSeq", "name": "dup"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a structural error, got %d", w.Code)
	}

	if w := call(mux, "GET", "/api/machines/"+m.ID+"/topoff", ""); w.Code != http.StatusOK {
		t.Errorf("expected the top off view, got %d", w.Code)
	}
	if w := call(mux, "GET", "/api/machines/"+m.ID+"/triage", ""); w.Code != http.StatusOK {
		t.Errorf("expected the triage view, got %d", w.Code)
	}
}
