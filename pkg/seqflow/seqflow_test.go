package seqflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

const runYAML = `
name: 240301_A00123_0042_AHXXXXDSX2
runDirectory: /seq/illumina/240301_A00123_0042_AHXXXXDSX2
flowcell: HXXXXDSX2
lanes:
  - number: 1
    samples:
      - {name: SM-A1, index: ACGTACGT}
      - {name: SM-B2, index: GGTTAACC}
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	pipeline := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(pipeline, []byte("outputRoot: "+filepath.Join(dir, "out")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEQFLOW_DATABASE_TYPE", "SQLLITE")
	t.Setenv("SEQFLOW_DATABASE_SQLLITE_FILE_NAME", filepath.Join(dir, "seqflow.db"))
	t.Setenv("SEQFLOW_SCHEDULER", "SIMULATOR")
	t.Setenv("SEQFLOW_SCHEDULER_STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("SEQFLOW_PIPELINE_CONFIG", pipeline)

	a, err := NewApp()
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewApp_UnknownScheduler(t *testing.T) {
	t.Setenv("SEQFLOW_SCHEDULER", "PBS")
	if _, err := NewApp(); err == nil {
		t.Fatal("expected an unknown scheduler to be rejected")
	}
}

func TestApp_SubmitRunFile(t *testing.T) {
	a := newTestApp(t)
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(runYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := a.SubmitRunFile(context.Background(), path, factory.RunOptions{SkipMetrics: true})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := a.MachineRepo.FindByID(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "240301_A00123_0042_AHXXXXDSX2" || stored.Status != domain.StatusQueued || len(stored.States) != len(m.States) {
		t.Errorf("unexpected stored machine %s %s %d", stored.Name, stored.Status, len(stored.States))
	}
	run, _ := factory.LoadRunFile(path)
	if _, err := os.Stat(a.Factory.SampleSheetPath(run, 1)); err != nil {
		t.Errorf("expected the lane sample sheet: %v", err)
	}

	if _, err := a.SubmitRunFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), factory.RunOptions{}); err == nil {
		t.Error("expected a missing run file to fail")
	}
}

func TestApp_UsersAndApi(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.AddUser("admin", "changeme", "admin-key"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddUser("admin", "again", ""); err == nil {
		t.Error("expected a duplicate user to be rejected")
	}

	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/login", "application/json", strings.NewReader(`{"username":"admin","password":"changeme"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(resp.Cookies()) != 1 {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}
	session := resp.Cookies()[0]

	req, _ := http.NewRequest("POST", srv.URL+"/api/machines/topoff", strings.NewReader(`{"name":"TopOffs","samples":["SM-A1"]}`))
	req.Header.Set("X-API-Key", "admin-key")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("create top off failed: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", srv.URL+"/api/machines/"+created.ID+"/topoff", nil)
	req.AddCookie(session)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var view struct {
		States map[string][]string `json:"states"`
	}
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(view.States["Hold For Top Off"]) != 1 {
		t.Errorf("unexpected top off view %d %v", resp.StatusCode, view.States)
	}

	resp, err = http.Get(srv.URL + "/api/machines")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}
}
