package factory

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const runYAML = `
name: 240301_A00123_0042_AHXXXXDSX2
runDirectory: /seq/illumina/240301_A00123_0042_AHXXXXDSX2
flowcell: HXXXXDSX2
reads: [151, 8, 8, 151]
lanes:
  - number: 1
    samples:
      - {name: SM-A1, index: ACGTACGT, index2: TTGGCCAA, sex: female}
      - {name: SM-B2, index: GGTTAACC}
  - number: 2
    samples:
      - {name: SM-A1, index: ACGTACGT, index2: TTGGCCAA}
`

func TestLoadRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(runYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	run, err := LoadRunFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if run.Flowcell != "HXXXXDSX2" || len(run.Lanes) != 2 || run.Lanes[0].Samples[0].Sex != "female" {
		t.Errorf("unexpected run %+v", run)
	}
	order, lanes := run.SampleLanes()
	if !reflect.DeepEqual(order, []string{"SM-A1", "SM-B2"}) {
		t.Errorf("unexpected sample order %v", order)
	}
	if !reflect.DeepEqual(lanes["SM-A1"], []int{1, 2}) || !reflect.DeepEqual(lanes["SM-B2"], []int{1}) {
		t.Errorf("unexpected sample lanes %v", lanes)
	}
}

func TestRunDescription_ValidateCollectsEveryProblem(t *testing.T) {
	run := &RunDescription{Lanes: []LaneDescription{
		{Number: 0, Samples: []SampleDescription{{Name: "a"}, {Name: "a"}}},
		{Number: 0},
	}}
	err := run.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"name is required", "runDirectory is required", "flowcell is required",
		"lane number 0 must be positive", "lane 0 listed twice", "lane 0 has no samples", "sample a listed twice"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoadRunFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	os.WriteFile(path, []byte("name: x\n"), 0o644)
	if _, err := LoadRunFile(path); err == nil {
		t.Error("expected an incomplete run file to be rejected")
	}
	if _, err := LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected a missing run file to be rejected")
	}
}
