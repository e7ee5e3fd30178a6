package decorators

import (
	"fmt"
	"strings"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

const (
	OverrideInSpec = "Override In Spec"
	OutOfSpec      = "Out Of Spec"
	Passing        = "Passing"
)

var TriageStateNames = []string{OutOfSpec, OverrideInSpec, Passing}

const (
	MAX_CONTAM = 0.01
	MIN_COV_20 = 95
)

// OutOfSpecCommand is what an operator decides for a sample failing triage.
type OutOfSpecCommand string

const (
	SendToTopOffs   OutOfSpecCommand = "SEND_TO_TOP_OFFS"
	ReworkFromStock OutOfSpecCommand = "REWORK_FROM_STOCK"
	OverrideToSpec  OutOfSpecCommand = "OVERRIDE_IN_SPEC"
)

func ParseOutOfSpecCommand(v string) (OutOfSpecCommand, error) {
	c := OutOfSpecCommand(strings.ToUpper(strings.TrimSpace(v)))
	switch c {
	case SendToTopOffs, ReworkFromStock, OverrideToSpec:
		return c, nil
	}
	return "", fmt.Errorf("unknown out of spec command %q", v)
}

// Triage is a read-only view over a triage machine.
type Triage struct {
	machine *domain.FiniteStateMachine
}

func NewTriage(m *domain.FiniteStateMachine) *Triage {
	return &Triage{machine: m}
}

func (t *Triage) OverrideInSpecSamples() []string {
	if s := t.machine.StateByName(OverrideInSpec); s != nil {
		return append([]string(nil), s.Samples...)
	}
	return nil
}

func (t *Triage) isOverridden(sample string) bool {
	s := t.machine.StateByName(OverrideInSpec)
	return s != nil && s.HasSample(sample)
}

// IsInSpec applies the aggregation thresholds. Samples an operator moved to
// Override In Spec always pass.
func (t *Triage) IsInSpec(sample string, contamination float64, coverage20x float64) bool {
	if t.isOverridden(sample) {
		return true
	}
	return contamination < MAX_CONTAM && coverage20x > MIN_COV_20
}

type TriageView struct {
	MachineID string              `json:"machineId"`
	States    map[string][]string `json:"states"`
}

func (t *Triage) View() TriageView {
	v := TriageView{MachineID: t.machine.ID, States: map[string][]string{}}
	for _, name := range TriageStateNames {
		if s := t.machine.StateByName(name); s != nil {
			v.States[name] = append([]string(nil), s.Samples...)
		}
	}
	return v
}
