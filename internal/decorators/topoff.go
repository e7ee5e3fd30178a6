package decorators

import (
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// Holding states of a top-off machine. Samples that need more sequencing are
// parked in HoldForTopOff, then moved to the queue of a sequencer type or
// sent back to the lab.
const (
	HoldForTopOff = "Hold For Top Off"
	Nova          = "NovaSeq"
	HiSeqX        = "HiSeq X"
	SentToRework  = "Sent To Rework"
)

var StateNames = []string{HoldForTopOff, Nova, HiSeqX, SentToRework}

// TopOff is a read-only view over a top-off machine.
type TopOff struct {
	machine *domain.FiniteStateMachine
}

func NewTopOff(m *domain.FiniteStateMachine) *TopOff {
	return &TopOff{machine: m}
}

func (t *TopOff) StateByName(name string) *domain.State {
	return t.machine.StateByName(name)
}

// PoolGroups returns the groups created from the sequencer queues, in creation order.
func (t *TopOff) PoolGroups() []*domain.State {
	var groups []*domain.State
	for _, s := range t.machine.States {
		if s.Kind == domain.StatePoolGroup {
			groups = append(groups, s)
		}
	}
	return groups
}

func (t *TopOff) SamplesIn(name string) []string {
	s := t.machine.StateByName(name)
	if s == nil {
		return nil
	}
	return append([]string(nil), s.Samples...)
}

// LocateSample returns the names of every state holding sample.
func (t *TopOff) LocateSample(sample string) []string {
	var names []string
	for _, s := range t.machine.States {
		if s.HasSample(sample) {
			names = append(names, s.Name)
		}
	}
	return names
}

// TopOffView is the json shape served for a top-off machine.
type TopOffView struct {
	MachineID  string              `json:"machineId"`
	States     map[string][]string `json:"states"`
	PoolGroups map[string][]string `json:"poolGroups"`
}

func (t *TopOff) View() TopOffView {
	v := TopOffView{MachineID: t.machine.ID, States: map[string][]string{}, PoolGroups: map[string][]string{}}
	for _, name := range StateNames {
		v.States[name] = t.SamplesIn(name)
	}
	for _, g := range t.PoolGroups() {
		v.PoolGroups[g.Name] = append([]string(nil), g.Samples...)
	}
	return v
}
