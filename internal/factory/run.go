package factory

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// RunDescription is what the sequencer handed over: where the run lives and
// which samples are on which lane. It is submitted as yaml from the command
// line or as json through the API.
type RunDescription struct {
	Name            string            `yaml:"name" json:"name"`
	RunDirectory    string            `yaml:"runDirectory" json:"runDirectory"`
	Flowcell        string            `yaml:"flowcell" json:"flowcell"`
	OutputDirectory string            `yaml:"outputDirectory,omitempty" json:"outputDirectory,omitempty"`
	Reads           []int             `yaml:"reads,omitempty" json:"reads,omitempty"`
	AdapterRead1    string            `yaml:"adapterRead1,omitempty" json:"adapterRead1,omitempty"`
	AdapterRead2    string            `yaml:"adapterRead2,omitempty" json:"adapterRead2,omitempty"`
	Lanes           []LaneDescription `yaml:"lanes" json:"lanes"`
}

type LaneDescription struct {
	Number  int                 `yaml:"number" json:"number"`
	Samples []SampleDescription `yaml:"samples" json:"samples"`
}

type SampleDescription struct {
	Name   string `yaml:"name" json:"name"`
	Index  string `yaml:"index" json:"index"`
	Index2 string `yaml:"index2,omitempty" json:"index2,omitempty"`
	Sex    string `yaml:"sex,omitempty" json:"sex,omitempty"`
}

func LoadRunFile(path string) (*RunDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file %s: %w", path, err)
	}
	var run RunDescription
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run file %s: %w", path, err)
	}
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("run file %s: %w", path, err)
	}
	return &run, nil
}

func (r *RunDescription) Validate() error {
	var result *multierror.Error
	if r.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	}
	if r.RunDirectory == "" {
		result = multierror.Append(result, fmt.Errorf("runDirectory is required"))
	}
	if r.Flowcell == "" {
		result = multierror.Append(result, fmt.Errorf("flowcell is required"))
	}
	if len(r.Lanes) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one lane is required"))
	}
	lanes := map[int]bool{}
	for _, l := range r.Lanes {
		if l.Number < 1 {
			result = multierror.Append(result, fmt.Errorf("lane number %d must be positive", l.Number))
		}
		if lanes[l.Number] {
			result = multierror.Append(result, fmt.Errorf("lane %d listed twice", l.Number))
		}
		lanes[l.Number] = true
		if len(l.Samples) == 0 {
			result = multierror.Append(result, fmt.Errorf("lane %d has no samples", l.Number))
		}
		names := map[string]bool{}
		for _, s := range l.Samples {
			if s.Name == "" {
				result = multierror.Append(result, fmt.Errorf("lane %d has a sample without a name", l.Number))
				continue
			}
			if names[s.Name] {
				result = multierror.Append(result, fmt.Errorf("sample %s listed twice on lane %d", s.Name, l.Number))
			}
			names[s.Name] = true
		}
	}
	return result.ErrorOrNil()
}

// SampleLanes maps each distinct sample to the lanes it was sequenced on, in
// order of first appearance.
func (r *RunDescription) SampleLanes() ([]string, map[string][]int) {
	var order []string
	lanes := map[string][]int{}
	for _, l := range r.Lanes {
		for _, s := range l.Samples {
			if _, ok := lanes[s.Name]; !ok {
				order = append(order, s.Name)
			}
			lanes[s.Name] = append(lanes[s.Name], l.Number)
		}
	}
	return order, lanes
}

func (r *RunDescription) sample(name string) SampleDescription {
	for _, l := range r.Lanes {
		for _, s := range l.Samples {
			if s.Name == name {
				return s
			}
		}
	}
	return SampleDescription{Name: name}
}
