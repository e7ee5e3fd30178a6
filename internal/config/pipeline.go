package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the tool locations and reference data the machine factories
// copy into task parameters. It is read from the yaml file named by
// SEQFLOW_PIPELINE_CONFIG.
type Pipeline struct {
	Tools struct {
		Dragen string `yaml:"dragen"`
		Picard string `yaml:"picard"`
		Gsutil string `yaml:"gsutil"`
	} `yaml:"tools"`
	Reference         string  `yaml:"reference"`
	ContaminationFile string  `yaml:"contaminationFile"`
	CoverageBed       string  `yaml:"coverageBed"`
	HaplotypeMap      string  `yaml:"haplotypeMap"`
	GenotypesDir      string  `yaml:"genotypesDir"`
	OutputRoot        string  `yaml:"outputRoot"`
	IntermediateDir   string  `yaml:"intermediateDir"`
	AggregationConfig string  `yaml:"aggregationConfig"`
	Bucket            string  `yaml:"bucket"`
	UploadParallelism int     `yaml:"uploadParallelism"`
	CrosscheckLod     float64 `yaml:"crosscheckLod"`
	Crosscheck        bool    `yaml:"crosscheck"`
	ExecutorGroup     string  `yaml:"executorGroup"`
}

// DefaultPipeline is used when no pipeline file is configured.
func DefaultPipeline() Pipeline {
	p := Pipeline{
		Reference:         "/seq/references/Homo_sapiens_assembly38",
		OutputRoot:        "/seq/dragen",
		Bucket:            "gs://seqflow-deliverables",
		UploadParallelism: 4,
		CrosscheckLod:     -5,
		ExecutorGroup:     GetSystemSettingString(ENGINE_EXECUTOR_GROUP),
	}
	p.Tools.Dragen = "/opt/edico/bin/dragen"
	p.Tools.Picard = "/seq/software/picard/current/bin/picard.jar"
	p.Tools.Gsutil = "gsutil"
	return p
}

// ParsePipelineYAML overlays the yaml payload on DefaultPipeline.
func ParsePipelineYAML(data []byte) (Pipeline, error) {
	p := DefaultPipeline()
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pipeline{}, fmt.Errorf("pipeline: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

func LoadPipeline(path string) (Pipeline, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPipeline(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	p, err := ParsePipelineYAML(data)
	if err != nil {
		return Pipeline{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return p, nil
}

func (p Pipeline) Validate() error {
	if p.Tools.Dragen == "" {
		return fmt.Errorf("pipeline: tools.dragen is required")
	}
	if p.Reference == "" {
		return fmt.Errorf("pipeline: reference is required")
	}
	if p.OutputRoot == "" {
		return fmt.Errorf("pipeline: outputRoot is required")
	}
	if p.UploadParallelism < 1 {
		return fmt.Errorf("pipeline: uploadParallelism must be at least 1")
	}
	return nil
}
