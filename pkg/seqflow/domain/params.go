package domain

import "fmt"

// TaskParams carries exactly one payload, matching the task kind.
type TaskParams struct {
	WaitForFile *WaitForFileParams `json:"waitForFile,omitempty"`
	Demultiplex *DemultiplexParams `json:"demultiplex,omitempty"`
	Alignment   *AlignmentParams   `json:"alignment,omitempty"`
	Aggregation *AggregationParams `json:"aggregation,omitempty"`
	Upload      *UploadParams      `json:"upload,omitempty"`
	Fingerprint *FingerprintParams `json:"fingerprint,omitempty"`
	Crosscheck  *CrosscheckParams  `json:"crosscheck,omitempty"`
	Review      *ReviewParams      `json:"review,omitempty"`
	Metrics     *MetricsParams     `json:"metrics,omitempty"`
}

type WaitForFileParams struct {
	Path string `json:"path"`
}

type DemultiplexParams struct {
	Executable      string `json:"executable"`
	RunDirectory    string `json:"runDirectory"`
	OutputDirectory string `json:"outputDirectory"`
	SampleSheet     string `json:"sampleSheet"`
	Lane            int    `json:"lane"`
}

type AlignmentParams struct {
	Executable          string   `json:"executable"`
	Reference           string   `json:"reference"`
	SourceFastqLists    []string `json:"sourceFastqLists,omitempty"`
	FastqList           string   `json:"fastqList"`
	SampleID            string   `json:"sampleId"`
	OutputDirectory     string   `json:"outputDirectory"`
	IntermediateResults string   `json:"intermediateResults,omitempty"`
	ContaminationFile   string   `json:"contaminationFile,omitempty"`
	CoverageBed         string   `json:"coverageBed,omitempty"`
	Sex                 string   `json:"sex,omitempty"`
}

type AggregationParams struct {
	Executable          string   `json:"executable"`
	Reference           string   `json:"reference"`
	SourceFastqLists    []string `json:"sourceFastqLists"`
	FastqList           string   `json:"fastqList"`
	SampleID            string   `json:"sampleId"`
	OutputDirectory     string   `json:"outputDirectory"`
	OutputPrefix        string   `json:"outputPrefix"`
	ConfigFile          string   `json:"configFile,omitempty"`
	IntermediateResults string   `json:"intermediateResults,omitempty"`
	ContaminationFile   string   `json:"contaminationFile,omitempty"`
	CoverageBed         string   `json:"coverageBed,omitempty"`
}

type UploadParams struct {
	Executable  string   `json:"executable"`
	Sources     []string `json:"sources"`
	Destination string   `json:"destination"`
	Parallelism int      `json:"parallelism"`
}

type FingerprintParams struct {
	Executable   string `json:"executable"`
	Input        string `json:"input"`
	Genotypes    string `json:"genotypes,omitempty"`
	HaplotypeMap string `json:"haplotypeMap"`
	SampleID     string `json:"sampleId"`
	OutputPrefix string `json:"outputPrefix"`
}

type CrosscheckParams struct {
	Executable   string   `json:"executable"`
	Inputs       []string `json:"inputs"`
	HaplotypeMap string   `json:"haplotypeMap"`
	Output       string   `json:"output"`
	LodThreshold float64  `json:"lodThreshold"`
}

// ReviewParams backs the operator-completed kinds, WAIT_FOR_REVIEW and HOLD.
type ReviewParams struct {
	Note string `json:"note,omitempty"`
}

// MetricsParams backs the metrics exit tasks.
type MetricsParams struct {
	Directory string `json:"directory"`
	Prefix    string `json:"prefix,omitempty"`
}

func (p TaskParams) count() int {
	n := 0
	for _, set := range []bool{
		p.WaitForFile != nil, p.Demultiplex != nil, p.Alignment != nil, p.Aggregation != nil, p.Upload != nil,
		p.Fingerprint != nil, p.Crosscheck != nil, p.Review != nil, p.Metrics != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that exactly the payload for kind is present.
func (p TaskParams) Validate(kind TaskKind) error {
	if p.count() != 1 {
		return fmt.Errorf("task of kind %s must carry exactly one payload, found %d", kind, p.count())
	}
	var ok bool
	switch kind {
	case TaskWaitForFile:
		ok = p.WaitForFile != nil
	case TaskDemultiplex:
		ok = p.Demultiplex != nil
	case TaskAlignment:
		ok = p.Alignment != nil
	case TaskAggregation:
		ok = p.Aggregation != nil
	case TaskUpload:
		ok = p.Upload != nil
	case TaskFingerprint:
		ok = p.Fingerprint != nil
	case TaskCrosscheck:
		ok = p.Crosscheck != nil
	case TaskWaitForReview, TaskHold:
		ok = p.Review != nil
	case TaskDemultiplexMetrics, TaskAlignmentMetrics:
		ok = p.Metrics != nil
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("task of kind %s carries the wrong payload", kind)
	}
	return nil
}

// OutputDirectory returns the directory a task writes into, if it has one.
func (p TaskParams) OutputDirectory() string {
	switch {
	case p.Demultiplex != nil:
		return p.Demultiplex.OutputDirectory
	case p.Alignment != nil:
		return p.Alignment.OutputDirectory
	case p.Aggregation != nil:
		return p.Aggregation.OutputDirectory
	}
	return ""
}
