package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// Check evaluates a task that does not run a process. It never blocks.
func Check(t *domain.Task) (domain.PollResult, error) {
	if err := t.Params.Validate(t.Kind); err != nil {
		return domain.PollResult{}, err
	}
	switch t.Kind {
	case domain.TaskWaitForFile:
		path := t.Params.WaitForFile.Path
		if exists(path) {
			return domain.PollResult{Status: domain.StatusComplete, Output: path + " found"}, nil
		}
		return domain.PollResult{Status: domain.StatusRunning}, nil
	case domain.TaskWaitForReview, domain.TaskHold:
		return domain.PollResult{Status: domain.StatusRunning}, nil
	case domain.TaskDemultiplexMetrics:
		return metricsResult(DemultiplexStatsPath(t.Params.Metrics.Directory)), nil
	case domain.TaskAlignmentMetrics:
		m := t.Params.Metrics
		return metricsResult(MappingMetricsPath(m.Directory, m.Prefix)), nil
	}
	return domain.PollResult{}, fmt.Errorf("task kind %s is not a check", t.Kind)
}

func metricsResult(path string) domain.PollResult {
	if exists(path) {
		return domain.PollResult{Status: domain.StatusComplete, Output: path + " found"}
	}
	return domain.PollResult{Status: domain.StatusSuspended, Output: path + " missing"}
}

// VerifyEvidence looks for the files a process must have produced before its
// zero exit is trusted. The returned error explains a non COMPLETE status.
func VerifyEvidence(t *domain.Task) (domain.Status, error) {
	var required []string
	switch t.Kind {
	case domain.TaskDemultiplex:
		required = append(required, FastqListPath(t.Params.Demultiplex.OutputDirectory))
	case domain.TaskAlignment:
		p := t.Params.Alignment
		required = append(required, MappingMetricsPath(p.OutputDirectory, p.SampleID))
	case domain.TaskAggregation:
		p := t.Params.Aggregation
		required = append(required, MappingMetricsPath(p.OutputDirectory, p.OutputPrefix))
	case domain.TaskFingerprint:
		p := t.Params.Fingerprint
		required = append(required, FingerprintSummaryPath(p.OutputPrefix), FingerprintDetailPath(p.OutputPrefix))
	case domain.TaskCrosscheck:
		required = append(required, t.Params.Crosscheck.Output)
	}
	var missing []error
	for _, f := range required {
		if !exists(f) {
			missing = append(missing, fmt.Errorf("missing %s", f))
		}
	}
	if len(missing) > 0 {
		return domain.StatusFailed, errors.Join(missing...)
	}
	if t.Kind == domain.TaskFingerprint && t.Params.Fingerprint.Genotypes == "" {
		return domain.StatusSuspended, fmt.Errorf("no reference genotypes for %s", t.Params.Fingerprint.SampleID)
	}
	return domain.StatusComplete, nil
}

// OnEnter prepares the filesystem for a task whose state was just entered.
// Calling it again is harmless.
func OnEnter(t *domain.Task) error {
	var dirs []string
	if d := t.Params.OutputDirectory(); d != "" {
		dirs = append(dirs, d)
	}
	switch {
	case t.Params.Fingerprint != nil:
		dirs = append(dirs, filepath.Dir(t.Params.Fingerprint.OutputPrefix))
	case t.Params.Crosscheck != nil:
		dirs = append(dirs, filepath.Dir(t.Params.Crosscheck.Output))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Prepare runs right before dispatch. Alignment and aggregation merge their
// source fastq lists into the one they hand to dragen.
func Prepare(t *domain.Task) error {
	switch t.Kind {
	case domain.TaskAlignment:
		p := t.Params.Alignment
		if len(p.SourceFastqLists) == 0 {
			return nil
		}
		_, err := MergeFastqLists(p.SourceFastqLists, p.SampleID, p.FastqList)
		return err
	case domain.TaskAggregation:
		p := t.Params.Aggregation
		if len(p.SourceFastqLists) == 0 {
			return nil
		}
		_, err := MergeFastqLists(p.SourceFastqLists, p.SampleID, p.FastqList)
		return err
	}
	return nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
