package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// IsProcess reports whether tasks of kind run an external process. The other
// kinds are evaluated in process by Check.
func IsProcess(kind domain.TaskKind) bool {
	switch kind {
	case domain.TaskDemultiplex, domain.TaskAlignment, domain.TaskAggregation, domain.TaskUpload,
		domain.TaskFingerprint, domain.TaskCrosscheck:
		return true
	}
	return false
}

// CommandLine builds the shell command for a process task. It only depends on
// the task parameters, so the same params always give the same command.
func CommandLine(t *domain.Task) (string, error) {
	if err := t.Params.Validate(t.Kind); err != nil {
		return "", err
	}
	var c cmd
	switch t.Kind {
	case domain.TaskDemultiplex:
		p := t.Params.Demultiplex
		c.arg(p.Executable).
			flag("--bcl-conversion-only", "true").
			flag("--bcl-input-directory", p.RunDirectory).
			flag("--output-directory", p.OutputDirectory).
			flag("--sample-sheet", p.SampleSheet)
		if p.Lane > 0 {
			c.flag("--bcl-only-lane", strconv.Itoa(p.Lane))
		}
		c.arg("--force")
	case domain.TaskAlignment:
		p := t.Params.Alignment
		c.arg(p.Executable).
			flag("-r", p.Reference).
			flag("--fastq-list", p.FastqList).
			flag("--fastq-list-sample-id", p.SampleID).
			flag("--output-directory", p.OutputDirectory).
			flag("--output-file-prefix", p.SampleID).
			flag("--enable-map-align", "true").
			flag("--enable-duplicate-marking", "true").
			optional("--intermediate-results-dir", p.IntermediateResults).
			optional("--qc-cross-cont-vcf", p.ContaminationFile).
			optional("--qc-coverage-region-1", p.CoverageBed).
			optional("--sample-sex", p.Sex)
	case domain.TaskAggregation:
		p := t.Params.Aggregation
		c.arg(p.Executable).
			flag("-r", p.Reference).
			flag("--fastq-list", p.FastqList).
			flag("--fastq-list-sample-id", p.SampleID).
			flag("--output-directory", p.OutputDirectory).
			flag("--output-file-prefix", p.OutputPrefix).
			flag("--enable-map-align", "true").
			flag("--enable-map-align-output", "true").
			flag("--enable-duplicate-marking", "true").
			flag("--enable-variant-caller", "true").
			flag("--output-format", "CRAM").
			optional("--config-file", p.ConfigFile).
			optional("--intermediate-results-dir", p.IntermediateResults).
			optional("--qc-cross-cont-vcf", p.ContaminationFile).
			optional("--qc-coverage-region-1", p.CoverageBed)
	case domain.TaskUpload:
		p := t.Params.Upload
		parallelism := p.Parallelism
		if parallelism < 1 {
			parallelism = 1
		}
		c.arg(p.Executable).
			flag("-o", fmt.Sprintf("GSUtil:parallel_thread_count=%d", parallelism)).
			arg("-m", "cp").
			arg(p.Sources...).
			arg(p.Destination)
	case domain.TaskFingerprint:
		p := t.Params.Fingerprint
		c.arg("java", "-jar", p.Executable, "CheckFingerprint").
			picard("INPUT", p.Input)
		if p.Genotypes != "" {
			c.picard("GENOTYPES", p.Genotypes)
		}
		c.picard("HAPLOTYPE_MAP", p.HaplotypeMap).
			picard("SAMPLE_ALIAS", p.SampleID).
			picard("OUTPUT", p.OutputPrefix)
	case domain.TaskCrosscheck:
		p := t.Params.Crosscheck
		c.arg("java", "-jar", p.Executable, "CrosscheckFingerprints")
		for _, in := range p.Inputs {
			c.picard("INPUT", in)
		}
		c.picard("HAPLOTYPE_MAP", p.HaplotypeMap).
			picard("OUTPUT", p.Output).
			picard("LOD_THRESHOLD", strconv.FormatFloat(p.LodThreshold, 'f', -1, 64))
	case domain.TaskWaitForFile, domain.TaskWaitForReview, domain.TaskHold,
		domain.TaskDemultiplexMetrics, domain.TaskAlignmentMetrics:
		return "", fmt.Errorf("%w: %s", domain.ErrNoCommandLine, t.Kind)
	default:
		return "", fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return c.String(), nil
}

type cmd struct {
	parts []string
}

func (c *cmd) arg(v ...string) *cmd {
	for _, s := range v {
		c.parts = append(c.parts, quote(s))
	}
	return c
}

func (c *cmd) flag(name string, value string) *cmd {
	return c.arg(name, value)
}

func (c *cmd) optional(name string, value string) *cmd {
	if value == "" {
		return c
	}
	return c.flag(name, value)
}

// picard appends a KEY=value argument in the picard style.
func (c *cmd) picard(key string, value string) *cmd {
	c.parts = append(c.parts, key+"="+quote(value))
	return c
}

func (c *cmd) String() string {
	return strings.Join(c.parts, " ")
}

// quote wraps a word in single quotes when the shell would split or expand it.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		return !strings.ContainsRune("-_./=:,+%@", r)
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
