package tasks

import (
	"fmt"
	"path/filepath"
)

// Well known files written by the sequencing tools. Only their existence is
// checked by the engine.

func FastqListPath(demultiplexDir string) string {
	return filepath.Join(demultiplexDir, "Reports", "fastq_list.csv")
}

func DemultiplexStatsPath(demultiplexDir string) string {
	return filepath.Join(demultiplexDir, "Reports", "Demultiplex_Stats.csv")
}

func MappingMetricsPath(dir string, prefix string) string {
	return filepath.Join(dir, prefix+".mapping_metrics.csv")
}

func CramPath(dir string, prefix string) string {
	return filepath.Join(dir, prefix+".cram")
}

// FingerprintSummaryPath and FingerprintDetailPath take the OUTPUT prefix
// given to CheckFingerprint.
func FingerprintSummaryPath(prefix string) string {
	return prefix + ".fingerprinting_summary_metrics"
}

func FingerprintDetailPath(prefix string) string {
	return prefix + ".fingerprinting_detail_metrics"
}

// ReadGroupID names a sample's reads on one lane of one flowcell.
func ReadGroupID(flowcell string, lane int, sample string) string {
	return fmt.Sprintf("%s.%d.%s", flowcell, lane, sample)
}
