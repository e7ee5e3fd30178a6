package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/internal/tasks"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

const simulatorFirstPID = 1000

// ReplayInfo is the system block dragen writes to replay.json.
type ReplayInfo struct {
	System struct {
		DragenVersion string `json:"dragen_version"`
		KernelRelease string `json:"kernel_release"`
		Nodename      string `json:"nodename"`
	} `json:"system"`
}

// Simulator pretends to be dragen, picard and gsutil. Dispatch writes the
// files the real tools would, so evidence checks pass, and every job is
// finished by the time it is polled. Kinds listed in FailKinds exit 1.
type Simulator struct {
	FailKinds map[domain.TaskKind]bool

	logDir  string
	mu      sync.Mutex
	nextPID int64
	results map[int64]domain.PollResult
	fired   []string
}

func NewSimulator(logDir string) *Simulator {
	return &Simulator{
		FailKinds: map[domain.TaskKind]bool{},
		logDir:    logDir,
		nextPID:   simulatorFirstPID,
		results:   map[int64]domain.PollResult{},
	}
}

func (s *Simulator) Name() string {
	return "simulator"
}

// Fail makes every later dispatch of kind exit non zero.
func (s *Simulator) Fail(kind domain.TaskKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailKinds[kind] = true
}

// Fired returns the command lines dispatched so far.
func (s *Simulator) Fired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fired...)
}

func (s *Simulator) FireProcess(ctx context.Context, commandLine string, task *domain.Task) domain.TaskResult {
	s.mu.Lock()
	pid := s.nextPID
	s.nextPID++
	s.fired = append(s.fired, commandLine)
	fail := s.FailKinds[task.Kind]
	s.mu.Unlock()

	res := domain.PollResult{Status: domain.StatusComplete, Output: "Success"}
	if fail {
		res = domain.PollResult{Status: domain.StatusFailed, ExitCode: 1, Output: "simulated failure of " + string(task.Kind)}
	} else if err := s.fabricate(task); err != nil {
		res = domain.PollResult{Status: domain.StatusFailed, ExitCode: 2, Output: err.Error()}
	}
	s.writeLog(pid, commandLine, res)

	s.mu.Lock()
	s.results[pid] = res
	s.mu.Unlock()
	return domain.TaskResult{ProcessID: pid, Output: "simulated pid " + strconv.FormatInt(pid, 10)}
}

func (s *Simulator) CheckStatus(ctx context.Context, task *domain.Task) domain.PollResult {
	if !task.ProcessID.Valid {
		return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: "task has no process id"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[task.ProcessID.Int64]
	if !ok {
		return domain.PollResult{Status: domain.StatusFailed, ExitCode: -1, Output: fmt.Sprintf("unknown process %d", task.ProcessID.Int64)}
	}
	return res
}

func (s *Simulator) Cancel(ctx context.Context, task *domain.Task) error {
	if !task.ProcessID.Valid {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[task.ProcessID.Int64] = domain.PollResult{Status: domain.StatusStopped, ExitCode: 143, Output: "cancelled"}
	return nil
}

func (s *Simulator) LogFile(task *domain.Task) string {
	if s.logDir == "" || !task.ProcessID.Valid {
		return ""
	}
	return filepath.Join(s.logDir, fmt.Sprintf("sim-%d.out", task.ProcessID.Int64))
}

func (s *Simulator) writeLog(pid int64, commandLine string, res domain.PollResult) {
	if s.logDir == "" {
		return
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return
	}
	body := fmt.Sprintf("$ %s\n%s\nexit %d\n", commandLine, res.Output, res.ExitCode)
	_ = os.WriteFile(filepath.Join(s.logDir, fmt.Sprintf("sim-%d.out", pid)), []byte(body), 0o644)
}

func (s *Simulator) fabricate(t *domain.Task) error {
	switch t.Kind {
	case domain.TaskDemultiplex:
		return s.demultiplex(t.Params.Demultiplex)
	case domain.TaskAlignment:
		p := t.Params.Alignment
		return s.alignment(p.OutputDirectory, p.SampleID, p.SampleID)
	case domain.TaskAggregation:
		p := t.Params.Aggregation
		return s.alignment(p.OutputDirectory, p.OutputPrefix, p.SampleID)
	case domain.TaskFingerprint:
		return s.fingerprint(t.Params.Fingerprint)
	case domain.TaskCrosscheck:
		p := t.Params.Crosscheck
		return writeFile(p.Output, "LEFT_GROUP_VALUE\tRIGHT_GROUP_VALUE\tRESULT\tLOD_SCORE\n"+
			"sample\tsample\tEXPECTED_MATCH\t42.5\n")
	case domain.TaskUpload:
		return s.upload(t.Params.Upload)
	}
	return nil
}

// demultiplex writes the fastq list, the stats and the replay files for
// every sheet row on the requested lane.
func (s *Simulator) demultiplex(p *domain.DemultiplexParams) error {
	sheet, err := factory.LoadSampleSheet(p.SampleSheet)
	if err != nil {
		return err
	}
	var rows []tasks.FastqListRow
	var stats strings.Builder
	stats.WriteString("Lane,SampleID,Index,# Reads,# Perfect Index Reads,# One Mismatch Index Reads,# of >= Q30 Bases (PF),Mean Quality Score (PF)\n")
	samples := map[string]bool{}
	for i, r := range sheet.Data {
		if p.Lane > 0 && r.Lane != p.Lane {
			continue
		}
		index := r.Index
		if r.Index2 != "" {
			index += "-" + r.Index2
		}
		rows = append(rows, tasks.FastqListRow{
			RGID:      r.SampleID,
			RGSM:      r.SampleName,
			RGLB:      r.SampleName,
			Lane:      r.Lane,
			Read1File: filepath.Join(p.OutputDirectory, factory.FastqName(r.SampleName, i+1, r.Lane, 1)),
			Read2File: filepath.Join(p.OutputDirectory, factory.FastqName(r.SampleName, i+1, r.Lane, 2)),
		})
		fmt.Fprintf(&stats, "%d,%s,%s,1000,900,100,4000,35.42\n", r.Lane, r.SampleID, index)
		samples[r.SampleName] = true
	}
	for _, r := range rows {
		if err := writeFile(r.Read1File, ""); err != nil {
			return err
		}
		if err := writeFile(r.Read2File, ""); err != nil {
			return err
		}
	}
	if err := tasks.WriteFastqList(tasks.FastqListPath(p.OutputDirectory), rows); err != nil {
		return err
	}
	if err := writeFile(tasks.DemultiplexStatsPath(p.OutputDirectory), stats.String()); err != nil {
		return err
	}
	if err := writeReplay(filepath.Join(p.OutputDirectory, "replay.json")); err != nil {
		return err
	}
	for sample := range samples {
		if err := writeReplay(filepath.Join(p.OutputDirectory, sample, sample+"-replay.json")); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) alignment(dir string, prefix string, readGroup string) error {
	var mapping strings.Builder
	for _, f := range []string{"Total input reads", "Number of duplicate marked reads", "Mapped reads",
		"Properly paired reads", "Q30 bases", "Estimated read length"} {
		fmt.Fprintf(&mapping, "MAPPING/ALIGNING SUMMARY,,%s,100\n", f)
	}
	for _, f := range []string{"Total reads in RG", "Mapped reads", "Q30 bases"} {
		fmt.Fprintf(&mapping, "MAPPING/ALIGNING PER RG,%s,%s,100\n", readGroup, f)
	}
	coverage := "COVERAGE SUMMARY,,Average alignment coverage over genome,28.2\n" +
		"COVERAGE SUMMARY,,PCT of genome with coverage [  20x: inf),100\n" +
		"COVERAGE SUMMARY,,PCT of genome with coverage [  10x: inf),100\n"
	vc := "VARIANT CALLER SUMMARY,,Number of samples,1\n" +
		"VARIANT CALLER SUMMARY,,Reads Processed,1\n" +
		"VARIANT CALLER POSTFILTER,,Total,1\n" +
		"VARIANT CALLER POSTFILTER,,SNPs,1\n"
	files := map[string]string{
		tasks.MappingMetricsPath(dir, prefix):                                   mapping.String(),
		filepath.Join(dir, prefix+".wgs_ploidy.csv"):                            "Predicted sex chromosome ploidy XX",
		filepath.Join(dir, prefix+".qc-coverage-region-1_coverage_metrics.csv"): coverage,
		filepath.Join(dir, prefix+".vc_metrics.csv"):                            vc,
		tasks.CramPath(dir, prefix):                                             "",
	}
	for path, body := range files {
		if err := writeFile(path, body); err != nil {
			return err
		}
	}
	return writeReplay(filepath.Join(dir, prefix+"-replay.json"))
}

func (s *Simulator) fingerprint(p *domain.FingerprintParams) error {
	summary := "READ_GROUP\tSAMPLE\tLL_EXPECTED_SAMPLE\tLL_RANDOM_SAMPLE\tLOD_EXPECTED_SAMPLE\n" +
		p.SampleID + "\t" + p.SampleID + "\t-10.2\t-52.7\t42.5\n"
	detail := "READ_GROUP\tSAMPLE\tSNP\tEXPECTED_GENOTYPE\tOBSERVED_GENOTYPE\tLOD\n" +
		p.SampleID + "\t" + p.SampleID + "\trs1\tAA\tAA\t2.1\n"
	if err := writeFile(tasks.FingerprintSummaryPath(p.OutputPrefix), summary); err != nil {
		return err
	}
	return writeFile(tasks.FingerprintDetailPath(p.OutputPrefix), detail)
}

// upload copies to local destinations. Bucket urls are accepted and ignored.
func (s *Simulator) upload(p *domain.UploadParams) error {
	if strings.Contains(p.Destination, "://") {
		return nil
	}
	for _, src := range p.Sources {
		if err := copyFile(src, filepath.Join(p.Destination, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

func writeReplay(path string) error {
	var info ReplayInfo
	info.System.DragenVersion = "01.011.308.3.3.7"
	info.System.KernelRelease = "3.10.0-862.6.3.el7.x86_64"
	info.System.Nodename = "dragen01"
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return writeFile(path, string(data))
}

func writeFile(path string, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
