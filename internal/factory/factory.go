package factory

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/internal/decorators"
	"github.com/RealZimboGuy/seqflow/internal/tasks"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// Factory builds new state machines from run descriptions and the pipeline
// configuration. Machines come back unsaved, with a QUEUED task already
// attached to every state so other states and machines can name them as
// prerequisites.
type Factory struct {
	pipeline config.Pipeline
	clock    core.Clock
}

type RunOptions struct {
	// SkipMetrics leaves out the metrics exit tasks.
	SkipMetrics bool
}

func NewFactory(pipeline config.Pipeline, clock core.Clock) *Factory {
	return &Factory{pipeline: pipeline, clock: clock}
}

func (f *Factory) RunOutputDirectory(run *RunDescription) string {
	if run.OutputDirectory != "" {
		return run.OutputDirectory
	}
	return filepath.Join(f.pipeline.OutputRoot, run.Name)
}

// SampleSheetPath is the sheet of a single lane, or of the whole run for lane 0.
func (f *Factory) SampleSheetPath(run *RunDescription, lane int) string {
	if lane == 0 {
		return filepath.Join(f.RunOutputDirectory(run), "SampleSheet.csv")
	}
	return filepath.Join(f.RunOutputDirectory(run), fmt.Sprintf("SampleSheet_L%d.csv", lane))
}

func (f *Factory) DemultiplexDirectory(run *RunDescription, lane int) string {
	if lane == 0 {
		return filepath.Join(f.RunOutputDirectory(run), "Demultiplex")
	}
	return filepath.Join(f.RunOutputDirectory(run), "Demultiplex", strconv.Itoa(lane))
}

func (f *Factory) AlignmentDirectory(run *RunDescription, sample string) string {
	return filepath.Join(f.RunOutputDirectory(run), "Alignment", sample)
}

func (f *Factory) AggregationDirectory(sampleKey string) string {
	return filepath.Join(f.pipeline.OutputRoot, "Aggregation", sampleKey)
}

// WriteSampleSheets writes one sheet per lane and one for the whole run.
func (f *Factory) WriteSampleSheets(run *RunDescription) error {
	now := f.clock.Now()
	if err := NewSampleSheet(run, now).WriteFile(f.SampleSheetPath(run, 0)); err != nil {
		return err
	}
	for _, lane := range run.Lanes {
		if err := NewSampleSheet(run, now, lane.Number).WriteFile(f.SampleSheetPath(run, lane.Number)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Factory) newMachine(name string) *domain.FiniteStateMachine {
	group := f.pipeline.ExecutorGroup
	if group == "" {
		group = config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	}
	return domain.NewFiniteStateMachine(name, group, f.clock.Now())
}

// add appends s and attaches a task built from its blueprint.
func (f *Factory) add(m *domain.FiniteStateMachine, s *domain.State) (*domain.State, *domain.Task) {
	m.AddState(s)
	t := m.NewTask(s, *s.Blueprint, f.clock.Now())
	s.TaskID = t.ID
	return s, t
}

func (f *Factory) demultiplexBlueprint(run *RunDescription, lane int) *domain.TaskBlueprint {
	name := "Demultiplex_" + run.Name
	if lane > 0 {
		name = fmt.Sprintf("Demultiplex_%s_%d", run.Flowcell, lane)
	}
	return &domain.TaskBlueprint{
		Name: name,
		Kind: domain.TaskDemultiplex,
		Params: domain.TaskParams{Demultiplex: &domain.DemultiplexParams{
			Executable:      f.pipeline.Tools.Dragen,
			RunDirectory:    run.RunDirectory,
			OutputDirectory: f.DemultiplexDirectory(run, lane),
			SampleSheet:     f.SampleSheetPath(run, lane),
			Lane:            lane,
		}},
	}
}

func metricsBlueprint(name string, kind domain.TaskKind, dir string, prefix string) *domain.TaskBlueprint {
	return &domain.TaskBlueprint{
		Name:   name,
		Kind:   kind,
		Params: domain.TaskParams{Metrics: &domain.MetricsParams{Directory: dir, Prefix: prefix}},
	}
}

func laneSamples(l LaneDescription) []string {
	out := make([]string, 0, len(l.Samples))
	for _, s := range l.Samples {
		out = append(out, s.Name)
	}
	return out
}

// CreateRunMachine builds the machine that waits for the sequencer, then
// demultiplexes every lane and aligns every sample.
func (f *Factory) CreateRunMachine(run *RunDescription, opts RunOptions) (*domain.FiniteStateMachine, error) {
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStructural, err)
	}
	m := f.newMachine(run.Name)

	rta := filepath.Join(run.RunDirectory, "RTAComplete.txt")
	start, _ := f.add(m, &domain.State{
		Name:  "SequencingRunComplete",
		Kind:  domain.StateGeneric,
		Start: true,
		Blueprint: &domain.TaskBlueprint{
			Name:   "Waiting for RTAComplete.txt " + rta,
			Kind:   domain.TaskWaitForFile,
			Params: domain.TaskParams{WaitForFile: &domain.WaitForFileParams{Path: rta}},
		},
	})

	demuxStates := map[int]*domain.State{}
	demuxTasks := map[int]*domain.Task{}
	for _, lane := range run.Lanes {
		s := &domain.State{
			Name:        fmt.Sprintf("Demultiplex_%s_%d", run.Flowcell, lane.Number),
			Kind:        domain.StateDemultiplex,
			Samples:     laneSamples(lane),
			RunChambers: []string{strconv.Itoa(lane.Number)},
			Blueprint:   f.demultiplexBlueprint(run, lane.Number),
		}
		if !opts.SkipMetrics {
			s.ExitBlueprint = metricsBlueprint(fmt.Sprintf("Demultiplex_Metrics_%s_%d", run.Flowcell, lane.Number),
				domain.TaskDemultiplexMetrics, f.DemultiplexDirectory(run, lane.Number), "")
		}
		s, t := f.add(m, s)
		demuxStates[lane.Number] = s
		demuxTasks[lane.Number] = t
		m.AddTransition("Sequencing Complete To Demultiplexing", start, s)
	}

	order, sampleLanes := run.SampleLanes()
	for _, sample := range order {
		lanes := sampleLanes[sample]
		out := f.AlignmentDirectory(run, sample)
		var sources, chambers, prerequisites []string
		for _, lane := range lanes {
			sources = append(sources, tasks.FastqListPath(f.DemultiplexDirectory(run, lane)))
			chambers = append(chambers, strconv.Itoa(lane))
			prerequisites = append(prerequisites, demuxTasks[lane].ID)
		}
		s := &domain.State{
			Name:          fmt.Sprintf("Align_%s_%s", run.Flowcell, sample),
			Kind:          domain.StateAlignment,
			Samples:       []string{sample},
			RunChambers:   chambers,
			Prerequisites: prerequisites,
			Blueprint: &domain.TaskBlueprint{
				Name: fmt.Sprintf("Alignment_%s_%s", sample, run.Name),
				Kind: domain.TaskAlignment,
				Params: domain.TaskParams{Alignment: &domain.AlignmentParams{
					Executable:          f.pipeline.Tools.Dragen,
					Reference:           f.pipeline.Reference,
					SourceFastqLists:    sources,
					FastqList:           filepath.Join(out, "fastq_list.csv"),
					SampleID:            sample,
					OutputDirectory:     out,
					IntermediateResults: f.pipeline.IntermediateDir,
					ContaminationFile:   f.pipeline.ContaminationFile,
					CoverageBed:         f.pipeline.CoverageBed,
					Sex:                 strings.ToUpper(run.sample(sample).Sex),
				}},
			},
		}
		if !opts.SkipMetrics {
			s.ExitBlueprint = metricsBlueprint("Alignment_Metric_"+run.Name, domain.TaskAlignmentMetrics, out, sample)
		}
		f.add(m, s)
		for _, lane := range lanes {
			m.AddTransition("DemuxToAlign", demuxStates[lane], s)
		}
	}
	return m, m.Validate()
}

// CreateDemultiplexMachine re-demultiplexes some lanes of a run, all of them
// when lanes is empty, in a single state.
func (f *Factory) CreateDemultiplexMachine(run *RunDescription, lanes ...int) (*domain.FiniteStateMachine, error) {
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStructural, err)
	}
	m := f.newMachine("Demultiplex_" + run.Name)

	lane := 0
	if len(lanes) == 1 {
		lane = lanes[0]
	}
	include := map[int]bool{}
	for _, l := range lanes {
		include[l] = true
	}
	var chambers, samples []string
	seen := map[string]bool{}
	for _, l := range run.Lanes {
		if len(include) > 0 && !include[l.Number] {
			continue
		}
		chambers = append(chambers, strconv.Itoa(l.Number))
		for _, s := range laneSamples(l) {
			if !seen[s] {
				seen[s] = true
				samples = append(samples, s)
			}
		}
	}
	if len(chambers) == 0 {
		return nil, fmt.Errorf("%w: run %s has none of lanes %v", domain.ErrStructural, run.Name, lanes)
	}
	f.add(m, &domain.State{
		Name:          "Demultiplex_" + run.Name,
		Kind:          domain.StateDemultiplex,
		Start:         true,
		Samples:       samples,
		RunChambers:   chambers,
		Blueprint:     f.demultiplexBlueprint(run, lane),
		ExitBlueprint: metricsBlueprint("Demultiplex_Metrics_"+run.Name, domain.TaskDemultiplexMetrics, f.DemultiplexDirectory(run, lane), ""),
	})
	return m, m.Validate()
}

// CreateAggregationMachine aggregates every alignment of a sample, possibly
// across runs, then fingerprints, waits for review and uploads the cram.
func (f *Factory) CreateAggregationMachine(sampleKey string, alignments []*domain.Task) (*domain.FiniteStateMachine, error) {
	if sampleKey == "" {
		return nil, fmt.Errorf("%w: aggregation needs a sample", domain.ErrStructural)
	}
	if len(alignments) == 0 {
		return nil, fmt.Errorf("%w: no alignments to aggregate for %s", domain.ErrStructural, sampleKey)
	}
	var sources, prerequisites []string
	for _, a := range alignments {
		if a.Kind != domain.TaskAlignment || a.Params.Alignment == nil {
			return nil, fmt.Errorf("%w: task %s is not an alignment", domain.ErrStructural, a.ID)
		}
		sources = append(sources, a.Params.Alignment.FastqList)
		prerequisites = append(prerequisites, a.ID)
	}

	m := f.newMachine("Agg_" + sampleKey)
	out := f.AggregationDirectory(sampleKey)
	prefix := sampleKey
	cram := tasks.CramPath(out, prefix)

	agg, _ := f.add(m, &domain.State{
		Name:          "Agg" + sampleKey,
		Kind:          domain.StateAggregation,
		Start:         true,
		Samples:       []string{sampleKey},
		Prerequisites: prerequisites,
		Blueprint: &domain.TaskBlueprint{
			Name: "Agg_" + sampleKey,
			Kind: domain.TaskAggregation,
			Params: domain.TaskParams{Aggregation: &domain.AggregationParams{
				Executable:          f.pipeline.Tools.Dragen,
				Reference:           f.pipeline.Reference,
				SourceFastqLists:    sources,
				FastqList:           filepath.Join(out, "fastq_list.csv"),
				SampleID:            sampleKey,
				OutputDirectory:     out,
				OutputPrefix:        prefix,
				ConfigFile:          f.pipeline.AggregationConfig,
				IntermediateResults: f.pipeline.IntermediateDir,
				ContaminationFile:   f.pipeline.ContaminationFile,
				CoverageBed:         f.pipeline.CoverageBed,
			}},
		},
		ExitBlueprint: metricsBlueprint("AggMetric_"+sampleKey, domain.TaskAlignmentMetrics, out, prefix),
	})

	previous := agg
	if f.pipeline.Crosscheck {
		cc, _ := f.add(m, &domain.State{
			Name:    "Crosscheck_" + sampleKey,
			Kind:    domain.StateCrosscheck,
			Samples: []string{sampleKey},
			Blueprint: &domain.TaskBlueprint{
				Name: "CrossCheckFingerprint" + sampleKey,
				Kind: domain.TaskCrosscheck,
				Params: domain.TaskParams{Crosscheck: &domain.CrosscheckParams{
					Executable:   f.pipeline.Tools.Picard,
					Inputs:       []string{cram},
					HaplotypeMap: f.pipeline.HaplotypeMap,
					Output:       filepath.Join(out, sampleKey+".crosscheck_metrics"),
					LodThreshold: f.pipeline.CrosscheckLod,
				}},
			},
		})
		m.AddTransition("Aggregation To Crosscheck FP", agg, cc)
		previous = cc
	}

	var genotypes string
	if f.pipeline.GenotypesDir != "" {
		genotypes = filepath.Join(f.pipeline.GenotypesDir, sampleKey+".vcf.gz")
	}
	fp, _ := f.add(m, &domain.State{
		Name:    "FP_" + sampleKey,
		Kind:    domain.StateFingerprint,
		Samples: []string{sampleKey},
		Blueprint: &domain.TaskBlueprint{
			Name: "FP_" + sampleKey,
			Kind: domain.TaskFingerprint,
			Params: domain.TaskParams{Fingerprint: &domain.FingerprintParams{
				Executable:   f.pipeline.Tools.Picard,
				Input:        cram,
				Genotypes:    genotypes,
				HaplotypeMap: f.pipeline.HaplotypeMap,
				SampleID:     sampleKey,
				OutputPrefix: filepath.Join(out, "fingerprint", prefix),
			}},
		},
	})
	m.AddTransition("AggToFp", previous, fp)

	review, _ := f.add(m, &domain.State{
		Name:    "DataReview",
		Kind:    domain.StateReview,
		Samples: []string{sampleKey},
		Blueprint: &domain.TaskBlueprint{
			Name:   "DataReview",
			Kind:   domain.TaskWaitForReview,
			Params: domain.TaskParams{Review: &domain.ReviewParams{Note: "Review aggregation metrics of " + sampleKey}},
		},
	})
	m.AddTransition("FPToReview_"+sampleKey, fp, review)

	upload, _ := f.add(m, &domain.State{
		Name:      "Upload_" + sampleKey,
		Kind:      domain.StateUpload,
		Samples:   []string{sampleKey},
		Blueprint: f.uploadBlueprint("Upload_"+sampleKey, []string{cram}, f.bucketPath(sampleKey)),
	})
	m.AddTransition("ReviewToUpload_"+sampleKey, review, upload)

	return m, m.Validate()
}

func (f *Factory) bucketPath(sampleKey string) string {
	return strings.TrimSuffix(f.pipeline.Bucket, "/") + "/" + sampleKey + "/"
}

func (f *Factory) uploadBlueprint(name string, sources []string, dest string) *domain.TaskBlueprint {
	return &domain.TaskBlueprint{
		Name: name,
		Kind: domain.TaskUpload,
		Params: domain.TaskParams{Upload: &domain.UploadParams{
			Executable:  f.pipeline.Tools.Gsutil,
			Sources:     sources,
			Destination: dest,
			Parallelism: f.pipeline.UploadParallelism,
		}},
	}
}

// CreateUploadMachine copies files to dest, the configured bucket when dest is empty.
func (f *Factory) CreateUploadMachine(name string, sources []string, dest string) (*domain.FiniteStateMachine, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", domain.ErrStructural)
	}
	if dest == "" {
		dest = strings.TrimSuffix(f.pipeline.Bucket, "/") + "/"
	}
	if name == "" {
		name = "Upload"
	}
	m := f.newMachine(name)
	f.add(m, &domain.State{
		Name:      "Upload",
		Kind:      domain.StateUpload,
		Start:     true,
		Blueprint: f.uploadBlueprint("Upload", sources, dest),
	})
	return m, m.Validate()
}

func holdBlueprint(name string) *domain.TaskBlueprint {
	return &domain.TaskBlueprint{
		Name:   name,
		Kind:   domain.TaskHold,
		Params: domain.TaskParams{Review: &domain.ReviewParams{}},
	}
}

// CreateTopOffMachine parks samples in Hold For Top Off. Operators move them
// between the holding states, nothing here is dispatched.
func (f *Factory) CreateTopOffMachine(name string, samples []string) (*domain.FiniteStateMachine, error) {
	m := f.newMachine(name)
	hold, _ := f.add(m, &domain.State{
		Name:      decorators.HoldForTopOff,
		Start:     true,
		Samples:   samples,
		Blueprint: holdBlueprint(decorators.HoldForTopOff),
	})
	for _, n := range []string{decorators.Nova, decorators.HiSeqX, decorators.SentToRework} {
		s, _ := f.add(m, &domain.State{Name: n, Blueprint: holdBlueprint(n)})
		m.AddTransition("HoldTo"+strings.ReplaceAll(n, " ", ""), hold, s)
	}
	return m, m.Validate()
}

// CreateTriageMachine starts with every sample out of spec.
func (f *Factory) CreateTriageMachine(name string, samples []string) (*domain.FiniteStateMachine, error) {
	m := f.newMachine(name)
	oos, _ := f.add(m, &domain.State{
		Name:      decorators.OutOfSpec,
		Start:     true,
		Samples:   samples,
		Blueprint: holdBlueprint(decorators.OutOfSpec),
	})
	for _, n := range []string{decorators.OverrideInSpec, decorators.Passing} {
		s, _ := f.add(m, &domain.State{Name: n, Blueprint: holdBlueprint(n)})
		m.AddTransition("OutOfSpecTo"+strings.ReplaceAll(n, " ", ""), oos, s)
	}
	return m, m.Validate()
}
