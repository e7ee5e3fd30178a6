package factory

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/tasks"
)

// FASTQ_NAME_FORMAT is how bcl conversion names its output: sample, sample
// number, lane and read.
const FASTQ_NAME_FORMAT = "%s_S%d_L%03d_R%d_001.fastq.gz"

const sampleSheetColumns = 5

// SampleSheetRow is one line of the [Data] section. SampleID is the read
// group, SampleName the sample key.
type SampleSheetRow struct {
	SampleID   string
	SampleName string
	Lane       int
	Index      string
	Index2     string
}

type SampleSheet struct {
	Header   [][2]string
	Reads    []int
	Settings [][2]string
	Data     []SampleSheetRow
}

func FastqName(sampleName string, sampleNumber int, lane int, read int) string {
	return fmt.Sprintf(FASTQ_NAME_FORMAT, sampleName, sampleNumber, lane, read)
}

// NewSampleSheet builds the sheet for the given lanes of a run, every lane when none are given.
func NewSampleSheet(run *RunDescription, now time.Time, lanes ...int) *SampleSheet {
	ss := &SampleSheet{
		Header: [][2]string{
			{"IEMFileVersion", "4"},
			{"Experiment Name", run.Name},
			{"Date", now.Format("01/02/2006")},
			{"Workflow", "GenerateFASTQ"},
			{"Application", "NovaSeq FASTQ Only"},
			{"Chemistry", "Amplicon"},
		},
		Reads: run.Reads,
	}
	if run.AdapterRead1 != "" {
		ss.Settings = append(ss.Settings, [2]string{"AdapterRead1", run.AdapterRead1})
	}
	if run.AdapterRead2 != "" {
		ss.Settings = append(ss.Settings, [2]string{"AdapterRead2", run.AdapterRead2})
	}
	include := map[int]bool{}
	for _, l := range lanes {
		include[l] = true
	}
	for _, lane := range run.Lanes {
		if len(include) > 0 && !include[lane.Number] {
			continue
		}
		for _, s := range lane.Samples {
			ss.Data = append(ss.Data, SampleSheetRow{
				SampleID:   tasks.ReadGroupID(run.Flowcell, lane.Number, s.Name),
				SampleName: s.Name,
				Lane:       lane.Number,
				Index:      s.Index,
				Index2:     s.Index2,
			})
		}
	}
	return ss
}

func (ss *SampleSheet) dualIndex() bool {
	for _, r := range ss.Data {
		if r.Index2 != "" {
			return true
		}
	}
	return false
}

func pad(cols ...string) []string {
	for len(cols) < sampleSheetColumns {
		cols = append(cols, "")
	}
	return cols
}

func (ss *SampleSheet) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	records := [][]string{pad("[Header]")}
	for _, kv := range ss.Header {
		records = append(records, pad(kv[0], kv[1]))
	}
	records = append(records, pad(), pad("[Reads]"))
	for _, r := range ss.Reads {
		records = append(records, pad(strconv.Itoa(r)))
	}
	records = append(records, pad(), pad("[Settings]"))
	for _, kv := range ss.Settings {
		records = append(records, pad(kv[0], kv[1]))
	}
	records = append(records, pad(), pad("[Data]"))
	dual := ss.dualIndex()
	if dual {
		records = append(records, pad("Sample_ID", "Sample_Name", "Lane", "Index", "Index2"))
	} else {
		records = append(records, pad("Sample_ID", "Sample_Name", "Lane", "Index"))
	}
	for _, r := range ss.Data {
		if dual {
			records = append(records, pad(r.SampleID, r.SampleName, strconv.Itoa(r.Lane), r.Index, r.Index2))
		} else {
			records = append(records, pad(r.SampleID, r.SampleName, strconv.Itoa(r.Lane), r.Index))
		}
	}
	return cw.WriteAll(records)
}

func (ss *SampleSheet) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ss.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("write sample sheet %s: %w", path, err)
	}
	return f.Close()
}

func LoadSampleSheet(path string) (*SampleSheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ss, err := ParseSampleSheet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ss, nil
}

// ParseSampleSheet reads the four sections. [Data] columns are matched by
// name so either index layout is accepted.
func ParseSampleSheet(r io.Reader) (*SampleSheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse sample sheet: %w", err)
	}
	ss := &SampleSheet{}
	section := ""
	var columns map[string]int
	for _, rec := range records {
		first := strings.TrimSpace(rec[0])
		if strings.HasPrefix(first, "[") && strings.HasSuffix(first, "]") {
			section = first
			continue
		}
		if first == "" {
			continue
		}
		switch section {
		case "[Header]":
			ss.Header = append(ss.Header, [2]string{first, field(rec, 1)})
		case "[Reads]":
			n, err := strconv.Atoi(first)
			if err != nil {
				return nil, fmt.Errorf("parse sample sheet: read length %q: %w", first, err)
			}
			ss.Reads = append(ss.Reads, n)
		case "[Settings]":
			ss.Settings = append(ss.Settings, [2]string{first, field(rec, 1)})
		case "[Data]":
			if columns == nil {
				columns = map[string]int{}
				for i, c := range rec {
					columns[strings.TrimSpace(c)] = i
				}
				for _, required := range []string{"Sample_ID", "Sample_Name", "Lane", "Index"} {
					if _, ok := columns[required]; !ok {
						return nil, fmt.Errorf("parse sample sheet: [Data] is missing column %s", required)
					}
				}
				continue
			}
			lane, err := strconv.Atoi(field(rec, columns["Lane"]))
			if err != nil {
				return nil, fmt.Errorf("parse sample sheet: lane of %s: %w", first, err)
			}
			row := SampleSheetRow{
				SampleID:   field(rec, columns["Sample_ID"]),
				SampleName: field(rec, columns["Sample_Name"]),
				Lane:       lane,
				Index:      field(rec, columns["Index"]),
			}
			if i, ok := columns["Index2"]; ok {
				row.Index2 = field(rec, i)
			}
			ss.Data = append(ss.Data, row)
		}
	}
	if columns == nil {
		return nil, fmt.Errorf("parse sample sheet: no [Data] section")
	}
	return ss, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

// Samples returns the distinct sample names in sheet order.
func (ss *SampleSheet) Samples() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range ss.Data {
		if !seen[r.SampleName] {
			seen[r.SampleName] = true
			out = append(out, r.SampleName)
		}
	}
	return out
}
