package factory

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testRun() *RunDescription {
	return &RunDescription{
		Name:         "240301_A00123_0042_AHXXXXDSX2",
		RunDirectory: "/seq/illumina/240301_A00123_0042_AHXXXXDSX2",
		Flowcell:     "HXXXXDSX2",
		Reads:        []int{151, 151},
		AdapterRead1: "AGATCGGAAGAGCACACGTCTGAACTCCAGTCA",
		Lanes: []LaneDescription{
			{Number: 1, Samples: []SampleDescription{
				{Name: "SM-A1", Index: "ACGTACGT", Index2: "TTGGCCAA", Sex: "female"},
				{Name: "SM-B2", Index: "GGTTAACC", Index2: "CCAATTGG"},
			}},
			{Number: 2, Samples: []SampleDescription{
				{Name: "SM-A1", Index: "ACGTACGT", Index2: "TTGGCCAA", Sex: "female"},
			}},
		},
	}
}

func TestSampleSheet_WriteAndParse(t *testing.T) {
	ss := NewSampleSheet(testRun(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	if err := ss.Write(&buf); err != nil {
		t.Fatal(err)
	}
	text := buf.String()
	for _, want := range []string{
		"[Header],,,,\n",
		"Experiment Name,240301_A00123_0042_AHXXXXDSX2,,,\n",
		"Date,03/01/2024,,,\n",
		"[Reads],,,,\n151,,,,\n",
		"AdapterRead1,AGATCGGAAGAGCACACGTCTGAACTCCAGTCA,,,\n",
		"Sample_ID,Sample_Name,Lane,Index,Index2\n",
		"HXXXXDSX2.1.SM-A1,SM-A1,1,ACGTACGT,TTGGCCAA\n",
		"HXXXXDSX2.2.SM-A1,SM-A1,2,ACGTACGT,TTGGCCAA\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("sample sheet is missing %q:\n%s", want, text)
		}
	}

	parsed, err := ParseSampleSheet(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(parsed.Data, ss.Data) {
		t.Errorf("data differs after parsing\n got: %+v\nwant: %+v", parsed.Data, ss.Data)
	}
	if !reflect.DeepEqual(parsed.Reads, []int{151, 151}) {
		t.Errorf("unexpected reads %v", parsed.Reads)
	}
	if got := parsed.Samples(); !reflect.DeepEqual(got, []string{"SM-A1", "SM-B2"}) {
		t.Errorf("unexpected samples %v", got)
	}
}

func TestSampleSheet_SingleLaneAndSingleIndex(t *testing.T) {
	run := testRun()
	for i := range run.Lanes {
		for j := range run.Lanes[i].Samples {
			run.Lanes[i].Samples[j].Index2 = ""
		}
	}
	ss := NewSampleSheet(run, time.Now(), 2)
	if len(ss.Data) != 1 || ss.Data[0].Lane != 2 {
		t.Fatalf("expected only lane 2, got %+v", ss.Data)
	}
	var buf bytes.Buffer
	if err := ss.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Sample_ID,Sample_Name,Lane,Index,\n") {
		t.Errorf("expected single index columns:\n%s", buf.String())
	}
	parsed, err := ParseSampleSheet(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Data[0].Index2 != "" || parsed.Data[0].SampleName != "SM-A1" {
		t.Errorf("unexpected row %+v", parsed.Data[0])
	}
}

func TestParseSampleSheet_Errors(t *testing.T) {
	tests := map[string]string{
		"no data":        "[Header]\nIEMFileVersion,4\n",
		"missing column": "[Data]\nSample_ID,Lane,Index\nx,1,ACGT\n",
		"bad lane":       "[Data]\nSample_ID,Sample_Name,Lane,Index\nx,y,one,ACGT\n",
		"bad read":       "[Reads]\nlong\n[Data]\nSample_ID,Sample_Name,Lane,Index\n",
	}
	for name, input := range tests {
		if _, err := ParseSampleSheet(strings.NewReader(input)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestFastqName(t *testing.T) {
	if got := FastqName("SM-A1", 3, 2, 1); got != "SM-A1_S3_L002_R1_001.fastq.gz" {
		t.Errorf("unexpected fastq name %s", got)
	}
}
