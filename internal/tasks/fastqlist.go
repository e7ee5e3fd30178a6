package tasks

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var fastqListHeader = []string{"RGID", "RGSM", "RGLB", "Lane", "Read1File", "Read2File"}

// FastqListRow is one line of a dragen fastq list: the reads of one sample on one lane.
type FastqListRow struct {
	RGID      string
	RGSM      string
	RGLB      string
	Lane      int
	Read1File string
	Read2File string
}

func ReadFastqList(path string) ([]FastqListRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseFastqList(f)
}

func parseFastqList(r io.Reader) ([]FastqListRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(fastqListHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read fastq list: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read fastq list: missing header")
	}
	for i, h := range fastqListHeader {
		if records[0][i] != h {
			return nil, fmt.Errorf("read fastq list: unexpected column %q, want %q", records[0][i], h)
		}
	}
	rows := make([]FastqListRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		lane, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, fmt.Errorf("read fastq list: lane %q: %w", rec[3], err)
		}
		rows = append(rows, FastqListRow{
			RGID:      rec[0],
			RGSM:      rec[1],
			RGLB:      rec[2],
			Lane:      lane,
			Read1File: rec[4],
			Read2File: rec[5],
		})
	}
	return rows, nil
}

func WriteFastqList(path string, rows []FastqListRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write(fastqListHeader)
	for _, r := range rows {
		_ = w.Write([]string{r.RGID, r.RGSM, r.RGLB, strconv.Itoa(r.Lane), r.Read1File, r.Read2File})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MergeFastqLists writes the rows of sample found in sources to dest and
// returns how many were kept.
func MergeFastqLists(sources []string, sample string, dest string) (int, error) {
	var merged []FastqListRow
	for _, src := range sources {
		rows, err := ReadFastqList(src)
		if err != nil {
			return 0, fmt.Errorf("merge %s: %w", src, err)
		}
		for _, r := range rows {
			if r.RGSM == sample {
				merged = append(merged, r)
			}
		}
	}
	if len(merged) == 0 {
		return 0, fmt.Errorf("no reads for sample %s in %d fastq lists", sample, len(sources))
	}
	return len(merged), WriteFastqList(dest, merged)
}
