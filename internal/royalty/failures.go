package royalty

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"
)

// FailureCollector accumulates rejected rows across the parsing, resolution,
// and write stages. It is safe for concurrent use by batch workers. Rows()
// returns entries in source order so the failure report always reads
// top-to-bottom regardless of which worker failed a row first.
type FailureCollector struct {
	mu     sync.Mutex
	header []string
	rows   []FailedRow
}

// NewFailureCollector creates a collector that re-serializes failures
// against the given source header.
func NewFailureCollector(header []string) *FailureCollector {
	return &FailureCollector{header: header}
}

// Add records a failed row.
func (c *FailureCollector) Add(row FailedRow) {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
}

// Len returns the number of collected failures.
func (c *FailureCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

// Rows returns a copy of the collected failures sorted by source line.
func (c *FailureCollector) Rows() []FailedRow {
	c.mu.Lock()
	out := make([]FailedRow, len(c.rows))
	copy(out, c.rows)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// WriteCSV re-serializes the failures as CSV for operator correction and
// re-submission: the original columns preceded by a failure_reason column.
func (c *FailureCollector) WriteCSV(w io.Writer) error {
	return writeFailureCSV(w, c.header, c.Rows())
}

// WriteFailedCSV exports a finished run's failed rows in the same format
// the collector produces.
func (r *ProcessingResult) WriteFailedCSV(w io.Writer) error {
	return writeFailureCSV(w, r.SourceHeader, r.FailedRows)
}

func writeFailureCSV(w io.Writer, header []string, rows []FailedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"failure_reason"}, header...)); err != nil {
		return fmt.Errorf("write failure header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(append([]string{row.ReasonString()}, row.Data...)); err != nil {
			return fmt.Errorf("write failure row (line %d): %w", row.Line, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
