package royalty

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soundledger/soundledger/internal/money"
)

// Royalty export column names. The layout is contracted; matching is
// case-insensitive after cell cleanup.
const (
	ColTitle         = "Track Title"
	ColISRC          = "ISRC"
	ColPlatform      = "Platform"
	ColTerritory     = "Territory"
	ColBroadcastDate = "Broadcast Date"
	ColUsageCount    = "Usage Count"
	ColGrossAmount   = "Gross Amount"
	ColAdminPercent  = "Admin Percent"
)

// requiredColumns must all be present in the header row.
var requiredColumns = []string{
	ColTitle, ColPlatform, ColTerritory, ColBroadcastDate,
	ColUsageCount, ColGrossAmount, ColAdminPercent,
}

// MaxHeaderSearchRows is how many leading rows are scanned for the header.
// Export tools often emit report titles or date ranges above it.
var MaxHeaderSearchRows = 20

// MaxPercent is the upper bound for the admin fee percentage.
var maxPercent = money.New(100, 0)

// headerIndex maps lowercased column names to their position in a row.
type headerIndex map[string]int

// RowParser streams CSV text into per-row results. One pass per instance;
// re-running re-reads from the source. No row failure aborts the stream.
type RowParser struct {
	reader    *csv.Reader
	artistID  uuid.UUID
	header    []string
	headerIdx headerIndex
	line      int // 1-indexed line of the record most recently read
}

// NewRowParser locates the header row and prepares for streaming reads.
// It fails when no header containing the required columns appears within
// MaxHeaderSearchRows, which is a run-level error: nothing can be parsed.
func NewRowParser(r io.Reader, artistID uuid.UUID) (*RowParser, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	p := &RowParser{reader: cr, artistID: artistID}

	for i := 0; i < MaxHeaderSearchRows; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("header row not found: file ended after %d rows", i)
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		p.line++

		idx := makeHeaderIndex(rec)
		if containsRequired(idx) {
			p.header = rec
			p.headerIdx = idx
			return p, nil
		}
	}
	return nil, fmt.Errorf("header row not found in first %d rows (required columns: %s)",
		MaxHeaderSearchRows, strings.Join(requiredColumns, ", "))
}

// Header returns the header row as it appeared in the source.
func (p *RowParser) Header() []string {
	return p.header
}

// Next reads and validates the next data row. It returns io.EOF when the
// stream is exhausted. Fully empty rows are skipped. A row that fails
// validation is returned as a FailedRow carrying every reason found, and
// parsing continues with the following row.
func (p *RowParser) Next() (RowResult, error) {
	for {
		rec, err := p.reader.Read()
		if err == io.EOF {
			return RowResult{}, io.EOF
		}
		if err != nil {
			// A malformed CSV line is a row-level failure, not a stream abort.
			p.line++
			return RowResult{Failed: &FailedRow{
				Line:    p.line,
				Reasons: []FailReason{ReasonMissingField},
				Data:    []string{err.Error()},
			}}, nil
		}
		p.line++

		if isEmptyRow(rec) {
			continue
		}
		return p.validate(rec), nil
	}
}

// validate checks one raw record against the column contract and produces
// either a ValidRow or a FailedRow with all reasons collected.
func (p *RowParser) validate(rec []string) RowResult {
	var reasons []FailReason
	add := func(r FailReason) {
		for _, have := range reasons {
			if have == r {
				return
			}
		}
		reasons = append(reasons, r)
	}

	title := p.cell(rec, ColTitle)
	platform := p.cell(rec, ColPlatform)
	territory := p.cell(rec, ColTerritory)
	if title == "" || platform == "" || territory == "" {
		add(ReasonMissingField)
	}

	var broadcast time.Time
	if raw := p.cell(rec, ColBroadcastDate); raw == "" {
		add(ReasonMissingField)
	} else if t, ok := parseDate(raw); ok {
		broadcast = t
	} else {
		add(ReasonInvalidDate)
	}

	// Usage count defaults to 0 on blank; otherwise a non-negative integer.
	var units int64
	if raw := p.cell(rec, ColUsageCount); raw != "" {
		n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
		if err != nil || n < 0 {
			add(ReasonInvalidNumber)
		} else {
			units = n
		}
	}

	var gross money.Amount
	if raw := p.cell(rec, ColGrossAmount); raw == "" {
		add(ReasonMissingField)
	} else if g, err := money.ParseCents(raw); err != nil {
		add(ReasonInvalidNumber)
	} else if g.IsNegative() {
		add(ReasonNegativeAmount)
	} else {
		gross = g
	}

	var percent money.Amount
	if raw := p.cell(rec, ColAdminPercent); raw == "" {
		add(ReasonMissingField)
	} else if pc, err := money.ParseCents(raw); err != nil {
		add(ReasonInvalidPercent)
	} else if pc.IsNegative() || pc.Cmp(maxPercent) > 0 {
		add(ReasonInvalidPercent)
	} else {
		percent = pc
	}

	if len(reasons) > 0 {
		return RowResult{Failed: &FailedRow{Line: p.line, Reasons: reasons, Data: rec}}
	}

	return RowResult{Row: &ValidRow{
		Line:          p.line,
		ArtistID:      p.artistID,
		Title:         title,
		ISRC:          p.cell(rec, ColISRC),
		Platform:      platform,
		Territory:     territory,
		BroadcastDate: broadcast,
		Units:         units,
		Gross:         gross,
		AdminPercent:  percent,
		Checksum:      rowChecksum(rec),
		Raw:           rec,
	}}
}

// cell returns the cleaned value of the named column, or "" when the column
// is absent or the row is too short.
func (p *RowParser) cell(rec []string, col string) string {
	pos, ok := p.headerIdx[strings.ToLower(col)]
	if !ok || pos >= len(rec) {
		return ""
	}
	return cleanCell(rec[pos])
}

// rowChecksum fingerprints the raw source cells. It feeds the upsert natural
// key so retried or repeated runs never double-count a line.
func rowChecksum(rec []string) string {
	h := sha256.New()
	for i, c := range rec {
		if i > 0 {
			h.Write([]byte{0x1f}) // unit separator, cannot appear via csv
		}
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func makeHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(cleanCell(h))] = i
	}
	return idx
}

func containsRequired(idx headerIndex) bool {
	for _, col := range requiredColumns {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			return false
		}
	}
	return true
}

// cleanCell removes common CSV artifacts: surrounding whitespace, the Excel
// formula prefix (="value"), and stray quotes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.Trim(s, `"'`)
}

func isEmptyRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
