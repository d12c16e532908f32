// Package royalty implements the royalty CSV ingestion and aggregation
// pipeline: streaming parse and validation, track resolution, batched
// durable writes with retry, failure collection, and per-quarter summary
// recomputation.
package royalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soundledger/soundledger/internal/money"
)

// PaidStatus is the payment state of a committed royalty record.
// Transitions after commit are owned by the payment subsystem, not this
// pipeline; records are always committed unpaid.
type PaidStatus string

const (
	PaidStatusUnpaid  PaidStatus = "unpaid"
	PaidStatusPending PaidStatus = "pending"
	PaidStatusPaid    PaidStatus = "paid"
)

// FailReason is a machine-readable code describing why a row was rejected.
type FailReason string

const (
	ReasonMissingField    FailReason = "MISSING_FIELD"
	ReasonInvalidNumber   FailReason = "INVALID_NUMBER"
	ReasonInvalidDate     FailReason = "INVALID_DATE"
	ReasonNegativeAmount  FailReason = "NEGATIVE_AMOUNT"
	ReasonInvalidPercent  FailReason = "INVALID_PERCENT"
	ReasonTrackResolution FailReason = "TRACK_RESOLUTION_FAILED"
	ReasonBatchWrite      FailReason = "BATCH_WRITE_FAILED"
)

// ValidRow is a parsed and validated royalty line item, not yet committed.
type ValidRow struct {
	Line          int // 1-indexed CSV line number for diagnostics
	ArtistID      uuid.UUID
	Title         string
	ISRC          string // optional external identifier
	Platform      string
	Territory     string
	BroadcastDate time.Time
	Units         int64
	Gross         money.Amount
	AdminPercent  money.Amount
	Checksum      string // sha256 over the raw source cells
	Raw           []string
}

// FailedRow is a rejected row together with the reasons it was rejected.
// Failed rows are never persisted; they surface only in the run's report.
type FailedRow struct {
	Line    int
	Reasons []FailReason
	Data    []string
}

// ReasonString joins the failure reasons for CSV export.
func (f FailedRow) ReasonString() string {
	s := ""
	for i, r := range f.Reasons {
		if i > 0 {
			s += "; "
		}
		s += string(r)
	}
	return s
}

// RowResult is the per-row output of the parser: exactly one of Row or
// Failed is set.
type RowResult struct {
	Row    *ValidRow
	Failed *FailedRow
}

// Record is a committed royalty line item. Gross and net are immutable once
// committed; only PaidStatus may change later, outside this pipeline.
type Record struct {
	ID             uuid.UUID
	ArtistID       uuid.UUID
	TrackID        *uuid.UUID // nil if unresolved
	TrackTitle     string
	Platform       string
	Territory      string
	BroadcastDate  time.Time
	Units          int64
	Gross          money.Amount
	AdminPercent   money.Amount
	Net            money.Amount
	PaidStatus     PaidStatus
	SourceChecksum string
	CreatedAt      time.Time
}

// BatchConfig controls how validated rows are grouped and committed.
type BatchConfig struct {
	BatchSize      int           // rows per write
	MaxConcurrency int           // simultaneous in-flight batches
	RetryAttempts  int           // attempts per batch on transient failure
	BackoffBase    time.Duration // base delay, doubled per attempt
}

// DefaultBatchConfig returns the documented defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:      500,
		MaxConcurrency: 4,
		RetryAttempts:  3,
		BackoffBase:    200 * time.Millisecond,
	}
}

// Validate checks that all fields are usable.
func (c BatchConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", c.BackoffBase)
	}
	return nil
}

// ProcessingResult is the immutable outcome of one ingestion run.
// Success reflects whether any row failed; committed rows stay durable
// regardless.
type ProcessingResult struct {
	RunID         string
	Success       bool
	RowsRead      int
	RowsCommitted int
	RowsFailed    int
	FailedRows    []FailedRow
	SourceHeader  []string // original CSV header, for failure re-export
	Elapsed       time.Duration
	Warnings      []string // non-fatal batch-level errors
}

// Period identifies a calendar quarter.
type Period struct {
	Year    int
	Quarter int
}

// PeriodOf returns the quarter containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Quarter: (int(t.Month())-1)/3 + 1}
}

// Breakdown is one bucket of a summary distribution. Buckets are sorted by
// key so recomputation is deterministic.
type Breakdown struct {
	Key   string       `json:"key"`
	Gross money.Amount `json:"gross"`
	Net   money.Amount `json:"net"`
	Units int64        `json:"units"`
}

// QuarterlySummary is the derived per-artist, per-quarter rollup. It is
// fully recomputable from committed records and never hand-edited.
type QuarterlySummary struct {
	ArtistID    uuid.UUID
	Year        int
	Quarter     int
	TotalGross  money.Amount
	TotalNet    money.Amount
	TotalUnits  int64
	TrackCount  int
	ByPlatform  []Breakdown
	ByTerritory []Breakdown
	ByMonth     []Breakdown
}

// Run is the bookkeeping row recorded after an ingestion run settles.
type Run struct {
	ID            uuid.UUID
	ArtistID      uuid.UUID
	StoragePath   string
	RowsRead      int
	RowsCommitted int
	RowsFailed    int
	DurationMs    int64
	Status        string
	StartedAt     time.Time
}
