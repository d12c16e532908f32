package royalty

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/soundledger/soundledger/internal/csvstream"
	"github.com/soundledger/soundledger/internal/money"
)

// Phase is the orchestrator's current stage. Transitions are strictly
// forward; a run is never restarted in place.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseParsing     Phase = "parsing"
	PhaseWriting     Phase = "writing"
	PhaseAggregating Phase = "aggregating"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Stores bundles the external collaborators one pipeline needs.
type Stores struct {
	Tracks    TrackStore
	Records   RecordStore
	Summaries SummaryStore
	Source    SourceStore
	Runs      RunStore // optional; nil disables run bookkeeping
}

// Pipeline sequences one ingestion run: download, streaming parse and
// validation, track resolution, batched writes, then summary recomputation.
// A Pipeline is stateless across runs; all mutable state is scoped to a
// single Process call.
type Pipeline struct {
	stores   Stores
	defaults BatchConfig
}

// NewPipeline creates a pipeline with per-run defaults that individual
// requests may override.
func NewPipeline(stores Stores, defaults BatchConfig) *Pipeline {
	return &Pipeline{stores: stores, defaults: defaults}
}

// Request describes one ingestion run.
type Request struct {
	RunID       uuid.UUID
	ArtistID    uuid.UUID
	StoragePath string
	Config      *BatchConfig // nil falls back to the pipeline defaults
	OnPhase     func(Phase)  // optional phase observer
}

// Process executes one run. It returns an error only for fatal, run-level
// conditions that occur before any row-level processing: invalid inputs or
// an unreadable source. Everything after that — bad rows, failed batches,
// even a fully failed file — comes back as data inside ProcessingResult.
//
// Cancellation stops row intake; in-flight batches finish and the partial
// result is returned.
func (p *Pipeline) Process(ctx context.Context, req Request) (*ProcessingResult, error) {
	start := time.Now()
	phase := func(ph Phase) {
		if req.OnPhase != nil {
			req.OnPhase(ph)
		}
	}

	cfg := p.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if req.ArtistID == uuid.Nil {
		return nil, fmt.Errorf("artist id is required")
	}
	if req.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch config: %w", err)
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	log := slog.Default().With("run_id", req.RunID, "artist_id", req.ArtistID)
	log.Info("ingestion run starting", "path", req.StoragePath,
		"batch_size", cfg.BatchSize, "max_concurrency", cfg.MaxConcurrency)

	phase(PhaseDownloading)
	src, size, err := p.stores.Source.Open(ctx, req.StoragePath)
	if err != nil {
		phase(PhaseFailed)
		return nil, fmt.Errorf("open source %q: %w", req.StoragePath, err)
	}
	defer src.Close()

	phase(PhaseParsing)
	parser, err := NewRowParser(csvstream.NewReader(src, size), req.ArtistID)
	if err != nil {
		phase(PhaseFailed)
		return nil, fmt.Errorf("parse %q: %w", req.StoragePath, err)
	}

	collector := NewFailureCollector(parser.Header())
	resolver := NewTrackResolver(p.stores.Tracks, req.ArtistID)
	writer := NewBatchWriter(p.stores.Records, cfg, PolicyFromConfig(cfg), collector)

	items := make(chan WriteItem, cfg.BatchSize)
	type writeOutcome struct {
		committed int
		warnings  []string
	}
	outcome := make(chan writeOutcome, 1)
	go func() {
		committed, warnings := writer.Run(ctx, items)
		outcome <- writeOutcome{committed, warnings}
	}()

	phase(PhaseWriting)
	rowsRead := 0
	cancelled := false
	periods := make(map[Period]struct{})

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		res, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Next never returns other errors today; treat defensively as EOF.
			break
		}
		rowsRead++

		if res.Failed != nil {
			collector.Add(*res.Failed)
			continue
		}
		row := res.Row

		trackID, rerr := resolver.Resolve(ctx, row)
		if rerr != nil {
			collector.Add(FailedRow{
				Line:    row.Line,
				Reasons: []FailReason{ReasonTrackResolution},
				Data:    row.Raw,
			})
			continue
		}

		rec := recordFromRow(row, trackID)
		periods[PeriodOf(row.BroadcastDate)] = struct{}{}
		items <- WriteItem{Record: rec, Line: row.Line, Raw: row.Raw}
	}
	close(items)

	wo := <-outcome
	warnings := wo.warnings
	if cancelled {
		warnings = append(warnings, "run cancelled: row intake stopped early")
	}

	phase(PhaseAggregating)
	if len(periods) > 0 {
		affected := make([]Period, 0, len(periods))
		for period := range periods {
			affected = append(affected, period)
		}
		agg := NewSummaryAggregator(p.stores.Records, p.stores.Summaries)
		if _, err := agg.Recompute(ctx, req.ArtistID, affected); err != nil {
			// Committed rows are durable; a summary failure is a warning,
			// the next run over the same periods repairs it.
			warnings = append(warnings, fmt.Sprintf("summary recomputation: %v", err))
		}
	}

	result := &ProcessingResult{
		RunID:         req.RunID.String(),
		RowsRead:      rowsRead,
		RowsCommitted: wo.committed,
		RowsFailed:    collector.Len(),
		FailedRows:    collector.Rows(),
		SourceHeader:  parser.Header(),
		Elapsed:       time.Since(start),
		Warnings:      warnings,
	}
	result.Success = result.RowsFailed == 0 && !cancelled

	p.recordRun(ctx, req, result, start)

	phase(PhaseDone)
	log.Info("ingestion run finished",
		"rows_read", result.RowsRead,
		"rows_committed", result.RowsCommitted,
		"rows_failed", result.RowsFailed,
		"elapsed", result.Elapsed,
		"success", result.Success,
	)
	return result, nil
}

// recordRun persists run bookkeeping; failures degrade to a warning since
// the run itself already settled.
func (p *Pipeline) recordRun(ctx context.Context, req Request, result *ProcessingResult, start time.Time) {
	if p.stores.Runs == nil {
		return
	}

	status := "done"
	if !result.Success {
		status = "partial"
	}
	run := Run{
		ID:            req.RunID,
		ArtistID:      req.ArtistID,
		StoragePath:   req.StoragePath,
		RowsRead:      result.RowsRead,
		RowsCommitted: result.RowsCommitted,
		RowsFailed:    result.RowsFailed,
		DurationMs:    result.Elapsed.Milliseconds(),
		Status:        status,
		StartedAt:     start,
	}
	if err := p.stores.Runs.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("record run: %v", err))
	}
}

// recordFromRow builds the committable record: net is derived from gross and
// the admin fee at commit time and never recomputed afterwards.
func recordFromRow(row *ValidRow, trackID uuid.UUID) Record {
	var tid *uuid.UUID
	if trackID != uuid.Nil {
		tid = &trackID
	}
	return Record{
		ID:             uuid.New(),
		ArtistID:       row.ArtistID,
		TrackID:        tid,
		TrackTitle:     row.Title,
		Platform:       row.Platform,
		Territory:      row.Territory,
		BroadcastDate:  row.BroadcastDate,
		Units:          row.Units,
		Gross:          row.Gross,
		AdminPercent:   row.AdminPercent,
		Net:            money.Net(row.Gross, row.AdminPercent),
		PaidStatus:     PaidStatusUnpaid,
		SourceChecksum: row.Checksum,
		CreatedAt:      time.Now().UTC(),
	}
}
