package royalty

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WriteItem pairs a record to commit with the source row it came from, so a
// write failure can be reported against the original CSV line.
type WriteItem struct {
	Record Record
	Line   int
	Raw    []string
}

// BatchWriter commits records in fixed-size batches under bounded
// concurrency, retrying transient failures with exponential backoff. A
// batch that exhausts its retries fails row by row and never aborts
// sibling batches.
type BatchWriter struct {
	store     RecordStore
	cfg       BatchConfig
	policy    RetryPolicy
	collector *FailureCollector

	mu        sync.Mutex
	committed int
	warnings  []string
}

// NewBatchWriter creates a writer for one run. The retry policy is injected
// separately from BatchConfig so tests can exercise backoff in isolation.
func NewBatchWriter(store RecordStore, cfg BatchConfig, policy RetryPolicy, collector *FailureCollector) *BatchWriter {
	return &BatchWriter{
		store:     store,
		cfg:       cfg,
		policy:    policy,
		collector: collector,
	}
}

// Run consumes items until the channel closes, forming batches in input
// order and committing them with at most MaxConcurrency batches in flight.
// It blocks until every batch has settled and returns the committed row
// count plus any non-fatal batch-level warnings.
//
// On cancellation, in-flight batches finish (a commit is never interrupted)
// and unstarted batches are dropped with a warning.
func (w *BatchWriter) Run(ctx context.Context, items <-chan WriteItem) (int, []string) {
	sem := semaphore.NewWeighted(int64(w.cfg.MaxConcurrency))
	var g errgroup.Group

	flush := func(batch []WriteItem) {
		if err := sem.Acquire(ctx, 1); err != nil {
			w.warn(fmt.Sprintf("cancelled before batch of %d rows started (line %d)",
				len(batch), batch[0].Line))
			return
		}
		g.Go(func() error {
			defer sem.Release(1)
			w.writeBatch(ctx, batch)
			return nil
		})
	}

	batch := make([]WriteItem, 0, w.cfg.BatchSize)
	for item := range items {
		batch = append(batch, item)
		if len(batch) == w.cfg.BatchSize {
			flush(batch)
			batch = make([]WriteItem, 0, w.cfg.BatchSize)
		}
	}
	if len(batch) > 0 {
		flush(batch)
	}

	// Workers never return errors; failures are data in the collector.
	_ = g.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.committed, w.warnings
}

// writeBatch attempts to commit one batch, retrying transient failures per
// the policy. Permanent failures skip straight to row-level decomposition.
// The store call runs on a non-cancellable context: a batch that has
// started is allowed to finish.
func (w *BatchWriter) writeBatch(ctx context.Context, batch []WriteItem) {
	records := make([]Record, len(batch))
	for i, item := range batch {
		records[i] = item.Record
	}
	commitCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		inserted, err := w.store.UpsertBatch(commitCtx, records)
		if err == nil {
			if deduped := len(records) - inserted; deduped > 0 {
				slog.Debug("batch contained already-committed rows",
					"batch_size", len(records), "deduped", deduped)
			}
			w.addCommitted(len(batch))
			return
		}

		if Classify(err) == FailurePermanent {
			slog.Warn("permanent batch failure, decomposing to rows",
				"batch_size", len(batch), "error", err)
			w.decompose(commitCtx, batch)
			return
		}

		if attempt+1 >= w.policy.MaxAttempts {
			w.failBatch(batch, fmt.Errorf("after %d attempts: %w", w.policy.MaxAttempts, err))
			return
		}

		slog.Debug("transient batch failure, backing off",
			"attempt", attempt+1, "delay", w.policy.Delay(attempt), "error", err)
		if serr := w.policy.Sleep(ctx, attempt); serr != nil {
			w.failBatch(batch, fmt.Errorf("cancelled during retry backoff: %w", err))
			return
		}
	}
}

// decompose retries a failed batch one row at a time so a single bad row
// does not take down its batch-mates.
func (w *BatchWriter) decompose(ctx context.Context, batch []WriteItem) {
	for _, item := range batch {
		if _, err := w.store.UpsertBatch(ctx, []Record{item.Record}); err != nil {
			w.collector.Add(FailedRow{
				Line:    item.Line,
				Reasons: []FailReason{ReasonBatchWrite},
				Data:    item.Raw,
			})
		} else {
			w.addCommitted(1)
		}
	}
}

// failBatch marks every row in the batch failed and records a batch-level
// warning. The run continues with remaining batches.
func (w *BatchWriter) failBatch(batch []WriteItem, err error) {
	for _, item := range batch {
		w.collector.Add(FailedRow{
			Line:    item.Line,
			Reasons: []FailReason{ReasonBatchWrite},
			Data:    item.Raw,
		})
	}
	w.warn(fmt.Sprintf("batch of %d rows failed %v", len(batch), err))
}

func (w *BatchWriter) addCommitted(n int) {
	w.mu.Lock()
	w.committed += n
	w.mu.Unlock()
}

func (w *BatchWriter) warn(msg string) {
	w.mu.Lock()
	w.warnings = append(w.warnings, msg)
	w.mu.Unlock()
}
