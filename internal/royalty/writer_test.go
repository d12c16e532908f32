package royalty

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// scriptedRecordStore fakes RecordStore with programmable failures.
type scriptedRecordStore struct {
	mu sync.Mutex

	// failuresLeft makes the next N batch calls fail with failErr.
	failuresLeft int
	failErr      error

	// poison makes any batch containing a record with this checksum fail
	// with a permanent error; single-row calls for the poisoned record
	// also fail.
	poison string

	// seen dedupes on source checksum, mimicking the natural-key conflict.
	seen    map[string]struct{}
	batches [][]Record
}

func newScriptedRecordStore() *scriptedRecordStore {
	return &scriptedRecordStore{seen: make(map[string]struct{})}
}

func (s *scriptedRecordStore) UpsertBatch(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failuresLeft > 0 {
		s.failuresLeft--
		return 0, s.failErr
	}
	for _, r := range records {
		if s.poison != "" && r.SourceChecksum == s.poison {
			return 0, &pgconn.PgError{Code: "23502", Message: "null value in column"}
		}
	}

	inserted := 0
	for _, r := range records {
		if _, dup := s.seen[r.SourceChecksum]; !dup {
			s.seen[r.SourceChecksum] = struct{}{}
			inserted++
		}
	}
	s.batches = append(s.batches, records)
	return inserted, nil
}

func (s *scriptedRecordStore) ListByQuarter(context.Context, uuid.UUID, int, int) ([]Record, error) {
	return nil, nil
}

func (s *scriptedRecordStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func testItems(n int) []WriteItem {
	items := make([]WriteItem, n)
	for i := range items {
		items[i] = WriteItem{
			Record: Record{
				ID:             uuid.New(),
				SourceChecksum: rowChecksum([]string{"row", string(rune('a' + i%26)), time.Now().String(), uuid.NewString()}),
			},
			Line: i + 2,
			Raw:  []string{"row"},
		}
	}
	return items
}

func runWriter(w *BatchWriter, ctx context.Context, items []WriteItem) (int, []string) {
	ch := make(chan WriteItem)
	go func() {
		for _, item := range items {
			ch <- item
		}
		close(ch)
	}()
	return w.Run(ctx, ch)
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestWriterCommitsAllBatches(t *testing.T) {
	store := newScriptedRecordStore()
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 3, MaxConcurrency: 2, RetryAttempts: 3, BackoffBase: time.Millisecond}
	w := NewBatchWriter(store, cfg, fastPolicy(3), collector)

	committed, warnings := runWriter(w, context.Background(), testItems(10))

	if committed != 10 {
		t.Errorf("committed = %d, want 10", committed)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if collector.Len() != 0 {
		t.Errorf("collector has %d failures, want 0", collector.Len())
	}
	if store.rowCount() != 10 {
		t.Errorf("store has %d rows, want 10", store.rowCount())
	}
	// 10 rows at batch size 3 means 4 batches.
	if len(store.batches) != 4 {
		t.Errorf("store saw %d batches, want 4", len(store.batches))
	}
}

func TestWriterRetriesTransientFailure(t *testing.T) {
	store := newScriptedRecordStore()
	store.failuresLeft = 2
	store.failErr = &pgconn.PgError{Code: "08006", Message: "connection failure"}
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 100, MaxConcurrency: 1, RetryAttempts: 3, BackoffBase: time.Millisecond}
	w := NewBatchWriter(store, cfg, fastPolicy(3), collector)

	committed, warnings := runWriter(w, context.Background(), testItems(5))

	if committed != 5 {
		t.Errorf("committed = %d, want 5 after retries", committed)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestWriterExhaustedRetriesFailsBatch(t *testing.T) {
	store := newScriptedRecordStore()
	store.failuresLeft = 100
	store.failErr = &pgconn.PgError{Code: "08006", Message: "connection failure"}
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 100, MaxConcurrency: 1, RetryAttempts: 2, BackoffBase: time.Millisecond}
	w := NewBatchWriter(store, cfg, fastPolicy(2), collector)

	committed, warnings := runWriter(w, context.Background(), testItems(5))

	if committed != 0 {
		t.Errorf("committed = %d, want 0", committed)
	}
	if collector.Len() != 5 {
		t.Fatalf("collector has %d failures, want 5", collector.Len())
	}
	for _, row := range collector.Rows() {
		if row.Reasons[0] != ReasonBatchWrite {
			t.Errorf("reason = %s, want %s", row.Reasons[0], ReasonBatchWrite)
		}
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want 1 batch-level warning", warnings)
	}
}

func TestWriterPermanentFailureDecomposes(t *testing.T) {
	store := newScriptedRecordStore()
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 100, MaxConcurrency: 1, RetryAttempts: 3, BackoffBase: time.Millisecond}
	w := NewBatchWriter(store, cfg, fastPolicy(3), collector)

	items := testItems(5)
	store.poison = items[2].Record.SourceChecksum

	committed, _ := runWriter(w, context.Background(), items)

	// One bad row fails alone; its four batch-mates commit.
	if committed != 4 {
		t.Errorf("committed = %d, want 4", committed)
	}
	if collector.Len() != 1 {
		t.Fatalf("collector has %d failures, want 1", collector.Len())
	}
	failed := collector.Rows()[0]
	if failed.Line != items[2].Line {
		t.Errorf("failed line = %d, want %d", failed.Line, items[2].Line)
	}
	if failed.Reasons[0] != ReasonBatchWrite {
		t.Errorf("reason = %s, want %s", failed.Reasons[0], ReasonBatchWrite)
	}
}

func TestWriterCountsDedupedRowsAsCommitted(t *testing.T) {
	store := newScriptedRecordStore()
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 10, MaxConcurrency: 1, RetryAttempts: 3, BackoffBase: time.Millisecond}

	items := testItems(6)
	w := NewBatchWriter(store, cfg, fastPolicy(3), collector)
	if committed, _ := runWriter(w, context.Background(), items); committed != 6 {
		t.Fatalf("first run committed = %d, want 6", committed)
	}

	// Replaying the identical rows dedupes on the natural key: the batch
	// succeeds, the store gains nothing.
	w2 := NewBatchWriter(store, cfg, fastPolicy(3), NewFailureCollector(nil))
	committed, warnings := runWriter(w2, context.Background(), items)
	if committed != 6 {
		t.Errorf("replay committed = %d, want 6", committed)
	}
	if len(warnings) != 0 {
		t.Errorf("replay warnings = %v", warnings)
	}
	if store.rowCount() != 6 {
		t.Errorf("store has %d rows after replay, want 6", store.rowCount())
	}
}

func TestWriterCancelledBeforeStartDropsBatches(t *testing.T) {
	store := newScriptedRecordStore()
	collector := NewFailureCollector(nil)
	cfg := BatchConfig{BatchSize: 2, MaxConcurrency: 1, RetryAttempts: 3, BackoffBase: time.Millisecond}
	w := NewBatchWriter(store, cfg, fastPolicy(3), collector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	committed, warnings := runWriter(w, ctx, testItems(4))

	if committed != 0 {
		t.Errorf("committed = %d, want 0", committed)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 dropped batches", warnings)
	}
	for _, warning := range warnings {
		if !strings.Contains(warning, "cancelled") {
			t.Errorf("warning %q should mention cancellation", warning)
		}
	}
}
