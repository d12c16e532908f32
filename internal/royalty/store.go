package royalty

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// RecordStore persists committed royalty records. UpsertBatch must be atomic:
// either every record in the call is durably recorded or none is. Records are
// deduplicated on their natural key (artist, track, platform, territory,
// broadcast date, source checksum); the returned count is the number of rows
// actually inserted, so re-running the same source inserts zero.
type RecordStore interface {
	UpsertBatch(ctx context.Context, records []Record) (int, error)
	ListByQuarter(ctx context.Context, artistID uuid.UUID, year, quarter int) ([]Record, error)
}

// TrackStore resolves or creates canonical tracks. Upsert is keyed by ISRC
// when present, else by (artist, normalized title); a unique constraint in
// the store backs the resolver's in-memory per-key lock.
type TrackStore interface {
	Upsert(ctx context.Context, artistID uuid.UUID, title, normalizedTitle, isrc string) (uuid.UUID, error)
}

// SummaryStore persists derived quarterly summaries keyed by
// (artist, year, quarter).
type SummaryStore interface {
	Upsert(ctx context.Context, s QuarterlySummary) error
	Get(ctx context.Context, artistID uuid.UUID, year, quarter int) (*QuarterlySummary, error)
}

// SourceStore is the object-storage collaborator the raw CSV is fetched
// from. The pipeline does not manage the lifecycle of source objects.
// Size is 0 when unknown.
type SourceStore interface {
	Open(ctx context.Context, path string) (rc io.ReadCloser, size int64, err error)
}

// RunStore records run-level bookkeeping after a run settles.
type RunStore interface {
	InsertRun(ctx context.Context, run Run) error
}
