package store

import (
	"context"
	"fmt"

	"github.com/soundledger/soundledger/internal/royalty"
)

// Runs records ingestion run bookkeeping.
type Runs struct {
	db DBTX
}

// InsertRun persists one settled run.
func (s *Runs) InsertRun(ctx context.Context, run royalty.Run) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ingestion_runs
			(id, artist_id, storage_path, rows_read, rows_committed, rows_failed,
			 duration_ms, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pgUUID(run.ID), pgUUID(run.ArtistID), run.StoragePath,
		run.RowsRead, run.RowsCommitted, run.RowsFailed,
		run.DurationMs, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}
