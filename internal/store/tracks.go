package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Tracks resolves and creates canonical tracks.
type Tracks struct {
	db DBTX
}

// Upsert resolves a track to its canonical id, creating it if needed.
// Resolution is keyed by ISRC when present, else by (artist, normalized
// title); the unique indexes behind each path make concurrent upserts of the
// same track converge on one row.
func (s *Tracks) Upsert(ctx context.Context, artistID uuid.UUID, title, normalizedTitle, isrc string) (uuid.UUID, error) {
	var query string
	if isrc != "" {
		query = `
			INSERT INTO tracks (id, artist_id, title, normalized_title, isrc)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (isrc) WHERE isrc <> ''
			DO UPDATE SET title = EXCLUDED.title, normalized_title = EXCLUDED.normalized_title
			RETURNING id`
	} else {
		query = `
			INSERT INTO tracks (id, artist_id, title, normalized_title, isrc)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (artist_id, normalized_title)
			DO UPDATE SET title = EXCLUDED.title
			RETURNING id`
	}

	var id pgtype.UUID
	err := s.db.QueryRow(ctx, query,
		pgUUID(uuid.New()), pgUUID(artistID), title, normalizedTitle, isrc,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert track %q: %w", title, err)
	}
	return fromPgUUID(id), nil
}
