// Package store implements the Postgres persistence layer: royalty records,
// canonical tracks, quarterly summaries, and ingestion run bookkeeping.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store bundles the per-entity stores over one connection source.
type Store struct {
	db DBTX

	Records   *Records
	Tracks    *Tracks
	Summaries *Summaries
	Runs      *Runs
}

// New creates a Store over db.
func New(db DBTX) *Store {
	return &Store{
		db:        db,
		Records:   &Records{db: db},
		Tracks:    &Tracks{db: db},
		Summaries: &Summaries{db: db},
		Runs:      &Runs{db: db},
	}
}

// Schema is the DDL for all tables this package owns. Idempotent; applied
// at startup via EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id               UUID PRIMARY KEY,
	artist_id        UUID NOT NULL,
	title            TEXT NOT NULL,
	normalized_title TEXT NOT NULL,
	isrc             TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS tracks_isrc_key
	ON tracks (isrc) WHERE isrc <> '';
CREATE UNIQUE INDEX IF NOT EXISTS tracks_artist_title_key
	ON tracks (artist_id, normalized_title);

CREATE TABLE IF NOT EXISTS royalty_records (
	id              UUID PRIMARY KEY,
	artist_id       UUID NOT NULL,
	track_id        UUID REFERENCES tracks (id),
	track_title     TEXT NOT NULL,
	platform        TEXT NOT NULL,
	territory       TEXT NOT NULL,
	broadcast_date  DATE NOT NULL,
	units           BIGINT NOT NULL,
	gross           NUMERIC(18,4) NOT NULL,
	admin_percent   NUMERIC(7,4) NOT NULL,
	net             NUMERIC(18,4) NOT NULL,
	paid_status     TEXT NOT NULL DEFAULT 'unpaid',
	source_checksum TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS royalty_records_natural_key
	ON royalty_records (artist_id, track_title, platform, territory, broadcast_date, source_checksum);
CREATE INDEX IF NOT EXISTS royalty_records_artist_date
	ON royalty_records (artist_id, broadcast_date);

CREATE TABLE IF NOT EXISTS quarterly_summaries (
	artist_id    UUID NOT NULL,
	year         INT NOT NULL,
	quarter      INT NOT NULL,
	total_gross  NUMERIC(18,4) NOT NULL,
	total_net    NUMERIC(18,4) NOT NULL,
	total_units  BIGINT NOT NULL,
	track_count  INT NOT NULL,
	by_platform  JSONB NOT NULL DEFAULT '[]',
	by_territory JSONB NOT NULL DEFAULT '[]',
	by_month     JSONB NOT NULL DEFAULT '[]',
	computed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (artist_id, year, quarter)
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id             UUID PRIMARY KEY,
	artist_id      UUID NOT NULL,
	storage_path   TEXT NOT NULL,
	rows_read      INT NOT NULL,
	rows_committed INT NOT NULL,
	rows_failed    INT NOT NULL,
	duration_ms    BIGINT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ingestion_runs_artist
	ON ingestion_runs (artist_id, started_at DESC);
`

// EnsureSchema applies the DDL. Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func fromPgUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}
