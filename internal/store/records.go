package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/soundledger/soundledger/internal/money"
	"github.com/soundledger/soundledger/internal/royalty"
)

const recordColumns = "id, artist_id, track_id, track_title, platform, territory, " +
	"broadcast_date, units, gross, admin_percent, net, paid_status, source_checksum, created_at"

const argsPerRecord = 14

// Records persists committed royalty records.
type Records struct {
	db DBTX
}

// UpsertBatch inserts records in a single multi-row statement, skipping any
// row whose natural key (artist, track, platform, territory, broadcast date,
// source checksum) already exists. One statement keeps the batch atomic
// without an explicit transaction. Returns the number of rows actually
// inserted, so re-running the same source file inserts zero.
func (s *Records) UpsertBatch(ctx context.Context, records []royalty.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO royalty_records (")
	sb.WriteString(recordColumns)
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*argsPerRecord)
	for i, rec := range records {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * argsPerRecord
		sb.WriteByte('(')
		for j := 0; j < argsPerRecord; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteByte(')')

		args = append(args,
			pgUUID(rec.ID),
			pgUUID(rec.ArtistID),
			pgUUIDPtr(rec.TrackID),
			rec.TrackTitle,
			rec.Platform,
			rec.Territory,
			rec.BroadcastDate,
			rec.Units,
			rec.Gross.Numeric(),
			rec.AdminPercent.Numeric(),
			rec.Net.Numeric(),
			string(rec.PaidStatus),
			rec.SourceChecksum,
			rec.CreatedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (artist_id, track_title, platform, territory, broadcast_date, source_checksum) DO NOTHING")

	tag, err := s.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert record batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByQuarter returns all committed records for an artist whose broadcast
// date falls inside the given calendar quarter.
func (s *Records) ListByQuarter(ctx context.Context, artistID uuid.UUID, year, quarter int) ([]royalty.Record, error) {
	if quarter < 1 || quarter > 4 {
		return nil, fmt.Errorf("quarter must be 1..4, got %d", quarter)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	rows, err := s.db.Query(ctx,
		"SELECT "+recordColumns+" FROM royalty_records "+
			"WHERE artist_id = $1 AND broadcast_date >= $2 AND broadcast_date < $3 "+
			"ORDER BY broadcast_date, track_title",
		pgUUID(artistID), start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query records for %d Q%d: %w", year, quarter, err)
	}
	defer rows.Close()

	var out []royalty.Record
	for rows.Next() {
		var (
			rec          royalty.Record
			id, artist   pgtype.UUID
			track        pgtype.UUID
			gross        pgtype.Numeric
			adminPercent pgtype.Numeric
			net          pgtype.Numeric
			status       string
		)
		err := rows.Scan(&id, &artist, &track, &rec.TrackTitle, &rec.Platform, &rec.Territory,
			&rec.BroadcastDate, &rec.Units, &gross, &adminPercent, &net, &status,
			&rec.SourceChecksum, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ID = fromPgUUID(id)
		rec.ArtistID = fromPgUUID(artist)
		if track.Valid {
			tid := fromPgUUID(track)
			rec.TrackID = &tid
		}
		rec.Gross = money.FromNumeric(gross)
		rec.AdminPercent = money.FromNumeric(adminPercent)
		rec.Net = money.FromNumeric(net)
		rec.PaidStatus = royalty.PaidStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
