package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/soundledger/soundledger/internal/money"
	"github.com/soundledger/soundledger/internal/royalty"
)

// Summaries persists derived quarterly rollups.
type Summaries struct {
	db DBTX
}

// Upsert replaces the summary for (artist, year, quarter). Summaries are
// fully recomputed from records, so the write always overwrites.
func (s *Summaries) Upsert(ctx context.Context, sum royalty.QuarterlySummary) error {
	byPlatform, err := marshalBreakdowns(sum.ByPlatform)
	if err != nil {
		return err
	}
	byTerritory, err := marshalBreakdowns(sum.ByTerritory)
	if err != nil {
		return err
	}
	byMonth, err := marshalBreakdowns(sum.ByMonth)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO quarterly_summaries
			(artist_id, year, quarter, total_gross, total_net, total_units,
			 track_count, by_platform, by_territory, by_month, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (artist_id, year, quarter) DO UPDATE SET
			total_gross  = EXCLUDED.total_gross,
			total_net    = EXCLUDED.total_net,
			total_units  = EXCLUDED.total_units,
			track_count  = EXCLUDED.track_count,
			by_platform  = EXCLUDED.by_platform,
			by_territory = EXCLUDED.by_territory,
			by_month     = EXCLUDED.by_month,
			computed_at  = EXCLUDED.computed_at`,
		pgUUID(sum.ArtistID), sum.Year, sum.Quarter,
		sum.TotalGross.Numeric(), sum.TotalNet.Numeric(), sum.TotalUnits,
		sum.TrackCount, byPlatform, byTerritory, byMonth, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert summary %d Q%d: %w", sum.Year, sum.Quarter, err)
	}
	return nil
}

// Get returns the stored summary, or nil when none exists yet.
func (s *Summaries) Get(ctx context.Context, artistID uuid.UUID, year, quarter int) (*royalty.QuarterlySummary, error) {
	var (
		sum                              royalty.QuarterlySummary
		artist                           pgtype.UUID
		gross, net                       pgtype.Numeric
		byPlatform, byTerritory, byMonth []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT artist_id, year, quarter, total_gross, total_net, total_units,
		       track_count, by_platform, by_territory, by_month
		FROM quarterly_summaries
		WHERE artist_id = $1 AND year = $2 AND quarter = $3`,
		pgUUID(artistID), year, quarter,
	).Scan(&artist, &sum.Year, &sum.Quarter, &gross, &net, &sum.TotalUnits,
		&sum.TrackCount, &byPlatform, &byTerritory, &byMonth)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %d Q%d: %w", year, quarter, err)
	}

	sum.ArtistID = fromPgUUID(artist)
	sum.TotalGross = money.FromNumeric(gross)
	sum.TotalNet = money.FromNumeric(net)
	if sum.ByPlatform, err = unmarshalBreakdowns(byPlatform); err != nil {
		return nil, err
	}
	if sum.ByTerritory, err = unmarshalBreakdowns(byTerritory); err != nil {
		return nil, err
	}
	if sum.ByMonth, err = unmarshalBreakdowns(byMonth); err != nil {
		return nil, err
	}
	return &sum, nil
}

func marshalBreakdowns(b []royalty.Breakdown) ([]byte, error) {
	if b == nil {
		b = []royalty.Breakdown{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdowns: %w", err)
	}
	return data, nil
}

func unmarshalBreakdowns(data []byte) ([]royalty.Breakdown, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []royalty.Breakdown
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal breakdowns: %w", err)
	}
	return out, nil
}
