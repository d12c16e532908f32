package royalty

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// SummaryAggregator recomputes quarterly summaries from committed records.
// Recomputation, not incremental patching, is the strategy: the summary can
// never drift from the source-of-truth rows, and recomputing twice over an
// unchanged record set yields identical output.
type SummaryAggregator struct {
	records   RecordStore
	summaries SummaryStore
}

// NewSummaryAggregator creates an aggregator over the given stores.
func NewSummaryAggregator(records RecordStore, summaries SummaryStore) *SummaryAggregator {
	return &SummaryAggregator{records: records, summaries: summaries}
}

// Recompute rebuilds and persists the summary for every affected period.
// Called after all batches of a run have settled.
func (a *SummaryAggregator) Recompute(ctx context.Context, artistID uuid.UUID, periods []Period) ([]QuarterlySummary, error) {
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Year != periods[j].Year {
			return periods[i].Year < periods[j].Year
		}
		return periods[i].Quarter < periods[j].Quarter
	})

	out := make([]QuarterlySummary, 0, len(periods))
	for _, p := range periods {
		recs, err := a.records.ListByQuarter(ctx, artistID, p.Year, p.Quarter)
		if err != nil {
			return out, fmt.Errorf("load records for %d-Q%d: %w", p.Year, p.Quarter, err)
		}

		s := Reduce(artistID, p, recs)
		if err := a.summaries.Upsert(ctx, s); err != nil {
			return out, fmt.Errorf("store summary for %d-Q%d: %w", p.Year, p.Quarter, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Reduce folds committed records into one quarterly summary. It is a pure
// function of its inputs: breakdowns are keyed maps emitted in sorted key
// order, so the same record set always reduces to identical output.
func Reduce(artistID uuid.UUID, p Period, records []Record) QuarterlySummary {
	s := QuarterlySummary{
		ArtistID: artistID,
		Year:     p.Year,
		Quarter:  p.Quarter,
	}

	platforms := make(map[string]*Breakdown)
	territories := make(map[string]*Breakdown)
	months := make(map[string]*Breakdown)
	tracks := make(map[string]struct{})

	for _, r := range records {
		s.TotalGross = s.TotalGross.Add(r.Gross)
		s.TotalNet = s.TotalNet.Add(r.Net)
		s.TotalUnits += r.Units

		if r.TrackID != nil {
			tracks["id:"+r.TrackID.String()] = struct{}{}
		} else {
			tracks["title:"+NormalizeTitle(r.TrackTitle)] = struct{}{}
		}

		accumulate(platforms, r.Platform, r)
		accumulate(territories, r.Territory, r)
		accumulate(months, r.BroadcastDate.Format("2006-01"), r)
	}

	s.TrackCount = len(tracks)
	s.ByPlatform = sorted(platforms)
	s.ByTerritory = sorted(territories)
	s.ByMonth = sorted(months)
	return s
}

func accumulate(m map[string]*Breakdown, key string, r Record) {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{Key: key}
		m[key] = b
	}
	b.Gross = b.Gross.Add(r.Gross)
	b.Net = b.Net.Add(r.Net)
	b.Units += r.Units
}

func sorted(m map[string]*Breakdown) []Breakdown {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Breakdown, 0, len(m))
	for _, k := range keys {
		out = append(out, *m[k])
	}
	return out
}
