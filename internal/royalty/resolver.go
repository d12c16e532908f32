package royalty

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TrackResolver maps a row's identifying metadata to a canonical track,
// creating one when absent. Resolution is keyed by ISRC when present, else
// by (artist, normalized title). All state is scoped to a single run and
// discarded at run end.
//
// Concurrent workers resolving the same key serialize on a per-key lock, so
// one run never creates duplicate tracks; the store's unique constraint
// backs this across runs.
type TrackResolver struct {
	store    TrackStore
	artistID uuid.UUID

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	resolved map[string]uuid.UUID
}

// NewTrackResolver creates a resolver scoped to one artist's run.
func NewTrackResolver(store TrackStore, artistID uuid.UUID) *TrackResolver {
	return &TrackResolver{
		store:    store,
		artistID: artistID,
		locks:    make(map[string]*sync.Mutex),
		resolved: make(map[string]uuid.UUID),
	}
}

// Resolve returns the canonical track id for the row, creating the track on
// first sight of its key.
func (r *TrackResolver) Resolve(ctx context.Context, row *ValidRow) (uuid.UUID, error) {
	key := resolutionKey(row)

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	id, ok := r.resolved[key]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := r.store.Upsert(ctx, r.artistID, row.Title, NormalizeTitle(row.Title), row.ISRC)
	if err != nil {
		return uuid.Nil, err
	}

	r.mu.Lock()
	r.resolved[key] = id
	r.mu.Unlock()
	return id, nil
}

// keyLock returns the mutex guarding one resolution key, creating it on
// first use.
func (r *TrackResolver) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

func resolutionKey(row *ValidRow) string {
	if row.ISRC != "" {
		return "isrc:" + strings.ToUpper(row.ISRC)
	}
	return "title:" + NormalizeTitle(row.Title)
}

// NormalizeTitle canonicalizes a track title for resolution: lowercased with
// runs of whitespace collapsed to single spaces.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
