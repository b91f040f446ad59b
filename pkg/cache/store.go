package cache

import (
	"context"
	"time"
)

// AccessDelta is a batched counter update for one entry. The tracker
// accumulates these in memory and the store applies them in one statement.
type AccessDelta struct {
	EntryID        string
	Accesses       int64
	Hits           int64
	SimilarityUses int64
	LastAccessedAt time.Time
}

// ClientActivity summarizes one client's recent request volume
type ClientActivity struct {
	ClientID string `db:"client_id"`
	Requests int64  `db:"requests"`
}

// EntryStore is the persistence boundary for cache entries. Implementations
// must be safe for concurrent use.
type EntryStore interface {
	// GetByHash returns the cached entry with the given input hash, or
	// ErrNotFound. Entries with cached=false are not returned.
	GetByHash(ctx context.Context, inputHash string) (*Entry, error)

	// GetByID returns any entry by id regardless of cached state
	GetByID(ctx context.Context, id string) (*Entry, error)

	// Candidates returns cached entries matching the filter, most recently
	// accessed first, capped at filter.Limit.
	Candidates(ctx context.Context, filter CandidateFilter) ([]*Entry, error)

	// Insert persists a new entry. The entry's ID must already be set.
	Insert(ctx context.Context, entry *Entry) error

	// ApplyAccess folds batched access deltas into the counters. Counters
	// only move up; LastAccessedAt takes the max of stored and delta values.
	ApplyAccess(ctx context.Context, deltas []AccessDelta) error

	// SetCached flips the cached flag; eviction uses it to tombstone entries
	// whose files were removed.
	SetCached(ctx context.Context, id string, cached bool) error

	// Aggregates returns whole-cache totals: entry count, artifact size,
	// access and hit sums, and the oldest creation time.
	Aggregates(ctx context.Context) (Aggregates, error)

	// EvictionCandidates returns cached, unreferenced entries ordered by
	// ascending retention value inputs (oldest and least used first).
	EvictionCandidates(ctx context.Context, limit int) ([]*Entry, error)

	// TopByHits returns the most hit cached entries, for hotspot reporting
	// and popularity warmup.
	TopByHits(ctx context.Context, since time.Time, limit int) ([]*Entry, error)

	// MostAccessedAtHour returns the most accessed cached entries created at
	// the given hour of day within the window, for time-pattern warmup.
	MostAccessedAtHour(ctx context.Context, hour int, since time.Time, limit int) ([]*Entry, error)

	// ActiveClients returns the busiest clients in the window
	ActiveClients(ctx context.Context, since time.Time, limit int) ([]ClientActivity, error)

	// RecentByClient returns a client's most recent cached entries
	RecentByClient(ctx context.Context, clientID string, limit int) ([]*Entry, error)

	// RecentEntries returns the latest cached entries in the window, newest
	// first, as seeds for similarity-expansion warmup.
	RecentEntries(ctx context.Context, since time.Time, limit int) ([]*Entry, error)

	// Ping verifies store connectivity
	Ping(ctx context.Context) error
}
