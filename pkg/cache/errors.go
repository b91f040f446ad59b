package cache

import "errors"

var (
	// ErrNotFound is returned when no entry matches a lookup
	ErrNotFound = errors.New("cache: entry not found")

	// ErrInvalidInput is returned for descriptors that cannot be hashed or
	// matched, e.g. an unknown task kind.
	ErrInvalidInput = errors.New("cache: invalid input descriptor")

	// ErrStoreUnavailable is returned when the backing store is down or the
	// circuit breaker is open. Read paths treat it as a miss.
	ErrStoreUnavailable = errors.New("cache: store unavailable")

	// ErrEntryPinned is returned when eviction is asked to remove an entry
	// that still has live references.
	ErrEntryPinned = errors.New("cache: entry has active references")

	// ErrWarmupCoolingDown is returned when a warmup cycle is requested
	// before the cooldown from the previous cycle has elapsed.
	ErrWarmupCoolingDown = errors.New("cache: warmup cooling down")
)
