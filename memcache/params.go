package memcache

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned when cache parameters are negative.
var ErrInvalidParams = errors.New("memcache: invalid params")

// Params bounds the cache. Zero values mean "unlimited".
//
// The cache as a whole holds entries that are referenced by clients (in use)
// and entries that only the cache references (the eviction queue). Only the
// eviction queue can be trimmed; in-use entries leave the cache once their
// last client handle is closed and they are evicted.
type Params struct {
	// MaxCacheSize bounds the bytes of all entries, in use or not.
	MaxCacheSize int64

	// MaxCacheEntries bounds the number of entries, in use or not.
	MaxCacheEntries int

	// MaxEvictionQueueSize bounds the bytes of entries no client references.
	MaxEvictionQueueSize int64

	// MaxEvictionQueueEntries bounds the number of entries no client references.
	MaxEvictionQueueEntries int

	// MaxCacheEntrySize is the largest single entry the cache admits.
	MaxCacheEntrySize int64
}

// DefaultParams returns a 32 MiB budget suitable for a handful of animations.
func DefaultParams() Params {
	const budget = 32 << 20
	return Params{
		MaxCacheSize:            budget,
		MaxCacheEntries:         256,
		MaxEvictionQueueSize:    budget,
		MaxEvictionQueueEntries: 256,
		MaxCacheEntrySize:       budget,
	}
}

// Validate checks that no limit is negative.
func (p Params) Validate() error {
	switch {
	case p.MaxCacheSize < 0:
		return fmt.Errorf("%w: max cache size %d", ErrInvalidParams, p.MaxCacheSize)
	case p.MaxCacheEntries < 0:
		return fmt.Errorf("%w: max cache entries %d", ErrInvalidParams, p.MaxCacheEntries)
	case p.MaxEvictionQueueSize < 0:
		return fmt.Errorf("%w: max eviction queue size %d", ErrInvalidParams, p.MaxEvictionQueueSize)
	case p.MaxEvictionQueueEntries < 0:
		return fmt.Errorf("%w: max eviction queue entries %d", ErrInvalidParams, p.MaxEvictionQueueEntries)
	case p.MaxCacheEntrySize < 0:
		return fmt.Errorf("%w: max cache entry size %d", ErrInvalidParams, p.MaxCacheEntrySize)
	}
	return nil
}

// limits is Params with "unlimited" made explicit.
type limits struct {
	maxCacheSize            int64
	maxCacheEntries         int
	maxEvictionQueueSize    int64
	maxEvictionQueueEntries int
	maxCacheEntrySize       int64
}

func (p Params) limits() limits {
	orMaxInt64 := func(v int64) int64 {
		if v == 0 {
			return math.MaxInt64
		}
		return v
	}
	orMaxInt := func(v int) int {
		if v == 0 {
			return math.MaxInt
		}
		return v
	}
	return limits{
		maxCacheSize:            orMaxInt64(p.MaxCacheSize),
		maxCacheEntries:         orMaxInt(p.MaxCacheEntries),
		maxEvictionQueueSize:    orMaxInt64(p.MaxEvictionQueueSize),
		maxEvictionQueueEntries: orMaxInt(p.MaxEvictionQueueEntries),
		maxCacheEntrySize:       orMaxInt64(p.MaxCacheEntrySize),
	}
}
