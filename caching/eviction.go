package caching

import (
	"time"

	"github.com/rumkit/go-rumkit/logging"
	"github.com/rumkit/go-rumkit/providers"
)

// Config holds the eviction caps for the beacon cache.
type Config struct {
	// MaxRecordAge is the maximum time a fragment may stay cached.
	// Zero or negative disables age-based eviction.
	MaxRecordAge time.Duration
	// CacheSizeLowerBound is the byte size space-based eviction
	// drains down to once triggered.
	CacheSizeLowerBound int64
	// CacheSizeUpperBound is the byte size that triggers space-based
	// eviction.
	CacheSizeUpperBound int64
}

// DefaultConfig returns the eviction caps used when the host does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxRecordAge:        105 * time.Minute,
		CacheSizeLowerBound: 80 * 1024 * 1024,
		CacheSizeUpperBound: 100 * 1024 * 1024,
	}
}

// Evictor enforces the cache caps. It owns no goroutine; the sending
// worker calls Execute once per tick.
type Evictor struct {
	logger logging.Logger
	cache  *Cache
	config Config
	timing providers.TimingProvider

	spaceDisabledLogged bool
}

// NewEvictor creates an Evictor over cache with the given caps.
func NewEvictor(logger logging.Logger, cache *Cache, config Config, timing providers.TimingProvider) *Evictor {
	return &Evictor{
		logger: logger,
		cache:  cache,
		config: config,
		timing: timing,
	}
}

// Execute runs one eviction pass: expired fragments are removed
// first; if the cache is still above the upper bound, the oldest
// fragments are removed round-robin across all keys until the size
// is at or below the lower bound. Only live fragments are touched;
// in-flight data is left alone.
func (e *Evictor) Execute() {
	e.evictByAge()
	e.evictBySize()
}

func (e *Evictor) evictByAge() {
	if e.config.MaxRecordAge <= 0 {
		return
	}
	minTimestamp := e.timing.TimestampMilliseconds() - e.config.MaxRecordAge.Milliseconds()
	for _, key := range e.cache.BeaconKeys() {
		e.cache.EvictRecordsByAge(key, minTimestamp)
	}
}

func (e *Evictor) evictBySize() {
	lower, upper := e.config.CacheSizeLowerBound, e.config.CacheSizeUpperBound
	if lower <= 0 || upper <= 0 || upper < lower {
		if !e.spaceDisabledLogged {
			e.logger.Info("Evictor space eviction disabled (bounds lower=%d upper=%d)", lower, upper)
			e.spaceDisabledLogged = true
		}
		return
	}
	if e.cache.NumBytesInCache() <= upper {
		return
	}
	for e.cache.NumBytesInCache() > lower {
		removedThisRound := 0
		for _, key := range e.cache.BeaconKeys() {
			if e.cache.NumBytesInCache() <= lower {
				break
			}
			count := e.cache.RecordCount(key)
			if count == 0 {
				continue
			}
			removedThisRound += e.cache.EvictRecordsByNumber(key, count-1)
		}
		if removedThisRound == 0 {
			// nothing evictable left (all remaining data is in flight)
			return
		}
	}
}
