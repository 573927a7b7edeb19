package caching

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumkit/go-rumkit/logging"
)

var testKey = BeaconKey{SessionNumber: 1, SessionSequence: 0}

func newTestCache() *Cache {
	return NewCache(logging.Discard())
}

func TestEmptyCache(t *testing.T) {
	cache := newTestCache()

	assert.True(t, cache.IsEmpty(testKey))
	assert.Equal(t, int64(0), cache.NumBytesInCache())
	assert.Empty(t, cache.BeaconKeys())

	chunk, ok := cache.GetNextBeaconChunk(testKey, "prefix", 100, '&')
	assert.False(t, ok)
	assert.Equal(t, "", chunk)
}

func TestAddDataTracksSize(t *testing.T) {
	cache := newTestCache()

	cache.AddEventData(testKey, 1000, "et=18&it=1")
	cache.AddActionData(testKey, 1001, "et=1&it=1")

	assert.False(t, cache.IsEmpty(testKey))
	assert.Equal(t, int64(len("et=18&it=1")+len("et=1&it=1")), cache.NumBytesInCache())
	assert.Equal(t, 2, cache.RecordCount(testKey))
}

func TestDeleteCacheEntry(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "event")
	cache.AddActionData(testKey, 1000, "action")

	cache.DeleteCacheEntry(testKey)

	assert.True(t, cache.IsEmpty(testKey))
	assert.Equal(t, int64(0), cache.NumBytesInCache())
	assert.Empty(t, cache.BeaconKeys())

	// deleting again is a no-op
	cache.DeleteCacheEntry(testKey)
}

func TestGetNextBeaconChunkActionDataFirst(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "event-1")
	cache.AddEventData(testKey, 1001, "event-2")
	cache.AddActionData(testKey, 1002, "action-1")

	chunk, ok := cache.GetNextBeaconChunk(testKey, "prefix", 1000, '&')

	require.True(t, ok)
	assert.Equal(t, "prefix&action-1&event-1&event-2", chunk)
	// drained data no longer counts toward the cache size
	assert.Equal(t, int64(0), cache.NumBytesInCache())
}

func TestGetNextBeaconChunkRespectsMaxSize(t *testing.T) {
	cache := newTestCache()
	for i := 0; i < 5; i++ {
		cache.AddEventData(testKey, int64(1000+i), fmt.Sprintf("record-%d", i))
	}

	// prefix(6) + 3 * (1+8) = 33
	chunk, ok := cache.GetNextBeaconChunk(testKey, "prefix", 33, '&')
	require.True(t, ok)
	assert.Equal(t, "prefix&record-0&record-1&record-2", chunk)

	cache.RemoveChunkedData(testKey)

	chunk, ok = cache.GetNextBeaconChunk(testKey, "prefix", 33, '&')
	require.True(t, ok)
	assert.Equal(t, "prefix&record-3&record-4", chunk)

	cache.RemoveChunkedData(testKey)

	chunk, ok = cache.GetNextBeaconChunk(testKey, "prefix", 33, '&')
	require.True(t, ok)
	assert.Equal(t, "", chunk)
}

func TestGetNextBeaconChunkNothingFits(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, strings.Repeat("x", 100))

	chunk, ok := cache.GetNextBeaconChunk(testKey, "prefix", 50, '&')
	require.True(t, ok)
	assert.Equal(t, "", chunk)

	// the record is recoverable
	cache.ResetChunkedData(testKey)
	assert.False(t, cache.IsEmpty(testKey))
}

func TestResetChunkedDataRoundTrip(t *testing.T) {
	cache := newTestCache()
	events := []string{"event-1", "event-2", "event-3"}
	actions := []string{"action-1", "action-2"}
	for i, data := range events {
		cache.AddEventData(testKey, int64(1000+i), data)
	}
	for i, data := range actions {
		cache.AddActionData(testKey, int64(1000+i), data)
	}
	sizeBefore := cache.NumBytesInCache()

	// drain a partial chunk, then roll back
	chunk, ok := cache.GetNextBeaconChunk(testKey, "p", 12, '&')
	require.True(t, ok)
	require.NotEqual(t, "", chunk)
	cache.ResetChunkedData(testKey)

	assert.Equal(t, sizeBefore, cache.NumBytesInCache())

	// a full drain now yields the original payloads in original order
	full, ok := cache.GetNextBeaconChunk(testKey, "p", 10_000, '&')
	require.True(t, ok)
	assert.Equal(t, "p&action-1&action-2&event-1&event-2&event-3", full)
}

func TestRemoveChunkedDataCommitsDrain(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "event-1")

	_, ok := cache.GetNextBeaconChunk(testKey, "p", 1000, '&')
	require.True(t, ok)
	cache.RemoveChunkedData(testKey)

	assert.True(t, cache.IsEmpty(testKey))
	assert.Equal(t, int64(0), cache.NumBytesInCache())

	chunk, ok := cache.GetNextBeaconChunk(testKey, "p", 1000, '&')
	require.True(t, ok)
	assert.Equal(t, "", chunk)
}

func TestIsEmptyIgnoresInFlightData(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "event-1")

	_, ok := cache.GetNextBeaconChunk(testKey, "p", 1000, '&')
	require.True(t, ok)

	// all live data moved out for sending
	assert.True(t, cache.IsEmpty(testKey))
}

func TestEvictRecordsByAge(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "old-event")
	cache.AddEventData(testKey, 2000, "new-event")
	cache.AddActionData(testKey, 1500, "old-action")

	removed := cache.EvictRecordsByAge(testKey, 1600)

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.RecordCount(testKey))
	assert.Equal(t, int64(len("new-event")), cache.NumBytesInCache())

	assert.Equal(t, 0, cache.EvictRecordsByAge(BeaconKey{SessionNumber: 99}, 1600))
}

func TestEvictRecordsByNumber(t *testing.T) {
	cache := newTestCache()
	cache.AddEventData(testKey, 1000, "event-1")
	cache.AddEventData(testKey, 3000, "event-2")
	cache.AddActionData(testKey, 2000, "action-1")

	removed := cache.EvictRecordsByNumber(testKey, 1)

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.RecordCount(testKey))

	// the newest record survives
	chunk, ok := cache.GetNextBeaconChunk(testKey, "p", 1000, '&')
	require.True(t, ok)
	assert.Equal(t, "p&event-2", chunk)

	assert.Equal(t, 0, cache.EvictRecordsByNumber(BeaconKey{SessionNumber: 99}, 0))
}

func TestKeysAreIndependent(t *testing.T) {
	cache := newTestCache()
	otherKey := BeaconKey{SessionNumber: 2, SessionSequence: 0}
	cache.AddEventData(testKey, 1000, "first")
	cache.AddEventData(otherKey, 1000, "second")

	cache.DeleteCacheEntry(testKey)

	assert.True(t, cache.IsEmpty(testKey))
	assert.False(t, cache.IsEmpty(otherKey))
	assert.Equal(t, int64(len("second")), cache.NumBytesInCache())
}

func TestConcurrentAppends(t *testing.T) {
	cache := newTestCache()
	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := BeaconKey{SessionNumber: int32(g % 2)}
			for i := 0; i < perGoroutine; i++ {
				cache.AddEventData(key, int64(i), "0123456789")
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine*10), cache.NumBytesInCache())
}
