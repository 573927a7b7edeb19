package caching

import (
	"sync"
	"sync/atomic"

	"github.com/rumkit/go-rumkit/logging"
)

// Cache is the thread-safe bounded store of serialised event
// fragments, keyed per beacon. Producers append through the Add
// methods; the sender drains through GetNextBeaconChunk and commits
// or rolls back with RemoveChunkedData / ResetChunkedData.
//
// A single cache-level lock guards the key set; one lock per entry
// guards that entry's sequences. Locks are always taken cache first,
// entry second.
type Cache struct {
	logger logging.Logger

	mu      sync.Mutex
	entries map[BeaconKey]*cacheEntry

	totalBytes atomic.Int64
}

// NewCache creates an empty Cache.
func NewCache(logger logging.Logger) *Cache {
	return &Cache{
		logger:  logger,
		entries: make(map[BeaconKey]*cacheEntry),
	}
}

func (c *Cache) getOrCreateEntry(key BeaconKey) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	return entry
}

func (c *Cache) getEntry(key BeaconKey) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// AddEventData appends an event fragment for key.
func (c *Cache) AddEventData(key BeaconKey, timestamp int64, data string) {
	if c.logger.DebugEnabled() {
		c.logger.Debug("Cache addEventData%s timestamp=%d data=%q", key, timestamp, data)
	}
	entry := c.getOrCreateEntry(key)
	entry.mu.Lock()
	entry.addEventData(record{timestamp: timestamp, data: data})
	entry.mu.Unlock()
	c.totalBytes.Add(int64(len(data)))
}

// AddActionData appends an action fragment for key.
func (c *Cache) AddActionData(key BeaconKey, timestamp int64, data string) {
	if c.logger.DebugEnabled() {
		c.logger.Debug("Cache addActionData%s timestamp=%d data=%q", key, timestamp, data)
	}
	entry := c.getOrCreateEntry(key)
	entry.mu.Lock()
	entry.addActionData(record{timestamp: timestamp, data: data})
	entry.mu.Unlock()
	c.totalBytes.Add(int64(len(data)))
}

// DeleteCacheEntry removes everything stored for key.
func (c *Cache) DeleteCacheEntry(key BeaconKey) {
	if c.logger.DebugEnabled() {
		c.logger.Debug("Cache deleteCacheEntry%s", key)
	}
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	c.totalBytes.Add(-entry.totalBytes)
	entry.mu.Unlock()
}

// GetNextBeaconChunk returns the next transmittable chunk for key:
// prefix followed by as many buffered fragments as fit within
// maxSize, action data before event data. Fragments are moved into
// the entry's in-flight state and must be committed with
// RemoveChunkedData or rolled back with ResetChunkedData.
//
// ok is false when no entry exists for key. An existing entry with
// nothing left to drain yields an empty chunk.
func (c *Cache) GetNextBeaconChunk(key BeaconKey, prefix string, maxSize int, delimiter byte) (chunk string, ok bool) {
	entry := c.getEntry(key)
	if entry == nil {
		return "", false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.needsDataCopyBeforeChunking() {
		moved := entry.copyDataForChunking()
		c.totalBytes.Add(-moved)
	}
	return entry.getChunk(prefix, maxSize, delimiter), true
}

// RemoveChunkedData drops the fragments handed out by the last
// GetNextBeaconChunk call for key.
func (c *Cache) RemoveChunkedData(key BeaconKey) {
	entry := c.getEntry(key)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	entry.removeDataMarkedForSending()
	entry.mu.Unlock()
}

// ResetChunkedData restores all in-flight fragments of key back onto
// the live sequences in their original order.
func (c *Cache) ResetChunkedData(key BeaconKey) {
	entry := c.getEntry(key)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	restored := entry.resetDataMarkedForSending()
	entry.mu.Unlock()
	c.totalBytes.Add(restored)
	if c.logger.DebugEnabled() {
		c.logger.Debug("Cache resetChunkedData%s restored %d bytes", key, restored)
	}
}

// IsEmpty reports whether key has no live fragments. In-flight data
// is not considered.
func (c *Cache) IsEmpty(key BeaconKey) bool {
	entry := c.getEntry(key)
	if entry == nil {
		return true
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.isEmpty()
}

// NumBytesInCache returns the total byte size of all live fragments.
func (c *Cache) NumBytesInCache() int64 {
	return c.totalBytes.Load()
}

// BeaconKeys returns a snapshot of the keys currently stored.
func (c *Cache) BeaconKeys() []BeaconKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]BeaconKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// RecordCount returns the number of live fragments stored for key.
func (c *Cache) RecordCount(key BeaconKey) int {
	entry := c.getEntry(key)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.recordCount()
}

// EvictRecordsByAge removes all live fragments of key older than
// minTimestamp. Returns the number of fragments removed.
func (c *Cache) EvictRecordsByAge(key BeaconKey, minTimestamp int64) int {
	entry := c.getEntry(key)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	removed, bytes := entry.removeRecordsOlderThan(minTimestamp)
	entry.mu.Unlock()
	c.totalBytes.Add(-bytes)
	if removed > 0 && c.logger.DebugEnabled() {
		c.logger.Debug("Cache evictRecordsByAge%s removed %d records", key, removed)
	}
	return removed
}

// EvictRecordsByNumber removes the oldest live fragments of key until
// at most maxKeep remain. Returns the number of fragments removed.
func (c *Cache) EvictRecordsByNumber(key BeaconKey, maxKeep int) int {
	if maxKeep < 0 {
		maxKeep = 0
	}
	entry := c.getEntry(key)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	count := entry.recordCount()
	removed, bytes := 0, int64(0)
	if count > maxKeep {
		removed, bytes = entry.removeOldestRecords(count - maxKeep)
	}
	entry.mu.Unlock()
	c.totalBytes.Add(-bytes)
	if removed > 0 && c.logger.DebugEnabled() {
		c.logger.Debug("Cache evictRecordsByNumber%s removed %d records", key, removed)
	}
	return removed
}
