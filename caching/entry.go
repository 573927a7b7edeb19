package caching

import (
	"strings"
	"sync"
)

// record is one serialised event fragment. The timestamp orders
// records for eviction; data is the already encoded key/value payload
// without surrounding delimiters.
type record struct {
	timestamp int64
	data      string
	marked    bool
}

func (r record) size() int64 { return int64(len(r.data)) }

// cacheEntry holds the fragments of a single beacon. The live
// sequences (eventData, actionData) receive appends; the beingSent
// sequences hold data pulled out for the in-flight transmission and
// are either dropped (success) or prepended back (failure).
//
// totalBytes accounts for the live sequences only; fragments moved
// out for chunking are subtracted from the cache-wide counter at copy
// time and re-added on reset.
type cacheEntry struct {
	mu sync.Mutex

	eventData  []record
	actionData []record

	eventDataBeingSent  []record
	actionDataBeingSent []record

	totalBytes int64
}

// lock order: Cache.mu before cacheEntry.mu, never the reverse.

func (e *cacheEntry) addEventData(r record) {
	e.eventData = append(e.eventData, r)
	e.totalBytes += r.size()
}

func (e *cacheEntry) addActionData(r record) {
	e.actionData = append(e.actionData, r)
	e.totalBytes += r.size()
}

func (e *cacheEntry) needsDataCopyBeforeChunking() bool {
	return len(e.actionDataBeingSent) == 0 && len(e.eventDataBeingSent) == 0
}

// copyDataForChunking moves all live fragments into the beingSent
// sequences and returns the number of bytes moved.
func (e *cacheEntry) copyDataForChunking() int64 {
	e.actionDataBeingSent = e.actionData
	e.eventDataBeingSent = e.eventData
	e.actionData = nil
	e.eventData = nil
	moved := e.totalBytes
	e.totalBytes = 0
	return moved
}

// getChunk builds prefix plus as many unmarked beingSent fragments as
// fit within maxSize, action data first. Appended fragments are
// marked for sending. Returns the empty string when no fragment fits
// or none is left.
func (e *cacheEntry) getChunk(prefix string, maxSize int, delimiter byte) string {
	var b strings.Builder
	b.Grow(maxSize)
	b.WriteString(prefix)

	appended := 0
	for _, sequence := range [][]record{e.actionDataBeingSent, e.eventDataBeingSent} {
		for i := range sequence {
			if sequence[i].marked {
				continue
			}
			if b.Len()+1+len(sequence[i].data) > maxSize {
				if appended == 0 {
					return ""
				}
				return b.String()
			}
			b.WriteByte(delimiter)
			b.WriteString(sequence[i].data)
			sequence[i].marked = true
			appended++
		}
	}
	if appended == 0 {
		return ""
	}
	return b.String()
}

// removeDataMarkedForSending drops the fragments emitted by the last
// getChunk call.
func (e *cacheEntry) removeDataMarkedForSending() {
	e.actionDataBeingSent = removeMarked(e.actionDataBeingSent)
	e.eventDataBeingSent = removeMarked(e.eventDataBeingSent)
}

func removeMarked(records []record) []record {
	kept := records[:0]
	for _, r := range records {
		if !r.marked {
			kept = append(kept, r)
		}
	}
	return kept
}

// resetDataMarkedForSending unmarks every beingSent fragment and
// prepends the beingSent sequences back onto the live ones, restoring
// the original order. Returns the number of bytes restored.
func (e *cacheEntry) resetDataMarkedForSending() int64 {
	var restored int64
	for i := range e.actionDataBeingSent {
		e.actionDataBeingSent[i].marked = false
		restored += e.actionDataBeingSent[i].size()
	}
	for i := range e.eventDataBeingSent {
		e.eventDataBeingSent[i].marked = false
		restored += e.eventDataBeingSent[i].size()
	}

	e.actionData = append(e.actionDataBeingSent, e.actionData...)
	e.eventData = append(e.eventDataBeingSent, e.eventData...)
	e.actionDataBeingSent = nil
	e.eventDataBeingSent = nil

	e.totalBytes += restored
	return restored
}

func (e *cacheEntry) isEmpty() bool {
	return len(e.eventData) == 0 && len(e.actionData) == 0
}

func (e *cacheEntry) recordCount() int {
	return len(e.eventData) + len(e.actionData)
}

// removeRecordsOlderThan removes live fragments with a timestamp
// before minTimestamp. Returns the number removed and their byte sum.
func (e *cacheEntry) removeRecordsOlderThan(minTimestamp int64) (int, int64) {
	var removed int
	var bytes int64
	e.eventData, removed, bytes = removeOlderThan(e.eventData, minTimestamp)
	e.totalBytes -= bytes

	n, b := 0, int64(0)
	e.actionData, n, b = removeOlderThan(e.actionData, minTimestamp)
	e.totalBytes -= b

	return removed + n, bytes + b
}

func removeOlderThan(records []record, minTimestamp int64) ([]record, int, int64) {
	kept := records[:0]
	var removed int
	var bytes int64
	for _, r := range records {
		if r.timestamp < minTimestamp {
			removed++
			bytes += r.size()
			continue
		}
		kept = append(kept, r)
	}
	return kept, removed, bytes
}

// removeOldestRecords removes count fragments, oldest first across
// both live sequences. Returns the number removed and their byte sum.
func (e *cacheEntry) removeOldestRecords(count int) (int, int64) {
	var removed int
	var bytes int64
	for removed < count {
		switch {
		case len(e.actionData) == 0 && len(e.eventData) == 0:
			e.totalBytes -= bytes
			return removed, bytes
		case len(e.actionData) == 0:
			bytes += e.eventData[0].size()
			e.eventData = e.eventData[1:]
		case len(e.eventData) == 0:
			bytes += e.actionData[0].size()
			e.actionData = e.actionData[1:]
		case e.actionData[0].timestamp <= e.eventData[0].timestamp:
			bytes += e.actionData[0].size()
			e.actionData = e.actionData[1:]
		default:
			bytes += e.eventData[0].size()
			e.eventData = e.eventData[1:]
		}
		removed++
	}
	e.totalBytes -= bytes
	return removed, bytes
}
