package core

import (
	"sync"

	"logrelay/internal/models"
)

// DefaultBufferCapacity is used when no capacity is configured
const DefaultBufferCapacity = 1000

// Buffer modes
const (
	ModeBuffer        = "buffer"
	ModeBroadcastOnly = "broadcast"
)

// Buffer is a fixed-capacity, insertion-ordered record store with strict FIFO
// eviction across all channels. It is also the event source for live
// delivery: every mutation is published to the hub while the writer lock is
// held, so subscribers see records in insertion order.
//
// In broadcast-only mode nothing is retained and snapshots are always empty.
type Buffer struct {
	registry      *ChannelRegistry
	hub           *Hub
	broadcastOnly bool

	// wmu serializes mutations together with their publication.
	wmu sync.Mutex

	// mu guards the ring for readers, which never wait on dispatch.
	mu      sync.RWMutex
	ring    []*models.LogRecord
	head    int
	n       int
	evicted uint64
}

// BufferStats is a point-in-time view of the buffer.
type BufferStats struct {
	Mode     string `json:"mode"`
	Capacity int    `json:"capacity"`
	Size     int    `json:"size"`
	Evicted  uint64 `json:"evicted"`
}

// NewBuffer creates a buffer publishing to hub and registering channels in
// registry. A capacity of zero or less takes the default.
func NewBuffer(capacity int, broadcastOnly bool, registry *ChannelRegistry, hub *Hub) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	b := &Buffer{registry: registry, hub: hub, broadcastOnly: broadcastOnly}
	if !broadcastOnly {
		b.ring = make([]*models.LogRecord, capacity)
	}
	return b
}

// Append stores rec, evicting the oldest record when full, and publishes
// RecordAppended.
func (b *Buffer) Append(rec *models.LogRecord) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	b.registry.Ensure(rec.Channel)
	if !b.broadcastOnly {
		b.mu.Lock()
		b.push(rec)
		b.mu.Unlock()
	}
	b.hub.Publish(RecordAppended{Record: rec})
}

// AppendBatch stores recs as one unit and publishes a single BatchAppended.
// When the batch alone exceeds capacity only its newest records are kept.
func (b *Buffer) AppendBatch(recs []*models.LogRecord) {
	if len(recs) == 0 {
		return
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	seen := make(map[string]struct{})
	for _, rec := range recs {
		if _, ok := seen[rec.Channel]; ok {
			continue
		}
		seen[rec.Channel] = struct{}{}
		b.registry.Ensure(rec.Channel)
	}

	if !b.broadcastOnly {
		b.mu.Lock()
		capacity := len(b.ring)
		if len(recs) >= capacity {
			b.evicted += uint64(b.n + len(recs) - capacity)
			clear(b.ring)
			copy(b.ring, recs[len(recs)-capacity:])
			b.head, b.n = 0, capacity
		} else {
			for _, rec := range recs {
				b.push(rec)
			}
		}
		b.mu.Unlock()
	}
	b.hub.Publish(BatchAppended{Records: recs})
}

// push inserts at the tail. Caller holds mu.
func (b *Buffer) push(rec *models.LogRecord) {
	capacity := len(b.ring)
	if b.n < capacity {
		b.ring[(b.head+b.n)%capacity] = rec
		b.n++
		return
	}
	b.ring[b.head] = rec
	b.head = (b.head + 1) % capacity
	b.evicted++
}

// Snapshot returns the retained records in insertion order, limited to
// channel when it is non-empty.
func (b *Buffer) Snapshot(channel string) []*models.LogRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collect(channel, nil)
}

// collect walks the ring in order. Caller holds mu.
func (b *Buffer) collect(channel string, filter *RecordFilter) []*models.LogRecord {
	out := make([]*models.LogRecord, 0, b.n)
	capacity := len(b.ring)
	for i := 0; i < b.n; i++ {
		rec := b.ring[(b.head+i)%capacity]
		if channel != "" && rec.Channel != channel {
			continue
		}
		if !filter.Match(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Subscribe takes a snapshot and registers handler on the hub as one step,
// so the subscriber neither misses nor duplicates a record appended around
// the call.
func (b *Buffer) Subscribe(channel string, filter *RecordFilter, handler Handler) ([]*models.LogRecord, *Subscription) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	b.mu.RLock()
	snap := b.collect(channel, filter)
	b.mu.RUnlock()

	return snap, b.hub.Subscribe(channel, filter, handler)
}

// Clear removes the records of channel and publishes Cleared{channel}; the
// channel stays registered. An empty channel empties the buffer and resets
// the registry, which publishes Cleared{}.
func (b *Buffer) Clear(channel string) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	if channel == "" {
		b.mu.Lock()
		clear(b.ring)
		b.head, b.n = 0, 0
		b.mu.Unlock()
		b.registry.Reset()
		return
	}

	b.mu.Lock()
	kept := b.collect("", nil)
	clear(b.ring)
	b.head, b.n = 0, 0
	for _, rec := range kept {
		if rec.Channel != channel {
			b.push(rec)
		}
	}
	b.mu.Unlock()
	b.hub.Publish(Cleared{Channel: channel})
}

// Size returns the number of retained records, limited to channel when it is
// non-empty.
func (b *Buffer) Size(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if channel == "" {
		return b.n
	}
	return len(b.collect(channel, nil))
}

// Capacity returns the configured capacity, zero in broadcast-only mode.
func (b *Buffer) Capacity() int { return len(b.ring) }

// BroadcastOnly reports whether the buffer retains nothing.
func (b *Buffer) BroadcastOnly() bool { return b.broadcastOnly }

// Stats returns a point-in-time view of the buffer.
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mode := ModeBuffer
	if b.broadcastOnly {
		mode = ModeBroadcastOnly
	}
	return BufferStats{Mode: mode, Capacity: len(b.ring), Size: b.n, Evicted: b.evicted}
}
