package core

import (
	"sort"
	"sync"

	"logrelay/internal/models"
)

// Publisher receives events. *Hub is the production implementation.
type Publisher interface {
	Publish(ev Event)
}

// ChannelRegistry is the single source of truth for known channel names.
// Each entry remembers the generation at which it was first seen.
type ChannelRegistry struct {
	mu       sync.Mutex
	channels map[string]uint64
	gen      uint64
	pub      Publisher
}

// NewChannelRegistry returns a registry holding only the default channel.
// pub may be nil.
func NewChannelRegistry(pub Publisher) *ChannelRegistry {
	r := &ChannelRegistry{pub: pub}
	r.channels = map[string]uint64{models.DefaultChannel: 0}
	return r
}

// Ensure registers channel if it is new and reports whether it was added.
// ChannelAdded is published exactly once per name between resets.
func (r *ChannelRegistry) Ensure(channel string) bool {
	if channel == "" {
		channel = models.DefaultChannel
	}

	r.mu.Lock()
	if _, ok := r.channels[channel]; ok {
		r.mu.Unlock()
		return false
	}
	r.gen++
	r.channels[channel] = r.gen
	// Publishing under the lock keeps announcements in registration order.
	if r.pub != nil {
		r.pub.Publish(ChannelAdded{Channel: channel})
	}
	r.mu.Unlock()
	return true
}

// Has reports whether channel is known.
func (r *ChannelRegistry) Has(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[channel]
	return ok
}

// KnownSince returns the generation at which channel was registered.
func (r *ChannelRegistry) KnownSince(channel string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.channels[channel]
	return g, ok
}

// List returns the known channel names, sorted.
func (r *ChannelRegistry) List() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len returns the number of known channels.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Reset drops every channel except the default one and publishes Cleared{}.
func (r *ChannelRegistry) Reset() {
	r.mu.Lock()
	r.gen++
	r.channels = map[string]uint64{models.DefaultChannel: r.gen}
	if r.pub != nil {
		r.pub.Publish(Cleared{})
	}
	r.mu.Unlock()
}
