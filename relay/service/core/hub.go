package core

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"logrelay/internal/models"
)

// Handler receives events for one subscription. It runs on the publisher's
// goroutine, so it must not block: transports hand events to their own
// queue and return.
type Handler func(ev Event) error

// Hub fans events out to subscriptions, applying each subscription's
// channel scope and record predicate.
type Hub struct {
	logger *log.Logger

	mu   sync.RWMutex
	subs map[uint64]*Subscription
	next uint64

	failures atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(l *log.Logger) *Hub {
	if l == nil {
		l = log.Default()
	}
	return &Hub{logger: l, subs: make(map[uint64]*Subscription)}
}

// Subscription is one registration on the hub.
type Subscription struct {
	hub     *Hub
	id      uint64
	channel string
	filter  *RecordFilter
	handler Handler
	once    sync.Once
}

// Subscribe registers handler. An empty channel subscribes to every channel;
// filter may be nil.
func (h *Hub) Subscribe(channel string, filter *RecordFilter, handler Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{hub: h, id: h.next, channel: channel, filter: filter, handler: handler}
	h.subs[s.id] = s
	return s
}

// Unsubscribe removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}

// Channel returns the subscription's channel scope, "" for all channels.
func (s *Subscription) Channel() string { return s.channel }

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Failures returns how many handler calls returned an error or panicked.
func (h *Hub) Failures() int64 {
	return h.failures.Load()
}

// Publish delivers ev to every subscription that should see it, in
// subscription order. Handler failures are counted and never reach the
// caller or other subscriptions.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	for _, s := range targets {
		if scoped, ok := s.view(ev); ok {
			h.deliver(s, scoped)
		}
	}
}

func (h *Hub) deliver(s *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.failures.Add(1)
			h.logger.Printf("Hub: subscriber %d handler panicked: %v", s.id, r)
		}
	}()
	if err := s.handler(ev); err != nil {
		h.failures.Add(1)
	}
}

// view returns the part of ev this subscription should receive.
func (s *Subscription) view(ev Event) (Event, bool) {
	switch e := ev.(type) {
	case RecordAppended:
		return e, s.wants(e.Record)
	case BatchAppended:
		var subset []*models.LogRecord
		for _, rec := range e.Records {
			if s.wants(rec) {
				subset = append(subset, rec)
			}
		}
		if len(subset) == 0 {
			return nil, false
		}
		if len(subset) == len(e.Records) {
			return e, true
		}
		return BatchAppended{Records: subset}, true
	case ChannelAdded:
		return e, true
	case Cleared:
		return e, s.channel == "" || e.Channel == "" || e.Channel == s.channel
	default:
		return nil, false
	}
}

func (s *Subscription) wants(rec *models.LogRecord) bool {
	if s.channel != "" && rec.Channel != s.channel {
		return false
	}
	return s.filter.Match(rec)
}
