package core

import (
	"context"
	"log"
	"sync"
	"time"

	"logrelay/internal/idpool"
	"logrelay/internal/models"
)

// Service defaults
const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultSubscriberQueue   = 256
)

// Options configures a Service. Zero values take the defaults.
type Options struct {
	BufferCapacity int
	BroadcastOnly  bool

	IDPool idpool.Options

	MaxConnections        int
	MaxConnectionsPerAddr int
	StaleTimeout          time.Duration
	ReapInterval          time.Duration
	KeepAliveInterval     time.Duration

	// SubscriberQueue bounds each subscriber's pending events. A full queue
	// drops the event for that subscriber only.
	SubscriberQueue int
}

func (o *Options) setDefaults() {
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = DefaultStaleTimeout
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = DefaultReapInterval
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.SubscriberQueue <= 0 {
		o.SubscriberQueue = DefaultSubscriberQueue
	}
}

// Stats is the aggregate exposed to transports.
type Stats struct {
	Connections      ConnectionStats `json:"connections"`
	Channels         []string        `json:"channels"`
	Buffer           BufferStats     `json:"buffer"`
	IDPool           IDPoolStats     `json:"idPool"`
	Subscriptions    int             `json:"subscriptions"`
	DeliveryFailures int64           `json:"deliveryFailures"`
	StartedAt        time.Time       `json:"startedAt"`
}

// IDPoolStats reports id pool inventory.
type IDPoolStats struct {
	Available int   `json:"available"`
	Fallbacks int64 `json:"fallbacks"`
}

// SubscribeRequest describes a new subscriber.
type SubscribeRequest struct {
	// Channel limits delivery to one channel; empty means all channels.
	Channel string
	// Filter further narrows record delivery; nil matches everything.
	Filter *RecordFilter
	// RemoteAddr is the peer address used for admission.
	RemoteAddr string
}

// Service owns one relay instance: id pool, normalizer, channel registry,
// buffer, hub and connection table. Transports share it.
type Service struct {
	opts   Options
	logger *log.Logger

	ids        *idpool.Pool
	normalizer *Normalizer
	registry   *ChannelRegistry
	hub        *Hub
	buffer     *Buffer
	conns      *ConnectionManager
	startedAt  time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService builds a relay instance. Call Start to run the reaper and
// Close to shut it down.
func NewService(opts Options, l *log.Logger) *Service {
	opts.setDefaults()
	if l == nil {
		l = log.Default()
	}

	ids := idpool.New(opts.IDPool)
	hub := NewHub(l)
	registry := NewChannelRegistry(hub)

	return &Service{
		opts:        opts,
		logger:      l,
		ids:         ids,
		normalizer:  NewNormalizer(ids),
		registry:    registry,
		hub:         hub,
		buffer:      NewBuffer(opts.BufferCapacity, opts.BroadcastOnly, registry, hub),
		conns:       NewConnectionManager(opts.MaxConnections, opts.MaxConnectionsPerAddr),
		startedAt:   time.Now(),
		subscribers: make(map[string]*Subscriber),
	}
}

// Start runs the stale connection reaper until Close.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil || s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.conns.Run(ctx, s.opts.ReapInterval, s.opts.StaleTimeout, s.closeReaped)
	}()
	s.logger.Printf("Service: reaper started (interval %s, timeout %s)", s.opts.ReapInterval, s.opts.StaleTimeout)
}

func (s *Service) closeReaped(ids []string) {
	s.mu.Lock()
	reaped := make([]*Subscriber, 0, len(ids))
	for _, id := range ids {
		if sub, ok := s.subscribers[id]; ok {
			reaped = append(reaped, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range reaped {
		sub.Close()
	}
	s.logger.Printf("Service: reaped %d stale connection(s)", len(ids))
}

// Close stops the reaper, closes every subscriber and stops the id pool.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	for _, sub := range subs {
		sub.Close()
	}
	s.ids.Close()
	s.logger.Printf("Service: closed %d subscriber(s)", len(subs))
}

// Ingest normalizes raws into records on channel and appends them. A single
// record is appended on its own; several go in as one batch.
func (s *Service) Ingest(channel string, raws []map[string]any) []*models.LogRecord {
	if len(raws) == 0 {
		return nil
	}
	recs := make([]*models.LogRecord, len(raws))
	for i, raw := range raws {
		recs[i] = s.normalizer.Normalize(raw, channel)
	}
	if len(recs) == 1 {
		s.buffer.Append(recs[0])
	} else {
		s.buffer.AppendBatch(recs)
	}
	return recs
}

// Subscribe admits a subscriber and registers it for live events. The
// returned Subscriber is nil unless the verdict is Admitted. A closed
// service rejects every request with RejectedGlobalLimit.
func (s *Service) Subscribe(req SubscribeRequest) (*Subscriber, Admission) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, RejectedGlobalLimit
	}

	id, verdict := s.conns.Admit(req.Channel, req.RemoteAddr)
	if !verdict.OK() {
		return nil, verdict
	}

	sub := &Subscriber{
		ID:      id,
		Channel: req.Channel,
		svc:     s,
		events:  make(chan Event, s.opts.SubscriberQueue),
		done:    make(chan struct{}),
	}
	sub.Snapshot, sub.sub = s.buffer.Subscribe(req.Channel, req.Filter, sub.enqueue)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return nil, RejectedGlobalLimit
	}
	s.subscribers[id] = sub
	s.mu.Unlock()
	return sub, Admitted
}

// Snapshot returns the buffered records, limited to channel when non-empty.
func (s *Service) Snapshot(channel string) []*models.LogRecord {
	return s.buffer.Snapshot(channel)
}

// Clear removes the buffered records of channel, or everything when empty.
func (s *Service) Clear(channel string) {
	s.buffer.Clear(channel)
}

// ListChannels returns the known channel names, sorted.
func (s *Service) ListChannels() []string {
	return s.registry.List()
}

// KeepAliveInterval is how often transports should send an idle keep-alive.
func (s *Service) KeepAliveInterval() time.Duration {
	return s.opts.KeepAliveInterval
}

// BroadcastOnly reports whether the relay retains records.
func (s *Service) BroadcastOnly() bool {
	return s.buffer.BroadcastOnly()
}

// Stats returns a point-in-time aggregate of the relay.
func (s *Service) Stats() Stats {
	return Stats{
		Connections:      s.conns.Stats(),
		Channels:         s.registry.List(),
		Buffer:           s.buffer.Stats(),
		IDPool:           IDPoolStats{Available: s.ids.Len(), Fallbacks: s.ids.Fallbacks()},
		Subscriptions:    s.hub.Len(),
		DeliveryFailures: s.hub.Failures(),
		StartedAt:        s.startedAt,
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// Subscriber is one admitted live stream. The transport drains Events until
// Done is closed, reporting each write with Delivered or Dropped.
type Subscriber struct {
	ID      string
	Channel string
	// Snapshot holds the buffered records at subscribe time. It is empty in
	// broadcast-only mode.
	Snapshot []*models.LogRecord

	svc    *Service
	sub    *Subscription
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// enqueue is the hub handler. It never blocks: a full queue drops the event.
func (s *Subscriber) enqueue(ev Event) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.Dropped()
	}
	return nil
}

// Events returns the queue of pending events.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Done is closed once the subscriber is closed by the client, the reaper or
// shutdown.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Delivered accounts a successful write of n bytes.
func (s *Subscriber) Delivered(n int) { s.svc.conns.RecordDelivery(s.ID, n) }

// Dropped accounts an event that could not be delivered.
func (s *Subscriber) Dropped() { s.svc.conns.RecordDrop(s.ID) }

// Touch marks the connection alive, typically after a keep-alive write.
func (s *Subscriber) Touch() { s.svc.conns.Touch(s.ID) }

// Close unsubscribes from the hub and releases the connection. Safe to call
// from several goroutines; only the first call has an effect.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		s.svc.conns.Release(s.ID)
		s.svc.forget(s.ID)
		close(s.done)
	})
}
