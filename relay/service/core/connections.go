package core

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection defaults
const (
	DefaultMaxConnections        = 1000
	DefaultMaxConnectionsPerAddr = 10
	DefaultStaleTimeout          = time.Hour
	DefaultReapInterval          = 60 * time.Second
)

// AllChannelsKey is the stats key for subscribers without a channel filter.
const AllChannelsKey = "*"

// Admission is the outcome of an admission check. Rejection is a normal
// result, not an error.
type Admission int

const (
	Admitted Admission = iota
	RejectedGlobalLimit
	RejectedAddressLimit
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case RejectedGlobalLimit:
		return "rejected: connection limit reached"
	case RejectedAddressLimit:
		return "rejected: per-address connection limit reached"
	default:
		return "unknown"
	}
}

// OK reports whether the connection was admitted.
func (a Admission) OK() bool { return a == Admitted }

// ConnectionInfo is a copy of one connection record.
type ConnectionInfo struct {
	ID              string    `json:"id"`
	Channel         string    `json:"channel"`
	Address         string    `json:"address"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastActivity    time.Time `json:"lastActivity"`
	BytesSent       uint64    `json:"bytesSent"`
	MessagesSent    uint64    `json:"messagesSent"`
	MessagesDropped uint64    `json:"messagesDropped"`
}

// ConnectionStats aggregates the connection table at one point in time.
type ConnectionStats struct {
	Total             int            `json:"total"`
	PerChannel        map[string]int `json:"perChannel"`
	OldestConnectedAt *time.Time     `json:"oldestConnectedAt,omitempty"`
	TotalBytes        uint64         `json:"totalBytes"`
	MessagesSent      uint64         `json:"messagesSent"`
	MessagesDropped   uint64         `json:"messagesDropped"`
}

// ConnectionManager admits subscribers against global and per-address
// quotas and keeps per-connection accounting. All table mutations are
// serialized by one mutex.
type ConnectionManager struct {
	maxTotal   int
	maxPerAddr int
	now        func() time.Time

	mu     sync.Mutex
	conns  map[string]*ConnectionInfo
	byAddr map[string]int
}

// NewConnectionManager creates a manager. Limits of zero or less take the
// defaults.
func NewConnectionManager(maxTotal, maxPerAddr int) *ConnectionManager {
	if maxTotal <= 0 {
		maxTotal = DefaultMaxConnections
	}
	if maxPerAddr <= 0 {
		maxPerAddr = DefaultMaxConnectionsPerAddr
	}
	return &ConnectionManager{
		maxTotal:   maxTotal,
		maxPerAddr: maxPerAddr,
		now:        time.Now,
		conns:      make(map[string]*ConnectionInfo),
		byAddr:     make(map[string]int),
	}
}

// SourceAddress reduces a remote address to its host part, so every port of
// one client counts against the same quota.
func SourceAddress(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// Admit checks the global limit, then the per-address limit, and on success
// creates a connection record. The id is empty unless admitted.
func (m *ConnectionManager) Admit(channel, remoteAddr string) (string, Admission) {
	addr := SourceAddress(remoteAddr)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.conns) >= m.maxTotal {
		return "", RejectedGlobalLimit
	}
	if m.byAddr[addr] >= m.maxPerAddr {
		return "", RejectedAddressLimit
	}

	now := m.now()
	id := uuid.NewString()
	m.conns[id] = &ConnectionInfo{
		ID:           id,
		Channel:      channel,
		Address:      addr,
		ConnectedAt:  now,
		LastActivity: now,
	}
	m.byAddr[addr]++
	return id, Admitted
}

// Release removes a connection and reports whether it existed.
func (m *ConnectionManager) Release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(id)
}

// remove deletes id. Caller holds mu.
func (m *ConnectionManager) remove(id string) bool {
	c, ok := m.conns[id]
	if !ok {
		return false
	}
	delete(m.conns, id)
	if m.byAddr[c.Address] <= 1 {
		delete(m.byAddr, c.Address)
	} else {
		m.byAddr[c.Address]--
	}
	return true
}

// RecordDelivery accounts one delivered message of n bytes.
func (m *ConnectionManager) RecordDelivery(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.BytesSent += uint64(n)
		c.MessagesSent++
		c.LastActivity = m.now()
	}
}

// RecordDrop accounts one dropped message. A drop says nothing about client
// liveness, so activity is not refreshed.
func (m *ConnectionManager) RecordDrop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.MessagesDropped++
	}
}

// Touch refreshes the activity time without traffic.
func (m *ConnectionManager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		c.LastActivity = m.now()
	}
}

// Get returns a copy of one connection record.
func (m *ConnectionManager) Get(id string) (ConnectionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return *c, true
}

// Len returns the number of live connections.
func (m *ConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// IsStale reports whether id has been inactive for longer than timeout.
// Unknown ids are not stale.
func (m *ConnectionManager) IsStale(id string, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return ok && m.now().Sub(c.LastActivity) > timeout
}

// ReapStale removes every connection inactive for longer than timeout and
// returns their ids.
func (m *ConnectionManager) ReapStale(timeout time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var reaped []string
	for id, c := range m.conns {
		if now.Sub(c.LastActivity) > timeout {
			reaped = append(reaped, id)
		}
	}
	for _, id := range reaped {
		m.remove(id)
	}
	return reaped
}

// Run reaps stale connections every interval until ctx is done. onReap, if
// set, is called with the removed ids outside the table lock.
func (m *ConnectionManager) Run(ctx context.Context, interval, timeout time.Duration, onReap func(ids []string)) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := m.ReapStale(timeout); len(reaped) > 0 && onReap != nil {
				onReap(reaped)
			}
		}
	}
}

// Stats aggregates the table.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ConnectionStats{Total: len(m.conns), PerChannel: make(map[string]int)}
	for _, c := range m.conns {
		key := c.Channel
		if key == "" {
			key = AllChannelsKey
		}
		st.PerChannel[key]++
		st.TotalBytes += c.BytesSent
		st.MessagesSent += c.MessagesSent
		st.MessagesDropped += c.MessagesDropped
		if st.OldestConnectedAt == nil || c.ConnectedAt.Before(*st.OldestConnectedAt) {
			t := c.ConnectedAt
			st.OldestConnectedAt = &t
		}
	}
	return st
}
