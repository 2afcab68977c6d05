package core

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedManager(maxTotal, maxPerAddr int) (*ConnectionManager, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewConnectionManager(maxTotal, maxPerAddr)
	m.now = clk.Now
	return m, clk
}

func TestAdmitGlobalLimit(t *testing.T) {
	m, _ := newClockedManager(2, 10)

	a, v := m.Admit("", "10.0.0.1:5000")
	require.Equal(t, Admitted, v)
	require.NotEmpty(t, a)
	_, v = m.Admit("", "10.0.0.2:5000")
	require.Equal(t, Admitted, v)

	id, v := m.Admit("", "10.0.0.3:5000")
	assert.Equal(t, RejectedGlobalLimit, v)
	assert.Empty(t, id)

	assert.True(t, m.Release(a))
	d, v := m.Admit("", "10.0.0.4:5000")
	assert.Equal(t, Admitted, v)
	assert.NotEmpty(t, d)
}

func TestAdmitPerAddressLimit(t *testing.T) {
	m, _ := newClockedManager(100, 3)

	for i := 0; i < 3; i++ {
		_, v := m.Admit("app", "192.168.1.9:"+strconv.Itoa(1000+i))
		require.Equal(t, Admitted, v)
	}
	_, v := m.Admit("app", "192.168.1.9:9999")
	assert.Equal(t, RejectedAddressLimit, v)

	_, v = m.Admit("app", "192.168.1.10:1000")
	assert.Equal(t, Admitted, v, "other addresses are unaffected")
}

func TestAdmitChecksGlobalFirst(t *testing.T) {
	m, _ := newClockedManager(1, 1)
	_, v := m.Admit("", "1.1.1.1:1")
	require.Equal(t, Admitted, v)

	_, v = m.Admit("", "1.1.1.1:2")
	assert.Equal(t, RejectedGlobalLimit, v)
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	m, _ := newClockedManager(0, 0)
	assert.False(t, m.Release("nope"))
	m.RecordDelivery("nope", 10)
	m.RecordDrop("nope")
	m.Touch("nope")
	assert.False(t, m.IsStale("nope", time.Second))
	assert.Equal(t, 0, m.Len())
}

func TestReleaseFreesAddressSlot(t *testing.T) {
	m, _ := newClockedManager(10, 1)
	id, v := m.Admit("", "[::1]:4000")
	require.Equal(t, Admitted, v)
	_, v = m.Admit("", "[::1]:4001")
	require.Equal(t, RejectedAddressLimit, v)

	m.Release(id)
	_, v = m.Admit("", "[::1]:4002")
	assert.Equal(t, Admitted, v)
}

func TestDeliveryAndDropAccounting(t *testing.T) {
	m, clk := newClockedManager(0, 0)
	id, _ := m.Admit("app-1", "10.0.0.1:1")
	start := clk.Now()

	clk.Advance(time.Minute)
	m.RecordDelivery(id, 120)
	m.RecordDelivery(id, 80)
	clk.Advance(time.Minute)
	m.RecordDrop(id)

	info, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(200), info.BytesSent)
	assert.Equal(t, uint64(2), info.MessagesSent)
	assert.Equal(t, uint64(1), info.MessagesDropped)
	assert.Equal(t, start.Add(time.Minute), info.LastActivity, "a drop does not refresh activity")
	assert.Equal(t, "10.0.0.1", info.Address)
}

func TestReapStale(t *testing.T) {
	m, clk := newClockedManager(0, 0)
	old, _ := m.Admit("", "10.0.0.1:1")
	fresh, _ := m.Admit("", "10.0.0.2:1")

	clk.Advance(2 * time.Hour)
	m.Touch(fresh)
	clk.Advance(time.Minute)

	assert.True(t, m.IsStale(old, time.Hour))
	assert.False(t, m.IsStale(fresh, time.Hour))

	reaped := m.ReapStale(time.Hour)
	assert.Equal(t, []string{old}, reaped)
	_, ok := m.Get(fresh)
	assert.True(t, ok)
	assert.Empty(t, m.ReapStale(time.Hour))
}

func TestRunReapsOnInterval(t *testing.T) {
	m, clk := newClockedManager(0, 0)
	id, _ := m.Admit("", "10.0.0.1:1")
	clk.Advance(time.Hour + time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	reapedCh := make(chan []string, 1)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond, time.Hour, func(ids []string) { reapedCh <- ids })
		close(done)
	}()

	select {
	case got := <-reapedCh:
		assert.Equal(t, []string{id}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}

func TestConnectionStats(t *testing.T) {
	m, clk := newClockedManager(0, 0)
	first := clk.Now()
	a, _ := m.Admit("app-1", "10.0.0.1:1")
	clk.Advance(time.Second)
	b, _ := m.Admit("app-1", "10.0.0.2:1")
	m.Admit("", "10.0.0.3:1")

	m.RecordDelivery(a, 10)
	m.RecordDelivery(b, 5)
	m.RecordDrop(b)

	st := m.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, map[string]int{"app-1": 2, AllChannelsKey: 1}, st.PerChannel)
	require.NotNil(t, st.OldestConnectedAt)
	assert.Equal(t, first, *st.OldestConnectedAt)
	assert.Equal(t, uint64(15), st.TotalBytes)
	assert.Equal(t, uint64(2), st.MessagesSent)
	assert.Equal(t, uint64(1), st.MessagesDropped)

	empty := NewConnectionManager(0, 0).Stats()
	assert.Nil(t, empty.OldestConnectedAt)
	assert.Equal(t, 0, empty.Total)
}

func TestConcurrentAdmitReleaseReap(t *testing.T) {
	m, _ := newClockedManager(50, 50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id, v := m.Admit("", "10.0.0.1:1")
				if v.OK() {
					m.RecordDelivery(id, 1)
					m.Release(id)
				}
				m.ReapStale(time.Hour)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.Stats().Total)
}

func TestSourceAddress(t *testing.T) {
	assert.Equal(t, "10.1.2.3", SourceAddress("10.1.2.3:5555"))
	assert.Equal(t, "::1", SourceAddress("[::1]:80"))
	assert.Equal(t, "bufconn", SourceAddress("bufconn"))
}
