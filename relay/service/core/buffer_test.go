package core

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logrelay/internal/models"
)

func newTestBuffer(capacity int, broadcastOnly bool) (*Buffer, *ChannelRegistry, *Hub) {
	hub := NewHub(quietLogger)
	reg := NewChannelRegistry(hub)
	return NewBuffer(capacity, broadcastOnly, reg, hub), reg, hub
}

func ids(recs []*models.LogRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	b, reg, _ := newTestBuffer(3, false)

	for _, id := range []string{"A", "B", "C", "D"} {
		b.Append(rec(id, "app-1"))
	}
	assert.Equal(t, []string{"B", "C", "D"}, ids(b.Snapshot("")))

	b.Clear("")
	assert.Empty(t, b.Snapshot(""))
	assert.Equal(t, []string{models.DefaultChannel}, reg.List())
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	const capacity = 7
	b, _, _ := newTestBuffer(capacity, false)
	r := rand.New(rand.NewSource(1))

	var appended []string
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("r%d", i)
		appended = append(appended, id)
		b.Append(rec(id, fmt.Sprintf("ch-%d", r.Intn(3))))

		snap := ids(b.Snapshot(""))
		require.LessOrEqual(t, len(snap), capacity)
		start := len(appended) - capacity
		if start < 0 {
			start = 0
		}
		require.Equal(t, appended[start:], snap)
	}
	assert.Equal(t, uint64(200-capacity), b.Stats().Evicted)
}

func TestBufferBatchLargerThanCapacity(t *testing.T) {
	b, _, _ := newTestBuffer(3, false)

	var batch []*models.LogRecord
	for i := 1; i <= 5; i++ {
		batch = append(batch, rec(fmt.Sprintf("r%d", i), "x"))
	}
	b.AppendBatch(batch)

	assert.Equal(t, []string{"r3", "r4", "r5"}, ids(b.Snapshot("")))
	assert.Equal(t, 3, b.Size(""))
}

func TestBufferBatchMixesWithExisting(t *testing.T) {
	b, _, _ := newTestBuffer(4, false)
	b.Append(rec("a", "x"))
	b.Append(rec("b", "x"))

	b.AppendBatch([]*models.LogRecord{rec("c", "y"), rec("d", "y"), rec("e", "y")})

	assert.Equal(t, []string{"b", "c", "d", "e"}, ids(b.Snapshot("")))
	assert.Equal(t, []string{"c", "d", "e"}, ids(b.Snapshot("y")))
}

func TestBufferBatchPublishesOnce(t *testing.T) {
	b, _, hub := newTestBuffer(10, false)
	var c collector
	hub.Subscribe("", nil, c.handle)

	b.AppendBatch([]*models.LogRecord{rec("1", "p"), rec("2", "q"), rec("3", "p")})

	got := c.all()
	// Two new channels, then the batch.
	require.Len(t, got, 3)
	assert.Equal(t, ChannelAdded{Channel: "p"}, got[0])
	assert.Equal(t, ChannelAdded{Channel: "q"}, got[1])
	assert.Equal(t, []string{"1", "2", "3"}, ids(got[2].(BatchAppended).Records))
}

func TestBufferAppendRegistersChannel(t *testing.T) {
	b, reg, hub := newTestBuffer(10, false)
	var c collector
	hub.Subscribe("", nil, c.handle)

	b.Append(rec("a", "new"))
	b.Append(rec("b", "new"))

	assert.True(t, reg.Has("new"))
	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, ChannelAdded{Channel: "new"}, got[0])
	assert.IsType(t, RecordAppended{}, got[1])
	assert.IsType(t, RecordAppended{}, got[2])
}

func TestBufferClearChannel(t *testing.T) {
	b, reg, hub := newTestBuffer(10, false)
	b.Append(rec("a", "x"))
	b.Append(rec("b", "y"))
	b.Append(rec("c", "x"))

	var c collector
	hub.Subscribe("", nil, c.handle)
	b.Clear("x")

	assert.Equal(t, []string{"b"}, ids(b.Snapshot("")))
	assert.Equal(t, 0, b.Size("x"))
	assert.True(t, reg.Has("x"), "clearing a channel keeps it registered")
	assert.Equal(t, []Event{Cleared{Channel: "x"}}, c.all())

	// Ring still works after the rebuild.
	for _, id := range []string{"d", "e", "f"} {
		b.Append(rec(id, "y"))
	}
	assert.Equal(t, []string{"b", "d", "e", "f"}, ids(b.Snapshot("")))
}

func TestBufferClearAllPublishesOnce(t *testing.T) {
	b, _, hub := newTestBuffer(10, false)
	b.Append(rec("a", "x"))

	var c collector
	hub.Subscribe("", nil, c.handle)
	b.Clear("")

	assert.Equal(t, []Event{Cleared{}}, c.all())
}

func TestBufferBroadcastOnly(t *testing.T) {
	b, _, hub := newTestBuffer(10, true)
	var c collector
	hub.Subscribe("", nil, c.handle)

	b.Append(rec("a", models.DefaultChannel))
	b.AppendBatch([]*models.LogRecord{rec("b", models.DefaultChannel)})

	assert.Empty(t, b.Snapshot(""))
	assert.Equal(t, 0, b.Size(""))
	assert.True(t, b.BroadcastOnly())
	assert.Equal(t, ModeBroadcastOnly, b.Stats().Mode)
	assert.Len(t, c.all(), 2)
}

func TestBufferSubscribeNoGapNoDuplicate(t *testing.T) {
	b, _, _ := newTestBuffer(100000, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			b.Append(rec(fmt.Sprintf("r%05d", i), "x"))
		}
	}()

	var c collector
	snap, sub := b.Subscribe("x", nil, c.handle)
	wg.Wait()
	sub.Unsubscribe()

	seen := ids(snap)
	for _, ev := range c.all() {
		seen = append(seen, ev.(RecordAppended).Record.ID)
	}
	require.Len(t, seen, 2000)
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("r%05d", i), id)
	}
}

func TestBufferFilterIsolation(t *testing.T) {
	b, _, _ := newTestBuffer(100, false)
	var c collector
	_, sub := b.Subscribe("app-1", nil, c.handle)
	defer sub.Unsubscribe()

	b.Append(rec("one", "app-1"))
	b.Append(rec("two", "app-2"))

	var records []string
	for _, ev := range c.all() {
		if ra, ok := ev.(RecordAppended); ok {
			records = append(records, ra.Record.ID)
		}
	}
	assert.Equal(t, []string{"one"}, records)
}

func TestBufferConcurrentProducersNeverCrossChannels(t *testing.T) {
	b, _, _ := newTestBuffer(50, false)
	var c collector
	_, sub := b.Subscribe("app-1", nil, c.handle)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ch := "app-1"
				if (p+i)%2 == 0 {
					ch = "app-2"
				}
				if i%10 == 0 {
					b.AppendBatch([]*models.LogRecord{rec("b", ch), rec("b", "app-2")})
					continue
				}
				b.Append(rec("r", ch))
			}
		}(p)
	}
	wg.Wait()

	for _, ev := range c.all() {
		switch e := ev.(type) {
		case RecordAppended:
			assert.Equal(t, "app-1", e.Record.Channel)
		case BatchAppended:
			for _, r := range e.Records {
				assert.Equal(t, "app-1", r.Channel)
			}
		}
	}
}
