package idpool

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterGenerator() (Generator, *atomic.Int64) {
	var n atomic.Int64
	return func() string { return "id-" + strconv.FormatInt(n.Add(1), 10) }, &n
}

func TestPoolFillsToTargetSize(t *testing.T) {
	gen, _ := counterGenerator()
	p := New(Options{PoolSize: 50, BatchSize: 10, RefillThreshold: 5, Generate: gen})
	defer p.Close()

	require.Eventually(t, func() bool { return p.Len() == 50 }, time.Second, time.Millisecond)
}

func TestTakeReturnsUniqueIDs(t *testing.T) {
	p := New(Options{PoolSize: 100, BatchSize: 20, RefillThreshold: 10})
	defer p.Close()

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := p.Take()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}

func TestTakeFallsBackWhenEmpty(t *testing.T) {
	gen, _ := counterGenerator()
	p := &Pool{opts: Options{PoolSize: 10, BatchSize: 10, RefillThreshold: 5, Generate: gen}}
	// A closed pool never refills, so every Take goes through the synchronous path.
	p.closed.Store(true)

	id := p.Take()
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(1), p.Fallbacks())
	assert.Equal(t, 0, p.Len())
}

func TestRefillTriggersBelowThreshold(t *testing.T) {
	gen, generated := counterGenerator()
	p := New(Options{PoolSize: 20, BatchSize: 5, RefillThreshold: 10, Generate: gen})
	defer p.Close()
	require.Eventually(t, func() bool { return p.Len() == 20 }, time.Second, time.Millisecond)

	before := generated.Load()
	for i := 0; i < 15; i++ {
		p.Take()
	}
	require.Eventually(t, func() bool { return p.Len() == 20 }, time.Second, time.Millisecond)
	assert.Equal(t, before+15, generated.Load(), "refill should replace exactly what was taken")
	assert.Equal(t, int64(0), p.Fallbacks())
}

func TestSingleRefillInFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	gen := func() string {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Microsecond)
		active.Add(-1)
		return UUID()
	}
	p := New(Options{PoolSize: 200, BatchSize: 50, RefillThreshold: 150, Generate: gen})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.triggerRefill()
			}
		}()
	}
	wg.Wait()
	p.Close()

	// Fallback generation in Take is not exercised here, so any overlap
	// would have come from concurrent refills.
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestGeneratorFor(t *testing.T) {
	assert.Len(t, GeneratorFor("ulid")(), 26)
	assert.Len(t, GeneratorFor("uuid")(), 36)
	assert.Len(t, GeneratorFor("")(), 36)
}
