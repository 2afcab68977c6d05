package idpool

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Default pool sizing
const (
	DefaultPoolSize        = 10000
	DefaultBatchSize       = 1000
	DefaultRefillThreshold = 1000
)

// Generator produces one unique identifier. It must be safe for concurrent use.
type Generator func() string

// UUID generates random (v4) UUID strings.
func UUID() string { return uuid.NewString() }

// ULID generates lexicographically sortable ULID strings.
func ULID() string { return ulid.Make().String() }

// GeneratorFor returns the generator for a configured id format.
// Unknown formats fall back to UUID.
func GeneratorFor(format string) Generator {
	switch format {
	case "ulid":
		return ULID
	default:
		return UUID
	}
}

// Options configures a Pool. Zero values take the package defaults.
type Options struct {
	PoolSize        int
	BatchSize       int
	RefillThreshold int
	Generate        Generator
}

func (o *Options) setDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RefillThreshold <= 0 {
		o.RefillThreshold = DefaultRefillThreshold
	}
	if o.RefillThreshold > o.PoolSize {
		o.RefillThreshold = o.PoolSize
	}
	if o.Generate == nil {
		o.Generate = UUID
	}
}

// Pool keeps an inventory of pre-generated ids so callers on the ingest path
// never pay for generation. Inventory is refilled by a single background
// goroutine whenever it drops below the refill threshold.
type Pool struct {
	opts Options

	mu  sync.Mutex
	ids []string

	refilling atomic.Bool
	closed    atomic.Bool
	fallbacks atomic.Int64
	wg        sync.WaitGroup
}

// New creates a Pool and starts the initial background fill.
func New(opts Options) *Pool {
	opts.setDefaults()
	p := &Pool{
		opts: opts,
		ids:  make([]string, 0, opts.PoolSize),
	}
	p.triggerRefill()
	return p
}

// Take returns an unused id. When the inventory is empty it generates one
// synchronously; it never fails and never waits on the refill.
func (p *Pool) Take() string {
	p.mu.Lock()
	n := len(p.ids)
	var id string
	if n > 0 {
		id = p.ids[n-1]
		p.ids[n-1] = ""
		p.ids = p.ids[:n-1]
		n--
	}
	p.mu.Unlock()

	if n < p.opts.RefillThreshold {
		p.triggerRefill()
	}
	if id == "" {
		p.fallbacks.Add(1)
		return p.opts.Generate()
	}
	return id
}

// Len reports the current inventory size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Fallbacks reports how many ids were generated synchronously because the
// inventory was empty.
func (p *Pool) Fallbacks() int64 {
	return p.fallbacks.Load()
}

// Close stops refilling and waits for an in-flight refill to finish.
// Take keeps working afterwards through the synchronous path.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.wg.Wait()
}

// triggerRefill starts a refill unless one is already running.
func (p *Pool) triggerRefill() {
	if p.closed.Load() {
		return
	}
	if !p.refilling.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.refill()
}

func (p *Pool) refill() {
	defer p.wg.Done()

	for !p.closed.Load() {
		p.mu.Lock()
		missing := p.opts.PoolSize - len(p.ids)
		p.mu.Unlock()
		if missing <= 0 {
			break
		}
		if missing > p.opts.BatchSize {
			missing = p.opts.BatchSize
		}

		// Generate outside the lock so Take never waits on a batch.
		batch := make([]string, missing)
		for i := range batch {
			batch[i] = p.opts.Generate()
		}

		p.mu.Lock()
		p.ids = append(p.ids, batch...)
		p.mu.Unlock()
	}

	p.refilling.Store(false)

	// Consumption may have crossed the threshold after the last check above.
	if p.Len() < p.opts.RefillThreshold {
		p.triggerRefill()
	}
}
