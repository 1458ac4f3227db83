package handoffz

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// IDGenerator mints opaque identifiers for traces and spans.
// Implementations must be safe for concurrent use.
type IDGenerator interface {
	NewID() string
}

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() string) *IDPool {
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// NewID retrieves an ID from the pool or generates one if the pool is empty.
func (p *IDPool) NewID() string {
	select {
	case id := <-p.ids:
		return id
	default:
		// Burst load or closed pool.
		return p.factory()
	}
}

func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
		}
	}
}

// Close stops the background refill. Safe to call more than once.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// hexID returns a factory for random hex ids of size bytes.
// Falls back to a clock-derived id if crypto/rand fails.
func hexID(size int, clock clockz.Clock) func() string {
	return func() string {
		b := make([]byte, size)
		if _, err := rand.Read(b); err != nil {
			ts := []byte(clock.Now().Format(time.RFC3339Nano))
			copy(b, ts)
		}
		return hex.EncodeToString(b)
	}
}
