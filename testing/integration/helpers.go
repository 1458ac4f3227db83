package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/handoffz"
)

// Observation is what a handler saw while running.
type Observation struct {
	Span    *handoffz.Span
	Payload any
	Unit    string
}

// Recorder collects handler observations from many goroutines.
//
//nolint:govet // Field alignment optimized for test helper readability
type Recorder struct {
	seen []Observation
	t    *testing.T
	mu   sync.Mutex
	cond *sync.Cond
}

// NewRecorder creates an empty recorder.
func NewRecorder(t *testing.T) *Recorder {
	r := &Recorder{t: t}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Handler returns a handoffz.Handler that records what it sees.
func (r *Recorder) Handler() handoffz.Handler {
	return func(ctx context.Context, msg handoffz.Message) error {
		obs := Observation{Span: handoffz.GetSpan(ctx), Payload: msg.Payload()}
		if u := handoffz.UnitFromContext(ctx); u != nil {
			obs.Unit = u.Name()
		}
		r.Record(obs)
		return nil
	}
}

// Record appends an observation.
func (r *Recorder) Record(obs Observation) {
	r.mu.Lock()
	r.seen = append(r.seen, obs)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// WaitFor blocks until n observations were recorded or timeout passes.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []Observation {
	r.t.Helper()

	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.seen) < n {
		if time.Now().After(deadline) {
			r.t.Fatalf("Timed out: expected %d observations, got %d", n, len(r.seen))
		}
		r.cond.Wait()
	}
	out := make([]Observation, len(r.seen))
	copy(out, r.seen)
	return out
}

// ProducerContext returns a context bound to a fresh unit with span ambient.
func ProducerContext(name string, span *handoffz.Span) (context.Context, *handoffz.Unit) {
	u := handoffz.NewUnit(name)
	u.SetCurrent(span)
	return handoffz.WithUnit(context.Background(), u), u
}

// AssertClean fails if any unit still has an ambient span or pending hand-off.
func AssertClean(t *testing.T, units ...*handoffz.Unit) {
	t.Helper()
	for _, u := range units {
		if u.Current() != nil {
			t.Errorf("Unit %s leaked span %s", u.Name(), u.Current().SpanID)
		}
		if u.Pending() != 0 {
			t.Errorf("Unit %s has %d pending hand-offs", u.Name(), u.Pending())
		}
	}
}
