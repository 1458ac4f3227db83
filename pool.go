package handoffz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// task runs on a pool worker with that worker's execution unit.
type task func(u *Unit)

// workerPool manages a fixed number of workers, each owning one Unit that
// is reused for every task it runs.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan task
	stop    chan struct{}
	dropped *atomic.Uint64
	units   []*Unit
	wg      sync.WaitGroup
	// senders counts enqueues in flight. shutdown waits for them before
	// closing stop, so no task lands after the workers drained.
	senders sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

func newWorkerPool(name string, workers, queueSize int, dropped *atomic.Uint64) (*workerPool, error) {
	if workers <= 0 {
		return nil, errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return nil, errors.New("queueSize must be > 0")
	}

	w := &workerPool{
		tasks:   make(chan task, queueSize),
		stop:    make(chan struct{}),
		dropped: dropped,
		units:   make([]*Unit, workers),
	}
	for i := range w.units {
		w.units[i] = NewUnit(fmt.Sprintf("%s-%d", name, i))
	}

	w.wg.Add(workers)
	for _, u := range w.units {
		go w.run(u)
	}
	return w, nil
}

func (w *workerPool) run(u *Unit) {
	defer w.wg.Done()
	for {
		select {
		case t := <-w.tasks:
			t(u)
		case <-w.stop:
			w.drain(u)
			return
		}
	}
}

// drain runs whatever was queued before stop.
func (w *workerPool) drain(u *Unit) {
	for {
		select {
		case t := <-w.tasks:
			t(u)
		default:
			return
		}
	}
}

// submit enqueues t, dropping it if the queue is full or the pool stopped.
func (w *workerPool) submit(t task) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.stopped {
		select {
		case w.tasks <- t:
			return
		default:
		}
	}
	if w.dropped != nil {
		w.dropped.Add(1)
	}
}

// submitWait enqueues t, blocking until there is room or ctx is done.
// A nil error means a worker will run t.
func (w *workerPool) submitWait(ctx context.Context, t task) error {
	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return ErrChannelClosed
	}
	w.senders.Add(1)
	w.mu.RUnlock()
	defer w.senders.Done()

	select {
	case w.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown refuses new tasks, waits for blocked senders while the workers
// keep consuming, then lets the workers run what is queued and exit.
func (w *workerPool) shutdown() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.senders.Wait()
	close(w.stop)
	w.wg.Wait()
}
