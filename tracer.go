package handoffz

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SpanHandler is called when a span created by a scope completes.
type SpanHandler func(span Span)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Tracer manages scope lifecycle, id generation and completion handlers.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	traceIDs     IDGenerator
	spanIDs      IDGenerator
	pools        []*IDPool
	clock        clockz.Clock
	logger       *zap.Logger
	metrics      *Metrics
	handlersLock sync.RWMutex
	idPoolOnce   sync.Once
	nextID       atomic.Uint64
	droppedSpans atomic.Uint64
}

// New creates a new tracer.
// Uses the real clock and pooled crypto/rand ids unless overridden.
func New(opts ...Option) *Tracer {
	o := newOptions(opts)
	return &Tracer{
		handlers: make([]handlerEntry, 0),
		traceIDs: o.traceIDs,
		spanIDs:  o.spanIDs,
		clock:    o.clock,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// ensureIDPools initializes ID pools if no generator was injected.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		if t.traceIDs != nil && t.spanIDs != nil {
			return
		}
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		traceIDs := NewIDPool(poolSize, hexID(16, t.clock))
		spanIDs := NewIDPool(poolSize, hexID(8, t.clock))
		t.traceIDs, t.spanIDs = traceIDs, spanIDs
		t.pools = append(t.pools, traceIDs, spanIDs)
	})
}

func (t *Tracer) newTraceID() string {
	t.ensureIDPools()
	return t.traceIDs.NewID()
}

func (t *Tracer) newSpanID() string {
	t.ensureIDPools()
	return t.spanIDs.NewID()
}

// IsTracing reports whether u has an ambient span.
func (*Tracer) IsTracing(u *Unit) bool {
	return u != nil && u.Current() != nil
}

// CurrentSpan returns u's ambient span, or nil.
func (*Tracer) CurrentSpan(u *Unit) *Span {
	if u == nil {
		return nil
	}
	return u.Current()
}

// StartSpan makes a span ambient on u and returns the scope that undoes it.
//
// With a nil span a new one named name is created: a child of u's ambient
// span if there is one, a root otherwise. The scope owns that span and
// ends it on Close. A non-nil span is continued as-is and never ended by
// the scope.
func (t *Tracer) StartSpan(u *Unit, name Key, span *Span) *Scope {
	if u == nil {
		u = NewUnit(name)
	}
	if span != nil {
		return t.open(u, name, span, false)
	}

	span = &Span{
		SpanID: t.newSpanID(),
		Name:   name,
		Begin:  t.clock.Now(),
	}
	if parent := u.Current(); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentIDs = []string{parent.SpanID}
	} else {
		span.TraceID = t.newTraceID()
	}
	return t.open(u, name, span, true)
}

// CloseScope ends scope. Equivalent to scope.Close().
func (*Tracer) CloseScope(scope *Scope) {
	if scope != nil {
		scope.Close()
	}
}

// open installs span on u. If installing panics, u is put back before the
// panic continues.
func (t *Tracer) open(u *Unit, name Key, span *Span, owned bool) *Scope {
	s := &Scope{
		span:     span,
		tracer:   t,
		unit:     u,
		previous: u.Current(),
		name:     name,
		owned:    owned,
	}

	installed := false
	defer func() {
		if !installed {
			_ = restoreAmbient(u, s.previous)
		}
	}()
	u.SetCurrent(span)
	installed = true

	if ce := t.logger.Check(zap.DebugLevel, "scope opened"); ce != nil {
		ce.Write(append(spanFields(span), zap.String("name", name), zap.Bool("owned", owned))...)
	}
	return s
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// executeHandlers calls all registered handlers with the completed span.
func (t *Tracer) executeHandlers(span Span) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, span)
			continue
		}
		entry := h
		if workers != nil {
			workers.submit(func(*Unit) {
				t.safeCall(entry, span)
			})
		} else {
			go t.safeCall(entry, span)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, span Span) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}
	pool, err := newWorkerPool("span-handler", workers, queueSize, &t.droppedSpans)
	if err != nil {
		return err
	}
	t.workers = pool
	return nil
}

// DroppedSpans returns the number of spans dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close shuts down the tracer gracefully and cleans up resources.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async tasks.
	if workers != nil {
		workers.shutdown()
	}

	for _, p := range t.pools {
		p.Close()
	}
}
