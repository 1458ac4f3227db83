package handoffz

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes a delivered message. ctx is bound to the consuming unit,
// so GetSpan(ctx) returns the span the producer had ambient.
type Handler func(ctx context.Context, msg Message) error

// deliver runs h on u between the receive hooks and the completion hook.
// The completion hook runs on every exit path, including panics.
func deliver(ctx context.Context, u *Unit, ch Channel, i *Interceptor, msg Message, h Handler, received bool) (err error) {
	defer func() {
		i.AfterHandled(u, ch, msg, err)
	}()
	if received {
		msg = i.PostReceive(u, ch, msg)
	}
	msg = i.BeforeHandle(u, ch, msg)
	return h(ctx, msg)
}

// DirectChannel delivers synchronously on the sender's goroutine.
// Messages are never wrapped.
type DirectChannel struct {
	handler     Handler
	interceptor *Interceptor
	name        string
	mu          sync.RWMutex
}

// NewDirectChannel creates a direct channel.
func NewDirectChannel(name string, i *Interceptor) *DirectChannel {
	return &DirectChannel{name: name, interceptor: i}
}

// Name returns the channel name.
func (c *DirectChannel) Name() string { return c.name }

// Kind returns KindDirect.
func (*DirectChannel) Kind() Kind { return KindDirect }

// Subscribe sets the handler, replacing any previous one.
func (c *DirectChannel) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Send runs the handler inline and returns its error unchanged. The call
// stays on the sender's unit, so no receive or completion hook runs: a
// carrier the sender already has installed keeps its hand-off open.
func (c *DirectChannel) Send(ctx context.Context, msg Message) error {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return ErrNoSubscriber
	}
	if ctx == nil {
		ctx = context.Background()
	}

	msg = c.interceptor.PreSend(UnitFromContext(ctx), c, msg)
	return h(ctx, msg)
}

// QueueChannel buffers messages until a consumer polls them.
type QueueChannel struct {
	interceptor *Interceptor
	queue       chan Message
	done        chan struct{}
	name        string
	once        sync.Once
}

// NewQueueChannel creates a queue channel holding up to capacity messages.
func NewQueueChannel(name string, i *Interceptor, capacity int) *QueueChannel {
	return &QueueChannel{
		name:        name,
		interceptor: i,
		queue:       make(chan Message, capacity),
		done:        make(chan struct{}),
	}
}

// Name returns the channel name.
func (c *QueueChannel) Name() string { return c.name }

// Kind returns KindQueue.
func (*QueueChannel) Kind() Kind { return KindQueue }

// Len returns the number of queued messages.
func (c *QueueChannel) Len() int { return len(c.queue) }

// Send enqueues msg, blocking while the queue is full. A nil ctx is
// treated as context.Background().
func (c *QueueChannel) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	msg = c.interceptor.PreSend(UnitFromContext(ctx), c, msg)
	select {
	case c.queue <- msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll takes one message and runs h on the unit bound to ctx. A fresh unit
// is used when ctx carries none. Messages queued before Close can still be
// polled; after that Poll returns ErrChannelClosed.
func (c *QueueChannel) Poll(ctx context.Context, h Handler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u := UnitFromContext(ctx)
	if u == nil {
		u = NewUnit(c.name + "-poller")
		ctx = WithUnit(ctx, u)
	}

	var msg Message
	select {
	case msg = <-c.queue:
	default:
		select {
		case msg = <-c.queue:
		case <-c.done:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return deliver(ctx, u, c, c.interceptor, msg, h, true)
}

// Close stops accepting messages.
func (c *QueueChannel) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// ExecutorConfig sizes an ExecutorChannel's worker pool.
type ExecutorConfig struct {
	Workers   int
	QueueSize int
}

// DefaultExecutorConfig returns one worker per CPU and a 256 message queue.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:   runtime.NumCPU(),
		QueueSize: 256,
	}
}

// Validate checks the pool sizes.
func (c ExecutorConfig) Validate() error {
	if c.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if c.QueueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}
	return nil
}

// ExecutorChannel dispatches messages to a fixed pool of workers. Each
// worker keeps one Unit for its lifetime, so consecutive messages reuse
// the same execution unit.
//
//nolint:govet // Field order optimized for functionality over memory
type ExecutorChannel struct {
	handler     Handler
	onError     func(msg Message, err error)
	interceptor *Interceptor
	pool        *workerPool
	units       []*Unit
	cancel      context.CancelFunc
	base        context.Context
	name        string
	cfg         ExecutorConfig
	mu          sync.RWMutex
}

// NewExecutorChannel creates an executor channel. Call Start before Send.
func NewExecutorChannel(name string, i *Interceptor, cfg ExecutorConfig) *ExecutorChannel {
	return &ExecutorChannel{name: name, interceptor: i, cfg: cfg}
}

// Name returns the channel name.
func (c *ExecutorChannel) Name() string { return c.name }

// Kind returns KindExecutor.
func (*ExecutorChannel) Kind() Kind { return KindExecutor }

// Subscribe sets the handler, replacing any previous one.
func (c *ExecutorChannel) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// OnError registers a callback for handler errors. Errors are passed as
// returned; panics arrive wrapped in ErrHandlerPanic.
func (c *ExecutorChannel) OnError(fn func(msg Message, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Start launches the workers.
func (c *ExecutorChannel) Start() error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("executor channel %s: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return fmt.Errorf("executor channel %s: already started", c.name)
	}
	pool, err := newWorkerPool(c.name, c.cfg.Workers, c.cfg.QueueSize, nil)
	if err != nil {
		return err
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	c.pool = pool
	c.units = pool.units
	return nil
}

// Send hands msg to the pool, blocking while the queue is full. A nil ctx
// is treated as context.Background().
func (c *ExecutorChannel) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.RLock()
	pool, h := c.pool, c.handler
	c.mu.RUnlock()
	if pool == nil {
		return ErrChannelClosed
	}
	if h == nil {
		return ErrNoSubscriber
	}

	msg = c.interceptor.PreSend(UnitFromContext(ctx), c, msg)
	return pool.submitWait(ctx, func(u *Unit) {
		c.dispatch(u, msg, h)
	})
}

func (c *ExecutorChannel) dispatch(u *Unit, msg Message, h Handler) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			c.report(u, msg, err)
		}
	}()
	err = deliver(WithUnit(c.base, u), u, c, c.interceptor, msg, h, false)
}

func (c *ExecutorChannel) report(u *Unit, msg Message, err error) {
	c.interceptor.logger.Error("handler failed",
		zap.String("channel", c.name), zap.String("unit", u.Name()), zap.Error(err))

	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()
	if fn != nil {
		fn(msg, err)
	}
}

// Stop cancels in-flight handlers' context, runs what is still queued and
// waits for the workers to exit.
func (c *ExecutorChannel) Stop() {
	c.mu.Lock()
	pool, cancel := c.pool, c.cancel
	c.pool = nil
	c.mu.Unlock()

	if pool == nil {
		return
	}
	cancel()
	pool.shutdown()
}

// Units returns the workers' execution units, which outlive Stop. Only
// inspect them while the channel is idle or stopped.
func (c *ExecutorChannel) Units() []*Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Unit(nil), c.units...)
}
