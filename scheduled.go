package handoffz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Invocation is a unit of schedule-triggered work.
type Invocation func(ctx context.Context) error

// Synthesizer wraps invocations that arrive with no propagated context.
// If the invoking unit already has an ambient span it is continued;
// otherwise a new root span is minted for the invocation and ended when it
// returns.
type Synthesizer struct {
	tracer *Tracer
}

// NewSynthesizer creates a synthesizer using tracer for ids, clock and scopes.
func NewSynthesizer(tracer *Tracer) *Synthesizer {
	return &Synthesizer{tracer: tracer}
}

// Invoke runs fn under a span named name on the unit bound to ctx (a
// fresh unit when there is none). fn's error is returned unchanged and a
// panic in fn continues after the scope is closed.
func (s *Synthesizer) Invoke(ctx context.Context, name Key, fn Invocation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u := UnitFromContext(ctx)
	if u == nil {
		u = NewUnit(name)
		ctx = WithUnit(ctx, u)
	}

	t := s.tracer
	var scope *Scope
	if t.IsTracing(u) {
		t.metrics.root(RootReused)
		scope = t.open(u, name, t.CurrentSpan(u), false)
	} else {
		t.metrics.root(RootSynthesized)
		root := &Span{
			TraceID: t.newTraceID(),
			SpanID:  t.newSpanID(),
			Name:    name,
			Begin:   t.clock.Now(),
		}
		scope = t.open(u, name, root, true)
	}

	start := t.clock.Now()
	defer func() {
		scope.Close()
		t.metrics.invoked(name, t.clock.Since(start).Seconds())
	}()
	return fn(ctx)
}

// Wrap returns fn instrumented by Invoke.
func (s *Synthesizer) Wrap(name Key, fn Invocation) Invocation {
	return func(ctx context.Context) error {
		return s.Invoke(ctx, name, fn)
	}
}

// job is one named invocation repeated at a fixed interval.
type job struct {
	fn       Invocation
	unit     *Unit
	name     Key
	interval time.Duration
}

// Scheduler runs jobs at fixed intervals on the tracer's clock. Each job
// runs on its own goroutine and keeps one Unit across runs, so every run
// starts from whatever the previous run left behind: nothing, if restores
// are correct.
type Scheduler struct {
	synth   *Synthesizer
	onError func(name Key, err error)
	stop    chan struct{}
	jobs    []*job
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler whose runs are wrapped by synth.
func NewScheduler(synth *Synthesizer) *Scheduler {
	return &Scheduler{synth: synth, stop: make(chan struct{})}
}

// Every registers fn to run every interval once the scheduler starts.
func (s *Scheduler) Every(name Key, interval time.Duration, fn Invocation) error {
	if fn == nil || interval <= 0 {
		return fmt.Errorf("%w: job %q needs a function and a positive interval", ErrInvalidArgument, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.jobs = append(s.jobs, &job{
		fn:       fn,
		unit:     NewUnit(name),
		name:     name,
		interval: interval,
	})
	return nil
}

// OnError registers a callback for errors returned by jobs.
func (s *Scheduler) OnError(fn func(name Key, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Start launches one goroutine per job. Runs see ctx bound to the job's unit.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	s.wg.Add(len(s.jobs))
	for _, j := range s.jobs {
		go s.loop(ctx, j)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	clock := s.synth.tracer.clock
	runCtx := WithUnit(ctx, j.unit)

	for {
		select {
		case <-clock.After(j.interval):
			s.run(runCtx, j)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err == nil {
			return
		}
		s.synth.tracer.logger.Error("scheduled job failed",
			zap.String("job", j.name), zap.Error(err))
		s.mu.Lock()
		fn := s.onError
		s.mu.Unlock()
		if fn != nil {
			fn(j.name, err)
		}
	}()
	err = s.synth.Invoke(ctx, j.name, j.fn)
}

// Stop signals every job loop and waits for running invocations to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Units returns each job's execution unit keyed by job name.
func (s *Scheduler) Units() map[Key]*Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := make(map[Key]*Unit, len(s.jobs))
	for _, j := range s.jobs {
		units[j.name] = j.unit
	}
	return units
}
