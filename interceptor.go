package handoffz

import (
	"go.uber.org/zap"
)

// Kind classifies how a channel delivers messages.
type Kind int

const (
	// KindDirect runs the handler synchronously on the sender's goroutine.
	KindDirect Kind = iota
	// KindQueue buffers messages until a consumer polls them.
	KindQueue
	// KindExecutor dispatches messages to a pool of worker goroutines.
	KindExecutor
)

// Crossing reports whether delivery crosses an execution-unit boundary.
func (k Kind) Crossing() bool {
	return k != KindDirect
}

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindQueue:
		return "queue"
	case KindExecutor:
		return "executor"
	default:
		return "unknown"
	}
}

// Channel is the part of a transport the interceptor needs to see.
// Kind must not change after construction.
type Channel interface {
	Name() string
	Kind() Kind
}

// HandoffState is the progress of one hand-off on one consuming unit.
type HandoffState int

const (
	// StateIdle means the carrier has not been installed on the unit,
	// or has already been restored.
	StateIdle HandoffState = iota
	// StateInstalled means the carried span is ambient and a previous
	// value is remembered for restore.
	StateInstalled
	// StateRestored is terminal: the previous value was written back and
	// the carrier is ignored by later receive hooks.
	StateRestored
)

// Interceptor implements the four hooks a channel calls around delivery.
// It holds no per-message state; remembrances live on the consuming Unit,
// keyed by carrier, so nested hand-offs on one unit restore in order.
// Safe for concurrent use.
type Interceptor struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewInterceptor creates an interceptor.
func NewInterceptor(opts ...Option) *Interceptor {
	o := newOptions(opts)
	return &Interceptor{logger: o.logger, metrics: o.metrics}
}

// PreSend runs on the producer's unit before msg enters ch. Messages on
// direct channels, and messages sent with no ambient span, pass through.
// Otherwise msg is wrapped in a Carrier holding the ambient span.
func (i *Interceptor) PreSend(u *Unit, ch Channel, msg Message) Message {
	if !ch.Kind().Crossing() {
		i.metrics.handoff(ch.Name(), OutcomeDirect)
		return msg
	}

	var span *Span
	if u != nil {
		span = u.Current()
	}
	if span == nil {
		i.metrics.handoff(ch.Name(), OutcomePassthrough)
		return msg
	}

	c, err := Wrap(msg, span)
	if err != nil {
		i.logger.Warn("message sent without trace context",
			zap.String("channel", ch.Name()), zap.Error(err))
		i.metrics.handoff(ch.Name(), OutcomePassthrough)
		return msg
	}

	i.metrics.handoff(ch.Name(), OutcomeWrapped)
	return c
}

// PostReceive runs on the consuming unit at the first opportunity after
// the boundary. A carrier's span becomes ambient and the unit's previous
// span is remembered. Calling it again for a carrier already installed on
// u is a no-op, so BeforeHandle can safely repeat it. A carrier whose
// hand-off already completed is not installed again.
func (i *Interceptor) PostReceive(u *Unit, ch Channel, msg Message) Message {
	c, ok := msg.(*Carrier)
	if !ok || u == nil {
		return msg
	}
	if c.restored.Load() || u.find(c) >= 0 {
		return msg
	}

	u.push(c, u.Current())
	i.metrics.installed()
	u.SetCurrent(c.span)

	if ce := i.logger.Check(zap.DebugLevel, "carried span installed"); ce != nil {
		ce.Write(append(spanFields(c.span),
			zap.String("channel", ch.Name()), zap.String("unit", u.Name()))...)
	}
	return msg
}

// BeforeHandle runs on the consuming unit right before the handler.
func (i *Interceptor) BeforeHandle(u *Unit, ch Channel, msg Message) Message {
	return i.PostReceive(u, ch, msg)
}

// AfterHandled runs on the consuming unit once the handler finished, with
// or without error. It puts back the span that was ambient before msg's
// carrier was installed. The handler error is neither inspected nor
// altered; callers return it themselves.
//
// If restoring fails the unit is cleared rather than left with a stale
// span.
func (i *Interceptor) AfterHandled(u *Unit, ch Channel, msg Message, _ error) {
	c, ok := msg.(*Carrier)
	if !ok || u == nil {
		return
	}
	idx := u.find(c)
	if idx < 0 {
		return
	}
	if nested := u.Pending() - 1 - idx; nested > 0 {
		i.logger.Warn("hand-off completed before nested hand-offs",
			zap.String("channel", ch.Name()),
			zap.String("unit", u.Name()),
			zap.Int("nested", nested))
	}

	h := u.popTo(idx)
	c.restored.Store(true)
	if err := restoreAmbient(u, h.previous); err != nil {
		i.logger.Warn("ambient span cleared",
			append(spanFields(c.span),
				zap.String("channel", ch.Name()),
				zap.String("unit", u.Name()),
				zap.Error(err))...)
		i.metrics.restored(false)
		return
	}
	i.metrics.restored(true)
}

// State reports where msg's hand-off stands as seen from u.
func (*Interceptor) State(u *Unit, msg Message) HandoffState {
	c, ok := msg.(*Carrier)
	switch {
	case !ok:
		return StateIdle
	case u != nil && u.find(c) >= 0:
		return StateInstalled
	case c.restored.Load():
		return StateRestored
	default:
		return StateIdle
	}
}
