// Package handoffz carries a tracing span across execution-unit boundaries
// that do not share a call stack.
//
// handoffz focuses on the save/restore mechanics of span propagation: a
// producer's ambient span rides a message through a channel, is installed
// on whichever worker consumes it, and the worker's prior ambient span is
// put back once the handler returns, fails, or is cancelled. Work started
// by a timer gets a synthesized root span instead.
//
// Core Components:
//   - Unit: one execution unit (goroutine, worker) with a current-span slot.
//   - Carrier: a message wrapped together with the span it carries.
//   - Interceptor: the send/receive/handle/complete hooks channels call.
//   - Tracer: scope lifecycle, id generation and span completion handlers.
//   - Synthesizer: root-span synthesis around schedule-triggered work.
//
// Basic Usage:
//
//	tracer := handoffz.New()
//	defer tracer.Close()
//
//	interceptor := handoffz.NewInterceptor()
//	ch := handoffz.NewExecutorChannel("orders", interceptor, handoffz.DefaultExecutorConfig())
//	ch.Subscribe(func(ctx context.Context, msg handoffz.Message) error {
//		span := handoffz.GetSpan(ctx) // producer's span, installed on this worker
//		return process(ctx, msg.Payload())
//	})
//	ch.Start()
//	defer ch.Stop()
//
//	unit := handoffz.NewUnit("request")
//	ctx := handoffz.WithUnit(context.Background(), unit)
//	scope := tracer.StartSpan(unit, "handle-request", nil)
//	_ = ch.Send(ctx, handoffz.NewMessage(order, nil))
//	scope.Close()
//
// Thread Safety:
//
// A Unit belongs to one goroutine at a time and is not locked. Tracer,
// Interceptor, channels and Collector are safe for concurrent use.
//
// Channel Kinds:
//
// Every channel declares at construction whether delivery crosses an
// execution-unit boundary. Direct channels run the handler on the sender's
// own stack and are never wrapped.
package handoffz

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Carrier metadata keys.
const (
	HeaderTraceID  = "X-Trace-Id"
	HeaderSpanID   = "X-Span-Id"
	HeaderParentID = "X-Parent-Id"

	// HeaderTraceParent is the W3C trace context header.
	HeaderTraceParent = "traceparent"
)
