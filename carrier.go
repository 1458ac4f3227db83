package handoffz

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Headers is the key/value metadata a channel transports next to a payload.
type Headers map[string]string

// Message is what a channel moves: a payload plus metadata.
type Message interface {
	Payload() any
	Headers() Headers
}

// GenericMessage is the plain Message implementation.
type GenericMessage struct {
	payload any
	headers Headers
}

// NewMessage creates a message. The headers map is copied.
func NewMessage(payload any, headers Headers) *GenericMessage {
	h := make(Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &GenericMessage{payload: payload, headers: h}
}

// Payload returns the message body.
func (m *GenericMessage) Payload() any {
	if m == nil {
		return nil
	}
	return m.payload
}

// Headers returns the message metadata.
func (m *GenericMessage) Headers() Headers {
	if m == nil {
		return nil
	}
	return m.headers
}

// Carrier wraps a message together with the span captured at send time.
// Carriers are transient: built by PreSend, consumed by the receive hooks.
// One carrier is one hand-off; once restored it is never installed again.
type Carrier struct {
	message  Message
	span     *Span
	headers  Headers
	restored atomic.Bool
}

// Wrap builds a carrier for msg and span. Both must be present; a missing
// span is represented by not wrapping at all.
//
// The carrier's headers start as a copy of msg's headers. Trace keys are
// only added when absent, so metadata already on the message wins.
func Wrap(msg Message, span *Span) (*Carrier, error) {
	if msg == nil || msg.Payload() == nil {
		return nil, fmt.Errorf("%w: message payload is nil", ErrInvalidArgument)
	}
	if span == nil {
		return nil, fmt.Errorf("%w: span is nil", ErrInvalidArgument)
	}

	// Re-wrapping keeps the original payload message, but the headers come
	// from the outer carrier so earlier trace metadata is kept.
	src := msg.Headers()
	if c, ok := msg.(*Carrier); ok {
		msg = c.message
	}

	headers := make(Headers, len(src)+4)
	for k, v := range src {
		headers[k] = v
	}

	setIfAbsent(headers, HeaderSpanID, span.SpanID)
	setIfAbsent(headers, HeaderTraceID, span.TraceID)
	if parent := span.ParentID(); parent != "" {
		setIfAbsent(headers, HeaderParentID, parent)
	}
	injectTraceParent(headers, span)

	return &Carrier{message: msg, span: span, headers: headers}, nil
}

// Unwrap returns the original message and the carried span.
func Unwrap(c *Carrier) (Message, *Span) {
	return c.message, c.span
}

// Payload returns the original payload unchanged.
func (c *Carrier) Payload() any {
	return c.message.Payload()
}

// Headers returns the original headers plus trace metadata.
func (c *Carrier) Headers() Headers {
	return c.headers
}

// Span returns the carried span.
func (c *Carrier) Span() *Span {
	return c.span
}

func (c *Carrier) String() string {
	return fmt.Sprintf("Carrier{payload=%v, trace=%s, span=%s}", c.Payload(), c.span.TraceID, c.span.SpanID)
}

func setIfAbsent(h Headers, key, value string) {
	if _, ok := h[key]; !ok {
		h[key] = value
	}
}

// injectTraceParent adds the W3C traceparent when the span ids are
// W3C-shaped hex. Ids from custom generators are skipped silently.
func injectTraceParent(h Headers, span *Span) {
	if _, ok := h[HeaderTraceParent]; ok {
		return
	}
	tid, err := trace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return
	}
	sid, err := trace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})

	mc := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), mc)
	for k, v := range mc {
		setIfAbsent(h, k, v)
	}
}

// SpanFromHeaders rebuilds a reference to the span described by message
// metadata, for consumers that receive a plain message rather than a
// carrier. The X-* keys take precedence over traceparent.
func SpanFromHeaders(h Headers) (*Span, bool) {
	traceID, spanID := h[HeaderTraceID], h[HeaderSpanID]
	if traceID != "" && spanID != "" {
		span := &Span{TraceID: traceID, SpanID: spanID}
		if parent := h[HeaderParentID]; parent != "" && parent != spanID {
			span.ParentIDs = []string{parent}
		}
		return span, true
	}

	ctx := propagation.TraceContext{}.Extract(context.Background(), propagation.MapCarrier(h))
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, false
	}
	return &Span{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}, true
}
