package handoffz

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testChannel struct {
	name string
	kind Kind
}

func (c testChannel) Name() string { return c.name }
func (c testChannel) Kind() Kind   { return c.kind }

var (
	direct   = testChannel{name: "direct", kind: KindDirect}
	crossing = testChannel{name: "queue", kind: KindQueue}
)

func TestKindCrossing(t *testing.T) {
	if KindDirect.Crossing() {
		t.Error("Expected direct channels not to cross")
	}
	if !KindQueue.Crossing() || !KindExecutor.Crossing() {
		t.Error("Expected queue and executor channels to cross")
	}
	if KindExecutor.String() != "executor" || Kind(42).String() != "unknown" {
		t.Error("Unexpected Kind names")
	}
}

func TestPreSendDirectChannelPassthrough(t *testing.T) {
	i := NewInterceptor()
	u := NewUnit("producer")
	u.SetCurrent(&Span{TraceID: "t", SpanID: "s"})
	msg := NewMessage("payload", nil)

	if got := i.PreSend(u, direct, msg); got != msg {
		t.Error("Expected direct channel message to pass through unwrapped")
	}
}

func TestPreSendWithoutAmbientSpan(t *testing.T) {
	i := NewInterceptor()
	msg := NewMessage("payload", nil)

	if got := i.PreSend(NewUnit("producer"), crossing, msg); got != msg {
		t.Error("Expected passthrough without ambient span")
	}
	if got := i.PreSend(nil, crossing, msg); got != msg {
		t.Error("Expected passthrough without unit")
	}
}

func TestPreSendWrapsAmbientSpan(t *testing.T) {
	i := NewInterceptor()
	u := NewUnit("producer")
	span := &Span{TraceID: "t", SpanID: "s"}
	u.SetCurrent(span)

	got := i.PreSend(u, crossing, NewMessage("payload", nil))
	c, ok := got.(*Carrier)
	if !ok {
		t.Fatalf("Expected *Carrier, got %T", got)
	}
	if c.Span() != span {
		t.Error("Expected carrier to hold the ambient span")
	}
	if c.Payload() != "payload" {
		t.Errorf("Expected payload unchanged, got %v", c.Payload())
	}
	if u.Current() != span {
		t.Error("Expected producer ambient span untouched")
	}
}

func TestPreSendNilPayloadPassesThrough(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	i := NewInterceptor(WithLogger(zap.New(core)))
	u := NewUnit("producer")
	u.SetCurrent(&Span{TraceID: "t", SpanID: "s"})

	msg := NewMessage(nil, nil)
	if got := i.PreSend(u, crossing, msg); got != msg {
		t.Error("Expected unwrappable message to pass through")
	}
	if logs.Len() != 1 {
		t.Errorf("Expected 1 warning, got %d", logs.Len())
	}
}

func TestReceiveInstallsAndRestores(t *testing.T) {
	i := NewInterceptor()
	carried := &Span{TraceID: "t1", SpanID: "s1"}
	previous := &Span{TraceID: "t2", SpanID: "s2"}

	consumer := NewUnit("consumer")
	consumer.SetCurrent(previous)

	c, err := Wrap(NewMessage("payload", nil), carried)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if i.State(consumer, c) != StateIdle {
		t.Error("Expected Idle before receive")
	}
	if got := i.PostReceive(consumer, crossing, c); got != c {
		t.Error("Expected PostReceive to return the message")
	}
	if consumer.Current() != carried {
		t.Fatal("Expected carried span installed")
	}
	if i.State(consumer, c) != StateInstalled {
		t.Error("Expected Installed after receive")
	}

	i.AfterHandled(consumer, crossing, c, nil)
	if consumer.Current() != previous {
		t.Error("Expected previous span restored")
	}
	if i.State(consumer, c) != StateRestored {
		t.Error("Expected Restored after restore")
	}
	if consumer.Pending() != 0 {
		t.Errorf("Expected no pending hand-offs, got %d", consumer.Pending())
	}
}

func TestReceiveIsIdempotent(t *testing.T) {
	i := NewInterceptor()
	carried := &Span{TraceID: "t1", SpanID: "s1"}
	consumer := NewUnit("consumer")

	c, _ := Wrap(NewMessage("payload", nil), carried)

	i.PostReceive(consumer, crossing, c)
	i.BeforeHandle(consumer, crossing, c)
	i.BeforeHandle(consumer, crossing, c)

	if consumer.Pending() != 1 {
		t.Fatalf("Expected one remembrance, got %d", consumer.Pending())
	}

	i.AfterHandled(consumer, crossing, c, nil)
	if consumer.Current() != nil {
		t.Errorf("Expected unit cleared, got %s", consumer.Current().SpanID)
	}
}

func TestAfterHandledWithErrorStillRestores(t *testing.T) {
	i := NewInterceptor()
	previous := &Span{TraceID: "t2", SpanID: "s2"}
	consumer := NewUnit("consumer")
	consumer.SetCurrent(previous)

	c, _ := Wrap(NewMessage("payload", nil), &Span{TraceID: "t1", SpanID: "s1"})
	i.BeforeHandle(consumer, crossing, c)
	i.AfterHandled(consumer, crossing, c, errors.New("handler failed"))

	if consumer.Current() != previous {
		t.Error("Expected previous span restored after failure")
	}
}

func TestAfterHandledIgnoresUnknownMessages(t *testing.T) {
	i := NewInterceptor()
	ambient := &Span{TraceID: "t", SpanID: "s"}
	consumer := NewUnit("consumer")
	consumer.SetCurrent(ambient)

	i.AfterHandled(consumer, crossing, NewMessage("plain", nil), nil)
	c, _ := Wrap(NewMessage("payload", nil), &Span{TraceID: "t1", SpanID: "s1"})
	i.AfterHandled(consumer, crossing, c, nil)
	i.AfterHandled(nil, crossing, c, nil)

	if consumer.Current() != ambient {
		t.Error("Expected ambient span untouched by unrelated completions")
	}
	if got := i.PostReceive(consumer, crossing, NewMessage("plain", nil)); consumer.Current() != ambient || got == nil {
		t.Error("Expected plain message to pass through receive")
	}
}

func TestNestedHandoffsRestoreInOrder(t *testing.T) {
	i := NewInterceptor()
	base := &Span{TraceID: "t0", SpanID: "s0"}
	outerSpan := &Span{TraceID: "t1", SpanID: "s1"}
	innerSpan := &Span{TraceID: "t2", SpanID: "s2"}

	u := NewUnit("consumer")
	u.SetCurrent(base)

	outer, _ := Wrap(NewMessage("outer", nil), outerSpan)
	inner, _ := Wrap(NewMessage("inner", nil), innerSpan)

	i.PostReceive(u, crossing, outer)
	i.PostReceive(u, crossing, inner)
	if u.Current() != innerSpan {
		t.Fatal("Expected inner span ambient")
	}

	i.AfterHandled(u, crossing, inner, nil)
	if u.Current() != outerSpan {
		t.Errorf("Expected outer span after inner completes, got %s", u.Current().SpanID)
	}

	i.AfterHandled(u, crossing, outer, nil)
	if u.Current() != base {
		t.Errorf("Expected base span after outer completes, got %v", u.Current())
	}
}

func TestOutOfOrderCompletionRestoresOuterPrevious(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	i := NewInterceptor(WithLogger(zap.New(core)))
	base := &Span{TraceID: "t0", SpanID: "s0"}

	u := NewUnit("consumer")
	u.SetCurrent(base)

	outer, _ := Wrap(NewMessage("outer", nil), &Span{TraceID: "t1", SpanID: "s1"})
	inner, _ := Wrap(NewMessage("inner", nil), &Span{TraceID: "t2", SpanID: "s2"})
	i.PostReceive(u, crossing, outer)
	i.PostReceive(u, crossing, inner)

	i.AfterHandled(u, crossing, outer, nil)
	if u.Current() != base {
		t.Errorf("Expected base span, got %v", u.Current())
	}
	if u.Pending() != 0 {
		t.Errorf("Expected nested remembrance discarded, got %d pending", u.Pending())
	}
	if logs.FilterMessage("hand-off completed before nested hand-offs").Len() != 1 {
		t.Error("Expected a warning about the unfinished nested hand-off")
	}

	i.AfterHandled(u, crossing, inner, nil)
	if u.Current() != base {
		t.Error("Expected late inner completion to be a no-op")
	}
}

func TestRestoreFailureClearsAmbient(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	i := NewInterceptor(WithLogger(zap.New(core)), WithMetrics(metrics))

	u := NewUnit("consumer")
	u.SetCurrent(&Span{TraceID: "t0", SpanID: "s0"})

	armed := false
	u.OnSwitch(func(_, _ *Span) {
		if armed {
			panic("mdc unavailable")
		}
	})

	c, _ := Wrap(NewMessage("payload", nil), &Span{TraceID: "t1", SpanID: "s1"})
	i.BeforeHandle(u, crossing, c)
	armed = true

	handlerErr := errors.New("handler failed")
	i.AfterHandled(u, crossing, c, handlerErr)

	if u.Current() != nil {
		t.Errorf("Expected ambient cleared after failed restore, got %s", u.Current().SpanID)
	}
	if u.Pending() != 0 {
		t.Errorf("Expected remembrance discarded, got %d pending", u.Pending())
	}

	entries := logs.FilterMessage("ambient span cleared").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(entries))
	}
	if got := testutil.ToFloat64(metrics.restoreFailures); got != 1 {
		t.Errorf("Expected 1 restore failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.restores); got != 1 {
		t.Errorf("Expected 1 restore attempt, got %v", got)
	}
}

func TestRestoredHandoffIsTerminal(t *testing.T) {
	i := NewInterceptor()
	carried := &Span{TraceID: "t1", SpanID: "s1"}
	later := &Span{TraceID: "t3", SpanID: "s3"}

	c, _ := Wrap(NewMessage("payload", nil), carried)
	first := NewUnit("first")
	i.PostReceive(first, crossing, c)
	i.AfterHandled(first, crossing, c, nil)

	first.SetCurrent(later)
	i.PostReceive(first, crossing, c)
	i.BeforeHandle(first, crossing, c)
	if first.Current() != later || first.Pending() != 0 {
		t.Error("Expected completed carrier not to be installed again")
	}

	other := NewUnit("other")
	i.PostReceive(other, crossing, c)
	if other.Current() != nil {
		t.Error("Expected completed carrier ignored on another unit")
	}
	if i.State(other, c) != StateRestored {
		t.Error("Expected Restored to be terminal")
	}

	i.AfterHandled(first, crossing, c, nil)
	if first.Current() != later {
		t.Error("Expected repeated completion to be a no-op")
	}
}
