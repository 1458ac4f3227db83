package handoffz

import (
	"errors"
	"testing"
	"time"
)

func TestSpanIsRoot(t *testing.T) {
	root := &Span{TraceID: "t1", SpanID: "s1"}
	if !root.IsRoot() {
		t.Error("Expected span without parents to be a root")
	}
	if root.ParentID() != "" {
		t.Errorf("Expected empty ParentID, got %s", root.ParentID())
	}

	child := &Span{TraceID: "t1", SpanID: "s2", ParentIDs: []string{"s1", "s0"}}
	if child.IsRoot() {
		t.Error("Expected span with parents not to be a root")
	}
	if child.ParentID() != "s1" {
		t.Errorf("Expected first parent s1, got %s", child.ParentID())
	}
}

func TestSpanValidate(t *testing.T) {
	tests := []struct {
		span    *Span
		name    string
		wantErr bool
	}{
		{name: "valid root", span: &Span{TraceID: "t", SpanID: "s"}},
		{name: "valid join", span: &Span{TraceID: "t", SpanID: "s", ParentIDs: []string{"a", "b"}}},
		{name: "nil", span: nil, wantErr: true},
		{name: "no trace", span: &Span{SpanID: "s"}, wantErr: true},
		{name: "no span", span: &Span{TraceID: "t"}, wantErr: true},
		{name: "self parent", span: &Span{TraceID: "t", SpanID: "s", ParentIDs: []string{"a", "s"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.span.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestSpanFinished(t *testing.T) {
	span := &Span{TraceID: "t", SpanID: "s", Begin: time.Now()}
	if span.Finished() {
		t.Error("Expected open span")
	}
	span.End = span.Begin.Add(time.Millisecond)
	if !span.Finished() {
		t.Error("Expected finished span")
	}
}

func TestSpanCloneIsIndependent(t *testing.T) {
	span := &Span{
		TraceID:   "t",
		SpanID:    "s",
		ParentIDs: []string{"p"},
		Tags:      map[Tag]string{"k": "v"},
	}

	c := span.clone()
	c.Tags["k"] = "changed"
	c.ParentIDs[0] = "changed"

	if span.Tags["k"] != "v" {
		t.Errorf("Expected original tag unchanged, got %s", span.Tags["k"])
	}
	if span.ParentIDs[0] != "p" {
		t.Errorf("Expected original parent unchanged, got %s", span.ParentIDs[0])
	}
}
