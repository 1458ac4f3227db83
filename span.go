package handoffz

import (
	"fmt"
	"time"
)

// Span represents a single unit of work in a distributed trace.
// Spans are NOT thread-safe - mutate only through the Scope that owns them.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags      map[Tag]string `json:"tags,omitempty"`
	Begin     time.Time      `json:"begin"`
	End       time.Time      `json:"end,omitempty"`
	Duration  time.Duration  `json:"duration"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	ParentIDs []string       `json:"parent_ids,omitempty"`
	Name      string         `json:"name"`
}

// IsRoot reports whether the span starts a trace.
func (s *Span) IsRoot() bool {
	return len(s.ParentIDs) == 0
}

// ParentID returns the first parent id, or "" for a root span.
func (s *Span) ParentID() string {
	if len(s.ParentIDs) == 0 {
		return ""
	}
	return s.ParentIDs[0]
}

// Finished reports whether the span has been closed.
func (s *Span) Finished() bool {
	return !s.End.IsZero()
}

// Validate checks span identity.
func (s *Span) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: span is nil", ErrInvalidArgument)
	}
	if s.TraceID == "" {
		return fmt.Errorf("%w: span has no trace id", ErrInvalidArgument)
	}
	if s.SpanID == "" {
		return fmt.Errorf("%w: span has no span id", ErrInvalidArgument)
	}
	for _, p := range s.ParentIDs {
		if p == s.SpanID {
			return fmt.Errorf("%w: span %s lists itself as parent", ErrInvalidArgument, s.SpanID)
		}
	}
	return nil
}

// clone returns a deep copy safe to hand to collectors.
func (s *Span) clone() Span {
	c := *s
	if s.Tags != nil {
		c.Tags = make(map[Tag]string, len(s.Tags))
		for k, v := range s.Tags {
			c.Tags[k] = v
		}
	}
	if s.ParentIDs != nil {
		c.ParentIDs = append([]string(nil), s.ParentIDs...)
	}
	return c
}
