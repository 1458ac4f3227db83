package handoffz

import (
	"sync"

	"go.uber.org/zap"
)

// Scope is one install of a span on a unit, paired with the span that was
// ambient before. Close puts that span back.
// SetTag/GetTag are safe for concurrent use; Close must run on the scope's unit.
type Scope struct {
	span     *Span
	tracer   *Tracer
	unit     *Unit
	previous *Span
	name     Key
	mu       sync.Mutex
	owned    bool
	closed   bool
}

// Span returns the span this scope made ambient.
func (s *Scope) Span() *Span {
	return s.span
}

// Unit returns the execution unit the scope was opened on.
func (s *Scope) Unit() *Unit {
	return s.unit
}

// Owned reports whether the scope created its span and will end it.
func (s *Scope) Owned() bool {
	return s.owned
}

// SetTag adds a key-value pair to the span.
// No-op for continued spans, which other units may be reading, and for
// closed scopes.
func (s *Scope) SetTag(key Tag, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owned || s.closed {
		return
	}
	if s.span.Tags == nil {
		s.span.Tags = make(map[Tag]string)
	}
	s.span.Tags[key] = value
}

// GetTag retrieves a tag value by key.
func (s *Scope) GetTag(key Tag) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.span.Tags == nil {
		return "", false
	}
	value, ok := s.span.Tags[key]
	return value, ok
}

// Close ends the scope: an owned span gets its end time and goes to the
// tracer's completion handlers, and the previous ambient span is restored.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	var done Span
	if s.owned {
		s.span.End = s.tracer.clock.Now()
		s.span.Duration = s.span.End.Sub(s.span.Begin)
		done = s.span.clone()
	}
	s.mu.Unlock()

	if err := restoreAmbient(s.unit, s.previous); err != nil {
		s.tracer.logger.Warn("ambient span cleared",
			append(spanFields(s.span), zap.String("scope", s.name), zap.Error(err))...)
		s.tracer.metrics.restored(false)
	}

	if s.owned {
		s.tracer.executeHandlers(done)
	}
}
