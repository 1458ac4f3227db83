package handoffz

import (
	"sync"
	"sync/atomic"
)

// Collector buffers completed spans in memory until exported.
// Register it with tracer.OnSpanComplete(collector.Collect).
// Safe for concurrent use by multiple goroutines.
type Collector struct {
	spans        []Span
	name         string
	limit        int
	droppedCount atomic.Int64
	mu           sync.Mutex
}

// NewCollector creates a collector holding at most limit spans.
// Spans arriving while full are dropped and counted.
func NewCollector(name string, limit int) *Collector {
	return &Collector{
		name:  name,
		limit: limit,
		spans: make([]Span, 0, 8),
	}
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// Collect buffers a deep copy of span. It matches SpanHandler.
func (c *Collector) Collect(span Span) {
	cp := span.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit > 0 && len(c.spans) >= c.limit {
		c.droppedCount.Add(1)
		return
	}
	c.spans = append(c.spans, cp)
}

// Export returns all buffered spans and clears the buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}
	result := c.spans
	c.spans = make([]Span, 0, 8)
	return result
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped because the buffer was full.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// Reset clears all buffered spans and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}
