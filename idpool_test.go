package handoffz

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// TestIDPoolBasicOperation tests basic ID pool functionality.
func TestIDPoolBasicOperation(t *testing.T) {
	pool := NewIDPool(10, func() string { return "test-id" })
	defer pool.Close()

	if id := pool.NewID(); id != "test-id" {
		t.Errorf("Expected 'test-id', got %s", id)
	}
}

// TestIDPoolAfterClose tests that a closed pool still hands out ids.
func TestIDPoolAfterClose(t *testing.T) {
	pool := NewIDPool(1, func() string { return "direct-id" })
	pool.Close()
	pool.Close()

	for i := 0; i < 5; i++ {
		if id := pool.NewID(); id != "direct-id" {
			t.Errorf("Expected 'direct-id', got %s", id)
		}
	}
}

// TestIDPoolConcurrentAccess tests concurrent access to ID pool.
func TestIDPoolConcurrentAccess(t *testing.T) {
	pool := NewIDPool(100, hexID(8, clockz.RealClock))
	defer pool.Close()

	const goroutines, perGoroutine = 10, 100
	ids := make(chan string, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- pool.NewID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestHexIDLength(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if got := len(hexID(16, clock)()); got != 32 {
		t.Errorf("Expected 32 chars, got %d", got)
	}
	if got := len(hexID(8, clock)()); got != 16 {
		t.Errorf("Expected 16 chars, got %d", got)
	}
}

// Satisfies IDGenerator.
var _ IDGenerator = (*IDPool)(nil)
