package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// countingRecorder counts rate limit hits by type.
type countingRecorder struct {
	mu   sync.Mutex
	hits map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: make(map[string]int)}
}

func (c *countingRecorder) RecordRateLimitHit(limitType string) {
	c.mu.Lock()
	c.hits[limitType]++
	c.mu.Unlock()
}

func (c *countingRecorder) count(limitType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[limitType]
}

func testConfig() Config {
	return Config{
		AddressPerMinute:  5,
		UserPerMinute:     3,
		MessagesPerSecond: 4,
		BurstMultiplier:   1,
	}
}

func TestAllowAddress(t *testing.T) {
	t.Run("burst admitted then denied", func(t *testing.T) {
		a := New(testConfig())

		for i := 0; i < 5; i++ {
			assert.True(t, a.AllowAddress("10.0.0.1"), "admission %d should pass", i)
		}
		assert.False(t, a.AllowAddress("10.0.0.1"))
	})

	t.Run("distinct addresses independent", func(t *testing.T) {
		a := New(testConfig())

		for i := 0; i < 5; i++ {
			assert.True(t, a.AllowAddress("10.0.0.1"))
		}
		assert.False(t, a.AllowAddress("10.0.0.1"))
		assert.True(t, a.AllowAddress("10.0.0.2"))
	})
}

func TestAllowUser(t *testing.T) {
	a := New(testConfig())

	for i := 0; i < 3; i++ {
		assert.True(t, a.AllowUser("alice"))
	}
	assert.False(t, a.AllowUser("alice"))
	assert.True(t, a.AllowUser("bob"))
}

func TestAllowMessage(t *testing.T) {
	a := New(testConfig())

	for i := 0; i < 4; i++ {
		assert.True(t, a.AllowMessage("conn-1"))
	}
	assert.False(t, a.AllowMessage("conn-1"))
	assert.True(t, a.AllowMessage("conn-2"))
}

func TestBurstMultiplier(t *testing.T) {
	cfg := testConfig()
	cfg.BurstMultiplier = 2
	a := New(cfg)

	// Capacity doubles: 4 msgs/sec * 2 = 8 immediate admissions.
	for i := 0; i < 8; i++ {
		assert.True(t, a.AllowMessage("conn-1"), "admission %d should pass", i)
	}
	assert.False(t, a.AllowMessage("conn-1"))
}

func TestRemoveConnection(t *testing.T) {
	a := New(testConfig())

	for i := 0; i < 4; i++ {
		a.AllowMessage("conn-1")
	}
	assert.False(t, a.AllowMessage("conn-1"))
	assert.Equal(t, 1, a.ConnectionBuckets())

	// Removing the bucket resets the budget; the next admission creates a
	// fresh full bucket.
	a.RemoveConnection("conn-1")
	assert.Equal(t, 0, a.ConnectionBuckets())
	assert.True(t, a.AllowMessage("conn-1"))
}

func TestHitRecorder(t *testing.T) {
	rec := newCountingRecorder()
	a := New(testConfig(), WithHitRecorder(rec))

	for i := 0; i < 6; i++ {
		a.AllowAddress("10.0.0.1")
	}
	for i := 0; i < 5; i++ {
		a.AllowUser("alice")
	}
	for i := 0; i < 5; i++ {
		a.AllowMessage("conn-1")
	}

	assert.Equal(t, 1, rec.count("ip"))
	assert.Equal(t, 2, rec.count("user"))
	assert.Equal(t, 1, rec.count("message"))
}

func TestConcurrentAdmissions(t *testing.T) {
	// Slow refill (1 token per 100ms) so the budget cannot recover while
	// the goroutines run.
	cfg := testConfig()
	cfg.MessagesPerSecond = 10
	cfg.BurstMultiplier = 10
	a := New(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				a.AllowMessage("conn-1")
			}
		}()
	}
	wg.Wait()

	// 100 admissions consumed the full burst.
	assert.False(t, a.AllowMessage("conn-1"))
}

func TestEvictIdle(t *testing.T) {
	k := newKeyedLimiter(1, 1)
	k.allow("stale")
	k.allow("fresh")

	k.mu.Lock()
	k.entries["stale"].lastAccess = time.Now().Add(-time.Hour)
	k.mu.Unlock()

	assert.Equal(t, 1, k.evictIdle(10*time.Minute))
	assert.Equal(t, 1, k.size())
}

func TestRunStopsOnCancel(t *testing.T) {
	a := New(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
