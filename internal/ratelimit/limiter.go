// Package ratelimit provides keyed token-bucket admission control for the
// gateway. Three independent limiter families exist: address-keyed and
// user-keyed connection admission, and connection-keyed message throughput.
// Admission checks are non-blocking; a denial is immediate and final for
// that attempt.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry holds a per-key limiter and its last access time for TTL-based
// eviction.
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// keyedLimiter maintains one token bucket per key. Buckets are created on
// first use with the family's rate and burst.
type keyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
}

// newKeyedLimiter creates a keyed limiter family. The rate is tokens per
// second; burst is the bucket capacity.
func newKeyedLimiter(r rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		entries: make(map[string]*entry),
		rate:    r,
		burst:   burst,
	}
}

// allow consumes one token from the key's bucket, creating the bucket on
// first use. Non-blocking.
func (k *keyedLimiter) allow(key string) bool {
	now := time.Now()

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{
			limiter:    rate.NewLimiter(k.rate, k.burst),
			lastAccess: now,
		}
		k.entries[key] = e
	} else {
		e.lastAccess = now
	}
	limiter := e.limiter
	k.mu.Unlock()

	// Allow() is safe to call without holding the map lock.
	return limiter.Allow()
}

// remove deletes the key's bucket. Removing an absent key is a no-op.
func (k *keyedLimiter) remove(key string) {
	k.mu.Lock()
	delete(k.entries, key)
	k.mu.Unlock()
}

// size returns the number of live buckets in the family.
func (k *keyedLimiter) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// evictIdle removes buckets not accessed within ttl and returns how many
// were evicted.
func (k *keyedLimiter) evictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for key, e := range k.entries {
		if e.lastAccess.Before(cutoff) {
			delete(k.entries, key)
			n++
		}
	}
	return n
}
