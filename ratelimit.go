package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Maximum number of tracked limiters to prevent memory exhaustion.
const maxKeyedLimiters = 10000

// keyedLimiter manages per-gateway token-bucket rate limiters with automatic
// cleanup of stale entries.
type keyedLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(r rate.Limit, b int) *keyedLimiter {
	return &keyedLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
	}
}

// get returns the limiter for the key, creating one if needed. At capacity
// the least recently seen entry is evicted first.
func (k *keyedLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, exists := k.limiters[key]
	if !exists {
		if len(k.limiters) >= maxKeyedLimiters {
			var oldestKey string
			var oldestTime time.Time
			for key, entry := range k.limiters {
				if oldestKey == "" || entry.lastSeen.Before(oldestTime) {
					oldestKey = key
					oldestTime = entry.lastSeen
				}
			}
			if oldestKey != "" {
				delete(k.limiters, oldestKey)
			}
		}

		limiter := rate.NewLimiter(k.rate, k.burst)
		k.limiters[key] = &limiterEntry{
			limiter:  limiter,
			lastSeen: time.Now(),
		}
		return limiter
	}

	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanup removes limiters that haven't been used within maxAge.
func (k *keyedLimiter) cleanup(maxAge time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > maxAge {
			delete(k.limiters, key)
			cleaned++
		}
	}
	return cleaned
}
