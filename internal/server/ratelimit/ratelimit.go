// Package ratelimit throttles API clients with per-endpoint token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// tokenBucket holds up to capacity tokens and refills at refillRate tokens per second.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: now,
	}
}

// refill must be called with mu held.
func (tb *tokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	}
	tb.lastRefill = now
}

// take consumes one token if available and reports the bucket state afterwards.
func (tb *tokenBucket) take(now time.Time) (ok bool, remaining int, full time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= 1 {
		tb.tokens--
		ok = true
	}

	remaining = int(tb.tokens)
	full = now
	if missing := tb.capacity - tb.tokens; missing > 0 && tb.refillRate > 0 {
		full = now.Add(time.Duration(missing / tb.refillRate * float64(time.Second)))
	}
	return ok, remaining, full
}

// Info describes the outcome of a rate limit check.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter tracks one bucket per client and endpoint rule.
type Limiter struct {
	config *Config
	now    func() time.Time

	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	lastAccess map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLimiter creates a limiter. A nil config selects DefaultConfig.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	l := &Limiter{
		config:     config,
		now:        time.Now,
		buckets:    make(map[string]*tokenBucket),
		lastAccess: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanupLoop(config.CleanupInterval)
	}
	return l
}

// Allow consumes a token for clientID on the rule matching path and method.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{}
	}

	rule := MatchEndpoint(path, method, l.config)
	if rule.Limit <= 0 {
		return true, Info{Allowed: true}
	}

	// Requests that share a rule share a bucket, so /status/{id} polls for different ids
	// draw from the same allowance.
	key := clientID + "|" + method + "|" + rule.Path
	now := l.now()
	bucket := l.bucket(key, rule, now)

	ok, remaining, full := bucket.take(now)
	info := Info{
		Allowed:   ok,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetTime: full,
	}
	if !ok {
		// Time until one token is back.
		if rate := bucket.refillRate; rate > 0 {
			info.RetryAfter = time.Duration(float64(time.Second) / rate)
		}
	}
	return ok, info
}

func (l *Limiter) bucket(key string, rule EndpointConfig, now time.Time) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastAccess[key] = now
	if b, ok := l.buckets[key]; ok {
		return b
	}

	burst := rule.Burst
	if burst <= 0 {
		burst = rule.Limit
	}
	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}
	b := newTokenBucket(burst, float64(rule.Limit)/window.Seconds(), now)
	l.buckets[key] = b
	return b
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops buckets not used within IdleTTL.
func (l *Limiter) evictIdle() int {
	ttl := l.config.IdleTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, seen := range l.lastAccess {
		if seen.Before(cutoff) {
			delete(l.lastAccess, key)
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
