package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests move time without sleeping.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg *Config) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.now
	return l, clock
}

func TestTokenBucket_Take(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(3, 1.0, now)

	for i := 0; i < 3; i++ {
		ok, remaining, _ := bucket.take(now)
		if !ok {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if remaining != 2-i {
			t.Errorf("Expected remaining %d, got %d", 2-i, remaining)
		}
	}

	ok, _, full := bucket.take(now)
	if ok {
		t.Error("Expected 4th request to be denied")
	}
	if !full.After(now) {
		t.Error("Reset time should be in the future")
	}

	// One second refills one token.
	if ok, _, _ := bucket.take(now.Add(time.Second)); !ok {
		t.Error("Expected request to be allowed after refill")
	}
}

func TestTokenBucket_RefillCapped(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(2, 10.0, now)

	_, remaining, _ := bucket.take(now.Add(time.Hour))
	if remaining != 1 {
		t.Errorf("Expected refill to cap at capacity, got %d remaining", remaining)
	}
}

func TestLimiter_DefaultLimit(t *testing.T) {
	l, _ := newTestLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})
	defer l.Stop()

	for i := 0; i < 10; i++ {
		allowed, info := l.Allow("127.0.0.1", "/api/other", "GET")
		if !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", info.Limit)
		}
	}

	allowed, info := l.Allow("127.0.0.1", "/api/other", "GET")
	if allowed {
		t.Error("Expected 11th request to be denied")
	}
	if info.RetryAfter <= 0 {
		t.Error("Expected retry after to be positive")
	}
}

func TestLimiter_UploadRules(t *testing.T) {
	l, clock := newTestLimiter(DefaultConfig())
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if allowed, _ := l.Allow("10.0.0.1", "/api/compress/pdf", "POST"); !allowed {
			t.Errorf("Expected upload %d to be allowed", i+1)
		}
	}
	allowed, info := l.Allow("10.0.0.1", "/api/compress/pdf", "POST")
	if allowed {
		t.Error("Expected upload beyond burst to be denied")
	}
	if info.Limit != 30 {
		t.Errorf("Expected limit 30, got %d", info.Limit)
	}

	// Another client is unaffected.
	if allowed, _ := l.Allow("10.0.0.2", "/api/compress/pdf", "POST"); !allowed {
		t.Error("Expected other client to be allowed")
	}

	// 30 per hour refills one token every two minutes.
	clock.advance(3 * time.Minute)
	if allowed, _ := l.Allow("10.0.0.1", "/api/compress/pdf", "POST"); !allowed {
		t.Error("Expected upload to be allowed after refill")
	}
}

func TestLimiter_StatusPollsShareBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointConfigs = []EndpointConfig{
		{Path: "/api/compress/status/", Method: "GET", Limit: 2, Window: time.Minute, Burst: 2},
	}
	l, _ := newTestLimiter(cfg)
	defer l.Stop()

	l.Allow("1.2.3.4", "/api/compress/status/a", "GET")
	l.Allow("1.2.3.4", "/api/compress/status/b", "GET")
	if allowed, _ := l.Allow("1.2.3.4", "/api/compress/status/c", "GET"); allowed {
		t.Error("Expected polls for different ids to share one allowance")
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 bucket, got %d", l.Len())
	}
}

func TestLimiter_HealthUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimit = 1
	l, _ := newTestLimiter(cfg)
	defer l.Stop()

	for i := 0; i < 50; i++ {
		if allowed, _ := l.Allow("127.0.0.1", "/api/health", "GET"); !allowed {
			t.Fatalf("Expected health check %d to be allowed", i+1)
		}
	}
}

func TestLimiter_WhitelistBlacklist(t *testing.T) {
	l, _ := newTestLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"127.0.0.1": true},
		Blacklist:     map[string]bool{"6.6.6.6": true},
	})
	defer l.Stop()

	for i := 0; i < 20; i++ {
		if allowed, _ := l.Allow("127.0.0.1", "/x", "GET"); !allowed {
			t.Fatal("Expected whitelisted client to be allowed")
		}
	}
	if allowed, _ := l.Allow("6.6.6.6", "/x", "GET"); allowed {
		t.Error("Expected blacklisted client to be denied")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(&Config{Enabled: false, DefaultLimit: 1})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		allowed, info := l.Allow("127.0.0.1", "/x", "GET")
		if !allowed || info.Limit != 0 {
			t.Fatalf("Expected disabled limiter to allow everything, got allowed=%v limit=%d", allowed, info.Limit)
		}
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(&Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Minute})
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := l.Allow("127.0.0.1", "/x", "GET"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("Expected 100 allowed requests, got %d", allowedCount)
	}
}

func TestLimiter_EvictIdle(t *testing.T) {
	l, clock := newTestLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, IdleTTL: time.Hour})
	defer l.Stop()

	l.Allow("a", "/x", "GET")
	clock.advance(50 * time.Minute)
	l.Allow("b", "/x", "GET")
	clock.advance(20 * time.Minute)

	if n := l.evictIdle(); n != 1 {
		t.Errorf("Expected 1 evicted bucket, got %d", n)
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 remaining bucket, got %d", l.Len())
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	l := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, CleanupInterval: time.Millisecond})
	l.Stop()
	l.Stop()
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := NewLimiter(nil)
	defer l.Stop()

	allowed, info := l.Allow("127.0.0.1", "/api/app-info", "GET")
	if !allowed {
		t.Error("Expected request to be allowed with default config")
	}
	if info.Limit != 600 {
		t.Errorf("Expected default limit 600, got %d", info.Limit)
	}
}

func TestMatchEndpoint(t *testing.T) {
	cfg := &Config{
		DefaultLimit:  7,
		DefaultWindow: time.Minute,
		Unlimited:     []string{"/api/health"},
		EndpointConfigs: []EndpointConfig{
			{Path: "/api/compress/", Method: "GET", Limit: 1},
			{Path: "/api/compress/status/", Method: "GET", Limit: 2},
			{Path: "/api/compress/pdf", Method: "POST", Limit: 3},
		},
	}

	tests := []struct {
		path, method string
		want         int
	}{
		{"/api/health", "GET", 0},
		{"/api/compress/pdf", "POST", 3},
		{"/api/compress/pdf", "GET", 1},
		{"/api/compress/status/abc", "GET", 2},
		{"/api/compress/presets", "GET", 1},
		{"/api/app-info", "GET", 7},
	}
	for _, tt := range tests {
		if got := MatchEndpoint(tt.path, tt.method, cfg); got.Limit != tt.want {
			t.Errorf("MatchEndpoint(%s %s) limit = %d, want %d", tt.method, tt.path, got.Limit, tt.want)
		}
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_WHITELIST", " 1.1.1.1, 2.2.2.2 ,")

	cfg := LoadConfig()
	if cfg.Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
	if cfg.DefaultLimit != 42 {
		t.Errorf("Expected default limit 42, got %d", cfg.DefaultLimit)
	}
	if len(cfg.Whitelist) != 2 || !cfg.Whitelist["2.2.2.2"] {
		t.Errorf("Unexpected whitelist %v", cfg.Whitelist)
	}
}
