package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit applied to one path (or path prefix) and method.
type EndpointConfig struct {
	Path   string        // exact path, or a prefix when it ends in "/"
	Method string        // HTTP method
	Limit  int           // requests per Window
	Window time.Duration // refill window
	Burst  int           // bucket capacity, Limit when 0
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	Unlimited       []string
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns limits suited to the compression API.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       map[string]bool{},
		Blacklist:       map[string]bool{},
		Unlimited:       []string{"/api/health"},
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint rules.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Uploads start Ghostscript work and are the expensive calls.
		{Path: "/api/compress/pdf", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/api/compress/images-to-pdf", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},

		{Path: "/api/compress/jobs/", Method: "DELETE", Limit: 120, Window: time.Minute, Burst: 20},

		// Clients poll status about once a second while a job runs.
		{Path: "/api/compress/status/", Method: "GET", Limit: 300, Window: time.Minute, Burst: 60},
		{Path: "/api/compress/download/", Method: "GET", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/api/compress/preview/", Method: "GET", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

// LoadConfig returns DefaultConfig overlaid with RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overlays RATE_LIMIT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	cfg.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.DefaultLimit = getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.DefaultWindow = getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CleanupInterval = getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", cfg.CleanupInterval)

	if v := getEnvString("RATE_LIMIT_WHITELIST", ""); v != "" {
		cfg.Whitelist = parseIPList(v)
	}
	if v := getEnvString("RATE_LIMIT_BLACKLIST", ""); v != "" {
		cfg.Blacklist = parseIPList(v)
	}
}

func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
