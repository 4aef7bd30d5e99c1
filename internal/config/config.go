// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/pdfsqueeze/internal/compression"
	"github.com/jonathan/pdfsqueeze/internal/logging"
	"github.com/jonathan/pdfsqueeze/internal/schemas"
	"github.com/jonathan/pdfsqueeze/internal/server/ratelimit"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "config.yml"

// Config mirrors config.yml.
type Config struct {
	App         AppConfig                     `yaml:"app"`
	Server      ServerConfig                  `yaml:"server"`
	Upload      UploadConfig                  `yaml:"upload"`
	Compression CompressionConfig             `yaml:"compression"`
	Ghostscript compression.GhostscriptConfig `yaml:"ghostscript"`
	Logging     logging.Config                `yaml:"logging"`
	Cleanup     CleanupConfig                 `yaml:"cleanup"`
	UI          UIConfig                      `yaml:"ui"`
}

// AppConfig is reported by /api/health and /api/app-info.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host                   string          `yaml:"host"`
	Port                   int             `yaml:"port"`
	MaxConcurrentJobs      int             `yaml:"max_concurrent_jobs"`
	ShutdownTimeoutSeconds int             `yaml:"shutdown_timeout_seconds"`
	ReadTimeoutSeconds     int             `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int             `yaml:"write_timeout_seconds"`
	CORS                   CORSConfig      `yaml:"cors"`
	RateLimit              RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig lists what browsers may send cross-origin.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allow_origins"`
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig overrides the limiter defaults.
type RateLimitConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DefaultLimit  int      `yaml:"default_limit"`
	WindowSeconds int      `yaml:"window_seconds"`
	Whitelist     []string `yaml:"whitelist"`
	Blacklist     []string `yaml:"blacklist"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
	AllowedImageTypes []string `yaml:"allowed_image_types"`
	AllowedPDFTypes   []string `yaml:"allowed_pdf_types"`
	// TempDirectory is the job workspace root. Empty selects the OS temp dir.
	TempDirectory string `yaml:"temp_directory"`
}

// CompressionDefaults are the form values used when a request omits them.
type CompressionDefaults struct {
	TargetSizeMB float64 `yaml:"target_size_mb"`
	DPI          int     `yaml:"dpi"`
	Quality      int     `yaml:"quality"`
	AutoCompress bool    `yaml:"auto_compress"`
}

// CompressionConfig holds presets and the search ladder.
type CompressionConfig struct {
	Default            CompressionDefaults `yaml:"default"`
	Presets            []types.Preset      `yaml:"presets"`
	ProgressiveConfigs types.Ladder        `yaml:"progressive_configs"`
	MaxAttempts        int                 `yaml:"max_attempts"`
}

// CleanupConfig controls the background sweeper.
type CleanupConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxAgeHours     float64 `yaml:"max_age_hours"`
	IntervalMinutes float64 `yaml:"interval_minutes"`
}

// UIConfig is passed through to the frontend.
type UIConfig struct {
	Title   string `yaml:"title"`
	LogoURL string `yaml:"logo_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "PDF Compression Tool",
			Version:     "1.0.0",
			Description: "PDF compression with image to PDF conversion",
		},
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8007,
			MaxConcurrentJobs:      4,
			ShutdownTimeoutSeconds: 30,
			ReadTimeoutSeconds:     600,
			WriteTimeoutSeconds:    300,
			CORS: CORSConfig{
				AllowOrigins: []string{"http://localhost:3007"},
				AllowMethods: []string{"GET", "POST", "DELETE"},
				AllowHeaders: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				DefaultLimit:  600,
				WindowSeconds: 60,
			},
		},
		Upload: UploadConfig{
			MaxFileSizeMB:     100,
			AllowedImageTypes: []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".webp"},
			AllowedPDFTypes:   []string{".pdf"},
		},
		Compression: CompressionConfig{
			Default: CompressionDefaults{
				TargetSizeMB: 0.5,
				DPI:          72,
				Quality:      50,
				AutoCompress: true,
			},
			Presets:            DefaultPresets(),
			ProgressiveConfigs: types.DefaultLadder(),
			MaxAttempts:        11,
		},
		Ghostscript: compression.DefaultGhostscriptConfig(),
		Logging:     logging.DefaultConfig(),
		Cleanup: CleanupConfig{
			Enabled:         true,
			MaxAgeHours:     24,
			IntervalMinutes: 60,
		},
		UI: UIConfig{Title: "PDF Compression Tool"},
	}
}

// DefaultPresets returns the presets offered when the config file lists none.
func DefaultPresets() []types.Preset {
	return []types.Preset{
		{Name: "high", Label: "High Quality", Resolution: 150, Quality: 80, Description: "Best for printing"},
		{Name: "medium", Label: "Medium", Resolution: 96, Quality: 60, Description: "Good balance of size and quality"},
		{Name: "low", Label: "Small File", Resolution: 72, Quality: 50, Description: "Suitable for email and web"},
		{Name: "minimum", Label: "Minimum Size", Resolution: 36, Quality: 30, Description: "Smallest file, visible quality loss"},
	}
}

// LoadConfig reads a YAML (or JSON) file over the defaults, checks it against the embedded
// schema, applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path when it is set, falls back to DefaultPath when that file exists and
// otherwise uses the defaults. Environment overrides apply in every case.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return LoadConfig(DefaultPath)
	}
	return FromEnv()
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := schemas.ValidateConfig(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays PDFSQUEEZE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PDFSQUEEZE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PDFSQUEEZE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: PDFSQUEEZE_PORT must be an integer: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("PDFSQUEEZE_MAX_CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: PDFSQUEEZE_MAX_CONCURRENT_JOBS must be an integer: %w", err)
		}
		c.Server.MaxConcurrentJobs = n
	}
	if v := os.Getenv("PDFSQUEEZE_CORS_ORIGINS"); v != "" {
		c.Server.CORS.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("PDFSQUEEZE_TEMP_DIR"); v != "" {
		c.Upload.TempDirectory = v
	}
	if v := os.Getenv("PDFSQUEEZE_GS"); v != "" {
		c.Ghostscript.Executable = v
	}
	if v := os.Getenv("PDFSQUEEZE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PDFSQUEEZE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate checks value ranges after all overlays.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config error: "+format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("'server.port' must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConcurrentJobs < 1 {
		add("'server.max_concurrent_jobs' must be at least 1")
	}
	if c.Upload.MaxFileSizeMB < 1 {
		add("'upload.max_file_size_mb' must be at least 1")
	}
	if len(c.Upload.AllowedPDFTypes) == 0 {
		add("'upload.allowed_pdf_types' must not be empty")
	}

	d := c.Compression.Default
	if d.TargetSizeMB < 0.1 || d.TargetSizeMB > 100 {
		add("'compression.default.target_size_mb' must be between 0.1 and 100")
	}
	if d.DPI < 10 || d.DPI > 300 {
		add("'compression.default.dpi' must be between 10 and 300")
	}
	if d.Quality < 5 || d.Quality > 100 {
		add("'compression.default.quality' must be between 5 and 100")
	}
	for i, a := range c.Compression.ProgressiveConfigs {
		if a.Resolution <= 0 || a.Quality <= 0 || a.Quality > 100 {
			add("'compression.progressive_configs[%d]' has invalid dpi/quality %d/%d", i, a.Resolution, a.Quality)
		}
	}
	if c.Compression.MaxAttempts < 1 {
		add("'compression.max_attempts' must be at least 1")
	}
	if c.Ghostscript.Executable == "" {
		add("'ghostscript.executable' must not be empty")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("'logging.level': %v", err)
	}
	if c.Cleanup.Enabled && (c.Cleanup.MaxAgeHours <= 0 || c.Cleanup.IntervalMinutes <= 0) {
		add("'cleanup.max_age_hours' and 'cleanup.interval_minutes' must be positive")
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Ladder returns the configured search ladder, or the built-in one when empty.
func (c *Config) Ladder() types.Ladder {
	if len(c.Compression.ProgressiveConfigs) == 0 {
		return types.DefaultLadder()
	}
	return c.Compression.ProgressiveConfigs
}

// DefaultRequest returns the compression form defaults.
func (c *Config) DefaultRequest(outputName string) types.CompressRequest {
	d := c.Compression.Default
	return types.CompressRequest{
		TargetSizeMB:   d.TargetSizeMB,
		Resolution:     d.DPI,
		Quality:        d.Quality,
		AutoCompress:   d.AutoCompress,
		OutputFilename: outputName,
	}
}

// MaxUploadBytes returns the per-request upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxFileSizeMB) * 1024 * 1024
}

// CleanupMaxAge returns how long finished jobs are kept.
func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours * float64(time.Hour))
}

// CleanupInterval returns the sweeper period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes * float64(time.Minute))
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ReadTimeout bounds reading a request, uploads included.
func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout bounds writing a response. Status streams clear it.
func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// RateLimit builds the limiter configuration, with RATE_LIMIT_* environment overrides.
func (c *Config) RateLimit() *ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.Enabled = c.Server.RateLimit.Enabled
	if c.Server.RateLimit.DefaultLimit > 0 {
		rl.DefaultLimit = c.Server.RateLimit.DefaultLimit
	}
	if c.Server.RateLimit.WindowSeconds > 0 {
		rl.DefaultWindow = time.Duration(c.Server.RateLimit.WindowSeconds) * time.Second
	}
	for _, ip := range c.Server.RateLimit.Whitelist {
		rl.Whitelist[ip] = true
	}
	for _, ip := range c.Server.RateLimit.Blacklist {
		rl.Blacklist[ip] = true
	}
	ratelimit.ApplyEnv(rl)
	return rl
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
