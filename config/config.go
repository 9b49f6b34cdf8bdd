package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Discovery DiscoveryConfig
	Transport TransportConfig
	Capture   CaptureConfig
	Profile   ProfileConfig
	Step      StepConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// DiscoveryConfig controls the endpoint discovery HTTP client (C2).
type DiscoveryConfig struct {
	Host string // default: "localhost"
	Port int    // default: 9222
}

// TransportConfig controls the duplex protocol transport (C1).
type TransportConfig struct {
	// DefaultCommandTimeout bounds a send() with no caller-supplied timeout.
	DefaultCommandTimeout time.Duration // default: 30s

	// Reconnect toggles the exponential-backoff reconnect loop on
	// unexpected close.
	Reconnect bool // default: false

	// BackoffBase is the first reconnect delay; each attempt doubles it.
	BackoffBase time.Duration // default: 500ms

	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration // default: 10s

	// MaxRetries bounds the number of reconnect attempts.
	MaxRetries int // default: 5
}

// CaptureConfig controls the console/network capture buffers (C10).
type CaptureConfig struct {
	// MaxMessages bounds the console ring buffer.
	MaxMessages int // default: 500

	// IgnoredStatusCodes are HTTP statuses dropped from network capture.
	IgnoredStatusCodes []int
}

// ProfileConfig controls the on-disk site-profile store.
type ProfileConfig struct {
	// Dir is the directory holding "<sanitized-domain>.md" files.
	// default: os.UserConfigDir()/pilot/profiles
	Dir string
}

// StepConfig controls the step executor (C11) defaults.
type StepConfig struct {
	// DefaultTimeout bounds a step with no caller-supplied timeout.
	DefaultTimeout time.Duration // default: 30s

	// DefaultPollInterval is the polling cadence for wait/poll primitives.
	DefaultPollInterval time.Duration // default: 100ms

	// StopOnError is the default run-level stop semantics.
	StopOnError bool // default: true
}

// ServerConfig controls the introspection HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8088
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication on the introspection server.
type AuthConfig struct {
	Enabled bool // default: false
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting on the introspection server.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// WebhookConfig controls run-completion webhook delivery.
type WebhookConfig struct {
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	profileDir := os.Getenv("PILOT_PROFILE_DIR")
	if profileDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			profileDir = dir + string(os.PathSeparator) + "pilot" + string(os.PathSeparator) + "profiles"
		}
	}

	return &Config{
		Discovery: DiscoveryConfig{
			Host: envOr("PILOT_DISCOVERY_HOST", "localhost"),
			Port: envIntOr("PILOT_DISCOVERY_PORT", 9222),
		},
		Transport: TransportConfig{
			DefaultCommandTimeout: envDurationOr("PILOT_COMMAND_TIMEOUT", 30*time.Second),
			Reconnect:             envBoolOr("PILOT_RECONNECT", false),
			BackoffBase:           envDurationOr("PILOT_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:            envDurationOr("PILOT_BACKOFF_MAX", 10*time.Second),
			MaxRetries:            envIntOr("PILOT_MAX_RETRIES", 5),
		},
		Capture: CaptureConfig{
			MaxMessages:        envIntOr("PILOT_MAX_MESSAGES", 500),
			IgnoredStatusCodes: envIntSliceOr("PILOT_IGNORED_STATUS_CODES", nil),
		},
		Profile: ProfileConfig{
			Dir: envOr("PILOT_PROFILE_DIR", profileDir),
		},
		Step: StepConfig{
			DefaultTimeout:      envDurationOr("PILOT_STEP_TIMEOUT", 30*time.Second),
			DefaultPollInterval: envDurationOr("PILOT_POLL_INTERVAL", 100*time.Millisecond),
			StopOnError:         envBoolOr("PILOT_STOP_ON_ERROR", true),
		},
		Server: ServerConfig{
			Host: envOr("PILOT_HOST", "0.0.0.0"),
			Port: envIntOr("PILOT_PORT", 8088),
			Mode: envOr("PILOT_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PILOT_AUTH_ENABLED", false),
			APIKeys: envSliceOr("PILOT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PILOT_RATE_RPS", 5.0),
			Burst:             envIntOr("PILOT_RATE_BURST", 10),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("PILOT_WEBHOOK_URL"),
			Secret: os.Getenv("PILOT_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("PILOT_LOG_LEVEL", "info"),
			Format: envOr("PILOT_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

func envIntSliceOr(key string, fallback []int) []int {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]int, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed == "" {
				continue
			}
			if i, err := strconv.Atoi(trimmed); err == nil {
				result = append(result, i)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
