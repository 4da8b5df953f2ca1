// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	BackendURL  string
	DBPath      string // ":memory:" keeps history for the process lifetime only
	LogLevel    slog.Level

	// GRPCHealthAddr enables the gRPC health service when non-empty.
	GRPCHealthAddr string

	WorkspaceTTL time.Duration
	HistoryLimit int
	LiveBuffer   int
	RateLimit    RateLimitConfig
}

// RateLimitConfig bounds stream starts per workspace.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the optional YAML file at path, then environment variables,
// which take precedence over it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:         "8080",
		BackendURL:   "http://localhost:8000",
		DBPath:       ":memory:",
		LogLevel:     slog.LevelInfo,
		WorkspaceTTL: 60 * time.Minute,
		HistoryLimit: 50,
		LiveBuffer:   16,
		RateLimit: RateLimitConfig{
			Requests: 10,
			Window:   time.Minute,
		},
	}
}

func (c *Config) loadEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.BackendURL = strings.TrimRight(getEnv("BACKEND_URL", c.BackendURL), "/")
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogLevel = getEnvLevel("LOG_LEVEL", c.LogLevel)
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)
	c.WorkspaceTTL = getEnvDuration("WORKSPACE_TTL", c.WorkspaceTTL)
	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)
	c.LiveBuffer = getEnvInt("LIVE_BUFFER", c.LiveBuffer)
	c.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.WorkspaceTTL <= 0 {
		return fmt.Errorf("WORKSPACE_TTL must be > 0")
	}
	if c.LiveBuffer <= 0 {
		return fmt.Errorf("LIVE_BUFFER must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
