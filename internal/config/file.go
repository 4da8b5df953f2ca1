package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of Config. Zero values leave the default in
// place.
type fileConfig struct {
	Port           string        `yaml:"port"`
	FrontendURL    string        `yaml:"frontend_url"`
	BackendURL     string        `yaml:"backend_url"`
	DBPath         string        `yaml:"db_path"`
	LogLevel       string        `yaml:"log_level"`
	GRPCHealthAddr string        `yaml:"grpc_health_addr"`
	WorkspaceTTL   time.Duration `yaml:"workspace_ttl"`
	HistoryLimit   int           `yaml:"history_limit"`
	LiveBuffer     int           `yaml:"live_buffer"`
	RateLimit      struct {
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.FrontendURL, f.FrontendURL)
	setString(&c.BackendURL, strings.TrimRight(f.BackendURL, "/"))
	setString(&c.DBPath, f.DBPath)
	setString(&c.GRPCHealthAddr, f.GRPCHealthAddr)
	if f.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
			return fmt.Errorf("parse config file %s: log_level: %w", path, err)
		}
		c.LogLevel = level
	}
	if f.WorkspaceTTL != 0 {
		c.WorkspaceTTL = f.WorkspaceTTL
	}
	if f.HistoryLimit != 0 {
		c.HistoryLimit = f.HistoryLimit
	}
	if f.LiveBuffer != 0 {
		c.LiveBuffer = f.LiveBuffer
	}
	if f.RateLimit.Requests != 0 {
		c.RateLimit.Requests = f.RateLimit.Requests
	}
	if f.RateLimit.Window != 0 {
		c.RateLimit.Window = f.RateLimit.Window
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
