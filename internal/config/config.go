package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkspaceConfig points at the external workspace file service that holds
// the subagent runtime files. An empty BaseURL means "not configured":
// subagent views then fail with a service-not-configured error rather than
// returning misleading empty data.
type WorkspaceConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GatewayConfig points at the agent-runtime gateway used for best-effort
// session enrichment. Everything here is optional; an unreachable gateway
// never fails a request.
type GatewayConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	LookbackHours  int    `yaml:"lookback_hours"`
}

// RetentionConfig controls how long completed work and activity-log rows
// are kept before the daily purge removes them. 0 = keep forever.
type RetentionConfig struct {
	CompletedDays   int `yaml:"completed_days"`
	ActivityLogDays int `yaml:"activity_log_days"`
	// PurgeSchedule is a 5-field cron expression evaluated in the fixed
	// reference timezone. Defaults to 03:00 daily.
	PurgeSchedule string `yaml:"purge_schedule"`
}

// OtelConfig mirrors the subset of OpenTelemetry settings we expose.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	LogLevel  string `yaml:"log_level"`
	AuthToken string `yaml:"auth_token"`
	DBPath    string `yaml:"db_path"`

	Workspace WorkspaceConfig `yaml:"workspace"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Retention RetentionConfig `yaml:"retention"`
	Otel      OtelConfig      `yaml:"otel"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, exposed on
// /api/config so operators can tell which config a running server loaded.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|ws=%s|gw=%s|retc=%d|reta=%d",
		c.BindAddr, c.LogLevel, c.DBPath, c.Workspace.BaseURL, c.Gateway.URL,
		c.Retention.CompletedDays, c.Retention.ActivityLogDays)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// WorkspaceTimeout returns the bound applied to each workspace file read.
func (c Config) WorkspaceTimeout() time.Duration {
	if c.Workspace.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Workspace.TimeoutSeconds) * time.Second
}

// GatewayTimeout returns the bound applied to each gateway call.
func (c Config) GatewayTimeout() time.Duration {
	if c.Gateway.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// GatewayLookback returns the session-list lookback window for enrichment.
func (c Config) GatewayLookback() time.Duration {
	if c.Gateway.LookbackHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Gateway.LookbackHours) * time.Hour
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Workspace: WorkspaceConfig{
			TimeoutSeconds: 5,
		},
		Gateway: GatewayConfig{
			TimeoutSeconds: 5,
			LookbackHours:  24,
		},
		Retention: RetentionConfig{
			CompletedDays:   30,
			ActivityLogDays: 90,
			PurgeSchedule:   "0 3 * * *",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("MOSBOT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".mosbot")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create mosbot home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "mosbot.db")
	}
	if cfg.Retention.PurgeSchedule == "" {
		cfg.Retention.PurgeSchedule = "0 3 * * *"
	}
	if cfg.Retention.CompletedDays < 0 {
		cfg.Retention.CompletedDays = 0
	}
	if cfg.Retention.ActivityLogDays < 0 {
		cfg.Retention.ActivityLogDays = 0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("MOSBOT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("MOSBOT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MOSBOT_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("MOSBOT_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("MOSBOT_WORKSPACE_URL"); raw != "" {
		cfg.Workspace.BaseURL = raw
	}
	if raw := os.Getenv("MOSBOT_GATEWAY_URL"); raw != "" {
		cfg.Gateway.URL = raw
	}
	if raw := os.Getenv("MOSBOT_GATEWAY_TOKEN"); raw != "" {
		cfg.Gateway.Token = raw
	}
	if raw := os.Getenv("MOSBOT_RETENTION_COMPLETED_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.CompletedDays = v
		}
	}
	if raw := os.Getenv("MOSBOT_RETENTION_ACTIVITY_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.ActivityLogDays = v
		}
	}
}
