package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server and worker binaries.
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Queue         QueueConfig         `yaml:"queue"`
	Warmup        WarmupConfig        `yaml:"warmup"`
	Worker        WorkerConfig        `yaml:"worker"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
	Browser       BrowserConfig       `yaml:"browser"`
	LoginServer   LoginServerConfig   `yaml:"login_server"`
	Interactive   InteractiveConfig   `yaml:"interactive"`
	Storage       StorageConfig       `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the Redis connection URL. Empty disables Redis-backed
// features (batch enqueue, leased locks fall back to Postgres advisory locks).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SecretsConfig holds the shared worker secret and the sealer key.
type SecretsConfig struct {
	WorkerSecret string `yaml:"worker_secret"`
	SealerKey    string `yaml:"sealer_key"`
}

// QueueConfig controls retries and crash recovery of the action queue.
type QueueConfig struct {
	MaxAttempts             int `yaml:"max_attempts"`
	BackoffBaseSeconds      int `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds       int `yaml:"backoff_max_seconds"`
	StaleAfterMinutes       int `yaml:"stale_after_minutes"`
	RecoveryIntervalSeconds int `yaml:"recovery_interval_seconds"`
	BatchChunkSize          int `yaml:"batch_chunk_size"`
}

// BackoffBase returns the first retry delay.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay cap.
func (c QueueConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// StaleAfter returns how long an action may stay running before recovery reclaims it.
func (c QueueConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// RecoveryInterval returns how often the recovery loop scans.
func (c QueueConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

// WarmupConfig controls the daily warmup progression loop.
type WarmupConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MinAcceptanceRate    float64 `yaml:"min_acceptance_rate"`
	CheckIntervalMinutes int     `yaml:"check_interval_minutes"`
}

// WorkerConfig holds the automation worker's server link and cadence.
type WorkerConfig struct {
	ServerURL            string   `yaml:"server_url"`
	Workspaces           []string `yaml:"workspaces"`
	ActionsPerSender     int      `yaml:"actions_per_sender"`
	PollMinSeconds       int      `yaml:"poll_min_seconds"`
	PollMaxSeconds       int      `yaml:"poll_max_seconds"`
	ActionDelayMinSecs   int      `yaml:"action_delay_min_seconds"`
	ActionDelayMaxSecs   int      `yaml:"action_delay_max_seconds"`
	MaxProtocolTimeouts  int      `yaml:"max_protocol_timeouts"`
	AutoRelogin          bool     `yaml:"auto_relogin"`
	SnapshotOnFailure    bool     `yaml:"snapshot_on_failure"`
	RequestTimeoutSecond int      `yaml:"request_timeout_seconds"`
}

// BusinessHoursConfig is the window in which the worker may act.
type BusinessHoursConfig struct {
	Timezone  string   `yaml:"timezone"`
	StartHour int      `yaml:"start_hour"`
	EndHour   int      `yaml:"end_hour"`
	Days      []string `yaml:"days"`
}

// BrowserConfig controls how the headless browser is launched and which
// site it automates.
type BrowserConfig struct {
	BinaryPath            string `yaml:"binary_path"`
	Headless              bool   `yaml:"headless"`
	UserAgent             string `yaml:"user_agent"`
	ProxyURL              string `yaml:"proxy_url"`
	SiteURL               string `yaml:"site_url"`
	LoginURL              string `yaml:"login_url"`
	CookieDomain          string `yaml:"cookie_domain"`
	CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`
	LoginTimeoutSeconds   int    `yaml:"login_timeout_seconds"`
}

// CommandTimeout returns the per-call protocol timeout.
func (c BrowserConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// LoginTimeout returns how long login detection may poll.
func (c BrowserConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// LoginServerConfig exposes the worker's operator-facing login endpoints.
type LoginServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InteractiveConfig describes the virtual display + VNC triplet used for
// human-in-the-loop logins.
type InteractiveConfig struct {
	XvfbPath   string `yaml:"xvfb_path"`
	VNCPath    string `yaml:"vnc_path"`
	Display    string `yaml:"display"`
	VNCPort    int    `yaml:"vnc_port"`
	Resolution string `yaml:"resolution"`
	MaxMinutes int    `yaml:"max_minutes"`
}

// StorageConfig holds failure snapshot storage configuration
type StorageConfig struct {
	Type       string `yaml:"type"` // "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

// Load reads and parses the configuration file and applies defaults.
// A missing file is not an error: every setting has a default or an
// environment override.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBaseSeconds == 0 {
		cfg.Queue.BackoffBaseSeconds = 300
	}
	if cfg.Queue.BackoffMaxSeconds == 0 {
		cfg.Queue.BackoffMaxSeconds = 7200
	}
	if cfg.Queue.StaleAfterMinutes == 0 {
		cfg.Queue.StaleAfterMinutes = 30
	}
	if cfg.Queue.RecoveryIntervalSeconds == 0 {
		cfg.Queue.RecoveryIntervalSeconds = 120
	}
	if cfg.Queue.BatchChunkSize == 0 {
		cfg.Queue.BatchChunkSize = 50
	}
	if cfg.Warmup.MinAcceptanceRate == 0 {
		cfg.Warmup.MinAcceptanceRate = 0.20
	}
	if cfg.Warmup.CheckIntervalMinutes == 0 {
		cfg.Warmup.CheckIntervalMinutes = 60
	}
	if cfg.Worker.ActionsPerSender == 0 {
		cfg.Worker.ActionsPerSender = 5
	}
	if cfg.Worker.PollMinSeconds == 0 {
		cfg.Worker.PollMinSeconds = 120
	}
	if cfg.Worker.PollMaxSeconds == 0 {
		cfg.Worker.PollMaxSeconds = 300
	}
	if cfg.Worker.ActionDelayMinSecs == 0 {
		cfg.Worker.ActionDelayMinSecs = 30
	}
	if cfg.Worker.ActionDelayMaxSecs == 0 {
		cfg.Worker.ActionDelayMaxSecs = 90
	}
	if cfg.Worker.MaxProtocolTimeouts == 0 {
		cfg.Worker.MaxProtocolTimeouts = 3
	}
	if cfg.Worker.RequestTimeoutSecond == 0 {
		cfg.Worker.RequestTimeoutSecond = 30
	}
	if cfg.BusinessHours.Timezone == "" {
		cfg.BusinessHours.Timezone = "Europe/London"
	}
	if cfg.BusinessHours.StartHour == 0 && cfg.BusinessHours.EndHour == 0 {
		cfg.BusinessHours.StartHour = 8
		cfg.BusinessHours.EndHour = 18
	}
	if len(cfg.BusinessHours.Days) == 0 {
		cfg.BusinessHours.Days = []string{"mon", "tue", "wed", "thu", "fri"}
	}
	if cfg.Browser.SiteURL == "" {
		cfg.Browser.SiteURL = "https://www.linkedin.com"
	}
	if cfg.Browser.LoginURL == "" {
		cfg.Browser.LoginURL = strings.TrimRight(cfg.Browser.SiteURL, "/") + "/login"
	}
	if cfg.Browser.CookieDomain == "" {
		cfg.Browser.CookieDomain = "linkedin.com"
	}
	if cfg.Browser.CommandTimeoutSeconds == 0 {
		cfg.Browser.CommandTimeoutSeconds = 15
	}
	if cfg.Browser.LoginTimeoutSeconds == 0 {
		cfg.Browser.LoginTimeoutSeconds = 300
	}
	if cfg.LoginServer.Host == "" {
		cfg.LoginServer.Host = "0.0.0.0"
	}
	if cfg.LoginServer.Port == 0 {
		cfg.LoginServer.Port = 8090
	}
	if cfg.Interactive.XvfbPath == "" {
		cfg.Interactive.XvfbPath = "Xvfb"
	}
	if cfg.Interactive.VNCPath == "" {
		cfg.Interactive.VNCPath = "x11vnc"
	}
	if cfg.Interactive.Display == "" {
		cfg.Interactive.Display = ":99"
	}
	if cfg.Interactive.VNCPort == 0 {
		cfg.Interactive.VNCPort = 5900
	}
	if cfg.Interactive.Resolution == "" {
		cfg.Interactive.Resolution = "1366x768x24"
	}
	if cfg.Interactive.MaxMinutes == 0 {
		cfg.Interactive.MaxMinutes = 20
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./snapshots"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
}

// LoadFromEnv loads configuration from file with environment variable overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WORKER_SECRET"); v != "" {
		cfg.Secrets.WorkerSecret = v
	}
	if v := os.Getenv("SEALER_KEY"); v != "" {
		cfg.Secrets.SealerKey = v
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		cfg.Worker.ServerURL = v
	}
	if v := os.Getenv("WORKER_WORKSPACES"); v != "" {
		cfg.Worker.Workspaces = splitList(v)
	}
	if v := os.Getenv("BROWSER_PATH"); v != "" {
		cfg.Browser.BinaryPath = v
	}
	if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BUSINESS_TIMEZONE"); v != "" {
		cfg.BusinessHours.Timezone = v
	}
	if v := os.Getenv("SNAPSHOT_S3_BUCKET"); v != "" {
		cfg.Storage.Type = "s3"
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Configuration errors. Both binaries refuse to start on any of them.
var (
	ErrMissingWorkerSecret = errors.New("worker secret is required (WORKER_SECRET)")
	ErrMissingDatabaseURL  = errors.New("database url is required (DATABASE_URL)")
	ErrMissingSealerKey    = errors.New("sealer key is required (SEALER_KEY)")
	ErrMissingServerURL    = errors.New("worker server url is required (SERVER_URL)")
	ErrInvalidHours        = errors.New("business hours must satisfy 0 <= start < end <= 24")
	ErrInvalidWeekday      = errors.New("unknown business day")
	ErrInvalidStorageType  = errors.New("storage type must be local or s3")
)

// ValidateServer checks the settings cmd/server cannot run without.
func (cfg *Config) ValidateServer() error {
	if cfg.Secrets.WorkerSecret == "" {
		return ErrMissingWorkerSecret
	}
	if cfg.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if cfg.Secrets.SealerKey == "" {
		return ErrMissingSealerKey
	}
	return nil
}

// ValidateWorker checks the settings cmd/worker cannot run without.
func (cfg *Config) ValidateWorker() error {
	if cfg.Secrets.WorkerSecret == "" {
		return ErrMissingWorkerSecret
	}
	if cfg.Worker.ServerURL == "" {
		return ErrMissingServerURL
	}
	if err := cfg.BusinessHours.Validate(); err != nil {
		return err
	}
	if cfg.Storage.Type != "local" && cfg.Storage.Type != "s3" {
		return ErrInvalidStorageType
	}
	return nil
}

// Validate checks the business-hours window, including the timezone name.
func (c BusinessHoursConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("business hours timezone %q: %w", c.Timezone, err)
	}
	if c.StartHour < 0 || c.EndHour > 24 || c.StartHour >= c.EndHour {
		return ErrInvalidHours
	}
	for _, d := range c.Days {
		if _, ok := ParseWeekday(d); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidWeekday, d)
		}
	}
	return nil
}

// ParseWeekday accepts three-letter or full English weekday names.
func ParseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	}
	return 0, false
}
