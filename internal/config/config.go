package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinPort             = 1     // Minimum valid port number
	MaxPort             = 65535 // Maximum valid port number
	MaxLookbackDays     = 90    // Monitoring API window limit at daily resolution
	MinResourceInterval = time.Minute
	MinCallsPerSecond   = 0.1

	// Default values
	DefaultHTTPPort               = 8080
	DefaultLogLevel               = "info"
	DefaultRedisAddr              = "localhost:6379"
	DefaultCacheTTL               = time.Hour
	DefaultDatabaseDriver         = "postgres"
	DefaultMaxOpenConns           = 10
	DefaultCallsPerSecond         = 2.0
	DefaultBurst                  = 1
	DefaultMaxAttempts            = 5
	DefaultInitialBackoff         = time.Second
	DefaultMaxBackoff             = 30 * time.Second
	DefaultCallTimeout            = 30 * time.Second
	DefaultFetchTimeout           = 2 * time.Minute
	DefaultResourceInterval       = 12 * time.Hour
	DefaultStartupDelay           = 30 * time.Second
	DefaultFamilyConcurrency      = 4
	DefaultCompartmentConcurrency = 4
	DefaultMetricsInterval        = 24 * time.Hour
	DefaultLookbackDays           = 7
	DefaultRetentionDays          = 30
	DefaultAggregation            = "mean"
	DefaultMetricsConcurrency     = 4
	DefaultSweepInterval          = 24 * time.Hour
	DefaultRolloverCheckInterval  = time.Hour
	DefaultRolloverConcurrency    = 4
	DefaultRolloverTimeout        = 10 * time.Minute
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// User is one provider credential set. Values are opaque to the core.
type User struct {
	ID             string `yaml:"id"`
	Tenancy        string `yaml:"tenancy"`
	UserOCID       string `yaml:"user"`
	Fingerprint    string `yaml:"fingerprint"`
	Region         string `yaml:"region"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	Passphrase     string `yaml:"passphrase"`
}

// RedisConfig configures the hot cache
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DatabaseConfig configures the durable store
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres or sqlite
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// GatewayConfig configures rate limiting and retries of provider calls
type GatewayConfig struct {
	CallsPerSecond float64       `yaml:"calls_per_second"`
	Burst          int           `yaml:"burst"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"` // bounds one coalesced cost fetch
}

// SyncConfig configures the resource sync
type SyncConfig struct {
	ResourceInterval       time.Duration `yaml:"resource_interval"`
	StartupDelay           time.Duration `yaml:"startup_delay"`
	FamilyConcurrency      int           `yaml:"family_concurrency"`
	CompartmentConcurrency int           `yaml:"compartment_concurrency"`
}

// MetricsConfig configures utilization sync and retention
type MetricsConfig struct {
	Interval      time.Duration `yaml:"interval"`
	LookbackDays  int           `yaml:"lookback_days"`
	RetentionDays int           `yaml:"retention_days"`
	Aggregation   string        `yaml:"aggregation"`
	Concurrency   int           `yaml:"concurrency"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RolloverConfig configures period rollover
type RolloverConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	Concurrency   int           `yaml:"concurrency"`
	Timeout       time.Duration `yaml:"timeout"` // bounds one (user, period) rollover
}

// Config represents the application configuration
type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTPPort int            `yaml:"http_port"`
	Users    []User         `yaml:"users"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sync     SyncConfig     `yaml:"sync"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Rollover RolloverConfig `yaml:"rollover"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = DefaultCacheTTL
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultMaxOpenConns
	}

	g := &cfg.Gateway
	if g.CallsPerSecond == 0 {
		g.CallsPerSecond = DefaultCallsPerSecond
	}
	if g.Burst == 0 {
		g.Burst = DefaultBurst
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = DefaultMaxAttempts
	}
	if g.InitialBackoff == 0 {
		g.InitialBackoff = DefaultInitialBackoff
	}
	if g.MaxBackoff == 0 {
		g.MaxBackoff = DefaultMaxBackoff
	}
	if g.CallTimeout == 0 {
		g.CallTimeout = DefaultCallTimeout
	}
	if g.FetchTimeout == 0 {
		g.FetchTimeout = DefaultFetchTimeout
	}

	s := &cfg.Sync
	if s.ResourceInterval == 0 {
		s.ResourceInterval = DefaultResourceInterval
	}
	if s.StartupDelay == 0 {
		s.StartupDelay = DefaultStartupDelay
	}
	if s.FamilyConcurrency == 0 {
		s.FamilyConcurrency = DefaultFamilyConcurrency
	}
	if s.CompartmentConcurrency == 0 {
		s.CompartmentConcurrency = DefaultCompartmentConcurrency
	}

	m := &cfg.Metrics
	if m.Interval == 0 {
		m.Interval = DefaultMetricsInterval
	}
	if m.LookbackDays == 0 {
		m.LookbackDays = DefaultLookbackDays
	}
	if m.RetentionDays == 0 {
		m.RetentionDays = DefaultRetentionDays
	}
	if m.Aggregation == "" {
		m.Aggregation = DefaultAggregation
	}
	if m.Concurrency == 0 {
		m.Concurrency = DefaultMetricsConcurrency
	}
	if m.SweepInterval == 0 {
		m.SweepInterval = DefaultSweepInterval
	}

	if cfg.Rollover.CheckInterval == 0 {
		cfg.Rollover.CheckInterval = DefaultRolloverCheckInterval
	}
	if cfg.Rollover.Concurrency == 0 {
		cfg.Rollover.Concurrency = DefaultRolloverConcurrency
	}
	if cfg.Rollover.Timeout == 0 {
		cfg.Rollover.Timeout = DefaultRolloverTimeout
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("COSTSYNC_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}

	if err := envInt("COSTSYNC_HTTP_PORT", &cfg.HTTPPort); err != nil {
		return err
	}

	if val := os.Getenv("COSTSYNC_REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("COSTSYNC_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if err := envDuration("COSTSYNC_CACHE_TTL", &cfg.Redis.TTL); err != nil {
		return err
	}

	if val := os.Getenv("COSTSYNC_DATABASE_DRIVER"); val != "" {
		cfg.Database.Driver = val
	}
	if val := os.Getenv("COSTSYNC_DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}

	if val := os.Getenv("COSTSYNC_GATEWAY_CALLS_PER_SECOND"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid COSTSYNC_GATEWAY_CALLS_PER_SECOND: must be a number, got %q", val)
		}
		cfg.Gateway.CallsPerSecond = f
	}
	if err := envInt("COSTSYNC_GATEWAY_MAX_ATTEMPTS", &cfg.Gateway.MaxAttempts); err != nil {
		return err
	}

	if err := envDuration("COSTSYNC_SYNC_RESOURCE_INTERVAL", &cfg.Sync.ResourceInterval); err != nil {
		return err
	}

	if err := envInt("COSTSYNC_METRICS_LOOKBACK_DAYS", &cfg.Metrics.LookbackDays); err != nil {
		return err
	}
	if err := envInt("COSTSYNC_METRICS_RETENTION_DAYS", &cfg.Metrics.RetentionDays); err != nil {
		return err
	}
	if val := os.Getenv("COSTSYNC_METRICS_AGGREGATION"); val != "" {
		cfg.Metrics.Aggregation = val
	}

	return nil
}

func envInt(name string, dst *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: must be an integer, got %q", name, val)
	}
	*dst = i
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: must be a duration, got %q", name, val)
	}
	*dst = d
	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if len(cfg.Users) == 0 {
		return fmt.Errorf("no users configured")
	}

	seen := make(map[string]bool, len(cfg.Users))
	for i, u := range cfg.Users {
		if u.ID == "" {
			return fmt.Errorf("user at index %d has empty id", i)
		}
		if strings.Contains(u.ID, ":") {
			return fmt.Errorf("user %q: id must not contain ':'", u.ID)
		}
		if seen[u.ID] {
			return fmt.Errorf("user %q is configured twice", u.ID)
		}
		seen[u.ID] = true
		if u.Tenancy == "" || u.Region == "" {
			return fmt.Errorf("user %q: tenancy and region are required", u.ID)
		}
		if u.PrivateKey == "" && u.PrivateKeyPath == "" {
			return fmt.Errorf("user %q: private_key or private_key_path is required", u.ID)
		}
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	if cfg.Redis.TTL < time.Second {
		return fmt.Errorf("redis.ttl must be at least 1s, got %s", cfg.Redis.TTL)
	}

	if cfg.Gateway.CallsPerSecond < MinCallsPerSecond {
		return fmt.Errorf("gateway.calls_per_second must be at least %.1f, got %g", MinCallsPerSecond, cfg.Gateway.CallsPerSecond)
	}
	if cfg.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be at least 1, got %d", cfg.Gateway.MaxAttempts)
	}
	if cfg.Gateway.MaxBackoff < cfg.Gateway.InitialBackoff {
		return fmt.Errorf("gateway.max_backoff (%s) must not be below initial_backoff (%s)", cfg.Gateway.MaxBackoff, cfg.Gateway.InitialBackoff)
	}

	if cfg.Sync.ResourceInterval < MinResourceInterval {
		return fmt.Errorf("sync.resource_interval must be at least %s", MinResourceInterval)
	}
	if cfg.Sync.FamilyConcurrency < 1 || cfg.Sync.CompartmentConcurrency < 1 {
		return fmt.Errorf("sync concurrency settings must be positive")
	}

	if cfg.Metrics.LookbackDays < 1 || cfg.Metrics.LookbackDays > MaxLookbackDays {
		return fmt.Errorf("metrics.lookback_days must be between 1 and %d, got %d", MaxLookbackDays, cfg.Metrics.LookbackDays)
	}
	if cfg.Metrics.RetentionDays < 1 {
		return fmt.Errorf("metrics.retention_days must be positive, got %d", cfg.Metrics.RetentionDays)
	}
	switch cfg.Metrics.Aggregation {
	case "mean", "max", "min":
	default:
		return fmt.Errorf("metrics.aggregation must be mean, max or min, got %q", cfg.Metrics.Aggregation)
	}

	return nil
}
