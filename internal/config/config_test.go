package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
users:
  - id: "alice"
    tenancy: "ocid1.tenancy.oc1..aaa"
    user: "ocid1.user.oc1..bbb"
    fingerprint: "12:34"
    region: "eu-frankfurt-1"
    private_key_path: "/etc/oci/alice.pem"
database:
  url: "postgres://costsync@localhost/costsync"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig_Success(t *testing.T) {
	configPath := writeConfig(t, `
log_level: "debug"
http_port: 9100
users:
  - id: "alice"
    tenancy: "ocid1.tenancy.oc1..aaa"
    user: "ocid1.user.oc1..bbb"
    fingerprint: "12:34"
    region: "eu-frankfurt-1"
    private_key: "PEM"
redis:
  addr: "redis:6379"
  key_prefix: "costs:"
  ttl: 30m
database:
  driver: sqlite
  url: "file:costsync.db"
gateway:
  calls_per_second: 5
  max_attempts: 3
  initial_backoff: 500ms
  max_backoff: 10s
sync:
  resource_interval: 6h
  startup_delay: 1m
metrics:
  lookback_days: 14
  retention_days: 60
  aggregation: max
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if len(cfg.Users) != 1 || cfg.Users[0].ID != "alice" || cfg.Users[0].UserOCID != "ocid1.user.oc1..bbb" {
		t.Errorf("Users = %+v", cfg.Users)
	}
	if cfg.HTTPPort != 9100 {
		t.Errorf("HTTPPort = %v, want 9100", cfg.HTTPPort)
	}
	if cfg.Redis.TTL != 30*time.Minute {
		t.Errorf("Redis.TTL = %v, want 30m", cfg.Redis.TTL)
	}
	if cfg.Redis.KeyPrefix != "costs:" {
		t.Errorf("Redis.KeyPrefix = %q, want costs:", cfg.Redis.KeyPrefix)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %v, want sqlite", cfg.Database.Driver)
	}
	if cfg.Gateway.CallsPerSecond != 5 || cfg.Gateway.MaxAttempts != 3 {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if cfg.Gateway.InitialBackoff != 500*time.Millisecond {
		t.Errorf("Gateway.InitialBackoff = %v, want 500ms", cfg.Gateway.InitialBackoff)
	}
	if cfg.Sync.ResourceInterval != 6*time.Hour || cfg.Sync.StartupDelay != time.Minute {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Metrics.LookbackDays != 14 || cfg.Metrics.RetentionDays != 60 || cfg.Metrics.Aggregation != "max" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_ApplyDefaults_Success(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"http port", cfg.HTTPPort, DefaultHTTPPort},
		{"log level", cfg.LogLevel, DefaultLogLevel},
		{"redis addr", cfg.Redis.Addr, DefaultRedisAddr},
		{"cache ttl", cfg.Redis.TTL, DefaultCacheTTL},
		{"driver", cfg.Database.Driver, DriverPostgres},
		{"calls per second", cfg.Gateway.CallsPerSecond, DefaultCallsPerSecond},
		{"max attempts", cfg.Gateway.MaxAttempts, DefaultMaxAttempts},
		{"fetch timeout", cfg.Gateway.FetchTimeout, DefaultFetchTimeout},
		{"resource interval", cfg.Sync.ResourceInterval, DefaultResourceInterval},
		{"startup delay", cfg.Sync.StartupDelay, DefaultStartupDelay},
		{"metrics interval", cfg.Metrics.Interval, DefaultMetricsInterval},
		{"lookback days", cfg.Metrics.LookbackDays, DefaultLookbackDays},
		{"retention days", cfg.Metrics.RetentionDays, DefaultRetentionDays},
		{"aggregation", cfg.Metrics.Aggregation, DefaultAggregation},
		{"rollover check", cfg.Rollover.CheckInterval, DefaultRolloverCheckInterval},
		{"rollover timeout", cfg.Rollover.Timeout, DefaultRolloverTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides_Success(t *testing.T) {
	t.Setenv("COSTSYNC_LOG_LEVEL", "warn")
	t.Setenv("COSTSYNC_HTTP_PORT", "9090")
	t.Setenv("COSTSYNC_REDIS_ADDR", "cache:6380")
	t.Setenv("COSTSYNC_CACHE_TTL", "15m")
	t.Setenv("COSTSYNC_DATABASE_DRIVER", "sqlite")
	t.Setenv("COSTSYNC_DATABASE_URL", "file::memory:")
	t.Setenv("COSTSYNC_GATEWAY_CALLS_PER_SECOND", "1.5")
	t.Setenv("COSTSYNC_METRICS_LOOKBACK_DAYS", "3")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %v, want warn (env override)", cfg.LogLevel)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %v, want 9090 (env override)", cfg.HTTPPort)
	}
	if cfg.Redis.Addr != "cache:6380" || cfg.Redis.TTL != 15*time.Minute {
		t.Errorf("Redis = %+v (env override)", cfg.Redis)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.URL != "file::memory:" {
		t.Errorf("Database = %+v (env override)", cfg.Database)
	}
	if cfg.Gateway.CallsPerSecond != 1.5 {
		t.Errorf("CallsPerSecond = %v, want 1.5 (env override)", cfg.Gateway.CallsPerSecond)
	}
	if cfg.Metrics.LookbackDays != 3 {
		t.Errorf("LookbackDays = %v, want 3 (env override)", cfg.Metrics.LookbackDays)
	}
}

func TestLoad_EnvOverrides_InvalidValues_Error(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port not integer", "COSTSYNC_HTTP_PORT", "eighty"},
		{"ttl not duration", "COSTSYNC_CACHE_TTL", "soon"},
		{"rate not number", "COSTSYNC_GATEWAY_CALLS_PER_SECOND", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(writeConfig(t, minimalConfig))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q should name %s", err, tt.key)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Users:    []User{{ID: "alice", Tenancy: "t", Region: "r", PrivateKey: "k"}},
			Database: DatabaseConfig{URL: "postgres://x"},
		}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no users", func(c *Config) { c.Users = nil }, "no users"},
		{"empty id", func(c *Config) { c.Users[0].ID = "" }, "empty id"},
		{"colon in id", func(c *Config) { c.Users[0].ID = "a:b" }, "must not contain"},
		{"duplicate user", func(c *Config) { c.Users = append(c.Users, c.Users[0]) }, "twice"},
		{"missing key", func(c *Config) { c.Users[0].PrivateKey = "" }, "private_key"},
		{"bad port", func(c *Config) { c.HTTPPort = 70000 }, "http_port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing url", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"rate too low", func(c *Config) { c.Gateway.CallsPerSecond = 0.01 }, "calls_per_second"},
		{"zero attempts", func(c *Config) { c.Gateway.MaxAttempts = -1 }, "max_attempts"},
		{"lookback too long", func(c *Config) { c.Metrics.LookbackDays = 120 }, "lookback_days"},
		{"bad aggregation", func(c *Config) { c.Metrics.Aggregation = "p99" }, "aggregation"},
		{"interval too short", func(c *Config) { c.Sync.ResourceInterval = time.Second }, "resource_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	if err := validate(base()); err != nil {
		t.Errorf("base config should be valid, got %v", err)
	}
}

func TestLoad_MissingFile_Error(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() error = nil, want error for missing file")
	}
}

func TestLoad_MalformedYAML_Error(t *testing.T) {
	if _, err := Load(writeConfig(t, "users: [unclosed")); err == nil {
		t.Error("Load() error = nil, want error for malformed YAML")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("COSTSYNC_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("COSTSYNC_TEST_DOTENV", "")
	os.Unsetenv("COSTSYNC_TEST_DOTENV")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("COSTSYNC_TEST_DOTENV"); got != "from-file" {
		t.Errorf("COSTSYNC_TEST_DOTENV = %q, want from-file", got)
	}
}
