// Package config provides configuration management for oci-cost-sync.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority), optionally seeded from a .env file
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - COSTSYNC_LOG_LEVEL: Log level (debug, info, warn, error)
//   - COSTSYNC_HTTP_PORT: Operations server port (1-65535)
//   - COSTSYNC_REDIS_ADDR, COSTSYNC_REDIS_PASSWORD: Hot cache connection
//   - COSTSYNC_CACHE_TTL: Lifetime of open-period cache entries (Go duration)
//   - COSTSYNC_DATABASE_DRIVER, COSTSYNC_DATABASE_URL: Durable store connection
//   - COSTSYNC_GATEWAY_CALLS_PER_SECOND, COSTSYNC_GATEWAY_MAX_ATTEMPTS: Provider call limits
//   - COSTSYNC_SYNC_RESOURCE_INTERVAL: Resource sync period (Go duration)
//   - COSTSYNC_METRICS_LOOKBACK_DAYS, COSTSYNC_METRICS_RETENTION_DAYS, COSTSYNC_METRICS_AGGREGATION
//
// Example configuration file (config.yaml):
//
//	log_level: info
//	http_port: 8080
//
//	users:
//	  - id: alice
//	    tenancy: ocid1.tenancy.oc1..aaaa
//	    user: ocid1.user.oc1..bbbb
//	    fingerprint: "12:34:56:..."
//	    region: eu-frankfurt-1
//	    private_key_path: /etc/oci/alice.pem
//
//	redis:
//	  addr: localhost:6379
//	  ttl: 1h
//
//	database:
//	  driver: postgres          # or sqlite
//	  url: postgres://costsync@localhost:5432/costsync
//
//	gateway:
//	  calls_per_second: 2
//	  max_attempts: 5
//
//	sync:
//	  resource_interval: 12h
//	  startup_delay: 30s
//
//	metrics:
//	  lookback_days: 7
//	  retention_days: 30
//	  aggregation: mean
//
// Example usage:
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//		log.Fatalf("Failed to load .env: %v", err)
//	}
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
package config
