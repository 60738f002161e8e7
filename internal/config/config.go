// Package config holds the environment-driven configuration for the memory
// server: cloud credentials, hot-store connection, cache TTL policy, async
// pipeline limits, and the sync worker interval.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Mode override values. An empty override lets the engine derive its mode
// from hot-store and cloud health.
const (
	ModeHybrid    = "hybrid"
	ModeHotOnly   = "hotOnly"
	ModeCloudOnly = "cloudOnly"
	ModeDemo      = "demo"
)

// CloudConfig configures the remote memory API client.
type CloudConfig struct {
	// APIKey is the credential for the cloud store. When empty, the engine
	// substitutes an in-memory demo store.
	APIKey string
	// BaseURL is the cloud API endpoint.
	BaseURL string
	// UserID is the default user partition when a call omits one.
	UserID string
}

// HotStoreConfig configures the low-latency key-value store.
type HotStoreConfig struct {
	// URL is the connection string (redis:// form). When empty, the engine
	// runs without a hot store.
	URL string
}

// CacheConfig holds the cache manager's TTL policy and limits.
type CacheConfig struct {
	L1TTL                   time.Duration
	L2TTL                   time.Duration
	SearchTTL               time.Duration
	MaxSize                 int
	FrequentAccessThreshold int
	OperationTimeout        time.Duration
}

// AsyncConfig bounds the async write pipeline.
type AsyncConfig struct {
	JobTimeout     time.Duration
	MaxPendingJobs int
}

// SyncConfig drives the background sync worker.
type SyncConfig struct {
	Interval time.Duration
}

// Config is the complete server configuration.
type Config struct {
	Cloud    CloudConfig
	HotStore HotStoreConfig
	Cache    CacheConfig
	Async    AsyncConfig
	Sync     SyncConfig

	// Mode forces an operating mode instead of deriving it from health
	// signals. One of hybrid, hotOnly, cloudOnly, demo, or empty.
	Mode string
}

// Default returns a configuration with the documented defaults.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://api.hybridmem.dev/v1",
			UserID:  "default_user",
		},
		Cache: CacheConfig{
			L1TTL:                   24 * time.Hour,
			L2TTL:                   7 * 24 * time.Hour,
			SearchTTL:               5 * time.Minute,
			MaxSize:                 1000,
			FrequentAccessThreshold: 3,
			OperationTimeout:        5 * time.Second,
		},
		Async: AsyncConfig{
			JobTimeout:     30 * time.Second,
			MaxPendingJobs: 100,
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
		},
	}
}

// FromEnv returns the default configuration with environment overrides
// applied. Invalid values log a warning and keep the default.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("MEMORY_API_KEY"); v != "" {
		cfg.Cloud.APIKey = v
	}
	if v := os.Getenv("MEMORY_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("MEMORY_USER_ID"); v != "" {
		cfg.Cloud.UserID = v
	}
	if v := os.Getenv("HOT_STORE_URL"); v != "" {
		cfg.HotStore.URL = v
	}

	if d, ok := parseSecondsEnv(os.Getenv("CACHE_L1_TTL"), "CACHE_L1_TTL"); ok {
		cfg.Cache.L1TTL = d
	}
	if d, ok := parseSecondsEnv(os.Getenv("CACHE_L2_TTL"), "CACHE_L2_TTL"); ok {
		cfg.Cache.L2TTL = d
	}
	if d, ok := parseSecondsEnv(os.Getenv("CACHE_SEARCH_TTL"), "CACHE_SEARCH_TTL"); ok {
		cfg.Cache.SearchTTL = d
	}
	if n, ok := parseIntEnv(os.Getenv("CACHE_MAX_SIZE"), "CACHE_MAX_SIZE"); ok {
		cfg.Cache.MaxSize = n
	}
	if n, ok := parseIntEnv(os.Getenv("CACHE_FREQUENT_ACCESS_THRESHOLD"), "CACHE_FREQUENT_ACCESS_THRESHOLD"); ok {
		cfg.Cache.FrequentAccessThreshold = n
	}
	if d, ok := parseMillisEnv(os.Getenv("CACHE_OPERATION_TIMEOUT_MS"), "CACHE_OPERATION_TIMEOUT_MS"); ok {
		cfg.Cache.OperationTimeout = d
	}
	if d, ok := parseMillisEnv(os.Getenv("ASYNC_JOB_TIMEOUT_MS"), "ASYNC_JOB_TIMEOUT_MS"); ok {
		cfg.Async.JobTimeout = d
	}
	if n, ok := parseIntEnv(os.Getenv("ASYNC_MAX_PENDING_JOBS"), "ASYNC_MAX_PENDING_JOBS"); ok {
		cfg.Async.MaxPendingJobs = n
	}
	if d, ok := parseMillisEnv(os.Getenv("SYNC_INTERVAL_MS"), "SYNC_INTERVAL_MS"); ok {
		cfg.Sync.Interval = d
	}
	if v := os.Getenv("MEMORY_MODE"); v != "" {
		cfg.Mode = v
	}

	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeHybrid, ModeHotOnly, ModeCloudOnly, ModeDemo:
	default:
		return fmt.Errorf("invalid mode %q: must be one of %s, %s, %s, %s",
			c.Mode, ModeHybrid, ModeHotOnly, ModeCloudOnly, ModeDemo)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.maxSize must be > 0, got %d", c.Cache.MaxSize)
	}
	if c.Async.MaxPendingJobs <= 0 {
		return fmt.Errorf("async.maxPendingJobs must be > 0, got %d", c.Async.MaxPendingJobs)
	}
	if c.Cache.OperationTimeout <= 0 {
		return fmt.Errorf("cache.operationTimeout must be > 0, got %s", c.Cache.OperationTimeout)
	}
	return nil
}

// parseIntEnv parses an integer from an environment variable value.
// Logs a warning if the value is present but invalid.
func parseIntEnv(value, envName string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q: %v", envName, value, err)
		return 0, false
	}
	return n, true
}

// parseSecondsEnv parses a duration expressed in whole seconds.
func parseSecondsEnv(value, envName string) (time.Duration, bool) {
	n, ok := parseIntEnv(value, envName)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// parseMillisEnv parses a duration expressed in whole milliseconds.
func parseMillisEnv(value, envName string) (time.Duration, bool) {
	n, ok := parseIntEnv(value, envName)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
