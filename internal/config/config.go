package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/go-securitas/securitas/graphql"
	"github.com/go-securitas/securitas/installation"
)

// Cache backend constants
const (
	CacheBackendMemory = "memory"
	CacheBackendDisk   = "disk"
	CacheBackendRedis  = "redis"
)

// DefaultAPIURL is the production GraphQL endpoint.
const DefaultAPIURL = graphql.DefaultEndpoint

type Config struct {
	// API settings
	APIURL                string
	APITimeout            time.Duration
	APIInsecureSkipVerify bool
	APIMaxRetries         int // Maximum retry attempts for transient HTTP failures (default: 3)
	APIRetryDelay         time.Duration
	APIMaxRetryDelay      time.Duration

	// Account locale sent with every authenticated request
	Country string
	Lang    string

	// Local persistence
	StorageDir string // device identity + session snapshots (default: ~/.storage)
	CacheDir   string // installation cache files (default: ~/.securitas_cache)

	// Installation cache
	CacheBackend     string // "memory", "disk" or "redis"
	InstallationsTTL time.Duration
	ServicesTTL      time.Duration

	// Redis (only used when CacheBackend is "redis")
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheInitTimeout time.Duration

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from the environment, with a best-effort .env
// file load first. Every field has a working default so a zero-config
// process talks to the production endpoint with disk caching.
func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		APIURL:                getEnv("SECURITAS_API_URL", DefaultAPIURL),
		APITimeout:            getEnvDuration("SECURITAS_API_TIMEOUT", 30*time.Second),
		APIInsecureSkipVerify: getEnvBool("SECURITAS_API_INSECURE_SKIP_VERIFY", false),
		APIMaxRetries:         getEnvInt("SECURITAS_API_MAX_RETRIES", 3),
		APIRetryDelay:         getEnvDuration("SECURITAS_API_RETRY_DELAY", 1*time.Second),
		APIMaxRetryDelay:      getEnvDuration("SECURITAS_API_MAX_RETRY_DELAY", 10*time.Second),

		Country: getEnv("SECURITAS_COUNTRY", "ES"),
		Lang:    getEnv("SECURITAS_LANG", "es"),

		StorageDir: getEnv("SECURITAS_STORAGE_DIR", ""),
		CacheDir:   getEnv("SECURITAS_CACHE_DIR", ""),

		CacheBackend:     getEnv("SECURITAS_CACHE_BACKEND", CacheBackendDisk),
		InstallationsTTL: getEnvDuration("SECURITAS_INSTALLATIONS_TTL", installation.DefaultInstallationsTTL),
		ServicesTTL:      getEnvDuration("SECURITAS_SERVICES_TTL", installation.DefaultServicesTTL),

		RedisAddr:        getEnv("SECURITAS_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("SECURITAS_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("SECURITAS_REDIS_DB", 0),
		CacheInitTimeout: getEnvDuration("SECURITAS_CACHE_INIT_TIMEOUT", 5*time.Second),

		MetricsEnabled: getEnvBool("SECURITAS_METRICS_ENABLED", false),
	}
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendDisk, CacheBackendRedis:
	default:
		return fmt.Errorf(
			"invalid SECURITAS_CACHE_BACKEND %q (must be %q, %q or %q)",
			c.CacheBackend, CacheBackendMemory, CacheBackendDisk, CacheBackendRedis,
		)
	}

	if c.CacheBackend == CacheBackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("SECURITAS_REDIS_ADDR is required when cache backend is %q", CacheBackendRedis)
	}

	if c.APIURL == "" {
		return fmt.Errorf("SECURITAS_API_URL must not be empty")
	}

	if c.InstallationsTTL <= 0 || c.ServicesTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
