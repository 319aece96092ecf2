package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CookieHunter server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Scan     ScanConfig
	Fetch    FetchConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	WriteTimeout    time.Duration
	RateLimitPerMin int
	CatalogFile     string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// ScanConfig is the scan policy.
type ScanConfig struct {
	KeepRecords bool
	BatchSize   int
	MaxPages    int
	LockTTL     time.Duration
}

// FetchConfig controls outbound page requests.
type FetchConfig struct {
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	Concurrency int
	UserAgent   string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("COOKIEHUNTER_PORT", 8080),
			Env:             envString("COOKIEHUNTER_ENV", "development"),
			WriteTimeout:    envDuration("COOKIEHUNTER_WRITE_TIMEOUT", 2*time.Minute),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			CatalogFile:     os.Getenv("CATALOG_FILE"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Scan: ScanConfig{
			KeepRecords: envBool("SCAN_KEEP_RECORDS", false),
			BatchSize:   envInt("SCAN_PAGE_MAXDATA", 5),
			MaxPages:    envInt("FETCH_PAGE_MAXDATA", 100),
			LockTTL:     envDuration("SCAN_LOCK_TTL", 2*time.Minute),
		},
		Fetch: FetchConfig{
			Timeout:     envDuration("FETCH_TIMEOUT", 15*time.Second),
			RatePerSec:  envFloat("FETCH_RATE_PER_SEC", 2),
			Burst:       envInt("FETCH_BURST", 4),
			Concurrency: envInt("FETCH_CONCURRENCY", 5),
			UserAgent:   envString("FETCH_USER_AGENT", "CookieHunter/1.0"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !hasScheme(c.Database.URL, "postgres://", "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !hasScheme(c.Redis.URL, "redis://", "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("COOKIEHUNTER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Scan.BatchSize < 1 {
		return fmt.Errorf("SCAN_PAGE_MAXDATA must be at least 1, got %d", c.Scan.BatchSize)
	}
	if c.Scan.MaxPages < 1 {
		return fmt.Errorf("FETCH_PAGE_MAXDATA must be at least 1, got %d", c.Scan.MaxPages)
	}
	if c.Scan.LockTTL <= 0 {
		return fmt.Errorf("SCAN_LOCK_TTL must be positive")
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.Fetch.Concurrency)
	}

	// A batch fetches in ceil(batch/concurrency) rounds of at most FETCH_TIMEOUT each.
	rounds := (c.Scan.BatchSize + c.Fetch.Concurrency - 1) / c.Fetch.Concurrency
	if worst := time.Duration(rounds) * c.Fetch.Timeout; c.Scan.LockTTL <= worst {
		return fmt.Errorf("SCAN_LOCK_TTL must exceed the longest batch fetch (%s), got %s", worst, c.Scan.LockTTL)
	}

	return nil
}

func hasScheme(u string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(u, s) {
			return true
		}
	}
	return false
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
