package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultTenant is the reserved username for the system-wide default build.
const DefaultTenant = "__default__"

// CacheStorage selects where cached source bodies live.
type CacheStorage string

const (
	// CacheStorageInline embeds content bytes in the cache document.
	CacheStorageInline CacheStorage = "inline"
	// CacheStorageGridFS stores content in a GridFS bucket and keeps a
	// handle in the cache document.
	CacheStorageGridFS CacheStorage = "gridfs"
)

// Config holds worker configuration
type Config struct {
	// MongoDB connection URI
	MongoURI string `yaml:"mongo_uri"`
	// Database name
	DatabaseName string `yaml:"database_name"`
	// Base data directory for output files
	DataDir string `yaml:"data_dir"`
	// Worker UUID, generated fresh on startup
	WorkerID string `yaml:"-"`
	// Heartbeat interval in seconds
	HeartbeatIntervalSecs int `yaml:"heartbeat_interval_secs"`
	// Maximum concurrent downloads
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads"`
	// HTTP request timeout in seconds
	HTTPTimeoutSecs int `yaml:"http_timeout_secs"`
	// Cache TTL in days
	CacheTTLDays int `yaml:"cache_ttl_days"`
	// Prometheus listener address, empty disables the listener
	MetricsAddr string `yaml:"metrics_addr"`
	// Cache content storage mode (inline or gridfs)
	CacheStorage CacheStorage `yaml:"cache_storage"`
}

// FromEnv loads configuration from environment variables
func FromEnv() *Config {
	return &Config{
		MongoURI:               envString("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName:           envString("DATABASE_NAME", "blocklist"),
		DataDir:                envString("DATA_DIR", "./data"),
		WorkerID:               uuid.New().String(),
		HeartbeatIntervalSecs:  envInt("HEARTBEAT_INTERVAL_SECS", 10),
		MaxConcurrentDownloads: envInt("MAX_CONCURRENT_DOWNLOADS", 10),
		HTTPTimeoutSecs:        envInt("HTTP_TIMEOUT_SECS", 60),
		CacheTTLDays:           envInt("CACHE_TTL_DAYS", 7),
		MetricsAddr:            envString("METRICS_ADDR", ":9090"),
		CacheStorage:           CacheStorage(envString("CACHE_STORAGE", string(CacheStorageInline))),
	}
}

// Load builds configuration from the environment and, when path is non-empty,
// merges the YAML file at path over it. File values win over environment.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have a restricted domain
func (c *Config) Validate() error {
	switch c.CacheStorage {
	case CacheStorageInline, CacheStorageGridFS:
	default:
		return fmt.Errorf("invalid cache_storage %q (expected inline or gridfs)", c.CacheStorage)
	}
	if c.HeartbeatIntervalSecs <= 0 {
		return fmt.Errorf("heartbeat_interval_secs must be positive")
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max_concurrent_downloads must be positive")
	}
	return nil
}

// DefaultDir returns the path for default tenant data
func (c *Config) DefaultDir() string {
	return filepath.Join(c.DataDir, "default")
}

// UserDir returns the path for a named tenant's data
func (c *Config) UserDir(username string) string {
	return filepath.Join(c.DataDir, "users", username)
}

// OutputDir returns the output directory for a tenant.
// Output files stay on the filesystem so a front-end web server can serve them.
func (c *Config) OutputDir(username string) string {
	if username == DefaultTenant {
		return filepath.Join(c.DefaultDir(), "output")
	}
	return filepath.Join(c.UserDir(username), "output")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
