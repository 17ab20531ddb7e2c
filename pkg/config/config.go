package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the tuning knobs, in their natural units.
const (
	DefaultStaleThreshold      = 300000 * time.Millisecond
	DefaultCleanupInterval     = 60000 * time.Millisecond
	DefaultMinHealthInterval   = 5000 * time.Millisecond
	DefaultMaxHealthInterval   = 60000 * time.Millisecond
	DefaultTaskTimeout         = 3600000 * time.Millisecond
	DefaultCleanupDelay        = 300000 * time.Millisecond
	DefaultMaxRetries          = 3
	DefaultListenAddr          = ":8080"
	DefaultDataDir             = "/var/lib/drover"
	DefaultRebalanceInterval   = 30 * time.Second
	DefaultStatsFlushInterval  = 10 * time.Second
	DefaultMaxIdle             = time.Hour
	DefaultPredictTimeout      = 30 * time.Second
	DefaultHealthProbeTimeout  = 5 * time.Second
	DefaultShutdownDrainBound  = 30 * time.Second
	DefaultSyncWaitBound       = 30 * time.Second
	DefaultSyncPollInterval    = 100 * time.Millisecond
)

// Config holds the full gateway configuration. Durations configured through
// the environment are expressed in milliseconds there, matching the knob
// names the deployment tooling already uses.
type Config struct {
	// WorkerURL is the externally reachable base URL of this gateway,
	// synthesized into the callback URLs handed to backend servers.
	WorkerURL string `yaml:"workerUrl"`

	// JWTSecret signs and validates bearer tokens.
	JWTSecret string `yaml:"jwtSecret"`

	// DatabaseURL enables the optional tabular task archive when set.
	DatabaseURL string `yaml:"databaseUrl"`

	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	LogJSON    bool   `yaml:"logJson"`

	StaleThreshold     time.Duration `yaml:"staleThresholdMs"`
	CleanupInterval    time.Duration `yaml:"cleanupIntervalMs"`
	MinHealthInterval  time.Duration `yaml:"minHealthCheckIntervalMs"`
	MaxHealthInterval  time.Duration `yaml:"maxHealthCheckIntervalMs"`
	TaskTimeout        time.Duration `yaml:"taskTimeoutMs"`
	CleanupDelay       time.Duration `yaml:"cleanupDelayMs"`
	MaxRetries         int           `yaml:"maxRetries"`
	RebalanceInterval  time.Duration `yaml:"rebalanceIntervalMs"`
	StatsFlushInterval time.Duration `yaml:"statsFlushIntervalMs"`
}

// Load builds a Config from the environment, applying defaults for every
// unset knob.
func Load() (*Config, error) {
	cfg := &Config{
		WorkerURL:          os.Getenv("WORKER_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ListenAddr:         envString("LISTEN_ADDR", DefaultListenAddr),
		DataDir:            envString("DATA_DIR", DefaultDataDir),
		LogLevel:           envString("LOG_LEVEL", "info"),
		LogJSON:            envBool("LOG_JSON", false),
		MaxRetries:         DefaultMaxRetries,
		RebalanceInterval:  DefaultRebalanceInterval,
		StatsFlushInterval: DefaultStatsFlushInterval,
	}

	var err error
	if cfg.StaleThreshold, err = envMillis("SERVER_STALE_THRESHOLD", DefaultStaleThreshold); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = envMillis("SERVER_CLEANUP_INTERVAL", DefaultCleanupInterval); err != nil {
		return nil, err
	}
	if cfg.MinHealthInterval, err = envMillis("MIN_HEALTH_CHECK_INTERVAL", DefaultMinHealthInterval); err != nil {
		return nil, err
	}
	if cfg.MaxHealthInterval, err = envMillis("MAX_HEALTH_CHECK_INTERVAL", DefaultMaxHealthInterval); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout, err = envMillis("TASK_TIMEOUT", DefaultTaskTimeout); err != nil {
		return nil, err
	}
	if cfg.CleanupDelay, err = envMillis("CLEANUP_DELAY", DefaultCleanupDelay); err != nil {
		return nil, err
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES %q: %w", v, err)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}

// fileConfig mirrors Config but carries durations as raw milliseconds, the
// same unit the environment knobs use.
type fileConfig struct {
	WorkerURL   string `yaml:"workerUrl"`
	JWTSecret   string `yaml:"jwtSecret"`
	DatabaseURL string `yaml:"databaseUrl"`
	ListenAddr  string `yaml:"listenAddr"`
	DataDir     string `yaml:"dataDir"`
	LogLevel    string `yaml:"logLevel"`
	LogJSON     *bool  `yaml:"logJson"`

	StaleThresholdMs    *int64 `yaml:"staleThresholdMs"`
	CleanupIntervalMs   *int64 `yaml:"cleanupIntervalMs"`
	MinHealthIntervalMs *int64 `yaml:"minHealthCheckIntervalMs"`
	MaxHealthIntervalMs *int64 `yaml:"maxHealthCheckIntervalMs"`
	TaskTimeoutMs       *int64 `yaml:"taskTimeoutMs"`
	CleanupDelayMs      *int64 `yaml:"cleanupDelayMs"`
	MaxRetries          *int   `yaml:"maxRetries"`
}

// MergeFile overlays a YAML config file onto cfg. File values win over the
// environment; unset file fields leave cfg untouched.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.WorkerURL != "" {
		c.WorkerURL = fc.WorkerURL
	}
	if fc.JWTSecret != "" {
		c.JWTSecret = fc.JWTSecret
	}
	if fc.DatabaseURL != "" {
		c.DatabaseURL = fc.DatabaseURL
	}
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogJSON != nil {
		c.LogJSON = *fc.LogJSON
	}
	if fc.StaleThresholdMs != nil {
		c.StaleThreshold = time.Duration(*fc.StaleThresholdMs) * time.Millisecond
	}
	if fc.CleanupIntervalMs != nil {
		c.CleanupInterval = time.Duration(*fc.CleanupIntervalMs) * time.Millisecond
	}
	if fc.MinHealthIntervalMs != nil {
		c.MinHealthInterval = time.Duration(*fc.MinHealthIntervalMs) * time.Millisecond
	}
	if fc.MaxHealthIntervalMs != nil {
		c.MaxHealthInterval = time.Duration(*fc.MaxHealthIntervalMs) * time.Millisecond
	}
	if fc.TaskTimeoutMs != nil {
		c.TaskTimeout = time.Duration(*fc.TaskTimeoutMs) * time.Millisecond
	}
	if fc.CleanupDelayMs != nil {
		c.CleanupDelay = time.Duration(*fc.CleanupDelayMs) * time.Millisecond
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}

	return nil
}

// Validate checks that the config is complete enough to serve.
func (c *Config) Validate() error {
	if c.WorkerURL == "" {
		return fmt.Errorf("WORKER_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be non-negative, got %d", c.MaxRetries)
	}
	if c.MinHealthInterval > c.MaxHealthInterval {
		return fmt.Errorf("MIN_HEALTH_CHECK_INTERVAL (%s) exceeds MAX_HEALTH_CHECK_INTERVAL (%s)",
			c.MinHealthInterval, c.MaxHealthInterval)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
