package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WORKER_URL", "http://gateway.example.com")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://gateway.example.com", cfg.WorkerURL)
	assert.Equal(t, DefaultStaleThreshold, cfg.StaleThreshold)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultTaskTimeout, cfg.TaskTimeout)
	assert.Equal(t, DefaultCleanupDelay, cfg.CleanupDelay)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKER_URL", "http://gw")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SERVER_STALE_THRESHOLD", "60000")
	t.Setenv("TASK_TIMEOUT", "120000")
	t.Setenv("MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.StaleThreshold)
	assert.Equal(t, 2*time.Minute, cfg.TaskTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("SERVER_STALE_THRESHOLD", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestMergeFile(t *testing.T) {
	t.Setenv("WORKER_URL", "http://from-env")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "drover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workerUrl: http://from-file
taskTimeoutMs: 60000
maxRetries: 1
`), 0644))

	require.NoError(t, cfg.MergeFile(path))

	assert.Equal(t, "http://from-file", cfg.WorkerURL)
	assert.Equal(t, time.Minute, cfg.TaskTimeout)
	assert.Equal(t, 1, cfg.MaxRetries)
	// Untouched by the file, still env/defaults.
	assert.Equal(t, "s", cfg.JWTSecret)
	assert.Equal(t, DefaultCleanupDelay, cfg.CleanupDelay)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "complete config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing worker url",
			mutate:  func(c *Config) { c.WorkerURL = "" },
			wantErr: true,
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "" },
			wantErr: true,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: true,
		},
		{
			name: "inverted health intervals",
			mutate: func(c *Config) {
				c.MinHealthInterval = time.Minute
				c.MaxHealthInterval = time.Second
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				WorkerURL:         "http://gw",
				JWTSecret:         "s",
				MaxRetries:        3,
				MinHealthInterval: DefaultMinHealthInterval,
				MaxHealthInterval: DefaultMaxHealthInterval,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
