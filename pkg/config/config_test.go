package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, ":8620", cfg.API.Addr)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, FabricMemory, cfg.Fabric.Backend)
	assert.Equal(t, CacheOff, cfg.Cache.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Control.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.Control.CheckpointMaxAge)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stockpulse.yaml")
	content := `
data_dir: /var/lib/stockpulse
log:
  level: debug
  json: true
storage:
  backend: redis
  redis_url: redis://cache:6379/1
fabric:
  backend: socket
cache:
  mode: nodes
  nodes: [market_analyst, news_analyst]
  sleep_min: 1.5
  sleep_max: 3.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stockpulse", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSONOutput)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, FabricSocket, cfg.Fabric.Backend)
	assert.Equal(t, CacheNodes, cfg.Cache.Mode)
	assert.Equal(t, []string{"market_analyst", "news_analyst"}, cfg.Cache.Nodes)
	assert.InDelta(t, 1.5, cfg.Cache.SleepMin, 1e-9)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad storage backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage backend"},
		{"bad fabric backend", func(c *Config) { c.Fabric.Backend = "kafka" }, "fabric backend"},
		{"bad cache mode", func(c *Config) { c.Cache.Mode = "sometimes" }, "cache mode"},
		{"inverted sleep bounds", func(c *Config) { c.Cache.SleepMin = 5; c.Cache.SleepMax = 1 }, "sleep bounds"},
		{"short estimate table", func(c *Config) { c.Estimate.PerAnalystSeconds = []float64{30} }, "estimate tables"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEstimateHelpers(t *testing.T) {
	cfg := Default()

	// Depth tables are indexed by depth-1 and clamped at the edges
	assert.Equal(t, cfg.Estimate.PerAnalystSeconds[0], cfg.PerAnalyst(1))
	assert.Equal(t, cfg.Estimate.PerAnalystSeconds[4], cfg.PerAnalyst(5))
	assert.Equal(t, cfg.Estimate.PerAnalystSeconds[0], cfg.PerAnalyst(0))
	assert.Equal(t, cfg.Estimate.PerAnalystSeconds[4], cfg.PerAnalyst(9))

	assert.Equal(t, 1.0, cfg.ProviderMultiplier("never-heard-of-it"))
}
