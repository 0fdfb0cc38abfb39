package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(dir, "app.db"),
			MaxOpenConns: 1,
			AutoMigrate:  true,
		},
		Refresh: config.RefreshConfig{BatchSize: 5, MaxRetries: 1},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Storage: config.StorageConfig{Enabled: true, Type: "local", LocalPath: filepath.Join(dir, "snapshots")},
	}
}

func TestNewWiresComponents(t *testing.T) {
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	a, err := New(context.Background(), testConfig(t), log)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Fetcher)
	assert.NotNil(t, a.Metrics)
	assert.False(t, a.HasRedis())
	assert.NoError(t, a.PingDB(context.Background()))
	assert.NoError(t, a.PingRedis(context.Background()))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewRejectsEnhancerWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enhancer = config.EnhancerConfig{Enabled: true, Provider: "openai"}

	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	_, err := New(context.Background(), cfg, log)
	assert.Error(t, err)
}

func TestCloseTwice(t *testing.T) {
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	a, err := New(context.Background(), testConfig(t), log)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
