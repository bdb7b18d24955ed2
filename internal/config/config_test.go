package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cewlabs/cew/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.False(t, cfg.Server.Debug)

	assert.Equal(t, BackendModeAuto, cfg.Backend.Mode)
	assert.Equal(t, 2*time.Second, cfg.Backend.PingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Backend.CreateTimeout)
	assert.Equal(t, 10*time.Second, cfg.Backend.StopTimeout)
	assert.True(t, cfg.Backend.SweepOrphans)

	assert.False(t, cfg.Orchestrator.FailLabIfNoContainerStarts)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 16, cfg.Orchestrator.QueueSize)
	assert.Equal(t, "512m", cfg.Orchestrator.MemoryLimit)
	assert.Equal(t, int64(100000), cfg.Orchestrator.CPUPeriod)
	assert.Equal(t, int64(50000), cfg.Orchestrator.CPUQuota)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
backend:
  mode: simulation
orchestrator:
  poll_interval: 500ms
  queue_size: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendModeSimulation, cfg.Backend.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 4, cfg.Orchestrator.QueueSize)

	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "512m", cfg.Orchestrator.MemoryLimit)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CEW_BACKEND_MODE", "simulation")
	t.Setenv("CEW_SERVER_PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendModeSimulation, cfg.Backend.Mode)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 0\n"},
		{"bad mode", "backend:\n  mode: hypervisor\n"},
		{"bad poll interval", "orchestrator:\n  poll_interval: 0s\n"},
		{"bad queue size", "orchestrator:\n  queue_size: 0\n"},
		{"bad memory limit", "orchestrator:\n  memory_limit: lots\n"},
		{"zero memory limit", "orchestrator:\n  memory_limit: \"0\"\n"},
		{"bad cpu quota", "orchestrator:\n  cpu_quota: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestResourceDefaults(t *testing.T) {
	c := OrchestratorConfig{MemoryLimit: "256m", CPUPeriod: 100000, CPUQuota: 25000}

	limits := c.ResourceDefaults()
	assert.Equal(t, models.ByteSize(256*1024*1024), limits.MemoryBytes)
	assert.Equal(t, int64(100000), limits.CPUPeriod)
	assert.Equal(t, int64(25000), limits.CPUQuota)
}

func TestResourceDefaultsFallBackOnBadLimit(t *testing.T) {
	c := OrchestratorConfig{MemoryLimit: "lots", CPUPeriod: 100000, CPUQuota: 25000}

	limits := c.ResourceDefaults()
	assert.Equal(t, models.ByteSize(models.DefaultMemoryBytes), limits.MemoryBytes)
}
