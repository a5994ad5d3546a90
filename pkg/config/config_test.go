package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchedulerConfigValid(t *testing.T) {
	cfg := &Config{Scheduler: DefaultSchedulerConfig(), Server: DefaultServerConfig()}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvertedSliceBounds(t *testing.T) {
	s := DefaultSchedulerConfig()
	s.MinSliceSeconds = 900
	s.MaxSliceSeconds = 60
	cfg := &Config{Scheduler: s, Server: DefaultServerConfig()}
	assert.Error(t, cfg.Validate())
}

func TestLoadMergesUserYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := []byte("scheduler:\n  min_slice_seconds: 30\nserver:\n  agent_addr: \":9999\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cipherswarmd.yaml"), yamlContent, 0o644))

	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Scheduler.MinSliceSeconds)
	assert.Equal(t, DefaultSchedulerConfig().MaxSliceSeconds, cfg.Scheduler.MaxSliceSeconds)
	assert.Equal(t, ":9999", cfg.Server.AgentAddr)
	assert.Equal(t, DefaultServerConfig().WebAddr, cfg.Server.WebAddr)
}

func TestLoadWithoutYAMLFileUsesDefaults(t *testing.T) {
	cfg, err := load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedulerConfig(), cfg.Scheduler)
}
