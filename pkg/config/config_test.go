package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_max_parallel: 8
rerank_enabled: false
hitl_default_confidence_threshold: 0.9
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.AgentMaxParallel)
	assert.False(t, cfg.RerankEnabled)
	assert.Equal(t, 0.9, cfg.HITLDefaultConfidenceThreshold)
	assert.True(t, cfg.AgentEnabled, "unset fields keep their default")
}

func TestLoad_ExpandsEnvVarsWithAndWithoutDefault(t *testing.T) {
	t.Setenv("PARALLEL_CAP", "6")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_max_parallel: ${PARALLEL_CAP}
checkpoint_interval_seconds: ${MISSING_VAR:-120}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.AgentMaxParallel)
	assert.Equal(t, 120, cfg.CheckpointIntervalSeconds)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent_max_parallel: 2\n"), 0o644))

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changes <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("agent_max_parallel: 9\n"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, 9, c.AgentMaxParallel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestExpandEnvVars_LeavesPlainTextUntouched(t *testing.T) {
	assert.Equal(t, "agent_timeout: 30s", expandEnvVars("agent_timeout: 30s"))
}
