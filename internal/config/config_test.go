package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoOverrides(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SNAS_NATS_HOST", "nats.internal")
	t.Setenv("SNAS_NATS_PORT", "4333")
	t.Setenv("SNAS_ENABLE_SOCKET", "false")
	t.Setenv("SNAS_LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats.internal", cfg.NATSHost)
	assert.Equal(t, 4333, cfg.NATSPort)
	assert.False(t, cfg.EnableSocket)
	assert.Equal(t, "json", cfg.LogFormat)
	// Untouched fields keep their defaults.
	assert.Equal(t, "snas", cfg.KVBucket)
}

func TestLoadFileOverridesDefaultsAndEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kv_bucket: from-file\nadmin_prefix: from-file.admin\n"), 0o600))

	t.Setenv("SNAS_ADMIN_PREFIX", "from-env.admin")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.KVBucket)
	assert.Equal(t, "from-env.admin", cfg.AdminPrefix)
}

func TestLoadRejectsInvalidLogFormat(t *testing.T) {
	t.Setenv("SNAS_LOG_FORMAT", "xml")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("SNAS_NATS_PORT", "70000")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
