package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 256, cfg.BlockSize)
	assert.Equal(t, 5000, cfg.BatchSize)
	assert.Equal(t, 8<<20, cfg.MaxLineBytes)
	assert.Equal(t, "", cfg.ScanCron)
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.BlockSize)
}

func TestLoadConfigJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"block_size": 512, "scan_cron": "*/5 * * * *"}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.BlockSize)
	assert.Equal(t, "*/5 * * * *", cfg.ScanCron)
}

func TestLoadConfigEnvOverridesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"block_size": 512}`), 0o644))

	t.Setenv("EXTRACTOR_BLOCK_SIZE", "1024")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.BlockSize)
}

func TestResolveHomeDirHonorsOverride(t *testing.T) {
	t.Setenv("EXTRACTOR_HOME", "/tmp/custom-home")
	assert.Equal(t, "/tmp/custom-home", ResolveHomeDir())
}
