package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "./client", cfg.Watcher.WatchedRoot)
	assert.Equal(t, 4, cfg.IoWorkers.Count)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devserver.yaml")
	content := `
watcher:
  watched_root: /srv/site
  debounce_window: 500ms
io_workers:
  count: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/site", cfg.Watcher.WatchedRoot)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.DebounceWindow)
	assert.Equal(t, 8, cfg.IoWorkers.Count)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("io_workers:\n  count: 8\n"), 0o644))

	t.Setenv("DEVSERVER_IO_WORKERS", "16")
	t.Setenv("DEVSERVER_RELOAD_TRIGGER_PATTERNS", "main.js, app.css")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.IoWorkers.Count)
	assert.Equal(t, []string{"main.js", "app.css"}, cfg.Reload.TriggerPatterns)
}

func TestValidate_RejectsZeroWorkers(t *testing.T) {
	cfg := Default()
	cfg.IoWorkers.Count = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyWatchedRoot(t *testing.T) {
	cfg := Default()
	cfg.Watcher.WatchedRoot = ""
	assert.Error(t, cfg.Validate())
}
