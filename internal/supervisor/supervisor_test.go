package supervisor

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/devserver/internal/config"
)

func TestSupervisor_RunServesAndShutsDownOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	cfg := config.Default()
	cfg.Watcher.WatchedRoot = dir
	cfg.Watcher.DebounceWindow = 10 * time.Millisecond
	cfg.HTTP.DocumentRoot = dir
	cfg.HTTP.ListenAddr = "127.0.0.1:38080"
	cfg.Reload.ListenAddr = "127.0.0.1:38081"
	cfg.Admin.ListenAddr = "127.0.0.1:38082"
	cfg.IoWorkers.Count = 2
	cfg.Bus.LinkCapacity = 4
	cfg.Supervisor.ShutdownTimeout = 200 * time.Millisecond
	cfg.Precompile.Tools = nil

	sup := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTP.ListenAddr + "/index.html")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + cfg.Admin.ListenAddr + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down in time")
	}
}
