// Package supervisor wires every devserver subsystem together and runs
// them under one shared context, adapted from cmd/probe/main.go's
// signal.NotifyContext-plus-goroutine-per-subsystem shape (itself following
// original_source/src/main.rs's thread-per-subsystem launch, minus its
// unconditional .join().unwrap() panics — see §9's redesign toward graceful,
// bounded-timeout shutdown instead).
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocx/devserver/internal/config"
	"github.com/ocx/devserver/internal/filecache"
	"github.com/ocx/devserver/internal/httpserver"
	"github.com/ocx/devserver/internal/invalidation"
	"github.com/ocx/devserver/internal/ioworker"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/metrics"
	"github.com/ocx/devserver/internal/precompile"
	"github.com/ocx/devserver/internal/reload"
	"github.com/ocx/devserver/internal/watcher"
)

// Supervisor owns the lifetime of every devserver subsystem.
type Supervisor struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the supervisor and its metrics but does not start anything;
// Run constructs the remaining subsystems in dependency order (the
// invalidation bus first, since the watcher and every consumer need it) and
// launches them.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		metrics: metrics.New(),
		logger:  logging.Structured(),
	}
}

// Run wires and launches every subsystem, blocking until a SIGINT/SIGTERM is
// received or a subsystem reports a fatal error, then cancels the shared
// context and waits for cfg.Supervisor.ShutdownTimeout, returning earlier
// only if a subsystem reports an error while stopping. It does not track
// which subsystems have returned, and the HTTP, admin and reload listeners
// do not stop on cancellation. Run returns the first fatal subsystem error,
// or nil when it stopped because of a signal or ctx.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := invalidation.New(s.cfg.Bus.LinkCapacity)
	pool := ioworker.New(s.cfg.IoWorkers.Count, s.metrics)
	defer pool.Close()

	cache := filecache.New(pool, bus, s.metrics, s.cfg.Cache.RequestQueueCapacity)
	pre := precompile.New(s.cfg.Precompile.Tools)
	s.logger.Info("precompiler ready", "tools", pre.Describe())

	watch := watcher.New(
		s.cfg.Watcher.WatchedRoot,
		s.cfg.Watcher.DebounceWindow,
		mustNotifier(),
		bus,
		pre.Run,
		s.metrics,
	)

	broadcaster := reload.New(
		s.cfg.Reload.Subprotocol,
		s.cfg.Reload.Message,
		s.cfg.Reload.TriggerPatterns,
		s.metrics,
	)

	httpSrv := httpserver.New(
		s.cfg.HTTP.ListenAddr,
		s.cfg.HTTP.DocumentRoot,
		s.cfg.HTTP.DefaultDocument,
		cache,
		s.metrics,
	)

	adminSrv := newAdminServer(s.cfg.Admin.ListenAddr)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan namedErr, 8)
	run := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- namedErr{name: name, err: err}
			}
		}()
	}

	// Every bus consumer must subscribe before the watcher's first publish
	// (SPEC_FULL.md §4.8): filecache.New already subscribed above, and
	// reloadSub subscribes here, synchronously, rather than racing the
	// watcher goroutine from inside ConsumeInvalidations.
	reloadSub := bus.Subscribe("reload")

	run("filecache", func() error { return cache.Run(runCtx) })
	run("reload-hub", func() error { return broadcaster.Run(runCtx) })
	run("reload-consumer", func() error { return broadcaster.ConsumeInvalidations(runCtx, reloadSub) })
	run("watcher", func() error { return watch.Run(runCtx) })

	if len(s.cfg.Cache.WarmPaths) > 0 {
		cache.WarmUp(runCtx, s.cfg.Cache.WarmPaths)
	}

	run("http", func() error { return httpSrv.ListenAndServe() })
	run("admin", func() error { return adminSrv.ListenAndServe() })
	run("reload-listener", func() error { return listenReload(s.cfg.Reload.ListenAddr, broadcaster) })

	s.logger.Info("devserver started",
		"http_addr", s.cfg.HTTP.ListenAddr,
		"reload_addr", s.cfg.Reload.ListenAddr,
		"admin_addr", s.cfg.Admin.ListenAddr,
		"watched_root", s.cfg.Watcher.WatchedRoot,
	)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case fatal := <-errCh:
		s.logger.Error("subsystem failed, shutting down", "subsystem", fatal.name, "error", fatal.err)
		runErr = fatal.err
	}

	cancel()

	select {
	case <-time.After(s.cfg.Supervisor.ShutdownTimeout):
		s.logger.Warn("shutdown timeout elapsed, exiting")
	case fatal := <-errCh:
		s.logger.Error("subsystem failed during shutdown", "subsystem", fatal.name, "error", fatal.err)
	}

	return runErr
}

type namedErr struct {
	name string
	err  error
}

func mustNotifier() watcher.Notifier {
	n, err := watcher.NewFsnotifyNotifier()
	if err != nil {
		logging.Structured().Error("failed to create filesystem notifier", "error", err)
		os.Exit(1)
	}
	return n
}
