// Package watcher implements the filesystem watcher of spec §4.1: a
// recursive initial scan and precompile pass over the watched root, followed
// by a live fsnotify-driven loop that debounces write bursts into single
// Created/Modified/Removed/Renamed invalidation events and publishes them to
// the bus.
//
// Grounded on Yakitrak-obsidian-cli's pkg/cache/service.go watchLoop (the
// Notifier abstraction and the create-triggers-rescan handling of new
// directories) and on original_source/src/rebuilder.rs's recursive_find and
// handle_event (the recursive precompile pass and the old/new pairing that
// turns a filesystem rename into one atomic event).
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ocx/devserver/internal/invalidation"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/metrics"
)

// OnFile is invoked for every file discovered during the initial scan and
// for every Created or Modified path observed afterward, before the
// corresponding invalidation event is published. It is the watcher's hook
// into the precompiler.
type OnFile func(ctx context.Context, path string)

type pending struct {
	kind    invalidation.Kind
	oldPath string
}

// Watcher drives one watched root.
type Watcher struct {
	root     string
	debounce time.Duration
	notifier Notifier
	bus      *invalidation.Bus
	onFile   OnFile
	metrics  *metrics.Metrics
	logger   *log.Logger

	mu                sync.Mutex
	timers            map[string]*time.Timer
	pendingByPath     map[string]pending
	pendingRenameFrom string
	renameTimer       *time.Timer
}

// New constructs a Watcher. debounce is the coalescing window; onFile may be
// nil if precompilation is not configured for this root; m may be nil to
// disable metrics (as in tests).
func New(root string, debounce time.Duration, notifier Notifier, bus *invalidation.Bus, onFile OnFile, m *metrics.Metrics) *Watcher {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	return &Watcher{
		root:          root,
		debounce:      debounce,
		notifier:      notifier,
		bus:           bus,
		onFile:        onFile,
		metrics:       m,
		logger:        logging.New("watcher"),
		timers:        make(map[string]*time.Timer),
		pendingByPath: make(map[string]pending),
	}
}

// Run performs the recursive initial scan (registering a watch on every
// directory and invoking onFile for every file under root) and then blocks,
// translating fsnotify events into debounced invalidation events, until ctx
// is done, the notifier's channels close, or the notifier reports an error
// (which Run returns, as a fatal watcher failure).
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.scanAndWatch(ctx, w.root); err != nil {
		return err
	}
	return w.loop(ctx)
}

func (w *Watcher) scanAndWatch(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if err := w.notifier.Add(path); err != nil {
				w.logger.Printf("failed to watch %s: %v", path, err)
			}
			return nil
		}
		if w.onFile != nil {
			w.onFile(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.notifier.Events():
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.notifier.Errors():
			if !ok {
				return nil
			}
			w.logger.Printf("notifier error: %v", err)
			return err
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		w.handleCreate(ctx, ev.Name)
	case ev.Op&fsnotify.Write == fsnotify.Write:
		w.arm(ctx, ev.Name, pending{kind: invalidation.Modified})
	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		w.arm(ctx, ev.Name, pending{kind: invalidation.Removed})
	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		w.handleRenameFrom(ctx, ev.Name)
	}
}

// handleCreate services two cases fsnotify conflates under one op: a brand
// new path, or the second half of a rename (the OS reports the old path's
// departure and the new path's arrival as two independent events). A Create
// immediately following a pending rename-from is paired into one Renamed
// event; otherwise it is a plain Created.
func (w *Watcher) handleCreate(ctx context.Context, path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := w.notifier.Add(path); err != nil {
			w.logger.Printf("failed to watch new directory %s: %v", path, err)
		}
		w.rescanNewDir(ctx, path)
	}

	w.mu.Lock()
	old := w.pendingRenameFrom
	if old != "" {
		w.pendingRenameFrom = ""
		if w.renameTimer != nil {
			w.renameTimer.Stop()
			w.renameTimer = nil
		}
	}
	w.mu.Unlock()

	if old != "" {
		w.arm(ctx, path, pending{kind: invalidation.Renamed, oldPath: old})
		return
	}
	w.arm(ctx, path, pending{kind: invalidation.Created})
}

// handleRenameFrom records the departing half of a rename. If no paired
// Create arrives within the debounce window, the rename is reported as a
// plain Removed — the destination either never existed (moved outside the
// watched tree) or this watcher missed it.
func (w *Watcher) handleRenameFrom(ctx context.Context, path string) {
	w.mu.Lock()
	w.pendingRenameFrom = path
	if w.renameTimer != nil {
		w.renameTimer.Stop()
	}
	w.renameTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stillPending := w.pendingRenameFrom == path
		if stillPending {
			w.pendingRenameFrom = ""
		}
		w.mu.Unlock()
		if stillPending {
			w.arm(ctx, path, pending{kind: invalidation.Removed})
		}
	})
	w.mu.Unlock()
}

func (w *Watcher) rescanNewDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := w.notifier.Add(full); err != nil {
				w.logger.Printf("failed to watch %s: %v", full, err)
			}
			w.rescanNewDir(ctx, full)
			continue
		}
		w.arm(ctx, full, pending{kind: invalidation.Created})
	}
}

// arm (re)starts the per-path debounce timer, replacing whatever kind was
// previously pending for path. A burst of Write events on the same path thus
// collapses into a single Modified publish once the window elapses.
func (w *Watcher) arm(ctx context.Context, path string, p pending) {
	w.mu.Lock()
	w.pendingByPath[path] = p
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.fire(ctx, path)
	})
	w.mu.Unlock()
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	p, ok := w.pendingByPath[path]
	delete(w.pendingByPath, path)
	delete(w.timers, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	var ev invalidation.Event
	switch p.kind {
	case invalidation.Created, invalidation.Modified:
		if w.onFile != nil {
			w.onFile(ctx, path)
		}
		ev = invalidation.NewEvent(p.kind, path)
	case invalidation.Renamed:
		if w.onFile != nil {
			w.onFile(ctx, path)
		}
		ev = invalidation.NewRenameEvent(p.oldPath, path)
	case invalidation.Removed:
		ev = invalidation.NewEvent(invalidation.Removed, path)
	default:
		return
	}

	if err := w.bus.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Printf("failed to publish %s event for %s: %v", p.kind, path, err)
		return
	}
	if w.metrics != nil {
		w.metrics.InvalidationsSeen.WithLabelValues(ev.Kind.String()).Inc()
	}
}
