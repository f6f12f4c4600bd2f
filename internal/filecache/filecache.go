// Package filecache implements the read-through in-memory file cache of
// spec §4.5: a single owning goroutine holds the cache map and reconciles
// two input streams — invalidation obligations from the bus and fetch
// requests from the HTTP responder — exactly as
// original_source/src/filecache.rs's FileCacheState::run selects between its
// invalidation chain and its request channel. Eviction on Created/Modified
// is lazy (the path is dropped, not eagerly re-read); Removed and Renamed
// evict the departing path. At most one disk read is ever outstanding per
// path: concurrent fetches for the same uncached path share the single
// dispatch, grounded on filethread.rs's bounded(1) per-worker channel but
// applied at the cache layer where multiple HTTP requests can race.
package filecache

import (
	"context"
	"log"
	"time"

	"github.com/ocx/devserver/internal/invalidation"
	"github.com/ocx/devserver/internal/ioworker"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/metrics"
)

type fetchRequest struct {
	path  string
	reply chan fetchResult
}

type fetchResult struct {
	file *ioworker.CachedFile
	err  error
}

type dispatchDone struct {
	path string
	file *ioworker.CachedFile
	err  error
}

// inflightEntry tracks the waiters of the one dispatch currently outstanding
// for a path. tainted marks that an invalidation was released for this path
// while the dispatch was still running: per spec §4.5's
// reading --invalidate--> reading′ transition, the result that eventually
// arrives must not be cached, and any Fetch that arrives after the taint
// must not be served by it — those requests queue in pending and get their
// own fresh dispatch once the stale one completes.
type inflightEntry struct {
	waiters []chan fetchResult
	pending []chan fetchResult
	tainted bool
}

// FileCache serves reads from an in-memory map, populated on demand by the
// I/O worker pool and kept coherent by the invalidation bus.
type FileCache struct {
	pool    *ioworker.Pool
	sub     *invalidation.Subscription
	metrics *metrics.Metrics
	logger  *log.Logger

	reqCh      chan fetchRequest
	obligCh    chan *invalidation.Obligation
	dispatchCh chan dispatchDone
}

// New constructs a cache bound to pool for disk reads and sub for
// invalidation. queueCapacity bounds the number of fetch requests that may
// be pending admission to the owning goroutine before Fetch blocks.
func New(pool *ioworker.Pool, bus *invalidation.Bus, m *metrics.Metrics, queueCapacity int) *FileCache {
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &FileCache{
		pool:       pool,
		sub:        bus.Subscribe("filecache"),
		metrics:    m,
		logger:     logging.New("filecache"),
		reqCh:      make(chan fetchRequest, queueCapacity),
		obligCh:    make(chan *invalidation.Obligation, queueCapacity),
		dispatchCh: make(chan dispatchDone, queueCapacity),
	}
}

// Run owns the cache map for its lifetime and must be launched on its own
// goroutine. It returns when ctx is done or the bus subscription closes.
func (c *FileCache) Run(ctx context.Context) error {
	go c.receiveInvalidations(ctx)

	store := make(map[string]*ioworker.CachedFile)
	inFlight := make(map[string]*inflightEntry)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ob, ok := <-c.obligCh:
			if !ok {
				return nil
			}
			c.applyInvalidation(ctx, store, inFlight, ob)
		case req, ok := <-c.reqCh:
			if !ok {
				return nil
			}
			c.serveRequest(ctx, store, inFlight, req)
		case dd := <-c.dispatchCh:
			c.completeDispatch(ctx, store, inFlight, dd)
		}
	}
}

func (c *FileCache) receiveInvalidations(ctx context.Context) {
	for {
		ob, err := c.sub.Receive(ctx)
		if err != nil {
			close(c.obligCh)
			return
		}
		select {
		case c.obligCh <- ob:
		case <-ctx.Done():
			return
		}
		if c.metrics != nil {
			c.metrics.BusLinkDepth.WithLabelValues("filecache").Set(float64(c.sub.Depth()))
		}
	}
}

// applyInvalidation evicts store entries for the invalidated path(s) and
// taints any dispatch already in flight for them, per spec §4.5. Renamed
// moves a cached entry from OldPath to Path when OldPath was cached;
// otherwise Path is left untouched rather than evicted, since the rename
// carries no information about whether Path itself was stale.
func (c *FileCache) applyInvalidation(ctx context.Context, store map[string]*ioworker.CachedFile, inFlight map[string]*inflightEntry, ob *invalidation.Obligation) {
	ev := ob.Event()
	switch ev.Kind {
	case invalidation.Renamed:
		if cached, ok := store[ev.OldPath]; ok {
			delete(store, ev.OldPath)
			store[ev.Path] = cached
		}
		c.taint(inFlight, ev.OldPath)
		c.taint(inFlight, ev.Path)
	default:
		delete(store, ev.Path)
		c.taint(inFlight, ev.Path)
	}
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(ev.Kind.String()).Inc()
	}
	if err := ob.Release(ctx); err != nil {
		c.logger.Printf("failed to release invalidation obligation for %s: %v", ev.Path, err)
	}
}

func (c *FileCache) taint(inFlight map[string]*inflightEntry, path string) {
	if entry, ok := inFlight[path]; ok {
		entry.tainted = true
	}
}

func (c *FileCache) serveRequest(ctx context.Context, store map[string]*ioworker.CachedFile, inFlight map[string]*inflightEntry, req fetchRequest) {
	if cached, ok := store[req.path]; ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		req.reply <- fetchResult{file: cached}
		return
	}

	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	if entry, ok := inFlight[req.path]; ok {
		if entry.tainted {
			// The outstanding dispatch was invalidated mid-flight; its
			// result must not satisfy a request that arrived afterward.
			// Queue behind it and start a fresh dispatch once it lands.
			entry.pending = append(entry.pending, req.reply)
			return
		}
		entry.waiters = append(entry.waiters, req.reply)
		return
	}

	inFlight[req.path] = &inflightEntry{waiters: []chan fetchResult{req.reply}}
	c.dispatch(ctx, req.path)
}

func (c *FileCache) dispatch(ctx context.Context, path string) {
	go func() {
		file, err := c.pool.Dispatch(ctx, path)
		select {
		case c.dispatchCh <- dispatchDone{path: path, file: file, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *FileCache) completeDispatch(ctx context.Context, store map[string]*ioworker.CachedFile, inFlight map[string]*inflightEntry, dd dispatchDone) {
	entry := inFlight[dd.path]
	delete(inFlight, dd.path)
	if entry == nil {
		return
	}

	if dd.err == nil && !entry.tainted {
		store[dd.path] = dd.file
	}
	for _, w := range entry.waiters {
		w <- fetchResult{file: dd.file, err: dd.err}
	}

	if len(entry.pending) > 0 {
		inFlight[dd.path] = &inflightEntry{waiters: entry.pending}
		c.dispatch(ctx, dd.path)
	}
}

// Fetch serves path from the cache or, on a miss, dispatches a disk read and
// waits for it. Concurrent Fetch calls for the same uncached path share one
// dispatch.
func (c *FileCache) Fetch(ctx context.Context, path string) (*ioworker.CachedFile, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	reply := make(chan fetchResult, 1)
	select {
	case c.reqCh <- fetchRequest{path: path, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.file, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WarmUp eagerly fetches every path, populating the cache before the HTTP
// responder starts serving. Failures are logged, not returned: a missing
// warm-up path must not prevent the server from starting.
func (c *FileCache) WarmUp(ctx context.Context, paths []string) {
	for _, p := range paths {
		if _, err := c.Fetch(ctx, p); err != nil {
			c.logger.Printf("warm-up fetch failed for %s: %v", p, err)
		}
	}
}
