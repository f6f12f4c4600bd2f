// Package ioworker implements the bounded round-robin disk-I/O worker pool
// described in spec §4.4, adapted from the dispatch shape of the teacher's
// internal/ghostpool/pool_manager.go (a fixed-size pool of single-slot
// workers addressed by wait-free index arithmetic) but carrying file reads
// instead of sandboxed task executions.
package ioworker

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ocx/devserver/internal/metrics"
)

// CachedFile is the payload of a successful read: the bytes and the modtime
// observed at read time, which the file cache stores verbatim.
type CachedFile struct {
	Path    string
	Bytes   []byte
	ModTime time.Time
}

type request struct {
	path  string
	reply chan result
}

type result struct {
	file *CachedFile
	err  *Error
}

// Pool is a fixed-size set of workers, each with a single-slot inbox.
// Dispatch assigns work via a wait-free atomic fetch-and-add modulo the
// worker count (spec P5: dispatch spreads evenly, no worker starves another).
// There is no elastic resizing or pre-warming — the pool size is fixed at
// construction per spec's explicit Non-goal on elastic worker pools.
type Pool struct {
	workers []chan request
	next    atomic.Uint64
	metrics *metrics.Metrics
	done    chan struct{}
}

// New starts n workers, each reading from a capacity-1 inbox channel so that
// a full inbox blocks Dispatch (admission control) rather than queuing
// unboundedly.
func New(n int, m *metrics.Metrics) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{
		workers: make([]chan request, n),
		metrics: m,
		done:    make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = make(chan request, 1)
		go p.run(i, p.workers[i])
	}
	return p
}

func (p *Pool) run(index int, inbox chan request) {
	label := strconv.Itoa(index)
	for req := range inbox {
		bytes, statErr := os.ReadFile(req.path)
		var res result
		if statErr != nil {
			res.err = classify(statErr)
		} else {
			info, err := os.Stat(req.path)
			modTime := time.Now()
			if err == nil {
				modTime = info.ModTime()
			}
			res.file = &CachedFile{Path: req.path, Bytes: bytes, ModTime: modTime}
		}
		if p.metrics != nil {
			p.metrics.DispatchTotal.WithLabelValues(label).Inc()
		}
		req.reply <- res
	}
}

// Dispatch assigns a read of path to the next worker in round-robin order
// and blocks for its result. A read in progress is never interrupted by ctx
// cancellation — only the wait for admission and the wait for the reply are
// ctx-bound, matching the source's unconditional fs::read.
func (p *Pool) Dispatch(ctx context.Context, path string) (*CachedFile, error) {
	idx := p.next.Add(1) % uint64(len(p.workers))
	req := request{path: path, reply: make(chan result, 1)}

	select {
	case p.workers[idx] <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, errPoolClosed
	}

	select {
	case res := <-req.reply:
		if res.err != nil {
			return nil, res.err
		}
		return res.file, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new work and closes every worker inbox, causing each
// worker's range loop to drain in-flight requests and exit.
func (p *Pool) Close() {
	select {
	case <-p.done:
		return // already closed
	default:
		close(p.done)
	}
	for _, w := range p.workers {
		close(w)
	}
}

var errPoolClosed = &Error{Kind: Other, Err: errClosed{}}

type errClosed struct{}

func (errClosed) Error() string { return "ioworker: pool closed" }
