// Copyright (C) 2026 pixlru Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package loader implements a single-flight load/display engine: a
// per-URI mutex map deduplicating concurrent loads, a pause/resume
// gate, and dispatch between a "cached" and "uncached" executor so
// disk hits are never starved by downloads in flight.
//
// Single-flight here means one filler per URI: everyone else waits on
// the same lock and then finds the result already cached, rather than
// queuing a redundant fetch.
package loader

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EngineOptions configures a new Engine.
type EngineOptions struct {
	MemCache   MemCache // optional
	DiskCache  DiskCache
	Downloader Downloader
	Decoder    Decoder // optional; nil passes bytes through unchanged
	Dispatcher Dispatcher

	// CachedPoolSize bounds concurrent tasks dispatched to the
	// "cached" pool (disk-hit path).
	CachedPoolSize int
	// UncachedPoolSize bounds concurrent tasks dispatched to the
	// "uncached" pool (network path).
	UncachedPoolSize int
	// SlowNetworkFactor is how many uncached-pool slots a single
	// network task occupies once HandleSlowNetwork(true) is active,
	// shrinking the pool's effective concurrency without resizing it.
	SlowNetworkFactor int

	// PauseCheckInterval is how often a paused engine rebroadcasts
	// its pause condition, so a task whose view is collected while
	// paused notices without waiting for an explicit Resume or
	// CancelDisplayTaskFor. Defaults to 50ms.
	PauseCheckInterval time.Duration

	Logger Logger
}

// Stats exposes submitted/completed/cancelled/failed task counters,
// analogous to diskcache.Cache.Stats.
type Stats struct {
	Submitted int64
	Completed int64
	Cancelled int64
	Failed    int64
}

// Engine is the load/display scheduler.
type Engine struct {
	mem  MemCache
	disk DiskCache
	down Downloader
	dec  Decoder
	disp Dispatcher
	log  Logger
	opts EngineOptions

	viewMu     sync.Mutex
	keyForView map[ViewID]string

	locks *uriLockTable

	cachedPool   *pool
	uncachedPool *pool

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    int32 // atomic bool

	networkDenied int32 // atomic bool
	slowNetwork   int32 // atomic bool

	stopped   int32 // atomic bool
	stopOnce  sync.Once
	tickerDie chan struct{}

	submitted, completed, cancelled, failed int64 // atomic
}

// New constructs an Engine from opts. Dispatcher defaults to
// SyncDispatcher. Without a DiskCache downloads are not cached on
// disk; without a Downloader every disk miss fails with NetworkDenied.
func New(opts EngineOptions) *Engine {
	if opts.Dispatcher == nil {
		opts.Dispatcher = SyncDispatcher{}
	}
	if opts.CachedPoolSize < 1 {
		opts.CachedPoolSize = 8
	}
	if opts.UncachedPoolSize < 1 {
		opts.UncachedPoolSize = 2
	}
	if opts.SlowNetworkFactor < 1 {
		opts.SlowNetworkFactor = 2
	}
	if opts.PauseCheckInterval <= 0 {
		opts.PauseCheckInterval = 50 * time.Millisecond
	}
	e := &Engine{
		mem:          opts.MemCache,
		disk:         opts.DiskCache,
		down:         opts.Downloader,
		dec:          opts.Decoder,
		disp:         opts.Dispatcher,
		log:          opts.Logger,
		opts:         opts,
		keyForView:   make(map[ViewID]string),
		locks:        newURILockTable(),
		cachedPool:   newPool(opts.CachedPoolSize),
		uncachedPool: newPool(opts.UncachedPoolSize),
		tickerDie:    make(chan struct{}),
	}
	e.pauseCond = sync.NewCond(&e.pauseMu)
	go e.pauseTicker()
	return e
}

// pauseTicker periodically rebroadcasts the pause condition while
// paused, so a waiter blocked in the pause gate notices a view
// collection or external cancellation even though nothing called
// Resume. It is a no-op when not paused.
func (e *Engine) pauseTicker() {
	t := time.NewTicker(e.opts.PauseCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-e.tickerDie:
			return
		case <-t.C:
			if atomic.LoadInt32(&e.paused) != 0 {
				e.pauseMu.Lock()
				e.pauseCond.Broadcast()
				e.pauseMu.Unlock()
			}
		}
	}
}

// Submit enqueues a load/display request. The task always runs
// asynchronously; req.Options.Synchronous only makes the listener
// callbacks run on the task's goroutine instead of through the
// Dispatcher. Results arrive via req.Listener.
func (e *Engine) Submit(req Request) {
	if atomic.LoadInt32(&e.stopped) != 0 {
		return
	}
	req.id = uuid.New().String()
	atomic.AddInt64(&e.submitted, 1)

	e.viewMu.Lock()
	e.keyForView[req.View] = req.URI
	e.viewMu.Unlock()

	logf(e.log, "loader[%s]: submit %s", req.id, req.URI)
	go e.dispatch(req)
}

// dispatch performs a quick synchronous disk probe, then routes the
// full task body to whichever pool fits, so a disk hit is never
// queued behind an in-flight download.
func (e *Engine) dispatch(req Request) {
	weight := 1
	p := e.uncachedPool
	if e.probeDisk(req.URI) {
		p = e.cachedPool
	} else if atomic.LoadInt32(&e.slowNetwork) != 0 {
		weight = e.opts.SlowNetworkFactor
	}
	p.submit(weight, func() { e.run(req) })
}

func (e *Engine) probeDisk(uri string) bool {
	if e.disk == nil {
		return false
	}
	f, err := e.disk.Get(uri)
	if err != nil || f == nil {
		return false
	}
	f.Close()
	return true
}

// Pause suspends the pause gate; in-flight tasks
// past that checkpoint are unaffected.
func (e *Engine) Pause() { atomic.StoreInt32(&e.paused, 1) }

// Resume releases every task waiting at the pause gate.
func (e *Engine) Resume() {
	atomic.StoreInt32(&e.paused, 0)
	e.pauseMu.Lock()
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
}

// DenyNetworkDownloads toggles whether an uncached (disk-miss) task
// is allowed to reach the downloader.
func (e *Engine) DenyNetworkDownloads(deny bool) {
	if deny {
		atomic.StoreInt32(&e.networkDenied, 1)
	} else {
		atomic.StoreInt32(&e.networkDenied, 0)
	}
}

// HandleSlowNetwork toggles the uncached pool's throttled mode: while
// set, each network task occupies SlowNetworkFactor pool slots.
func (e *Engine) HandleSlowNetwork(slow bool) {
	if slow {
		atomic.StoreInt32(&e.slowNetwork, 1)
	} else {
		atomic.StoreInt32(&e.slowNetwork, 0)
	}
}

// CancelDisplayTaskFor marks view as no longer expecting any
// in-flight task's result and wakes any task waiting at the pause
// gate so it can notice immediately.
func (e *Engine) CancelDisplayTaskFor(view ViewID) {
	e.viewMu.Lock()
	delete(e.keyForView, view)
	e.viewMu.Unlock()
	e.pauseMu.Lock()
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
}

// Stop prevents further Submit calls from scheduling work and wakes
// every task waiting at the pause gate so they can observe
// cancellation and exit. It does not wait for in-flight tasks to
// finish; call Wait after Stop if that's needed.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		atomic.StoreInt32(&e.stopped, 1)
		close(e.tickerDie)
	})
	e.pauseMu.Lock()
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
}

// Wait blocks until every task submitted so far to either pool has
// returned. Intended for tests and graceful shutdown after Stop.
func (e *Engine) Wait() {
	e.cachedPool.wait()
	e.uncachedPool.wait()
}

// Stats returns a point-in-time snapshot of task counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&e.submitted),
		Completed: atomic.LoadInt64(&e.completed),
		Cancelled: atomic.LoadInt64(&e.cancelled),
		Failed:    atomic.LoadInt64(&e.failed),
	}
}
