// Package codesignpool offloads blocking code-signature extraction off the
// scan loop's critical path. It is shaped after a recyclable-worker pool:
// a fixed number of long-lived workers pull tasks from a shared queue,
// liveness is tracked per worker rather than assumed, and on shutdown any
// queued or in-flight task fails fast instead of hanging.
package codesignpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/sigcache"
)

// ErrPoolUnavailable is returned when zero workers remain alive; the
// caller is expected to fall back to in-thread signature collection.
var ErrPoolUnavailable = errors.New("codesignpool: no workers available")

// ErrShutdown is returned for any task submitted during or queued before
// shutdown.
var ErrShutdown = errors.New("codesignpool: pool is shutting down")

// CollectorFunc performs the actual (blocking) signature extraction. In
// production this is collectors.Signature; tests inject a fake.
type CollectorFunc func(ctx context.Context, execPath string) *procmodel.Signature

// TaskTimeout bounds each individual signature collection, per §4.3.
const TaskTimeout = 5 * time.Second

type task struct {
	ctx      context.Context
	execPath string
	result   chan *procmodel.Signature
}

// Pool is a fixed-size worker pool servicing signatureOf requests.
type Pool struct {
	collector CollectorFunc
	tasks     chan task

	mu          sync.Mutex
	liveWorkers int
	closed      bool

	busyWorkers int32

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New starts a pool of `size` workers (default 2 if size <= 0).
func New(size int, collector CollectorFunc) *Pool {
	if size <= 0 {
		size = 2
	}
	p := &Pool{
		collector:  collector,
		tasks:      make(chan task, size*4),
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.mu.Lock()
	p.liveWorkers = size
	p.mu.Unlock()
	return p
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("codesign worker crashed; not restarting", "worker", id, "panic", r)
			p.mu.Lock()
			p.liveWorkers--
			remaining := p.liveWorkers
			p.mu.Unlock()
			if remaining <= 0 {
				slog.Warn("codesignpool has zero live workers; callers will fall back inline")
			}
		}
	}()

	for {
		select {
		case <-p.shutdownCh:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t task) {
	atomic.AddInt32(&p.busyWorkers, 1)
	defer atomic.AddInt32(&p.busyWorkers, -1)

	ctx, cancel := context.WithTimeout(t.ctx, TaskTimeout)
	defer cancel()

	done := make(chan *procmodel.Signature, 1)
	go func() {
		done <- p.collector(ctx, t.execPath)
	}()

	select {
	case sig := <-done:
		t.result <- sig
	case <-ctx.Done():
		t.result <- nil
	}
}

// BusyWorkers reports how many workers are currently executing a task.
func (p *Pool) BusyWorkers() int {
	return int(atomic.LoadInt32(&p.busyWorkers))
}

// SignatureOf requests a signature for execPath, using a live worker. If
// no workers remain it returns ErrPoolUnavailable immediately so the
// caller can fall back to inline collection.
func (p *Pool) SignatureOf(ctx context.Context, execPath string) (*procmodel.Signature, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	if p.liveWorkers <= 0 {
		p.mu.Unlock()
		return nil, ErrPoolUnavailable
	}
	p.mu.Unlock()

	t := task{ctx: ctx, execPath: execPath, result: make(chan *procmodel.Signature, 1)}

	select {
	case p.tasks <- t:
	case <-p.shutdownCh:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case sig := <-t.result:
		return sig, nil
	case <-p.shutdownCh:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LiveWorkers reports how many workers are still running.
func (p *Pool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveWorkers
}

// Stop drains queued tasks (failing them with ErrShutdown) and stops all
// workers. It does not wait for in-flight collector calls beyond their own
// timeout.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.shutdownCh)

	for {
		select {
		case <-p.tasks:
			// The submitter is waiting on shutdownCh and gets ErrShutdown.
		default:
			p.wg.Wait()
			return
		}
	}
}

// InlineFallback runs the collector in the caller's own goroutine, bounded
// by TaskTimeout. It satisfies the same single-method capability as Pool
// so the orchestrator can hold either behind one interface.
type InlineFallback struct {
	Collector CollectorFunc
}

func (f InlineFallback) SignatureOf(ctx context.Context, execPath string) (*procmodel.Signature, error) {
	cctx, cancel := context.WithTimeout(ctx, TaskTimeout)
	defer cancel()
	return f.Collector(cctx, execPath), nil
}

// SignatureSource is the capability the orchestrator depends on: either a
// Pool or an InlineFallback.
type SignatureSource interface {
	SignatureOf(ctx context.Context, execPath string) (*procmodel.Signature, error)
}

var _ SignatureSource = (*Pool)(nil)
var _ SignatureSource = InlineFallback{}

// CachingCollector wraps base with a sigcache lookup/insert pair, per
// §4.2/§4.3: the signature cache is exclusively owned by the codesign
// worker pool, so all of its mutation happens from inside whatever
// CollectorFunc a worker executes. The returned CollectorFunc is what
// callers should pass to New — a cache hit never calls base at all; a
// miss calls base and, on success, inserts the result (error/nil results
// are never cached, since they are often transient per §4.2). onLookup,
// if non-nil, is invoked with the hit/miss outcome of every lookup so the
// caller can feed it into metrics; pass nil to skip that bookkeeping.
func CachingCollector(cache *sigcache.Cache, base CollectorFunc, onLookup func(hit bool)) CollectorFunc {
	return func(ctx context.Context, execPath string) *procmodel.Signature {
		if sig, ok := cache.Lookup(execPath); ok {
			if onLookup != nil {
				onLookup(true)
			}
			return sig
		}
		if onLookup != nil {
			onLookup(false)
		}
		sig := base(ctx, execPath)
		if sig != nil {
			cache.Insert(execPath, sig)
		}
		return sig
	}
}
