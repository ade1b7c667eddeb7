// Package engine wires every collaborator — collectors, caches, worker
// pool, classifier, store, push hub, orchestrator, audit log, metrics,
// HTTP surface — into one explicit value whose lifetime is owned by
// Start/Stop. This replaces the "global mutable singleton" pattern §9
// flags for the process store, worker pool, subscriber set, and
// signature cache: every test constructs its own fresh Engine (or its
// individual collaborators directly) instead of reaching for package
// state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/user"
	"syscall"
	"time"

	"github.com/procscope/procscope/internal/api"
	"github.com/procscope/procscope/internal/auditlog"
	"github.com/procscope/procscope/internal/codesignpool"
	"github.com/procscope/procscope/internal/collectors"
	"github.com/procscope/procscope/internal/config"
	"github.com/procscope/procscope/internal/fanout"
	"github.com/procscope/procscope/internal/metrics"
	"github.com/procscope/procscope/internal/orchestrator"
	"github.com/procscope/procscope/internal/procstore"
	"github.com/procscope/procscope/internal/pushhub"
	"github.com/procscope/procscope/internal/sigcache"
)

// Engine owns every long-lived collaborator for one procscope instance.
type Engine struct {
	cfg *config.Config

	store   *procstore.Store
	hub     *pushhub.Hub
	pool    *codesignpool.Pool
	metrics *metrics.Metrics
	bus     *fanout.Bus
	audit   *auditlog.Writer
	orch    *orchestrator.Orchestrator

	httpServer *http.Server

	busUnsubscribe func()
}

// New wires a fresh Engine from cfg. It never panics: a failed Redis
// connection or audit-log path just disables that one collaborator and
// is logged, per §7's error taxonomy (nothing here is load-bearing
// enough to refuse to start).
func New(cfg *config.Config) (*Engine, error) {
	store := procstore.New()
	hub := pushhub.New(store)
	m := metrics.New()

	cache := sigcache.New(cfg.SigCache.MaxEntries)
	collector := codesignpool.CachingCollector(cache, collectors.Signature, m.RecordCacheLookup)
	pool := codesignpool.New(cfg.Pool.Size, collector)

	var bus *fanout.Bus
	if cfg.Redis.Addr != "" {
		b, err := fanout.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("engine: redis fan-out unavailable, continuing single-instance", "err", err)
		} else {
			bus = b
		}
	}

	audit, err := auditlog.New(cfg.AuditLog.Path)
	if err != nil {
		slog.Warn("engine: audit log unavailable", "path", cfg.AuditLog.Path, "err", err)
		audit = nil
	} else if m != nil {
		audit.OnOutcome(m.RecordAuditWrite)
	}

	env := ambientEnvironment()

	orch := orchestrator.New(cfg.Scan, store, signatureSource(pool), audit, m, bus, orchestrator.DefaultCollectorSet(), env)

	srv := api.New(store, hub, cfg.Security.KillToken, killPID, cfg.Server.CORSAllowOrigins)

	return &Engine{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		pool:    pool,
		metrics: m,
		bus:     bus,
		audit:   audit,
		orch:    orch,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
			Handler: srv,
		},
	}, nil
}

// signatureSource returns the pool as the orchestrator's SignatureSource.
// Once the pool has no live workers left, SignatureOf returns
// ErrPoolUnavailable and the orchestrator collects that signature inline
// instead (live-worker counts reach metrics via reportGaugesUntil).
func signatureSource(pool *codesignpool.Pool) codesignpool.SignatureSource {
	return pool
}

func ambientEnvironment() orchestrator.Environment {
	env := orchestrator.Environment{HostUser: "root", HomeDir: "/"}
	if u, err := user.Current(); err == nil {
		env.HostUser = u.Username
		env.HomeDir = u.HomeDir
	}
	return env
}

func killPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Start begins the scan loop and the HTTP/WS listener. It returns once
// the HTTP server stops listening (normally only after Stop is called).
func (e *Engine) Start(ctx context.Context) error {
	go e.orch.Run(ctx)
	go e.reportGaugesUntil(ctx)

	if e.bus != nil {
		unsubscribe, err := e.bus.OnChanged(ctx, func() {
			e.metrics.RecordRemoteStoreChanged()
			slog.Debug("engine: another instance reported a store change")
		})
		if err != nil {
			slog.Warn("engine: could not subscribe to redis fan-out", "err", err)
		} else {
			e.busUnsubscribe = unsubscribe
		}
	}

	slog.Info("engine: listening", "addr", e.httpServer.Addr)
	err := e.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains every collaborator within the configured shutdown budget:
// stops scheduling new scans, drains the worker pool, closes every
// subscriber with close code 1001, and shuts down the HTTP listener.
func (e *Engine) Stop(ctx context.Context) error {
	budget := time.Duration(e.cfg.Server.ShutdownTimeoutSec) * time.Second
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	e.orch.Stop()
	select {
	case <-e.orch.Done():
	case <-cctx.Done():
		slog.Warn("engine: orchestrator did not stop within shutdown budget")
	}

	e.pool.Stop()
	e.hub.Stop()

	if e.busUnsubscribe != nil {
		e.busUnsubscribe()
	}
	if e.bus != nil {
		_ = e.bus.Close()
	}

	return e.httpServer.Shutdown(cctx)
}

// Store exposes the process store for tests and tooling that want to
// drive the engine's data without going through HTTP.
func (e *Engine) Store() *procstore.Store { return e.store }

// reportGaugesUntil periodically samples the worker pool's liveness and
// the hub's subscriber count into Prometheus gauges, since neither is
// naturally an event-driven counter.
func (e *Engine) reportGaugesUntil(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.metrics.WorkerPoolLive.Set(float64(e.pool.LiveWorkers()))
			e.metrics.WorkerPoolBusy.Set(float64(e.pool.BusyWorkers()))
			e.metrics.Subscribers.Set(float64(e.hub.ActiveConnections()))
		}
	}
}
