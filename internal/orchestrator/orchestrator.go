// Package orchestrator drives the scan loop: collector fan-out under a
// deadline, per-pid batch enrichment with scanner-cache reuse and
// selective signature lookups, classification, commit to the store, and
// adaptive self-re-arming scheduling. It is modeled as a single logical
// task (`for { scan(); sleep(next); }`) cancelled via context, per §9's
// explicit redesign guidance away from a global timer singleton.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/procscope/procscope/internal/auditlog"
	"github.com/procscope/procscope/internal/classifier"
	"github.com/procscope/procscope/internal/codesignpool"
	"github.com/procscope/procscope/internal/collectors"
	"github.com/procscope/procscope/internal/config"
	"github.com/procscope/procscope/internal/fanout"
	"github.com/procscope/procscope/internal/metrics"
	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/procstore"
)

// Environment is the ambient process-owner / host-facts record the
// classifier needs, injected so tests can simulate root/non-root and
// arbitrary usernames without touching real syscalls, per §9.
type Environment struct {
	HostUser string
	HomeDir  string
}

// CollectorSet is the three external collectors the orchestrator fans
// out to every scan. Tests substitute fakes here instead of shelling out.
type CollectorSet struct {
	ListProcesses func(ctx context.Context) []procmodel.RawProcess
	Connections   func(ctx context.Context) map[int]*procmodel.ConnectionSummary
	LaunchDaemons func(ctx context.Context) map[int]string
}

// DefaultCollectorSet wires the real OS-facing collectors from §4.1.
func DefaultCollectorSet() CollectorSet {
	return CollectorSet{
		ListProcesses: collectors.ListProcesses,
		Connections:   collectors.ConnectionSummaries,
		LaunchDaemons: collectors.LaunchDaemons,
	}
}

// cacheEntry is one scanner-cache row, §3's ScannerCacheEntry.
type cacheEntry struct {
	fingerprint procmodel.Fingerprint
	level       procmodel.SuspicionLevel
	reasons     []string
}

// Orchestrator owns the scan loop's lifetime. It is constructed once by
// the engine and never shared as a package-level singleton.
type Orchestrator struct {
	cfg         config.ScanConfig
	store       *procstore.Store
	sig         codesignpool.SignatureSource
	audit       *auditlog.Writer
	metrics     *metrics.Metrics
	bus         *fanout.Bus
	collectors  CollectorSet
	env         Environment

	cacheMu sync.Mutex
	cache   map[int]cacheEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Orchestrator. sig may be a *codesignpool.Pool or a
// codesignpool.InlineFallback — both satisfy SignatureSource. bus may be
// nil (single-instance, no cross-replica fan-out).
func New(cfg config.ScanConfig, store *procstore.Store, sig codesignpool.SignatureSource, audit *auditlog.Writer, m *metrics.Metrics, bus *fanout.Bus, cs CollectorSet, env Environment) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		sig:        sig,
		audit:      audit,
		metrics:    m,
		bus:        bus,
		collectors: cs,
		env:        env,
		cache:      make(map[int]cacheEntry),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run starts the self-re-arming scan loop and blocks until ctx is
// cancelled or Stop is called. It is meant to be run in its own
// goroutine by the engine.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.doneCh)

	interval := time.Duration(o.cfg.MinIntervalSec) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		next, err := o.runScanRecovered(ctx)
		if err != nil {
			slog.Warn("orchestrator: scan failed", "err", err)
		} else if next > 0 {
			interval = next
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-o.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop ends the scan loop after its current iteration. It does not
// interrupt a scan in progress.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.doneCh
}

// runScanRecovered wraps runScan with a top-level recover(): a panic
// inside one scan is logged at error level and stops the orchestrator
// from scheduling further scans instead of crashing the whole process.
// It does not shut down the rest of the engine; the HTTP surface and push
// hub keep serving the last committed sequence.
func (o *Orchestrator) runScanRecovered(ctx context.Context) (next time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: panic during scan; stopping scheduler", "panic", r)
			err = errPanic
			o.Stop()
		}
	}()
	return o.runScan(ctx)
}

var errPanic = errors.New("orchestrator: recovered panic")

// runScan performs one full scan iteration per §4.5's nine steps and
// returns the adaptive interval chosen for the next one.
//
// Step 2's 200-process cap is a load-shedding policy applied in collector
// order, not rank-by-suspicion — critical processes beyond position 200
// are a known, accepted bias (§9's third Open Question resolution).
func (o *Orchestrator) runScan(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.CollectorTimeoutSec)*time.Second)
	defer cancel()

	raw, conns, launchd, err := o.collectAll(cctx)
	if err != nil {
		o.recordScan("timed_out", time.Since(start))
		return 0, err
	}

	if len(raw) > o.cfg.ProcessCap {
		raw = raw[:o.cfg.ProcessCap]
	}

	byPID := make(map[int]procmodel.RawProcess, len(raw))
	for _, p := range raw {
		byPID[p.PID] = p
	}

	rows := o.enrichAll(ctx, raw, byPID, conns, launchd)

	seen := make(map[int]bool, len(rows))
	for _, r := range rows {
		seen[r.PID] = true
	}
	vanished := o.pruneCache(seen)

	procstore.SortRows(rows)

	o.store.Update(rows)
	if o.bus != nil {
		o.bus.PublishChanged(ctx)
	}

	if o.audit != nil {
		for _, r := range rows {
			if r.Level == procmodel.LevelHIGH || r.Level == procmodel.LevelCRITICAL {
				o.audit.Append(r)
			}
		}
		for _, pid := range vanished {
			o.audit.ForgetPID(pid)
		}
	}

	o.recordScan("committed", time.Since(start))
	if o.metrics != nil {
		low, med, high, crit := tally(rows)
		o.metrics.RecordClassifyLevels(low, med, high, crit)
	}

	next := nextInterval(rows, o.cfg)
	if o.metrics != nil {
		o.metrics.SetNextInterval(next.Seconds())
	}
	slog.Info("orchestrator: scan committed", "processes", len(rows), "next_interval", next)
	return next, nil
}

func (o *Orchestrator) recordScan(outcome string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordScan(outcome, d.Seconds())
	}
}

// collectAll fans out the three collectors concurrently so every row in
// one scan observes the same collector snapshot, per §5's ordering
// guarantee. If the context's deadline passes before all three return,
// it returns an error and the scan is aborted entirely — store not
// updated, per §7.
func (o *Orchestrator) collectAll(ctx context.Context) ([]procmodel.RawProcess, map[int]*procmodel.ConnectionSummary, map[int]string, error) {
	type result struct {
		raw     []procmodel.RawProcess
		conns   map[int]*procmodel.ConnectionSummary
		launchd map[int]string
	}
	resCh := make(chan result, 1)

	go func() {
		var wg sync.WaitGroup
		var res result
		wg.Add(3)
		go func() { defer wg.Done(); res.raw = o.collectors.ListProcesses(ctx) }()
		go func() { defer wg.Done(); res.conns = o.collectors.Connections(ctx) }()
		go func() { defer wg.Done(); res.launchd = o.collectors.LaunchDaemons(ctx) }()
		wg.Wait()
		resCh <- res
	}()

	select {
	case res := <-resCh:
		return res.raw, res.conns, res.launchd, nil
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}
}

// enrichAll runs the per-pid join and classification in batches of
// cfg.BatchSize concurrent tasks, per §4.5 step 4.
func (o *Orchestrator) enrichAll(ctx context.Context, raw []procmodel.RawProcess, byPID map[int]procmodel.RawProcess, conns map[int]*procmodel.ConnectionSummary, launchd map[int]string) []procmodel.Process {
	batchSize := o.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	rows := make([]procmodel.Process, len(raw))

	for start := 0; start < len(raw); start += batchSize {
		end := start + batchSize
		if end > len(raw) {
			end = len(raw)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rows[i] = o.enrichOne(ctx, raw[i], byPID, conns, launchd)
			}(i)
		}
		wg.Wait()
	}
	return rows
}

// enrichOne joins one raw process with its connections/launchd/parent,
// reuses the scanner cache when the fingerprint is unchanged, otherwise
// optionally fetches a signature and classifies.
func (o *Orchestrator) enrichOne(ctx context.Context, raw procmodel.RawProcess, byPID map[int]procmodel.RawProcess, conns map[int]*procmodel.ConnectionSummary, launchd map[int]string) procmodel.Process {
	p := procmodel.Process{
		PID:      raw.PID,
		PPID:     raw.PPID,
		Name:     raw.Name,
		Cmd:      raw.Cmd,
		User:     raw.User,
		ExecPath: raw.ExecPath,
		CPU:      raw.CPU,
		Mem:      raw.Mem,
	}
	if parent, ok := byPID[raw.PPID]; ok {
		p.ParentName = parent.Name
	}
	if label, ok := launchd[raw.PID]; ok {
		p.Launchd = label
	}
	if cs, ok := conns[raw.PID]; ok && cs != nil {
		p.Connections = *cs
	}

	fp := procmodel.ComputeFingerprint(p.PID, p.ExecPath, p.Cmd, p.Connections.Outbound+p.Connections.Listen)

	o.cacheMu.Lock()
	cached, hit := o.cache[p.PID]
	o.cacheMu.Unlock()

	if hit && cached.fingerprint == fp {
		p.Level = cached.level
		p.Reasons = cached.reasons
		return p
	}

	if p.Connections.Outbound > o.cfg.HighOutboundThreshold {
		p.Codesign = o.lookupSignature(ctx, p.ExecPath)
	}

	result := classifier.Classify(classifier.Input{
		PID:        p.PID,
		Name:       p.Name,
		Cmd:        p.Cmd,
		ExecPath:   p.ExecPath,
		User:       p.User,
		Outbound:   p.Connections.Outbound,
		Listen:     p.Connections.Listen,
		Remotes:    p.Connections.Remotes,
		Launchd:    p.Launchd,
		Signature:  p.Codesign,
		ParentName: p.ParentName,
		HostUser:   o.env.HostUser,
		HomeDir:    o.env.HomeDir,
	})
	p.Level = result.Level
	p.Reasons = result.Reasons

	o.cacheMu.Lock()
	o.cache[p.PID] = cacheEntry{fingerprint: fp, level: result.Level, reasons: result.Reasons}
	o.cacheMu.Unlock()

	return p
}

// lookupSignature requests a signature via the worker pool, wrapped by a
// 2s caller-side timeout (§4.5 step 4), falling back to in-thread
// collection if the pool itself is unavailable.
func (o *Orchestrator) lookupSignature(ctx context.Context, execPath string) *procmodel.Signature {
	if execPath == "" || o.sig == nil {
		return nil
	}

	wrapperMs := o.cfg.SignatureWrapperMs
	if wrapperMs <= 0 {
		wrapperMs = 2000
	}
	wctx, cancel := context.WithTimeout(ctx, time.Duration(wrapperMs)*time.Millisecond)
	defer cancel()

	sig, err := o.sig.SignatureOf(wctx, execPath)
	if errors.Is(err, codesignpool.ErrPoolUnavailable) {
		sig, err = codesignpool.InlineFallback{Collector: collectors.Signature}.SignatureOf(wctx, execPath)
	}
	if err != nil {
		return nil
	}
	return sig
}

// pruneCache drops scanner-cache entries for pids absent from the
// current scan, per §4.5 step 5 / §3's lifecycle invariant, and returns
// exactly those vanished pids so the caller can purge any other
// per-pid lifetime state (the audit log's dedup memory) in step.
func (o *Orchestrator) pruneCache(seen map[int]bool) []int {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	var vanished []int
	for pid := range o.cache {
		if !seen[pid] {
			vanished = append(vanished, pid)
			delete(o.cache, pid)
		}
	}
	return vanished
}

// nextInterval implements the adaptive cadence from §4.5: CRITICAL
// presence always wins regardless of other conditions, then HIGH, then
// the low-load fast path, with everything else defaulting to 10s.
func nextInterval(rows []procmodel.Process, cfg config.ScanConfig) time.Duration {
	min := time.Duration(cfg.MinIntervalSec) * time.Second
	max := time.Duration(cfg.MaxIntervalSec) * time.Second

	_, med, high, crit := tally(rows)

	var interval time.Duration
	switch {
	case crit > 0:
		interval = 5 * time.Second
	case high > 0:
		interval = 7 * time.Second
	case len(rows) < 100 && med == 0 && high == 0 && crit == 0:
		interval = 15 * time.Second
	default:
		interval = 10 * time.Second
	}

	if interval < min {
		interval = min
	}
	if interval > max {
		interval = max
	}
	return interval
}

func tally(rows []procmodel.Process) (low, med, high, crit int) {
	for _, r := range rows {
		switch r.Level {
		case procmodel.LevelLOW:
			low++
		case procmodel.LevelMED:
			med++
		case procmodel.LevelHIGH:
			high++
		case procmodel.LevelCRITICAL:
			crit++
		}
	}
	return
}
