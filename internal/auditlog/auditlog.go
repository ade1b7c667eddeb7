// Package auditlog appends one JSON line per HIGH/CRITICAL process
// observed by a scan to the suspicious-event audit log at §6's
// `~/.procscope/suspicious-processes.log`. Writes are fire-and-forget
// from the orchestrator's perspective: failures are logged and never
// propagated, matching the teacher's non-blocking `go func()` persist
// pattern for audit-style writes.
package auditlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

// Entry is one audit-log line, per §6's field list.
type Entry struct {
	Timestamp   time.Time               `json:"timestamp"`
	Level       string                  `json:"level"`
	PID         int                     `json:"pid"`
	PPID        int                     `json:"ppid"`
	Name        string                  `json:"name"`
	User        string                  `json:"user"`
	Cmd         string                  `json:"cmd"`
	ExecPath    string                  `json:"execPath"`
	Parent      string                  `json:"parent"`
	Reasons     []string                `json:"reasons"`
	Connections entryConnections        `json:"connections"`
	Codesign    *entryCodesign          `json:"codesign,omitempty"`
}

type entryConnections struct {
	Outbound int      `json:"outbound"`
	Listen   int      `json:"listen"`
	Remotes  []string `json:"remotes"`
}

type entryCodesign struct {
	Signed    bool   `json:"signed"`
	Valid     bool   `json:"valid"`
	TeamID    string `json:"teamId"`
	Notarized bool   `json:"notarized"`
}

// Writer appends audit entries to a JSONL file, deduplicating by
// `pid|name|level` within one process lifetime — a process that stays
// HIGH across many consecutive scans is only logged once, not every scan.
// Dedup memory is kept per-pid (the set of `pid|name|level` keys already
// logged for that pid) so ForgetPID can purge an entire lifetime's worth
// of keys without needing to know which name/level they were logged
// under.
type Writer struct {
	path string

	mu   sync.Mutex
	seen map[int]map[string]bool

	// recordOutcome is set by the caller (the metrics package, through
	// the engine) to observe write/skip/error outcomes; nil is fine and
	// simply means "don't record".
	recordOutcome func(outcome string)
}

// New constructs a Writer appending to path, creating its parent
// directory if needed.
func New(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Writer{path: path, seen: make(map[int]map[string]bool)}, nil
}

// OnOutcome registers a callback invoked with "written", "dedup_skipped",
// or "error" after every Append attempt.
func (w *Writer) OnOutcome(fn func(outcome string)) {
	w.recordOutcome = fn
}

// ForgetPID clears all dedup memory for a pid. Callers must invoke this
// exactly when a pid disappears from a scan (never while it is merely
// below HIGH/CRITICAL but still running) so that a reused pid starts a
// fresh process lifetime instead of inheriting a stale dedup key.
func (w *Writer) ForgetPID(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, pid)
}

// Append logs one HIGH/CRITICAL process asynchronously. It returns
// immediately; the caller never blocks on disk I/O.
func (w *Writer) Append(p procmodel.Process) {
	go w.appendSync(p)
}

func (w *Writer) appendSync(p procmodel.Process) {
	key := dedupKey(p.PID, p.Name, p.Level)

	w.mu.Lock()
	keys := w.seen[p.PID]
	if keys == nil {
		keys = make(map[string]bool)
		w.seen[p.PID] = keys
	}
	if keys[key] {
		w.mu.Unlock()
		w.report("dedup_skipped")
		return
	}
	keys[key] = true
	w.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now(),
		Level:     p.Level.String(),
		PID:       p.PID,
		PPID:      p.PPID,
		Name:      p.Name,
		User:      p.User,
		Cmd:       p.Cmd,
		ExecPath:  p.ExecPath,
		Parent:    p.ParentName,
		Reasons:   p.Reasons,
		Connections: entryConnections{
			Outbound: p.Connections.Outbound,
			Listen:   p.Connections.Listen,
			Remotes:  boundedRemotes(p.Connections.Remotes, 5),
		},
	}
	if p.Codesign != nil {
		entry.Codesign = &entryCodesign{
			Signed:    p.Codesign.Signed,
			Valid:     p.Codesign.Valid,
			TeamID:    p.Codesign.TeamIdentifier,
			Notarized: p.Codesign.Notarized,
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		slog.Error("auditlog: marshal failed", "pid", p.PID, "err", err)
		w.report("error")
		return
	}
	line = append(line, '\n')

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("auditlog: open failed", "path", w.path, "err", err)
		w.report("error")
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		slog.Error("auditlog: write failed", "path", w.path, "err", err)
		w.report("error")
		return
	}
	w.report("written")
}

func (w *Writer) report(outcome string) {
	if w.recordOutcome != nil {
		w.recordOutcome(outcome)
	}
}

func dedupKey(pid int, name string, level procmodel.SuspicionLevel) string {
	return fmt.Sprintf("%d|%s|%s", pid, name, level.String())
}

func boundedRemotes(remotes []string, max int) []string {
	if len(remotes) <= max {
		return remotes
	}
	return remotes[:max]
}
