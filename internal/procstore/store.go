// Package procstore holds the single authoritative process sequence. It
// computes a stability digest on every update to suppress no-op
// notifications, keeps a cached aggregate-stats summary, and fans a
// change signal out to subscribers without holding its lock during sends.
package procstore

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

// Stats is the cached aggregate summary returned by GET /api/stats and
// recomputed on every committed update.
type Stats struct {
	Total      int       `json:"total"`
	Critical   int       `json:"critical"`
	High       int       `json:"high"`
	Medium     int       `json:"medium"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Store is the process store. Its zero value is not usable; construct
// with New. A Store's lifetime is owned by the Engine that created it —
// there is no package-level singleton.
type Store struct {
	mu         sync.RWMutex
	sequence   []procmodel.Process
	lastDigest string
	stats      Stats

	subMu       sync.Mutex
	subscribers map[uint64]chan struct{}
	nextSubID   uint64
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		subscribers: make(map[uint64]chan struct{}),
	}
}

// Update commits a freshly-scanned, already-sorted sequence. If the
// stability digest is unchanged from the prior commit, this is a no-op —
// no replacement, no notification. Otherwise the sequence and stats are
// replaced atomically and every subscriber is signaled.
func (s *Store) Update(rows []procmodel.Process) {
	digest := computeDigest(rows)

	s.mu.Lock()
	if digest == s.lastDigest {
		s.mu.Unlock()
		return
	}
	s.sequence = rows
	s.lastDigest = digest
	s.stats = computeStats(rows)
	s.mu.Unlock()

	s.notifySubscribers()
}

// Snapshot returns the current sequence. The returned slice is never
// mutated in place by the store — callers receive an immutable view and
// may read it concurrently without locking.
func (s *Store) Snapshot() []procmodel.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// Get returns one process by pid, or (zero, false) if absent.
func (s *Store) Get(pid int) (procmodel.Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.sequence {
		if p.PID == pid {
			return p, true
		}
	}
	return procmodel.Process{}, false
}

// Stats returns the cached aggregate stats as of the last committed
// update.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Subscribe registers a new change-notification channel. The channel is
// buffered to 1 and coalesces bursts of updates into a single wakeup — a
// subscriber that is slow to drain it simply observes the latest
// snapshot on its next wake, never a queue of stale ones. The returned
// function unregisters the subscriber and must be called exactly once.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

// SubscriberCount reports how many subscribers are currently registered.
func (s *Store) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// notifySubscribers copies the subscriber set before sending so the lock
// is never held during (non-blocking) sends, per §5's explicit
// requirement.
func (s *Store) notifySubscribers() {
	s.subMu.Lock()
	chans := make([]chan struct{}, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		chans = append(chans, ch)
	}
	s.subMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
			// already has a pending notification; coalesce
		}
	}
}

// computeDigest implements the stability digest from §4.5: a string over
// every row's {pid, round(cpu*10), level, outbound+listen}, prefixed by
// the row count. Rounding cpu to one decimal deliberately suppresses
// smaller fluctuations — documented as an intentional Open Question
// resolution, not an oversight.
func computeDigest(rows []procmodel.Process) string {
	b := make([]byte, 0, 32*len(rows)+8)
	b = append(b, []byte(fmt.Sprintf("%d|", len(rows)))...)
	for _, p := range rows {
		roundedCPU := int(math.Round(p.CPU * 10))
		b = append(b, []byte(fmt.Sprintf("%d:%d:%s:%d|", p.PID, roundedCPU, p.Level.String(), p.Connections.Outbound+p.Connections.Listen))...)
	}
	return string(b)
}

func computeStats(rows []procmodel.Process) Stats {
	stats := Stats{Total: len(rows), LastUpdate: time.Now()}
	for _, p := range rows {
		switch p.Level {
		case procmodel.LevelCRITICAL:
			stats.Critical++
		case procmodel.LevelHIGH:
			stats.High++
		case procmodel.LevelMED:
			stats.Medium++
		}
	}
	return stats
}

// SortRows stable-sorts rows ascending by level (CRITICAL first), then
// descending by cpu, per §4.5 step 6. Exported so the orchestrator and
// tests share one sort implementation.
func SortRows(rows []procmodel.Process) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Level != rows[j].Level {
			return rows[i].Level > rows[j].Level
		}
		return rows[i].CPU > rows[j].CPU
	})
}
