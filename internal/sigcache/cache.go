// Package sigcache implements the content-addressed signature cache: a
// bounded, strict-LRU mapping from absolute executable path to its last
// known code-signature, validated by file metadata and a TTL before every
// hit is honored. It is exclusively owned by the codesign worker pool —
// no caller outside that pool mutates it.
package sigcache

import (
	"container/list"
	"os"
	"sync"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

const (
	// DefaultMaxEntries bounds the cache at 500 entries per §3.
	DefaultMaxEntries = 500
	// TTL is the 24-hour freshness window per §4.2.
	TTL = 24 * time.Hour
)

// Entry is a cached signature result plus the file metadata it was
// validated against.
type Entry struct {
	Result   *procmodel.Signature
	ModTime  time.Time
	Inode    uint64
	CachedAt time.Time
}

type record struct {
	path  string
	entry Entry
}

// Cache is a bounded insertion-ordered (LRU) mapping keyed by absolute
// executable path.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element

	now func() time.Time
	// statFn is overridable so tests can simulate file changes without
	// touching the real filesystem.
	statFn func(path string) (mtime time.Time, inode uint64, err error)
}

// New creates a signature cache bounded to maxEntries (0 means
// DefaultMaxEntries).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
		statFn:     statFile,
	}
}

// Lookup returns the cached signature for path, or (nil, false) on a miss.
// A miss includes: never inserted, TTL-expired, or (mtime, inode) mismatch
// — in the latter two cases the stale entry is evicted. A hit moves the
// entry to the most-recently-used position.
func (c *Cache) Lookup(path string) (*procmodel.Signature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[path]
	if !ok {
		return nil, false
	}
	rec := el.Value.(*record)

	mtime, inode, err := c.statFn(path)
	if err != nil {
		c.removeElement(el)
		return nil, false
	}
	if c.now().Sub(rec.entry.CachedAt) > TTL {
		c.removeElement(el)
		return nil, false
	}
	if !mtime.Equal(rec.entry.ModTime) || inode != rec.entry.Inode {
		c.removeElement(el)
		return nil, false
	}

	c.ll.MoveToFront(el)
	return rec.entry.Result, true
}

// Insert stores a signature result for path. Error results are never
// cached — the caller should not call Insert for a failed lookup. If the
// cache is at capacity, the least-recently-used entry is evicted.
func (c *Cache) Insert(path string, sig *procmodel.Signature) {
	mtime, inode, err := c.statFn(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{Result: sig, ModTime: mtime, Inode: inode, CachedAt: c.now()}

	if el, ok := c.items[path]; ok {
		el.Value.(*record).entry = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&record{path: path, entry: entry})
	c.items[path] = el

	if c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	rec := el.Value.(*record)
	delete(c.items, rec.path)
}

func statFile(path string) (time.Time, uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, 0, err
	}
	return info.ModTime(), inodeOf(info), nil
}
