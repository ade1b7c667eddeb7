package sigcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxEntries int) (*Cache, *fakeClock, map[string]fakeStat) {
	c := New(maxEntries)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	stats := map[string]fakeStat{}
	c.now = clock.Now
	c.statFn = func(path string) (time.Time, uint64, error) {
		s, ok := stats[path]
		if !ok {
			return time.Time{}, 0, fmt.Errorf("no such file: %s", path)
		}
		return s.mtime, s.inode, nil
	}
	return c, clock, stats
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

type fakeStat struct {
	mtime time.Time
	inode uint64
}

func TestCache_InsertAndLookupHit(t *testing.T) {
	c, _, stats := newTestCache(0)
	mtime := time.Unix(1_699_000_000, 0)
	stats["/bin/foo"] = fakeStat{mtime: mtime, inode: 42}

	c.Insert("/bin/foo", &procmodel.Signature{Signed: true, Valid: true})

	sig, ok := c.Lookup("/bin/foo")
	require.True(t, ok)
	assert.True(t, sig.Signed)
}

func TestCache_LookupMiss_TTLExpired(t *testing.T) {
	c, clock, stats := newTestCache(0)
	mtime := time.Unix(1_699_000_000, 0)
	stats["/bin/foo"] = fakeStat{mtime: mtime, inode: 42}
	c.Insert("/bin/foo", &procmodel.Signature{Signed: true})

	clock.t = clock.t.Add(TTL + time.Minute)

	_, ok := c.Lookup("/bin/foo")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_LookupMiss_MtimeOrInodeChanged(t *testing.T) {
	c, _, stats := newTestCache(0)
	mtime := time.Unix(1_699_000_000, 0)
	stats["/bin/foo"] = fakeStat{mtime: mtime, inode: 42}
	c.Insert("/bin/foo", &procmodel.Signature{Signed: true})

	stats["/bin/foo"] = fakeStat{mtime: mtime.Add(time.Second), inode: 42}
	_, ok := c.Lookup("/bin/foo")
	assert.False(t, ok)

	c.Insert("/bin/foo", &procmodel.Signature{Signed: true})
	stats["/bin/foo"] = fakeStat{mtime: mtime.Add(time.Second), inode: 99}
	_, ok = c.Lookup("/bin/foo")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _, stats := newTestCache(2)
	for _, p := range []string{"/a", "/b", "/c"} {
		stats[p] = fakeStat{mtime: time.Unix(1, 0), inode: 1}
	}

	c.Insert("/a", &procmodel.Signature{})
	c.Insert("/b", &procmodel.Signature{})
	// Touch /a so /b becomes the LRU victim.
	_, _ = c.Lookup("/a")
	c.Insert("/c", &procmodel.Signature{})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup("/b")
	assert.False(t, ok, "/b should have been evicted as least-recently-used")
	_, ok = c.Lookup("/a")
	assert.True(t, ok)
	_, ok = c.Lookup("/c")
	assert.True(t, ok)
}

func TestCache_LookupMiss_FileGone(t *testing.T) {
	c, _, stats := newTestCache(0)
	stats["/bin/foo"] = fakeStat{mtime: time.Unix(1, 0), inode: 1}
	c.Insert("/bin/foo", &procmodel.Signature{})

	delete(stats, "/bin/foo")
	_, ok := c.Lookup("/bin/foo")
	assert.False(t, ok)
}
