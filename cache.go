// Bounded row cache keyed by row index.
//
// Ristretto replaces the unbounded tree-of-trees cache: admission and
// eviction are cost-based with the on-disk payload size as cost, so cache
// memory stays under Options.CacheBytes no matter how many rows get read.
// Misses fall through to a disk read, so eviction (and ristretto's
// buffered, best-effort admission) never affects correctness.
package tabfile

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultCacheBytes bounds row cache memory when Options.CacheBytes is 0.
const DefaultCacheBytes = 64 << 20

type rowCache struct {
	c *ristretto.Cache[uint64, *Row]
}

func newRowCache(maxBytes int64) (*rowCache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	// Counters sized for ~10x the item count at an assumed 1KiB mean row.
	counters := maxBytes / 1024 * 10
	if counters < 1e4 {
		counters = 1e4
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, *Row]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: row cache: %w", ErrUnknown, err)
	}
	return &rowCache{c: c}, nil
}

func (rc *rowCache) get(index int) (*Row, bool) {
	return rc.c.Get(uint64(index))
}

func (rc *rowCache) put(index int, row *Row, cost int64) {
	if cost <= 0 {
		cost = 1
	}
	rc.c.Set(uint64(index), row, cost)
}

func (rc *rowCache) drop(index int) {
	rc.c.Del(uint64(index))
}

// invalidate empties the cache. Used when row indexes shift (delete).
func (rc *rowCache) invalidate() {
	rc.c.Clear()
}

func (rc *rowCache) close() {
	rc.c.Close()
}
