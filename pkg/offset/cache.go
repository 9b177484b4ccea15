package offset

import (
	"sync"
	"time"

	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize = 1_000_000
	DefaultCacheTTL  = 24 * time.Hour
)

type cachedEntry struct {
	rec   types.OffsetRecord
	added time.Time
}

// CachedIndex puts a count-capped, expiring cache in front of Index.Get.
// Entries expire on read; nothing runs in the background.
// Writes invalidate the key before reaching the index. The wrapper borrows the
// index: Close drops the cache and leaves the index open.
type CachedIndex struct {
	mu    sync.RWMutex // held shared while a miss fills, exclusive while a write invalidates
	index *Index
	ttl   time.Duration
	cache *lru.Cache[uint32, cachedEntry]
}

var _ types.OffsetStore = (*CachedIndex)(nil)

func NewCachedIndex(index *Index, size int, ttl time.Duration) *CachedIndex {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	// New only fails for a non-positive size.
	cache, _ := lru.New[uint32, cachedEntry](size)
	return &CachedIndex{index: index, ttl: ttl, cache: cache}
}

func (c *CachedIndex) expired(e cachedEntry) bool {
	return time.Since(e.added) > c.ttl
}

func (c *CachedIndex) Get(id uint32) (*types.OffsetRecord, error) {
	if e, ok := c.cache.Get(id); ok {
		if !c.expired(e) {
			metrics.CacheHit()
			rec := e.rec
			return &rec, nil
		}
		c.cache.Remove(id)
	}
	metrics.CacheMiss()

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, err := c.index.Get(id)
	if err != nil || rec == nil {
		return rec, err
	}
	c.cache.Add(id, cachedEntry{rec: *rec, added: time.Now()})
	return rec, nil
}

func (c *CachedIndex) Upsert(id uint32, rec types.OffsetRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(id)
	return c.index.Upsert(id, rec)
}

func (c *CachedIndex) Remove(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(id)
	return c.index.Remove(id)
}

func (c *CachedIndex) Rollback(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
	return c.index.Rollback(id)
}

// Cached is the number of unexpired entries currently held.
func (c *CachedIndex) Cached() int {
	n := 0
	for _, id := range c.cache.Keys() {
		if e, ok := c.cache.Peek(id); ok && !c.expired(e) {
			n++
		}
	}
	return n
}

func (c *CachedIndex) Version() uint32     { return c.index.Version() }
func (c *CachedIndex) Size() int           { return c.index.Size() }
func (c *CachedIndex) MaxRecordID() uint32 { return c.index.MaxRecordID() }

func (c *CachedIndex) Close() error {
	c.cache.Purge()
	return nil
}
