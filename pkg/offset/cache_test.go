package offset_test

import (
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/chronos/pkg/offset"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/google/go-cmp/cmp"
)

func setupCache(t *testing.T, size int, ttl time.Duration) (*offset.CachedIndex, *offset.Index) {
	t.Helper()
	ix, err := offset.Open(filepath.Join(t.TempDir(), "META.OFFSET"), offset.DefaultInitialSize)
	if err != nil {
		t.Fatalf("failed to open offset index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return offset.NewCachedIndex(ix, size, ttl), ix
}

func TestCacheInvalidatesOnWrite(t *testing.T) {
	c, _ := setupCache(t, 100, time.Hour)
	defer func() { _ = c.Close() }()

	if err := c.Upsert(1, record(0, 10, 10)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got, _ := c.Get(1); got == nil || got.Offset != 10 {
		t.Fatalf("unexpected first read %+v", got)
	}
	if c.Cached() != 1 {
		t.Errorf("expected the read to populate the cache")
	}

	if err := c.Upsert(1, record(0, 20, 10)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(normal(record(0, 20, 10)), got); diff != "" {
		t.Errorf("stale read after upsert (-want +got):\n%s", diff)
	}

	if err := c.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got, _ := c.Get(1); got != nil {
		t.Errorf("removed record served from cache: %+v", got)
	}
	if c.Size() != 0 || c.Version() != 3 || c.MaxRecordID() != 1 {
		t.Errorf("counters not delegated: size=%d version=%d max=%d", c.Size(), c.Version(), c.MaxRecordID())
	}
}

func TestCacheDoesNotHoldMisses(t *testing.T) {
	c, _ := setupCache(t, 100, time.Hour)

	if got, _ := c.Get(42); got != nil {
		t.Fatalf("expected miss")
	}
	if c.Cached() != 0 {
		t.Errorf("absent records must not be cached")
	}
	if err := c.Upsert(42, record(0, 1, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got, _ := c.Get(42); got == nil {
		t.Errorf("record written after a miss must be visible")
	}
}

func TestCacheCountCapAndExpiry(t *testing.T) {
	c, _ := setupCache(t, 2, 50*time.Millisecond)

	for id := uint32(1); id <= 3; id++ {
		if err := c.Upsert(id, record(0, int64(id), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if _, err := c.Get(id); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if c.Cached() != 2 {
		t.Errorf("expected the cache capped at 2, got %d", c.Cached())
	}

	time.Sleep(200 * time.Millisecond)
	if c.Cached() != 0 {
		t.Errorf("expected entries to expire, %d left", c.Cached())
	}
	if got, _ := c.Get(1); got == nil || got.Offset != 1 {
		t.Errorf("expired entry should be reloaded from the index, got %+v", got)
	}
}

func TestCacheRollbackPurges(t *testing.T) {
	c, _ := setupCache(t, 100, time.Hour)

	for id := uint32(1); id <= 4; id++ {
		if err := c.Upsert(id, record(0, int64(id), 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		_, _ = c.Get(id)
	}
	if err := c.Rollback(2); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if got, _ := c.Get(4); got != nil {
		t.Errorf("rolled back record served from cache: %+v", got)
	}
}

func TestCacheCloseLeavesIndexOpen(t *testing.T) {
	c, ix := setupCache(t, 10, time.Hour)
	if err := c.Upsert(1, record(0, 1, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got, err := ix.Get(1); err != nil || got == nil {
		t.Errorf("index should stay usable after the cache closes: %+v, %v", got, err)
	}
}

func TestCacheConcurrentReadersSeeWrites(t *testing.T) {
	c, _ := setupCache(t, 1000, time.Hour)

	if err := c.Upsert(1, record(0, 0, 1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if _, err := c.Get(1); err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
			}
		}()
	}
	for i := int64(1); i <= 200; i++ {
		if err := c.Upsert(1, record(0, i, 1)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	wg.Wait()

	got, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Offset != 200 {
		t.Errorf("expected last write to win, got %+v", got)
	}
	var _ types.OffsetStore = c
}

func TestCacheStartsNoGoroutines(t *testing.T) {
	ix, err := offset.Open(filepath.Join(t.TempDir(), "META.OFFSET"), offset.DefaultInitialSize)
	if err != nil {
		t.Fatalf("failed to open offset index: %v", err)
	}
	defer func() { _ = ix.Close() }()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		c := offset.NewCachedIndex(ix, 10, time.Hour)
		_, _ = c.Get(1)
		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines grew from %d to %d over 50 cache lifetimes", before, after)
	}
}
