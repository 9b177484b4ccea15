package tagindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/downfa11-org/chronos/pkg/mapped"
	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// ensureCapacity expands the index when the live record count, or the number of
// stored tags, needs more buckets than the file holds. Capacity never shrinks.
// Caller holds the write lock.
func (ix *Index) ensureCapacity() error {
	records := max(ix.sizer.Size(), ix.count+1)
	want := ExpectedCapacity(records)
	if want <= ix.tab.capacity {
		return nil
	}
	return ix.expand(want)
}

// expand rehashes every tag into TAGS.IDX.TMP at the new capacity, renames it over
// TAGS.IDX and maps the result. On failure before the rename the old file stays live.
func (ix *Index) expand(capacity int64) error {
	path := filepath.Join(ix.dir, FileName)
	tmp := filepath.Join(ix.dir, TempName)
	util.Warn("tag index %s undersized, expanding %d -> %d buckets", path, ix.tab.capacity, capacity)

	size := capacity * BucketBytes
	if size > mapped.MaxRegionSize {
		return fmt.Errorf("tag index of %d buckets needs %d bytes: %w", capacity, size, types.ErrCapacityExceeded)
	}
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", tmp, err)
	}

	region, err := mapped.Open(tmp, size)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	next := newTable(region)
	moved, err := ix.tab.copyInto(next)
	if err == nil {
		err = region.Close()
	} else {
		_ = region.Close()
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rehash tag index: %w", err)
	}

	if err := ix.tab.region.Close(); err != nil {
		util.Error("failed to close %s before replacing it: %v", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		if reopenErr := ix.remap(path, ix.tab.capacity*BucketBytes); reopenErr != nil {
			return fmt.Errorf("rename %s: %w (reopen: %v)", tmp, err, reopenErr)
		}
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	if err := ix.remap(path, size); err != nil {
		return err
	}

	metrics.TagIndexExpansions.Inc()
	metrics.TagIndexCapacity.Set(float64(ix.tab.capacity))
	util.Info("tag index %s expanded to %d buckets, %d tags rehashed", path, ix.tab.capacity, moved)
	return nil
}

func (ix *Index) remap(path string, size int64) error {
	region, err := mapped.Open(path, size)
	if err != nil {
		return fmt.Errorf("remap tag index: %w", err)
	}
	ix.tab = newTable(region)
	return nil
}
