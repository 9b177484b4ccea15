package tagindex

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/downfa11-org/chronos/pkg/mapped"
	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

const (
	FileName     = "TAGS.IDX"
	TempName     = "TAGS.IDX.TMP"
	LoadFactor   = 0.25
	CapacityUnit = 10000
)

// ExpectedCapacity is the bucket count the index needs for records records:
// records/LoadFactor rounded up to a multiple of CapacityUnit.
func ExpectedCapacity(records int) int64 {
	if records < 1 {
		records = 1
	}
	need := int64(math.Ceil(float64(records) / LoadFactor))
	units := (need + CapacityUnit - 1) / CapacityUnit
	return units * CapacityUnit
}

// Index maps tag strings to block locations with open addressing over a mapped file.
// The file has no header; its capacity follows from its size.
type Index struct {
	mu    sync.RWMutex
	dir   string
	sizer types.Sizer
	tab   table
	count int
}

// Open maps dir/TAGS.IDX, creating it sized for the record count reported by sizer.
func Open(dir string, sizer types.Sizer) (*Index, error) {
	if sizer == nil {
		return nil, fmt.Errorf("tag index needs a record sizer: %w", types.ErrInvalidArgument)
	}
	tmp := filepath.Join(dir, TempName)
	if err := os.Remove(tmp); err == nil {
		util.Warn("removed leftover %s from an interrupted expansion", tmp)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove %s: %w", tmp, err)
	}

	path := filepath.Join(dir, FileName)
	capacity := ExpectedCapacity(sizer.Size())
	region, err := mapped.Open(path, capacity*BucketBytes)
	if err != nil {
		return nil, fmt.Errorf("open tag index: %w", err)
	}
	if region.Size() < BucketBytes {
		_ = region.Close()
		return nil, fmt.Errorf("tag index %s is %d bytes: %w", path, region.Size(), types.ErrIntegrity)
	}

	ix := &Index{dir: dir, sizer: sizer, tab: newTable(region)}
	if !region.Created() {
		if ix.count, err = ix.tab.count(); err != nil {
			_ = region.Close()
			return nil, err
		}
	}
	metrics.TagIndexCapacity.Set(float64(ix.tab.capacity))
	util.Info("opened tag index %s (%d buckets, %d tags)", path, ix.tab.capacity, ix.count)
	return ix, nil
}

func validTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty tag: %w", types.ErrInvalidArgument)
	}
	if len(tag) > types.MaxTagLength {
		return fmt.Errorf("tag %q is %d bytes, limit %d: %w", tag, len(tag), types.MaxTagLength, types.ErrInvalidArgument)
	}
	return nil
}

// Add stores the location of tag, replacing any previous one.
func (ix *Index) Add(tag string, blockID, blockOffset int32) error {
	if err := validTag(tag); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.ensureCapacity(); err != nil {
		return err
	}
	inserted, err := ix.tab.put(tag, types.TagLocation{BlockID: blockID, BlockOffset: blockOffset})
	if err != nil {
		return err
	}
	if inserted {
		ix.count++
	}
	return nil
}

// Get returns the location of tag, or nil when it is absent.
// Tags that could never be stored read as absent.
func (ix *Index) Get(tag string) (*types.TagLocation, error) {
	if validTag(tag) != nil {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, found, err := ix.tab.find(tag)
	if err != nil || !found {
		return nil, err
	}
	v, err := ix.tab.slot(i)
	if err != nil {
		return nil, err
	}
	loc := slotLocation(v)
	return &loc, nil
}

// Remove deletes tag. Removing an absent tag is a no-op.
func (ix *Index) Remove(tag string) error {
	if err := validTag(tag); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.ensureCapacity(); err != nil {
		return err
	}
	removed, err := ix.tab.delete(tag)
	if err != nil {
		return err
	}
	if removed {
		ix.count--
	}
	return nil
}

// Len is the number of stored tags.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

// Capacity is the number of buckets.
func (ix *Index) Capacity() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tab.capacity
}

func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tab.region.Flush()
}

func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tab.region.Close()
}
