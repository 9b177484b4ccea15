package metastore

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// Every tag owns a roaring bitmap of record ids, serialized into the block store.
// The tag index points at the newest copy; older copies stay behind unreachable.

const (
	// blockID is the only block file a store has.
	blockID = 0
	// recordRef marks block entries holding record blobs rather than postings.
	recordRef = 0
)

// tagRef is the back reference written into the block entries of a posting list.
func tagRef(tag string) int32 {
	return int32(util.TagHash(tag) & math.MaxInt32)
}

func (s *Store) postings(tag string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	loc, err := s.tags.Get(tag)
	if err != nil || loc == nil {
		return bm, err
	}
	blob, err := s.blocks.Get(loc.BlockOffset)
	if err != nil {
		return nil, fmt.Errorf("postings of %q: %w", tag, err)
	}
	if blob == nil {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode postings of %q at %d: %v: %w", tag, loc.BlockOffset, err, types.ErrIntegrity)
	}
	return bm, nil
}

// writePostings stores bm as the postings of tag. An empty bitmap drops the tag.
func (s *Store) writePostings(tag string, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return s.tags.Remove(tag)
	}
	bm.RunOptimize()
	blob, err := bm.ToBytes()
	if err != nil {
		return fmt.Errorf("encode postings of %q: %w", tag, err)
	}
	handle, err := s.blocks.Add(tagRef(tag), blob)
	if err != nil {
		return fmt.Errorf("store postings of %q: %w", tag, err)
	}
	return s.tags.Add(tag, blockID, handle)
}

func (s *Store) updatePostings(tags []string, id uint32, add bool) error {
	for _, tag := range tags {
		bm, err := s.postings(tag)
		if err != nil {
			return err
		}
		if add {
			if !bm.CheckedAdd(id) {
				continue
			}
		} else if !bm.CheckedRemove(id) {
			continue
		}
		if err := s.writePostings(tag, bm); err != nil {
			return err
		}
	}
	return nil
}

// intersect returns the ids carried by every tag.
func (s *Store) intersect(tags []string) (*roaring.Bitmap, error) {
	sets := make([]*roaring.Bitmap, 0, len(tags))
	for _, tag := range tags {
		bm, err := s.postings(tag)
		if err != nil {
			return nil, err
		}
		if bm.IsEmpty() {
			return roaring.New(), nil
		}
		sets = append(sets, bm)
	}
	if len(sets) == 1 {
		return sets[0], nil
	}
	return roaring.FastAnd(sets...), nil
}
