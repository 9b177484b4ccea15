package tagindex

import (
	"fmt"

	"github.com/downfa11-org/chronos/pkg/mapped"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// Slot layout: status(1) | reserved(3) | block id(4) | block offset(4) | tag(20, length-prefixed)
const (
	SlotSize    = types.TagSlotSize
	BucketSlots = 10
	BucketBytes = SlotSize * BucketSlots

	offStatus      = 0
	offBlockID     = 4
	offBlockOffset = 8
	offTag         = 12

	slotEmpty    uint8 = 0
	slotOccupied uint8 = 1
)

// table addresses the slots of one mapped index file.
type table struct {
	region   *mapped.Region
	capacity int64 // buckets
	slots    int64
}

func newTable(r *mapped.Region) table {
	capacity := r.Size() / BucketBytes
	return table{region: r, capacity: capacity, slots: capacity * BucketSlots}
}

// home is the first slot of the bucket tag hashes to.
func (t table) home(tag string) int64 {
	return int64(util.TagHash(tag)%uint32(t.capacity)) * BucketSlots
}

func (t table) slot(i int64) (mapped.View, error) {
	return t.region.View(i*SlotSize, SlotSize)
}

func occupied(v mapped.View) bool { return v.Uint8(offStatus) == slotOccupied }

func slotTag(v mapped.View) (string, error) { return v[offTag:].String(0) }

func slotLocation(v mapped.View) types.TagLocation {
	return types.TagLocation{
		BlockID:     int32(v.Uint32(offBlockID)),
		BlockOffset: int32(v.Uint32(offBlockOffset)),
	}
}

func writeSlot(v mapped.View, tag string, loc types.TagLocation) error {
	v.Zero()
	v.PutUint8(offStatus, slotOccupied)
	v.PutUint32(offBlockID, uint32(loc.BlockID))
	v.PutUint32(offBlockOffset, uint32(loc.BlockOffset))
	return v[offTag:].PutString(0, tag)
}

// find probes from the home bucket of tag. It returns the slot holding tag, or the
// first empty slot of the probe run when tag is absent. i is -1 when every slot is
// occupied by other tags.
func (t table) find(tag string) (i int64, found bool, err error) {
	start := t.home(tag)
	for p := int64(0); p < t.slots; p++ {
		i = (start + p) % t.slots
		v, err := t.slot(i)
		if err != nil {
			return -1, false, err
		}
		if !occupied(v) {
			return i, false, nil
		}
		s, err := slotTag(v)
		if err != nil {
			return -1, false, fmt.Errorf("slot %d: %w", i, err)
		}
		if s == tag {
			return i, true, nil
		}
	}
	return -1, false, nil
}

// put inserts or updates tag and reports whether a new slot was taken.
func (t table) put(tag string, loc types.TagLocation) (bool, error) {
	i, found, err := t.find(tag)
	if err != nil {
		return false, err
	}
	if i < 0 {
		return false, fmt.Errorf("no free slot for %q in %d slots: %w", tag, t.slots, types.ErrIntegrity)
	}
	v, err := t.slot(i)
	if err != nil {
		return false, err
	}
	if err := writeSlot(v, tag, loc); err != nil {
		return false, err
	}
	return !found, nil
}

// between reports whether k lies in the cyclic interval (i, j].
func between(i, k, j int64) bool {
	if i <= j {
		return i < k && k <= j
	}
	return i < k || k <= j
}

// delete clears the slot of tag and shifts later members of the probe run back so
// every remaining tag stays reachable from its home slot.
func (t table) delete(tag string) (bool, error) {
	i, found, err := t.find(tag)
	if err != nil || !found {
		return false, err
	}
	hole, err := t.slot(i)
	if err != nil {
		return false, err
	}
	hole.Zero()

	for j := (i + 1) % t.slots; j != i; j = (j + 1) % t.slots {
		v, err := t.slot(j)
		if err != nil {
			return true, err
		}
		if !occupied(v) {
			break
		}
		s, err := slotTag(v)
		if err != nil {
			return true, fmt.Errorf("slot %d: %w", j, err)
		}
		if between(i, t.home(s), j) {
			continue
		}
		copy(hole, v)
		v.Zero()
		hole, i = v, j
	}
	return true, nil
}

// count returns the number of occupied slots.
func (t table) count() (int, error) {
	n := 0
	for i := int64(0); i < t.slots; i++ {
		v, err := t.slot(i)
		if err != nil {
			return n, err
		}
		if occupied(v) {
			n++
		}
	}
	return n, nil
}

// copyInto re-inserts every occupied slot of t into dst.
func (t table) copyInto(dst table) (int, error) {
	moved := 0
	for i := int64(0); i < t.slots; i++ {
		v, err := t.slot(i)
		if err != nil {
			return moved, err
		}
		if !occupied(v) {
			continue
		}
		tag, err := slotTag(v)
		if err != nil {
			return moved, fmt.Errorf("slot %d: %w", i, err)
		}
		if _, err := dst.put(tag, slotLocation(v)); err != nil {
			return moved, fmt.Errorf("rehash %q: %w", tag, err)
		}
		moved++
	}
	return moved, nil
}
