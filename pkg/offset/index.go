package offset

import (
	"fmt"
	"sync"
	"time"

	"github.com/downfa11-org/chronos/pkg/mapped"
	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// File layout:
//
//	header: magic(4) | version(4) | max record id(4) | live count(4)
//	slot:   status(1) | block id(4) | offset(8) | length(4) | updated millis(8)
//
// The slot of record id is at (id-1)*RecordSize + HeaderSize.
const (
	Magic              = 0x19870712
	HeaderSize         = 16
	RecordSize         = types.OffsetRecordSize
	DefaultInitialSize = 64 * 1024

	offMagic   = 0
	offVersion = 4
	offMaxID   = 8
	offCount   = 12

	recStatus  = 0
	recBlockID = 1
	recOffset  = 5
	recLength  = 13
	recUpdated = 17
)

// Index is the disk-backed map from record id to physical location.
// Every method runs under one mutex because growth remaps the file under readers.
type Index struct {
	mu      sync.Mutex
	region  *mapped.Region
	version uint32
	maxID   uint32
	live    uint32
}

var _ types.OffsetStore = (*Index)(nil)

func slotAddr(id uint32) int64 {
	return int64(id-1)*RecordSize + HeaderSize
}

// Open maps the offset index at path, creating it at initialSize bytes when missing.
// Header counters that disagree with the slots are rebuilt from a scan.
func Open(path string, initialSize int64) (*Index, error) {
	if initialSize < HeaderSize+RecordSize {
		initialSize = DefaultInitialSize
	}
	region, err := mapped.Open(path, initialSize)
	if err != nil {
		return nil, fmt.Errorf("open offset index: %w", err)
	}

	ix := &Index{region: region}
	if region.Created() {
		if err := ix.persist(); err != nil {
			_ = region.Close()
			return nil, err
		}
		util.Info("created offset index %s (%d bytes)", path, region.Size())
		return ix, nil
	}

	if err := ix.loadHeader(); err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("offset index %s: %w", path, err)
	}
	if _, err := ix.verify(); err != nil {
		_ = region.Close()
		return nil, err
	}
	metrics.ObserveOffsetState(int(ix.live), ix.version)
	util.Info("opened offset index %s (version %d, max id %d, %d live)", path, ix.version, ix.maxID, ix.live)
	return ix, nil
}

func (ix *Index) loadHeader() error {
	h, err := ix.region.View(0, HeaderSize)
	if err != nil {
		return err
	}
	if magic := h.Uint32(offMagic); magic != Magic {
		return fmt.Errorf("bad magic %#x: %w", magic, types.ErrIntegrity)
	}
	ix.version = h.Uint32(offVersion)
	ix.maxID = h.Uint32(offMaxID)
	ix.live = h.Uint32(offCount)
	return nil
}

// persist writes the header counters and forces the mapping to disk.
func (ix *Index) persist() error {
	h, err := ix.region.View(0, HeaderSize)
	if err != nil {
		return err
	}
	h.PutUint32(offMagic, Magic)
	h.PutUint32(offVersion, ix.version)
	h.PutUint32(offMaxID, ix.maxID)
	h.PutUint32(offCount, ix.live)
	if err := ix.region.Flush(); err != nil {
		return err
	}
	metrics.ObserveOffsetState(int(ix.live), ix.version)
	return nil
}

func validID(id uint32) error {
	if id < 1 {
		return fmt.Errorf("record id %d: %w", id, types.ErrInvalidArgument)
	}
	return nil
}

func (ix *Index) slot(id uint32) (mapped.View, error) {
	return ix.region.View(slotAddr(id), RecordSize)
}

func decodeRecord(v mapped.View) types.OffsetRecord {
	return types.OffsetRecord{
		Status:  types.Status(v.Uint8(recStatus)),
		BlockID: int32(v.Uint32(recBlockID)),
		Offset:  int64(v.Uint64(recOffset)),
		Length:  int32(v.Uint32(recLength)),
		Updated: int64(v.Uint64(recUpdated)),
	}
}

func encodeRecord(v mapped.View, rec types.OffsetRecord) {
	v.PutUint8(recStatus, uint8(rec.Status))
	v.PutUint32(recBlockID, uint32(rec.BlockID))
	v.PutUint64(recOffset, uint64(rec.Offset))
	v.PutUint32(recLength, uint32(rec.Length))
	v.PutUint64(recUpdated, uint64(rec.Updated))
}

// Upsert stores the location of record id with normal status. A zero Updated
// timestamp is filled with the current time.
func (ix *Index) Upsert(id uint32, rec types.OffsetRecord) error {
	if err := validID(id); err != nil {
		return err
	}
	if rec.Length < 0 || rec.Offset < 0 {
		return fmt.Errorf("record %d with offset %d length %d: %w", id, rec.Offset, rec.Length, types.ErrInvalidArgument)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	end := slotAddr(id) + RecordSize
	if end > ix.region.Size() {
		if err := ix.region.GrowDouble(end); err != nil {
			return fmt.Errorf("grow offset index for id %d: %w", id, err)
		}
	}

	v, err := ix.slot(id)
	if err != nil {
		return err
	}
	if types.Status(v.Uint8(recStatus)) != types.StatusNormal {
		ix.live++
	}
	if id > ix.maxID {
		ix.maxID = id
	}
	ix.version++

	rec.Status = types.StatusNormal
	if rec.Updated == 0 {
		rec.Updated = time.Now().UnixMilli()
	}
	encodeRecord(v, rec)
	return ix.persist()
}

// Get returns the location of record id, or nil when it was never written or is deleted.
func (ix *Index) Get(id uint32) (*types.OffsetRecord, error) {
	if id < 1 {
		return nil, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if id > ix.maxID {
		return nil, nil
	}
	v, err := ix.slot(id)
	if err != nil {
		return nil, err
	}
	rec := decodeRecord(v)
	if rec.Status != types.StatusNormal {
		return nil, nil
	}
	return &rec, nil
}

// Remove tombstones record id. Ids above the highest written id are ignored.
func (ix *Index) Remove(id uint32) error {
	if err := validID(id); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if id > ix.maxID {
		return nil
	}
	v, err := ix.slot(id)
	if err != nil {
		return err
	}
	if types.Status(v.Uint8(recStatus)) == types.StatusNormal {
		ix.live--
	}
	ix.version++
	v.PutUint8(recStatus, uint8(types.StatusDeleted))
	return ix.persist()
}

// Rollback clears every slot above id and recounts. MaxRecordID becomes the highest
// written slot not above id. It is the only operation that lowers MaxRecordID.
func (ix *Index) Rollback(id uint32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if id >= ix.maxID {
		return nil
	}
	from := slotAddr(id + 1)
	if err := ix.region.Zero(from, slotAddr(ix.maxID)+RecordSize-from); err != nil {
		return err
	}
	util.Warn("offset index rolled back from max id %d to %d", ix.maxID, id)
	live, maxID, err := ix.scan()
	if err != nil {
		return err
	}
	ix.maxID = maxID
	ix.live = live
	ix.version++
	return ix.persist()
}

// Verify rescans all slots and rewrites the header counters if they disagree with it.
// It reports whether a repair was made.
func (ix *Index) Verify() (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.verify()
}

// scan counts normal slots and finds the highest slot ever written.
func (ix *Index) scan() (live, maxID uint32, err error) {
	slots := (ix.region.Size() - HeaderSize) / RecordSize
	for i := int64(0); i < slots; i++ {
		id := uint32(i + 1)
		st, err := ix.region.Uint8At(slotAddr(id))
		if err != nil {
			return 0, 0, err
		}
		switch types.Status(st) {
		case types.StatusNull:
			continue
		case types.StatusNormal:
			live++
		}
		maxID = id
	}
	return live, maxID, nil
}

func (ix *Index) verify() (bool, error) {
	live, maxID, err := ix.scan()
	if err != nil {
		return false, err
	}
	if live == ix.live && maxID == ix.maxID {
		return false, nil
	}

	util.Warn("offset index header (max id %d, live %d) disagrees with slots (max id %d, live %d), rebuilding",
		ix.maxID, ix.live, maxID, live)
	ix.live = live
	ix.maxID = maxID
	return true, ix.persist()
}

func (ix *Index) Version() uint32 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.version
}

// Size is the number of records in normal status.
func (ix *Index) Size() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return int(ix.live)
}

func (ix *Index) MaxRecordID() uint32 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.maxID
}

func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.region.Close()
}
