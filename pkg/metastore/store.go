package metastore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/downfa11-org/chronos/pkg/block"
	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/offset"
	"github.com/downfa11-org/chronos/pkg/tagindex"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/pkg/wal"
	"github.com/downfa11-org/chronos/util"
	"github.com/google/uuid"
)

// Store composes the block store, offset index, tag index and write-ahead log
// into record CRUD and tag queries. Writes apply to the files first and are
// logged last.
type Store struct {
	mu sync.RWMutex

	cfg     *config.Config
	id      uuid.UUID
	blocks  *block.Store
	index   *offset.Index
	offsets types.OffsetStore
	tags    *tagindex.Index
	log     *wal.Log
	closed  bool
}

type Stats struct {
	InstanceID  string
	Records     int
	Version     uint32
	MaxRecordID uint32
	Tags        int
	TagCapacity int64
	Block       block.Stats
	WALBytes    int64
}

// floorSizer reports at least floor records so a young store starts with a
// tag index sized for its expected population.
type floorSizer struct {
	types.Sizer
	floor int
}

func (f floorSizer) Size() int { return max(f.Sizer.Size(), f.floor) }

// Open opens or creates every store file under cfg.DataDir.
func Open(cfg *config.Config) (*Store, error) {
	cfg.Normalize()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	s := &Store{cfg: cfg}
	var err error
	if s.id, err = loadInstanceID(cfg.Path(config.IDFile)); err != nil {
		return nil, err
	}
	if s.blocks, err = block.Open(cfg.Path(config.BlockFile), cfg.BlockInitialPages); err != nil {
		return nil, err
	}
	if s.index, err = offset.Open(cfg.Path(config.OffsetFile), cfg.OffsetInitialSize); err != nil {
		_ = s.closeAll()
		return nil, err
	}
	s.offsets = s.index
	if cfg.OffsetCacheEnabled {
		s.offsets = offset.NewCachedIndex(s.index, cfg.OffsetCacheSize, cfg.OffsetCacheTTL)
	}
	if s.tags, err = tagindex.Open(cfg.DataDir, floorSizer{Sizer: s.index, floor: cfg.TagIndexMinRecords}); err != nil {
		_ = s.closeAll()
		return nil, err
	}
	if s.log, err = wal.Open(cfg.Path(config.WALFile), cfg.WALBufferSize); err != nil {
		_ = s.closeAll()
		return nil, err
	}

	util.Info("metadata store %s opened at %s (%d records, version %d)", s.id, cfg.DataDir, s.index.Size(), s.index.Version())
	return s, nil
}

func loadInstanceID(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, perr := uuid.Parse(strings.TrimSpace(string(data)))
		if perr != nil {
			return uuid.Nil, fmt.Errorf("instance id in %s: %v: %w", path, perr, types.ErrIntegrity)
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return uuid.Nil, fmt.Errorf("read %s: %w", path, err)
	}

	id := uuid.New()
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("write %s: %w", path, err)
	}
	util.Info("assigned store instance id %s", id)
	return id, nil
}

// Save writes payload as record id carrying tags, replacing any previous version.
// Tags dropped since the previous version stop matching the record.
func (s *Store) Save(id uint32, payload []byte, tags []string) error {
	return s.SaveAll([]Record{{ID: id, Tags: tags, Payload: payload}})
}

// SaveAll saves every record in order and logs their ids with a single WAL
// commit. The whole batch is validated before anything is written; a later
// entry for the same id replaces an earlier one.
func (s *Store) SaveAll(recs []Record) error {
	batch := make([]Record, len(recs))
	for i, r := range recs {
		if r.ID < 1 {
			return fmt.Errorf("record id %d: %w", r.ID, types.ErrInvalidArgument)
		}
		if len(r.Payload) == 0 {
			return fmt.Errorf("record %d has an empty payload: %w", r.ID, types.ErrInvalidArgument)
		}
		tags, err := normalizeTags(r.Tags)
		if err != nil {
			return err
		}
		batch[i] = Record{ID: r.ID, Tags: tags, Payload: r.Payload}
	}
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}

	for _, r := range batch {
		if err := s.apply(r); err != nil {
			return err
		}
	}
	if err := s.tags.Flush(); err != nil {
		return err
	}
	for _, r := range batch {
		if _, err := s.log.Append(r.ID); err != nil {
			return fmt.Errorf("log record %d: %w", r.ID, err)
		}
	}
	return s.log.Commit()
}

// apply writes one validated record and moves its postings. The caller holds s.mu.
func (s *Store) apply(r Record) error {
	prev, err := s.load(r.ID)
	if err != nil {
		return err
	}

	blob := encodeRecord(r.Tags, r.Payload)
	handle, err := s.blocks.Add(recordRef, blob)
	if err != nil {
		return fmt.Errorf("store record %d: %w", r.ID, err)
	}
	if err := s.offsets.Upsert(r.ID, types.OffsetRecord{BlockID: blockID, Offset: int64(handle), Length: int32(len(blob))}); err != nil {
		return fmt.Errorf("index record %d: %w", r.ID, err)
	}

	added, dropped := r.Tags, []string(nil)
	if prev != nil {
		added, dropped = diffTags(r.Tags, prev.Tags)
	}
	if err := s.updatePostings(added, r.ID, true); err != nil {
		return err
	}
	return s.updatePostings(dropped, r.ID, false)
}

// Delete removes record id from the offset index and from every tag it carried.
// Deleting an absent record is a no-op.
func (s *Store) Delete(id uint32) error {
	if id < 1 {
		return fmt.Errorf("record id %d: %w", id, types.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}

	prev, err := s.load(id)
	if err != nil || prev == nil {
		return err
	}
	if err := s.offsets.Remove(id); err != nil {
		return fmt.Errorf("remove record %d: %w", id, err)
	}
	if err := s.updatePostings(prev.Tags, id, false); err != nil {
		return err
	}
	if err := s.tags.Flush(); err != nil {
		return err
	}
	return s.logWrite(id)
}

func (s *Store) logWrite(id uint32) error {
	if _, err := s.log.Append(id); err != nil {
		return fmt.Errorf("log record %d: %w", id, err)
	}
	return s.log.Commit()
}

// load reads record id, or returns nil when it is absent.
func (s *Store) load(id uint32) (*Record, error) {
	loc, err := s.offsets.Get(id)
	if err != nil || loc == nil {
		return nil, err
	}
	blob, err := s.blocks.Get(int32(loc.Offset))
	if err != nil {
		return nil, fmt.Errorf("read record %d: %w", id, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("record %d points at empty entry %d: %w", id, loc.Offset, types.ErrIntegrity)
	}
	if len(blob) != int(loc.Length) {
		return nil, fmt.Errorf("record %d is %d bytes, index says %d: %w", id, len(blob), loc.Length, types.ErrIntegrity)
	}
	tags, payload, err := decodeRecord(blob)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", id, err)
	}
	return &Record{ID: id, Tags: tags, Payload: payload, Updated: loc.Updated}, nil
}

// Get returns the payload of record id, or nil when it is absent.
func (s *Store) Get(id uint32) ([]byte, error) {
	rec, err := s.Record(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Payload, nil
}

// Record returns record id with its tags, or nil when it is absent.
func (s *Store) Record(id uint32) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrClosed
	}
	return s.load(id)
}

// ListByTags returns one page of the ids carrying every tag, in ascending order.
// Pages are numbered from 1.
func (s *Store) ListByTags(page, pageSize int, tags ...string) ([]uint32, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("page %d of size %d: %w", page, pageSize, types.ErrInvalidArgument)
	}
	tags, err := normalizeTags(tags)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags given: %w", types.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrClosed
	}

	bm, err := s.intersect(tags)
	if err != nil {
		return nil, err
	}

	skip := (page - 1) * pageSize
	out := make([]uint32, 0, pageSize)
	it := bm.Iterator()
	for it.HasNext() && len(out) < pageSize {
		id := it.Next()
		loc, err := s.offsets.Get(id)
		if err != nil {
			return nil, err
		}
		if loc == nil {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// CountByTags returns how many records carry every tag.
func (s *Store) CountByTags(tags ...string) (int, error) {
	tags, err := normalizeTags(tags)
	if err != nil {
		return 0, err
	}
	if len(tags) == 0 {
		return 0, fmt.Errorf("no tags given: %w", types.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, types.ErrClosed
	}

	bm, err := s.intersect(tags)
	if err != nil {
		return 0, err
	}
	return int(bm.GetCardinality()), nil
}

// Replay calls fn for every logged record id from position on, in log order.
// It returns the position after the last record delivered.
func (s *Store) Replay(from int64, fn func(pos int64, id uint32) error) (int64, error) {
	const chunk = 4096
	pos := from
	for {
		ids, err := s.log.Records(pos, chunk)
		if err != nil {
			return pos, err
		}
		if len(ids) == 0 {
			return pos, nil
		}
		for _, id := range ids {
			if err := fn(pos, id); err != nil {
				return pos, err
			}
			pos += wal.RecordSize
		}
	}
}

// Version changes on every write. Followers compare it to detect staleness.
func (s *Store) Version() uint32 { return s.offsets.Version() }

// Size is the number of live records.
func (s *Store) Size() int { return s.offsets.Size() }

func (s *Store) InstanceID() string { return s.id.String() }

func (s *Store) Stats() Stats {
	return Stats{
		InstanceID:  s.id.String(),
		Records:     s.offsets.Size(),
		Version:     s.offsets.Version(),
		MaxRecordID: s.offsets.MaxRecordID(),
		Tags:        s.tags.Len(),
		TagCapacity: s.tags.Capacity(),
		Block:       s.blocks.Stats(),
		WALBytes:    s.log.Size(),
	}
}

// Close commits the log and closes every file. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.closeAll()
	if err != nil {
		util.Error("failed to close metadata store %s: %v", s.cfg.DataDir, err)
	} else {
		util.Info("metadata store %s closed", s.cfg.DataDir)
	}
	return err
}

func (s *Store) closeAll() error {
	var errs []error
	if s.log != nil {
		errs = append(errs, s.log.Close())
	}
	if s.tags != nil {
		errs = append(errs, s.tags.Close())
	}
	if s.offsets != nil && s.offsets != types.OffsetStore(s.index) {
		errs = append(errs, s.offsets.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.blocks != nil {
		errs = append(errs, s.blocks.Close())
	}
	return errors.Join(errs...)
}
