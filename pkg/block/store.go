package block

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/chronos/pkg/mapped"
	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// File layout:
//
//	| file header (32) | page 0 | page 1 | ... | page N |
//	file header: magic(4) | write cursor(4) | reserved(24)
//	page:        used bytes(4) | reserved(12) | entry | entry | ...
//	entry:       kind(1) | length(3) | next entry(4) | tag ref(4) | reserved(20) | payload
const (
	Magic           = 0x00870712
	FileHeaderSize  = 32
	PageSize        = 128 * 1024
	PageHeaderSize  = 16
	EntryHeaderSize = 32
	DefaultPages    = 256

	KindNone         uint8 = 0
	KindSingle       uint8 = 1
	KindContinuation uint8 = 2

	offMagic  = 0
	offCursor = 4

	entryKind   = 0
	entryLength = 1
	entryNext   = 4
	entryTagRef = 8

	// MaxPayloadPerEntry is the payload of an entry that fills a whole fresh page.
	MaxPayloadPerEntry = PageSize - PageHeaderSize - EntryHeaderSize
)

// Store is a paged, append-only container for serialized blobs.
// A blob is addressed by the file offset of its first entry (its handle).
type Store struct {
	mu     sync.RWMutex
	region *mapped.Region
	cursor int64
}

type Stats struct {
	FileSize    int64
	WriteCursor int64
	Pages       int
}

// Open maps the block file at path, creating it with initialPages pages when missing.
func Open(path string, initialPages int) (*Store, error) {
	if initialPages <= 0 {
		initialPages = DefaultPages
	}
	region, err := mapped.Open(path, int64(initialPages)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}

	s := &Store{region: region}
	if region.Created() {
		if err := s.writeHeader(FileHeaderSize); err != nil {
			_ = region.Close()
			return nil, err
		}
		if err := region.Flush(); err != nil {
			_ = region.Close()
			return nil, err
		}
		util.Info("created block file %s (%d pages)", path, initialPages)
		return s, nil
	}

	magic, err := region.Uint32At(offMagic)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	if magic != Magic {
		_ = region.Close()
		return nil, fmt.Errorf("block file %s has magic %#x: %w", path, magic, types.ErrIntegrity)
	}
	cursor, err := region.Uint32At(offCursor)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	if int64(cursor) < FileHeaderSize || int64(cursor) > region.Size() {
		_ = region.Close()
		return nil, fmt.Errorf("block file %s write cursor %d out of range: %w", path, cursor, types.ErrIntegrity)
	}
	s.cursor = int64(cursor)
	util.Info("opened block file %s (cursor %d, %d bytes)", path, s.cursor, region.Size())
	return s, nil
}

func (s *Store) writeHeader(cursor int64) error {
	if err := s.region.PutUint32At(offMagic, Magic); err != nil {
		return err
	}
	if err := s.region.PutUint32At(offCursor, uint32(cursor)); err != nil {
		return err
	}
	s.cursor = cursor
	return nil
}

// Add writes blob as one entry, or as a chain of continuation entries when it does not
// fit in the current page, and returns the handle of the first entry. tagRef is stored
// in every entry as a back reference to the owning tag slot.
func (s *Store) Add(tagRef int32, blob []byte) (int32, error) {
	if len(blob) == 0 {
		return 0, fmt.Errorf("empty blob: %w", types.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.region.Size() == 0 {
		return 0, types.ErrClosed
	}

	segs := planChain(s.cursor, len(blob))
	end := segs[len(segs)-1].end()
	if end > mapped.MaxRegionSize {
		return 0, fmt.Errorf("blob of %d bytes needs %d bytes: %w", len(blob), end, types.ErrCapacityExceeded)
	}
	if end > s.region.Size() {
		if err := s.region.GrowDouble(end); err != nil {
			return 0, fmt.Errorf("expand block file: %w", err)
		}
	}

	kind := KindSingle
	if len(segs) > 1 {
		kind = KindContinuation
	}

	rest := blob
	for i, seg := range segs {
		if seg.freshPage {
			if err := s.region.Zero(seg.page, PageHeaderSize); err != nil {
				return 0, err
			}
		}

		next := int64(0)
		if i+1 < len(segs) {
			next = segs[i+1].pos
		}
		v, err := s.region.View(seg.pos, EntryHeaderSize+int64(seg.n))
		if err != nil {
			return 0, err
		}
		v[:EntryHeaderSize].Zero()
		v.PutUint8(entryKind, kind)
		v.PutUint24(entryLength, uint32(seg.n))
		v.PutUint32(entryNext, uint32(next))
		v.PutUint32(entryTagRef, uint32(tagRef))
		copy(v[EntryHeaderSize:], rest[:seg.n])
		rest = rest[seg.n:]

		if err := s.addUsed(seg.page, EntryHeaderSize+seg.n); err != nil {
			return 0, err
		}
	}

	if err := s.writeHeader(end); err != nil {
		return 0, err
	}
	if err := s.region.Flush(); err != nil {
		return 0, err
	}

	metrics.ObserveBlockWrite(len(blob), len(segs), s.region.Size())
	return int32(segs[0].pos), nil
}

func (s *Store) addUsed(page int64, n int) error {
	used, err := s.region.Uint32At(page)
	if err != nil {
		return err
	}
	return s.region.PutUint32At(page, used+uint32(n))
}

// Get returns the blob stored at handle. A non-positive handle, or an entry with no
// kind or a non-positive length, is treated as absent and yields nil without error.
// Any other unknown kind is ErrIntegrity.
func (s *Store) Get(handle int32) ([]byte, error) {
	if handle <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.region.Size() == 0 {
		return nil, types.ErrClosed
	}

	h, err := s.readEntry(int64(handle))
	if err != nil {
		return nil, err
	}
	if h.kind == KindNone || h.length <= 0 {
		return nil, nil
	}
	if h.kind != KindSingle && h.kind != KindContinuation {
		return nil, fmt.Errorf("entry at %d has unknown kind %d: %w", handle, h.kind, types.ErrIntegrity)
	}

	blob := make([]byte, 0, h.length)
	payload, err := s.region.View(int64(handle)+EntryHeaderSize, int64(h.length))
	if err != nil {
		return nil, err
	}
	blob = append(blob, payload...)
	if h.kind == KindSingle {
		return blob, nil
	}

	// Every link lies on a later page, so a chain can never be longer than the page count.
	maxLinks := s.region.Size()/PageSize + 1
	for links := int64(1); h.next != 0; links++ {
		if links > maxLinks {
			return nil, fmt.Errorf("chain at %d exceeds %d links: %w", handle, maxLinks, types.ErrIntegrity)
		}
		pos := int64(h.next)
		if pos < FileHeaderSize+PageHeaderSize || pos >= s.cursor {
			return nil, fmt.Errorf("chain link %d outside written area [%d,%d): %w", pos, FileHeaderSize, s.cursor, types.ErrIntegrity)
		}
		if h, err = s.readEntry(pos); err != nil {
			return nil, err
		}
		if h.kind != KindContinuation || h.length <= 0 {
			return nil, fmt.Errorf("chain link %d has kind %d length %d: %w", pos, h.kind, h.length, types.ErrIntegrity)
		}
		payload, err := s.region.View(pos+EntryHeaderSize, int64(h.length))
		if err != nil {
			return nil, err
		}
		blob = append(blob, payload...)
	}
	return blob, nil
}

// Update is reserved. Entries are never rewritten in place.
func (s *Store) Update(handle int32, blob []byte) error {
	return fmt.Errorf("block update at %d: %w", handle, types.ErrUnsupported)
}

// Delete is reserved. Space is not reclaimed.
func (s *Store) Delete(handle int32) error {
	return fmt.Errorf("block delete at %d: %w", handle, types.ErrUnsupported)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{FileSize: s.region.Size(), WriteCursor: s.cursor}
	if s.cursor > FileHeaderSize {
		st.Pages = int(pageIndex(s.cursor-1)) + 1
	}
	return st
}

// PageEntryCount walks the entries of page i and counts them.
func (s *Store) PageEntryCount(i int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := pageStart(int64(i))
	if page >= s.cursor {
		return 0, nil
	}
	used, err := s.region.Uint32At(page)
	if err != nil {
		return 0, err
	}
	count := 0
	pos := page + PageHeaderSize
	limit := page + PageHeaderSize + int64(used)
	for pos < limit {
		h, err := s.readEntry(pos)
		if err != nil {
			return count, err
		}
		if h.kind == KindNone || h.length <= 0 {
			break
		}
		count++
		pos += EntryHeaderSize + int64(h.length)
	}
	return count, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.region.Close()
}
