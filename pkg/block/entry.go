package block

import "fmt"

type entryHeader struct {
	kind   uint8
	length int32
	next   uint32
	tagRef int32
}

func (s *Store) readEntry(pos int64) (entryHeader, error) {
	v, err := s.region.View(pos, EntryHeaderSize)
	if err != nil {
		return entryHeader{}, fmt.Errorf("read entry at %d: %w", pos, err)
	}
	return entryHeader{
		kind:   v.Uint8(entryKind),
		length: int32(v.Uint24(entryLength)),
		next:   v.Uint32(entryNext),
		tagRef: int32(v.Uint32(entryTagRef)),
	}, nil
}

// segment is one planned entry of a chain.
type segment struct {
	page      int64 // start of the page holding the entry
	pos       int64 // entry header offset
	n         int   // payload bytes
	freshPage bool  // the page header must be initialised first
}

func (g segment) end() int64 {
	return g.pos + EntryHeaderSize + int64(g.n)
}

func pageIndex(off int64) int64 {
	return (off - FileHeaderSize) / PageSize
}

func pageStart(i int64) int64 {
	return FileHeaderSize + i*PageSize
}

// planChain lays out size payload bytes starting at cursor: fill what is left of the
// current page, then continue at the start of each following page.
func planChain(cursor int64, size int) []segment {
	var segs []segment
	pos := cursor
	remaining := int64(size)
	for remaining > 0 {
		page := pageStart(pageIndex(pos))
		fresh := pos == page
		if fresh {
			pos += PageHeaderSize
		}
		room := page + PageSize - pos - EntryHeaderSize
		if room <= 0 {
			pos = page + PageSize
			continue
		}
		n := min(remaining, room)
		segs = append(segs, segment{page: page, pos: pos, n: int(n), freshPage: fresh})
		remaining -= n
		pos = page + PageSize
	}
	return segs
}

// Entry describes one physical entry, for inspection tools.
type Entry struct {
	Offset int32
	Kind   uint8
	Length int32
	Next   int32
	TagRef int32
}

// Chain returns every entry of the blob at handle in link order.
func (s *Store) Chain(handle int32) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []Entry
	pos := int64(handle)
	maxLinks := s.region.Size()/PageSize + 1
	for pos != 0 {
		if int64(len(chain)) > maxLinks {
			return chain, fmt.Errorf("chain at %d does not terminate", handle)
		}
		h, err := s.readEntry(pos)
		if err != nil {
			return chain, err
		}
		chain = append(chain, Entry{Offset: int32(pos), Kind: h.kind, Length: h.length, Next: int32(h.next), TagRef: h.tagRef})
		if h.kind != KindContinuation {
			break
		}
		pos = int64(h.next)
	}
	return chain, nil
}
