package metastore

import (
	"fmt"
	"slices"

	"github.com/downfa11-org/chronos/pkg/types"
)

// A record blob carries its tags ahead of the payload so updates and deletes can
// find the postings that reference the record:
//
//	tag count(1) | (tag length(1) | tag)* | payload
const maxTagsPerRecord = 255

// Record is one stored metadata record.
type Record struct {
	ID      uint32
	Tags    []string
	Payload []byte
	Updated int64 // unix millis
}

func encodeRecord(tags []string, payload []byte) []byte {
	size := 1 + len(payload)
	for _, t := range tags {
		size += 1 + len(t)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(len(tags)))
	for _, t := range tags {
		buf = append(buf, byte(len(t)))
		buf = append(buf, t...)
	}
	return append(buf, payload...)
}

func decodeRecord(blob []byte) ([]string, []byte, error) {
	if len(blob) < 1 {
		return nil, nil, fmt.Errorf("empty record blob: %w", types.ErrIntegrity)
	}
	n := int(blob[0])
	pos := 1
	tags := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if pos >= len(blob) {
			return nil, nil, fmt.Errorf("record blob truncated in tag %d: %w", i, types.ErrIntegrity)
		}
		l := int(blob[pos])
		pos++
		if pos+l > len(blob) {
			return nil, nil, fmt.Errorf("record blob tag %d overruns blob: %w", i, types.ErrIntegrity)
		}
		tags = append(tags, string(blob[pos:pos+l]))
		pos += l
	}
	return tags, blob[pos:], nil
}

// normalizeTags validates tags and returns them sorted without duplicates.
func normalizeTags(tags []string) ([]string, error) {
	out := slices.Clone(tags)
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > maxTagsPerRecord {
		return nil, fmt.Errorf("%d tags, limit %d: %w", len(out), maxTagsPerRecord, types.ErrInvalidArgument)
	}
	for _, t := range out {
		if t == "" || len(t) > types.MaxTagLength {
			return nil, fmt.Errorf("tag %q must be 1-%d bytes: %w", t, types.MaxTagLength, types.ErrInvalidArgument)
		}
	}
	return out, nil
}

// diffTags returns the tags only in a and the tags only in b. Both must be sorted.
func diffTags(a, b []string) (onlyA, onlyB []string) {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			onlyA = append(onlyA, a[i])
			i++
		case i == len(a) || b[j] < a[i]:
			onlyB = append(onlyB, b[j])
			j++
		default:
			i++
			j++
		}
	}
	return onlyA, onlyB
}
