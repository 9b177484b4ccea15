package mapped

import (
	"encoding/binary"
	"fmt"

	"github.com/downfa11-org/chronos/pkg/types"
)

// View is a fixed window into a region. Accessors take offsets relative to the window
// and use big-endian byte order. The window bounds were checked when the view was made.
type View []byte

func (v View) Uint8(i int) uint8 { return v[i] }

func (v View) PutUint8(i int, x uint8) { v[i] = x }

func (v View) Uint24(i int) uint32 {
	_ = v[i+2]
	return uint32(v[i])<<16 | uint32(v[i+1])<<8 | uint32(v[i+2])
}

func (v View) PutUint24(i int, x uint32) {
	_ = v[i+2]
	v[i] = byte(x >> 16)
	v[i+1] = byte(x >> 8)
	v[i+2] = byte(x)
}

func (v View) Uint32(i int) uint32 { return binary.BigEndian.Uint32(v[i:]) }

func (v View) PutUint32(i int, x uint32) { binary.BigEndian.PutUint32(v[i:], x) }

func (v View) Uint64(i int) uint64 { return binary.BigEndian.Uint64(v[i:]) }

func (v View) PutUint64(i int, x uint64) { binary.BigEndian.PutUint64(v[i:], x) }

func (v View) Zero() { clear(v) }

// Length prefix of a string: one byte below 64, two bytes tagged 0b01 below 16384.
const (
	shortLenLimit = 64
	longLenLimit  = 16384
)

// StringSize is the encoded size of s including its length prefix.
func StringSize(s string) int {
	if len(s) < shortLenLimit {
		return 1 + len(s)
	}
	return 2 + len(s)
}

// String decodes a length-prefixed string at i. A zero length decodes as "".
func (v View) String(i int) (string, error) {
	if i >= len(v) {
		return "", fmt.Errorf("string header at %d outside %d-byte view: %w", i, len(v), types.ErrIntegrity)
	}
	head := v[i]
	var n, start int
	switch head >> 6 {
	case 0:
		n, start = int(head&0x3f), i+1
	case 1:
		if i+1 >= len(v) {
			return "", fmt.Errorf("truncated string header at %d: %w", i, types.ErrIntegrity)
		}
		n, start = int(head&0x3f)<<8|int(v[i+1]), i+2
	default:
		return "", fmt.Errorf("string header flag %d at %d: %w", head>>6, i, types.ErrIntegrity)
	}
	if start+n > len(v) {
		return "", fmt.Errorf("string of %d bytes at %d overruns view: %w", n, i, types.ErrIntegrity)
	}
	return string(v[start : start+n]), nil
}

// PutString encodes s length-prefixed at i.
func (v View) PutString(i int, s string) error {
	if len(s) >= longLenLimit {
		return fmt.Errorf("string of %d bytes: %w", len(s), types.ErrInvalidArgument)
	}
	if i+StringSize(s) > len(v) {
		return fmt.Errorf("string of %d bytes at %d overruns %d-byte view: %w", len(s), i, len(v), types.ErrInvalidArgument)
	}
	if len(s) < shortLenLimit {
		v[i] = byte(len(s))
		copy(v[i+1:], s)
		return nil
	}
	v[i] = byte(len(s)>>8) | 0x40
	v[i+1] = byte(len(s))
	copy(v[i+2:], s)
	return nil
}
