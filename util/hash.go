package util

import "github.com/cespare/xxhash/v2"

// TagHash returns the 32-bit hash used to place a tag in the tag index.
// The value is stable across restarts; changing it invalidates every TAGS.IDX on disk.
func TagHash(tag string) uint32 {
	return uint32(xxhash.Sum64String(tag))
}
