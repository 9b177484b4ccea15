//go:build linux
// +build linux

package mapped

import (
	"os"

	"golang.org/x/sys/unix"
)

// Index and block files are probed at scattered offsets; read-ahead only wastes page cache.
func adviseRandom(f *os.File, data []byte) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
	_ = unix.Madvise(data, unix.MADV_RANDOM)
}
