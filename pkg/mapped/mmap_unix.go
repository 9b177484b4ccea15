//go:build linux || darwin || freebsd || netbsd || openbsd

package mapped

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmapFile(_ *os.File, data []byte) error {
	return unix.Munmap(data)
}

func syncMapping(_ *os.File, data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}
