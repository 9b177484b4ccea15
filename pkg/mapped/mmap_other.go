//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package mapped

import (
	"io"
	"os"
)

// Without a writable shared mapping the region is a heap copy of the file,
// written back in full on every flush.

func mapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

func unmapFile(_ *os.File, _ []byte) error {
	return nil
}

func syncMapping(f *os.File, data []byte) error {
	_, err := f.WriteAt(data, 0)
	return err
}
