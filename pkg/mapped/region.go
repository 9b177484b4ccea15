package mapped

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
)

// MaxRegionSize is the addressing ceiling of a region: offsets are stored as 4-byte signed ints.
const MaxRegionSize int64 = math.MaxInt32

// Region is a growable, file-backed, memory-mapped byte region.
// It does no locking; the owning component serializes access.
// Views and slices taken from a Region are invalid after Grow or Close.
type Region struct {
	path    string
	file    *os.File
	data    []byte
	created bool
}

// Open maps path read-write. A missing file is created zero-filled at initialSize.
// An existing file is mapped at its current size.
func Open(path string, initialSize int64) (*Region, error) {
	if initialSize <= 0 || initialSize > MaxRegionSize {
		return nil, fmt.Errorf("initial size %d: %w", initialSize, types.ErrInvalidArgument)
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		created = true
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		closeQuietly(f)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := info.Size()
	if created || size == 0 {
		created = true
		if err := f.Truncate(initialSize); err != nil {
			closeQuietly(f)
			return nil, fmt.Errorf("truncate %s to %d: %w", path, initialSize, err)
		}
		size = initialSize
	}
	if size > MaxRegionSize {
		closeQuietly(f)
		return nil, fmt.Errorf("%s is %d bytes: %w", path, size, types.ErrCapacityExceeded)
	}

	data, err := mapFile(f, int(size))
	if err != nil {
		closeQuietly(f)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	adviseRandom(f, data)

	if created {
		util.Debug("created mapped file %s (%d bytes)", path, size)
	}
	return &Region{path: path, file: f, data: data, created: created}, nil
}

func closeQuietly(f *os.File) {
	if err := f.Close(); err != nil {
		util.Error("failed to close file %s: %v", f.Name(), err)
	}
}

// Created reports whether Open created the backing file, so the owner knows to write its header.
func (r *Region) Created() bool { return r.created }

func (r *Region) Path() string { return r.path }

func (r *Region) Size() int64 { return int64(len(r.data)) }

func (r *Region) check(off, n int64) error {
	if r.data == nil {
		return types.ErrClosed
	}
	if off < 0 || n < 0 || off+n > int64(len(r.data)) {
		return fmt.Errorf("range [%d,%d) outside %s (%d bytes): %w", off, off+n, r.path, len(r.data), types.ErrIntegrity)
	}
	return nil
}

// View returns a bounds-checked window of n bytes at off, backed by the mapping.
func (r *Region) View(off, n int64) (View, error) {
	if err := r.check(off, n); err != nil {
		return nil, err
	}
	return View(r.data[off : off+n : off+n]), nil
}

func (r *Region) Uint8At(off int64) (uint8, error) {
	v, err := r.View(off, 1)
	if err != nil {
		return 0, err
	}
	return v.Uint8(0), nil
}

func (r *Region) PutUint8At(off int64, x uint8) error {
	v, err := r.View(off, 1)
	if err != nil {
		return err
	}
	v.PutUint8(0, x)
	return nil
}

func (r *Region) Uint24At(off int64) (uint32, error) {
	v, err := r.View(off, 3)
	if err != nil {
		return 0, err
	}
	return v.Uint24(0), nil
}

func (r *Region) PutUint24At(off int64, x uint32) error {
	v, err := r.View(off, 3)
	if err != nil {
		return err
	}
	v.PutUint24(0, x)
	return nil
}

func (r *Region) Uint32At(off int64) (uint32, error) {
	v, err := r.View(off, 4)
	if err != nil {
		return 0, err
	}
	return v.Uint32(0), nil
}

func (r *Region) PutUint32At(off int64, x uint32) error {
	v, err := r.View(off, 4)
	if err != nil {
		return err
	}
	v.PutUint32(0, x)
	return nil
}

func (r *Region) Uint64At(off int64) (uint64, error) {
	v, err := r.View(off, 8)
	if err != nil {
		return 0, err
	}
	return v.Uint64(0), nil
}

func (r *Region) PutUint64At(off int64, x uint64) error {
	v, err := r.View(off, 8)
	if err != nil {
		return err
	}
	v.PutUint64(0, x)
	return nil
}

// StringAt reads a length-prefixed string starting at off.
func (r *Region) StringAt(off int64) (string, error) {
	if err := r.check(off, 1); err != nil {
		return "", err
	}
	return View(r.data[off:]).String(0)
}

// PutStringAt writes s length-prefixed at off.
func (r *Region) PutStringAt(off int64, s string) error {
	if err := r.check(off, int64(StringSize(s))); err != nil {
		return err
	}
	return View(r.data[off:]).PutString(0, s)
}

// ReadAt copies from the mapping. It follows io.ReaderAt.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, types.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", off, types.ErrInvalidArgument)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the mapping. Writes past the end fail; the region never grows implicitly.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if err := r.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	return copy(r.data[off:], p), nil
}

// Zero clears n bytes at off.
func (r *Region) Zero(off, n int64) error {
	v, err := r.View(off, n)
	if err != nil {
		return err
	}
	v.Zero()
	return nil
}

// Grow flushes, unmaps, extends the file to newSize and maps it again.
func (r *Region) Grow(newSize int64) error {
	if r.data == nil {
		return types.ErrClosed
	}
	if newSize > MaxRegionSize {
		return fmt.Errorf("grow %s to %d: %w", r.path, newSize, types.ErrCapacityExceeded)
	}
	if newSize <= int64(len(r.data)) {
		return nil
	}

	if err := r.Flush(); err != nil {
		return err
	}
	if err := unmapFile(r.file, r.data); err != nil {
		return fmt.Errorf("munmap %s: %w", r.path, err)
	}
	r.data = nil

	if err := r.file.Truncate(newSize); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", r.path, newSize, err)
	}
	data, err := mapFile(r.file, int(newSize))
	if err != nil {
		return fmt.Errorf("remap %s: %w", r.path, err)
	}
	adviseRandom(r.file, data)
	r.data = data

	util.Info("grew mapped file %s to %d bytes", r.path, newSize)
	return nil
}

// GrowDouble doubles the region until it holds at least minSize bytes, clamped at MaxRegionSize.
func (r *Region) GrowDouble(minSize int64) error {
	if minSize > MaxRegionSize {
		return fmt.Errorf("grow %s to %d: %w", r.path, minSize, types.ErrCapacityExceeded)
	}
	size := int64(len(r.data))
	if size >= minSize {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	for size < minSize {
		size *= 2
	}
	if size > MaxRegionSize {
		size = MaxRegionSize
	}
	return r.Grow(size)
}

// Flush forces dirty pages and file metadata to disk.
func (r *Region) Flush() error {
	if r.data == nil {
		return types.ErrClosed
	}
	if err := syncMapping(r.file, r.data); err != nil {
		return fmt.Errorf("msync %s: %w", r.path, err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", r.path, err)
	}
	return nil
}

// Close flushes, unmaps and releases the file handle.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	var errs []error
	if err := r.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := unmapFile(r.file, r.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap %s: %w", r.path, err))
	}
	r.data = nil
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", r.path, err))
	}
	return errors.Join(errs...)
}
