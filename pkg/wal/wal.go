package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/downfa11-org/chronos/util"
	"golang.org/x/exp/mmap"
)

const (
	RecordSize        = 4
	DefaultBufferSize = 4096
)

// Log is an append-only file of 4-byte big-endian record ids.
// Appends collect in memory until Commit, or until the buffer fills.
// Readers only ever see committed bytes.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  []byte
	size int64 // committed bytes
}

// Open opens or creates the log at path. bufferSize is rounded down to whole records.
func Open(path string, bufferSize int) (*Log, error) {
	if bufferSize < RecordSize {
		bufferSize = DefaultBufferSize
	}
	bufferSize -= bufferSize % RecordSize

	f, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	if size%RecordSize != 0 {
		util.Warn("wal %s ends with a partial record (%d bytes)", path, size)
	}
	util.Info("opened wal %s (%d bytes committed)", path, size)
	return &Log{path: path, file: f, buf: make([]byte, 0, bufferSize), size: size}, nil
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat wal %s: %w", path, err)
	}
	return f, info.Size(), nil
}

// Append buffers id and returns its position in the log. It does not make the
// record durable unless the buffer fills and forces a commit.
func (l *Log) Append(id uint32) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, types.ErrClosed
	}
	pos := l.size + int64(len(l.buf))
	l.buf = binary.BigEndian.AppendUint32(l.buf, id)
	metrics.WALAppends.Inc()
	if len(l.buf) == cap(l.buf) {
		if err := l.commit(); err != nil {
			return pos, err
		}
	}
	return pos, nil
}

// Commit writes buffered records and forces file data and metadata to disk.
func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return types.ErrClosed
	}
	return l.commit()
}

func (l *Log) commit() error {
	if len(l.buf) == 0 {
		return nil
	}
	n, err := l.file.Write(l.buf)
	l.size += int64(n)
	if err != nil {
		l.buf = l.buf[:copy(l.buf, l.buf[n:])]
		return fmt.Errorf("write wal %s: %w", l.path, err)
	}
	l.buf = l.buf[:0]
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync wal %s: %w", l.path, err)
	}
	metrics.WALCommits.Inc()
	return nil
}

// ReadFrom maps the log read-only and returns up to maxBytes committed bytes from position.
func (l *Log) ReadFrom(position int64, maxBytes int) ([]byte, error) {
	if position < 0 || maxBytes < 0 {
		return nil, fmt.Errorf("read wal at %d for %d bytes: %w", position, maxBytes, types.ErrInvalidArgument)
	}

	l.mu.Lock()
	committed := l.size
	closed := l.file == nil
	l.mu.Unlock()
	if closed {
		return nil, types.ErrClosed
	}
	if position >= committed {
		return []byte{}, nil
	}

	r, err := mmap.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("map wal %s: %w", l.path, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			util.Error("failed to unmap wal %s: %v", l.path, err)
		}
	}()

	limit := min(committed, int64(r.Len()))
	if position >= limit {
		return []byte{}, nil
	}
	out := make([]byte, min(limit-position, int64(maxBytes)))
	n, err := r.ReadAt(out, position)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read wal %s: %w", l.path, err)
	}
	return out[:n], nil
}

// Records decodes the whole records in the window ReadFrom(position, maxBytes) returns.
func (l *Log) Records(position int64, maxBytes int) ([]uint32, error) {
	if position%RecordSize != 0 {
		return nil, fmt.Errorf("wal position %d is not record aligned: %w", position, types.ErrInvalidArgument)
	}
	raw, err := l.ReadFrom(position, maxBytes-maxBytes%RecordSize)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(raw)/RecordSize)
	for i := 0; i+RecordSize <= len(raw); i += RecordSize {
		ids = append(ids, binary.BigEndian.Uint32(raw[i:]))
	}
	return ids, nil
}

// TruncateTo discards everything before end and keeps the tail. Pending appends are
// committed first. The tail is written to a temp file which then replaces the log.
func (l *Log) TruncateTo(end int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return types.ErrClosed
	}
	if err := l.commit(); err != nil {
		return err
	}
	if end < 0 || end > l.size {
		return fmt.Errorf("truncate wal to %d of %d bytes: %w", end, l.size, types.ErrInvalidArgument)
	}
	if end == 0 {
		return nil
	}

	tail := make([]byte, l.size-end)
	src, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open wal %s: %w", l.path, err)
	}
	_, err = src.ReadAt(tail, end)
	_ = src.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read wal tail: %w", err)
	}

	tmp := l.path + ".TMP"
	if err := writeSynced(tmp, tail); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := l.file.Close(); err != nil {
		util.Error("failed to close wal %s before truncation: %v", l.path, err)
	}
	l.file = nil
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		if f, size, reopenErr := openAppend(l.path); reopenErr == nil {
			l.file, l.size = f, size
		}
		return fmt.Errorf("replace wal %s: %w", l.path, err)
	}

	f, size, err := openAppend(l.path)
	if err != nil {
		return err
	}
	l.file, l.size = f, size
	util.Warn("wal %s truncated at %d, %d bytes kept", l.path, end, size)
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// Size is the number of committed bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Pending is the number of buffered, uncommitted bytes.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Close commits pending records and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.commit()
	if cerr := l.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close wal %s: %w", l.path, cerr)
	}
	l.file = nil
	return err
}
