// Package pmmrfile implements the prunable MMR backend described in spec
// §4.3: a durable, append-only, fixed-record-size hash/data file; a
// LeafSet bitmap of currently-alive leaf positions; and a PruneList that
// tracks fully-pruned subtrees so the hash file can be physically
// compacted without moving logical positions.
package pmmrfile

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AppendOnlyFile stores fixed-size records in insertion order. Writes go
// through a RAM buffer flushed atomically at Commit; uncommitted writes
// are discarded by Discard/Rewind (spec §4.3).
type AppendOnlyFile struct {
	mu         sync.RWMutex
	path       string
	file       *os.File
	recordSize int

	// committedSize is the number of records durably on disk.
	committedSize int64

	// buffer holds appended-but-not-yet-committed records.
	buffer []byte
}

// Open opens (creating if necessary) an AppendOnlyFile of fixed record
// size at path.
func Open(path string, recordSize int) (*AppendOnlyFile, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("pmmrfile: record size must be positive, got %d", recordSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmmrfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmmrfile: stat %s: %w", path, err)
	}
	if info.Size()%int64(recordSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("pmmrfile: %s size %d is not a multiple of record size %d (storage corruption)", path, info.Size(), recordSize)
	}
	return &AppendOnlyFile{
		path:          path,
		file:          f,
		recordSize:    recordSize,
		committedSize: info.Size() / int64(recordSize),
	}, nil
}

// Size returns the number of records visible to readers: committed
// records plus any appended-but-uncommitted records in the buffer, since
// a single writer's own in-flight Extension must see its own writes.
func (a *AppendOnlyFile) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.committedSize + int64(len(a.buffer))/int64(a.recordSize)
}

// CommittedSize returns the number of durably persisted records.
func (a *AppendOnlyFile) CommittedSize() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.committedSize
}

// Append buffers a record and returns its 0-based record index. Nothing
// is durable until Commit is called.
func (a *AppendOnlyFile) Append(record []byte) (int64, error) {
	if len(record) != a.recordSize {
		return 0, fmt.Errorf("pmmrfile: record length %d does not match fixed size %d", len(record), a.recordSize)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.committedSize + int64(len(a.buffer))/int64(a.recordSize)
	a.buffer = append(a.buffer, record...)
	return idx, nil
}

// ReadAt reads the record at 0-based index idx, transparently reading
// through committed disk records or the pending buffer.
func (a *AppendOnlyFile) ReadAt(idx int64) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if idx < 0 {
		return nil, fmt.Errorf("pmmrfile: negative index %d", idx)
	}
	if idx < a.committedSize {
		buf := make([]byte, a.recordSize)
		if _, err := a.file.ReadAt(buf, idx*int64(a.recordSize)); err != nil {
			return nil, fmt.Errorf("pmmrfile: read committed record %d: %w", idx, err)
		}
		return buf, nil
	}

	bufferIdx := idx - a.committedSize
	off := bufferIdx * int64(a.recordSize)
	total := a.committedSize + int64(len(a.buffer))/int64(a.recordSize)
	if idx >= total {
		return nil, fmt.Errorf("pmmrfile: index %d out of range (size %d)", idx, total)
	}
	return append([]byte(nil), a.buffer[off:off+int64(a.recordSize)]...), nil
}

// Commit flushes buffered records to disk and fsyncs. After Commit
// returns nil, the appended records are durable.
func (a *AppendOnlyFile) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffer) == 0 {
		return nil
	}
	off := a.committedSize * int64(a.recordSize)
	if _, err := a.file.WriteAt(a.buffer, off); err != nil {
		return fmt.Errorf("pmmrfile: write %s: %w", a.path, err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("pmmrfile: sync %s: %w", a.path, err)
	}
	a.committedSize += int64(len(a.buffer)) / int64(a.recordSize)
	a.buffer = nil
	return nil
}

// Discard drops any buffered, uncommitted appends (rollback path).
func (a *AppendOnlyFile) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
}

// Rewind truncates the file to numRecords, discarding everything after —
// both on disk and in the pending buffer. Used to undo a reorg-rewound
// extension or to physically shrink the file after a failed apply.
func (a *AppendOnlyFile) Rewind(numRecords int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if numRecords > a.committedSize {
		// Only the pending buffer shrinks.
		keep := (numRecords - a.committedSize) * int64(a.recordSize)
		if keep < 0 || keep > int64(len(a.buffer)) {
			return fmt.Errorf("pmmrfile: rewind target %d exceeds buffered size", numRecords)
		}
		a.buffer = a.buffer[:keep]
		return nil
	}

	a.buffer = nil
	newByteSize := numRecords * int64(a.recordSize)
	if err := a.file.Truncate(newByteSize); err != nil {
		return fmt.Errorf("pmmrfile: truncate %s: %w", a.path, err)
	}
	a.committedSize = numRecords
	return nil
}

// Sync fsyncs the underlying file, whether or not anything is pending; exposed
// separately from Commit for callers that need an explicit durability
// barrier without taking the append path.
func (a *AppendOnlyFile) Sync() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.file.Sync()
}

// Close closes the underlying file handle.
func (a *AppendOnlyFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// Compact rewrites the file keeping only the records at the given
// 0-based indices (in ascending order), remapping them to dense indices
// 0..len(keep)-1. Callers (PruneList-driven compaction) are responsible
// for translating positions through the new layout afterward.
func (a *AppendOnlyFile) Compact(keep []int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tmpPath := a.path + ".compact-tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("pmmrfile: create compaction temp file: %w", err)
	}

	buf := make([]byte, a.recordSize)
	for _, idx := range keep {
		if idx < 0 || idx >= a.committedSize {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("pmmrfile: compact keep-index %d out of range", idx)
		}
		if _, err := a.file.ReadAt(buf, idx*int64(a.recordSize)); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("pmmrfile: compact read %d: %w", idx, err)
		}
		if _, err := tmp.Write(buf); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("pmmrfile: compact write: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := a.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return fmt.Errorf("pmmrfile: rename compacted file: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	a.file = f
	a.committedSize = int64(len(keep))
	return nil
}

var _ io.Closer = (*AppendOnlyFile)(nil)
