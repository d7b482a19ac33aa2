package pmmrfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// DataFile stores variable-length leaf payloads (OutputIdentifier bytes,
// rangeproof bytes) alongside a HashFile of the same MMR, indexed by
// 0-based leaf index rather than MMR position (spec §4.3: the data file
// is leaf-only, unlike the hash file which also holds internal nodes).
// A companion ".idx" file records cumulative byte offsets so a record's
// span can be recovered without rescanning from the start.
type DataFile struct {
	mu sync.Mutex

	path    string
	idxPath string

	blob *os.File

	// offsets[i] is the starting byte offset of committed record i;
	// the last element, offsets[len(offsets)-1], is the end of the last
	// committed record.
	offsets  []int64
	fileSize int64

	pending      [][]byte
	pendingStart int64
}

// OpenDataFile opens (or creates) the data file and its offset index at path.
func OpenDataFile(path string) (*DataFile, error) {
	idxPath := path + ".idx"
	blob, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmmrfile: open data file %s: %w", path, err)
	}
	info, err := blob.Stat()
	if err != nil {
		blob.Close()
		return nil, fmt.Errorf("pmmrfile: stat data file %s: %w", path, err)
	}

	offsets := []int64{0}
	idxData, err := os.ReadFile(idxPath)
	switch {
	case err == nil:
		if len(idxData)%8 != 0 {
			blob.Close()
			return nil, fmt.Errorf("pmmrfile: index file %s is corrupt (size %d not a multiple of 8)", idxPath, len(idxData))
		}
		offsets = make([]int64, len(idxData)/8)
		for i := range offsets {
			offsets[i] = int64(binary.BigEndian.Uint64(idxData[i*8:]))
		}
		if len(offsets) == 0 {
			offsets = []int64{0}
		}
	case os.IsNotExist(err):
		// fresh index
	default:
		blob.Close()
		return nil, fmt.Errorf("pmmrfile: read index %s: %w", idxPath, err)
	}

	return &DataFile{
		path:         path,
		idxPath:      idxPath,
		blob:         blob,
		offsets:      offsets,
		fileSize:     info.Size(),
		pendingStart: info.Size(),
	}, nil
}

// NumRecords returns the number of committed leaf records.
func (d *DataFile) NumRecords() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.offsets) - 1)
}

// Append buffers a variable-length record and returns its 0-based leaf index.
func (d *DataFile) Append(data []byte) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := int64(len(d.offsets)-1) + int64(len(d.pending))
	d.pending = append(d.pending, append([]byte(nil), data...))
	return idx
}

// ReadAt returns the record at 0-based leaf index idx.
func (d *DataFile) ReadAt(idx int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	committed := int64(len(d.offsets) - 1)
	if idx < 0 {
		return nil, fmt.Errorf("pmmrfile: negative data index %d", idx)
	}
	if idx < committed {
		start := d.offsets[idx]
		end := d.offsets[idx+1]
		buf := make([]byte, end-start)
		if _, err := d.blob.ReadAt(buf, start); err != nil {
			return nil, fmt.Errorf("pmmrfile: read data record %d: %w", idx, err)
		}
		return buf, nil
	}
	pendingIdx := idx - committed
	if pendingIdx >= int64(len(d.pending)) {
		return nil, fmt.Errorf("pmmrfile: data index %d out of range", idx)
	}
	return append([]byte(nil), d.pending[pendingIdx]...), nil
}

// Commit flushes buffered records and their offsets to disk.
func (d *DataFile) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil
	}

	offset := d.fileSize
	for _, rec := range d.pending {
		if _, err := d.blob.WriteAt(rec, offset); err != nil {
			return fmt.Errorf("pmmrfile: write data file %s: %w", d.path, err)
		}
		offset += int64(len(rec))
		d.offsets = append(d.offsets, offset)
	}
	if err := d.blob.Sync(); err != nil {
		return fmt.Errorf("pmmrfile: sync data file %s: %w", d.path, err)
	}
	d.fileSize = offset
	d.pending = nil
	d.pendingStart = offset
	return d.writeIndex()
}

// Discard drops buffered, uncommitted records.
func (d *DataFile) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
}

// Rewind truncates the data file back to numRecords committed leaves.
func (d *DataFile) Rewind(numRecords int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	committed := int64(len(d.offsets) - 1)
	if numRecords > committed {
		return fmt.Errorf("pmmrfile: rewind target %d exceeds committed size %d", numRecords, committed)
	}
	d.pending = nil
	newSize := d.offsets[numRecords]
	if err := d.blob.Truncate(newSize); err != nil {
		return fmt.Errorf("pmmrfile: truncate data file %s: %w", d.path, err)
	}
	d.offsets = d.offsets[:numRecords+1]
	d.fileSize = newSize
	d.pendingStart = newSize
	return d.writeIndex()
}

// Close closes the underlying files.
func (d *DataFile) Close() error { return d.blob.Close() }

func (d *DataFile) writeIndex() error {
	buf := make([]byte, len(d.offsets)*8)
	for i, off := range d.offsets {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(off))
	}
	return os.WriteFile(d.idxPath, buf, 0o644)
}
