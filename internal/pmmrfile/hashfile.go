package pmmrfile

import (
	"fmt"

	"github.com/grinchain/node/internal/mmr"
)

// hashRecordSize is the fixed record size of a HashFile: one mmr.Hash.
const hashRecordSize = 32

// HashFile adapts an AppendOnlyFile to mmr.Backend, storing one 32-byte
// MMR node hash per record. Position p (1-based) lives at record index
// p-1, matching the MMR's postorder numbering directly onto the file's
// append order (spec §4.3).
type HashFile struct {
	aof *AppendOnlyFile
}

// OpenHashFile opens (or creates) the hash file at path.
func OpenHashFile(path string) (*HashFile, error) {
	aof, err := Open(path, hashRecordSize)
	if err != nil {
		return nil, err
	}
	return &HashFile{aof: aof}, nil
}

var _ mmr.Backend = (*HashFile)(nil)

// AppendHash implements mmr.Backend.
func (f *HashFile) AppendHash(h mmr.Hash) (uint64, error) {
	idx, err := f.aof.Append(h[:])
	if err != nil {
		return 0, fmt.Errorf("pmmrfile: append hash: %w", err)
	}
	return uint64(idx) + 1, nil
}

// HashAt implements mmr.Backend.
func (f *HashFile) HashAt(pos uint64) (mmr.Hash, bool, error) {
	if pos == 0 || pos > f.aof.Size() {
		return mmr.Hash{}, false, nil
	}
	raw, err := f.aof.ReadAt(int64(pos) - 1)
	if err != nil {
		return mmr.Hash{}, false, fmt.Errorf("pmmrfile: read hash at %d: %w", pos, err)
	}
	var h mmr.Hash
	copy(h[:], raw)
	return h, true, nil
}

// Size implements mmr.Backend.
func (f *HashFile) Size() uint64 { return uint64(f.aof.Size()) }

// Commit flushes buffered hashes to disk.
func (f *HashFile) Commit() error { return f.aof.Commit() }

// Discard drops buffered, uncommitted hashes.
func (f *HashFile) Discard() { f.aof.Discard() }

// Rewind truncates the file back to numPositions MMR nodes.
func (f *HashFile) Rewind(numPositions uint64) error { return f.aof.Rewind(int64(numPositions)) }

// Close closes the underlying file.
func (f *HashFile) Close() error { return f.aof.Close() }
