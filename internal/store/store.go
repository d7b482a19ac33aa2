// Package store implements the single-writer, multi-reader key-value
// layer described in spec §4.4: one bbolt bucket per logical table for blocks,
// headers, header-by-height, block sums, output positions, spent
// indices, and the three chain tips, backed by go.etcd.io/bbolt the way
// the teacher's sharechain package persists its share DAG.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
)

var (
	bucketBlocks         = []byte("blocks")
	bucketHeaders        = []byte("headers")
	bucketHeaderByHeight = []byte("header_by_height")
	bucketBlockSums      = []byte("block_sums")
	bucketOutputPos      = []byte("output_pos")
	bucketSpentIndex     = []byte("spent_index")
	bucketMeta           = []byte("meta")

	allBuckets = [][]byte{
		bucketBlocks, bucketHeaders, bucketHeaderByHeight, bucketBlockSums,
		bucketOutputPos, bucketSpentIndex, bucketMeta,
	}

	metaKeyHead           = []byte("head")
	metaKeyHeaderHead     = []byte("header_head")
	metaKeySyncHead       = []byte("sync_head")
	metaKeyLastCheckpoint = []byte("last_checkpoint")
)

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// codecVersion is the storage-layer's own encoding version; it advances
// independently of the wire protocol version carried on BlockHeader
// (spec §4.1: "a stored envelope is self-describing, a wire envelope is
// negotiated per-session").
const codecVersion = codec.Version(1)

// Store is the durable KV layer. Writes go through a Batch (a live
// bbolt write transaction); Store's own getters each read in a
// read-only bbolt transaction, so callers get bbolt's native MVCC
// snapshot isolation for free: a reader begun before a Batch commits
// never observes its writes (spec §4.4).
type Store struct {
	db  *bbolt.DB
	log *zap.Logger
}

// Open opens (creating if necessary) the store at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize buckets in %s: %w", path, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Begin opens a new write Batch. Exactly one Batch may be open at a
// time, matching the single-writer contract (spec §4.4); bbolt itself
// enforces this by blocking a second db.Begin(true) until the first
// transaction ends.
func (s *Store) Begin() (*Batch, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("store: begin batch: %w", err)
	}
	return &Batch{tx: tx, log: s.log}, nil
}

// view runs fn against a read-only snapshot.
func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	return s.db.View(fn)
}

// HasBlock reports whether a block body is stored for hash.
func (s *Store) HasBlock(hash chaintypes.Hash) bool {
	var found bool
	_ = s.view(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get(hash[:]) != nil
		return nil
	})
	return found
}

// GetBlock loads the full block body for hash.
func (s *Store) GetBlock(hash chaintypes.Hash) (*chaintypes.Block, error) {
	var out *chaintypes.Block
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(hash[:])
		if raw == nil {
			return ErrNotFound
		}
		var blk chaintypes.Block
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &blk); err != nil {
			return fmt.Errorf("store: decode block %x: %w", hash[:8], err)
		}
		out = &blk
		return nil
	})
	return out, err
}

// GetHeader loads the header for hash.
func (s *Store) GetHeader(hash chaintypes.Hash) (*chaintypes.BlockHeader, error) {
	var out *chaintypes.BlockHeader
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHeaders).Get(hash[:])
		if raw == nil {
			return ErrNotFound
		}
		var h chaintypes.BlockHeader
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &h); err != nil {
			return fmt.Errorf("store: decode header %x: %w", hash[:8], err)
		}
		out = &h
		return nil
	})
	return out, err
}

// HasHeader reports whether a header is stored for hash.
func (s *Store) HasHeader(hash chaintypes.Hash) bool {
	var found bool
	_ = s.view(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketHeaders).Get(hash[:]) != nil
		return nil
	})
	return found
}

// GetHeaderByHeight loads the main-chain header hash recorded at height.
func (s *Store) GetHeaderByHeight(height uint64) (chaintypes.Hash, error) {
	var out chaintypes.Hash
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHeaderByHeight).Get(heightKey(height))
		if raw == nil {
			return ErrNotFound
		}
		copy(out[:], raw)
		return nil
	})
	return out, err
}

// GetBlockSums loads the running homomorphic sums as of hash.
func (s *Store) GetBlockSums(hash chaintypes.Hash) (*chaintypes.BlockSums, error) {
	var out *chaintypes.BlockSums
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketBlockSums).Get(hash[:])
		if raw == nil {
			return ErrNotFound
		}
		var sums chaintypes.BlockSums
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &sums); err != nil {
			return fmt.Errorf("store: decode block sums %x: %w", hash[:8], err)
		}
		out = &sums
		return nil
	})
	return out, err
}

// GetOutputPos returns the newest CommitPos recorded for commit, per
// the version-ordered-list contract of spec §4.4 item 5; whether that
// output is still unspent is not checked here.
func (s *Store) GetOutputPos(commit [33]byte) (*chaintypes.CommitPos, error) {
	list, err := s.GetOutputPosHistory(commit)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[len(list)-1], nil
}

// GetOutputPosHistory returns every CommitPos ever recorded for commit,
// oldest-first, supporting commitments that have recurred across a
// cut-through reorg (spec §4.4 item 5, SPEC_FULL supplement #4).
func (s *Store) GetOutputPosHistory(commit [33]byte) ([]chaintypes.CommitPos, error) {
	var out []chaintypes.CommitPos
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketOutputPos).Get(commit[:])
		if raw == nil {
			return nil
		}
		var list commitPosList
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &list); err != nil {
			return fmt.Errorf("store: decode output_pos %x: %w", commit[:8], err)
		}
		out = list.Entries
		return nil
	})
	return out, err
}

// GetSpentIndex returns the outputs that the block at hash spent.
func (s *Store) GetSpentIndex(hash chaintypes.Hash) ([]chaintypes.CommitPos, error) {
	var out []chaintypes.CommitPos
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSpentIndex).Get(hash[:])
		if raw == nil {
			return nil
		}
		var list commitPosList
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &list); err != nil {
			return fmt.Errorf("store: decode spent_index %x: %w", hash[:8], err)
		}
		out = list.Entries
		return nil
	})
	return out, err
}

// Head returns the current body-chain tip.
func (s *Store) Head() (*chaintypes.Tip, error) { return s.getTip(metaKeyHead) }

// HeaderHead returns the current header-chain tip.
func (s *Store) HeaderHead() (*chaintypes.Tip, error) { return s.getTip(metaKeyHeaderHead) }

// SyncHead returns the in-progress sync chain's tip.
func (s *Store) SyncHead() (*chaintypes.Tip, error) { return s.getTip(metaKeySyncHead) }

// LastCheckpoint returns the most recently checkpointed tip, for crash
// recovery on startup (SPEC_FULL supplement #6).
func (s *Store) LastCheckpoint() (*chaintypes.Tip, error) { return s.getTip(metaKeyLastCheckpoint) }

func (s *Store) getTip(key []byte) (*chaintypes.Tip, error) {
	var out *chaintypes.Tip
	err := s.view(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		var tip chaintypes.Tip
		if err := codec.Decode(raw, codecVersion, codec.ModeFull, &tip); err != nil {
			return fmt.Errorf("store: decode tip %s: %w", key, err)
		}
		out = &tip
		return nil
	})
	return out, err
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

// commitPosList is the codec envelope for a version-ordered slice of
// CommitPos, newest-last.
type commitPosList struct {
	Entries []chaintypes.CommitPos
}

func (l *commitPosList) Write(w *codec.Writer) error {
	if err := w.WriteU64(uint64(len(l.Entries))); err != nil {
		return err
	}
	for i := range l.Entries {
		if err := l.Entries[i].Write(w); err != nil {
			return err
		}
	}
	return nil
}

func (l *commitPosList) Read(r *codec.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	l.Entries = make([]chaintypes.CommitPos, n)
	for i := range l.Entries {
		if err := l.Entries[i].Read(r); err != nil {
			return err
		}
	}
	return nil
}
