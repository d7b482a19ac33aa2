// Package txverify implements a caching batch verifier (SPEC_FULL
// supplement #2, grounded on chain/src/caching_batch_verifier.rs): once a
// transaction's kernel signatures have been checked in the pool, the
// same (excess, message, signature) pairs are not re-verified when the
// transaction is later included in a block. The (commitment, rangeproof)
// entries have the same record/lookup API, but the pool does not verify
// rangeproofs and records none.
package txverify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/pedersen"
)

// proofKey identifies a single rangeproof verification by the
// commitment it is bound to and a hash of the proof bytes, so a bit-for-
// bit identical proof is never checked twice.
type proofKey struct {
	commit    pedersen.Commitment
	proofHash [32]byte
}

type sigKey struct {
	excess pedersen.Commitment
	msg    [32]byte
}

// Cache records verification results already proven true. It never
// caches a negative result: a failing verification always re-runs, since
// a transient bug in a cached "false" could wedge a block forever.
type Cache struct {
	mu    sync.Mutex
	log   *zap.Logger
	proof map[proofKey]struct{}
	sig   map[sigKey]struct{}
}

// New creates an empty verification cache.
func New(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		log:   log,
		proof: make(map[proofKey]struct{}),
		sig:   make(map[sigKey]struct{}),
	}
}

// RecordRangeproof marks (commit, proofHash) as already verified.
func (c *Cache) RecordRangeproof(commit pedersen.Commitment, proofHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proof[proofKey{commit, proofHash}] = struct{}{}
}

// HasRangeproof reports whether (commit, proofHash) was already verified.
func (c *Cache) HasRangeproof(commit pedersen.Commitment, proofHash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.proof[proofKey{commit, proofHash}]
	return ok
}

// RecordKernelSig marks (excess, msg) as already verified.
func (c *Cache) RecordKernelSig(excess pedersen.Commitment, msg [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sig[sigKey{excess, msg}] = struct{}{}
}

// HasKernelSig reports whether (excess, msg) was already verified.
func (c *Cache) HasKernelSig(excess pedersen.Commitment, msg [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sig[sigKey{excess, msg}]
	return ok
}

// Len returns the number of cached entries of each kind, for metrics.
func (c *Cache) Len() (proofs, sigs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.proof), len(c.sig)
}

// Evict drops every cached entry. Called when the pool is flushed or a
// reorg invalidates assumptions the cache was built under.
func (c *Cache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proof = make(map[proofKey]struct{})
	c.sig = make(map[sigKey]struct{})
	c.log.Debug("txverify: cache evicted")
}
