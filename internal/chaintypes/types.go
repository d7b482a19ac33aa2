// Package chaintypes defines the primary chain data model (spec §3):
// BlockHeader, Input, Output, TxKernel, Block, CommitPos, BlockSums and
// Tip, each with a canonical codec encoding and content hash.
package chaintypes

import (
	"crypto/sha256"
	"fmt"

	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/pedersen"
)

// Hash is a 32-byte content hash, reused for headers, blocks, commitments.
type Hash [32]byte

// ZeroHash is the canonical "no predecessor" marker used by the genesis
// header's PreviousHash field.
var ZeroHash Hash

// OutputFeatures distinguishes ordinary outputs from coinbase outputs.
type OutputFeatures uint8

const (
	FeaturePlain OutputFeatures = iota
	FeatureCoinbase
)

// KernelFeatures distinguishes the four legal kernel variants (spec §3).
type KernelFeatures uint8

const (
	KernelPlain KernelFeatures = iota
	KernelCoinbase
	KernelHeightLocked
	KernelNRD
)

// BlockHeader is the consensus header described in spec §3.
type BlockHeader struct {
	Height            uint64
	PreviousHash      Hash
	Timestamp         int64
	TotalDifficulty   uint64
	TotalKernelOffset pedersen.BlindingFactor
	OutputMMRSize     uint64
	RangeproofMMRSize uint64
	KernelMMRSize     uint64
	OutputRoot        Hash
	RangeproofRoot    Hash
	KernelRoot        Hash
	UTXOBitmapRoot    Hash
	PowPayload        []byte
	Version           uint16
}

// Write implements codec.Writeable.
func (h *BlockHeader) Write(w *codec.Writer) error {
	writes := []func() error{
		func() error { return w.WriteU16(h.Version) },
		func() error { return w.WriteU64(h.Height) },
		func() error { return w.WriteHash([32]byte(h.PreviousHash)) },
		func() error { return w.WriteI64(h.Timestamp) },
		func() error { return w.WriteU64(h.TotalDifficulty) },
		func() error { return w.WriteBytes(h.TotalKernelOffset[:]) },
		func() error { return w.WriteU64(h.OutputMMRSize) },
		func() error { return w.WriteU64(h.RangeproofMMRSize) },
		func() error { return w.WriteU64(h.KernelMMRSize) },
		func() error { return w.WriteHash([32]byte(h.OutputRoot)) },
		func() error { return w.WriteHash([32]byte(h.RangeproofRoot)) },
		func() error { return w.WriteHash([32]byte(h.KernelRoot)) },
		func() error { return w.WriteHash([32]byte(h.UTXOBitmapRoot)) },
		func() error { return w.WriteVarBytes(h.PowPayload) },
	}
	for _, f := range writes {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Read implements codec.Readable.
func (h *BlockHeader) Read(r *codec.Reader) error {
	var err error
	if h.Version, err = r.ReadU16(); err != nil {
		return err
	}
	if h.Height, err = r.ReadU64(); err != nil {
		return err
	}
	prev, err := r.ReadHash()
	if err != nil {
		return err
	}
	h.PreviousHash = Hash(prev)
	if h.Timestamp, err = r.ReadI64(); err != nil {
		return err
	}
	if h.TotalDifficulty, err = r.ReadU64(); err != nil {
		return err
	}
	offsetBytes, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(h.TotalKernelOffset[:], offsetBytes)
	if h.OutputMMRSize, err = r.ReadU64(); err != nil {
		return err
	}
	if h.RangeproofMMRSize, err = r.ReadU64(); err != nil {
		return err
	}
	if h.KernelMMRSize, err = r.ReadU64(); err != nil {
		return err
	}
	outRoot, err := r.ReadHash()
	if err != nil {
		return err
	}
	h.OutputRoot = Hash(outRoot)
	rpRoot, err := r.ReadHash()
	if err != nil {
		return err
	}
	h.RangeproofRoot = Hash(rpRoot)
	kRoot, err := r.ReadHash()
	if err != nil {
		return err
	}
	h.KernelRoot = Hash(kRoot)
	bitmapRoot, err := r.ReadHash()
	if err != nil {
		return err
	}
	h.UTXOBitmapRoot = Hash(bitmapRoot)
	if h.PowPayload, err = r.ReadVarBytes(); err != nil {
		return err
	}
	return nil
}

// ValidMMRSizes reports whether the header's three declared MMR sizes are
// each a legal MMR size and that output/rangeproof sizes agree (spec §3
// header invariant, §4.5 Extension invariant #1).
func (h *BlockHeader) ValidMMRSizes() bool {
	if h.OutputMMRSize != h.RangeproofMMRSize {
		return false
	}
	return mmr.IsValidMMRSize(h.OutputMMRSize) && mmr.IsValidMMRSize(h.KernelMMRSize)
}

// Hash computes the header's content hash by hashing its canonical
// encoding at the header's own Version.
func (h *BlockHeader) Hash() Hash {
	data, err := codec.Encode(codec.Version(h.Version), h)
	if err != nil {
		// Encoding a well-formed in-memory header cannot fail; a failure
		// here indicates a caller built an invalid header (e.g. nil
		// slices are fine, but this guards future field additions).
		panic(fmt.Sprintf("chaintypes: header encode failed: %v", err))
	}
	return Hash(sha256.Sum256(data))
}

// Input references a prior unspent output being consumed.
type Input struct {
	Commitment pedersen.Commitment
}

func (i *Input) Write(w *codec.Writer) error { return w.WriteBytes(i.Commitment[:]) }

func (i *Input) Read(r *codec.Reader) error {
	b, err := r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(i.Commitment[:], b)
	return nil
}

// Output is a new UTXO created by a transaction.
type Output struct {
	Features   OutputFeatures
	Commitment pedersen.Commitment
	Rangeproof []byte
}

func (o *Output) Write(w *codec.Writer) error {
	if err := w.WriteU8(uint8(o.Features)); err != nil {
		return err
	}
	if err := w.WriteBytes(o.Commitment[:]); err != nil {
		return err
	}
	return w.WriteVarBytes(o.Rangeproof)
}

func (o *Output) Read(r *codec.Reader) error {
	f, err := r.ReadU8()
	if err != nil {
		return err
	}
	o.Features = OutputFeatures(f)
	b, err := r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(o.Commitment[:], b)
	o.Rangeproof, err = r.ReadVarBytes()
	return err
}

// Identifier returns the OutputIdentifier (features + commitment) that is
// what actually gets stored in the output MMR leaf; the rangeproof lives
// only in the parallel rangeproof MMR (spec §4.5).
func (o *Output) Identifier() OutputIdentifier {
	return OutputIdentifier{Features: o.Features, Commitment: o.Commitment}
}

// OutputIdentifier is the output-MMR leaf payload: everything about an
// output except its rangeproof.
type OutputIdentifier struct {
	Features   OutputFeatures
	Commitment pedersen.Commitment
}

func (o *OutputIdentifier) Write(w *codec.Writer) error {
	if err := w.WriteU8(uint8(o.Features)); err != nil {
		return err
	}
	return w.WriteBytes(o.Commitment[:])
}

func (o *OutputIdentifier) Read(r *codec.Reader) error {
	f, err := r.ReadU8()
	if err != nil {
		return err
	}
	o.Features = OutputFeatures(f)
	b, err := r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(o.Commitment[:], b)
	return nil
}

// TxKernel is the cut-through remainder of a transaction (spec §3).
type TxKernel struct {
	Features       KernelFeatures
	Fee            uint64
	LockHeight     uint64 // valid when Features == KernelHeightLocked
	RelativeHeight uint16 // valid when Features == KernelNRD
	Excess         pedersen.Commitment
	ExcessSig      []byte
}

func (k *TxKernel) Write(w *codec.Writer) error {
	if err := w.WriteU8(uint8(k.Features)); err != nil {
		return err
	}
	if err := w.WriteU64(k.Fee); err != nil {
		return err
	}
	if err := w.WriteU64(k.LockHeight); err != nil {
		return err
	}
	if err := w.WriteU16(k.RelativeHeight); err != nil {
		return err
	}
	if err := w.WriteBytes(k.Excess[:]); err != nil {
		return err
	}
	return w.WriteVarBytes(k.ExcessSig)
}

func (k *TxKernel) Read(r *codec.Reader) error {
	f, err := r.ReadU8()
	if err != nil {
		return err
	}
	k.Features = KernelFeatures(f)
	if k.Fee, err = r.ReadU64(); err != nil {
		return err
	}
	if k.LockHeight, err = r.ReadU64(); err != nil {
		return err
	}
	if k.RelativeHeight, err = r.ReadU16(); err != nil {
		return err
	}
	b, err := r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(k.Excess[:], b)
	k.ExcessSig, err = r.ReadVarBytes()
	return err
}

// LegalAt reports whether this kernel's feature is permitted at height,
// given whether NRD kernels are active (spec §4.7 body validation).
func (k *TxKernel) LegalAt(nrdActive bool) bool {
	if k.Features == KernelNRD {
		return nrdActive
	}
	return true
}

// Block is a full header plus its fully cut-through body (spec §3).
type Block struct {
	Header  BlockHeader
	Inputs  []Input
	Outputs []Output
	Kernels []TxKernel
}

// Hash is the block's identity, equal to its header's hash.
func (b *Block) Hash() Hash { return b.Header.Hash() }

// Write implements codec.Writeable.
func (b *Block) Write(w *codec.Writer) error {
	if err := b.Header.Write(w); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(len(b.Inputs))); err != nil {
		return err
	}
	for i := range b.Inputs {
		if err := b.Inputs[i].Write(w); err != nil {
			return err
		}
	}
	if err := w.WriteU64(uint64(len(b.Outputs))); err != nil {
		return err
	}
	for i := range b.Outputs {
		if err := b.Outputs[i].Write(w); err != nil {
			return err
		}
	}
	if err := w.WriteU64(uint64(len(b.Kernels))); err != nil {
		return err
	}
	for i := range b.Kernels {
		if err := b.Kernels[i].Write(w); err != nil {
			return err
		}
	}
	return nil
}

// Read implements codec.Readable.
func (b *Block) Read(r *codec.Reader) error {
	if err := b.Header.Read(r); err != nil {
		return err
	}
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	b.Inputs = make([]Input, n)
	for i := range b.Inputs {
		if err := b.Inputs[i].Read(r); err != nil {
			return err
		}
	}
	if n, err = r.ReadU64(); err != nil {
		return err
	}
	b.Outputs = make([]Output, n)
	for i := range b.Outputs {
		if err := b.Outputs[i].Read(r); err != nil {
			return err
		}
	}
	if n, err = r.ReadU64(); err != nil {
		return err
	}
	b.Kernels = make([]TxKernel, n)
	for i := range b.Kernels {
		if err := b.Kernels[i].Read(r); err != nil {
			return err
		}
	}
	return nil
}

// Weight is a simple linear combination used against chaincfg.MaxBlockWeight
// (spec §4.7 body validation "weight <= max"); grin's real weight formula
// additionally distinguishes input/output/kernel unit costs, which this
// mirrors with flat per-element costs since the source's exact constants
// are a consensus parameter left open by spec §9.
func (b *Block) Weight() uint64 {
	const inputWeight, outputWeight, kernelWeight = 1, 21, 3
	return uint64(len(b.Inputs))*inputWeight +
		uint64(len(b.Outputs))*outputWeight +
		uint64(len(b.Kernels))*kernelWeight
}

// WeightDelta estimates, from the header alone, the weight of the body
// this header's declared MMR growth over prev implies: new output leaves
// times outputWeight plus new kernel leaves times kernelWeight, the same
// per-element costs Weight uses. Inputs never grow an MMR, so their count
// cannot be bounded from sizes alone and is left out, matching grin's
// TooHeavy header check (a header whose declared sizes outrun prev's by
// more than a legal body could ever produce is rejected before the body
// is even fetched). ok is false if either size declares negative growth,
// which is never legal and is reported as maximally heavy by the caller.
func (h *BlockHeader) WeightDelta(prev *BlockHeader) (weight uint64, ok bool) {
	const outputWeight, kernelWeight = 21, 3
	outLeaves, prevOutLeaves := mmr.NumLeaves(h.OutputMMRSize), mmr.NumLeaves(prev.OutputMMRSize)
	kLeaves, prevKLeaves := mmr.NumLeaves(h.KernelMMRSize), mmr.NumLeaves(prev.KernelMMRSize)
	if outLeaves < prevOutLeaves || kLeaves < prevKLeaves {
		return 0, false
	}
	return (outLeaves-prevOutLeaves)*outputWeight + (kLeaves-prevKLeaves)*kernelWeight, true
}

// HasDuplicateCommitments reports whether any commitment (input or
// output) appears more than once within the block (spec §4.7).
func (b *Block) HasDuplicateCommitments() bool {
	seen := make(map[pedersen.Commitment]struct{}, len(b.Inputs)+len(b.Outputs))
	for _, in := range b.Inputs {
		if _, ok := seen[in.Commitment]; ok {
			return true
		}
		seen[in.Commitment] = struct{}{}
	}
	for _, out := range b.Outputs {
		if _, ok := seen[out.Commitment]; ok {
			return true
		}
		seen[out.Commitment] = struct{}{}
	}
	return false
}

// Transaction is a standalone, not-yet-mined transaction: the same
// input/output/kernel triple a Block carries in its body, plus the
// transaction's own kernel offset (a block's TotalKernelOffset is the
// sum of its constituent transactions' offsets once they are cut
// through together; spec §4.10's pool deals in Transactions, §4.6's
// sum identity is checked per-transaction the same way it is per-block).
type Transaction struct {
	Offset  pedersen.BlindingFactor
	Inputs  []Input
	Outputs []Output
	Kernels []TxKernel
}

// Write implements codec.Writeable.
func (t *Transaction) Write(w *codec.Writer) error {
	if err := w.WriteBytes(t.Offset[:]); err != nil {
		return err
	}
	if err := w.WriteU64(uint64(len(t.Inputs))); err != nil {
		return err
	}
	for i := range t.Inputs {
		if err := t.Inputs[i].Write(w); err != nil {
			return err
		}
	}
	if err := w.WriteU64(uint64(len(t.Outputs))); err != nil {
		return err
	}
	for i := range t.Outputs {
		if err := t.Outputs[i].Write(w); err != nil {
			return err
		}
	}
	if err := w.WriteU64(uint64(len(t.Kernels))); err != nil {
		return err
	}
	for i := range t.Kernels {
		if err := t.Kernels[i].Write(w); err != nil {
			return err
		}
	}
	return nil
}

// Read implements codec.Readable.
func (t *Transaction) Read(r *codec.Reader) error {
	offsetBytes, err := r.ReadBytes(32)
	if err != nil {
		return err
	}
	copy(t.Offset[:], offsetBytes)
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	t.Inputs = make([]Input, n)
	for i := range t.Inputs {
		if err := t.Inputs[i].Read(r); err != nil {
			return err
		}
	}
	if n, err = r.ReadU64(); err != nil {
		return err
	}
	t.Outputs = make([]Output, n)
	for i := range t.Outputs {
		if err := t.Outputs[i].Read(r); err != nil {
			return err
		}
	}
	if n, err = r.ReadU64(); err != nil {
		return err
	}
	t.Kernels = make([]TxKernel, n)
	for i := range t.Kernels {
		if err := t.Kernels[i].Read(r); err != nil {
			return err
		}
	}
	return nil
}

// Hash computes the transaction's content hash from its canonical
// encoding, used as the pool's entry key.
func (t *Transaction) Hash() Hash {
	data, err := codec.Encode(codec.Version(1), t)
	if err != nil {
		panic(fmt.Sprintf("chaintypes: transaction encode failed: %v", err))
	}
	return Hash(sha256.Sum256(data))
}

// Weight mirrors Block.Weight's flat per-element cost model, applied to
// a standalone transaction rather than a mined block body.
func (t *Transaction) Weight() uint64 {
	const inputWeight, outputWeight, kernelWeight = 1, 21, 3
	return uint64(len(t.Inputs))*inputWeight +
		uint64(len(t.Outputs))*outputWeight +
		uint64(len(t.Kernels))*kernelWeight
}

// Fee returns the sum of every kernel's declared fee.
func (t *Transaction) Fee() uint64 {
	var total uint64
	for _, k := range t.Kernels {
		total += k.Fee
	}
	return total
}

// HasDuplicateCommitments reports whether any commitment (input or
// output) appears more than once within the transaction (spec §4.10
// admission: "distinct commitments").
func (t *Transaction) HasDuplicateCommitments() bool {
	seen := make(map[pedersen.Commitment]struct{}, len(t.Inputs)+len(t.Outputs))
	for _, in := range t.Inputs {
		if _, ok := seen[in.Commitment]; ok {
			return true
		}
		seen[in.Commitment] = struct{}{}
	}
	for _, out := range t.Outputs {
		if _, ok := seen[out.Commitment]; ok {
			return true
		}
		seen[out.Commitment] = struct{}{}
	}
	return false
}

// ToBlockBody returns the Input/Output/Kernel slices a set of
// cut-through transactions contributes to a candidate block body, used
// by pool mineable-set assembly (spec §4.10).
func ToBlockBody(txs []*Transaction) (inputs []Input, outputs []Output, kernels []TxKernel) {
	for _, tx := range txs {
		inputs = append(inputs, tx.Inputs...)
		outputs = append(outputs, tx.Outputs...)
		kernels = append(kernels, tx.Kernels...)
	}
	return inputs, outputs, kernels
}

// CommitPos records where in the output MMR a commitment lives and the
// height at which it was created (spec §3).
type CommitPos struct {
	Pos      uint64
	Height   uint64
	Features OutputFeatures
}

func (c *CommitPos) Write(w *codec.Writer) error {
	if err := w.WriteU64(c.Pos); err != nil {
		return err
	}
	if err := w.WriteU64(c.Height); err != nil {
		return err
	}
	return w.WriteU8(uint8(c.Features))
}

func (c *CommitPos) Read(r *codec.Reader) error {
	var err error
	if c.Pos, err = r.ReadU64(); err != nil {
		return err
	}
	if c.Height, err = r.ReadU64(); err != nil {
		return err
	}
	f, err := r.ReadU8()
	if err != nil {
		return err
	}
	c.Features = OutputFeatures(f)
	return nil
}

// Mature reports whether a coinbase output created at c.Height is
// spendable at currentHeight given the maturity window (spec §4.10 S4).
func (c *CommitPos) Mature(currentHeight, maturity uint64) bool {
	if c.Features != FeatureCoinbase {
		return true
	}
	return currentHeight >= c.Height+maturity
}

// BlockSums is the running homomorphic sum pair after a block (spec §3,
// §4.6); it lets the chain verify consensus in O(1) without replaying
// history.
type BlockSums struct {
	UTXOSum   pedersen.Commitment
	KernelSum pedersen.Commitment
}

func (s *BlockSums) Write(w *codec.Writer) error {
	if err := w.WriteBytes(s.UTXOSum[:]); err != nil {
		return err
	}
	return w.WriteBytes(s.KernelSum[:])
}

func (s *BlockSums) Read(r *codec.Reader) error {
	b, err := r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(s.UTXOSum[:], b)
	b, err = r.ReadBytes(33)
	if err != nil {
		return err
	}
	copy(s.KernelSum[:], b)
	return nil
}

// Tip identifies the head of a chain (spec §3).
type Tip struct {
	Hash            Hash
	PrevHash        Hash
	Height          uint64
	TotalDifficulty uint64
}

func (t *Tip) Write(w *codec.Writer) error {
	if err := w.WriteHash([32]byte(t.Hash)); err != nil {
		return err
	}
	if err := w.WriteHash([32]byte(t.PrevHash)); err != nil {
		return err
	}
	if err := w.WriteU64(t.Height); err != nil {
		return err
	}
	return w.WriteU64(t.TotalDifficulty)
}

func (t *Tip) Read(r *codec.Reader) error {
	h, err := r.ReadHash()
	if err != nil {
		return err
	}
	t.Hash = Hash(h)
	p, err := r.ReadHash()
	if err != nil {
		return err
	}
	t.PrevHash = Hash(p)
	if t.Height, err = r.ReadU64(); err != nil {
		return err
	}
	t.TotalDifficulty, err = r.ReadU64()
	return err
}

// FromHeader builds the Tip that results from h becoming a chain's head.
func FromHeader(h *BlockHeader) Tip {
	return Tip{
		Hash:            h.Hash(),
		PrevHash:        h.PreviousHash,
		Height:          h.Height,
		TotalDifficulty: h.TotalDifficulty,
	}
}
