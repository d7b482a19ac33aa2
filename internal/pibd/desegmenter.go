package pibd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/mmr"
	"github.com/grinchain/node/internal/txhashset"
)

// ErrZipFallback is returned by Run when segment-by-segment assembly has
// taken longer than chaincfg.TxHashsetZipFallbackTime; the caller should
// fall back to downloading a full compressed txhashset archive instead
// (spec §4.9's "60s zip fallback").
var ErrZipFallback = errors.New("pibd: segment assembly exceeded the zip fallback deadline")

// segVersion is the codec version used to re-encode leaf payloads for
// proof reconstruction, matching internal/txhashset's own extVersion so
// a segment's recomputed subtree root agrees with what the serving
// node's tree actually hashed.
const segVersion = codec.Version(1)

// SegmentFetcher requests one segment at a time from a chosen peer,
// implemented by the network layer; kept as an interface so this package
// has no transport dependency (the same decoupling internal/txpool uses
// for its Broadcaster).
type SegmentFetcher interface {
	FetchBitmapSegment(ctx context.Context, id SegmentIdentifier) (*BitmapSegment, error)
	FetchOutputSegment(ctx context.Context, id SegmentIdentifier) (*OutputSegment, error)
	FetchRangeproofSegment(ctx context.Context, id SegmentIdentifier) (*RangeproofSegment, error)
	FetchKernelSegment(ctx context.Context, id SegmentIdentifier) (*KernelSegment, error)
}

// Desegmenter drives the fetch-and-assemble side of PIBD fast sync for
// one archive header: bitmap segments first, then output and rangeproof
// segments (fetched concurrently with each other, since they address the
// same leaf positions one-to-one), then kernel segments, in that fixed
// order (spec §4.9). Each segment's own proof is checked against the
// archive header's declared root as soon as it arrives; the one
// remaining check — that the trailing partial segment of each tree folds
// up correctly — is made once during Finish, after every segment has
// been assembled into a real tree.
type Desegmenter struct {
	log     *zap.Logger
	fetcher SegmentFetcher
	archive *chaintypes.BlockHeader

	sem chan struct{}

	mu             sync.Mutex
	bitmap         *roaring.Bitmap
	outputs        map[uint64]chaintypes.OutputIdentifier
	outputDead     map[uint64]mmr.Hash
	rangeproofs    map[uint64][]byte
	rangeproofDead map[uint64]mmr.Hash
	kernels        map[uint64]chaintypes.TxKernel
}

// NewDesegmenter starts a Desegmenter targeting archive, fetching
// segments through fetcher.
func NewDesegmenter(archive *chaintypes.BlockHeader, fetcher SegmentFetcher, log *zap.Logger) *Desegmenter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Desegmenter{
		log:            log,
		fetcher:        fetcher,
		archive:        archive,
		sem:            make(chan struct{}, chaincfg.MaxOutstandingSegmentRequests),
		bitmap:         roaring.New(),
		outputs:        make(map[uint64]chaintypes.OutputIdentifier),
		outputDead:     make(map[uint64]mmr.Hash),
		rangeproofs:    make(map[uint64][]byte),
		rangeproofDead: make(map[uint64]mmr.Hash),
		kernels:        make(map[uint64]chaintypes.TxKernel),
	}
}

// Run fetches every segment of every tree, in order, and returns once the
// archive's full state has been reconstructed in memory. It returns
// ErrZipFallback if assembly is still incomplete after
// chaincfg.TxHashsetZipFallbackTime has elapsed.
func (d *Desegmenter) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, chaincfg.TxHashsetZipFallbackTime)
	defer cancel()

	numOutputLeaves := mmr.NumLeaves(d.archive.OutputMMRSize)
	numKernelLeaves := mmr.NumLeaves(d.archive.KernelMMRSize)
	numBitmapChunks := (numOutputLeaves + txhashset.BitmapChunkBits - 1) / txhashset.BitmapChunkBits

	if err := d.runPhase(ctx, NumSegments(chaincfg.BitmapSegmentHeight, numBitmapChunks), d.fetchBitmap); err != nil {
		return d.classify(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- d.runPhase(ctx, NumSegments(chaincfg.OutputSegmentHeight, numOutputLeaves), d.fetchOutput)
	}()
	go func() {
		defer wg.Done()
		errs <- d.runPhase(ctx, NumSegments(chaincfg.RangeproofSegmentHeight, numOutputLeaves), d.fetchRangeproof)
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return d.classify(err)
		}
	}

	if err := d.runPhase(ctx, NumSegments(chaincfg.KernelSegmentHeight, numKernelLeaves), d.fetchKernel); err != nil {
		return d.classify(err)
	}

	return nil
}

func (d *Desegmenter) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrZipFallback
	}
	return err
}

// runPhase fetches n segments of one tree, bounding concurrency to
// chaincfg.MaxOutstandingSegmentRequests and each individual request to
// chaincfg.SegmentRequestTimeout (spec §4.9).
func (d *Desegmenter) runPhase(ctx context.Context, n uint64, fetch func(context.Context, SegmentIdentifier) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for idx := uint64(0); idx < n; idx++ {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		wg.Add(1)
		go func(idx uint64) {
			defer wg.Done()
			defer func() { <-d.sem }()
			reqCtx, cancel := context.WithTimeout(ctx, chaincfg.SegmentRequestTimeout)
			defer cancel()
			errCh <- fetch(reqCtx, SegmentIdentifier{Idx: idx})
		}(idx)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// verifySegment reconstructs the subtree root id's own leaves produce and
// folds it up through proof, checking the result against target — the
// archive header's declared root for that tree. A trailing partial
// segment carries no standalone proof (see proof.go's verifyProof) and
// is skipped here, checked instead once Finish recomputes the full root.
// numLeaves is the segment's own leaf count; leafAt maps a 0-based
// intra-segment offset to its encoded content, or a known dead hash.
func verifySegment(id SegmentIdentifier, proof SegmentProof, target mmr.Hash, numLeaves uint64, leafAt func(i uint64) ([]byte, *mmr.Hash)) error {
	if proof.Partial {
		return nil
	}
	startPos := mmr.LeafToPos(id.Idx << id.Height)
	subtreeRoot, err := reconstructSubtreeRoot(startPos, numLeaves, leafAt)
	if err != nil {
		return fmt.Errorf("pibd: reconstruct subtree: %w", err)
	}
	if !verifyProof(subtreeRoot, proof, target) {
		return fmt.Errorf("pibd: segment failed proof verification")
	}
	return nil
}

// fetchBitmap verifies a bitmap segment's proof against the archive
// header's own UTXOBitmapRoot, the same way fetchOutput/fetchRangeproof/
// fetchKernel check their segments against OutputRoot/RangeproofRoot/
// KernelRoot — the bitmap tree is ephemeral (never persisted, rebuilt on
// demand by txhashset.BitmapMMR) but its root is still a committed part
// of the header, so a segment cannot be accepted on its own say-so.
func (d *Desegmenter) fetchBitmap(ctx context.Context, id SegmentIdentifier) error {
	id.Height = chaincfg.BitmapSegmentHeight
	seg, err := d.fetcher.FetchBitmapSegment(ctx, id)
	if err != nil {
		return fmt.Errorf("pibd: fetch bitmap segment %d: %w", id.Idx, err)
	}

	leafAt := func(i uint64) ([]byte, *mmr.Hash) { return seg.Chunks[i].Bits, nil }
	target := mmr.Hash(d.archive.UTXOBitmapRoot)
	if err := verifySegment(id, seg.Proof, target, uint64(len(seg.Chunks)), leafAt); err != nil {
		return fmt.Errorf("pibd: bitmap segment %d: %w", id.Idx, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, chunk := range seg.Chunks {
		applyBitmapChunk(d.bitmap, chunk)
	}
	return nil
}

func applyBitmapChunk(bitmap *roaring.Bitmap, chunk BitmapChunk) {
	base := chunk.Idx * txhashset.BitmapChunkBits
	for i, b := range chunk.Bits {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				bitmap.Add(uint32(mmr.LeafToPos(base + uint64(i)*8 + uint64(bit))))
			}
		}
	}
}

func (d *Desegmenter) fetchOutput(ctx context.Context, id SegmentIdentifier) error {
	id.Height = chaincfg.OutputSegmentHeight
	seg, err := d.fetcher.FetchOutputSegment(ctx, id)
	if err != nil {
		return fmt.Errorf("pibd: fetch output segment %d: %w", id.Idx, err)
	}

	byIdx := make(map[uint64][]byte, len(seg.Outputs))
	deadByIdx := make(map[uint64]mmr.Hash, len(seg.Dead))
	var minIdx, maxIdx uint64
	first := true
	for _, o := range seg.Outputs {
		buf, encErr := codec.Encode(segVersion, &o.Identifier)
		if encErr != nil {
			return fmt.Errorf("pibd: encode output leaf %d: %w", o.LeafIdx, encErr)
		}
		byIdx[o.LeafIdx] = buf
		first = trackRange(&minIdx, &maxIdx, o.LeafIdx, first)
	}
	for _, dl := range seg.Dead {
		deadByIdx[dl.LeafIdx] = dl.Hash
		first = trackRange(&minIdx, &maxIdx, dl.LeafIdx, first)
	}
	numLeaves := uint64(0)
	if !first {
		numLeaves = maxIdx - minIdx + 1
	}
	leafAt := func(i uint64) ([]byte, *mmr.Hash) {
		idx := minIdx + i
		if h, ok := deadByIdx[idx]; ok {
			return nil, &h
		}
		return byIdx[idx], nil
	}

	if err := verifySegment(id, seg.Proof, mmr.Hash(d.archive.OutputRoot), numLeaves, leafAt); err != nil {
		return fmt.Errorf("pibd: output segment %d: %w", id.Idx, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range seg.Outputs {
		d.outputs[o.LeafIdx] = o.Identifier
	}
	for _, dl := range seg.Dead {
		d.outputDead[dl.LeafIdx] = dl.Hash
	}
	return nil
}

func (d *Desegmenter) fetchRangeproof(ctx context.Context, id SegmentIdentifier) error {
	id.Height = chaincfg.RangeproofSegmentHeight
	seg, err := d.fetcher.FetchRangeproofSegment(ctx, id)
	if err != nil {
		return fmt.Errorf("pibd: fetch rangeproof segment %d: %w", id.Idx, err)
	}

	byIdx := make(map[uint64][]byte, len(seg.Proofs))
	deadByIdx := make(map[uint64]mmr.Hash, len(seg.Dead))
	var minIdx, maxIdx uint64
	first := true
	for _, p := range seg.Proofs {
		byIdx[p.LeafIdx] = p.Proof
		first = trackRange(&minIdx, &maxIdx, p.LeafIdx, first)
	}
	for _, dl := range seg.Dead {
		deadByIdx[dl.LeafIdx] = dl.Hash
		first = trackRange(&minIdx, &maxIdx, dl.LeafIdx, first)
	}
	numLeaves := uint64(0)
	if !first {
		numLeaves = maxIdx - minIdx + 1
	}
	leafAt := func(i uint64) ([]byte, *mmr.Hash) {
		idx := minIdx + i
		if h, ok := deadByIdx[idx]; ok {
			return nil, &h
		}
		return byIdx[idx], nil
	}

	if err := verifySegment(id, seg.Proof, mmr.Hash(d.archive.RangeproofRoot), numLeaves, leafAt); err != nil {
		return fmt.Errorf("pibd: rangeproof segment %d: %w", id.Idx, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range seg.Proofs {
		d.rangeproofs[p.LeafIdx] = p.Proof
	}
	for _, dl := range seg.Dead {
		d.rangeproofDead[dl.LeafIdx] = dl.Hash
	}
	return nil
}

func (d *Desegmenter) fetchKernel(ctx context.Context, id SegmentIdentifier) error {
	id.Height = chaincfg.KernelSegmentHeight
	seg, err := d.fetcher.FetchKernelSegment(ctx, id)
	if err != nil {
		return fmt.Errorf("pibd: fetch kernel segment %d: %w", id.Idx, err)
	}

	byIdx := make(map[uint64][]byte, len(seg.Kernels))
	var minIdx, maxIdx uint64
	first := true
	for _, k := range seg.Kernels {
		buf, encErr := codec.Encode(segVersion, &k.Kernel)
		if encErr != nil {
			return fmt.Errorf("pibd: encode kernel leaf %d: %w", k.LeafIdx, encErr)
		}
		byIdx[k.LeafIdx] = buf
		first = trackRange(&minIdx, &maxIdx, k.LeafIdx, first)
	}
	numLeaves := uint64(0)
	if !first {
		numLeaves = maxIdx - minIdx + 1
	}
	leafAt := func(i uint64) ([]byte, *mmr.Hash) { return byIdx[minIdx+i], nil }

	if err := verifySegment(id, seg.Proof, mmr.Hash(d.archive.KernelRoot), numLeaves, leafAt); err != nil {
		return fmt.Errorf("pibd: kernel segment %d: %w", id.Idx, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range seg.Kernels {
		d.kernels[k.LeafIdx] = k.Kernel
	}
	return nil
}

func trackRange(min, max *uint64, idx uint64, first bool) bool {
	if first {
		*min, *max = idx, idx
		return false
	}
	if idx < *min {
		*min = idx
	}
	if idx > *max {
		*max = idx
	}
	return false
}

// Finish commits every collected segment into a fresh, empty TxHashSet
// via LoadSegmentData, then checks the resulting tree roots against the
// archive header's declared roots (spec §4.9's final assembly step,
// which also covers the trailing partial segment of each tree that a
// standalone proof cannot check on its own).
func (d *Desegmenter) Finish(ths *txhashset.TxHashSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	numOutputLeaves := mmr.NumLeaves(d.archive.OutputMMRSize)
	if err := ths.LoadSegmentData(d.outputs, d.outputDead, d.rangeproofs, d.rangeproofDead, d.kernels, d.bitmap, numOutputLeaves); err != nil {
		return fmt.Errorf("pibd: assemble txhashset: %w", err)
	}

	outRoot, err := ths.TreeRootAt(txhashset.TreeOutput, d.archive.OutputMMRSize)
	if err != nil {
		return fmt.Errorf("pibd: output root: %w", err)
	}
	if outRoot != d.archive.OutputRoot {
		return fmt.Errorf("pibd: assembled output root does not match archive header")
	}
	rpRoot, err := ths.TreeRootAt(txhashset.TreeRangeproof, d.archive.RangeproofMMRSize)
	if err != nil {
		return fmt.Errorf("pibd: rangeproof root: %w", err)
	}
	if rpRoot != d.archive.RangeproofRoot {
		return fmt.Errorf("pibd: assembled rangeproof root does not match archive header")
	}
	kRoot, err := ths.TreeRootAt(txhashset.TreeKernel, d.archive.KernelMMRSize)
	if err != nil {
		return fmt.Errorf("pibd: kernel root: %w", err)
	}
	if kRoot != d.archive.KernelRoot {
		return fmt.Errorf("pibd: assembled kernel root does not match archive header")
	}
	bitmapRoot, err := ths.BitmapRoot()
	if err != nil {
		return fmt.Errorf("pibd: bitmap root: %w", err)
	}
	if bitmapRoot != d.archive.UTXOBitmapRoot {
		return fmt.Errorf("pibd: assembled bitmap root does not match archive header")
	}
	return nil
}
