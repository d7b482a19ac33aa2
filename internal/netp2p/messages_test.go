package netp2p

import (
	"testing"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/pedersen"
	"github.com/grinchain/node/internal/pibd"
)

func TestBlockAnnounceRoundTrip(t *testing.T) {
	blk := chaintypes.Block{
		Header: chaintypes.BlockHeader{Height: 42},
		Outputs: []chaintypes.Output{
			{Features: chaintypes.FeatureCoinbase, Rangeproof: []byte("rp")},
		},
	}
	original := &BlockAnnounce{Block: blk}

	data, err := encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded BlockAnnounce
	if err := decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Block.Header.Height != 42 {
		t.Errorf("height = %d, want 42", decoded.Block.Header.Height)
	}
	if len(decoded.Block.Outputs) != 1 || string(decoded.Block.Outputs[0].Rangeproof) != "rp" {
		t.Errorf("outputs mismatch: %+v", decoded.Block.Outputs)
	}
}

func TestTxAnnounceRoundTrip(t *testing.T) {
	var offset pedersen.BlindingFactor
	offset[0] = 0x7f
	original := &TxAnnounce{Tx: chaintypes.Transaction{
		Offset:  offset,
		Kernels: []chaintypes.TxKernel{{Fee: 100}},
	}}

	data, err := encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded TxAnnounce
	if err := decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Tx.Offset[0] != 0x7f {
		t.Errorf("offset mismatch")
	}
	if len(decoded.Tx.Kernels) != 1 || decoded.Tx.Kernels[0].Fee != 100 {
		t.Errorf("kernels mismatch: %+v", decoded.Tx.Kernels)
	}
}

func TestStemTxRoundTrip(t *testing.T) {
	var offset pedersen.BlindingFactor
	offset[0] = 0x3c
	original := &StemTx{Tx: chaintypes.Transaction{
		Offset:  offset,
		Kernels: []chaintypes.TxKernel{{Fee: 55}},
	}}

	data, err := encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded StemTx
	if err := decode(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Tx.Offset[0] != 0x3c {
		t.Errorf("offset mismatch")
	}
	if len(decoded.Tx.Kernels) != 1 || decoded.Tx.Kernels[0].Fee != 55 {
		t.Errorf("kernels mismatch: %+v", decoded.Tx.Kernels)
	}
}

func TestHeaderLocatorRoundTrip(t *testing.T) {
	var h1, h2 chaintypes.Hash
	h1[0] = 1
	h2[0] = 2
	req := &HeaderLocatorReq{Locators: []chaintypes.Hash{h1, h2}, MaxCount: 500}

	data, err := encode(req)
	if err != nil {
		t.Fatalf("encode req: %v", err)
	}
	var decodedReq HeaderLocatorReq
	if err := decode(data, &decodedReq); err != nil {
		t.Fatalf("decode req: %v", err)
	}
	if len(decodedReq.Locators) != 2 || decodedReq.Locators[1][0] != 2 {
		t.Errorf("locators mismatch: %+v", decodedReq.Locators)
	}
	if decodedReq.MaxCount != 500 {
		t.Errorf("max count = %d, want 500", decodedReq.MaxCount)
	}

	resp := &HeaderLocatorResp{
		Headers: []chaintypes.BlockHeader{{Height: 10}, {Height: 11}},
		More:    true,
	}
	data, err = encode(resp)
	if err != nil {
		t.Fatalf("encode resp: %v", err)
	}
	var decodedResp HeaderLocatorResp
	if err := decode(data, &decodedResp); err != nil {
		t.Fatalf("decode resp: %v", err)
	}
	if len(decodedResp.Headers) != 2 || decodedResp.Headers[1].Height != 11 {
		t.Errorf("headers mismatch: %+v", decodedResp.Headers)
	}
	if !decodedResp.More {
		t.Errorf("more = false, want true")
	}
}

func TestSegmentRequestResponseRoundTrip(t *testing.T) {
	var archiveHash chaintypes.Hash
	archiveHash[0] = 0x9
	req := &SegmentRequest{
		ArchiveHash: archiveHash,
		Kind:        treeOutput,
		ID:          pibd.SegmentIdentifier{Height: 11, Idx: 3},
	}
	data, err := encode(req)
	if err != nil {
		t.Fatalf("encode req: %v", err)
	}
	var decodedReq SegmentRequest
	if err := decode(data, &decodedReq); err != nil {
		t.Fatalf("decode req: %v", err)
	}
	if decodedReq.Kind != treeOutput || decodedReq.ID.Idx != 3 {
		t.Errorf("request mismatch: %+v", decodedReq)
	}

	resp := &SegmentResponse{
		Kind: treeKernel,
		Kernel: &pibd.KernelSegment{
			ID:      pibd.SegmentIdentifier{Height: 11, Idx: 1},
			Kernels: []pibd.KernelLeaf{{Pos: 1, LeafIdx: 0, Kernel: chaintypes.TxKernel{Fee: 7}}},
		},
	}
	data, err = encode(resp)
	if err != nil {
		t.Fatalf("encode resp: %v", err)
	}
	var decodedResp SegmentResponse
	if err := decode(data, &decodedResp); err != nil {
		t.Fatalf("decode resp: %v", err)
	}
	if decodedResp.Kind != treeKernel || decodedResp.Kernel == nil {
		t.Fatalf("response mismatch: %+v", decodedResp)
	}
	if len(decodedResp.Kernel.Kernels) != 1 || decodedResp.Kernel.Kernels[0].Kernel.Fee != 7 {
		t.Errorf("kernel leaf mismatch: %+v", decodedResp.Kernel.Kernels)
	}

	compressed := compressSegment(data)
	roundTripped, err := decompressSegment(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(roundTripped) != string(data) {
		t.Errorf("zstd round trip mismatch")
	}
}
