// Package netp2p is the thin wire-protocol/transport adapter around
// libp2p that carries the chain engine's block, transaction, and PIBD
// segment traffic (spec §6). Handshake and relay *policy* — how
// aggressively to gossip, which peers to prefer, ban scoring — are out
// of scope for the core; the message shapes the core produces and
// consumes are in scope, so this package defines and (de)serializes
// them with the same canonical binary codec as every other wire type,
// rather than introducing a second format.
package netp2p

import (
	"fmt"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/codec"
	"github.com/grinchain/node/internal/pibd"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = "1.0.0"

	// BlockTopicName is the GossipSub topic for new-block announcement.
	BlockTopicName = "/grinchain/blocks/" + ProtocolVersion

	// TxTopicName is the GossipSub topic for mempool transaction relay
	// (fluffed Dandelion transactions only; stem-phase relay uses a
	// direct peer-to-peer stream instead, never gossip).
	TxTopicName = "/grinchain/txs/" + ProtocolVersion

	// HeaderSyncProtocolID is the protocol ID for locator-based header
	// sync, used to discover an archive header to drive PIBD from.
	HeaderSyncProtocolID = "/grinchain/headersync/1.0.0"

	// SegmentProtocolID is the protocol ID for PIBD segment requests.
	SegmentProtocolID = "/grinchain/segment/1.0.0"

	// StemProtocolID is the protocol ID for direct stem-phase Dandelion
	// relay, kept off gossip so the embargoed transaction only ever
	// travels a single path (spec §4.10).
	StemProtocolID = "/grinchain/stem/1.0.0"

	wireVersion = codec.Version(1)
)

// MessageType identifies the shape of a gossip or stream payload.
type MessageType uint8

const (
	MsgTypeBlockAnnounce MessageType = 1
	MsgTypeTx            MessageType = 2
	MsgTypeHeaderReq      MessageType = 3
	MsgTypeHeaderResp     MessageType = 4
	MsgTypeSegmentReq     MessageType = 5
	MsgTypeSegmentResp    MessageType = 6
)

// maxGossipBlockSize bounds how large a gossiped block announcement may
// be before it is rejected outright, mirroring the teacher's per-field
// size caps on gossip payloads.
const maxGossipBlockSize = 4 * 1024 * 1024

// BlockAnnounce carries a full block over GossipSub (spec §4.7 feeds
// directly off this). Blocks are small enough (bounded by
// chaincfg.MaxBlockWeight) that there is no separate announce/fetch
// round trip the way header-only announcements would need.
type BlockAnnounce struct {
	Block chaintypes.Block
}

func (m *BlockAnnounce) Write(w *codec.Writer) error { return m.Block.Write(w) }
func (m *BlockAnnounce) Read(r *codec.Reader) error  { return m.Block.Read(r) }

// TxAnnounce carries a fluffed transaction over GossipSub (spec §4.10).
type TxAnnounce struct {
	Tx chaintypes.Transaction
}

func (m *TxAnnounce) Write(w *codec.Writer) error { return m.Tx.Write(w) }
func (m *TxAnnounce) Read(r *codec.Reader) error  { return m.Tx.Read(r) }

// StemTx is sent directly to one relay peer rather than gossiped,
// preserving the Dandelion stem-phase's single-path propagation (spec
// §4.10 / GLOSSARY "Dandelion"). It carries no Type field of its own
// since the stream protocol already distinguishes it by its own
// protocol ID rather than an envelope tag.
type StemTx struct {
	Tx chaintypes.Transaction
}

func (m *StemTx) Write(w *codec.Writer) error { return m.Tx.Write(w) }
func (m *StemTx) Read(r *codec.Reader) error  { return m.Tx.Read(r) }

// HeaderLocatorReq requests headers starting after the first locator
// hash the responder recognizes, walking forward toward its own tip
// (spec §4.8's common-ancestor search uses the same locator shape
// internally; this is that search's wire form).
type HeaderLocatorReq struct {
	Locators []chaintypes.Hash
	MaxCount uint32
}

func (m *HeaderLocatorReq) Write(w *codec.Writer) error {
	if err := w.WriteU64(uint64(len(m.Locators))); err != nil {
		return err
	}
	for _, h := range m.Locators {
		if err := w.WriteHash([32]byte(h)); err != nil {
			return err
		}
	}
	return w.WriteU32(m.MaxCount)
}

func (m *HeaderLocatorReq) Read(r *codec.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Locators = make([]chaintypes.Hash, n)
	for i := range m.Locators {
		h, err := r.ReadHash()
		if err != nil {
			return err
		}
		m.Locators[i] = chaintypes.Hash(h)
	}
	m.MaxCount, err = r.ReadU32()
	return err
}

// HeaderLocatorResp returns headers from the fork point forward,
// oldest first, plus whether more remain beyond MaxCount.
type HeaderLocatorResp struct {
	Headers []chaintypes.BlockHeader
	More    bool
}

func (m *HeaderLocatorResp) Write(w *codec.Writer) error {
	if err := w.WriteU64(uint64(len(m.Headers))); err != nil {
		return err
	}
	for i := range m.Headers {
		if err := m.Headers[i].Write(w); err != nil {
			return err
		}
	}
	return w.WriteBool(m.More)
}

func (m *HeaderLocatorResp) Read(r *codec.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Headers = make([]chaintypes.BlockHeader, n)
	for i := range m.Headers {
		if err := m.Headers[i].Read(r); err != nil {
			return err
		}
	}
	m.More, err = r.ReadBool()
	return err
}

// segmentTreeKind tags which of the four PIBD trees a segment request
// or response belongs to, since the four segment types share no common
// wire envelope.
type segmentTreeKind uint8

const (
	treeBitmap segmentTreeKind = iota
	treeOutput
	treeRangeproof
	treeKernel
)

// SegmentRequest asks one peer for one segment of one tree, anchored to
// the archive header the requester is syncing against (spec §4.9).
type SegmentRequest struct {
	ArchiveHash chaintypes.Hash
	Kind        segmentTreeKind
	ID          pibd.SegmentIdentifier
}

func (m *SegmentRequest) Write(w *codec.Writer) error {
	if err := w.WriteHash([32]byte(m.ArchiveHash)); err != nil {
		return err
	}
	if err := w.WriteU8(uint8(m.Kind)); err != nil {
		return err
	}
	return m.ID.Write(w)
}

func (m *SegmentRequest) Read(r *codec.Reader) error {
	h, err := r.ReadHash()
	if err != nil {
		return err
	}
	m.ArchiveHash = chaintypes.Hash(h)
	k, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.Kind = segmentTreeKind(k)
	return m.ID.Read(r)
}

// SegmentResponse carries exactly one of the four segment payload
// types, selected by Kind, zstd-compressed on the wire (spec §4.9's
// segment payloads dominate sync bandwidth, unlike headers/blocks).
type SegmentResponse struct {
	Kind       segmentTreeKind
	Bitmap     *pibd.BitmapSegment
	Output     *pibd.OutputSegment
	Rangeproof *pibd.RangeproofSegment
	Kernel     *pibd.KernelSegment
}

func (m *SegmentResponse) Write(w *codec.Writer) error {
	if err := w.WriteU8(uint8(m.Kind)); err != nil {
		return err
	}
	switch m.Kind {
	case treeBitmap:
		return m.Bitmap.Write(w)
	case treeOutput:
		return m.Output.Write(w)
	case treeRangeproof:
		return m.Rangeproof.Write(w)
	case treeKernel:
		return m.Kernel.Write(w)
	default:
		return fmt.Errorf("netp2p: unknown segment kind %d", m.Kind)
	}
}

func (m *SegmentResponse) Read(r *codec.Reader) error {
	k, err := r.ReadU8()
	if err != nil {
		return err
	}
	m.Kind = segmentTreeKind(k)
	switch m.Kind {
	case treeBitmap:
		m.Bitmap = &pibd.BitmapSegment{}
		return m.Bitmap.Read(r)
	case treeOutput:
		m.Output = &pibd.OutputSegment{}
		return m.Output.Read(r)
	case treeRangeproof:
		m.Rangeproof = &pibd.RangeproofSegment{}
		return m.Rangeproof.Read(r)
	case treeKernel:
		m.Kernel = &pibd.KernelSegment{}
		return m.Kernel.Read(r)
	default:
		return fmt.Errorf("netp2p: unknown segment kind %d", m.Kind)
	}
}

// encode is the single entry point every sender in this package uses,
// so the wire format stays pinned to wireVersion in one place.
func encode(x codec.Writeable) ([]byte, error) { return codec.Encode(wireVersion, x) }

func decode(data []byte, x codec.Readable) error {
	return codec.Decode(data, wireVersion, codec.ModeFull, x)
}
