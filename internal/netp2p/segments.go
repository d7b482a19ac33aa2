package netp2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaincfg"
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/pibd"
)

const maxSegmentMsgSize = 4 * 1024 * 1024

// SegmentSource answers a segment request against a local, steady-state
// TxHashSet, implemented by pibd.Segmenter pinned to one archive header.
type SegmentSource interface {
	BitmapSegment(id pibd.SegmentIdentifier) (*pibd.BitmapSegment, error)
	OutputSegment(id pibd.SegmentIdentifier) (*pibd.OutputSegment, error)
	RangeproofSegment(id pibd.SegmentIdentifier) (*pibd.RangeproofSegment, error)
	KernelSegment(id pibd.SegmentIdentifier) (*pibd.KernelSegment, error)
}

// ArchiveResolver maps an archive header hash to the SegmentSource
// serving it, so a single node can serve segments for whichever archive
// height it has chosen to pin (spec §4.9).
type ArchiveResolver func(archiveHash chaintypes.Hash) (SegmentSource, bool)

// SegmentServer answers peers' segment requests over a dedicated stream
// protocol.
type SegmentServer struct {
	host     host.Host
	logger   *zap.Logger
	resolver ArchiveResolver
}

// NewSegmentServer registers the segment-request stream handler on h.
func NewSegmentServer(h host.Host, resolver ArchiveResolver, logger *zap.Logger) *SegmentServer {
	s := &SegmentServer{host: h, logger: logger, resolver: resolver}
	h.SetStreamHandler(protocol.ID(SegmentProtocolID), s.handleStream)
	return s
}

func (s *SegmentServer) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(chaincfg.SegmentRequestTimeout))

	raw, err := io.ReadAll(io.LimitReader(stream, maxSegmentMsgSize))
	if err != nil {
		s.logger.Debug("segment read error", zap.Error(err))
		return
	}

	var req SegmentRequest
	if err := decode(raw, &req); err != nil {
		s.logger.Debug("invalid segment request", zap.Error(err))
		return
	}

	src, ok := s.resolver(req.ArchiveHash)
	if !ok {
		s.logger.Debug("segment request for unknown archive")
		return
	}

	resp, err := s.answer(src, req)
	if err != nil {
		s.logger.Debug("segment answer error", zap.Error(err))
		return
	}

	data, err := encode(resp)
	if err != nil {
		s.logger.Error("encode segment response", zap.Error(err))
		return
	}
	stream.Write(compressSegment(data))
}

func (s *SegmentServer) answer(src SegmentSource, req SegmentRequest) (*SegmentResponse, error) {
	switch req.Kind {
	case treeBitmap:
		seg, err := src.BitmapSegment(req.ID)
		if err != nil {
			return nil, err
		}
		return &SegmentResponse{Kind: treeBitmap, Bitmap: seg}, nil
	case treeOutput:
		seg, err := src.OutputSegment(req.ID)
		if err != nil {
			return nil, err
		}
		return &SegmentResponse{Kind: treeOutput, Output: seg}, nil
	case treeRangeproof:
		seg, err := src.RangeproofSegment(req.ID)
		if err != nil {
			return nil, err
		}
		return &SegmentResponse{Kind: treeRangeproof, Rangeproof: seg}, nil
	case treeKernel:
		seg, err := src.KernelSegment(req.ID)
		if err != nil {
			return nil, err
		}
		return &SegmentResponse{Kind: treeKernel, Kernel: seg}, nil
	default:
		return nil, fmt.Errorf("netp2p: unknown segment kind %d", req.Kind)
	}
}

// SegmentClient implements pibd.SegmentFetcher over the segment stream
// protocol against a single fixed peer, letting a Desegmenter drive
// fast sync without any direct networking dependency.
type SegmentClient struct {
	host        host.Host
	peer        peer.ID
	archiveHash chaintypes.Hash
}

// NewSegmentClient targets peerID as the source for every segment of
// the tree rooted at archiveHash.
func NewSegmentClient(h host.Host, peerID peer.ID, archiveHash chaintypes.Hash) *SegmentClient {
	return &SegmentClient{host: h, peer: peerID, archiveHash: archiveHash}
}

func (c *SegmentClient) request(ctx context.Context, kind segmentTreeKind, id pibd.SegmentIdentifier) (*SegmentResponse, error) {
	stream, err := c.host.NewStream(ctx, c.peer, protocol.ID(SegmentProtocolID))
	if err != nil {
		return nil, fmt.Errorf("open segment stream: %w", err)
	}
	defer stream.Close()

	req := &SegmentRequest{ArchiveHash: c.archiveHash, Kind: kind, ID: id}
	data, err := encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode segment request: %w", err)
	}
	if _, err := stream.Write(data); err != nil {
		return nil, fmt.Errorf("write segment request: %w", err)
	}
	stream.CloseWrite()

	raw, err := io.ReadAll(io.LimitReader(stream, maxSegmentMsgSize))
	if err != nil {
		return nil, fmt.Errorf("read segment response: %w", err)
	}
	raw, err = decompressSegment(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress segment response: %w", err)
	}

	var resp SegmentResponse
	if err := decode(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode segment response: %w", err)
	}
	return &resp, nil
}

func (c *SegmentClient) FetchBitmapSegment(ctx context.Context, id pibd.SegmentIdentifier) (*pibd.BitmapSegment, error) {
	resp, err := c.request(ctx, treeBitmap, id)
	if err != nil {
		return nil, err
	}
	if resp.Bitmap == nil {
		return nil, fmt.Errorf("netp2p: peer returned no bitmap segment")
	}
	return resp.Bitmap, nil
}

func (c *SegmentClient) FetchOutputSegment(ctx context.Context, id pibd.SegmentIdentifier) (*pibd.OutputSegment, error) {
	resp, err := c.request(ctx, treeOutput, id)
	if err != nil {
		return nil, err
	}
	if resp.Output == nil {
		return nil, fmt.Errorf("netp2p: peer returned no output segment")
	}
	return resp.Output, nil
}

func (c *SegmentClient) FetchRangeproofSegment(ctx context.Context, id pibd.SegmentIdentifier) (*pibd.RangeproofSegment, error) {
	resp, err := c.request(ctx, treeRangeproof, id)
	if err != nil {
		return nil, err
	}
	if resp.Rangeproof == nil {
		return nil, fmt.Errorf("netp2p: peer returned no rangeproof segment")
	}
	return resp.Rangeproof, nil
}

func (c *SegmentClient) FetchKernelSegment(ctx context.Context, id pibd.SegmentIdentifier) (*pibd.KernelSegment, error) {
	resp, err := c.request(ctx, treeKernel, id)
	if err != nil {
		return nil, err
	}
	if resp.Kernel == nil {
		return nil, fmt.Errorf("netp2p: peer returned no kernel segment")
	}
	return resp.Kernel, nil
}

var _ pibd.SegmentFetcher = (*SegmentClient)(nil)
