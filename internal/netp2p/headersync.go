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

	"github.com/grinchain/node/internal/chaintypes"
)

const (
	maxHeaderBatchSize  = 2048
	maxHeaderSyncMsgSize = 2 * 1024 * 1024
	maxLocatorCount      = 64
	headerSyncStreamTimeout = 30 * time.Second
)

// HeaderSyncHandler answers a locator-based header request against
// local chain state, used to find a recent archive header to drive
// PIBD from (spec §4.8's common-ancestor search, §4.9's archive
// selection).
type HeaderSyncHandler func(req *HeaderLocatorReq) *HeaderLocatorResp

// HeaderSyncer handles locator-based header synchronization.
type HeaderSyncer struct {
	host    host.Host
	logger  *zap.Logger
	handler HeaderSyncHandler
}

// NewHeaderSyncer registers the header-sync stream handler on h.
func NewHeaderSyncer(h host.Host, handler HeaderSyncHandler, logger *zap.Logger) *HeaderSyncer {
	s := &HeaderSyncer{host: h, logger: logger, handler: handler}
	h.SetStreamHandler(protocol.ID(HeaderSyncProtocolID), s.handleStream)
	return s
}

func (s *HeaderSyncer) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(headerSyncStreamTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxHeaderSyncMsgSize))
	if err != nil {
		s.logger.Debug("header sync read error", zap.Error(err))
		return
	}

	var req HeaderLocatorReq
	if err := decode(data, &req); err != nil {
		s.logger.Debug("invalid header sync request", zap.Error(err))
		return
	}
	if req.MaxCount > maxHeaderBatchSize {
		req.MaxCount = maxHeaderBatchSize
	}
	if len(req.Locators) > maxLocatorCount {
		req.Locators = req.Locators[:maxLocatorCount]
	}

	resp := s.handler(&req)
	if resp == nil {
		resp = &HeaderLocatorResp{}
	}

	data, err = encode(resp)
	if err != nil {
		s.logger.Error("encode header sync response", zap.Error(err))
		return
	}
	stream.Write(data)
}

// RequestHeaders sends a locator-based header request to peerID.
func (s *HeaderSyncer) RequestHeaders(ctx context.Context, peerID peer.ID, locators []chaintypes.Hash, maxCount uint32) (*HeaderLocatorResp, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(HeaderSyncProtocolID))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	req := &HeaderLocatorReq{Locators: locators, MaxCount: maxCount}
	data, err := encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := stream.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	stream.CloseWrite()

	data, err = io.ReadAll(io.LimitReader(stream, maxHeaderSyncMsgSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp HeaderLocatorResp
	if err := decode(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
