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
	maxStemMsgSize     = 64 * 1024
	stemStreamTimeout = 10 * time.Second
)

// StemHandler admits a transaction received over the direct stem path,
// deciding whether to hold it in this node's own stempool or relay it
// further (spec §4.10's embargoed single-path propagation).
type StemHandler func(tx *chaintypes.Transaction)

// StemRelay sends and receives Dandelion stem-phase transactions over a
// dedicated stream protocol, kept separate from GossipSub so a stem
// transaction never fans out to more than one peer at a time.
type StemRelay struct {
	host    host.Host
	logger  *zap.Logger
	handler StemHandler
}

// NewStemRelay registers the stem-phase stream handler on h.
func NewStemRelay(h host.Host, handler StemHandler, logger *zap.Logger) *StemRelay {
	r := &StemRelay{host: h, logger: logger, handler: handler}
	h.SetStreamHandler(protocol.ID(StemProtocolID), r.handleStream)
	return r
}

func (r *StemRelay) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(stemStreamTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxStemMsgSize))
	if err != nil {
		r.logger.Debug("stem read error", zap.Error(err))
		return
	}

	var msg StemTx
	if err := decode(data, &msg); err != nil {
		r.logger.Debug("invalid stem tx", zap.Error(err))
		return
	}
	if r.handler != nil {
		r.handler(&msg.Tx)
	}
}

// SendStemTx forwards tx to the next hop on the stem path. The caller
// picks peerID (the stem-path successor); this type only speaks the
// wire protocol.
func (r *StemRelay) SendStemTx(ctx context.Context, peerID peer.ID, tx *chaintypes.Transaction) error {
	stream, err := r.host.NewStream(ctx, peerID, protocol.ID(StemProtocolID))
	if err != nil {
		return fmt.Errorf("open stem stream: %w", err)
	}
	defer stream.Close()

	data, err := encode(&StemTx{Tx: *tx})
	if err != nil {
		return fmt.Errorf("encode stem tx: %w", err)
	}
	if _, err := stream.Write(data); err != nil {
		return fmt.Errorf("write stem tx: %w", err)
	}
	return stream.CloseWrite()
}
