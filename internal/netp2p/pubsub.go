package netp2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grinchain/node/internal/chaintypes"
)

// PubSub manages GossipSub propagation of new blocks and fluffed
// transactions (spec §4.7, §4.10).
type PubSub struct {
	ps        *pubsub.PubSub
	blockTop  *pubsub.Topic
	blockSub  *pubsub.Subscription
	txTop     *pubsub.Topic
	txSub     *pubsub.Subscription
	self      peer.ID
	logger    *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerLimitersMu sync.Mutex
}

// NewPubSub joins the block and transaction gossip topics and starts
// their read loops, delivering decoded payloads to incomingBlocks and
// incomingTxs.
func NewPubSub(ctx context.Context, h host.Host, incomingBlocks chan *chaintypes.Block, incomingTxs chan *chaintypes.Transaction, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	blockTop, err := ps.Join(BlockTopicName)
	if err != nil {
		return nil, err
	}
	blockSub, err := blockTop.Subscribe()
	if err != nil {
		return nil, err
	}

	txTop, err := ps.Join(TxTopicName)
	if err != nil {
		return nil, err
	}
	txSub, err := txTop.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		blockTop:     blockTop,
		blockSub:     blockSub,
		txTop:        txTop,
		txSub:        txSub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
	}

	go p.blockReadLoop(ctx, incomingBlocks)
	go p.txReadLoop(ctx, incomingTxs)

	return p, nil
}

// PublishBlock announces a newly accepted block to the network.
func (p *PubSub) PublishBlock(blk *chaintypes.Block) error {
	msg := &BlockAnnounce{Block: *blk}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return p.blockTop.Publish(context.Background(), data)
}

// PublishTx broadcasts a fluffed transaction to the network (the
// txpool.Broadcaster side of the Dandelion stem/fluff relay).
func (p *PubSub) PublishTx(tx *chaintypes.Transaction) error {
	msg := &TxAnnounce{Tx: *tx}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return p.txTop.Publish(context.Background(), data)
}

func (p *PubSub) blockReadLoop(ctx context.Context, incoming chan *chaintypes.Block) {
	for {
		msg, err := p.blockSub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("block gossip read error", zap.Error(err))
			continue
		}
		if msg.GetFrom() == p.self {
			continue
		}
		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited on block gossip", zap.String("peer", msg.GetFrom().String()))
			continue
		}
		if len(msg.Data) > maxGossipBlockSize {
			p.logger.Debug("oversized block announcement dropped", zap.Int("size", len(msg.Data)))
			continue
		}
		var announce BlockAnnounce
		if err := decode(msg.Data, &announce); err != nil {
			p.logger.Debug("invalid block announcement", zap.Error(err))
			continue
		}
		select {
		case incoming <- &announce.Block:
		default:
			p.logger.Warn("incoming blocks channel full, dropping announcement")
		}
	}
}

func (p *PubSub) txReadLoop(ctx context.Context, incoming chan *chaintypes.Transaction) {
	for {
		msg, err := p.txSub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("tx gossip read error", zap.Error(err))
			continue
		}
		if msg.GetFrom() == p.self {
			continue
		}
		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited on tx gossip", zap.String("peer", msg.GetFrom().String()))
			continue
		}
		var announce TxAnnounce
		if err := decode(msg.Data, &announce); err != nil {
			p.logger.Debug("invalid tx announcement", zap.Error(err))
			continue
		}
		select {
		case incoming <- &announce.Tx:
		default:
			p.logger.Warn("incoming txs channel full, dropping announcement")
		}
	}
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}
	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			break
		}
	}
	lim := rate.NewLimiter(10, 20)
	p.peerLimiters[peerID] = lim
	return lim
}
