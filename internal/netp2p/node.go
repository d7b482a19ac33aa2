package netp2p

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	leveldb "github.com/ipfs/go-ds-leveldb"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaintypes"
)

// Node owns the libp2p host and every protocol handler wired on top of
// it: block/tx gossip, header-locator sync, and PIBD segment exchange
// (spec §6). Handshake and peer-selection policy stay outside the
// core; this type's job is producing and consuming the wire messages
// the core's pipeline, pool, and sync state machines need.
type Node struct {
	Host   host.Host
	Logger *zap.Logger

	pubsub     *PubSub
	discovery  *Discovery
	headerSync *HeaderSyncer
	segServer  *SegmentServer
	stemRelay  *StemRelay
	ds         *leveldb.Datastore

	incomingBlocks chan *chaintypes.Block
	incomingTxs    chan *chaintypes.Transaction
	peerConnected  chan peer.ID
}

// NewNode creates a libp2p host with GossipSub already joined, but does
// not start discovery or register the header-sync/segment protocol
// handlers. Call InitHeaderSync/InitSegmentServer before StartDiscovery
// so handlers are in place before peers connect.
func NewNode(ctx context.Context, listenPort int, dataDir string, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)

	privKey, err := LoadOrCreateIdentity(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 100, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	ds, err := leveldb.NewDatastore(filepath.Join(dataDir, "dht"), nil)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("open DHT datastore: %w", err)
	}

	node := &Node{
		Host:           h,
		Logger:         logger,
		ds:             ds,
		incomingBlocks: make(chan *chaintypes.Block, 256),
		incomingTxs:    make(chan *chaintypes.Transaction, 1024),
		peerConnected:  make(chan peer.ID, 16),
	}

	h.Network().Notify(&peerNotifiee{peerConnected: node.peerConnected})

	node.pubsub, err = NewPubSub(ctx, h, node.incomingBlocks, node.incomingTxs, logger)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("setup pubsub: %w", err)
	}

	logger.Info("netp2p node started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("port", listenPort),
	)
	for _, addr := range h.Addrs() {
		logger.Info("listening on", zap.String("addr", fmt.Sprintf("%s/p2p/%s", addr, h.ID())))
	}

	return node, nil
}

// StartDiscovery begins mDNS and DHT peer discovery. Must be called
// after InitHeaderSync/InitSegmentServer register their stream handlers.
func (n *Node) StartDiscovery(ctx context.Context, enableMDNS bool, bootnodes []string) error {
	var err error
	n.discovery, err = NewDiscovery(ctx, n.Host, enableMDNS, bootnodes, []dht.Option{dht.Datastore(n.ds)}, n.Logger)
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}
	return nil
}

// InitHeaderSync registers the header-locator sync stream handler.
func (n *Node) InitHeaderSync(handler HeaderSyncHandler) {
	n.headerSync = NewHeaderSyncer(n.Host, handler, n.Logger)
}

// InitSegmentServer registers the PIBD segment-request stream handler.
func (n *Node) InitSegmentServer(resolver ArchiveResolver) {
	n.segServer = NewSegmentServer(n.Host, resolver, n.Logger)
}

// InitStemRelay registers the Dandelion stem-phase stream handler.
func (n *Node) InitStemRelay(handler StemHandler) {
	n.stemRelay = NewStemRelay(n.Host, handler, n.Logger)
}

// HeaderSync returns the header-locator sync protocol handler.
func (n *Node) HeaderSync() *HeaderSyncer { return n.headerSync }

// SendStemTx forwards tx to peerID over the direct stem-phase protocol
// instead of gossip, preserving Dandelion's single-path propagation
// until the embargo elapses and the transaction is fluffed.
func (n *Node) SendStemTx(ctx context.Context, peerID peer.ID, tx *chaintypes.Transaction) error {
	return n.stemRelay.SendStemTx(ctx, peerID, tx)
}

// IncomingBlocks returns the channel of blocks announced by peers.
func (n *Node) IncomingBlocks() <-chan *chaintypes.Block { return n.incomingBlocks }

// IncomingTxs returns the channel of fluffed transactions from peers.
func (n *Node) IncomingTxs() <-chan *chaintypes.Transaction { return n.incomingTxs }

// BroadcastBlock announces a newly accepted block to the network.
func (n *Node) BroadcastBlock(blk *chaintypes.Block) error {
	return n.pubsub.PublishBlock(blk)
}

// BroadcastTx implements txpool.Broadcaster, fluffing tx to every peer.
func (n *Node) BroadcastTx(tx *chaintypes.Transaction) {
	if err := n.pubsub.PublishTx(tx); err != nil {
		n.Logger.Warn("broadcast tx failed", zap.Error(err))
	}
}

// NewSegmentFetcher builds a pibd.SegmentFetcher that pulls every
// segment for archiveHash from a single chosen peer (spec §4.9's
// "max-work PIBD peer" is selected by the caller; this type just
// speaks the wire protocol to whichever peer it is given).
func (n *Node) NewSegmentFetcher(peerID peer.ID, archiveHash chaintypes.Hash) *SegmentClient {
	return NewSegmentClient(n.Host, peerID, archiveHash)
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int { return len(n.Host.Network().Peers()) }

// ConnectedPeers returns the IDs of connected peers.
func (n *Node) ConnectedPeers() []peer.ID { return n.Host.Network().Peers() }

// PeerConnected returns a channel that receives peer IDs as they connect.
func (n *Node) PeerConnected() <-chan peer.ID { return n.peerConnected }

// Close shuts down the node and its DHT datastore.
func (n *Node) Close() error {
	err := n.Host.Close()
	if dsErr := n.ds.Close(); dsErr != nil && err == nil {
		err = dsErr
	}
	return err
}

type peerNotifiee struct {
	peerConnected chan peer.ID
}

func (pn *peerNotifiee) Connected(_ network.Network, conn network.Conn) {
	select {
	case pn.peerConnected <- conn.RemotePeer():
	default:
	}
}

func (pn *peerNotifiee) Disconnected(network.Network, network.Conn) {}
func (pn *peerNotifiee) Listen(network.Network, ma.Multiaddr)       {}
func (pn *peerNotifiee) ListenClose(network.Network, ma.Multiaddr)  {}
