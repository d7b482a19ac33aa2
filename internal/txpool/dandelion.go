// Dandelion implements the two-phase stem/fluff relay (spec §4.10,
// GLOSSARY "Dandelion"): a transaction admitted from a peer is held in
// the stempool under embargo; once the embargo elapses without the
// transaction surfacing elsewhere, it is "fluffed" into the mempool and
// broadcast to all peers. Grounded on the teacher's coroutine-style
// background loop pattern (a dedicated goroutine, a ticker, a stop
// channel) used throughout p2pool-go's long-running services, per
// SPEC_FULL's design note on the source's "coroutine-style Dandelion
// monitor": a dedicated thread with a 1-second sleep loop and a stop
// flag, no async runtime required.
package txpool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/metrics"
)

// DefaultEmbargo is how long a stem transaction waits before fluffing,
// randomized per-entry in a production deployment to resist timing
// analysis; fixed here since the core's job is the mechanism, not the
// policy, and SPEC_FULL leaves the exact distribution to the network
// layer that calls SubmitStem.
const DefaultEmbargo = 30 * time.Second

// Broadcaster fluffs a transaction to every connected peer, implemented
// by the netp2p layer; kept as an interface here so the pool has no
// dependency on networking.
type Broadcaster interface {
	BroadcastTx(tx *chaintypes.Transaction)
}

// SubmitLocal places e directly in the mempool, tagged SourceLocal (a
// node's own transactions skip the stem phase; spec §4.10 only embargoes
// peer-relayed transactions against origin-tracing). It does not run
// Admit; e is inserted as given.
func (p *Pool) SubmitLocal(e *Entry) {
	e.Source = SourceLocal
	p.addMempool(e)
}

// SubmitStem places e in the stempool under embargo, tagged SourcePeer;
// a non-positive embargo means DefaultEmbargo. It does not run Admit; e
// is inserted as given.
func (p *Pool) SubmitStem(e *Entry, embargo time.Duration) {
	e.Source = SourcePeer
	if embargo <= 0 {
		embargo = DefaultEmbargo
	}
	p.addStem(e, embargo)
}

// RunDandelionMonitor scans the stempool once a second, fluffing any
// entry whose embargo has passed and evicting (with a log line) any
// entry that can no longer be fluffed because it became invalid in the
// meantime (spec §4.10 "Dandelion monitor"). It returns when ctx is
// canceled, matching §5's cooperative-shutdown contract: a global stop
// signal polled at every sleep point.
func (p *Pool) RunDandelionMonitor(ctx context.Context, bcast Broadcaster, revalidate func(*chaintypes.Transaction) error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepStempool(bcast, revalidate)
		}
	}
}

func (p *Pool) sweepStempool(bcast Broadcaster, revalidate func(*chaintypes.Transaction) error) {
	now := time.Now()

	p.mu.Lock()
	var due []*Entry
	for hash, e := range p.stempool {
		if !now.Before(e.Embargo) {
			due = append(due, e)
			delete(p.stempool, hash)
		}
	}
	p.mu.Unlock()

	for _, e := range due {
		if revalidate != nil {
			if err := revalidate(e.Tx); err != nil {
				metrics.TxEvictedTotal.Inc()
				p.log.Debug("txpool: stem entry evicted on fluff", zap.Error(err))
				continue
			}
		}
		p.addMempool(e)
		if bcast != nil {
			bcast.BroadcastTx(e.Tx)
		}
		metrics.TxFluffedTotal.Inc()
	}
	metrics.StempoolSize.Set(float64(p.stempoolLen()))
}

func (p *Pool) stempoolLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stempool)
}
