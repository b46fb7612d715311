// Package clientmanager maintains a sink node's outbound peers: it
// periodically asks the TrackerProxy for the filter → servers topology,
// ranks the candidate servers, keeps a bounded number of concurrent
// outbound Peers (one per remote server), and reports unreachable
// remotes back to the tracker.
package clientmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/clearinghouse"
	"github.com/marmos91/sruth/pkg/connection"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/peer"
	"github.com/marmos91/sruth/pkg/tracker"
)

// Config configures one ClientManager.
type Config struct {
	// LocalServer is this node's own server address, published to the
	// tracker and excluded from dialing candidates.
	LocalServer tracker.ServerAddr

	// RefreshInterval is how often the tracker is re-queried for a
	// fresh topology.
	RefreshInterval time.Duration

	// MaxOutboundPeers bounds the number of concurrent outbound Peers.
	MaxOutboundPeers int

	// SoTimeout is the soft read timeout for dialed Connections.
	SoTimeout time.Duration
}

// ClientManager drives outbound connections for one tracker. Sink nodes
// run one per configured tracker; all share the node's ClearingHouse.
type ClientManager struct {
	cfg     Config
	proxy   *tracker.Proxy
	ch      *clearinghouse.ClearingHouse
	metrics metrics.NodeMetrics

	mu     sync.Mutex
	active map[tracker.ServerAddr]context.CancelFunc
}

// New builds a ClientManager over proxy, brokered by ch. nodeMetrics may
// be nil.
func New(cfg Config, proxy *tracker.Proxy, ch *clearinghouse.ClearingHouse, nodeMetrics metrics.NodeMetrics) *ClientManager {
	return &ClientManager{
		cfg:     cfg,
		proxy:   proxy,
		ch:      ch,
		metrics: nodeMetrics,
		active:  make(map[tracker.ServerAddr]context.CancelFunc),
	}
}

// Run refreshes topology and tops up outbound peers until ctx is
// cancelled. The first refresh happens immediately; a tracker failure is
// absorbed by the proxy's cached-topology fallback and never ends the
// loop.
func (cm *ClientManager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(cm.cfg.RefreshInterval)
	defer ticker.Stop()

	refresh := true
	for {
		cm.topUp(ctx, &wg, refresh)
		refresh = true

		select {
		case <-ctx.Done():
			cm.mu.Lock()
			for _, cancel := range cm.active {
				cancel()
			}
			cm.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// topUp queries the topology and dials candidates until the outbound
// peer budget is spent.
func (cm *ClientManager) topUp(ctx context.Context, wg *sync.WaitGroup, refresh bool) {
	localFilter := filter.Reduce(cm.ch.LocalPredicate().UnsatisfiedFilters()...)
	m, err := cm.proxy.GetNetwork(ctx, refresh, localFilter, cm.cfg.LocalServer)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("topology unavailable", "tracker", cm.proxy.Addr(), "error", err)
		}
		return
	}

	for _, candidate := range m.CandidatesFor(cm.ch.LocalPredicate(), cm.cfg.LocalServer) {
		if ctx.Err() != nil {
			return
		}
		if !cm.claim(candidate) {
			continue
		}

		wg.Add(1)
		go func(addr tracker.ServerAddr) {
			defer wg.Done()
			cm.dialAndRun(ctx, addr)
		}(candidate)
	}
}

// claim reserves a slot for addr, respecting both the one-peer-per-server
// rule and MaxOutboundPeers. The CancelFunc placeholder is replaced once
// dialAndRun has a real peer context.
func (cm *ClientManager) claim(addr tracker.ServerAddr) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, dialing := cm.active[addr]; dialing {
		return false
	}
	if len(cm.active) >= cm.cfg.MaxOutboundPeers {
		return false
	}
	cm.active[addr] = func() {}
	return true
}

func (cm *ClientManager) release(addr tracker.ServerAddr) {
	cm.mu.Lock()
	delete(cm.active, addr)
	cm.mu.Unlock()
}

// dialAndRun establishes the three-socket Connection to addr and runs a
// Peer over it until it ends. Dial failure is reported to the tracker as
// an offline server; a peer ending for any reason frees the slot so a
// later refresh may retry.
func (cm *ClientManager) dialAndRun(ctx context.Context, addr tracker.ServerAddr) {
	defer cm.release(addr)

	peerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cm.mu.Lock()
	cm.active[addr] = cancel
	cm.mu.Unlock()

	conn, err := connection.Dial(peerCtx, addr.Host, addr.FirstPort, cm.cfg.SoTimeout)
	if err != nil {
		logger.Info("outbound dial failed, reporting offline",
			"server", addr, "error", err)
		cm.proxy.ReportOffline(addr)
		return
	}

	p := peer.New(conn, cm.ch, cm.metrics)
	logger.Info("outbound peer established", "server", addr, "connection", conn.ID())

	err = p.Run(peerCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Info("outbound peer ended", "server", addr, "error", err)
	}
}

// ActivePeers returns the number of live or in-progress outbound peers,
// for the admin surface.
func (cm *ClientManager) ActivePeers() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.active)
}
