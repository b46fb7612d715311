// Package node composes the archive, clearinghouse, server, watcher, and
// (for sinks) clientmanagers into the two node flavors: SourceNode
// publishes files dropped into its archive root; SinkNode pulls files
// matching a user-supplied Predicate, guided by one or more trackers.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/adminapi"
	"github.com/marmos91/sruth/pkg/archive"
	"github.com/marmos91/sruth/pkg/clearinghouse"
	"github.com/marmos91/sruth/pkg/clientmanager"
	"github.com/marmos91/sruth/pkg/config"
	"github.com/marmos91/sruth/pkg/connection"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/peer"
	"github.com/marmos91/sruth/pkg/server"
	"github.com/marmos91/sruth/pkg/tracker"
)

// Kind distinguishes the two node flavors.
type Kind string

const (
	// KindSource serves but never requests: its predicate is NOTHING
	// and its watcher turns externally dropped files into offers.
	KindSource Kind = "source"
	// KindSink pulls files matching its predicate via tracker-guided
	// outbound peers, while still serving what it holds.
	KindSink Kind = "sink"
)

// Node is one running SRUTH node, source or sink.
type Node struct {
	kind Kind
	cfg  *config.Config

	archive *archive.Archive
	ch      *clearinghouse.ClearingHouse
	server  *server.Server
	proxies []*tracker.Proxy
	cms     []*clientmanager.ClientManager
	admin   *adminapi.Server

	localServer      tracker.ServerAddr
	refreshIntervals []time.Duration

	metrics   metrics.NodeMetrics
	startedAt time.Time

	peerCh chan *connection.Connection
}

// NewSource builds a SourceNode: Archive + Server + Watcher, predicate
// NOTHING. Configured trackers are registered with periodically (so
// sinks can discover this server) but no ClientManagers are run: a
// source serves, it never dials.
func NewSource(cfg *config.Config, nodeMetrics metrics.NodeMetrics) (*Node, error) {
	return build(KindSource, cfg, filter.New(filter.Nothing()), cfg.Trackers, nodeMetrics)
}

// NewSink builds a SinkNode: Archive + Server + one ClientManager per
// tracker, driven by pred.
func NewSink(cfg *config.Config, pred *filter.Predicate, trackers []config.TrackerConfig, nodeMetrics metrics.NodeMetrics) (*Node, error) {
	if pred == nil || pred.IsNothing() {
		return nil, fmt.Errorf("node: a sink requires a non-empty predicate")
	}
	if len(trackers) == 0 {
		return nil, fmt.Errorf("node: a sink requires at least one tracker")
	}
	return build(KindSink, cfg, pred, trackers, nodeMetrics)
}

// build wires the component graph in its one valid construction order:
// Archive, then ClearingHouse, then Server, with Peers created lazily.
// Cycles are broken with non-owning references.
func build(kind Kind, cfg *config.Config, pred *filter.Predicate, trackers []config.TrackerConfig, nodeMetrics metrics.NodeMetrics) (*Node, error) {
	arch, err := archive.New(archive.Config{
		RootDir:             cfg.Archive.RootDir,
		ActiveFileCacheSize: cfg.Archive.ActiveFileCacheSize,
		PieceSize:           int64(cfg.Archive.PieceSize),
	}, nodeMetrics)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	ch := clearinghouse.New(arch, pred, nodeMetrics)

	n := &Node{
		kind:      kind,
		cfg:       cfg,
		archive:   arch,
		ch:        ch,
		metrics:   nodeMetrics,
		startedAt: time.Now(),
		peerCh:    make(chan *connection.Connection, 16),
	}

	srv, err := server.Listen("", cfg.Network.StartPort, cfg.Network.StartPort+64,
		cfg.Network.SoTimeout, n.acceptConnection)
	if err != nil {
		arch.Close()
		return nil, err
	}
	n.server = srv

	localServer := tracker.ServerAddr{
		Host:      cfg.Network.AdvertiseHost,
		FirstPort: srv.FirstPort(),
	}
	n.localServer = localServer
	for _, tc := range trackers {
		proxy := tracker.NewProxy(tc.Addr, arch, nodeMetrics)
		n.proxies = append(n.proxies, proxy)
		n.refreshIntervals = append(n.refreshIntervals, tc.RefreshInterval)
		if kind == KindSink {
			n.cms = append(n.cms, clientmanager.New(clientmanager.Config{
				LocalServer:      localServer,
				RefreshInterval:  tc.RefreshInterval,
				MaxOutboundPeers: cfg.Network.MaxOutboundPeers,
				SoTimeout:        cfg.Network.SoTimeout,
			}, proxy, ch, nodeMetrics))
		}
	}

	if cfg.AdminAPI.Enabled {
		n.admin = adminapi.New(cfg.AdminAPI.Port, n, metrics.GetRegistry())
	}

	return n, nil
}

// FirstPort returns the server's REQUEST-stream port; a Publisher prints
// it to stdout so scripts can hand it to subscribers or trackers.
func (n *Node) FirstPort() int {
	return n.server.FirstPort()
}

// ClearingHouse exposes the node's broker, mainly for tests.
func (n *Node) ClearingHouse() *clearinghouse.ClearingHouse {
	return n.ch
}

// Archive exposes the node's store, mainly for tests.
func (n *Node) Archive() *archive.Archive {
	return n.archive
}

// acceptConnection is the Server's handler: each completed inbound
// triple becomes a Peer run on the node's executor.
func (n *Node) acceptConnection(conn *connection.Connection) {
	select {
	case n.peerCh <- conn:
	default:
		// Run not started or shutting down; refuse politely.
		conn.Close()
	}
}

// Run starts every subtask and blocks until the first of them fails or
// ctx is cancelled, then cancels the rest and waits out the configured
// shutdown timeout before giving up on them. Inbound peer failures are
// contained: a peer ending only frees its slot.
func (n *Node) Run(ctx context.Context) error {
	logger.Info("node starting",
		"kind", n.kind,
		"root", n.cfg.Archive.RootDir,
		"first_port", n.server.FirstPort())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.server.Serve(ctx) })

	g.Go(func() error {
		// Inbound peers are supervised here rather than in the Server's
		// accept path so that a handshake failure or remote disconnect
		// never propagates into the errgroup.
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case conn := <-n.peerCh:
				p := peer.New(conn, n.ch, n.metrics)
				go func() {
					err := p.Run(ctx)
					if err != nil && !errors.Is(err, context.Canceled) {
						logger.Info("inbound peer ended", "remote", conn.Remote(), "error", err)
					}
				}()
			}
		}
	})

	if n.kind == KindSource {
		if err := n.archive.Watch(); err != nil {
			return fmt.Errorf("node: start watcher: %w", err)
		}
		// A source runs no ClientManagers, but it still registers with
		// its trackers so sinks can find this server. It serves
		// everything under its root, so it registers under EVERYTHING.
		for i, proxy := range n.proxies {
			interval := n.refreshIntervals[i]
			g.Go(func() error { return n.registerLoop(ctx, proxy, interval) })
		}
	}

	for _, cm := range n.cms {
		g.Go(func() error { return cm.Run(ctx) })
	}

	if n.admin != nil {
		g.Go(func() error { return n.admin.Run(ctx) })
	}

	err := g.Wait()
	n.shutdown()
	return err
}

// registerLoop keeps a source node visible in one tracker's topology. A
// tracker outage is tolerated; registration simply retries on the next
// tick.
func (n *Node) registerLoop(ctx context.Context, proxy *tracker.Proxy, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := proxy.GetNetwork(ctx, true, filter.Everything(), n.localServer); err != nil {
			logger.Warn("tracker registration failed", "tracker", proxy.Addr(), "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// shutdown releases everything Run started, bounded by ShutdownTimeout.
func (n *Node) shutdown() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, proxy := range n.proxies {
			if err := proxy.Close(); err != nil && !errors.Is(err, tracker.ErrProxyClosed) {
				logger.Warn("tracker proxy close", "error", err)
			}
		}
		n.server.Close()
		if err := n.archive.Close(); err != nil {
			logger.Warn("archive close", "error", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(n.cfg.ShutdownTimeout):
		logger.Error("shutdown timed out", "timeout", n.cfg.ShutdownTimeout)
	}
}

// Stats implements adminapi.StatsProvider.
func (n *Node) Stats() adminapi.Stats {
	s := adminapi.Stats{
		NodeKind:            string(n.kind),
		StartedAt:           n.startedAt,
		ServerFirstPort:     n.server.FirstPort(),
		ActivePeers:         n.ch.PeerCount(),
		OutstandingRequests: n.ch.OutstandingCount(),
	}
	for _, proxy := range n.proxies {
		s.Trackers = append(s.Trackers, proxy.Addr())
	}
	return s
}
