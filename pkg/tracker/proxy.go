package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/internal/telemetry"
	"github.com/marmos91/sruth/pkg/archive"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/wire"
)

// dialTimeout bounds the TCP connect plus request/reply round-trip with
// the tracker; past it GetNetwork falls back to the cached snapshot.
const dialTimeout = 10 * time.Second

// ErrProxyClosed is returned by the second and subsequent Close calls
// and by GetNetwork after the first. ReportOffline after Close sends
// nothing.
var ErrProxyClosed = errors.New("tracker: proxy closed")

// ErrNoTopology is returned by GetNetwork when the tracker is
// unreachable and no cached snapshot exists, neither in memory nor
// redistributed through the archive.
var ErrNoTopology = errors.New("tracker: unreachable and no cached topology")

// Proxy is a node's client for one tracker. The tracker is a soft
// dependency: when it is unreachable GetNetwork serves the last
// topology snapshot, preferring the in-memory copy and falling back to
// the admin-subtree file the archive redistributes between nodes. A node
// builds one Proxy per configured tracker.
type Proxy struct {
	addr    string
	archive *archive.Archive
	metrics metrics.NodeMetrics

	mu         sync.Mutex
	cached     *FilterServerMap
	cachedAt   time.Time
	reportAddr *net.UDPAddr
	closed     bool
}

// NewProxy builds a Proxy for the tracker at addr ("host:port"),
// persisting topology snapshots through arch. nodeMetrics may be nil.
func NewProxy(addr string, arch *archive.Archive, nodeMetrics metrics.NodeMetrics) *Proxy {
	return &Proxy{addr: addr, archive: arch, metrics: nodeMetrics}
}

// Addr returns the tracker's TCP address.
func (p *Proxy) Addr() string {
	return p.addr
}

// GetNetwork returns the filter → servers topology for f. With refresh
// false and a snapshot already in memory, the snapshot is returned
// without touching the network. Otherwise the tracker is queried with
// (f, localServer); on failure the call degrades to the cached snapshot
// with a staleness warning rather than erroring, so a node keeps
// exchanging data on a stale topology as long as it knows one live
// peer.
func (p *Proxy) GetNetwork(ctx context.Context, refresh bool, f filter.Filter, localServer ServerAddr) (FilterServerMap, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return FilterServerMap{}, ErrProxyClosed
	}
	if !refresh && p.cached != nil {
		m := *p.cached
		p.mu.Unlock()
		return m, nil
	}
	p.mu.Unlock()

	_, span := telemetry.StartTrackerSpan(ctx, "get_network", p.addr)
	m, reportAddr, err := p.query(ctx, f, localServer)
	span.End()

	if err == nil {
		p.mu.Lock()
		p.cached = &m
		p.cachedAt = time.Now()
		p.reportAddr = reportAddr
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.RecordTrackerRefresh("live")
		}
		p.persistSnapshot(m, reportAddr)
		return m, nil
	}

	logger.Warn("tracker unreachable, falling back to cached topology",
		"tracker", p.addr, "error", err)
	if p.metrics != nil {
		p.metrics.RecordTrackerRefresh("cached")
	}
	return p.fallback(err)
}

// query performs one TCP round-trip: write (filter, localServer), read
// (topology, reporting UDP address).
func (p *Proxy) query(ctx context.Context, f filter.Filter, localServer ServerAddr) (FilterServerMap, *net.UDPAddr, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return FilterServerMap{}, nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(dialTimeout))

	req := &wire.NetworkRequestRecord{
		Filter:      wire.EncodeFilter(f),
		LocalServer: encodeServerAddr(localServer),
	}
	if err := wire.WriteRecord(conn, req); err != nil {
		return FilterServerMap{}, nil, err
	}

	rec, err := wire.ReadRecord(conn)
	if err != nil {
		return FilterServerMap{}, nil, err
	}
	reply, ok := rec.(*wire.NetworkReplyRecord)
	if !ok {
		return FilterServerMap{}, nil, fmt.Errorf("tracker: expected NetworkReply, got %s", rec.WireType())
	}

	m, err := decodeMap(reply.Entries)
	if err != nil {
		return FilterServerMap{}, nil, err
	}

	reportAddr := &net.UDPAddr{
		IP:   net.ParseIP(reply.ReportingUDP.Host),
		Port: int(reply.ReportingUDP.FirstPort),
	}
	if reportAddr.IP == nil {
		ips, lookupErr := net.LookupIP(reply.ReportingUDP.Host)
		if lookupErr != nil || len(ips) == 0 {
			reportAddr = nil
		} else {
			reportAddr.IP = ips[0]
		}
	}
	return m, reportAddr, nil
}

// persistSnapshot redistributes the topology through the archive's admin
// subtree with infinite TTL, so a partitioned subgraph heals when it
// later reconnects.
func (p *Proxy) persistSnapshot(m FilterServerMap, reportAddr *net.UDPAddr) {
	reply := &wire.NetworkReplyRecord{Entries: encodeMap(m)}
	if reportAddr != nil {
		reply.ReportingUDP = wire.ServerAddrRecord{
			Host:      reportAddr.IP.String(),
			FirstPort: uint32(reportAddr.Port),
		}
	}

	var buf bytes.Buffer
	if err := wire.WriteRecord(&buf, reply); err != nil {
		logger.Warn("failed to encode topology snapshot", "tracker", p.addr, "error", err)
		return
	}
	if err := p.archive.SaveTrackerSnapshot(p.addr, buf.Bytes()); err != nil {
		logger.Warn("failed to persist topology snapshot", "tracker", p.addr, "error", err)
	}
}

// fallback serves the freshest snapshot available: the in-memory copy if
// this Proxy ever reached the tracker, else the snapshot a previous run
// (or another node, via redistribution) left in the archive.
func (p *Proxy) fallback(cause error) (FilterServerMap, error) {
	p.mu.Lock()
	if p.cached != nil {
		m := *p.cached
		age := time.Since(p.cachedAt)
		p.mu.Unlock()
		logger.Warn("serving stale in-memory topology", "tracker", p.addr, "age", age)
		return m, nil
	}
	p.mu.Unlock()

	data, ok, err := p.archive.GetDistributedTrackerFiles(p.addr)
	if err != nil || !ok {
		return FilterServerMap{}, fmt.Errorf("%w: %v", ErrNoTopology, cause)
	}

	rec, err := wire.ReadRecord(bytes.NewReader(data))
	if err != nil {
		return FilterServerMap{}, fmt.Errorf("%w: corrupt snapshot: %v", ErrNoTopology, err)
	}
	reply, isReply := rec.(*wire.NetworkReplyRecord)
	if !isReply {
		return FilterServerMap{}, fmt.Errorf("%w: snapshot is %s", ErrNoTopology, rec.WireType())
	}
	m, err := decodeMap(reply.Entries)
	if err != nil {
		return FilterServerMap{}, fmt.Errorf("%w: corrupt snapshot: %v", ErrNoTopology, err)
	}

	logger.Warn("serving distributed topology snapshot of unknown age", "tracker", p.addr)

	p.mu.Lock()
	if p.cached == nil {
		p.cached = &m
		if reply.ReportingUDP.Host != "" {
			p.reportAddr = &net.UDPAddr{
				IP:   net.ParseIP(reply.ReportingUDP.Host),
				Port: int(reply.ReportingUDP.FirstPort),
			}
		}
	}
	p.mu.Unlock()
	return m, nil
}

// ReportOffline fire-and-forgets one UDP datagram carrying the
// serialized address of an unreachable server. The payload is exactly
// the framed record, no retry, no acknowledgement.
func (p *Proxy) ReportOffline(server ServerAddr) {
	p.mu.Lock()
	closed := p.closed
	reportAddr := p.reportAddr
	p.mu.Unlock()

	if closed || reportAddr == nil || reportAddr.IP == nil {
		return
	}

	var buf bytes.Buffer
	if err := wire.WriteRecord(&buf, &wire.OfflineReportRecord{Server: encodeServerAddr(server)}); err != nil {
		logger.Warn("failed to encode offline report", "server", server, "error", err)
		return
	}

	conn, err := net.DialUDP("udp", nil, reportAddr)
	if err != nil {
		logger.Debug("offline report not sent", "server", server, "error", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(buf.Bytes()); err != nil {
		logger.Debug("offline report not sent", "server", server, "error", err)
	}
}

// Close releases the proxy. The first call succeeds; subsequent calls
// return ErrProxyClosed.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProxyClosed
	}
	p.closed = true
	p.cached = nil
	p.reportAddr = nil
	return nil
}
