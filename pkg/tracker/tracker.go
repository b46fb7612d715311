package tracker

import (
	"bytes"
	"context"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/wire"
)

// Tracker is a reference implementation of the tracker wire contract: a
// TCP service answering (filter, server) registrations with the current
// topology snapshot, and a UDP socket collecting offline reports.
// Admission policy is the simplest possible — every registrant is
// admitted under the filter it declared, and an offline report evicts
// the reported server from every entry. Integration tests and small
// deployments run it in-process; anything smarter is out of scope.
type Tracker struct {
	tcp net.Listener
	udp *net.UDPConn

	mu      sync.Mutex
	entries []FilterServers
}

// NewTracker binds a TCP listener and UDP socket on host with ephemeral
// ports (pass "127.0.0.1" in tests).
func NewTracker(host string) (*Tracker, error) {
	tcp, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(host)})
	if err != nil {
		tcp.Close()
		return nil, err
	}
	return &Tracker{tcp: tcp, udp: udp}, nil
}

// Addr returns the tracker's TCP address for Proxy configuration.
func (t *Tracker) Addr() string {
	return t.tcp.Addr().String()
}

// Run serves TCP registrations and UDP offline reports until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		t.tcp.Close()
		t.udp.Close()
		return ctx.Err()
	})

	g.Go(func() error {
		for {
			conn, err := t.tcp.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			go t.serveConn(conn)
		}
	})

	g.Go(func() error {
		buf := make([]byte, 64*1024)
		for {
			n, _, err := t.udp.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			t.handleOfflineReport(buf[:n])
		}
	})

	return g.Wait()
}

func (t *Tracker) serveConn(conn net.Conn) {
	defer conn.Close()

	rec, err := wire.ReadRecord(conn)
	if err != nil {
		logger.Debug("tracker: bad registration", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	req, ok := rec.(*wire.NetworkRequestRecord)
	if !ok {
		logger.Debug("tracker: unexpected record", "remote", conn.RemoteAddr(), "type", rec.WireType())
		return
	}

	f, err := wire.DecodeFilter(req.Filter)
	if err != nil {
		logger.Debug("tracker: bad filter in registration", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	t.admit(f, decodeServerAddr(req.LocalServer))

	udpAddr := t.udp.LocalAddr().(*net.UDPAddr)
	reply := &wire.NetworkReplyRecord{
		Entries: encodeMap(t.snapshot()),
		ReportingUDP: wire.ServerAddrRecord{
			Host:      udpAddr.IP.String(),
			FirstPort: uint32(udpAddr.Port),
		},
	}
	if err := wire.WriteRecord(conn, reply); err != nil {
		logger.Debug("tracker: reply failed", "remote", conn.RemoteAddr(), "error", err)
	}
}

// admit records server under f. A source registers with the filter of
// the data it serves; re-registration is idempotent.
func (t *Tracker) admit(f filter.Filter, server ServerAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.Filter.Equal(f) {
			for _, s := range e.Servers {
				if s == server {
					return
				}
			}
			t.entries[i].Servers = append(t.entries[i].Servers, server)
			return
		}
	}
	t.entries = append(t.entries, FilterServers{Filter: f, Servers: []ServerAddr{server}})
}

func (t *Tracker) snapshot() FilterServerMap {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := FilterServerMap{Entries: make([]FilterServers, len(t.entries))}
	for i, e := range t.entries {
		m.Entries[i] = FilterServers{
			Filter:  e.Filter,
			Servers: append([]ServerAddr(nil), e.Servers...),
		}
	}
	return m
}

func (t *Tracker) handleOfflineReport(data []byte) {
	rec, err := wire.ReadRecord(bytes.NewReader(data))
	if err != nil {
		return
	}
	report, ok := rec.(*wire.OfflineReportRecord)
	if !ok {
		return
	}
	offline := decodeServerAddr(report.Server)

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		servers := t.entries[i].Servers[:0]
		for _, s := range t.entries[i].Servers {
			if s != offline {
				servers = append(servers, s)
			}
		}
		t.entries[i].Servers = servers
	}
	logger.Info("tracker: server reported offline", "server", offline)
}
