// Package tracker implements the discovery layer: the TrackerProxy a
// node uses to publish its server address and retrieve the filter →
// servers topology, and a reference in-process Tracker serving the same
// wire contract for integration tests. The tracker's own admission and
// matchmaking policy is out of scope; only the wire interface is
// implemented.
package tracker

import (
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/wire"
)

// ServerAddr is a peer server's dialable address: host plus the first of
// its consecutive ports.
type ServerAddr struct {
	Host      string
	FirstPort int
}

// String renders the address as "host:firstPort".
func (a ServerAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.FirstPort))
}

// ParseServerAddr parses "host:firstPort" into a ServerAddr.
func ParseServerAddr(s string) (ServerAddr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ServerAddr{}, fmt.Errorf("tracker: parse server address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServerAddr{}, fmt.Errorf("tracker: parse server address %q: %w", s, err)
	}
	return ServerAddr{Host: host, FirstPort: port}, nil
}

// FilterServers maps one Filter to the servers serving data matching it.
type FilterServers struct {
	Filter  filter.Filter
	Servers []ServerAddr
}

// FilterServerMap is a topology snapshot: per Filter, the servers
// serving it.
type FilterServerMap struct {
	Entries []FilterServers
}

// CandidatesFor returns, in stable first-seen order and deduplicated,
// the servers worth dialing for a node whose interest is pred: every
// server under an entry whose filter could still contribute to an
// unsatisfied local filter. A nil or exhausted predicate yields nothing.
func (m FilterServerMap) CandidatesFor(pred *filter.Predicate, self ServerAddr) []ServerAddr {
	if pred == nil || pred.IsNothing() {
		return nil
	}
	if len(pred.UnsatisfiedFilters()) == 0 {
		return nil
	}

	seen := make(map[ServerAddr]bool)
	var out []ServerAddr
	for _, entry := range m.Entries {
		// A NOTHING entry provably serves none of our filters. Anything
		// richer is kept: overlap between a served filter and a local
		// one is undecidable in general (prefix vs. regex), and a false
		// positive only costs a handshake against a server with nothing
		// to offer.
		if entry.Filter.Kind() == filter.KindNothing {
			continue
		}
		for _, srv := range entry.Servers {
			if srv == self || seen[srv] {
				continue
			}
			seen[srv] = true
			out = append(out, srv)
		}
	}
	return out
}

// --- wire conversions ---

func encodeServerAddr(a ServerAddr) wire.ServerAddrRecord {
	return wire.ServerAddrRecord{Host: a.Host, FirstPort: uint32(a.FirstPort)}
}

func decodeServerAddr(r wire.ServerAddrRecord) ServerAddr {
	return ServerAddr{Host: r.Host, FirstPort: int(r.FirstPort)}
}

func encodeMap(m FilterServerMap) []wire.FilterServersRecord {
	out := make([]wire.FilterServersRecord, len(m.Entries))
	for i, e := range m.Entries {
		rec := wire.FilterServersRecord{Filter: wire.EncodeFilter(e.Filter)}
		rec.Servers = make([]wire.ServerAddrRecord, len(e.Servers))
		for j, s := range e.Servers {
			rec.Servers[j] = encodeServerAddr(s)
		}
		out[i] = rec
	}
	return out
}

func decodeMap(entries []wire.FilterServersRecord) (FilterServerMap, error) {
	m := FilterServerMap{Entries: make([]FilterServers, len(entries))}
	for i, rec := range entries {
		f, err := wire.DecodeFilter(rec.Filter)
		if err != nil {
			return FilterServerMap{}, err
		}
		servers := make([]ServerAddr, len(rec.Servers))
		for j, s := range rec.Servers {
			servers[j] = decodeServerAddr(s)
		}
		m.Entries[i] = FilterServers{Filter: f, Servers: servers}
	}
	return m, nil
}
