package wire

// Tracker-protocol record shapes. They share the
// peer streams' framing: the TCP exchange is one NetworkRequest followed
// by one NetworkReply, and the UDP offline report is a single framed
// OfflineReport sized to exactly its serialized length.

// Tracker record type tags continue the peer-stream numbering.
const (
	TypeNetworkRequest Type = iota + 8
	TypeNetworkReply
	TypeOfflineReport
)

// ServerAddrRecord is the XDR shape of a peer server's dialable address:
// the host plus the first of its SOCKET_COUNT consecutive ports.
type ServerAddrRecord struct {
	Host      string
	FirstPort uint32
}

// FilterServersRecord maps one Filter to the servers currently serving
// data matching it.
type FilterServersRecord struct {
	Filter  FilterRecord
	Servers []ServerAddrRecord
}

// NetworkRequestRecord is what a node sends the tracker over TCP: its
// interest and its own server address for admission into the topology.
type NetworkRequestRecord struct {
	Filter      FilterRecord
	LocalServer ServerAddrRecord
}

// WireType implements Record.
func (r *NetworkRequestRecord) WireType() Type { return TypeNetworkRequest }

// NetworkReplyRecord is the tracker's topology snapshot plus the UDP
// address unreachable servers should be reported to.
type NetworkReplyRecord struct {
	Entries      []FilterServersRecord
	ReportingUDP ServerAddrRecord
}

// WireType implements Record.
func (r *NetworkReplyRecord) WireType() Type { return TypeNetworkReply }

// OfflineReportRecord carries the serialized address of a server a node
// found unreachable, sent to the tracker's reporting UDP address.
type OfflineReportRecord struct {
	Server ServerAddrRecord
}

// WireType implements Record.
func (r *OfflineReportRecord) WireType() Type { return TypeOfflineReport }
