// Package metrics defines node-wide observability interfaces.
//
// Implementations are optional: every interface in this package is safe to
// leave nil, in which case call sites skip recording with zero overhead.
// The Prometheus implementation lives in the prometheus subpackage.
package metrics

import "time"

// NodeMetrics records node-wide counters and gauges for the archive,
// connection, and peer layers.
//
// Pass nil to disable metrics collection; all Record*/Set* methods on a nil
// NodeMetrics are expected to be skipped by callers rather than invoked, but
// implementations should also tolerate being embedded in a nil-checked
// wrapper without panicking.
type NodeMetrics interface {
	// RecordPieceTransferred records a single piece moving across a
	// Connection, tagged by direction ("sent" or "received").
	RecordPieceTransferred(direction string, bytes int, duration time.Duration)

	// SetActivePeers sets the current number of live Peer instances.
	SetActivePeers(count int)

	// SetOutstandingRequests sets the current size of the ClearingHouse's
	// outstanding-request table.
	SetOutstandingRequests(count int)

	// SetArchiveFileCount sets the number of distinct FileIds known to the
	// archive, tagged by disk state ("complete" or "partial").
	SetArchiveFileCount(state string, count int)

	// SetOpenDiskFiles sets the number of DiskFile channels currently open
	// in the archive's LRU cache.
	SetOpenDiskFiles(count int)

	// RecordArchiveEviction records an LRU eviction of an open DiskFile.
	RecordArchiveEviction()

	// RecordTrackerRefresh records a TrackerProxy.getNetwork call, tagged
	// by outcome ("live" or "cached").
	RecordTrackerRefresh(outcome string)
}
