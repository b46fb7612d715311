// Package prometheus implements metrics.NodeMetrics on top of client_golang.
package prometheus

import (
	"time"

	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// nodeMetrics is the Prometheus-backed implementation of metrics.NodeMetrics.
type nodeMetrics struct {
	piecesTransferred *prometheus.CounterVec
	pieceBytes        *prometheus.CounterVec
	pieceDuration     *prometheus.HistogramVec
	activePeers       prometheus.Gauge
	outstandingReqs   prometheus.Gauge
	archiveFiles      *prometheus.GaugeVec
	openDiskFiles     prometheus.Gauge
	archiveEvictions  prometheus.Counter
	trackerRefresh    *prometheus.CounterVec
}

// NewNodeMetrics creates a new Prometheus-backed metrics.NodeMetrics.
//
// Returns nil if metrics are not enabled (metrics.InitRegistry not called).
// When nil is returned, callers should pass nil through to the archive,
// peer, and clearinghouse constructors, which treat a nil NodeMetrics as
// "do not record" with zero overhead.
func NewNodeMetrics() metrics.NodeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &nodeMetrics{
		piecesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sruth_pieces_transferred_total",
				Help: "Total number of pieces sent or received, by direction.",
			},
			[]string{"direction"},
		),
		pieceBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sruth_piece_bytes_total",
				Help: "Total piece payload bytes sent or received, by direction.",
			},
			[]string{"direction"},
		),
		pieceDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sruth_piece_transfer_duration_seconds",
				Help:    "Time to encode/decode and write a single piece on the wire.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		activePeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sruth_active_peers",
			Help: "Number of Peer instances currently running.",
		}),
		outstandingReqs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sruth_outstanding_requests",
			Help: "Size of the ClearingHouse outstanding-request table.",
		}),
		archiveFiles: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sruth_archive_files",
				Help: "Number of FileIds known to the archive, by disk state.",
			},
			[]string{"state"},
		),
		openDiskFiles: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sruth_archive_open_disk_files",
			Help: "Number of DiskFile channels currently open in the LRU cache.",
		}),
		archiveEvictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sruth_archive_evictions_total",
			Help: "Total number of LRU evictions of open DiskFile channels.",
		}),
		trackerRefresh: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sruth_tracker_refresh_total",
				Help: "Total number of tracker topology refreshes, by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *nodeMetrics) RecordPieceTransferred(direction string, bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.piecesTransferred.WithLabelValues(direction).Inc()
	m.pieceBytes.WithLabelValues(direction).Add(float64(bytes))
	m.pieceDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *nodeMetrics) SetActivePeers(count int) {
	if m == nil {
		return
	}
	m.activePeers.Set(float64(count))
}

func (m *nodeMetrics) SetOutstandingRequests(count int) {
	if m == nil {
		return
	}
	m.outstandingReqs.Set(float64(count))
}

func (m *nodeMetrics) SetArchiveFileCount(state string, count int) {
	if m == nil {
		return
	}
	m.archiveFiles.WithLabelValues(state).Set(float64(count))
}

func (m *nodeMetrics) SetOpenDiskFiles(count int) {
	if m == nil {
		return
	}
	m.openDiskFiles.Set(float64(count))
}

func (m *nodeMetrics) RecordArchiveEviction() {
	if m == nil {
		return
	}
	m.archiveEvictions.Inc()
}

func (m *nodeMetrics) RecordTrackerRefresh(outcome string) {
	if m == nil {
		return
	}
	m.trackerRefresh.WithLabelValues(outcome).Inc()
}

var _ metrics.NodeMetrics = (*nodeMetrics)(nil)
