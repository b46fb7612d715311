package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	registry *prometheus.Registry
	initOnce sync.Once
)

// InitRegistry enables metrics collection and creates the process-wide
// Prometheus registry. Call once during node startup when
// config.Metrics.Enabled is true; calling it more than once is a no-op.
func InitRegistry() *prometheus.Registry {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		enabled.Store(true)
	})
	return registry
}

// IsEnabled reports whether InitRegistry has been called. Callers use this
// to decide whether to construct a metrics implementation or pass nil.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the process-wide registry, or nil if metrics were
// never initialized.
func GetRegistry() *prometheus.Registry {
	return registry
}
