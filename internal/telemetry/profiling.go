package telemetry

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig selects whether and where the node ships continuous
// profiles. Like tracing, profiling is opt-in: it costs CPU on the data
// path (piece I/O) and needs a reachable Pyroscope server.
type ProfilingConfig struct {
	// Enabled turns the profiler on.
	Enabled bool

	// ServiceName and ServiceVersion identify this node in Pyroscope.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL.
	Endpoint string

	// ProfileTypes names the profiles to collect; see profileTypes for
	// the accepted names.
	ProfileTypes []string
}

// profileTypes maps config names to pyroscope profile types, plus the
// runtime knob some of them need: mutex and block profiling are off in
// the Go runtime until a sampling rate is set.
var profileTypes = map[string]struct {
	pt     pyroscope.ProfileType
	enable func()
}{
	"cpu":            {pt: pyroscope.ProfileCPU},
	"alloc_objects":  {pt: pyroscope.ProfileAllocObjects},
	"alloc_space":    {pt: pyroscope.ProfileAllocSpace},
	"inuse_objects":  {pt: pyroscope.ProfileInuseObjects},
	"inuse_space":    {pt: pyroscope.ProfileInuseSpace},
	"goroutines":     {pt: pyroscope.ProfileGoroutines},
	"mutex_count":    {pt: pyroscope.ProfileMutexCount, enable: func() { runtime.SetMutexProfileFraction(5) }},
	"mutex_duration": {pt: pyroscope.ProfileMutexDuration, enable: func() { runtime.SetMutexProfileFraction(5) }},
	"block_count":    {pt: pyroscope.ProfileBlockCount, enable: func() { runtime.SetBlockProfileRate(5) }},
	"block_duration": {pt: pyroscope.ProfileBlockDuration, enable: func() { runtime.SetBlockProfileRate(5) }},
}

var profilingActive bool

// InitProfiling starts the Pyroscope profiler per cfg. The returned
// shutdown stops it; when profiling is disabled both the start and the
// shutdown are no-ops.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingActive = false
		return func() error { return nil }, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(cfg.ProfileTypes))
	for _, name := range cfg.ProfileTypes {
		entry, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		if entry.enable != nil {
			entry.enable()
		}
		types = append(types, entry.pt)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("start profiler: %w", err)
	}

	profilingActive = true
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether a profiler is running.
func IsProfilingEnabled() bool {
	return profilingActive
}
