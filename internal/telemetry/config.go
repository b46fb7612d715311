package telemetry

// Config selects whether and where the node exports traces. Tracing is
// off by default: piece exchange runs fine without a collector, and the
// exporter dials out over gRPC, which an air-gapped deployment may not
// want at all.
type Config struct {
	// Enabled turns the OTLP exporter on. When false every span helper
	// degrades to a no-op.
	Enabled bool

	// ServiceName and ServiceVersion identify this node in the trace
	// backend.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP-gRPC collector ("host:port").
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces kept, in [0, 1]. 1 keeps
	// everything; values at or below 0 keep nothing.
	SampleRate float64
}

// DefaultConfig returns the disabled-by-default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "sruth",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
