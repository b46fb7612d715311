package config

import "time"

// DefaultActiveFileCacheSize bounds simultaneously open DiskFiles.
const DefaultActiveFileCacheSize = 512

// DefaultPieceSize is the fixed transfer-unit size in bytes.
const DefaultPieceSize = 131072

// GetDefaultConfig returns a Config populated entirely with defaults. Used
// when no config file is found and the caller has not opted into
// `sruth init`.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults. Safe
// to call on a partially-populated Config decoded from file or env.
func ApplyDefaults(cfg *Config) {
	if cfg.Archive.RootDir == "" {
		cfg.Archive.RootDir = "./sruth-archive"
	}
	if cfg.Archive.ActiveFileCacheSize == 0 {
		cfg.Archive.ActiveFileCacheSize = DefaultActiveFileCacheSize
	}
	if cfg.Archive.PieceSize == 0 {
		cfg.Archive.PieceSize = DefaultPieceSize
	}

	if cfg.Network.StartPort == 0 {
		cfg.Network.StartPort = 7331
	}
	if cfg.Network.AdvertiseHost == "" {
		cfg.Network.AdvertiseHost = "127.0.0.1"
	}
	if cfg.Network.SoTimeout == 0 {
		cfg.Network.SoTimeout = 30 * time.Second
	}
	if cfg.Network.MaxOutboundPeers == 0 {
		cfg.Network.MaxOutboundPeers = 16
	}

	for i := range cfg.Trackers {
		if cfg.Trackers[i].RefreshInterval == 0 {
			cfg.Trackers[i].RefreshInterval = 5 * time.Minute
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
	if cfg.Telemetry.Profiling.Endpoint == "" {
		cfg.Telemetry.Profiling.Endpoint = "http://localhost:4040"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.AdminAPI.Port == 0 {
		cfg.AdminAPI.Port = 9091
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}
