// Package config loads and validates the SRUTH node configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/sruth/internal/bytesize"
)

// Config is the top-level SRUTH node configuration.
//
// Configuration sources, in order of precedence (highest to lowest):
//  1. Environment variables (SRUTH_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Archive configures the disk-backed content store.
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Network configures the Connection/Server socket range.
	Network NetworkConfig `mapstructure:"network" yaml:"network"`

	// Predicate is the local node's declarative interest. A SourceNode
	// ignores this and always advertises NOTHING.
	Predicate PredicateConfig `mapstructure:"predicate" yaml:"predicate"`

	// Trackers is the list of tracker addresses a SinkNode's
	// ClientManagers query for topology.
	Trackers []TrackerConfig `mapstructure:"trackers" yaml:"trackers"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// AdminAPI contains the operational HTTP surface configuration.
	AdminAPI AdminAPIConfig `mapstructure:"admin_api" yaml:"admin_api"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// of the node's subtasks (Server, Watcher, ClientManagers).
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ArchiveConfig configures the disk-backed archive.
type ArchiveConfig struct {
	// RootDir is the archive's root directory. User-visible files live
	// directly under it; `.sruth/` beneath it holds hidden state.
	RootDir string `mapstructure:"root_dir" validate:"required" yaml:"root_dir"`

	// ActiveFileCacheSize bounds the number of simultaneously open
	// DiskFile channels. Must be a positive integer. Default: 512.
	ActiveFileCacheSize int `mapstructure:"active_file_cache_size" validate:"required,gt=0" yaml:"active_file_cache_size"`

	// PieceSize is the fixed byte size of a transfer unit. Default:
	// 131072 (128 KiB).
	PieceSize bytesize.ByteSize `mapstructure:"piece_size" validate:"required,gt=0" yaml:"piece_size"`
}

// NetworkConfig configures the three-socket Connection range.
type NetworkConfig struct {
	// StartPort is the first of SOCKET_COUNT consecutive ports the
	// Server binds for REQUEST/NOTICE/DATA, and the first port a
	// client dials in ascending order.
	StartPort int `mapstructure:"start_port" validate:"required,gt=0,lte=65535" yaml:"start_port"`

	// AdvertiseHost is the address reported to the tracker as this
	// node's local server address.
	AdvertiseHost string `mapstructure:"advertise_host" validate:"required" yaml:"advertise_host"`

	// SoTimeout is the soft read timeout shared by all three sockets of
	// a Connection, used for keepalive detection.
	SoTimeout time.Duration `mapstructure:"so_timeout" validate:"required,gt=0" yaml:"so_timeout"`

	// MaxOutboundPeers bounds how many concurrent outbound Peers a
	// ClientManager maintains.
	MaxOutboundPeers int `mapstructure:"max_outbound_peers" validate:"required,gt=0" yaml:"max_outbound_peers"`
}

// PredicateConfig declares a sink's interest as a list of filter
// expressions, reduced by intersection into a single Predicate.
type PredicateConfig struct {
	// Everything, when true, matches every ArchivePath. Mutually
	// exclusive with Prefixes/Patterns.
	Everything bool `mapstructure:"everything" yaml:"everything,omitempty"`

	// Prefixes are ArchivePath prefixes to match.
	Prefixes []string `mapstructure:"prefixes" yaml:"prefixes,omitempty"`

	// Patterns are regular expressions matched against the full
	// ArchivePath.
	Patterns []string `mapstructure:"patterns" yaml:"patterns,omitempty"`
}

// TrackerConfig identifies one tracker a ClientManager talks to.
type TrackerConfig struct {
	// Addr is the tracker's TCP address ("host:port").
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`

	// RefreshInterval controls how often ClientManager re-queries this
	// tracker for a fresh FilterServerMap.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"required,gt=0" yaml:"refresh_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a
	// file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false (opt-in).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AdminAPIConfig configures the health/stats HTTP surface.
type AdminAPIConfig struct {
	// Enabled controls whether the admin HTTP API is served.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /health and /stats.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error with
// instructions to run `sruth init` if no config file exists.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  sruth init\n\n"+
				"Or specify a custom config file:\n"+
				"  sruth <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  sruth init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SRUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sruth")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sruth")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
