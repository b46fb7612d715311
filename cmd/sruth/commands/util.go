package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/internal/telemetry"
	"github.com/marmos91/sruth/pkg/config"
	"github.com/marmos91/sruth/pkg/metrics"
	prommetrics "github.com/marmos91/sruth/pkg/metrics/prometheus"
	"github.com/marmos91/sruth/pkg/node"
)

// loadConfig loads configuration honoring --config, falling back to
// pure defaults when no file exists anywhere (publish/subscribe are
// expected to work out of the box against a root directory argument).
func loadConfig() (*config.Config, error) {
	path := GetConfigFile()
	if path == "" && !config.DefaultConfigExists() {
		return config.GetDefaultConfig(), nil
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	return config.Load(path)
}

// setupRuntime initializes logging, telemetry, profiling, and metrics
// from cfg. The returned teardown runs the telemetry shutdown hooks.
func setupRuntime(ctx context.Context, cfg *config.Config) (nodeMetrics metrics.NodeMetrics, teardown func(), err error) {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "sruth",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "sruth",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		nodeMetrics = prommetrics.NewNodeMetrics()
	}

	teardown = func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}
	return nodeMetrics, teardown, nil
}

// runNode runs n until it ends or an interrupt arrives. Signal-triggered
// shutdown is a clean exit; a node failure is not.
func runNode(ctx context.Context, n *node.Node) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		<-done
		return nil
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
