package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/sruth/pkg/config"
	"github.com/marmos91/sruth/pkg/node"
	"github.com/marmos91/sruth/pkg/subscription"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <rootDir> <subscription.xml>",
	Short: "Run a subscriber (sink) node",
	Long: `Run a sink node rooted at the given archive directory, pulling files
matching the subscription's predicate from publishers discovered through
the subscription's tracker(s).

Examples:
  # Subscribe into ./mirror using sub.xml
  sruth subscribe ./mirror sub.xml`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Archive.RootDir = args[0]

	sub, err := subscription.Load(args[1])
	if err != nil {
		return err
	}

	trackers := make([]config.TrackerConfig, len(sub.Trackers))
	for i, t := range sub.Trackers {
		trackers[i] = config.TrackerConfig{Addr: t.Addr()}
	}
	cfg.Trackers = append(trackers, cfg.Trackers...)
	config.ApplyDefaults(cfg) // fill RefreshInterval on the merged tracker list

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	nodeMetrics, teardown, err := setupRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer teardown()

	n, err := node.NewSink(cfg, sub.Predicate(), cfg.Trackers, nodeMetrics)
	if err != nil {
		return err
	}

	return runNode(ctx, n)
}
