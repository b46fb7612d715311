package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/sruth/pkg/node"
)

var publishCmd = &cobra.Command{
	Use:   "publish <rootDir>",
	Short: "Run a publisher (source) node",
	Long: `Run a source node rooted at the given archive directory.

The node serves every file under rootDir to interested subscribers and
watches the directory, offering newly dropped files as they appear. Its
server's first port is printed to stdout so scripts can hand it to
subscribers or trackers.

Examples:
  # Publish the contents of ./data
  sruth publish ./data

  # Publish with a custom config file
  sruth publish ./data --config /etc/sruth/config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Archive.RootDir = args[0]

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	nodeMetrics, teardown, err := setupRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer teardown()

	n, err := node.NewSource(cfg, nodeMetrics)
	if err != nil {
		return err
	}

	// Contract with wrapper scripts: the first (REQUEST) port, alone,
	// on stdout.
	fmt.Println(n.FirstPort())

	return runNode(ctx, n)
}
