package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/sruth/internal/cli/output"
	"github.com/marmos91/sruth/pkg/adminapi"
)

var (
	statusPort   int
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running node's status",
	Long: `Query a running node's admin API and display its status: node kind,
uptime, active peers, outstanding requests, and configured trackers.

The node must have been started with the admin API enabled.

Examples:
  # Check status on the default admin port
  sruth status

  # Check status on a custom admin port, as JSON
  sruth status --admin-port 9191 --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "admin-port", 9091, "Admin API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/stats", statusPort))
	if err != nil {
		return fmt.Errorf("node unreachable on admin port %d: %w", statusPort, err)
	}
	defer resp.Body.Close()

	var stats adminapi.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("bad /stats response: %w", err)
	}

	switch statusOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "table":
		output.PrintKeyValues(os.Stdout, [][2]string{
			{"Kind", stats.NodeKind},
			{"Uptime", time.Since(stats.StartedAt).Round(time.Second).String()},
			{"Server port", fmt.Sprintf("%d", stats.ServerFirstPort)},
			{"Active peers", fmt.Sprintf("%d", stats.ActivePeers)},
			{"Outstanding requests", fmt.Sprintf("%d", stats.OutstandingRequests)},
			{"Trackers", strings.Join(stats.Trackers, ", ")},
		})
		return nil
	default:
		return fmt.Errorf("unknown output format %q", statusOutput)
	}
}
