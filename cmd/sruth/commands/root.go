// Package commands implements the sruth CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sruth",
	Short: "SRUTH - peer-to-peer file distribution",
	Long: `SRUTH is a peer-to-peer file-distribution network. Publisher nodes
inject files into a shared content archive; subscriber nodes pull copies
of files matching a declarative filter, discovering each other through a
lightweight tracker and exchanging fixed-size pieces over long-lived
multi-channel TCP connections.

Use "sruth [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sruth/config.yaml)")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
