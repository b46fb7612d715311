package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/sruth/internal/cli/prompt"
	"github.com/marmos91/sruth/pkg/config"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/subscription"
	"github.com/marmos91/sruth/pkg/tracker"
)

var (
	initForce           bool
	initSubscriptionOut string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create a configuration (and optional subscription) file",
	Long: `Interactively scaffold a sruth configuration file, and optionally a
subscription.xml for a subscriber node.

By default the configuration is written to $XDG_CONFIG_HOME/sruth/config.yaml.
Use --config to pick a custom path, and --subscription to also write a
subscription file.

Examples:
  # Initialize with default location
  sruth init

  # Initialize a custom config path and a subscription file
  sruth init --config /etc/sruth/config.yaml --subscription sub.xml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().StringVar(&initSubscriptionOut, "subscription", "", "Also write a subscription XML file at this path")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()

	rootDir, err := prompt.Input("Archive root directory", cfg.Archive.RootDir)
	if err != nil {
		return initErr(err)
	}
	cfg.Archive.RootDir = rootDir

	startPort, err := prompt.InputInt("First server port", cfg.Network.StartPort)
	if err != nil {
		return initErr(err)
	}
	cfg.Network.StartPort = startPort

	advertise, err := prompt.Input("Advertise host (address peers and trackers reach you at)", cfg.Network.AdvertiseHost)
	if err != nil {
		return initErr(err)
	}
	cfg.Network.AdvertiseHost = advertise

	cacheSize, err := prompt.InputInt("Active file cache size", cfg.Archive.ActiveFileCacheSize)
	if err != nil {
		return initErr(err)
	}
	cfg.Archive.ActiveFileCacheSize = cacheSize

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return err
	}
	fmt.Printf("Configuration file created at: %s\n", configPath)

	if initSubscriptionOut != "" {
		if err := scaffoldSubscription(initSubscriptionOut); err != nil {
			return err
		}
		fmt.Printf("Subscription file created at: %s\n", initSubscriptionOut)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Publish with:   sruth publish <rootDir>")
	fmt.Println("  3. Subscribe with: sruth subscribe <rootDir> <subscription.xml>")
	return nil
}

func scaffoldSubscription(path string) error {
	trackerAddr, err := prompt.Input("Tracker address (host:port)", "127.0.0.1:38800")
	if err != nil {
		return initErr(err)
	}
	addr, err := tracker.ParseServerAddr(trackerAddr)
	if err != nil {
		return err
	}

	kind, err := prompt.Select("Predicate", []string{"everything", "prefix", "pattern"})
	if err != nil {
		return initErr(err)
	}

	var f filter.Filter
	switch kind {
	case "everything":
		f = filter.Everything()
	case "prefix":
		prefix, perr := prompt.Input("Path prefix", "")
		if perr != nil {
			return initErr(perr)
		}
		f = filter.NewPrefix(prefix)
	case "pattern":
		pattern, perr := prompt.Input("Regular expression", "")
		if perr != nil {
			return initErr(perr)
		}
		f, err = filter.NewRegex(pattern)
		if err != nil {
			return err
		}
	}

	sub := &subscription.Subscription{
		Trackers: []subscription.TrackerRef{{Host: addr.Host, Port: addr.FirstPort}},
		Filters:  []filter.Filter{f},
	}
	return subscription.Write(path, sub)
}

func initErr(err error) error {
	if errors.Is(err, prompt.ErrAborted) {
		return errors.New("init aborted")
	}
	return err
}
