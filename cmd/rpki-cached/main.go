// Command rpki-cached drives the local artifact cache from the command
// line: preparing a repository root, running individual downloads against
// it, sweeping it clean, and loading an exception overlay document.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/go-rpki/cache/pkg/cache"
	"github.com/go-rpki/cache/pkg/cachetree"
	"github.com/go-rpki/cache/pkg/configuration"
	"github.com/go-rpki/cache/pkg/fetch"
	"github.com/go-rpki/cache/pkg/logging"
)

// rootConfiguration holds the flags common to every subcommand.
var rootConfiguration struct {
	configPath string
	logLevel   string
}

var rootCommand = &cobra.Command{
	Use:   "rpki-cached",
	Short: "Operates the local RPKI relying-party artifact cache",
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&rootConfiguration.configPath, "config", "", "path to the cache configuration file")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "info", "log level: disabled, error, warn, info, or debug")

	rootCommand.AddCommand(
		prepareCommand,
		downloadCommand,
		cleanupCommand,
		overlayCommand,
	)
}

// loadConfiguration reads the configuration file named by --config and
// constructs the logger named by --log-level.
func loadConfiguration() (*configuration.Configuration, *logging.Logger, error) {
	level, ok := logging.NameToLevel(rootConfiguration.logLevel)
	if !ok {
		return nil, nil, fmt.Errorf("unknown log level %q", rootConfiguration.logLevel)
	}
	logger := logging.NewLogger(level, os.Stderr)

	if rootConfiguration.configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	config, err := configuration.Load(rootConfiguration.configPath)
	if err != nil {
		return nil, nil, err
	}
	return config, logger, nil
}

// newCache constructs a Cache wired to the default rsync/HTTPS fetchers and
// prepares it.
func newCache(config *configuration.Configuration, logger *logging.Logger) (*cache.Cache, error) {
	rsyncFetcher := &fetch.RsyncFetcher{DestinationRoot: filepath.Join(config.LocalRepositoryRoot, cachetree.RsyncLabel), Logger: logger}
	httpsFetcher := &fetch.HTTPSFetcher{DestinationRoot: filepath.Join(config.LocalRepositoryRoot, cachetree.HTTPSLabel), Logger: logger}

	c := cache.New(config.LocalRepositoryRoot, rsyncFetcher.Fetch, httpsFetcher.Fetch, logger)
	if config.LockMetadata {
		c = c.WithLockMetadata()
	}
	if err := c.Prepare(); err != nil {
		return nil, fmt.Errorf("unable to prepare cache: %w", err)
	}
	return c, nil
}

var prepareCommand = &cobra.Command{
	Use:   "prepare",
	Short: "Creates the repository root and loads existing metadata, if any",
	RunE: func(command *cobra.Command, arguments []string) error {
		config, logger, err := loadConfiguration()
		if err != nil {
			return err
		}
		c, err := newCache(config, logger.Sublogger("prepare"))
		if err != nil {
			return err
		}
		c.Teardown()
		fmt.Println("cache prepared at", config.LocalRepositoryRoot)
		return nil
	},
}

var downloadCommand = &cobra.Command{
	Use:   "download <uri>",
	Short: "Downloads a single URI into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, arguments []string) error {
		config, logger, err := loadConfiguration()
		if err != nil {
			return err
		}
		c, err := newCache(config, logger.Sublogger("download"))
		if err != nil {
			return err
		}
		defer c.Teardown()

		var changed bool
		code := c.Download(arguments[0], &changed)
		if code != 0 {
			fmt.Fprintln(color.Error, color.RedString("fetch failed with code"), code)
			os.Exit(1)
		}
		fmt.Println("fetched", arguments[0], "changed:", changed)
		return nil
	},
}

var cleanupCommand = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweeps the cache tree against disk and persists metadata",
	RunE: func(command *cobra.Command, arguments []string) error {
		config, logger, err := loadConfiguration()
		if err != nil {
			return err
		}
		c, err := newCache(config, logger.Sublogger("cleanup"))
		if err != nil {
			return err
		}
		defer c.Teardown()

		if err := c.Cleanup(); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Println("cleanup complete")
		return nil
	},
}

var overlayCommand = &cobra.Command{
	Use:   "overlay",
	Short: "Loads and reports on the configured exception overlay document",
	RunE: func(command *cobra.Command, arguments []string) error {
		config, logger, err := loadConfiguration()
		if err != nil {
			return err
		}
		c, err := newCache(config, logger.Sublogger("overlay"))
		if err != nil {
			return err
		}
		defer c.Teardown()

		result, err := c.LoadOverlay(config.OverlayLocation)
		if err != nil {
			return fmt.Errorf("overlay load failed: %w", err)
		}
		if result == nil {
			fmt.Println("no overlay configured")
			return nil
		}
		fmt.Printf("overlay loaded: %d prefix filters, %d prefix assertions, %d bgpsec filters, %d bgpsec assertions\n",
			len(result.PrefixFilters), len(result.PrefixAssertions), len(result.BGPsecFilters), len(result.BGPsecAssertions))
		return nil
	},
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}
