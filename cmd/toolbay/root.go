package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolbay/toolbay/internal/adapters/logging"
	"github.com/toolbay/toolbay/internal/domain/config"
	"github.com/toolbay/toolbay/internal/ports"
)

var (
	// Global flags
	cfgFile  string
	verbose  bool
	jsonLogs bool
	yesFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "toolbay",
	Short: "Plugin manager for the ToolBay workbench",
	Long: `ToolBay extends the device-repair workbench with installable plugins.

The plugin manager resolves a plugin's full dependency closure, surfaces
cycles and version conflicts before anything touches the workbench, and
installs the resolved set in dependency order with progress reporting.`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.toolbay/toolbay.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "auto-confirm all prompts")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file named by --config, or the default one.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// buildLogger constructs the logger configured by the global flags.
func buildLogger() ports.Logger {
	opts := []logging.ConsoleLoggerOption{}
	if verbose {
		opts = append(opts, logging.WithLevel(ports.LevelDebug))
	}
	if jsonLogs {
		opts = append(opts, logging.WithJSONFormat(true))
	}
	return logging.NewConsoleLogger(opts...)
}

// printError prints an error message to stderr.
func printError(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
}
