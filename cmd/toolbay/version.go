package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, injected at release time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("toolbay %s (commit %s, built %s)\n", version, commit, date)
	},
}
