// Package cmd provides the CLI commands for the governed policy
// decision point.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/governed-io/governed/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "governed",
	Short: "governed - multi-tenant policy governance kernel",
	Long: `governed is a multi-tenant policy decision point.

It registers precedence-ranked policy manifests (internal, industry,
legal), evaluates access requests against them, and caches decisions
for low-latency enforcement without requiring changes to the calling
services.

Quick start:
  1. Create a config file: governed.yaml
  2. Run: governed serve

Configuration:
  Config is loaded from governed.yaml in the current directory,
  $HOME/.governed/, or /etc/governed/.

  Environment variables can override config values with the GOVERNED_ prefix.
  Example: GOVERNED_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the governance kernel's HTTP server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./governed.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
