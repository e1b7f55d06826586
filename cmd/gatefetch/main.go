// Command gatefetch fetches pages behind age gates. It serves a small HTTP
// proxy and reads novels, chapters and raw pages from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/gatefetch/pkg/config"
	"github.com/Sternrassler/gatefetch/pkg/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	flagConfig   string
	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:           "gatefetch",
	Short:         "Fetch pages behind age gates",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the gatefetch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "gatefetch version:", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "human-readable log output")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file, applies flag overrides and installs the
// global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		level, err := logging.ParseLevel(flagLogLevel)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Level = string(level)
	}
	if flagPretty {
		cfg.Logging.Pretty = true
	}
	logging.Setup(cfg.LoggingConfig())
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
