// Package main provides the northwind CLI: it serves the Northwind data service and
// runs the save verification suite against a running instance.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "v0.1.0"

var (
	// configFile is set by the --config flag.
	configFile string
	// logLevel overrides log.level when set.
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "northwind",
	Short: "Northwind data service and entity manager tooling",
	Long: `northwind serves the Northwind sample database as a Breeze-style data
service and drives entity managers against it. Configuration is read from
northwind.yaml (or --config) and NORTHWIND_* environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./northwind.yaml or ./configs/northwind.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(verifyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "northwind", version)
	},
}

// initConfig loads the configuration and builds the logger.
func initConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	loaded, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}

	l, err := config.NewLogger(loaded.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg = loaded
	logger = l
	slog.SetDefault(l)
	return nil
}
