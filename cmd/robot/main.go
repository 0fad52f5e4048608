// Command robot runs the talking robot presentation core.
//
// Usage:
//
//	robot [flags] serve     - load assets and serve the browser bridge
//	robot [flags] assets    - load every asset once and print a summary
//
// Configuration lives in ~/.robot/config.yaml and is created on first run.
// Environment variables prefixed with ROBOT_ override it.
package main

import (
	"fmt"
	"os"

	"github.com/elfolz/robot/internal/config"
	"github.com/elfolz/robot/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "robot",
	Short:         "Talking robot presentation core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ~/.robot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(serveCmd, assetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and opens the logger shared by commands.
func setup() (*config.Loader, *config.Config, *logging.Logger, error) {
	loader, err := config.NewLoader(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	syslog, err := logging.New(&logging.Config{
		LogDir:  cfg.Log.Dir,
		Level:   logging.LogLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	loadEnvFile(syslog)
	return loader, cfg, syslog, nil
}
