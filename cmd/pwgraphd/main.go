// Command pwgraphd is the daemon entrypoint wiring Context, pwconfig
// loading + hot reload, and pwmetrics HTTP exposition together
// (SPEC_FULL.md §10, §13).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagConfigDir    string
	flagConfigName   string
	flagConfigPrefix string
	flagLogLevel     string
	flagMetricsAddr  string
	flagDryRun       bool
)

var rootCmd = &cobra.Command{
	Use:   "pwgraphd",
	Short: "Real-time node graph engine daemon",
	Long: `pwgraphd hosts a PipeWire-style node graph Context: it loads
context.properties / context.data-loops / context.spa-libs /
context.modules / context.objects / context.exec from a TOML
configuration file, starts the configured data loops, watches the
config file for changes, and exposes scheduler telemetry over
Prometheus.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfigDir, "config-dir", "/etc/pwgraph", "configuration directory (overridden by PIPEWIRE_CONFIG_DIR)")
	rootCmd.Flags().StringVar(&flagConfigName, "config-name", "pwgraph.conf.toml", "configuration file name (overridden by PIPEWIRE_CONFIG_NAME)")
	rootCmd.Flags().StringVar(&flagConfigPrefix, "config-prefix", "", "subdirectory under config-dir (overridden by PIPEWIRE_CONFIG_PREFIX)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "load and validate configuration, then exit without starting")
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
