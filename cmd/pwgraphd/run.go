package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/pwconfig"
	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/pwmetrics"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	log, err := buildLogger(flagLogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	path := pwconfig.ResolvePath(flagConfigDir, flagConfigName, flagConfigPrefix)

	cfg, err := pwconfig.Load(path)
	if err != nil {
		return err
	}
	log.Info("pwgraphd: configuration loaded",
		zap.String("path", path),
		zap.Int("data-loops", len(cfg.DataLoops)),
		zap.Int("spa-libs", len(cfg.SpaLibs)))

	if flagDryRun {
		log.Info("pwgraphd: --dry-run validated configuration successfully, exiting")
		return nil
	}

	ctx, err := graph.New(log)
	if err != nil {
		return err
	}

	tu := pwdataloop.NewRTKitThreadUtils(pwdataloop.NewInProcessThreadUtils(), nil, log)
	metrics := pwmetrics.New()
	ctrl := NewControl(log, ctx, tu, metrics)
	if err := ctrl.Apply(cfg); err != nil {
		ctrl.Close()
		return err
	}

	metricsServer := pwmetrics.Serve(flagMetricsAddr, metrics)
	log.Info("pwgraphd: metrics listening", zap.String("addr", flagMetricsAddr))

	watcher, err := pwconfig.NewWatcher(path, log)
	if err != nil {
		log.Warn("pwgraphd: config hot reload disabled", zap.Error(err))
	} else {
		watcher.OnReload(ctrl.OnReload)
		watcher.Start()
		defer watcher.Stop()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("pwgraphd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Close(shutdownCtx); err != nil {
		log.Warn("pwgraphd: metrics server shutdown error", zap.Error(err))
	}
	return ctrl.Close()
}
