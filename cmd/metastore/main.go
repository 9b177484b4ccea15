package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/metastore"
	"github.com/downfa11-org/chronos/pkg/metrics"
	"github.com/downfa11-org/chronos/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		util.Fatal("❌ Failed to load config: %v", err)
	}

	fmt.Printf("🚀 Starting metadata store in %s\n", cfg.DataDir)
	fmt.Printf("📊 Exporter: %v (port %d)\n", cfg.EnableExporter, cfg.ExporterPort)

	s, err := metastore.Open(cfg)
	if err != nil {
		util.Fatal("❌ Failed to open store: %v", err)
	}

	var stopExporter func(context.Context) error
	if cfg.EnableExporter {
		srv := metrics.StartMetricsServer(cfg.ExporterPort)
		stopExporter = srv.Shutdown
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	util.Info("received %s, shutting down", got)

	if stopExporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := stopExporter(ctx); err != nil {
			util.Warn("metrics server shutdown: %v", err)
		}
		cancel()
	}
	if err := s.Close(); err != nil {
		util.Error("close store: %v", err)
		os.Exit(1)
	}
}
