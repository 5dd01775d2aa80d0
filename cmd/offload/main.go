package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/devrev/pairdb/offload-engine/internal/cluster"
	"github.com/devrev/pairdb/offload-engine/internal/config"
	"github.com/devrev/pairdb/offload-engine/internal/metrics"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/registry"
	"github.com/devrev/pairdb/offload-engine/internal/server"
	"github.com/devrev/pairdb/offload-engine/internal/service"
	"github.com/devrev/pairdb/offload-engine/internal/source"
	"github.com/devrev/pairdb/offload-engine/internal/transport"
	"github.com/devrev/pairdb/offload-engine/internal/util"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	// Create data directory
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	// Metrics
	m := metrics.NewMetrics(cfg.Server.NodeID)

	// Node registry with gossip-backed health source
	reg := registry.NewRegistry(cfg.Server.Region, nil, logger)

	var gossip *cluster.GossipHealthSource
	if cfg.Gossip.Enabled {
		gossip, err = cluster.NewGossipHealthSource(
			&cluster.GossipConfig{
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			selfNode(cfg),
			reg,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize gossip layer", zap.Error(err))
		}
		defer gossip.Shutdown()
		reg.SetHealthSource(gossip)
		logger.Info("Gossip layer initialized", zap.Int("bind_port", cfg.Gossip.BindPort))
	}

	// Target-side receiver: accept segments from peers offloading to us
	spillDir := filepath.Join(cfg.Storage.DataDir, "offload")
	if err := os.MkdirAll(spillDir, 0755); err != nil {
		logger.Fatal("Failed to create offload directory", zap.Error(err))
	}

	receiver, err := transport.NewReceiver(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		newSpillWriter(spillDir, logger),
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start transfer receiver", zap.Error(err))
	}
	defer receiver.Close()

	// Source-side payload and offload manager
	payload, err := source.NewFileSource(filepath.Join(cfg.Storage.DataDir, "offload.spill"))
	if err != nil {
		logger.Warn("No offload payload present, manual offloads disabled until one exists",
			zap.Error(err))
	}

	var payloadSource source.DataSource
	if payload != nil {
		payloadSource = payload
		defer payload.Close()
	} else {
		payloadSource = source.NewMemorySource(nil)
	}

	manager := service.NewManager(
		cfg.Offload,
		reg,
		payloadSource,
		transport.NewTCPDialer(logger),
		m,
		logger,
	)

	// Auto-offload monitor driven by local resource pressure
	pressure := &service.ThresholdPressure{
		MemoryThresholdPercent:  cfg.Offload.MemoryThresholdPercent,
		StorageThresholdPercent: cfg.Offload.StorageThresholdPercent,
		Usage: func() (float64, float64) {
			disk, err := util.DiskUsagePercent(cfg.Storage.DataDir)
			if err != nil {
				logger.Error("Failed to read disk usage", zap.Error(err))
				disk = 0
			}
			return util.HeapUsagePercent(), disk
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := service.NewMonitor(manager, pressure, cfg.Offload.HealthCheckInterval, logger)
	go monitor.Run(ctx)

	// Admin server: metrics, health, offload control API
	adminServer := server.NewAdminServer(
		&server.AdminServerConfig{Port: cfg.Metrics.Port},
		manager,
		logger,
	)
	if err := adminServer.Start(); err != nil {
		logger.Fatal("Failed to start admin server", zap.Error(err))
	}

	logger.Info("Offload engine started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("transfer_port", cfg.Server.Port),
		zap.Int("admin_port", cfg.Metrics.Port))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if manager.IsActive() {
		if err := manager.Cancel(); err != nil {
			logger.Error("Failed to cancel in-flight offload during shutdown", zap.Error(err))
		}
	}
	cancel()

	if err := adminServer.Stop(); err != nil {
		logger.Error("Failed to stop admin server", zap.Error(err))
	}
}

// selfNode builds this node's gossip-advertised description
func selfNode(cfg *config.Config) model.TargetNode {
	used, available, err := util.DiskStats(cfg.Storage.DataDir)
	if err != nil {
		used, available = 0, 0
	}

	return model.TargetNode{
		NodeID:                cfg.Server.NodeID,
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		ClusterID:             cfg.Server.ClusterID,
		Region:                cfg.Server.Region,
		TotalStorageBytes:     uint64(used + available),
		AvailableStorageBytes: uint64(available),
		UsedStorageBytes:      uint64(used),
		Health:                model.NodeHealthy,
		AcceptingOffloads:     true,
		MaxConcurrentOffloads: cfg.Offload.MaxConcurrentTransfers,
	}
}

// newSpillWriter persists received segments under dir, one file per
// segment, for the storage engine to ingest.
func newSpillWriter(dir string, logger *zap.Logger) transport.SegmentHandler {
	var seq atomic.Int64
	return func(payload []byte) {
		path := filepath.Join(dir, fmt.Sprintf("segment-%06d.dat", seq.Add(1)))
		if err := os.WriteFile(path, payload, 0644); err != nil {
			logger.Error("Failed to persist received segment",
				zap.String("path", path),
				zap.Error(err))
			return
		}
		logger.Debug("Received segment persisted",
			zap.String("path", path),
			zap.Int("bytes", len(payload)))
	}
}

// initLogger initializes the zap logger
func initLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return config.Build()
}
