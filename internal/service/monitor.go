package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PressureSource is the collaborator that decides when the local node
// is overloaded enough to warrant an offload. The storage engine
// typically backs it with its memory and disk accounting.
type PressureSource interface {
	ShouldOffload(ctx context.Context) bool
}

// ThresholdPressure derives the offload signal from memory and storage
// usage readings against the configured thresholds.
type ThresholdPressure struct {
	MemoryThresholdPercent  float64
	StorageThresholdPercent float64

	// Usage reports current memory and storage usage percentages
	Usage func() (memoryPercent, storagePercent float64)
}

func (t *ThresholdPressure) ShouldOffload(ctx context.Context) bool {
	if t.Usage == nil {
		return false
	}
	mem, sto := t.Usage()
	return mem >= t.MemoryThresholdPercent || sto >= t.StorageThresholdPercent
}

// Monitor polls the pressure source at the health check interval and,
// when auto offload is enabled, refreshes the registry and kicks off
// an offload against the best available target.
type Monitor struct {
	manager  *Manager
	pressure PressureSource
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates an auto-offload monitor
func NewMonitor(manager *Manager, pressure PressureSource, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		manager:  manager,
		pressure: pressure,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Offload monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one refresh/trigger cycle
func (m *Monitor) tick(ctx context.Context) {
	// Registry refresh runs on the same cadence and is independent of
	// any in-flight transfer.
	m.manager.RefreshNodes(ctx)

	if !m.manager.Config().AutoOffload {
		return
	}
	if m.manager.IsActive() {
		return
	}
	if m.pressure == nil || !m.pressure.ShouldOffload(ctx) {
		return
	}

	node, err := m.manager.AutoSelectTarget()
	if err != nil {
		m.logger.Warn("Auto offload skipped: no suitable target", zap.Error(err))
		return
	}

	if err := m.manager.Start(ctx); err != nil {
		m.logger.Warn("Auto offload start rejected",
			zap.String("target_node", node.NodeID),
			zap.Error(err))
		return
	}

	m.logger.Info("Auto offload triggered", zap.String("target_node", node.NodeID))
}
