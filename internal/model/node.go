package model

import "time"

// NodeHealth defines the health state of a candidate target node
type NodeHealth string

const (
	NodeHealthy   NodeHealth = "healthy"
	NodeDegraded  NodeHealth = "degraded"
	NodeUnhealthy NodeHealth = "unhealthy"
	NodeUnknown   NodeHealth = "unknown"
)

// TargetNode describes a peer storage node that can receive offloaded data
type TargetNode struct {
	NodeID    string `yaml:"node_id" json:"node_id"`
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	ClusterID string `yaml:"cluster_id" json:"cluster_id"`
	Region    string `yaml:"region" json:"region"`

	// Resource information
	TotalStorageBytes         uint64  `yaml:"total_storage_bytes" json:"total_storage_bytes"`
	AvailableStorageBytes     uint64  `yaml:"available_storage_bytes" json:"available_storage_bytes"`
	UsedStorageBytes          uint64  `yaml:"used_storage_bytes" json:"used_storage_bytes"`
	CPUUsagePercent           float64 `yaml:"cpu_usage_percent" json:"cpu_usage_percent"`
	MemoryUsagePercent        float64 `yaml:"memory_usage_percent" json:"memory_usage_percent"`
	NetworkUtilizationPercent float64 `yaml:"network_utilization_percent" json:"network_utilization_percent"`

	// Health and availability
	Health                NodeHealth `yaml:"health" json:"health"`
	AcceptingOffloads     bool       `yaml:"accepting_offloads" json:"accepting_offloads"`
	ActiveOffloadCount    int        `yaml:"active_offload_count" json:"active_offload_count"`
	MaxConcurrentOffloads int        `yaml:"max_concurrent_offloads" json:"max_concurrent_offloads"`

	// Timestamps
	LastHealthCheck       time.Time `yaml:"-" json:"last_health_check"`
	LastSuccessfulOffload time.Time `yaml:"-" json:"last_successful_offload"`
}

// StorageUsagePercent returns the used fraction of total storage as a percentage
func (n *TargetNode) StorageUsagePercent() float64 {
	if n.TotalStorageBytes == 0 {
		return 0.0
	}
	return 100.0 * float64(n.UsedStorageBytes) / float64(n.TotalStorageBytes)
}

// CanAcceptOffload reports whether the node passes the basic admission predicate
func (n *TargetNode) CanAcceptOffload() bool {
	return n.AcceptingOffloads &&
		n.Health == NodeHealthy &&
		n.ActiveOffloadCount < n.MaxConcurrentOffloads
}
