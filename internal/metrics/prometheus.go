package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the offload engine
type Metrics struct {
	// Operation metrics
	OperationsStarted   prometheus.Counter
	OperationsCompleted prometheus.Counter
	OperationsFailed    prometheus.Counter
	OperationsCancelled prometheus.Counter
	OperationDuration   prometheus.Histogram

	// Segment metrics
	SegmentsCompleted prometheus.Counter
	SegmentsFailed    prometheus.Counter
	SegmentRetries    prometheus.Counter
	SegmentDuration   prometheus.Histogram
	InFlightTransfers prometheus.Gauge

	// Byte metrics
	BytesTransferred prometheus.Counter

	// Registry metrics
	KnownNodes     prometheus.Gauge
	RefreshesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		OperationsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "operations_started_total",
			Help:        "Total number of offload operations admitted",
			ConstLabels: labels,
		}),
		OperationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "operations_completed_total",
			Help:        "Total number of offload operations completed successfully",
			ConstLabels: labels,
		}),
		OperationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "operations_failed_total",
			Help:        "Total number of offload operations that failed",
			ConstLabels: labels,
		}),
		OperationsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "operations_cancelled_total",
			Help:        "Total number of offload operations cancelled",
			ConstLabels: labels,
		}),
		OperationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "operation_duration_seconds",
			Help:        "Duration of offload operations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		SegmentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "segments_completed_total",
			Help:        "Total number of segments transferred successfully",
			ConstLabels: labels,
		}),
		SegmentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "segments_failed_total",
			Help:        "Total number of segments that exhausted retries",
			ConstLabels: labels,
		}),
		SegmentRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "segment_retries_total",
			Help:        "Total number of segment retry attempts",
			ConstLabels: labels,
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "segment_duration_seconds",
			Help:        "Duration of individual segment transfers",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		InFlightTransfers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "in_flight_transfers",
			Help:        "Number of segment transfers currently in flight",
			ConstLabels: labels,
		}),
		BytesTransferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "bytes_transferred_total",
			Help:        "Total payload bytes transferred to target nodes",
			ConstLabels: labels,
		}),
		KnownNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "known_nodes",
			Help:        "Number of candidate target nodes in the registry",
			ConstLabels: labels,
		}),
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "offload",
			Name:        "registry_refreshes_total",
			Help:        "Registry refresh attempts by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}
}
