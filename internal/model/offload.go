package model

import "time"

// OffloadStatus represents the lifecycle state of an offload operation
type OffloadStatus string

const (
	StatusIdle         OffloadStatus = "idle"
	StatusPreparing    OffloadStatus = "preparing"
	StatusTransferring OffloadStatus = "transferring"
	StatusPaused       OffloadStatus = "paused"
	StatusCompleting   OffloadStatus = "completing"
	StatusCompleted    OffloadStatus = "completed"
	StatusFailed       OffloadStatus = "failed"
	StatusCancelled    OffloadStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state
func (s OffloadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether an operation is currently in progress
func (s OffloadStatus) IsActive() bool {
	return s == StatusPreparing || s == StatusTransferring ||
		s == StatusCompleting || s == StatusPaused
}

// SegmentState tracks the outcome of an individual segment transfer
type SegmentState string

const (
	SegmentPending   SegmentState = "pending"
	SegmentInFlight  SegmentState = "in_flight"
	SegmentCompleted SegmentState = "completed"
	SegmentFailed    SegmentState = "failed"
)

// Segment is a fixed-size slice of the offload payload, the unit of
// transfer and retry. The last segment holds the remainder.
type Segment struct {
	Index    int
	Offset   int64
	Length   int64
	Attempts int
	State    SegmentState
}

// OffloadProgress aggregates segment-level outcomes into byte and
// segment counters plus throughput and ETA signals.
type OffloadProgress struct {
	// Byte progress
	TotalBytes       uint64 `json:"total_bytes"`
	TransferredBytes uint64 `json:"transferred_bytes"`
	PendingBytes     uint64 `json:"pending_bytes"`

	// Segment progress
	SegmentsTotal     int `json:"segments_total"`
	SegmentsCompleted int `json:"segments_completed"`
	SegmentsFailed    int `json:"segments_failed"`
	SegmentsPending   int `json:"segments_pending"`

	// Timing
	StartTime  time.Time     `json:"start_time"`
	LastUpdate time.Time     `json:"last_update"`
	Elapsed    time.Duration `json:"elapsed"`

	// Transfer rate
	BytesPerSecond        float64 `json:"bytes_per_second"`
	AverageBytesPerSecond float64 `json:"average_bytes_per_second"`

	// Optional fields, nil when absent
	ErrorMessage   *string `json:"error_message,omitempty"`
	CurrentSegment *int    `json:"current_segment,omitempty"`
}

// ProgressPercent returns the completed fraction as a percentage
func (p *OffloadProgress) ProgressPercent() float64 {
	if p.TotalBytes == 0 {
		return 0.0
	}
	return 100.0 * float64(p.TransferredBytes) / float64(p.TotalBytes)
}

// EstimatedTimeRemaining derives the ETA from pending bytes and the
// observed average throughput. Zero when the rate is non-positive or
// nothing is pending.
func (p *OffloadProgress) EstimatedTimeRemaining() time.Duration {
	if p.AverageBytesPerSecond <= 0 || p.PendingBytes == 0 {
		return 0
	}
	return time.Duration(float64(p.PendingBytes) / p.AverageBytesPerSecond * float64(time.Second))
}

// CompletedSuccessfully reports whether every segment completed and no
// error was recorded.
func (p *OffloadProgress) CompletedSuccessfully() bool {
	return p.SegmentsTotal > 0 &&
		p.SegmentsCompleted == p.SegmentsTotal &&
		p.ErrorMessage == nil
}

// OffloadResult is the terminal snapshot of a finished operation,
// created exactly once when a terminal state is reached.
type OffloadResult struct {
	OperationID   string          `json:"operation_id"`
	Success       bool            `json:"success"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	FinalProgress OffloadProgress `json:"final_progress"`
	TargetNode    TargetNode      `json:"target_node"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// Duration returns the total elapsed time of the operation
func (r *OffloadResult) Duration() time.Duration {
	return r.FinalProgress.Elapsed
}
