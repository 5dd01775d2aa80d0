package service

import (
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/model"
)

// Tracker aggregates segment-level outcomes into the operation's
// progress record. It is unsynchronized; the owning manager guards it
// with its lock.
type Tracker struct {
	p model.OffloadProgress
}

// Begin initializes progress accounting for a new operation
func (t *Tracker) Begin(totalBytes uint64, segmentsTotal int) {
	now := time.Now()
	t.p = model.OffloadProgress{
		TotalBytes:      totalBytes,
		PendingBytes:    totalBytes,
		SegmentsTotal:   segmentsTotal,
		SegmentsPending: segmentsTotal,
		StartTime:       now,
		LastUpdate:      now,
	}
}

// Reset zeroes the progress record
func (t *Tracker) Reset() {
	t.p = model.OffloadProgress{}
}

// SegmentStarted records the segment currently being transferred
func (t *Tracker) SegmentStarted(index int) {
	idx := index
	t.p.CurrentSegment = &idx
	t.touch()
}

// SegmentCompleted records a successful segment outcome
func (t *Tracker) SegmentCompleted(bytes uint64) {
	t.p.TransferredBytes += bytes
	if t.p.PendingBytes >= bytes {
		t.p.PendingBytes -= bytes
	} else {
		t.p.PendingBytes = 0
	}
	t.p.SegmentsCompleted++
	t.p.SegmentsPending = t.p.SegmentsTotal - t.p.SegmentsCompleted - t.p.SegmentsFailed

	prevUpdate := t.p.LastUpdate
	t.touch()

	// Instantaneous rate over the window since the previous outcome,
	// falling back to the running average for zero-length windows.
	window := t.p.LastUpdate.Sub(prevUpdate).Seconds()
	if window > 0 {
		t.p.BytesPerSecond = float64(bytes) / window
	} else {
		t.p.BytesPerSecond = t.p.AverageBytesPerSecond
	}
}

// SegmentFailed records a permanently failed segment outcome
func (t *Tracker) SegmentFailed() {
	t.p.SegmentsFailed++
	t.p.SegmentsPending = t.p.SegmentsTotal - t.p.SegmentsCompleted - t.p.SegmentsFailed
	t.touch()
}

// SetError records the operation-level error message
func (t *Tracker) SetError(msg string) {
	t.p.ErrorMessage = &msg
	t.touch()
}

// touch advances timestamps, elapsed time and the average rate
func (t *Tracker) touch() {
	now := time.Now()
	t.p.LastUpdate = now
	if !t.p.StartTime.IsZero() {
		t.p.Elapsed = now.Sub(t.p.StartTime)
		if secs := t.p.Elapsed.Seconds(); secs > 0 {
			t.p.AverageBytesPerSecond = float64(t.p.TransferredBytes) / secs
		}
	}
}

// Snapshot returns a copy of the current progress record. Optional
// fields are deep-copied so callers never alias tracker memory.
func (t *Tracker) Snapshot() model.OffloadProgress {
	snap := t.p
	if t.p.ErrorMessage != nil {
		msg := *t.p.ErrorMessage
		snap.ErrorMessage = &msg
	}
	if t.p.CurrentSegment != nil {
		idx := *t.p.CurrentSegment
		snap.CurrentSegment = &idx
	}
	return snap
}
