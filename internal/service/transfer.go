package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/config"
	"github.com/devrev/pairdb/offload-engine/internal/errors"
	"github.com/devrev/pairdb/offload-engine/internal/metrics"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/source"
	"github.com/devrev/pairdb/offload-engine/internal/transport"
	"github.com/devrev/pairdb/offload-engine/internal/util"
	"github.com/devrev/pairdb/offload-engine/internal/util/workerpool"
	"go.uber.org/zap"
)

// transferObserver receives segment lifecycle callbacks from the
// engine's workers. The manager implements it to fold outcomes into
// shared progress under its lock.
type transferObserver interface {
	segmentStarted(index int)
	segmentRetrying(index, attempt int, err error)
	// segmentFinished reports a terminal segment outcome: err nil for a
	// completed segment, non-nil for one that exhausted its retries.
	segmentFinished(index int, bytes int64, err error)
}

// TransferEngine moves an operation's payload to the target node as an
// ordered set of segments with bounded parallelism. Workers perform
// their network I/O without any shared lock; outcomes flow back
// through the observer.
type TransferEngine struct {
	cfg     config.OffloadConfig
	dialer  transport.Dialer
	payload source.DataSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTransferEngine creates a transfer engine. metrics may be nil.
func NewTransferEngine(
	cfg config.OffloadConfig,
	dialer transport.Dialer,
	payload source.DataSource,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TransferEngine {
	return &TransferEngine{
		cfg:     cfg,
		dialer:  dialer,
		payload: payload,
		metrics: m,
		logger:  logger,
	}
}

// BuildSegments splits totalBytes into fixed-size segments. The final
// segment holds the remainder.
func BuildSegments(totalBytes, segmentSize int64) []model.Segment {
	if totalBytes <= 0 || segmentSize <= 0 {
		return nil
	}

	count := int((totalBytes + segmentSize - 1) / segmentSize)
	segments := make([]model.Segment, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * segmentSize
		length := segmentSize
		if offset+length > totalBytes {
			length = totalBytes - offset
		}
		segments[i] = model.Segment{
			Index:  i,
			Offset: offset,
			Length: length,
			State:  model.SegmentPending,
		}
	}
	return segments
}

// BackoffDelay returns the delay before retry attempt n (n >= 1):
// base * multiplier^(n-1).
func BackoffDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
}

// Run dispatches every pending segment through a bounded worker pool
// and blocks until all dispatched work has drained. The gate holds
// dispatch while the operation is paused; ctx cancellation stops
// dispatch and aborts in-flight segments at their next checkpoint.
func (e *TransferEngine) Run(
	ctx context.Context,
	target model.TargetNode,
	segments []model.Segment,
	obs transferObserver,
	gate *pauseGate,
) {
	pool := workerpool.New("segment-transfer", e.cfg.MaxConcurrentTransfers, e.logger)

	for i := range segments {
		seg := &segments[i]

		// No new segments are dispatched while paused; in-flight ones
		// finish naturally.
		if err := gate.wait(ctx); err != nil {
			break
		}

		taskID := fmt.Sprintf("segment-%d", seg.Index)
		if err := pool.Go(ctx, taskID, func(c context.Context) error {
			return e.transferSegment(c, target, seg, obs)
		}); err != nil {
			break
		}
	}

	pool.Wait()
}

// transferSegment runs the retry loop for a single segment
func (e *TransferEngine) transferSegment(
	ctx context.Context,
	target model.TargetNode,
	seg *model.Segment,
	obs transferObserver,
) error {
	seg.State = model.SegmentInFlight
	obs.segmentStarted(seg.Index)

	if e.metrics != nil {
		e.metrics.InFlightTransfers.Inc()
		defer e.metrics.InFlightTransfers.Dec()
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := BackoffDelay(e.cfg.RetryDelay, e.cfg.RetryBackoffMultiplier, attempt-1)
			obs.segmentRetrying(seg.Index, attempt-1, lastErr)
			if e.metrics != nil {
				e.metrics.SegmentRetries.Inc()
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				seg.State = model.SegmentPending
				return ctx.Err()
			}
		}

		seg.Attempts = attempt
		start := time.Now()
		err := e.attemptSegment(ctx, target, seg)
		if e.metrics != nil {
			e.metrics.SegmentDuration.Observe(time.Since(start).Seconds())
		}

		if err == nil {
			seg.State = model.SegmentCompleted
			obs.segmentFinished(seg.Index, seg.Length, nil)
			return nil
		}

		// Operation cancelled out from under us: abort at the segment
		// boundary without recording an outcome.
		if ctx.Err() != nil {
			seg.State = model.SegmentPending
			return ctx.Err()
		}

		lastErr = err
		e.logger.Warn("Segment transfer attempt failed",
			zap.Int("segment", seg.Index),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	seg.State = model.SegmentFailed
	obs.segmentFinished(seg.Index, 0, errors.SegmentTransferFailed(seg.Index, lastErr))
	return lastErr
}

// attemptSegment performs one transfer attempt: connect, stream the
// segment in buffer-sized chunks and commit with the checksum.
func (e *TransferEngine) attemptSegment(ctx context.Context, target model.TargetNode, seg *model.Segment) error {
	connectCtx, cancelConnect := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	ch, err := e.dialer.Dial(connectCtx, target)
	cancelConnect()
	if err != nil {
		if connectCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return errors.ConnectTimeout(target.NodeID, err)
		}
		return errors.SegmentTransferFailed(seg.Index, err)
	}
	defer ch.Close()

	transferCtx, cancelTransfer := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	defer cancelTransfer()

	reader, err := e.payload.OpenSegment(transferCtx, seg.Offset, seg.Length)
	if err != nil {
		return errors.SegmentTransferFailed(seg.Index, err)
	}
	defer reader.Close()

	buf := make([]byte, e.cfg.TransferBufferSize)
	var acc util.ChecksumAccumulator

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			acc.Write(chunk)

			payload := chunk
			compressed := false
			if e.cfg.CompressTransfers {
				payload = util.CompressChunk(chunk)
				compressed = true
			}

			if sendErr := ch.Send(transferCtx, payload, compressed); sendErr != nil {
				return e.classifyTransferError(transferCtx, ctx, seg.Index, sendErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.SegmentTransferFailed(seg.Index, readErr)
		}
	}

	// Integrity verification happens at commit: the receiver compares
	// the checksum of the payload it reassembled against ours and a
	// mismatch surfaces as a commit error, retryable like any other
	// transfer failure.
	if err := ch.Commit(transferCtx, acc.Sum(), e.cfg.VerifyIntegrity); err != nil {
		return e.classifyTransferError(transferCtx, ctx, seg.Index, err)
	}

	return nil
}

// classifyTransferError distinguishes per-segment timeouts from other
// transfer failures. Parent cancellation is passed through untouched.
func (e *TransferEngine) classifyTransferError(transferCtx, opCtx context.Context, index int, err error) error {
	if opCtx.Err() != nil {
		return err
	}
	if transferCtx.Err() == context.DeadlineExceeded {
		return errors.TransferTimeout(index, err)
	}
	return errors.SegmentTransferFailed(index, err)
}
