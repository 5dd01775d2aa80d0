package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/config"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/source"
	"github.com/devrev/pairdb/offload-engine/internal/transport"
	"github.com/devrev/pairdb/offload-engine/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDialer is an in-memory transport for engine and manager tests.
// Dials are numbered; the first failDials of them refuse to connect
// and the next failSends return channels whose Send fails. When gate
// is non-nil every Send consumes one permit from it, which lets tests
// hold segments in flight.
type fakeDialer struct {
	failDials int
	failSends int
	gate      chan struct{}

	mu       sync.Mutex
	dials    int
	segments int
	bytes    int64
}

func (d *fakeDialer) Dial(ctx context.Context, node model.TargetNode) (transport.Channel, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if n <= d.failDials {
		return nil, fmt.Errorf("connection refused")
	}
	return &fakeChannel{dialer: d, failSend: n <= d.failDials+d.failSends}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) committed() (segments int, bytes int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.segments, d.bytes
}

type fakeChannel struct {
	dialer   *fakeDialer
	failSend bool
	buf      bytes.Buffer
}

func (c *fakeChannel) Send(ctx context.Context, chunk []byte, compressed bool) error {
	if c.dialer.gate != nil {
		select {
		case <-c.dialer.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.failSend {
		return fmt.Errorf("connection reset by peer")
	}

	payload := chunk
	if compressed {
		decoded, err := util.DecompressChunk(chunk)
		if err != nil {
			return err
		}
		payload = decoded
	}
	c.buf.Write(payload)
	return nil
}

func (c *fakeChannel) Commit(ctx context.Context, checksum uint32, verify bool) error {
	if verify && !util.ValidateChecksum(c.buf.Bytes(), checksum) {
		return fmt.Errorf("checksum mismatch")
	}

	c.dialer.mu.Lock()
	c.dialer.segments++
	c.dialer.bytes += int64(c.buf.Len())
	c.dialer.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error { return nil }

// recordingObserver collects segment callbacks for assertions
type recordingObserver struct {
	mu       sync.Mutex
	started  []int
	retries  []int
	finished map[int]error
	bytes    int64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(map[int]error)}
}

func (o *recordingObserver) segmentStarted(index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, index)
}

func (o *recordingObserver) segmentRetrying(index, attempt int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, index)
}

func (o *recordingObserver) segmentFinished(index int, bytes int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[index] = err
	o.bytes += bytes
}

func fastTransferConfig() config.OffloadConfig {
	cfg := config.DefaultOffloadConfig()
	cfg.SegmentSize = 1024
	cfg.TransferBufferSize = 1024
	cfg.MaxConcurrentTransfers = 2
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.TransferTimeout = time.Second
	cfg.MinByteDifference = 1
	return cfg
}

func TestBuildSegments(t *testing.T) {
	tests := []struct {
		name        string
		totalBytes  int64
		segmentSize int64
		wantCount   int
		wantLast    int64
	}{
		{"exact multiple", 4096, 1024, 4, 1024},
		{"with remainder", 4500, 1024, 5, 404},
		{"single partial segment", 100, 1024, 1, 100},
		{"single exact segment", 1024, 1024, 1, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := BuildSegments(tt.totalBytes, tt.segmentSize)
			require.Len(t, segments, tt.wantCount)

			var sum int64
			for i, seg := range segments {
				assert.Equal(t, i, seg.Index)
				assert.Equal(t, int64(i)*tt.segmentSize, seg.Offset)
				assert.Equal(t, model.SegmentPending, seg.State)
				sum += seg.Length
			}
			assert.Equal(t, tt.wantLast, segments[len(segments)-1].Length)
			assert.Equal(t, tt.totalBytes, sum, "segment lengths must cover the payload exactly")
		})
	}

	assert.Nil(t, BuildSegments(0, 1024))
	assert.Nil(t, BuildSegments(1024, 0))
}

func TestBackoffDelay(t *testing.T) {
	base := 1000 * time.Millisecond

	assert.Equal(t, 1000*time.Millisecond, BackoffDelay(base, 2.0, 1))
	assert.Equal(t, 2000*time.Millisecond, BackoffDelay(base, 2.0, 2))
	assert.Equal(t, 4000*time.Millisecond, BackoffDelay(base, 2.0, 3))

	// Multiplier 1.0 keeps the delay flat
	assert.Equal(t, base, BackoffDelay(base, 1.0, 3))

	assert.Equal(t, time.Duration(0), BackoffDelay(base, 2.0, 0))
}

func TestTransferEngine_MovesAllSegments(t *testing.T) {
	cfg := fastTransferConfig()
	payload := make([]byte, 10*1024+300)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	dialer := &fakeDialer{}
	engine := NewTransferEngine(cfg, dialer, source.NewMemorySource(payload), nil, zap.NewNop())

	segments := BuildSegments(int64(len(payload)), cfg.SegmentSize)
	obs := newRecordingObserver()

	engine.Run(context.Background(), model.TargetNode{NodeID: "node-a"}, segments, obs, newPauseGate())

	committed, bytes := dialer.committed()
	assert.Equal(t, len(segments), committed)
	assert.Equal(t, int64(len(payload)), bytes)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.finished, len(segments))
	for index, err := range obs.finished {
		assert.NoError(t, err, "segment %d", index)
	}
	assert.Equal(t, int64(len(payload)), obs.bytes)
}

func TestTransferEngine_RetriesTransientFailures(t *testing.T) {
	cfg := fastTransferConfig()
	cfg.MaxConcurrentTransfers = 1
	payload := make([]byte, 1024)

	// First two dials refuse; the third succeeds within the retry budget
	dialer := &fakeDialer{failDials: 2}
	engine := NewTransferEngine(cfg, dialer, source.NewMemorySource(payload), nil, zap.NewNop())

	segments := BuildSegments(int64(len(payload)), cfg.SegmentSize)
	obs := newRecordingObserver()

	engine.Run(context.Background(), model.TargetNode{NodeID: "node-a"}, segments, obs, newPauseGate())

	committed, _ := dialer.committed()
	assert.Equal(t, 1, committed)
	assert.Equal(t, 3, dialer.dialCount())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.retries, 2)
	assert.NoError(t, obs.finished[0])
	assert.Equal(t, 3, segments[0].Attempts)
	assert.Equal(t, model.SegmentCompleted, segments[0].State)
}

func TestTransferEngine_ExhaustsRetriesAndFails(t *testing.T) {
	cfg := fastTransferConfig()
	cfg.MaxConcurrentTransfers = 1
	payload := make([]byte, 1024)

	// More failures than MaxRetries+1 attempts can absorb
	dialer := &fakeDialer{failDials: 10}
	engine := NewTransferEngine(cfg, dialer, source.NewMemorySource(payload), nil, zap.NewNop())

	segments := BuildSegments(int64(len(payload)), cfg.SegmentSize)
	obs := newRecordingObserver()

	engine.Run(context.Background(), model.TargetNode{NodeID: "node-a"}, segments, obs, newPauseGate())

	assert.Equal(t, cfg.MaxRetries+1, dialer.dialCount())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Contains(t, obs.finished, 0)
	assert.Error(t, obs.finished[0])
	assert.Equal(t, model.SegmentFailed, segments[0].State)
}

func TestTransferEngine_SendFailuresAlsoRetry(t *testing.T) {
	cfg := fastTransferConfig()
	cfg.MaxConcurrentTransfers = 1
	payload := make([]byte, 1024)

	dialer := &fakeDialer{failSends: 1}
	engine := NewTransferEngine(cfg, dialer, source.NewMemorySource(payload), nil, zap.NewNop())

	segments := BuildSegments(int64(len(payload)), cfg.SegmentSize)
	obs := newRecordingObserver()

	engine.Run(context.Background(), model.TargetNode{NodeID: "node-a"}, segments, obs, newPauseGate())

	committed, _ := dialer.committed()
	assert.Equal(t, 1, committed)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestTransferEngine_CancelStopsDispatch(t *testing.T) {
	cfg := fastTransferConfig()
	cfg.MaxConcurrentTransfers = 1
	payload := make([]byte, 64*1024)

	dialer := &fakeDialer{gate: make(chan struct{})}
	engine := NewTransferEngine(cfg, dialer, source.NewMemorySource(payload), nil, zap.NewNop())

	segments := BuildSegments(int64(len(payload)), cfg.SegmentSize)
	obs := newRecordingObserver()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, model.TargetNode{NodeID: "node-a"}, segments, obs, newPauseGate())
		close(done)
	}()

	// The first segment is blocked in Send; cancel and the engine must
	// drain without committing anything.
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	committed, _ := dialer.committed()
	assert.Equal(t, 0, committed)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Empty(t, obs.finished, "cancelled segments record no outcome")
}
