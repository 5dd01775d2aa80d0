package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/config"
	"github.com/devrev/pairdb/offload-engine/internal/errors"
	"github.com/devrev/pairdb/offload-engine/internal/metrics"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/registry"
	"github.com/devrev/pairdb/offload-engine/internal/source"
	"github.com/devrev/pairdb/offload-engine/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pauseGate holds segment dispatch while the operation is paused.
// wait returns immediately while open and blocks while closed.
type pauseGate struct {
	mu   sync.Mutex
	open chan struct{}
}

func newPauseGate() *pauseGate {
	g := &pauseGate{open: make(chan struct{})}
	close(g.open)
	return g
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already paused
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		// already open
	default:
		close(g.open)
	}
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// operation is the single active offload instance
type operation struct {
	id      string
	dataIDs []string
	target  model.TargetNode
	cancel  context.CancelFunc
	gate    *pauseGate
}

// Manager is the offload coordinator: it owns the node selection,
// the operation lifecycle state machine, the transfer engine and the
// progress/event model. One lock guards configuration, selection,
// operation state and progress; transfer workers do their network I/O
// outside the lock and re-acquire it only to record outcomes, so
// status and progress reads stay responsive while transfers run.
type Manager struct {
	mu sync.Mutex

	cfg      config.OffloadConfig
	registry *registry.Registry
	payload  source.DataSource
	dialer   transport.Dialer
	metrics  *metrics.Metrics
	logger   *zap.Logger

	status     model.OffloadStatus
	tracker    Tracker
	events     EventDispatcher
	op         *operation
	lastResult *model.OffloadResult
}

// NewManager creates an offload manager. metrics may be nil.
func NewManager(
	cfg config.OffloadConfig,
	reg *registry.Registry,
	payload source.DataSource,
	dialer transport.Dialer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		payload:  payload,
		dialer:   dialer,
		metrics:  m,
		logger:   logger,
		status:   model.StatusIdle,
	}
}

// SetConfig replaces the offload configuration. Rejected while an
// operation is active: the running operation keeps its snapshot.
func (m *Manager) SetConfig(cfg config.OffloadConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsActive() {
		return errors.InvalidTransition(string(m.status), "set_config")
	}
	m.cfg = cfg
	return nil
}

// Config returns the current offload configuration
func (m *Manager) Config() config.OffloadConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Nodes returns the known candidate target nodes
func (m *Manager) Nodes() []model.TargetNode {
	return m.registry.ListNodes()
}

// RefreshNodes re-derives node health from the cluster health source
func (m *Manager) RefreshNodes(ctx context.Context) bool {
	ok := m.registry.Refresh(ctx)
	if m.metrics != nil {
		outcome := "success"
		if !ok {
			outcome = "failure"
		}
		m.metrics.RefreshesTotal.WithLabelValues(outcome).Inc()
		m.metrics.KnownNodes.Set(float64(m.registry.NodeCount()))
	}
	return ok
}

// SelectTarget picks an explicit target node for the next offload
func (m *Manager) SelectTarget(nodeID string) error {
	return m.registry.Select(nodeID)
}

// AutoSelectTarget picks the best admissible node per the configured
// selection policy.
func (m *Manager) AutoSelectTarget() (model.TargetNode, error) {
	m.mu.Lock()
	policy := registry.SelectionPolicy{
		MinAvailableStorageBytes: m.cfg.MinAvailableStorageBytes,
		MaxTargetCPUUsage:        m.cfg.MaxTargetCPUUsage,
		MaxTargetMemoryUsage:     m.cfg.MaxTargetMemoryUsage,
		PreferLocalRegion:        m.cfg.PreferLocalRegion,
	}
	m.mu.Unlock()

	return m.registry.AutoSelect(policy)
}

// CurrentTarget returns the currently selected target node, if any
func (m *Manager) CurrentTarget() (model.TargetNode, bool) {
	return m.registry.SelectedNode()
}

// ClearTarget drops the current target selection
func (m *Manager) ClearTarget() {
	m.registry.ClearSelection()
}

// Start admits a new offload operation, optionally scoped to explicit
// data identifiers. Legal from idle and from paused; starting while
// paused abandons the paused operation. The returned error reports
// whether the request was accepted; the eventual outcome is observable
// through status, progress, the last result and the event channels.
func (m *Manager) Start(ctx context.Context, dataIDs ...string) error {
	m.mu.Lock()

	switch m.status {
	case model.StatusIdle, model.StatusPaused:
	default:
		status := m.status
		m.mu.Unlock()
		m.logger.Warn("Start rejected: operation already active", zap.String("status", string(status)))
		return errors.InvalidTransition(string(status), "start")
	}

	target, ok := m.registry.SelectedNode()
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Start rejected: no target node selected")
		return errors.NoTargetSelected()
	}

	total, err := m.payload.TotalBytes(ctx, dataIDs)
	if err != nil {
		m.mu.Unlock()
		return errors.InternalError("failed to size offload payload", err)
	}
	if uint64(total) < m.cfg.MinByteDifference {
		m.mu.Unlock()
		return errors.PayloadTooSmall(uint64(total), m.cfg.MinByteDifference)
	}
	if uint64(total) > m.cfg.MaxBytePerTransfer {
		// One operation moves at most max_byte_per_transfer; the rest
		// stays for a follow-up operation.
		total = int64(m.cfg.MaxBytePerTransfer)
	}

	segments := BuildSegments(total, m.cfg.SegmentSize)

	// The request is admitted. A fresh start from paused supersedes the
	// paused operation: it is abandoned only now, so a rejected request
	// leaves it resumable.
	if m.status == model.StatusPaused {
		m.abandonLocked()
	}

	opCtx, cancel := context.WithCancel(context.Background())
	op := &operation{
		id:      uuid.New().String(),
		dataIDs: append([]string(nil), dataIDs...),
		target:  target,
		cancel:  cancel,
		gate:    newPauseGate(),
	}

	m.op = op
	m.tracker.Begin(uint64(total), len(segments))
	m.registry.AcquireSlot(target.NodeID)

	m.setStatusLocked(model.StatusPreparing)
	m.setStatusLocked(model.StatusTransferring)

	if m.metrics != nil {
		m.metrics.OperationsStarted.Inc()
	}

	engine := NewTransferEngine(m.cfg, m.dialer, m.payload, m.metrics, m.logger)

	m.logger.Info("Offload operation started",
		zap.String("operation_id", op.id),
		zap.String("target_node", target.NodeID),
		zap.Int64("total_bytes", total),
		zap.Int("segments", len(segments)))

	m.mu.Unlock()

	go m.runOperation(opCtx, engine, op, segments)
	return nil
}

// runOperation drives the transfer engine and finalizes states the
// per-segment callbacks could not have reached (e.g. cancellation
// while every worker was idle).
func (m *Manager) runOperation(ctx context.Context, engine *TransferEngine, op *operation, segments []model.Segment) {
	engine.Run(ctx, op.target, segments, &opObserver{m: m, op: op}, op.gate)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A reset may have detached this operation already.
	if m.op != op {
		return
	}
	m.op = nil

	if m.status.IsTerminal() {
		return
	}

	// Dispatch drained without a terminal transition: engine aborted on
	// a cancelled context that raced the state change, or every segment
	// completed and the completion path below applies.
	snap := m.tracker.Snapshot()
	if snap.CompletedSuccessfully() {
		m.completeLocked(op)
		return
	}

	msg := "transfer engine stopped before completion"
	m.tracker.SetError(msg)
	m.events.FireError(msg)
	m.setStatusLocked(model.StatusFailed)
	m.finishLocked(op, false, &msg)
}

// Cancel aborts the active operation. In-flight segments stop at their
// next checkpoint; completed segments' byte counts stay in the final
// progress record for diagnostics.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case model.StatusPreparing, model.StatusTransferring, model.StatusPaused:
	default:
		return errors.InvalidTransition(string(m.status), "cancel")
	}

	op := m.op
	m.setStatusLocked(model.StatusCancelled)
	m.finishLocked(op, false, nil)
	op.gate.resume()
	op.cancel()

	if m.metrics != nil {
		m.metrics.OperationsCancelled.Inc()
	}

	m.logger.Info("Offload operation cancelled", zap.String("operation_id", op.id))
	return nil
}

// Pause suspends segment dispatch. Only legal while transferring.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != model.StatusTransferring {
		return errors.InvalidTransition(string(m.status), "pause")
	}

	m.op.gate.pause()
	m.setStatusLocked(model.StatusPaused)

	m.logger.Info("Offload operation paused", zap.String("operation_id", m.op.id))
	return nil
}

// Resume re-opens segment dispatch. Only legal while paused.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != model.StatusPaused {
		return errors.InvalidTransition(string(m.status), "resume")
	}

	m.op.gate.resume()
	m.setStatusLocked(model.StatusTransferring)

	m.logger.Info("Offload operation resumed", zap.String("operation_id", m.op.id))
	return nil
}

// Reset returns the coordinator to its initial state: status idle, no
// target, no last result, zeroed progress. Rejected while an operation
// is active.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsActive() {
		return errors.InvalidTransition(string(m.status), "reset")
	}

	if m.status != model.StatusIdle {
		m.setStatusLocked(model.StatusIdle)
	}
	m.op = nil
	m.lastResult = nil
	m.tracker.Reset()
	m.registry.ClearSelection()

	m.logger.Info("Offload coordinator reset")
	return nil
}

// Status returns the current lifecycle state
func (m *Manager) Status() model.OffloadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Progress returns a consistent snapshot of the current progress
func (m *Manager) Progress() model.OffloadProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Snapshot()
}

// IsActive reports whether an offload operation is in progress
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.IsActive()
}

// LastResult returns the terminal snapshot of the most recent
// operation, if one has finished since the last reset.
func (m *Manager) LastResult() (model.OffloadResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastResult == nil {
		return model.OffloadResult{}, false
	}
	return *m.lastResult, true
}

// OnProgress subscribes to progress updates, replacing any previous
// subscriber. Callbacks run synchronously on the mutating goroutine
// with the manager lock held: return promptly and do not call back
// into the manager.
func (m *Manager) OnProgress(cb ProgressCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.SetProgress(cb)
}

// OnComplete subscribes to completion notifications
func (m *Manager) OnComplete(cb CompletionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.SetCompletion(cb)
}

// OnError subscribes to error notifications
func (m *Manager) OnError(cb ErrorCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.SetError(cb)
}

// OnStatusChange subscribes to status change notifications
func (m *Manager) OnStatusChange(cb StatusChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.SetStatusChange(cb)
}

// opObserver scopes transfer callbacks to one operation, so draining
// workers of an abandoned or finished operation cannot touch the
// record of its successor.
type opObserver struct {
	m  *Manager
	op *operation
}

func (o *opObserver) segmentStarted(index int) {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.op != o.op || m.status.IsTerminal() {
		return
	}
	m.tracker.SegmentStarted(index)
}

func (o *opObserver) segmentRetrying(index, attempt int, err error) {
	o.m.logger.Warn("Retrying segment",
		zap.Int("segment", index),
		zap.Int("retry", attempt),
		zap.Error(err))
}

func (o *opObserver) segmentFinished(index int, bytes int64, err error) {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()

	// Outcomes arriving after a terminal transition or after the
	// operation was superseded no longer move the record: the result
	// snapshot has been taken or the record belongs to a new operation.
	if m.op != o.op || m.status.IsTerminal() {
		return
	}

	if err == nil {
		m.tracker.SegmentCompleted(uint64(bytes))
		if m.metrics != nil {
			m.metrics.SegmentsCompleted.Inc()
			m.metrics.BytesTransferred.Add(float64(bytes))
		}
		snap := m.tracker.Snapshot()
		m.events.FireProgress(snap)

		if snap.CompletedSuccessfully() {
			op := m.op
			m.completeLocked(op)
		}
		return
	}

	// A single permanently failed segment fails the whole operation.
	m.tracker.SegmentFailed()
	msg := err.Error()
	m.tracker.SetError(msg)
	if m.metrics != nil {
		m.metrics.SegmentsFailed.Inc()
		m.metrics.OperationsFailed.Inc()
	}

	m.events.FireProgress(m.tracker.Snapshot())
	m.events.FireError(msg)

	op := m.op
	m.setStatusLocked(model.StatusFailed)
	m.finishLocked(op, false, &msg)
	op.gate.resume()
	op.cancel()

	m.logger.Error("Offload operation failed",
		zap.String("operation_id", op.id),
		zap.Int("segment", index),
		zap.String("error", msg))
}

// setStatusLocked transitions the state machine and fires the status
// change event exactly once per transition.
func (m *Manager) setStatusLocked(next model.OffloadStatus) {
	prev := m.status
	if prev == next {
		return
	}
	m.status = next
	m.events.FireStatusChange(prev, next)
}

// completeLocked runs the Completing -> Completed pair and finalizes
func (m *Manager) completeLocked(op *operation) {
	m.setStatusLocked(model.StatusCompleting)
	m.setStatusLocked(model.StatusCompleted)
	m.finishLocked(op, true, nil)

	if m.metrics != nil {
		m.metrics.OperationsCompleted.Inc()
	}

	m.logger.Info("Offload operation completed",
		zap.String("operation_id", op.id),
		zap.String("target_node", op.target.NodeID),
		zap.Duration("elapsed", m.tracker.Snapshot().Elapsed))
}

// abandonLocked discards the paused operation so a new one can take
// its place: the slot goes back to the target, progress is zeroed and
// the workers are released to observe the cancelled context. No
// terminal result is produced for an abandoned operation.
func (m *Manager) abandonLocked() {
	op := m.op
	m.op = nil
	m.tracker.Reset()
	m.registry.ReleaseSlot(op.target.NodeID, false)
	op.gate.resume()
	op.cancel()

	m.logger.Info("Paused offload operation superseded",
		zap.String("operation_id", op.id))
}

// finishLocked builds the terminal result exactly once, fires the
// completion event and releases the target's admission slot.
func (m *Manager) finishLocked(op *operation, success bool, errMsg *string) {
	snap := m.tracker.Snapshot()
	result := model.OffloadResult{
		OperationID:   op.id,
		Success:       success,
		ErrorMessage:  errMsg,
		FinalProgress: snap,
		TargetNode:    op.target,
		CompletedAt:   time.Now(),
	}
	m.lastResult = &result

	m.registry.ReleaseSlot(op.target.NodeID, success)
	if m.metrics != nil {
		m.metrics.OperationDuration.Observe(snap.Elapsed.Seconds())
	}

	m.events.FireCompletion(result)
}
