package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool bounds the number of concurrently running tasks. Dispatch blocks
// until a slot frees up, so callers get backpressure instead of a queue.
type Pool struct {
	name   string
	size   int
	slots  chan struct{}
	logger *zap.Logger
	wg     sync.WaitGroup

	activeTasks    int32
	completedTasks uint64
	failedTasks    uint64
}

// New creates a pool with the given number of slots
func New(name string, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:   name,
		size:   size,
		slots:  make(chan struct{}, size),
		logger: logger,
	}

	p.logger.Debug("Worker pool created",
		zap.String("name", name),
		zap.Int("size", size))

	return p
}

// Go acquires a slot and runs fn in a new goroutine. It blocks until a
// slot is available or ctx is done; the returned error only reports
// whether the task was admitted.
func (p *Pool) Go(ctx context.Context, taskID string, fn func(context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	atomic.AddInt32(&p.activeTasks, 1)

	go func() {
		defer func() {
			atomic.AddInt32(&p.activeTasks, -1)
			<-p.slots
			p.wg.Done()
		}()

		start := time.Now()
		err := p.safeExecute(ctx, taskID, fn)
		duration := time.Since(start)

		if err != nil {
			atomic.AddUint64(&p.failedTasks, 1)
			p.logger.Debug("Task failed",
				zap.String("pool", p.name),
				zap.String("task_id", taskID),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			atomic.AddUint64(&p.completedTasks, 1)
			p.logger.Debug("Task completed",
				zap.String("pool", p.name),
				zap.String("task_id", taskID),
				zap.Duration("duration", duration))
		}
	}()

	return nil
}

// safeExecute runs a task with panic recovery
func (p *Pool) safeExecute(ctx context.Context, taskID string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", taskID),
				zap.Any("panic", r))
		}
	}()
	return fn(ctx)
}

// Wait blocks until every admitted task has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:           p.name,
		Size:           p.size,
		ActiveTasks:    int(atomic.LoadInt32(&p.activeTasks)),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
	}
}

// Stats represents pool statistics
type Stats struct {
	Name           string
	Size           int
	ActiveTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
}

// Utilization returns the slot utilization as a percentage
func (s Stats) Utilization() float64 {
	if s.Size == 0 {
		return 0
	}
	return (float64(s.ActiveTasks) / float64(s.Size)) * 100.0
}
