package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := New("test", 3, zap.NewNop())

	var active, peak int32
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		err := pool.Go(context.Background(), "task", func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
		require.NoError(t, err)
	}

	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(3), "never more than pool size tasks at once")
	assert.Equal(t, uint64(20), pool.Stats().CompletedTasks)
}

func TestPool_GoRespectsContext(t *testing.T) {
	pool := New("test", 1, zap.NewNop())

	release := make(chan struct{})
	err := pool.Go(context.Background(), "blocker", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	// The single slot is taken; admission must fail once ctx is done
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pool.Go(ctx, "rejected", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	pool.Wait()
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := New("test", 2, zap.NewNop())

	err := pool.Go(context.Background(), "panicker", func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)

	pool.Wait()

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.FailedTasks)
	assert.Equal(t, uint64(0), stats.CompletedTasks)
}

func TestStats_Utilization(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.Utilization())
	assert.Equal(t, 50.0, Stats{Size: 4, ActiveTasks: 2}.Utilization())
}
