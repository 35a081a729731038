package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch-go/internal/worker"
)

// countingTask fails until it has been called failUntil times.
type countingTask struct {
	calls     atomic.Int32
	failUntil int32
}

func (t *countingTask) Name() string { return "counting" }

func (t *countingTask) Process(ctx context.Context) error {
	if t.calls.Add(1) <= t.failUntil {
		return errors.New("not yet")
	}
	return nil
}

// Test: Worker pool processes jobs concurrently
func TestWorkerPool_ProcessJobs(t *testing.T) {
	pool := worker.NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		ok := pool.Submit(worker.NewTask("sleep", func(ctx context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
		require.True(t, ok)
	}
	wg.Wait()

	assert.Greater(t, peak.Load(), int32(1), "tasks should overlap")
}

// Test: Worker pool retry logic
func TestWorkerPool_JobRetry(t *testing.T) {
	pool := worker.NewWorkerPool(1, worker.WithMaxRetries(3), worker.WithRetryDelay(time.Millisecond))
	pool.Start()
	defer pool.Stop()

	task := &countingTask{failUntil: 2}
	require.True(t, pool.Submit(task))

	require.Eventually(t, func() bool { return task.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.DeadLetterCount())
}

// Test: Worker pool dead letter queue
func TestWorkerPool_DeadLetterQueue(t *testing.T) {
	pool := worker.NewWorkerPool(1, worker.WithMaxRetries(2), worker.WithRetryDelay(time.Millisecond))
	pool.Start()
	defer pool.Stop()

	task := &countingTask{failUntil: 100}
	require.True(t, pool.Submit(task))

	require.Eventually(t, func() bool { return pool.DeadLetterCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), task.calls.Load(), "one attempt plus two retries")
	assert.Same(t, task, pool.DeadLetters()[0])
}

// Test: Worker pool start and stop
func TestWorkerPool_Lifecycle(t *testing.T) {
	pool := worker.NewWorkerPool(2)
	assert.NotNil(t, pool)
	assert.Equal(t, 2, pool.Workers())
	// Start and stop should not panic, even twice
	pool.Start()
	pool.Start()
	pool.Stop()
	pool.Stop()

	assert.False(t, pool.Submit(worker.NewTask("late", func(context.Context) error { return nil })))
}

// Test: Worker pool job submission and backpressure
func TestWorkerPool_JobSubmissionBackpressure(t *testing.T) {
	// not started, so nothing drains the queue
	pool := worker.NewWorkerPool(2, worker.WithQueueSize(10))
	defer pool.Stop()

	noop := worker.NewTask("noop", func(context.Context) error { return nil })
	successCount := 0
	for i := 0; i < 10; i++ {
		if pool.Submit(noop) {
			successCount++
		}
	}
	assert.Equal(t, 10, successCount, "Should accept up to queue capacity")
	assert.False(t, pool.Submit(noop), "Should not accept more than queue capacity (backpressure)")
}

// Test: Worker pool monitoring and stats
func TestWorkerPool_MonitoringStats(t *testing.T) {
	pool := worker.NewWorkerPool(3, worker.WithQueueSize(5))
	defer pool.Stop()

	noop := worker.NewTask("noop", func(context.Context) error { return nil })
	require.True(t, pool.Submit(noop))
	require.True(t, pool.Submit(noop))

	assert.Equal(t, worker.PoolStats{ActiveWorkers: 3, QueueLength: 2, DeadLetters: 0}, pool.Stats())
}

// Test: Stop interrupts a retry wait
func TestWorkerPool_StopDuringRetry(t *testing.T) {
	pool := worker.NewWorkerPool(1, worker.WithMaxRetries(5), worker.WithRetryDelay(time.Hour))
	pool.Start()

	task := &countingTask{failUntil: 100}
	require.True(t, pool.Submit(task))
	require.Eventually(t, func() bool { return task.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a retry delay")
	}
	assert.Equal(t, 0, pool.DeadLetterCount())
}
