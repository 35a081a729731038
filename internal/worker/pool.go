package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sitewatch-go/internal/metrics"
)

// Task represents a unit of work for the worker pool. Process returns an
// error to ask for a retry.
type Task interface {
	Name() string
	Process(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t funcTask) Name() string                      { return t.name }
func (t funcTask) Process(ctx context.Context) error { return t.fn(ctx) }

// NewTask wraps fn as a Task.
func NewTask(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

// WorkerPool manages a pool of worker goroutines
// and a queue of tasks to process
type WorkerPool struct {
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	startOnce    sync.Once
	stopOnce     sync.Once
	workers      int
	tasks        chan Task // buffered channel for tasks
	queueCap     int       // capacity of the task queue
	deadLetter   []Task
	deadLetterMu sync.Mutex
	maxRetries   int
	retryDelay   time.Duration
	logger       *zap.Logger
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	ActiveWorkers int
	QueueLength   int
	DeadLetters   int
}

// Option customises a WorkerPool.
type Option func(*WorkerPool)

// WithQueueSize sets the task queue capacity.
func WithQueueSize(n int) Option {
	return func(p *WorkerPool) { p.queueCap = n }
}

// WithMaxRetries sets how many times a failing task is retried.
func WithMaxRetries(n int) Option {
	return func(p *WorkerPool) { p.maxRetries = n }
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(p *WorkerPool) { p.retryDelay = d }
}

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *WorkerPool) { p.logger = logger }
}

// NewWorkerPool creates a new WorkerPool with the given number of workers
func NewWorkerPool(workers int, opts ...Option) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		ctx:        ctx,
		cancel:     cancel,
		workers:    workers,
		queueCap:   10, // default queue size
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	p.tasks = make(chan Task, p.queueCap)
	return p
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.workerLoop()
		}
	})
}

// Stop signals all workers to exit and waits for them to finish. Queued
// tasks that were not picked up are dropped.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// Submit adds a task to the queue, returns false if the queue is full or
// the pool is stopped
func (p *WorkerPool) Submit(task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false // backpressure: queue is full
	}
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.processWithRetry(task)
		}
	}
}

// processWithRetry processes a task, retrying up to maxRetries, then moves to dead letter
func (p *WorkerPool) processWithRetry(task Task) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	logger := p.logger.With(zap.String("task", task.Name()))
	for attempt := 0; ; attempt++ {
		err := task.Process(p.ctx)
		if err == nil {
			metrics.JobsCompleted.WithLabelValues(task.Name()).Inc()
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		if attempt >= p.maxRetries {
			logger.Error("Task failed, moving to dead letter queue", zap.Int("attempts", attempt+1), zap.Error(err))
			break
		}

		metrics.JobRetries.WithLabelValues(task.Name()).Inc()
		logger.Warn("Task failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	metrics.JobsFailed.WithLabelValues(task.Name()).Inc()
	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, task)
	p.deadLetterMu.Unlock()
}

// DeadLetters returns a copy of the tasks that exhausted their retries
func (p *WorkerPool) DeadLetters() []Task {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return append([]Task(nil), p.deadLetter...)
}

// DeadLetterCount returns the number of tasks in the dead letter queue
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		ActiveWorkers: p.workers,
		QueueLength:   len(p.tasks),
		DeadLetters:   p.DeadLetterCount(),
	}
}
