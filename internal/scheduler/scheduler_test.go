package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch-go/internal/worker"
)

// fakeDispatcher records submitted tasks and can refuse them.
type fakeDispatcher struct {
	mu     sync.Mutex
	tasks  []string
	refuse bool
}

func (d *fakeDispatcher) Submit(task worker.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse {
		return false
	}
	d.tasks = append(d.tasks, task.Name())
	return true
}

func (d *fakeDispatcher) submitted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tasks...)
}

func noopTask(name string) worker.Task {
	return worker.NewTask(name, func(context.Context) error { return nil })
}

// Test: Job scheduling
func TestScheduler_ScheduleJob(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeDispatcher{}, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC) }

	job, err := s.ScheduleJob("check", "*/15 * * * *", noopTask("check"))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "check", job.Name)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), job.NextRun)

	// Same name replaces the schedule and keeps the id
	again, err := s.ScheduleJob("check", "0 * * * *", noopTask("check"))
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), again.NextRun)
	assert.Len(t, s.Jobs(), 1)

	_, err = s.ScheduleJob("bad", "every day", noopTask("bad"))
	assert.Error(t, err)

	_, err = s.ScheduleJob("never", "0 0 31 2 *", noopTask("never"))
	assert.Error(t, err)

	require.NoError(t, s.RemoveJob("check"))
	assert.ErrorIs(t, s.RemoveJob("check"), ErrJobNotFound)
	assert.Empty(t, s.Jobs())
}

// Test: Due jobs are dispatched and rescheduled
func TestScheduler_DispatchDue(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := NewScheduler(context.Background(), dispatcher, nil)
	start := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return start }

	_, err := s.ScheduleJob("minutely", "* * * * *", noopTask("minutely"))
	require.NoError(t, err)
	_, err = s.ScheduleJob("hourly", "@hourly", noopTask("hourly"))
	require.NoError(t, err)

	s.dispatchDue(time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC))
	assert.Equal(t, []string{"minutely"}, dispatcher.submitted())

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "minutely", jobs[0].Name)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC), jobs[0].NextRun)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC), jobs[0].LastRun)

	dispatcher.refuse = true
	s.dispatchDue(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC))
	for _, job := range s.Jobs() {
		assert.Equal(t, 1, job.Skipped, job.Name)
		assert.True(t, job.NextRun.After(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)))
	}
}

// Test: The loop dispatches a job as soon as it comes due
func TestScheduler_Loop(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := NewScheduler(context.Background(), dispatcher, nil)
	s.Start()
	defer s.Stop()

	_, err := s.ScheduleJob("check", "* * * * *", noopTask("check"))
	require.NoError(t, err)

	s.jobMu.Lock()
	s.jobs["check"].NextRun = time.Now().Add(20 * time.Millisecond)
	s.jobMu.Unlock()
	s.signalCronWakeup()

	require.Eventually(t, func() bool {
		return len(dispatcher.submitted()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// Test: RunNow dispatches without touching the schedule
func TestScheduler_RunNow(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := NewScheduler(context.Background(), dispatcher, nil)
	now := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	job, err := s.ScheduleJob("check", "0 * * * *", noopTask("check"))
	require.NoError(t, err)

	require.NoError(t, s.RunNow("check"))
	assert.Equal(t, []string{"check"}, dispatcher.submitted())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, now, jobs[0].LastRun)
	assert.Equal(t, job.NextRun, jobs[0].NextRun)

	assert.ErrorIs(t, s.RunNow("missing"), ErrJobNotFound)

	dispatcher.refuse = true
	assert.ErrorIs(t, s.RunNow("check"), ErrJobRejected)
	assert.Equal(t, 1, s.Jobs()[0].Skipped)
}

// Test: Graceful shutdown
func TestScheduler_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctx, &fakeDispatcher{}, nil)
	s.Start()

	done := make(chan struct{})
	go func() {
		cancel()
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// Test: The scheduler feeds a real worker pool
func TestScheduler_WithWorkerPool(t *testing.T) {
	pool := worker.NewWorkerPool(1)
	pool.Start()
	defer pool.Stop()

	ran := make(chan struct{}, 1)
	s := NewScheduler(context.Background(), pool, nil)
	_, err := s.ScheduleJob("check", "* * * * *", worker.NewTask("check", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	require.NoError(t, err)

	s.dispatchDue(time.Now().Add(2 * time.Minute))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}
