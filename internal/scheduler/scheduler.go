package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitewatch-go/internal/worker"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRejected = errors.New("job rejected by dispatcher")
)

// Dispatcher accepts due tasks. *worker.WorkerPool satisfies it.
type Dispatcher interface {
	Submit(task worker.Task) bool
}

// Job is a task bound to a cron schedule.
type Job struct {
	ID       string
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
	Skipped  int

	cron *CronSchedule
	task worker.Task
}

// Scheduler hands tasks to a Dispatcher when their schedule comes due. Jobs
// are unique by name.
type Scheduler struct {
	dispatcher Dispatcher
	jobs       map[string]*Job // name -> Job
	jobMu      sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cronWakeup chan struct{}
	now        func() time.Time
	logger     *zap.Logger
}

// NewScheduler creates a Scheduler that stops when ctx ends or on Stop.
func NewScheduler(ctx context.Context, dispatcher Dispatcher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		dispatcher: dispatcher,
		jobs:       make(map[string]*Job),
		ctx:        cctx,
		cancel:     cancel,
		cronWakeup: make(chan struct{}, 1),
		now:        time.Now,
		logger:     logger,
	}
}

// ScheduleJob schedules task under name, replacing the schedule and task of
// an existing job with the same name.
func (s *Scheduler) ScheduleJob(name, schedule string, task worker.Task) (*Job, error) {
	cron, err := ParseCron(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	next := cron.Next(s.now())
	if next.IsZero() {
		return nil, fmt.Errorf("schedule %q for %s never fires", schedule, name)
	}

	job, ok := s.jobs[name]
	if !ok {
		job = &Job{ID: uuid.NewString(), Name: name}
		s.jobs[name] = job
	}
	job.Schedule = schedule
	job.NextRun = next
	job.cron = cron
	job.task = task

	s.logger.Info("Job scheduled",
		zap.String("job", name),
		zap.String("schedule", schedule),
		zap.Time("next_run", next))
	s.signalCronWakeup()

	snapshot := *job
	return &snapshot, nil
}

// RemoveJob unschedules the job called name.
func (s *Scheduler) RemoveJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	delete(s.jobs, name)
	s.signalCronWakeup()
	return nil
}

// RunNow submits the job called name immediately. Its schedule is not
// changed.
func (s *Scheduler) RunNow(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !s.dispatcher.Submit(job.task) {
		job.Skipped++
		return fmt.Errorf("%w: %s", ErrJobRejected, name)
	}
	job.LastRun = s.now()
	return nil
}

// Jobs returns a snapshot of all jobs ordered by next run.
func (s *Scheduler) Jobs() []Job {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRun.Before(jobs[j].NextRun) })
	return jobs
}

// signalCronWakeup notifies the scheduling loop to re-evaluate jobs
func (s *Scheduler) signalCronWakeup() {
	select {
	case s.cronWakeup <- struct{}{}:
	default:
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.schedulingLoop()
}

// schedulingLoop waits for the next job and dispatches everything due
func (s *Scheduler) schedulingLoop() {
	defer s.wg.Done()
	for {
		next := s.findNextJobTime()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatchDue(s.now())
		case <-s.cronWakeup:
			timer.Stop()
		}
	}
}

// dispatchDue submits every job due at now and advances its schedule. A job
// the dispatcher cannot take is skipped until its next run.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	for _, job := range s.jobs {
		if job.NextRun.After(now) {
			continue
		}
		if s.dispatcher.Submit(job.task) {
			job.LastRun = now
		} else {
			job.Skipped++
			s.logger.Warn("Job skipped, worker queue is full", zap.String("job", job.Name))
		}
		job.NextRun = job.cron.Next(now)
		if job.NextRun.IsZero() {
			s.logger.Warn("Job has no further runs", zap.String("job", job.Name))
			delete(s.jobs, job.Name)
		}
	}
}

// findNextJobTime finds the soonest NextRun among scheduled jobs
func (s *Scheduler) findNextJobTime() time.Time {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	next := s.now().Add(24 * time.Hour)
	for _, job := range s.jobs {
		if job.NextRun.Before(next) {
			next = job.NextRun
		}
	}
	return next
}

// Stop gracefully shuts down the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
