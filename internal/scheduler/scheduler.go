// Package scheduler runs the arcade's recurring jobs and keeps a bounded record of every run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	DefaultHistorySize = 100
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Job pairs a named function with its schedule.
type Job struct {
	Name     string
	Schedule Schedule
	Run      JobFunc
}

type entry struct {
	Job
	running sync.Mutex
	handle  gocron.Job
}

// Scheduler runs jobs on their schedules or on demand. Every run goes through execute,
// which never lets a failure or panic escape.
type Scheduler struct {
	clock clockwork.Clock
	log   logrus.FieldLogger

	jobs  map[string]*entry
	order []string

	mu      sync.Mutex
	cron    gocron.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	history []models.JobExecution
	size    int

	wg sync.WaitGroup
}

func New(jobs []Job, historySize int, clock clockwork.Clock, log logrus.FieldLogger) *Scheduler {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		clock: clock,
		log:   logger.Component(log, "scheduler"),
		jobs:  make(map[string]*entry, len(jobs)),
		size:  historySize,
	}
	for _, j := range jobs {
		s.jobs[j.Name] = &entry{Job: j}
		s.order = append(s.order, j.Name)
	}
	return s
}

// Start registers every job with gocron. Calling it on a running scheduler does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, name := range s.order {
		e := s.jobs[name]
		handle, err := cron.NewJob(
			e.Schedule.definition(),
			gocron.NewTask(s.execute, name, TriggerScheduled),
			gocron.WithName(name),
		)
		if err != nil {
			_ = cron.Shutdown()
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		e.handle = handle
		s.log.WithFields(logrus.Fields{"job": name, "schedule": e.Schedule.String()}).Info("Job scheduled")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron
	cron.Start()
	s.log.Info("Scheduler started")
	return nil
}

// Stop shuts gocron down and waits for in-flight runs. Calling it twice does nothing.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cron := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	for _, e := range s.jobs {
		e.handle = nil
	}
	s.mu.Unlock()

	if cron == nil {
		return nil
	}
	err := cron.Shutdown()
	cancel()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// TriggerJob starts name in the background and returns without waiting for it.
func (s *Scheduler) TriggerJob(name string) error {
	if _, ok := s.jobs[name]; !ok {
		return apperr.NotFound(apperr.CodeJobNotFound, "unknown job %q", name)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(name, TriggerManual)
	}()
	return nil
}

func (s *Scheduler) JobNames() []string {
	return append([]string(nil), s.order...)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// execute is the monitored envelope around every run.
func (s *Scheduler) execute(name, trigger string) {
	e := s.jobs[name]
	started := s.clock.Now()
	exec := models.JobExecution{JobName: name, Trigger: trigger, StartedAt: started.UTC()}
	log := s.log.WithFields(logrus.Fields{"job": name, "trigger": trigger})

	if !e.running.TryLock() {
		exec.CompletedAt = exec.StartedAt
		exec.Error = "job already running"
		log.Warn("Skipping run, job already running")
		s.record(exec)
		return
	}
	defer e.running.Unlock()

	log.Info("Job started")
	err := safeRun(s.runContext(), e.Run)

	finished := s.clock.Now()
	exec.CompletedAt = finished.UTC()
	exec.DurationMs = finished.Sub(started).Milliseconds()
	exec.Success = err == nil
	if err != nil {
		exec.Error = err.Error()
		log.WithError(err).WithField("duration_ms", exec.DurationMs).Error("Job failed")
	} else {
		log.WithField("duration_ms", exec.DurationMs).Info("Job completed")
	}
	s.record(exec)
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) record(exec models.JobExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, exec)
	if over := len(s.history) - s.size; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// GetExecutionHistory returns up to limit executions, most recent first.
func (s *Scheduler) GetExecutionHistory(limit int) []models.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]models.JobExecution, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

type JobStatus struct {
	Name     string               `json:"name"`
	Schedule string               `json:"schedule"`
	Running  bool                 `json:"running"`
	NextRun  *time.Time           `json:"next_run,omitempty"`
	LastRun  *models.JobExecution `json:"last_run,omitempty"`
}

type Stats struct {
	Running         bool        `json:"running"`
	TotalExecutions int         `json:"total_executions"`
	Successful      int         `json:"successful"`
	Failed          int         `json:"failed"`
	SuccessRate     float64     `json:"success_rate"`
	Jobs            []JobStatus `json:"jobs"`
}

// GetStats summarizes the retained history and each job's state.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	stats := Stats{Running: s.cron != nil, TotalExecutions: len(s.history)}
	last := make(map[string]models.JobExecution, len(s.jobs))
	for _, exec := range s.history {
		if exec.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		last[exec.JobName] = exec
	}
	handles := make(map[string]gocron.Job, len(s.jobs))
	for name, e := range s.jobs {
		handles[name] = e.handle
	}
	s.mu.Unlock()

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalExecutions) * 100
	}

	for _, name := range s.order {
		e := s.jobs[name]
		status := JobStatus{Name: name, Schedule: e.Schedule.String()}
		if e.running.TryLock() {
			e.running.Unlock()
		} else {
			status.Running = true
		}
		if h := handles[name]; h != nil {
			if next, err := h.NextRun(); err == nil && !next.IsZero() {
				next = next.UTC()
				status.NextRun = &next
			}
		}
		if exec, ok := last[name]; ok {
			exec := exec
			status.LastRun = &exec
		}
		stats.Jobs = append(stats.Jobs, status)
	}
	return stats
}
