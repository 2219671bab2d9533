// Package cron runs named maintenance jobs on fixed intervals.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// Job is one recurring task.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// Timeout bounds a single run. Zero means the interval.
	Timeout time.Duration
	Fn      func(ctx context.Context) error
}

// Snapshot is the observable state of a job.
type Snapshot struct {
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Message   string     `json:"message,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Runs      int        `json:"runs"`
}

type entry struct {
	job Job

	mu      sync.Mutex
	status  Status
	message string
	lastRun *time.Time
	runs    int
}

// Scheduler owns a set of jobs. A job never overlaps with itself.
type Scheduler struct {
	log *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log, jobs: make(map[string]*entry)}
}

// Register adds a job. Registering after Start has no effect on the loop.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &entry{job: job, status: StatusIdle}
}

// Start runs every job once per interval until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.jobs {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			ticker := time.NewTicker(e.job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.execute(ctx, e)
				}
			}
		}(e)
	}
}

// Wait blocks until every loop exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// RunNow executes a job synchronously. A job that is already running is
// skipped.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	e.mu.Lock()
	if e.status == StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusRunning
	e.mu.Unlock()

	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = e.job.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	err := e.job.Fn(runCtx)
	cancel()

	e.mu.Lock()
	e.lastRun = &started
	e.runs++
	if err != nil {
		e.status, e.message = StatusFailed, err.Error()
	} else {
		e.status, e.message = StatusOK, ""
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", zap.String("job", e.job.Name), zap.Duration("took", time.Since(started)), zap.Error(err))
	} else {
		s.log.Debug("job finished", zap.String("job", e.job.Name), zap.Duration("took", time.Since(started)))
	}
	return err
}

// Snapshots lists job states sorted by name.
func (s *Scheduler) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, e := range s.jobs {
		e.mu.Lock()
		out = append(out, Snapshot{Name: e.job.Name, Status: e.status, Message: e.message, LastRunAt: e.lastRun, Runs: e.runs})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
