// Package scheduler runs the vault's periodic maintenance: cache and
// session sweeps, token cache eviction and audit retention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is how often the loop checks for due jobs.
const DefaultTick = time.Second

// JobFunc performs one run and reports how many entries it removed.
type JobFunc func(ctx context.Context, now time.Time) (int64, error)

// Job is a named task on a cron schedule. Spec accepts standard five-field
// expressions and descriptors such as "@every 1m" or "@hourly".
type Job struct {
	Name string
	Spec string
	Run  JobFunc
}

type entry struct {
	job      Job
	schedule cron.Schedule
	nextRun  time.Time
	lastRun  time.Time
	lastErr  error
}

// Status is a snapshot of one job's schedule.
type Status struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
	LastErr error
}

// Scheduler runs registered jobs when due.
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   []*entry

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// NewScheduler creates a Scheduler. A non-positive tick uses DefaultTick.
func NewScheduler(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		tick:     tick,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	schedule, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for job %q: %w", job.Spec, job.Name, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %q already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.now())})
	return nil
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Statuses())))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every job whose next run is not after now and returns how
// many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()
	s.jobsMu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !e.nextRun.After(now) {
			due = append(due, e)
		}
	}
	s.jobsMu.Unlock()

	ran := 0
	for _, e := range due {
		if !s.tryAcquire(e.job.Name) {
			continue // already running (dedup)
		}
		s.runJob(ctx, e, now)
		s.releaseJob(e.job.Name)
		ran++
	}
	return ran
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int64, error) {
	s.jobsMu.Lock()
	var found *entry
	for _, e := range s.jobs {
		if e.job.Name == name {
			found = e
		}
	}
	s.jobsMu.Unlock()
	if found == nil {
		return 0, fmt.Errorf("job %q not registered", name)
	}
	if !s.tryAcquire(name) {
		return 0, fmt.Errorf("job %q is already running", name)
	}
	defer s.releaseJob(name)
	return found.job.Run(ctx, s.now())
}

func (s *Scheduler) runJob(ctx context.Context, e *entry, now time.Time) {
	removed, err := e.job.Run(ctx, now)
	if err != nil {
		s.logger.Error("maintenance job failed",
			slog.String("job", e.job.Name),
			slog.String("error", err.Error()),
		)
	} else if removed > 0 {
		s.logger.Debug("maintenance job ran",
			slog.String("job", e.job.Name),
			slog.Int64("removed", removed),
		)
	}

	s.jobsMu.Lock()
	e.lastRun = now
	e.lastErr = err
	e.nextRun = e.schedule.Next(now)
	s.jobsMu.Unlock()
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a schedule expression.
func (s *Scheduler) CalculateNextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

// Statuses returns a snapshot of every registered job.
func (s *Scheduler) Statuses() []Status {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]Status, len(s.jobs))
	for i, e := range s.jobs {
		out[i] = Status{Name: e.job.Name, NextRun: e.nextRun, LastRun: e.lastRun, LastErr: e.lastErr}
	}
	return out
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
