// Package scheduler runs periodic background jobs until their context is
// cancelled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

const DefaultInterval = time.Hour

// Job is run every Interval with the scheduler's notion of now. A failing run
// is logged and the job keeps its schedule.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context, now time.Time) error
}

type Scheduler struct {
	jobs   []Job
	logger *logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		job.Interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Run blocks until ctx is cancelled, then waits for in-flight runs to
// return. Cancellation is a normal stop and yields nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}

	s.logger.Info(ctx, "Scheduler started", "jobs", len(jobs))
	wg.Wait()
	s.logger.Info(context.Background(), "Scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		s.runJob(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, job)
		}
	}
}

// Tick runs every job once, in registration order.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := job.Run(ctx, s.now()); err != nil {
		s.logger.Error(ctx, "Scheduled job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Debug(ctx, "Scheduled job finished", "job", job.Name, "duration", time.Since(start).String())
}

type Escalator interface {
	AutoEscalate(ctx context.Context, now time.Time, threshold time.Duration) (int, error)
}

func EscalationJob(e Escalator, interval, threshold time.Duration) Job {
	return Job{
		Name:     "dispute-escalation",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := e.AutoEscalate(ctx, now, threshold)
			return err
		},
	}
}

type QuotaResetter interface {
	ResetQuotas(ctx context.Context, now time.Time) (int, error)
}

func QuotaResetJob(r QuotaResetter, interval time.Duration) Job {
	return Job{
		Name:       "quota-reset",
		Interval:   interval,
		RunOnStart: true,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := r.ResetQuotas(ctx, now)
			return err
		},
	}
}
