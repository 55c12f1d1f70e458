// Package schedule runs tasks periodically while a session is alive.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cancel    context.CancelFunc
	ctx       context.Context
}

// New creates a stopped scheduler whose jobs see ctx until Shutdown.
func New(ctx context.Context, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.InternalError("failed to create gocron scheduler").WithCause(err).Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	jobCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{scheduler: s, logger: logger, ctx: jobCtx, cancel: cancel}, nil
}

// Every schedules fn at interval, starting immediately. Overlapping runs are skipped.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error) (string, error) {
	if interval <= 0 {
		return "", ferrors.ValidationError(fmt.Sprintf("schedule %q: interval must be positive", name)).Build()
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.execute, name, fn),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", ferrors.InternalError(fmt.Sprintf("failed to create periodic job %q", name)).WithCause(err).Build()
	}
	s.logger.Info("Scheduled periodic task", logfields.Task(name), logfields.Duration(interval))
	return job.ID().String(), nil
}

func (s *Scheduler) execute(name string, fn func(ctx context.Context) error) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Info("Executing scheduled task", logfields.Task(name))
	if err := fn(s.ctx); err != nil {
		s.logger.Warn("Scheduled task failed", logfields.Task(name), logfields.Error(err))
	}
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown cancels running jobs and stops the scheduler.
func (s *Scheduler) Shutdown(_ context.Context) error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return ferrors.RuntimeError("stop scheduler").WithCause(err).Build()
	}
	return nil
}
