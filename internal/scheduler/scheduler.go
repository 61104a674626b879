package scheduler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// LiveRunner runs one live feature pipeline pass for a location.
type LiveRunner interface {
	RunLive(ctx context.Context, loc aqi.Location) (aqi.LiveResult, error)
}

// Scheduler periodically runs the live feature pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    LiveRunner
	location  aqi.Location
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler running runner on the cron expression schedule.
func New(schedule string, loc aqi.Location, runner LiveRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := gocron.NewScheduler(time.UTC)
	// A run still in progress when the next tick fires is not overlapped.
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		location:  loc,
		schedule:  schedule,
		timeout:   10 * time.Minute,
		logger:    logger.With("component", "scheduler"),
	}
}

// RunOnce executes a single pipeline pass and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (aqi.LiveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("running live feature pipeline", "entity", s.location.Entity)
	res, err := s.runner.RunLive(ctx, s.location)
	if err != nil {
		s.logger.Error("live feature pipeline failed", "entity", s.location.Entity, "error", err)
		return res, err
	}
	if res.Status == aqi.StatusSkipped {
		s.logger.Warn("live feature pipeline skipped", "entity", s.location.Entity, "reason", res.Reason)
	}
	return res, nil
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.schedule).Do(func() {
		_, _ = s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
