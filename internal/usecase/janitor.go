package usecase

import (
	"context"
	"log/slog"
	"time"

	"TopicPulse/internal/ports"
)

// Janitor wires the cron-like driver with controller sweeps.
type Janitor struct {
	driver     ports.Scheduler
	controller *Controller
	retention  time.Duration
	logger     *slog.Logger
}

// NewJanitor returns a helper that evicts finished jobs older than retention.
func NewJanitor(driver ports.Scheduler, controller *Controller, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{driver: driver, controller: controller, retention: retention, logger: logger.With("component", "janitor")}
}

// Start registers the sweep with the provided scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	if j.driver == nil || j.controller == nil {
		return nil
	}

	job := func(trigger time.Time) {
		n := j.controller.Sweep(trigger.Add(-j.retention))
		j.logger.Debug("sweep finished", "evicted", n, "trigger", trigger)
	}

	return j.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.driver == nil {
		return nil
	}

	return j.driver.Stop(ctx)
}
