package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Job is a unit of background work run on a fixed interval.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                      { return j.JobName }
func (j JobFunc) RunOnce(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler runs jobs periodically until its context is cancelled.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, job Job) error
}

// Ticker is the time.Ticker backed Scheduler. A failed run is logged and the job keeps its
// schedule.
type Ticker struct {
	Logger *slog.Logger
}

func (t Ticker) Every(ctx context.Context, interval time.Duration, job Job) error {
	if interval <= 0 {
		return nil
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := job.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("scheduled job failed", "job", job.Name(), "error", err)
			}
		}
	}
}
