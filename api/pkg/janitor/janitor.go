// Package janitor keeps the scheduler current when no requests arrive: the
// day cycle still advances overnight and completed hours still get their
// usage attribution written.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/scheduler"
)

// Janitor runs the periodic system state tick.
type Janitor struct {
	scheduler *scheduler.Scheduler
	interval  time.Duration
	cron      gocron.Scheduler
}

func New(sched *scheduler.Scheduler, interval time.Duration) (*Janitor, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Janitor{
		scheduler: sched,
		interval:  interval,
		cron:      cron,
	}, nil
}

// Start registers the tick job and blocks until the context is done.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() {
			j.scheduler.UpdateSystemState()
		}),
		gocron.WithName("system-state-tick"),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	j.cron.Start()
	log.Info().Dur("interval", j.interval).Msg("janitor started")

	<-ctx.Done()

	if err := j.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}
