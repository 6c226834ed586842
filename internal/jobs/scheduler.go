package jobs

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the pipeline on a cron schedule. Jobs are skipped while a
// previous run is still in flight rather than stacked.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// NewScheduler registers run under the given cron expression.
func NewScheduler(spec string, run func()) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, run); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

// Start begins scheduling. It returns immediately; jobs run on the cron's
// own goroutine.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", "schedule", s.spec)
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	slog.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
}
