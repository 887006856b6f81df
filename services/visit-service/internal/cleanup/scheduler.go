package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the cleanup job on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	job     *Job
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler registers job under spec, a standard five field expression or
// a descriptor such as "@daily".
func NewScheduler(job *Job, spec string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		job:     job,
		logger:  logger,
		timeout: time.Hour,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cleanup scheduler started", "entries", len(s.cron.Entries()))
}

// Stop waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cleanup scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.job.Run(ctx); err != nil {
		s.logger.Error("cleanup run failed", "err", err)
	}
}
