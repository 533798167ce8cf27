package jobs

import (
	"context"
	"time"

	"pulse-dm/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 5 * time.Minute

// Job is one unit of background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner schedules jobs on cron specs and stops them with its context.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "jobs"))
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add runs job on a cron schedule. An empty schedule leaves the job disabled.
func (r *Runner) Add(schedule string, job Job) error {
	if schedule == "" {
		r.logger.Info("job disabled", zap.String("job", job.Name()))
		return nil
	}
	_, err := r.cron.AddFunc(schedule, func() { r.run(job) })
	return err
}

// Start runs the scheduler until ctx is done, then waits for running jobs.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = ctx
	r.cron.Start()
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
}

func (r *Runner) run(job Job) {
	ctx, cancel := context.WithTimeout(r.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.SweeperRunsTotal.WithLabelValues(job.Name(), "error").Inc()
		r.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
		return
	}
	metrics.SweeperRunsTotal.WithLabelValues(job.Name(), "ok").Inc()
	r.logger.Debug("job finished", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
}
