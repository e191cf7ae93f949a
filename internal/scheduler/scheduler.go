package scheduler

import (
	"context"
	"fmt"
	"time"

	"tap_tycoon_backend/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	spec string
	job  Job
}

type Scheduler struct {
	cron    *cron.Cron
	entries []entry
}

func New() *Scheduler {
	l := cronLogger{log: logger.Logger().Sugar()}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Register adds job under a cron spec such as "@every 1h" or "0 * * * *".
func (s *Scheduler) Register(spec string, job Job) {
	s.entries = append(s.entries, entry{spec: spec, job: job})
	logger.Logger().Debug("job registered", zap.String("job", job.Name()), zap.String("schedule", spec))
}

// Run starts every registered job and blocks until ctx is cancelled, then
// waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.Logger()

	for _, e := range s.entries {
		job := e.job
		if _, err := s.cron.AddFunc(e.spec, func() { s.execute(ctx, job) }); err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", e.spec, job.Name(), err)
		}
	}

	log.Info("starting job scheduler", zap.Int("jobs", len(s.entries)))
	s.cron.Start()

	<-ctx.Done()

	log.Info("stopping job scheduler")
	<-s.cron.Stop().Done()

	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	log := logger.Logger()
	started := time.Now()

	if err := job.Run(ctx); err != nil {
		log.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
		return
	}

	log.Info("job executed successfully",
		zap.String("job", job.Name()),
		zap.Duration("took", time.Since(started)))
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
