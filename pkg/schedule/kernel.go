package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task is a unit of periodic work
type Task func(ctx context.Context)

// Kernel manages periodic host tasks
type Kernel struct {
	cron   *cron.Cron
	logger zerolog.Logger
	ctx    context.Context
}

// JobOption configures a scheduled task
type JobOption func(*jobConfig)

type jobConfig struct {
	withoutOverlapping bool
	timeout            time.Duration
}

// NewKernel creates a new scheduler kernel
func NewKernel(logger zerolog.Logger) *Kernel {
	logger = logger.With().Str("component", "scheduler").Logger()
	// Second-level precision; descriptors such as "@every 15s" are accepted too
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{logger}))
	return &Kernel{
		cron:   c,
		logger: logger,
		ctx:    context.Background(),
	}
}

// WithoutOverlapping skips a run while the previous one is still running
func WithoutOverlapping() JobOption {
	return func(c *jobConfig) {
		c.withoutOverlapping = true
	}
}

// WithTimeout bounds each run of the task
func WithTimeout(d time.Duration) JobOption {
	return func(c *jobConfig) {
		c.timeout = d
	}
}

// Register adds a task to be run on a given schedule.
// Schedule format: "s m h d m w" (Seconds Minutes Hours Day Month Week) or a descriptor.
func (k *Kernel) Register(name, schedule string, task Task, opts ...JobOption) error {
	cfg := &jobConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var job cron.Job = cron.FuncJob(func() {
		ctx := k.ctx
		if cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
		task(ctx)
	})

	if cfg.withoutOverlapping {
		job = cron.NewChain(cron.SkipIfStillRunning(cronLogger{k.logger})).Then(job)
	}

	if _, err := k.cron.AddJob(schedule, job); err != nil {
		return fmt.Errorf("registering task %s [%s]: %w", name, schedule, err)
	}
	k.logger.Debug().Str("task", name).Str("schedule", schedule).Msg("Registered task")
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled and running tasks return
func (k *Kernel) Run(ctx context.Context) {
	k.ctx = ctx
	k.cron.Start()

	<-ctx.Done()

	stopped := k.cron.Stop()
	<-stopped.Done()
}

// cronLogger routes cron's own messages through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
