package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/schedule"
	"github.com/mostefaiamine-25/aspire-functions/pkg/telemetry"
)

// ErrNoTriggers is returned by Run when the registry is empty
var ErrNoTriggers = errors.New("no queue triggered functions registered")

const (
	minPollingInterval = 100 * time.Millisecond
	popErrorDelay      = time.Second
)

// Options tune the listeners of the host
type Options struct {
	Concurrency        int // goroutines per trigger
	MaxDequeueCount    int // deliveries before a message is poisoned
	FunctionTimeout    time.Duration
	MaxPollingInterval time.Duration
	VisibilityTimeout  time.Duration // renewed every half period while a function runs
	Encoding           queue.Encoding
	Metrics            *Metrics
}

// OptionsFromConfig builds Options from the host configuration
func OptionsFromConfig(cfg config.HostConfig, encoding queue.Encoding) Options {
	return Options{
		Concurrency:        cfg.Concurrency,
		MaxDequeueCount:    cfg.MaxDequeueCount,
		FunctionTimeout:    cfg.FunctionTimeout,
		MaxPollingInterval: cfg.MaxPollingInterval,
		VisibilityTimeout:  cfg.VisibilityTimeout,
		Encoding:           encoding,
	}
}

func (o *Options) defaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 16
	}
	if o.MaxDequeueCount <= 0 {
		o.MaxDequeueCount = 5
	}
	if o.FunctionTimeout <= 0 {
		o.FunctionTimeout = 5 * time.Minute
	}
	if o.MaxPollingInterval < minPollingInterval {
		o.MaxPollingInterval = minPollingInterval
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.Encoding == "" {
		o.Encoding = queue.EncodingBase64
	}
}

// Worker runs the queue listeners of every registered trigger
type Worker struct {
	Driver   queue.Driver
	Poison   queue.PoisonSink
	Registry *queue.Registry
	opts     Options
	tracer   trace.Tracer
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(driver queue.Driver, poison queue.PoisonSink, registry *queue.Registry, opts Options, tracer trace.Tracer) *Worker {
	opts.defaults()
	if poison == nil {
		poison = queue.NewPoisonQueue(driver)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	return &Worker{
		Driver:   driver,
		Poison:   poison,
		Registry: registry,
		opts:     opts,
		tracer:   tracer,
	}
}

// Run starts the listeners and blocks until ctx is cancelled and in-flight invocations return
func (w *Worker) Run(ctx context.Context) error {
	triggers := w.Registry.Triggers()
	if len(triggers) == 0 {
		return ErrNoTriggers
	}

	for _, t := range triggers {
		telemetry.LoggerFromContext(ctx).Info().
			Str("function", t.Function).
			Str("queue", t.Queue).
			Int("concurrency", w.concurrency()).
			Msg("Listening for queue messages")

		for i := 0; i < w.concurrency(); i++ {
			w.wg.Add(1)
			go w.listen(ctx, t, i)
		}
	}
	w.wg.Wait()
	return nil
}

// ScheduleDepthSampling updates the queue depth gauge of every trigger queue on schedule.
// It is a no-op when metrics are disabled or the driver cannot count messages.
func (w *Worker) ScheduleDepthSampling(kernel *schedule.Kernel, spec string) error {
	counter, ok := w.Driver.(queue.Counter)
	if !ok || w.opts.Metrics == nil {
		return nil
	}

	return kernel.Register("queue-depth", spec, func(ctx context.Context) {
		for _, t := range w.Registry.Triggers() {
			n, err := counter.Len(ctx, t.Queue)
			if err != nil {
				telemetry.LoggerFromContext(ctx).Warn().Err(err).Str("queue", t.Queue).Msg("Sampling queue depth failed")
				continue
			}
			w.opts.Metrics.QueueDepth.WithLabelValues(t.Queue).Set(float64(n))
		}
	}, schedule.WithoutOverlapping(), schedule.WithTimeout(10*time.Second))
}

func (w *Worker) listen(ctx context.Context, t queue.Trigger, id int) {
	defer w.wg.Done()

	logger := telemetry.LoggerFromContext(ctx).With().
		Str("function", t.Function).
		Str("queue", t.Queue).
		Int("listener", id).
		Logger()

	interval := minPollingInterval
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.Driver.Pop(ctx, t.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				if !sleep(ctx, interval) {
					return
				}
				interval = nextInterval(interval, w.opts.MaxPollingInterval)
				continue
			}
			logger.Error().Err(err).Msg("Error popping message")
			if !sleep(ctx, popErrorDelay) {
				return
			}
			continue
		}

		interval = minPollingInterval
		w.process(logger.WithContext(ctx), t, msg)
	}
}

func (w *Worker) process(ctx context.Context, t queue.Trigger, msg *queue.Message) {
	ctx, span := w.tracer.Start(ctx, t.Function,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", t.Queue),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Int("messaging.dequeue_count", msg.DequeueCount),
		),
	)
	defer span.End()

	logger := telemetry.LoggerFromContext(ctx).With().
		Str("message_id", msg.ID).
		Int("dequeue_count", msg.DequeueCount).
		Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	stopRenewal := w.renew(ctx, msg)
	err := w.invoke(ctx, t, msg)
	stopRenewal()
	elapsed := time.Since(start)

	// Settle even when the host is shutting down
	settleCtx := context.WithoutCancel(ctx)

	if err == nil {
		w.observe(t, "success", elapsed)
		logger.Debug().Dur("duration", elapsed).Msg("Executed function")
		if ackErr := w.Driver.Ack(settleCtx, msg); ackErr != nil {
			logger.Error().Err(ackErr).Msg("Error deleting message")
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	w.observe(t, "failure", elapsed)
	logger.Error().Err(err).Dur("duration", elapsed).Msg("Function failed")

	if msg.DequeueCount < w.opts.MaxDequeueCount {
		if relErr := w.Driver.Release(settleCtx, msg); relErr != nil {
			logger.Error().Err(relErr).Msg("Error releasing message")
		}
		return
	}

	logger.Warn().
		Int("max_dequeue_count", w.opts.MaxDequeueCount).
		Msg("Message exceeded its dequeue count, moving it to poison")

	if poisonErr := w.Poison.Poison(settleCtx, t.Queue, msg, err); poisonErr != nil {
		logger.Error().Err(poisonErr).Msg("Error poisoning message")
		if relErr := w.Driver.Release(settleCtx, msg); relErr != nil {
			logger.Error().Err(relErr).Msg("Error releasing message")
		}
		return
	}
	if w.opts.Metrics != nil {
		w.opts.Metrics.Poisoned.WithLabelValues(t.Queue).Inc()
	}
	if ackErr := w.Driver.Ack(settleCtx, msg); ackErr != nil {
		logger.Error().Err(ackErr).Msg("Error deleting poisoned message")
	}
}

// concurrency is the number of listeners started per trigger
func (w *Worker) concurrency() int {
	if l, ok := w.Driver.(queue.ConcurrencyLimiter); ok && l.MaxConcurrency() > 0 && l.MaxConcurrency() < w.opts.Concurrency {
		return l.MaxConcurrency()
	}
	return w.opts.Concurrency
}

// renew keeps msg hidden from other listeners until the returned function is called
func (w *Worker) renew(ctx context.Context, msg *queue.Message) func() {
	extender, ok := w.Driver.(queue.Extender)
	if !ok {
		return func() {}
	}

	lease := *msg
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.opts.VisibilityTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := extender.Extend(context.WithoutCancel(ctx), &lease, w.opts.VisibilityTimeout); err != nil {
					telemetry.LoggerFromContext(ctx).Warn().Err(err).Msg("Error extending message visibility")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		msg.Receipt = lease.Receipt
	}
}

func (w *Worker) invoke(ctx context.Context, t queue.Trigger, msg *queue.Message) (err error) {
	data, err := w.opts.Encoding.Decode(msg.Body)
	if err != nil {
		return err
	}
	msg.Data = data

	ctx, cancel := context.WithTimeout(ctx, w.opts.FunctionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function %s panicked: %v", t.Function, r)
		}
	}()

	if err := t.Handler(ctx, msg); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("function %s timed out after %s: %w", t.Function, w.opts.FunctionTimeout, ctx.Err())
	}
	return nil
}

func (w *Worker) observe(t queue.Trigger, status string, elapsed time.Duration) {
	if w.opts.Metrics == nil {
		return
	}
	w.opts.Metrics.Invocations.WithLabelValues(t.Function, status).Inc()
	w.opts.Metrics.Duration.WithLabelValues(t.Function).Observe(elapsed.Seconds())
}

func nextInterval(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
