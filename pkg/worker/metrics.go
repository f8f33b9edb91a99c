package worker

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors updated by the listeners
type Metrics struct {
	Invocations *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Poisoned    *prometheus.CounterVec
	QueueDepth  *prometheus.GaugeVec
}

// NewMetrics registers the host collectors on reg, reusing collectors registered earlier
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.Invocations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "functions_invocations_total",
		Help: "Total number of function invocations by status",
	}, []string{"function", "status"}))
	if err != nil {
		return nil, err
	}

	m.Duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "functions_invocation_duration_seconds",
		Help:    "Time taken to execute a function",
		Buckets: prometheus.DefBuckets,
	}, []string{"function"}))
	if err != nil {
		return nil, err
	}

	m.Poisoned, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "functions_poison_messages_total",
		Help: "Messages moved to poison after exhausting their dequeue count",
	}, []string{"queue"}))
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "functions_queue_depth",
		Help: "Approximate number of messages waiting in a trigger queue",
	}, []string{"queue"}))
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register metric: %w", err)
	}
	return c, nil
}
