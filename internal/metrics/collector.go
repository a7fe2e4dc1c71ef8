package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventBackendAttempt    EventType = "backend_attempt"
	EventBackendSkipped    EventType = "backend_skipped"
	EventFallbackExhausted EventType = "fallback_exhausted"
	EventHealthChanged     EventType = "health_changed"
	EventRunCompleted      EventType = "run_completed"
)

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Target    string
	Operation string
	Outcome   string
	Health    string
	Status    string
	Duration  time.Duration
	Records   int
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Emit(event MetricEvent)
}

// Collector turns events into Prometheus series on its own goroutine.
type Collector struct {
	eventCh chan MetricEvent
	logger  *slog.Logger

	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	skipped     *prometheus.CounterVec
	exhausted   *prometheus.CounterVec
	health      *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	runRecords  prometheus.Histogram
}

func NewCollector(bufferSize int, reg prometheus.Registerer, logger *slog.Logger) (*Collector, error) {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		logger:  logger,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmyrus",
			Name:      "backend_attempts_total",
			Help:      "Backend operations dispatched by the fallback manager, by outcome.",
		}, []string{"backend", "target", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharmyrus",
			Name:      "backend_attempt_seconds",
			Help:      "Backend operation latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"backend", "operation"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmyrus",
			Name:      "backend_skipped_total",
			Help:      "Backends skipped because their circuit was open or they failed to start.",
		}, []string{"backend", "target"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmyrus",
			Name:      "fallback_exhausted_total",
			Help:      "Operations for which no backend in the chain produced a result.",
		}, []string{"target", "operation"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pharmyrus",
			Name:      "backend_health",
			Help:      "Backend health: 0 ready, 1 running, 2 circuit open, 3 failed.",
		}, []string{"backend"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmyrus",
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pharmyrus",
			Name:      "pipeline_run_seconds",
			Help:      "Pipeline run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		runRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pharmyrus",
			Name:      "pipeline_run_records",
			Help:      "Deduplicated records returned per run.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
	}

	collectors := []prometheus.Collector{
		c.attempts, c.latency, c.skipped, c.exhausted, c.health, c.runs, c.runDuration, c.runRecords,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Emit queues an event and drops it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventBackendAttempt:
		c.attempts.WithLabelValues(event.Backend, event.Target, event.Operation, event.Outcome).Inc()
		c.latency.WithLabelValues(event.Backend, event.Operation).Observe(event.Duration.Seconds())

	case EventBackendSkipped:
		c.skipped.WithLabelValues(event.Backend, event.Target).Inc()

	case EventFallbackExhausted:
		c.exhausted.WithLabelValues(event.Target, event.Operation).Inc()

	case EventHealthChanged:
		c.health.WithLabelValues(event.Backend).Set(healthValue(event.Health))

	case EventRunCompleted:
		c.runs.WithLabelValues(event.Status).Inc()
		c.runDuration.Observe(event.Duration.Seconds())
		c.runRecords.Observe(float64(event.Records))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func healthValue(health string) float64 {
	switch health {
	case "running":
		return 1
	case "circuit_open":
		return 2
	case "failed":
		return 3
	default:
		return 0
	}
}
