package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
)

const DefaultInterval = 30 * time.Second

// Sweeper is satisfied by *circuitbreaker.Registry.
type Sweeper interface {
	Sweep() []circuitbreaker.State
}

// HealthCheck sweeps registry every interval until ctx is done.
func HealthCheck(
	ctx context.Context,
	registry Sweeper,
	interval time.Duration,
	sink metrics.Sink,
	logger *slog.Logger,
) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Health check stopped")
			return

		case <-ticker.C:
			Check(registry, sink, logger)
		}
	}
}

// Check runs one sweep and returns how many backends changed health.
func Check(registry Sweeper, sink metrics.Sink, logger *slog.Logger) int {
	changed := registry.Sweep()

	for _, st := range changed {
		if st.Health == circuitbreaker.HealthReady {
			logger.Info("Backend is back up", slog.String("backend", st.Name))
		} else {
			logger.Warn("Backend health changed",
				slog.String("backend", st.Name),
				slog.String("health", st.Health.String()))
		}

		if sink != nil {
			sink.Emit(metrics.MetricEvent{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Backend:   st.Name,
				Health:    st.Health.String(),
			})
		}
	}

	return len(changed)
}
