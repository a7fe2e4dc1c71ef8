// Package metrics tracks how the acquisition backends perform.
//
// Two layers live here:
//   - Recorder: per-backend counters (total, successful, failed, blocked) and
//     a bounded window of the last 100 latencies used for rolling averages.
//     Total always equals successful plus failed.
//   - Collector: a channel-fed goroutine that turns fallback and pipeline
//     events into Prometheus series. Emit never blocks; a full buffer drops
//     the event.
//
// Example usage:
//
//	collector, err := metrics.NewCollector(1000, prometheus.DefaultRegisterer, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:      metrics.EventBackendAttempt,
//		Backend:   "primary",
//		Target:    "google_patents",
//		Operation: "search",
//		Outcome:   metrics.OutcomeSuccess,
//		Duration:  2 * time.Second,
//	})
package metrics
