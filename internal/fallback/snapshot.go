package fallback

import (
	"github.com/dataholics-selfience/pharmyrus/internal/backend"
)

type ManagerMetrics struct {
	TotalRequests  int64            `json:"total_requests"`
	TotalSuccesses int64            `json:"total_successes"`
	TotalFailures  int64            `json:"total_failures"`
	TotalCancelled int64            `json:"total_cancelled"`
	SuccessRate    float64          `json:"success_rate"`
	LayerUsage     map[string]int64 `json:"layer_usage"`
	LayerSuccesses map[string]int64 `json:"layer_successes"`
}

type Metrics struct {
	Manager  ManagerMetrics              `json:"manager"`
	Backends map[string]backend.Snapshot `json:"backends"`
}

// Metrics is a read-only view of the manager and every created backend.
func (m *Manager) Metrics() Metrics {
	m.mutex.Lock()
	mm := ManagerMetrics{
		TotalRequests:  m.totalRequests,
		TotalSuccesses: m.totalSuccesses,
		TotalFailures:  m.totalFailures,
		TotalCancelled: m.totalCancelled,
		LayerUsage:     copyCounts(m.layerUsage),
		LayerSuccesses: copyCounts(m.layerSuccesses),
	}
	backends := make(map[string]backend.Backend, len(m.backends))
	for name, b := range m.backends {
		backends[name] = b
	}
	m.mutex.Unlock()

	if mm.TotalRequests > 0 {
		mm.SuccessRate = float64(mm.TotalSuccesses) / float64(mm.TotalRequests)
	}

	out := Metrics{Manager: mm, Backends: make(map[string]backend.Snapshot, len(backends))}
	for name, b := range backends {
		out.Backends[name] = b.Snapshot()
	}

	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
