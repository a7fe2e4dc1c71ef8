package metrics

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is how many latency samples a Recorder keeps.
const DefaultWindow = 100

// Recorder holds the rolling counters of one backend instance.
type Recorder struct {
	mutex         sync.RWMutex
	total         int64
	successful    int64
	failed        int64
	blocked       int64
	responseTimes []time.Duration
	window        int
}

type BackendMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	BlockedRequests    int64         `json:"blocked_requests"`
	SuccessRate        float64       `json:"success_rate"`
	Samples            int           `json:"samples"`
	AvgResponse        time.Duration `json:"avg_response"`
	P50Response        time.Duration `json:"p50_response"`
	P95Response        time.Duration `json:"p95_response"`
}

func NewRecorder(window int) *Recorder {
	if window < 1 {
		window = DefaultWindow
	}

	return &Recorder{
		responseTimes: make([]time.Duration, 0, window),
		window:        window,
	}
}

// RecordSuccess counts a call that produced results and keeps its latency.
func (m *Recorder) RecordSuccess(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.total++
	m.successful++

	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > m.window {
		m.responseTimes = m.responseTimes[1:]
	}
}

// RecordEmpty counts a call that worked but found nothing.
func (m *Recorder) RecordEmpty() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.total++
	m.successful++
}

func (m *Recorder) RecordFailure(blocked bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.total++
	m.failed++
	if blocked {
		m.blocked++
	}
}

func (m *Recorder) Snapshot() BackendMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	bm := BackendMetrics{
		TotalRequests:      m.total,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		BlockedRequests:    m.blocked,
		SuccessRate:        successRate(m.successful, m.total),
		Samples:            len(m.responseTimes),
	}

	if len(m.responseTimes) > 0 {
		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		bm.AvgResponse = average(sorted)
		bm.P50Response = percentile(sorted, 0.50)
		bm.P95Response = percentile(sorted, 0.95)
	}

	return bm
}

func successRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}

	return float64(successful) / float64(total)
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
