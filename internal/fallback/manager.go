package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
)

// NoBackend is reported when no backend in the chain produced a result.
const NoBackend = "none"

var ErrClosed = errors.New("fallback manager closed")

// Factory builds a backend without doing any I/O.
type Factory func() backend.Backend

type Option func(*Manager)

func WithDelayPolicy(policy pacing.DelayPolicy) Option {
	return func(m *Manager) {
		if policy != nil {
			m.delay = policy
		}
	}
}

func WithSink(sink metrics.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type Manager struct {
	table     *strategy.Table
	factories map[string]Factory
	delay     pacing.DelayPolicy
	sink      metrics.Sink
	logger    *slog.Logger

	mutex    sync.Mutex
	backends map[string]backend.Backend
	created  []string
	closed   bool

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalCancelled int64
	layerUsage     map[string]int64
	layerSuccesses map[string]int64
}

// NewManager checks that every backend the table references has a factory.
func NewManager(table *strategy.Table, factories map[string]Factory, opts ...Option) (*Manager, error) {
	known := make([]string, 0, len(factories))
	for name := range factories {
		known = append(known, name)
	}
	if err := table.Validate(known); err != nil {
		return nil, err
	}

	m := &Manager{
		table:          table,
		factories:      factories,
		delay:          pacing.Zero,
		logger:         slog.Default(),
		backends:       make(map[string]backend.Backend),
		layerUsage:     make(map[string]int64),
		layerSuccesses: make(map[string]int64),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With(slog.String("component", "fallback"))

	return m, nil
}

// backend returns the named instance, creating it on first use.
func (m *Manager) backend(name string) (backend.Backend, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if b, ok := m.backends[name]; ok {
		return b, nil
	}

	factory, ok := m.factories[name]
	if !ok {
		return nil, fmt.Errorf("no factory for backend %q", name)
	}

	b := factory()
	m.backends[name] = b
	m.created = append(m.created, name)

	m.logger.Debug("backend created", slog.String("backend", name))

	return b, nil
}

func (m *Manager) emit(event metrics.MetricEvent) {
	if m.sink == nil {
		return
	}
	event.Timestamp = time.Now()
	m.sink.Emit(event)
}

func (m *Manager) record(fn func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fn()
}

// Execute walks target's chain with fn. isEmpty decides whether a result
// counts; nil treats every successful call as non-empty. The only error
// returned is an unknown target.
func Execute[T any](ctx context.Context, m *Manager, target, op string,
	fn func(ctx context.Context, b backend.Backend) (T, error), isEmpty func(T) bool,
) (T, string, error) {
	var zero T

	chain, err := m.table.Chain(target)
	if err != nil {
		return zero, NoBackend, err
	}

	m.record(func() { m.totalRequests++ })

	for i, name := range chain {
		if ctx.Err() != nil {
			return zero, m.cancelled(target, op), nil
		}

		b, err := m.backend(name)
		if err != nil {
			m.logger.Warn("backend not usable", slog.String("backend", name), slog.Any("err", err))
			continue
		}

		if !b.Available() {
			m.logger.Debug("backend unavailable, skipping",
				slog.String("backend", name),
				slog.String("health", b.Health().String()))
			m.emit(metrics.MetricEvent{Type: metrics.EventBackendSkipped, Backend: name, Target: target, Operation: op})
			continue
		}

		m.record(func() { m.layerUsage[name]++ })

		start := time.Now()
		result, err := fn(ctx, b)
		elapsed := time.Since(start)

		attempt := metrics.MetricEvent{
			Type:      metrics.EventBackendAttempt,
			Backend:   name,
			Target:    target,
			Operation: op,
			Duration:  elapsed,
		}

		switch {
		case err != nil:
			m.logger.Warn("backend attempt failed",
				slog.String("backend", name),
				slog.Int("attempt", i+1),
				slog.String("target", target),
				slog.String("op", op),
				slog.Any("err", err))
			attempt.Outcome = metrics.OutcomeError
			m.emit(attempt)
		case isEmpty != nil && isEmpty(result):
			m.logger.Debug("backend returned nothing",
				slog.String("backend", name),
				slog.Int("attempt", i+1),
				slog.String("op", op))
			attempt.Outcome = metrics.OutcomeEmpty
			m.emit(attempt)
		default:
			m.record(func() {
				m.totalSuccesses++
				m.layerSuccesses[name]++
			})
			attempt.Outcome = metrics.OutcomeSuccess
			m.emit(attempt)
			return result, name, nil
		}
	}

	if ctx.Err() != nil {
		return zero, m.cancelled(target, op), nil
	}

	m.record(func() { m.totalFailures++ })
	m.emit(metrics.MetricEvent{Type: metrics.EventFallbackExhausted, Backend: NoBackend, Target: target, Operation: op})
	m.logger.Info("no backend produced a result", slog.String("target", target), slog.String("op", op))

	return zero, NoBackend, nil
}

// cancelled counts a walk the caller abandoned. It is neither a success nor
// an exhausted chain.
func (m *Manager) cancelled(target, op string) string {
	m.record(func() { m.totalCancelled++ })
	m.logger.Info("fallback walk cancelled", slog.String("target", target), slog.String("op", op))
	return NoBackend
}

func emptyIDs(ids []patent.Identifier) bool {
	return len(ids) == 0
}

func (m *Manager) Search(ctx context.Context, target, query string, max int) ([]patent.Identifier, string, error) {
	return Execute(ctx, m, target, backend.OpSearch,
		func(ctx context.Context, b backend.Backend) ([]patent.Identifier, error) {
			return b.SearchIdentifiers(ctx, query, max)
		}, emptyIDs)
}

func (m *Manager) FetchDetails(ctx context.Context, target string, id patent.Identifier) (*patent.Record, string, error) {
	return Execute(ctx, m, target, backend.OpDetails,
		func(ctx context.Context, b backend.Backend) (*patent.Record, error) {
			return b.FetchDetails(ctx, id)
		}, func(r *patent.Record) bool { return r == nil })
}

func (m *Manager) ExpandFamily(ctx context.Context, target string, id patent.Identifier, countries []string) ([]patent.Identifier, string, error) {
	return Execute(ctx, m, target, backend.OpExpand,
		func(ctx context.Context, b backend.Backend) ([]patent.Identifier, error) {
			return b.ExpandFamily(ctx, id, countries)
		}, emptyIDs)
}

// ResetCircuitBreakers closes the breaker of every created backend and
// returns how many were reset. Sessions are left alone.
func (m *Manager) ResetCircuitBreakers() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, name := range m.created {
		m.backends[name].ResetCircuit()
	}

	m.logger.Info("circuit breakers reset", slog.Int("backends", len(m.created)))

	return len(m.created)
}

// Close cleans up every created backend once, in creation order. Cleanup
// errors are logged. Later calls do nothing.
func (m *Manager) Close(ctx context.Context) error {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil
	}
	m.closed = true
	created := append([]string(nil), m.created...)
	backends := m.backends
	m.mutex.Unlock()

	for _, name := range created {
		if err := backends[name].Cleanup(ctx); err != nil {
			m.logger.Warn("backend cleanup failed", slog.String("backend", name), slog.Any("err", err))
		}
	}

	m.logger.Debug("fallback manager closed", slog.Int("backends", len(created)))

	return nil
}

// Created lists the backends instantiated so far, sorted.
func (m *Manager) Created() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	names := append([]string(nil), m.created...)
	sort.Strings(names)
	return names
}
