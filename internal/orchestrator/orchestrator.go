// Package orchestrator turns a search request into a fresh pipeline run.
// Every run gets its own manager and backend sessions; only circuit-breaker
// state is shared between runs, through an injected registry.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/browser"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/lightweight"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/fallback"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
)

// Backend kinds and browser variants.
const (
	KindBrowser     = "browser"
	KindLightweight = "lightweight"

	VariantPrimary   = "primary"
	VariantSecondary = "secondary"
)

// BreakerFunc hands out the breaker for a backend.
type BreakerFunc func(name string, cooldown time.Duration) *circuitbreaker.Breaker

// FactoryBuilder returns one factory per backend name for a single run.
type FactoryBuilder func(breakerFor BreakerFunc) map[string]fallback.Factory

// BackendSpec describes one configured backend.
type BackendSpec struct {
	Kind     string
	Variant  string
	Identity backend.Identity
	Timeout  time.Duration
	Cooldown time.Duration
	Retry    pacing.RetryPolicy

	Lightweight lightweight.Config
	Browser     browser.Config
}

// FromSpecs builds real backends from specs.
func FromSpecs(specs []BackendSpec, logger *slog.Logger) FactoryBuilder {
	return func(breakerFor BreakerFunc) map[string]fallback.Factory {
		factories := make(map[string]fallback.Factory, len(specs))

		for _, spec := range specs {
			name := spec.Identity.Name

			factories[name] = func() backend.Backend {
				log := logger.With(slog.String("backend", name))
				breaker := breakerFor(name, spec.Cooldown)
				opts := []backend.GuardOption{
					backend.WithTimeout(spec.Timeout),
					backend.WithRetry(spec.Retry),
					backend.WithGuardLogger(log),
				}

				switch {
				case spec.Kind == KindLightweight:
					cfg := spec.Lightweight
					cfg.Identity = spec.Identity
					return lightweight.New(cfg, breaker, log, opts...)
				case spec.Variant == VariantSecondary:
					cfg := spec.Browser
					cfg.Identity = spec.Identity
					return browser.NewSecondary(cfg, breaker, log, opts...)
				default:
					cfg := spec.Browser
					cfg.Identity = spec.Identity
					return browser.NewPrimary(cfg, breaker, log, opts...)
				}
			}
		}

		return factories
	}
}

type Config struct {
	Pipeline pipeline.Config
	// Threshold and Cooldown configure breakers the registry creates.
	Threshold int
	Cooldown  time.Duration
}

type Option func(*Orchestrator)

// WithSharedRegistry keeps breaker state across runs.
func WithSharedRegistry(r *circuitbreaker.Registry) Option {
	return func(o *Orchestrator) { o.shared = r }
}

func WithIntelligence(i pipeline.Intelligence) Option {
	return func(o *Orchestrator) { o.intel = i }
}

func WithDirectSearch(d pipeline.DirectSearch) Option {
	return func(o *Orchestrator) { o.direct = d }
}

func WithDelayPolicy(p pacing.DelayPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.delay = p
		}
	}
}

func WithSink(s metrics.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

type Orchestrator struct {
	cfg    Config
	table  *strategy.Table
	build  FactoryBuilder
	shared *circuitbreaker.Registry
	intel  pipeline.Intelligence
	direct pipeline.DirectSearch
	delay  pacing.DelayPolicy
	sink   metrics.Sink
	logger *slog.Logger

	runs   atomic.Int64
	active atomic.Int64

	mutex   sync.Mutex
	lastRun *fallback.Metrics
}

func New(cfg Config, table *strategy.Table, build FactoryBuilder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		table:  table,
		build:  build,
		delay:  pacing.Zero,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Orchestrator) registry() *circuitbreaker.Registry {
	if o.shared != nil {
		return o.shared
	}
	return circuitbreaker.NewRegistry(o.cfg.Threshold, o.cfg.Cooldown,
		circuitbreaker.WithLogger(o.logger))
}

// Search executes one pipeline run for req.
func (o *Orchestrator) Search(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	reg := o.registry()

	manager, err := fallback.NewManager(o.table, o.build(reg.Breaker),
		fallback.WithDelayPolicy(o.delay),
		fallback.WithSink(o.sink),
		fallback.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithDelayPolicy(o.delay),
		pipeline.WithSink(o.sink),
		pipeline.WithLogger(o.logger),
	}
	if o.intel != nil {
		opts = append(opts, pipeline.WithIntelligence(o.intel))
	}
	if o.direct != nil {
		opts = append(opts, pipeline.WithDirectSearch(o.direct))
	}

	run := pipeline.New(manager, o.cfg.Pipeline, opts...)

	o.active.Add(1)
	defer o.active.Add(-1)

	res, err := run.Execute(ctx, req)
	if err != nil {
		// The manager is closed even when the request is rejected.
		return nil, err
	}

	o.runs.Add(1)
	o.mutex.Lock()
	o.lastRun = &res.Metrics
	o.mutex.Unlock()

	return res, nil
}

// ResetCircuitBreakers closes every shared circuit. Without a shared
// registry there is nothing that outlives a run, so it returns zero.
func (o *Orchestrator) ResetCircuitBreakers() int {
	if o.shared == nil {
		return 0
	}
	return o.shared.ResetAll()
}

type Stats struct {
	Runs            int64                           `json:"runs"`
	ActiveRuns      int64                           `json:"active_runs"`
	CircuitBreakers map[string]circuitbreaker.State `json:"circuit_breakers"`
	LastRun         *fallback.Metrics               `json:"last_run,omitempty"`
}

func (o *Orchestrator) Stats() Stats {
	st := Stats{
		Runs:            o.runs.Load(),
		ActiveRuns:      o.active.Load(),
		CircuitBreakers: map[string]circuitbreaker.State{},
	}
	if o.shared != nil {
		st.CircuitBreakers = o.shared.Stats()
	}

	o.mutex.Lock()
	st.LastRun = o.lastRun
	o.mutex.Unlock()

	return st
}
