package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dataholics-selfience/pharmyrus/config"
	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/browser"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/lightweight"
	"github.com/dataholics-selfience/pharmyrus/internal/cache"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/directsearch"
	"github.com/dataholics-selfience/pharmyrus/internal/intel"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/orchestrator"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
	"github.com/dataholics-selfience/pharmyrus/internal/runstore"
	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
	"github.com/dataholics-selfience/pharmyrus/pkg/logger"
)

const (
	defaultBackendTimeout = backend.DefaultTimeout
	retryBaseDelay        = time.Second
	retryMaxDelay         = 30 * time.Second
)

func loadConfig() (*config.Config, error) {
	return config.LoadFile(configFile)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)
}

func backendSpecs(cfg *config.Config) []orchestrator.BackendSpec {
	specs := make([]orchestrator.BackendSpec, 0, len(cfg.Backends))

	for _, b := range cfg.Backends {
		spec := orchestrator.BackendSpec{
			Kind:     b.Kind,
			Variant:  b.Variant,
			Identity: backend.Identity{Name: strings.ToLower(b.Name), Tier: b.Tier},
			Timeout:  config.Duration(b.Timeout, defaultBackendTimeout),
			Cooldown: config.Duration(b.Cooldown, 0),
			Retry: pacing.RetryPolicy{
				MaxRetries: b.Retries,
				BaseDelay:  retryBaseDelay,
				MaxDelay:   retryMaxDelay,
			},
		}

		switch b.Kind {
		case config.KindLightweight:
			spec.Lightweight = lightweight.Config{
				SearchURL:             b.SearchURL,
				WIPOURL:               b.WIPOURL,
				MaxRequestsPerSession: b.MaxRequestsPerSession,
				MaxSessionAge:         config.Duration(b.MaxSessionAge, 0),
			}
		case config.KindBrowser:
			spec.Browser = browser.Config{
				SearchURL:     b.SearchURL,
				RemoteURL:     b.RemoteURL,
				ExecPath:      b.ExecPath,
				Headless:      b.Headless,
				MaxSessionAge: config.Duration(b.MaxSessionAge, 0),
			}
		}

		specs = append(specs, spec)
	}

	return specs
}

// targetChains lowercases backend names to match backendSpecs.
func targetChains(cfg *config.Config) map[string][]string {
	chains := make(map[string][]string, len(cfg.Targets))
	for target, chain := range cfg.Targets {
		for _, name := range chain {
			chains[target] = append(chains[target], strings.ToLower(name))
		}
	}
	return chains
}

func delayPolicy(cfg *config.Config) pacing.DelayPolicy {
	if !cfg.Pacing.Enabled {
		return pacing.Zero
	}

	bounds := make(map[string]pacing.Bounds, len(cfg.Pacing.Sites))
	for site, b := range cfg.Pacing.Sites {
		bounds[site] = pacing.Bounds{
			Min: config.Duration(b.Min, 0),
			Max: config.Duration(b.Max, 0),
		}
	}

	return pacing.NewGaussian(bounds, 0)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Target:             cfg.Pipeline.Target,
		MaxQueries:         cfg.Pipeline.MaxQueries,
		ExpansionCap:       cfg.Pipeline.ExpansionCap,
		MaxResultsPerQuery: cfg.Pipeline.MaxResultsPerQuery,
		Deadline:           config.Duration(cfg.Pipeline.Deadline, 0),
		DirectCountry:      cfg.DirectSearch.Country,
		DefaultCountries:   cfg.Pipeline.DefaultCountries,
	}
}

// app holds everything serve and search share.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *circuitbreaker.Registry
	orchestrator *orchestrator.Orchestrator
	cache        cache.Cache
	store        *runstore.Store
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache failed", slog.Any("err", err))
	}
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp wires the configured stack. sink may be nil.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, sink metrics.Sink) (*app, error) {
	table, err := strategy.NewTable(targetChains(cfg))
	if err != nil {
		return nil, fmt.Errorf("strategy table: %w", err)
	}

	names := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, strings.ToLower(b.Name))
	}
	if err := table.Validate(names); err != nil {
		return nil, fmt.Errorf("strategy table: %w", err)
	}

	a := &app{cfg: cfg, logger: log, cache: cache.Nop{}}

	cooldown := config.Duration(cfg.CircuitBreaker.Cooldown, circuitbreaker.DefaultCooldown)
	opts := []orchestrator.Option{
		orchestrator.WithDelayPolicy(delayPolicy(cfg)),
		orchestrator.WithLogger(logger.Component(log, "pipeline")),
	}
	if sink != nil {
		opts = append(opts, orchestrator.WithSink(sink))
	}

	if cfg.CircuitBreaker.Shared {
		a.registry = circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cooldown,
			circuitbreaker.WithLogger(logger.Component(log, "circuitbreaker")))
		opts = append(opts, orchestrator.WithSharedRegistry(a.registry))
	}

	if cfg.Intelligence.Enabled {
		opts = append(opts, orchestrator.WithIntelligence(intel.New(intel.Config{
			BaseURL: cfg.Intelligence.BaseURL,
			Timeout: config.Duration(cfg.Intelligence.Timeout, 0),
			Retry:   pacing.RetryPolicy{MaxRetries: 2, BaseDelay: retryBaseDelay, MaxDelay: 10 * time.Second},
		}, log)))
	}

	if cfg.DirectSearch.Enabled {
		opts = append(opts, orchestrator.WithDirectSearch(directsearch.New(directsearch.Config{
			URL:       cfg.DirectSearch.URL,
			Timeout:   config.Duration(cfg.DirectSearch.Timeout, 0),
			Threshold: uint32(cfg.DirectSearch.Threshold),
			Cooldown:  config.Duration(cfg.DirectSearch.Cooldown, 0),
		}, log)))
	}

	if cfg.Cache.Enabled {
		c, err := cache.NewRedis(ctx, cache.Config{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      config.Duration(cfg.Cache.TTL, 0),
		})
		if err != nil {
			return nil, err
		}
		a.cache = c
	}

	if cfg.RunStore.Enabled {
		store, err := runstore.Open(ctx, cfg.RunStore.DSN, cfg.RunStore.MaxConns)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			a.Close()
			return nil, err
		}
		a.store = store
	}

	a.orchestrator = orchestrator.New(orchestrator.Config{
		Pipeline:  pipelineConfig(cfg),
		Threshold: cfg.CircuitBreaker.Threshold,
		Cooldown:  cooldown,
	}, table, orchestrator.FromSpecs(backendSpecs(cfg), logger.Component(log, "backend")), opts...)

	return a, nil
}
