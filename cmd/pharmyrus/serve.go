package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dataholics-selfience/pharmyrus/config"
	"github.com/dataholics-selfience/pharmyrus/internal/handler"
	"github.com/dataholics-selfience/pharmyrus/internal/healthcheck"
	"github.com/dataholics-selfience/pharmyrus/internal/httpserver"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/pkg/logger"
)

// writeSlack is added to the pipeline deadline for the search response.
const writeSlack = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API",
	Long: `Starts the HTTP API. POST /api/v1/search runs one pipeline per request;
concurrent runs are bounded by pipeline.max_concurrent_runs.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg, os.Stdout)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector, err := metrics.NewCollector(cfg.Metrics.BufferSize, reg, logger.Component(log, "metrics"))
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, log, collector)
	if err != nil {
		log.Error("Failed to build service", slog.Any("err", err))
		return err
	}
	defer a.Close()

	opts := []handler.Option{
		handler.WithCache(a.cache),
		handler.WithMaxConcurrentRuns(cfg.Pipeline.MaxConcurrentRuns),
		handler.WithDefaultCountries(cfg.Pipeline.DefaultCountries),
	}
	if a.store != nil {
		opts = append(opts, handler.WithRunStore(a.store))
	}
	h := handler.NewSearchHandler(logger.Component(log, "http"), a.orchestrator, opts...)

	// Without a deadline a run is unbounded, so is the response.
	var writeTimeout time.Duration
	if d := config.Duration(cfg.Pipeline.Deadline, 0); d > 0 {
		writeTimeout = d + writeSlack
	}

	srv, err := httpserver.New(cfg.Server.Address,
		handler.Logging(logger.Component(log, "http"), setupRouter(h, reg)),
		httpserver.WithWriteTimeout(writeTimeout))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	collector.Start(gctx)

	if a.registry != nil {
		interval := config.Duration(cfg.HealthCheck.Interval, healthcheck.DefaultInterval)
		g.Go(func() error {
			healthcheck.HealthCheck(gctx, a.registry, interval, collector, logger.Component(log, "healthcheck"))
			return nil
		})
	}

	g.Go(func() error {
		log.Info("Listening", slog.String("addr", cfg.Server.Address))
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", slog.Any("err", err))
		return err
	}

	return nil
}
