package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataholics-selfience/pharmyrus/internal/handler"
)

func setupRouter(h *handler.SearchHandler, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/search", h.Search)
	mux.HandleFunc("/api/v1/metrics", h.Metrics())
	mux.HandleFunc("/api/v1/admin/circuit-breakers/reset", h.ResetCircuitBreakers)
	mux.HandleFunc("/health", h.Health)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}
