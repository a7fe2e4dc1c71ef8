package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dataholics-selfience/pharmyrus/internal/cache"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/orchestrator"
	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
)

const maxRequestBody = 1 << 20

// Searcher runs pipelines and administers shared breaker state.
type Searcher interface {
	Search(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	ResetCircuitBreakers() int
	Stats() orchestrator.Stats
}

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, res *pipeline.Result) (int, error)
}

type Option func(*SearchHandler)

func WithCache(c cache.Cache) Option {
	return func(h *SearchHandler) {
		if c != nil {
			h.cache = c
		}
	}
}

func WithRunStore(s RunStore) Option {
	return func(h *SearchHandler) { h.store = s }
}

// WithMaxConcurrentRuns bounds parallel pipeline runs; requests wait for a
// slot until their context ends.
func WithMaxConcurrentRuns(n int) Option {
	return func(h *SearchHandler) {
		if n > 0 {
			h.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDefaultCountries sets the countries a request without any runs
// against. It must match the pipeline's default so cache keys agree.
func WithDefaultCountries(countries []string) Option {
	return func(h *SearchHandler) {
		if len(countries) > 0 {
			h.defaultCountries = countries
		}
	}
}

type SearchHandler struct {
	logger           *slog.Logger
	searcher         Searcher
	cache            cache.Cache
	store            RunStore
	slots            *semaphore.Weighted
	defaultCountries []string
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewSearchHandler(logger *slog.Logger, searcher Searcher, opts ...Option) *SearchHandler {
	h := &SearchHandler{
		logger:           logger,
		searcher:         searcher,
		cache:            cache.Nop{},
		slots:            semaphore.NewWeighted(1),
		defaultCountries: pipeline.DefaultCountries,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	if strings.TrimSpace(req.MoleculeName) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: pipeline.ErrMissingMolecule.Error()})
		return
	}

	if len(req.TargetCountries) == 0 {
		req.TargetCountries = h.defaultCountries
	}

	log := h.logger.With(
		slog.String("client", extractClientIP(r)),
		slog.String("molecule", req.MoleculeName))

	if res, err := cache.Load(r.Context(), h.cache, req); err == nil {
		log.Info("Serving cached result", slog.String("run_id", res.RunID))
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, res)
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn("Cache lookup failed", slog.Any("err", err))
	}

	if err := h.slots.Acquire(r.Context(), 1); err != nil {
		log.Warn("No run slot available")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "search capacity exhausted, retry later"})
		return
	}
	defer h.slots.Release(1)

	log.Info("Starting search")

	res, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrMissingMolecule) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		log.Error("Search failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	// The client may be gone; persistence must not depend on it.
	bg := context.WithoutCancel(r.Context())

	if err := cache.Store(bg, h.cache, req, res); err != nil {
		log.Warn("Caching result failed", slog.Any("err", err))
	}
	if h.store != nil {
		if _, err := h.store.Save(bg, res); err != nil {
			log.Warn("Saving run failed", slog.String("run_id", res.RunID), slog.Any("err", err))
		}
	}

	w.Header().Set("X-Cache", "MISS")
	w.Header().Set("X-Run-ID", res.RunID)
	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status   string            `json:"status"`
	Time     time.Time         `json:"time"`
	Backends map[string]string `json:"backends"`
}

// Health handles GET /health. The service is degraded while any shared
// circuit is open.
func (h *SearchHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.searcher.Stats()

	resp := healthResponse{Status: "ok", Time: time.Now().UTC(), Backends: map[string]string{}}
	for name, cb := range st.CircuitBreakers {
		resp.Backends[name] = cb.Health.String()
		if cb.IsOpen {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /api/v1/metrics.
func (h *SearchHandler) Metrics() http.HandlerFunc {
	return metrics.Handler(h.searcher.Stats)
}

type resetResponse struct {
	Reset int `json:"reset"`
}

// ResetCircuitBreakers handles POST /api/v1/admin/circuit-breakers/reset.
func (h *SearchHandler) ResetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	n := h.searcher.ResetCircuitBreakers()
	h.logger.Info("Circuit breakers reset", slog.Int("count", n), slog.String("client", extractClientIP(r)))

	writeJSON(w, http.StatusOK, resetResponse{Reset: n})
}

// Logging wraps next with one access log line per request.
func Logging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.Info("Handled request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("user_agent", r.UserAgent()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
