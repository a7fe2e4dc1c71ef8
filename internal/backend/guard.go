package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
)

const DefaultTimeout = 60 * time.Second

// Lifecycle hooks run by the Guard. Either may be nil.
type Lifecycle struct {
	Init    func(ctx context.Context) error
	Release func(ctx context.Context) error
}

type GuardOption func(*Guard)

func WithTimeout(timeout time.Duration) GuardOption {
	return func(g *Guard) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func WithRetry(policy pacing.RetryPolicy) GuardOption {
	return func(g *Guard) {
		g.retry = policy
	}
}

func WithRecorder(recorder *metrics.Recorder) GuardOption {
	return func(g *Guard) {
		if recorder != nil {
			g.recorder = recorder
		}
	}
}

func WithLifecycle(lc Lifecycle) GuardOption {
	return func(g *Guard) {
		g.lifecycle = lc
	}
}

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard holds the per-instance state shared by every backend implementation.
// The breaker may be shared with other instances of the same backend name;
// the failed flag and the recorder belong to this instance only.
type Guard struct {
	identity  Identity
	breaker   *circuitbreaker.Breaker
	recorder  *metrics.Recorder
	timeout   time.Duration
	retry     pacing.RetryPolicy
	lifecycle Lifecycle
	logger    *slog.Logger

	mutex       sync.Mutex
	initialized bool
	failed      bool
}

func NewGuard(identity Identity, breaker *circuitbreaker.Breaker, opts ...GuardOption) *Guard {
	if breaker == nil {
		breaker = circuitbreaker.New(identity.Name, circuitbreaker.DefaultThreshold, circuitbreaker.DefaultCooldown)
	}

	g := &Guard{
		identity: identity,
		breaker:  breaker,
		recorder: metrics.NewRecorder(metrics.DefaultWindow),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.With(slog.String("backend", identity.Name))

	return g
}

func (g *Guard) Identity() Identity {
	return g.identity
}

// Available reports whether an operation may be dispatched. An expired
// circuit recovers here.
func (g *Guard) Available() bool {
	g.mutex.Lock()
	failed := g.failed
	g.mutex.Unlock()

	if failed {
		return false
	}

	return g.breaker.Allow()
}

func (g *Guard) Health() circuitbreaker.Health {
	g.mutex.Lock()
	failed := g.failed
	g.mutex.Unlock()

	if failed {
		return circuitbreaker.HealthFailed
	}

	return g.breaker.Health()
}

// Initialize runs the Init hook once. A failure marks the instance failed.
func (g *Guard) Initialize(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.failed {
		return &InitializationError{Backend: g.identity.Name, Err: ErrUnavailable}
	}
	if g.initialized {
		return nil
	}

	if g.lifecycle.Init != nil {
		if err := g.lifecycle.Init(ctx); err != nil {
			g.failed = true
			g.logger.Error("backend initialization failed", slog.Any("err", err))
			return &InitializationError{Backend: g.identity.Name, Err: err}
		}
	}

	g.initialized = true
	g.logger.Debug("backend initialized")

	return nil
}

// Cleanup runs the Release hook if the instance was initialized. Release
// errors are logged, never returned.
func (g *Guard) Cleanup(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if !g.initialized {
		return nil
	}
	g.initialized = false

	if g.lifecycle.Release != nil {
		if err := g.lifecycle.Release(ctx); err != nil {
			g.logger.Warn("backend cleanup failed", slog.Any("err", err))
		}
	}

	g.logger.Debug("backend cleaned up")

	return nil
}

// Run executes fn under the guard. fn reports how many items it produced;
// zero is an empty result, which is not a breaker failure.
func (g *Guard) Run(ctx context.Context, op string, fn func(ctx context.Context) (int, error)) error {
	if !g.Available() {
		return fmt.Errorf("backend %s: %s: %w", g.identity.Name, op, ErrUnavailable)
	}

	if err := g.Initialize(ctx); err != nil {
		return err
	}

	g.breaker.Begin()
	start := time.Now()

	var count int
	attempt := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		n, err := fn(callCtx)
		if err == nil {
			count = n
			return nil
		}

		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !IsTransport(err) {
			err = &TransportError{Backend: g.identity.Name, Op: op, Err: fmt.Errorf("timed out after %s: %w", g.timeout, err)}
		}

		return err
	}

	retryable := func(err error) bool {
		return ctx.Err() == nil && IsTransport(err)
	}

	err := pacing.Retry(ctx, g.retry, retryable, attempt)

	switch {
	case err == nil && count > 0:
		g.breaker.RecordSuccess()
		g.recorder.RecordSuccess(time.Since(start))
	case err == nil:
		g.breaker.RecordEmpty()
		g.recorder.RecordEmpty()
	case ctx.Err() != nil:
		// The caller went away; the backend is not at fault.
		g.breaker.RecordEmpty()
		return fmt.Errorf("backend %s: %s: %w", g.identity.Name, op, ctx.Err())
	default:
		blocked := IsBlocked(err)
		g.recorder.RecordFailure(blocked)
		g.breaker.RecordFailure()
		g.logger.Debug("backend operation failed",
			slog.String("op", op),
			slog.Bool("blocked", blocked),
			slog.Any("err", err))
	}

	return err
}

func (g *Guard) ResetCircuit() {
	g.breaker.Reset()
}

func (g *Guard) Snapshot() Snapshot {
	g.mutex.Lock()
	initialized := g.initialized
	g.mutex.Unlock()

	return Snapshot{
		Identity:       g.identity,
		Health:         g.Health(),
		Initialized:    initialized,
		CircuitBreaker: g.breaker.State(),
		Metrics:        g.recorder.Snapshot(),
	}
}

// Collect runs a slice-producing operation under g.
func Collect[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) ([]T, error)) ([]T, error) {
	var out []T

	err := g.Run(ctx, op, func(ctx context.Context) (int, error) {
		items, err := fn(ctx)
		if err != nil {
			return 0, err
		}
		out = items
		return len(items), nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
