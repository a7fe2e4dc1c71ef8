package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultThreshold = 3
	DefaultCooldown  = 5 * time.Minute
)

type Health int

const (
	HealthReady       Health = iota // Accepting operations
	HealthRunning                   // Operation in flight
	HealthCircuitOpen               // Cooling down after repeated failures
	HealthFailed                    // Resource could not be created, out for the run
)

func (h Health) String() string {
	switch h {
	case HealthReady:
		return "ready"
	case HealthRunning:
		return "running"
	case HealthCircuitOpen:
		return "circuit_open"
	case HealthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

type Option func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *Breaker) {
		cb.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cb *Breaker) {
		cb.logger = logger
	}
}

// Breaker tracks consecutive failures of one backend. Once the threshold is
// reached the circuit stays open until the cooldown elapses; the first Allow
// after that zeroes the counter and starts a half-open probe, during which a
// single failure reopens the circuit.
type Breaker struct {
	mutex     sync.Mutex
	name      string
	health    Health
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool
	now       func() time.Time
	logger    *slog.Logger
}

// State is a point-in-time copy of a breaker.
type State struct {
	Name                string        `json:"name"`
	Health              Health        `json:"health"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Threshold           int           `json:"threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	OpenUntil           time.Time     `json:"open_until,omitempty"`
	CooldownRemaining   time.Duration `json:"cooldown_remaining"`
	IsOpen              bool          `json:"is_open"`
}

func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	cb := &Breaker{
		name:      name,
		health:    HealthReady,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

func (cb *Breaker) Name() string {
	return cb.name
}

// Allow reports whether an operation may be dispatched. It is also the only
// place where an expired circuit recovers.
func (cb *Breaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.now().Before(cb.openUntil) {
		return false
	}

	if cb.health == HealthCircuitOpen {
		cb.health = HealthReady
		cb.failures = 0
		cb.probing = true
		cb.logger.Info("circuit breaker cooled down, probing",
			slog.String("backend", cb.name))
	}

	return true
}

// Begin marks an operation as in flight.
func (cb *Breaker) Begin() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.health == HealthReady {
		cb.health = HealthRunning
	}
}

// RecordSuccess closes the breaker and zeroes the failure counter. A late
// success on an open circuit leaves it open until the cooldown ends.
func (cb *Breaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.health == HealthCircuitOpen {
		return
	}

	cb.failures = 0
	cb.probing = false
	cb.health = HealthReady
}

// RecordEmpty ends an operation that worked but found nothing. The failure
// counter is left alone.
func (cb *Breaker) RecordEmpty() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.health == HealthCircuitOpen {
		return
	}

	cb.probing = false
	if cb.health == HealthRunning {
		cb.health = HealthReady
	}
}

// RecordFailure counts a failure and reports whether it opened the circuit.
func (cb *Breaker) RecordFailure() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++

	if cb.probing || cb.failures >= cb.threshold {
		cb.open()
		return true
	}

	if cb.health == HealthRunning {
		cb.health = HealthReady
	}

	return false
}

func (cb *Breaker) open() {
	cb.openUntil = cb.now().Add(cb.cooldown)
	cb.health = HealthCircuitOpen
	cb.probing = false

	cb.logger.Warn("circuit breaker opened",
		slog.String("backend", cb.name),
		slog.Int("failures", cb.failures),
		slog.Duration("cooldown", cb.cooldown))
}

// Reset closes the circuit without touching whatever resource the backend holds.
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.openUntil = time.Time{}
	cb.probing = false
	cb.health = HealthReady
}

func (cb *Breaker) Health() Health {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.health
}

func (cb *Breaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

func (cb *Breaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	st := State{
		Name:                cb.name,
		Health:              cb.health,
		ConsecutiveFailures: cb.failures,
		Threshold:           cb.threshold,
		Cooldown:            cb.cooldown,
		OpenUntil:           cb.openUntil,
		IsOpen:              cb.health == HealthCircuitOpen,
	}

	if remaining := cb.openUntil.Sub(cb.now()); remaining > 0 {
		st.CooldownRemaining = remaining
	}

	return st
}
