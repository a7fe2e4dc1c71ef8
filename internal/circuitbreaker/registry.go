package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

// Registry hands out one breaker per backend name so health history can
// outlive a single pipeline run.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
	opts      []Option
}

func NewRegistry(threshold int, cooldown time.Duration, opts ...Option) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
		opts:      opts,
	}
}

// Breaker returns the breaker registered under name, creating it on first
// use. A positive cooldown overrides the registry default for a new breaker;
// it is ignored once the breaker exists.
func (r *Registry) Breaker(name string, cooldown time.Duration) *Breaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	if cooldown <= 0 {
		cooldown = r.cooldown
	}

	cb = New(name, r.threshold, cooldown, r.opts...)
	r.breakers[name] = cb
	return cb
}

// ResetAll closes every registered circuit and returns how many it touched.
func (r *Registry) ResetAll() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}

	return len(r.breakers)
}

// Sweep runs the availability check on every breaker, letting expired
// circuits recover without waiting for traffic. It returns the breakers
// whose health changed.
func (r *Registry) Sweep() []State {
	var changed []State

	for _, cb := range r.all() {
		before := cb.Health()
		cb.Allow()
		if after := cb.State(); after.Health != before {
			changed = append(changed, after)
		}
	}

	return changed
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) all() []*Breaker {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*Breaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	return out
}
