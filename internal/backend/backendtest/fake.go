// Package backendtest provides a scriptable Backend for tests.
package backendtest

import (
	"context"
	"sync"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

// Fake answers every operation from its funcs; a nil func yields an empty
// result. All calls go through a real backend.Guard.
type Fake struct {
	Search  func(ctx context.Context, query string, max int) ([]patent.Identifier, error)
	Details func(ctx context.Context, id patent.Identifier) (*patent.Record, error)
	Expand  func(ctx context.Context, id patent.Identifier, countries []string) ([]patent.Identifier, error)
	InitErr error

	guard *backend.Guard

	mutex    sync.Mutex
	calls    map[string]int
	inits    int
	cleanups int
}

func New(identity backend.Identity, breaker *circuitbreaker.Breaker, opts ...backend.GuardOption) *Fake {
	f := &Fake{calls: make(map[string]int)}

	opts = append(opts, backend.WithLifecycle(backend.Lifecycle{
		Init: func(context.Context) error {
			f.mutex.Lock()
			defer f.mutex.Unlock()
			f.inits++
			return f.InitErr
		},
		Release: func(context.Context) error {
			f.mutex.Lock()
			defer f.mutex.Unlock()
			f.cleanups++
			return nil
		},
	}))
	f.guard = backend.NewGuard(identity, breaker, opts...)

	return f
}

func (f *Fake) count(op string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls[op]++
}

// Calls reports how many times op reached the fake's func.
func (f *Fake) Calls(op string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[op]
}

func (f *Fake) Inits() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.inits
}

func (f *Fake) Cleanups() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.cleanups
}

func (f *Fake) Identity() backend.Identity { return f.guard.Identity() }

func (f *Fake) Initialize(ctx context.Context) error { return f.guard.Initialize(ctx) }

func (f *Fake) Cleanup(ctx context.Context) error { return f.guard.Cleanup(ctx) }

func (f *Fake) Available() bool { return f.guard.Available() }

func (f *Fake) Health() circuitbreaker.Health { return f.guard.Health() }

func (f *Fake) Snapshot() backend.Snapshot { return f.guard.Snapshot() }

func (f *Fake) ResetCircuit() { f.guard.ResetCircuit() }

func (f *Fake) SearchIdentifiers(ctx context.Context, query string, max int) ([]patent.Identifier, error) {
	return backend.Collect(ctx, f.guard, backend.OpSearch, func(ctx context.Context) ([]patent.Identifier, error) {
		f.count(backend.OpSearch)
		if f.Search == nil {
			return nil, nil
		}
		return f.Search(ctx, query, max)
	})
}

func (f *Fake) FetchDetails(ctx context.Context, id patent.Identifier) (*patent.Record, error) {
	var rec *patent.Record

	err := f.guard.Run(ctx, backend.OpDetails, func(ctx context.Context) (int, error) {
		f.count(backend.OpDetails)
		if f.Details == nil {
			return 0, nil
		}

		r, err := f.Details(ctx, id)
		if err != nil || r == nil {
			return 0, err
		}
		rec = r
		return 1, nil
	})

	return rec, err
}

func (f *Fake) ExpandFamily(ctx context.Context, id patent.Identifier, countries []string) ([]patent.Identifier, error) {
	return backend.Collect(ctx, f.guard, backend.OpExpand, func(ctx context.Context) ([]patent.Identifier, error) {
		f.count(backend.OpExpand)
		if f.Expand == nil {
			return nil, nil
		}
		return f.Expand(ctx, id, countries)
	})
}

// Returns is a Search func answering every query with ids.
func Returns(ids ...patent.Identifier) func(context.Context, string, int) ([]patent.Identifier, error) {
	return func(context.Context, string, int) ([]patent.Identifier, error) {
		return append([]patent.Identifier(nil), ids...), nil
	}
}

// Fails is a Search func that always returns err.
func Fails(err error) func(context.Context, string, int) ([]patent.Identifier, error) {
	return func(context.Context, string, int) ([]patent.Identifier, error) {
		return nil, err
	}
}

var _ backend.Backend = (*Fake)(nil)
