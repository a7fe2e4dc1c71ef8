package backend

import (
	"context"

	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

// Operation names used in logs, errors and metric labels.
const (
	OpSearch  = "search_identifiers"
	OpDetails = "fetch_details"
	OpExpand  = "expand_family"
)

// Identity names a backend and its priority tier. It never changes.
type Identity struct {
	Name string `json:"name"`
	Tier int    `json:"tier"`
}

// Backend is one acquisition technique.
type Backend interface {
	Identity() Identity

	// Initialize acquires the session the technique needs. Calling it again
	// is a no-op.
	Initialize(ctx context.Context) error
	// Cleanup releases the session. It is safe to call more than once.
	Cleanup(ctx context.Context) error

	// SearchIdentifiers returns an empty slice, not an error, when nothing
	// was found. Anti-bot pages surface as *BlockedError.
	SearchIdentifiers(ctx context.Context, query string, max int) ([]patent.Identifier, error)
	// FetchDetails returns nil when the identifier is unknown.
	FetchDetails(ctx context.Context, id patent.Identifier) (*patent.Record, error)
	ExpandFamily(ctx context.Context, id patent.Identifier, countries []string) ([]patent.Identifier, error)

	Available() bool
	Health() circuitbreaker.Health
	Snapshot() Snapshot
	// ResetCircuit closes the breaker without touching the session.
	ResetCircuit()
}

// Snapshot is the observable state of one backend instance.
type Snapshot struct {
	Identity
	Health         circuitbreaker.Health  `json:"health"`
	Initialized    bool                   `json:"initialized"`
	CircuitBreaker circuitbreaker.State   `json:"circuit_breaker"`
	Metrics        metrics.BackendMetrics `json:"metrics"`
}
