package fallback

import (
	"context"
	"log/slog"

	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

// MultiResult is the outcome of MultiQuery.
type MultiResult struct {
	// Identifiers are deduplicated by key and sorted.
	Identifiers []patent.Identifier `json:"identifiers"`
	// Usage counts how many queries each backend resolved, NoBackend
	// included.
	Usage     map[string]int `json:"usage"`
	Executed  int            `json:"executed"`
	Truncated bool           `json:"truncated"`
}

type queryConfig struct {
	stop func() bool
}

type QueryOption func(*queryConfig)

// StopWhen is checked before each query; once it reports true the remaining
// queries are skipped and the result is marked truncated.
func StopWhen(stop func() bool) QueryOption {
	return func(c *queryConfig) {
		c.stop = stop
	}
}

// MultiQuery searches every query in order, one at a time, pausing between
// them according to the delay policy. Earlier results win on duplicates.
func (m *Manager) MultiQuery(ctx context.Context, queries []string, target string, maxPerQuery int, opts ...QueryOption) (MultiResult, error) {
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	set := patent.NewSet()
	result := MultiResult{Usage: make(map[string]int)}

	for i, query := range queries {
		if cfg.stop != nil && cfg.stop() {
			result.Truncated = true
			break
		}

		if i > 0 {
			if err := pacing.Sleep(ctx, m.delay.NextDelay(target)); err != nil {
				result.Truncated = true
				break
			}
		}

		ids, used, err := m.Search(ctx, target, query, maxPerQuery)
		if err != nil {
			return MultiResult{}, err
		}

		result.Executed++
		result.Usage[used]++
		added := set.AddAll(ids)

		m.logger.Debug("query resolved",
			slog.Int("index", i+1),
			slog.Int("of", len(queries)),
			slog.String("backend", used),
			slog.Int("found", len(ids)),
			slog.Int("new", added))
	}

	result.Identifiers = set.Sorted()

	return result, nil
}
