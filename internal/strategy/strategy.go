package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Target site keys.
const (
	TargetGooglePatents = "google_patents"
	TargetWIPO          = "wipo"
	TargetINPI          = "inpi"
)

// Backend names used by the default table.
const (
	Primary     = "primary"
	Secondary   = "secondary"
	Lightweight = "lightweight"
)

var ErrUnknownTarget = errors.New("unknown target")

// Table maps target keys to fallback chains.
type Table struct {
	chains map[string][]string
}

// Default is the production table. Google Patents needs JavaScript, so the
// browsers go first; the API-backed sites start with plain HTTP.
func Default() *Table {
	t, _ := NewTable(map[string][]string{
		TargetGooglePatents: {Primary, Secondary, Lightweight},
		TargetWIPO:          {Lightweight, Primary, Secondary},
		TargetINPI:          {Lightweight, Primary, Secondary},
	})
	return t
}

// NewTable copies chains. Target keys are case-insensitive.
func NewTable(chains map[string][]string) (*Table, error) {
	t := &Table{chains: make(map[string][]string, len(chains))}

	for target, chain := range chains {
		key := normalize(target)
		if key == "" {
			return nil, errors.New("strategy: empty target key")
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("strategy: target %q has an empty chain", target)
		}

		seen := make(map[string]bool, len(chain))
		for _, name := range chain {
			if seen[name] {
				return nil, fmt.Errorf("strategy: target %q lists backend %q twice", target, name)
			}
			seen[name] = true
		}

		t.chains[key] = append([]string(nil), chain...)
	}

	return t, nil
}

// Chain returns the ordered backend names for target.
func (t *Table) Chain(target string) ([]string, error) {
	chain, ok := t.chains[normalize(target)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	return append([]string(nil), chain...), nil
}

func (t *Table) Targets() []string {
	targets := make([]string, 0, len(t.chains))
	for target := range t.chains {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Backends returns every backend name referenced by any chain, sorted.
func (t *Table) Backends() []string {
	seen := make(map[string]bool)
	for _, chain := range t.chains {
		for _, name := range chain {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every chain only references known backends.
func (t *Table) Validate(known []string) error {
	valid := make(map[string]bool, len(known))
	for _, name := range known {
		valid[name] = true
	}

	var errs []error
	for _, target := range t.Targets() {
		for _, name := range t.chains[target] {
			if !valid[name] {
				errs = append(errs, fmt.Errorf("strategy: target %q references unknown backend %q", target, name))
			}
		}
	}

	return errors.Join(errs...)
}

func normalize(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
