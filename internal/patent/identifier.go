package patent

import (
	"sort"
	"strings"
	"unicode"
)

// Identifier is a patent or family number as a source printed it, for example
// "WO2011140324" or "BR 11 2013 001234-5". Two identifiers are equal when
// their Key values are equal.
type Identifier string

// Key returns the normalized form: upper-case with whitespace and hyphens removed.
func (id Identifier) Key() string {
	var b strings.Builder
	b.Grow(len(id))

	for _, r := range string(id) {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return b.String()
}

// Country returns the leading letter prefix of the key ("WO", "BR", "US").
func (id Identifier) Country() string {
	key := id.Key()
	end := 0
	for end < len(key) && key[end] >= 'A' && key[end] <= 'Z' {
		end++
	}

	return key[:end]
}

// InCountries reports whether the identifier belongs to one of the given
// country codes. An empty filter matches everything.
func (id Identifier) InCountries(countries []string) bool {
	if len(countries) == 0 {
		return true
	}

	country := id.Country()
	for _, c := range countries {
		if strings.EqualFold(strings.TrimSpace(c), country) {
			return true
		}
	}

	return false
}

func (id Identifier) String() string {
	return string(id)
}

// Set accumulates identifiers keyed by their normalized form. The first
// occurrence of a key wins; later duplicates are dropped.
type Set struct {
	items map[string]Identifier
	order []string
}

func NewSet() *Set {
	return &Set{items: make(map[string]Identifier)}
}

// Add inserts id unless an identifier with the same key is present.
// Returns true when id was new.
func (s *Set) Add(id Identifier) bool {
	key := id.Key()
	if key == "" {
		return false
	}

	if _, exists := s.items[key]; exists {
		return false
	}

	s.items[key] = id
	s.order = append(s.order, key)
	return true
}

func (s *Set) AddAll(ids []Identifier) int {
	added := 0
	for _, id := range ids {
		if s.Add(id) {
			added++
		}
	}

	return added
}

func (s *Set) Contains(id Identifier) bool {
	_, ok := s.items[id.Key()]
	return ok
}

func (s *Set) Len() int {
	return len(s.items)
}

// Sorted returns the identifiers ordered by key.
func (s *Set) Sorted() []Identifier {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	sort.Strings(keys)

	out := make([]Identifier, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.items[key])
	}

	return out
}

// Filter returns the identifiers of ids that belong to countries, deduplicated
// in input order.
func Filter(ids []Identifier, countries []string) []Identifier {
	seen := make(map[string]struct{}, len(ids))
	out := make([]Identifier, 0, len(ids))

	for _, id := range ids {
		if !id.InCountries(countries) {
			continue
		}

		key := id.Key()
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}

	return out
}
