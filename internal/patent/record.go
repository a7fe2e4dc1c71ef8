package patent

import "sort"

type Provenance string

const (
	ProvenanceFamilyExpansion Provenance = "family-expansion"
	ProvenanceDirectSearch    Provenance = "direct-search"
)

// Relevance scores per provenance. Family members of a discovered root are
// trusted more than free-text hits from the direct index.
const (
	ScoreFamilyExpansion = 80
	ScoreDirectSearch    = 60
)

// Record is one discovered patent.
type Record struct {
	Identifier       Identifier `json:"identifier"`
	Title            string     `json:"title,omitempty"`
	Abstract         string     `json:"abstract,omitempty"`
	Source           string     `json:"source"`
	Provenance       Provenance `json:"provenance"`
	Origin           string     `json:"origin,omitempty"`
	SourceIdentifier Identifier `json:"source_identifier,omitempty"`
	Score            int        `json:"score"`
}

// Collection is an insertion-ordered map of records keyed by identifier key.
type Collection struct {
	records map[string]*Record
	order   []string
}

func NewCollection() *Collection {
	return &Collection{records: make(map[string]*Record)}
}

// Merge stores r unless a record with the same key exists. Returns true when
// r was stored.
func (c *Collection) Merge(r Record) bool {
	key := r.Identifier.Key()
	if key == "" {
		return false
	}

	if _, exists := c.records[key]; exists {
		return false
	}

	c.records[key] = &r
	c.order = append(c.order, key)
	return true
}

func (c *Collection) Contains(id Identifier) bool {
	_, ok := c.records[id.Key()]
	return ok
}

func (c *Collection) Len() int {
	return len(c.order)
}

// Ranked returns the records sorted by score descending. Ties keep insertion order.
func (c *Collection) Ranked() []Record {
	out := make([]Record, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, *c.records[key])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}

// CountBy groups records with the given key function.
func CountBy(records []Record, key func(Record) string) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		k := key(r)
		if k == "" {
			k = "unknown"
		}
		counts[k]++
	}

	return counts
}
