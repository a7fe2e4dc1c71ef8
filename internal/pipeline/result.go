package pipeline

import (
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/fallback"
	"github.com/dataholics-selfience/pharmyrus/internal/intel"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

// Run statuses.
const (
	StatusOK        = "ok"
	StatusNoResults = "no results"
	StatusPartial   = "partial"
)

// Phase statuses.
const (
	PhaseOK      = "ok"
	PhaseFailed  = "failed"
	PhaseSkipped = "skipped"
)

// Phase names in execution order.
const (
	PhaseIntelligence = "intelligence"
	PhaseDiscovery    = "discovery"
	PhaseExpansion    = "expansion"
	PhaseDirectSearch = "direct_search"
	PhaseMerge        = "merge"
)

// Origin tags recorded on records.
const (
	OriginFamily   = "wo_family"
	OriginMolecule = "inpi_molecule"
	OriginBrand    = "inpi_brand"
)

type Request struct {
	MoleculeName    string   `json:"molecule_name"`
	BrandName       string   `json:"brand_name,omitempty"`
	TargetCountries []string `json:"target_countries,omitempty"`
}

type PhaseReport struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type DiscoveryReport struct {
	Queries     []string            `json:"queries"`
	Executed    int                 `json:"executed"`
	Identifiers []patent.Identifier `json:"identifiers"`
	Usage       map[string]int      `json:"usage"`
}

type ExpansionReport struct {
	Attempted  int            `json:"attempted"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Members    int            `json:"members"`
	Usage      map[string]int `json:"usage"`
}

type DirectSearchReport struct {
	Queries    int `json:"queries"`
	Found      int `json:"found"`
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

type Summary struct {
	Discovered   int            `json:"discovered"`
	Records      int            `json:"records"`
	WithMembers  int            `json:"with_members"`
	DirectFound  int            `json:"direct_found"`
	ByProvenance map[string]int `json:"by_provenance"`
	BySource     map[string]int `json:"by_source"`
	ByOrigin     map[string]int `json:"by_origin"`
}

type Result struct {
	RunID        string             `json:"run_id"`
	Request      Request            `json:"request"`
	Status       string             `json:"status"`
	Truncated    bool               `json:"truncated"`
	Molecule     intel.Molecule     `json:"molecule_info"`
	Discovery    DiscoveryReport    `json:"discovery"`
	Expansion    ExpansionReport    `json:"expansion"`
	DirectSearch DirectSearchReport `json:"direct_search"`
	Phases       []PhaseReport      `json:"phases"`
	Records      []patent.Record    `json:"records"`
	Summary      Summary            `json:"summary"`
	Metrics      fallback.Metrics   `json:"metrics"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
}

// Phase returns the report for name, or false if the phase never ran.
func (r *Result) Phase(name string) (PhaseReport, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseReport{}, false
}

func (r *Result) status() string {
	if len(r.Records) == 0 {
		return StatusNoResults
	}
	if r.Truncated {
		return StatusPartial
	}
	for _, p := range r.Phases {
		if p.Status == PhaseFailed {
			return StatusPartial
		}
	}
	return StatusOK
}
