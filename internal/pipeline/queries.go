package pipeline

import (
	"strings"

	"github.com/dataholics-selfience/pharmyrus/internal/intel"
)

var (
	DefaultYears     = []string{"2016", "2018", "2019", "2020", "2021", "2022", "2023"}
	DefaultCompanies = []string{"Orion", "Bayer", "Pfizer"}
	// DefaultCountries applies when neither the request nor the config
	// names target countries.
	DefaultCountries = []string{"BR"}
)

const maxDevCodeQueries = 5

// QueryPlan is the deterministic heuristic used to build discovery queries.
type QueryPlan struct {
	Years     []string
	Companies []string
	Max       int
}

// Build returns at most p.Max distinct queries in a fixed order: molecule,
// brand, year-scoped, company-scoped, development codes, CAS.
func (p QueryPlan) Build(molecule, brand string, mol intel.Molecule) []string {
	var queries []string
	seen := make(map[string]bool)

	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			return
		}
		seen[key] = true
		queries = append(queries, q)
	}

	add(molecule + " patent")
	if brand != "" {
		add(brand + " patent")
	}
	for _, year := range p.Years {
		add(molecule + " patent WO" + year)
	}
	for _, company := range p.Companies {
		add(molecule + " " + company + " patent")
	}
	for i, code := range mol.DevCodes {
		if i >= maxDevCodeQueries {
			break
		}
		add(code + " patent WO")
	}
	if mol.CAS != "" {
		add(mol.CAS + " patent WO")
	}

	if p.Max > 0 && len(queries) > p.Max {
		queries = queries[:p.Max]
	}

	return queries
}
