package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/intel"
	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
)

var _ = Describe("QueryPlan", func() {
	plan := pipeline.QueryPlan{
		Years:     pipeline.DefaultYears,
		Companies: pipeline.DefaultCompanies,
		Max:       20,
	}

	It("should build queries in a fixed order", func() {
		queries := plan.Build("darolutamide", "Nubeqa", intel.Molecule{
			DevCodes: []string{"ODM-201", "BAY-1841788"},
			CAS:      "1297538-32-9",
		})

		Expect(queries).To(Equal([]string{
			"darolutamide patent",
			"Nubeqa patent",
			"darolutamide patent WO2016",
			"darolutamide patent WO2018",
			"darolutamide patent WO2019",
			"darolutamide patent WO2020",
			"darolutamide patent WO2021",
			"darolutamide patent WO2022",
			"darolutamide patent WO2023",
			"darolutamide Orion patent",
			"darolutamide Bayer patent",
			"darolutamide Pfizer patent",
			"ODM-201 patent WO",
			"BAY-1841788 patent WO",
			"1297538-32-9 patent WO",
		}))
	})

	It("should skip the brand query when there is no brand", func() {
		queries := plan.Build("darolutamide", "", intel.Molecule{})
		Expect(queries).To(HaveLen(11))
		Expect(queries).NotTo(ContainElement(HaveSuffix(" patent WO")))
	})

	It("should drop case-insensitive duplicates", func() {
		queries := plan.Build("Darolutamide", "darolutamide", intel.Molecule{})
		Expect(queries[0]).To(Equal("Darolutamide patent"))
		Expect(queries).NotTo(ContainElement("darolutamide patent"))
	})

	It("should use at most five development codes", func() {
		mol := intel.Molecule{DevCodes: []string{"A-1", "A-2", "A-3", "A-4", "A-5", "A-6"}}
		queries := pipeline.QueryPlan{Max: 50}.Build("x", "", mol)
		Expect(queries).To(ContainElement("A-5 patent WO"))
		Expect(queries).NotTo(ContainElement("A-6 patent WO"))
	})

	It("should cap the number of queries", func() {
		mol := intel.Molecule{DevCodes: []string{"A-1", "A-2", "A-3", "A-4", "A-5"}, CAS: "50-00-0"}
		queries := plan.Build("x", "y", mol)
		Expect(queries).To(HaveLen(18))

		capped := pipeline.QueryPlan{Years: pipeline.DefaultYears, Max: 3}.Build("x", "y", mol)
		Expect(capped).To(Equal([]string{"x patent", "y patent", "x patent WO2016"}))
	})
})
