package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
)

var _ = Describe("Table", func() {
	Describe("Default", func() {
		It("should try browsers first for Google Patents", func() {
			chain, err := strategy.Default().Chain(strategy.TargetGooglePatents)
			Expect(err).NotTo(HaveOccurred())
			Expect(chain).To(Equal([]string{"primary", "secondary", "lightweight"}))
		})

		It("should try plain HTTP first for API-backed sites", func() {
			chain, err := strategy.Default().Chain("WIPO")
			Expect(err).NotTo(HaveOccurred())
			Expect(chain[0]).To(Equal("lightweight"))
		})

		It("should validate against the standard backends", func() {
			Expect(strategy.Default().Validate([]string{"primary", "secondary", "lightweight"})).To(Succeed())
		})
	})

	It("should reject unknown targets", func() {
		_, err := strategy.Default().Chain("espacenet")
		Expect(err).To(MatchError(strategy.ErrUnknownTarget))
	})

	It("should not expose its chains for mutation", func() {
		t := strategy.Default()
		chain, _ := t.Chain(strategy.TargetINPI)
		chain[0] = "mutated"

		again, _ := t.Chain(strategy.TargetINPI)
		Expect(again[0]).To(Equal("lightweight"))
	})

	DescribeTable("NewTable rejects malformed chains",
		func(chains map[string][]string) {
			_, err := strategy.NewTable(chains)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty chain", map[string][]string{"wipo": {}}),
		Entry("duplicate backend", map[string][]string{"wipo": {"lightweight", "lightweight"}}),
		Entry("blank target", map[string][]string{" ": {"primary"}}),
	)

	It("should report every unknown backend reference", func() {
		t, err := strategy.NewTable(map[string][]string{
			"wipo": {"lightweight", "ghost"},
			"inpi": {"phantom"},
		})
		Expect(err).NotTo(HaveOccurred())

		err = t.Validate([]string{"lightweight"})
		Expect(err).To(MatchError(ContainSubstring("ghost")))
		Expect(err).To(MatchError(ContainSubstring("phantom")))
		Expect(t.Backends()).To(Equal([]string{"ghost", "lightweight", "phantom"}))
	})
})
