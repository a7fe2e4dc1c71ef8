package extract_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/backend/extract"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

var _ = Describe("Extract", func() {
	padding := strings.Repeat("x", 1200)

	DescribeTable("Blocked",
		func(content string, wantBlocked bool) {
			blocked, _ := extract.Blocked(content, extract.MinBrowserContent)
			Expect(blocked).To(Equal(wantBlocked))
		},
		Entry("captcha page", "Please solve this CAPTCHA "+padding, true),
		Entry("unusual traffic", "Our systems have detected unusual traffic "+padding, true),
		Entry("tiny response", "<html></html>", true),
		Entry("normal page", "<html>WO2016140201 "+padding+"</html>", false),
	)

	It("should report the reason for small responses", func() {
		_, reason := extract.Blocked("tiny", extract.MinHTTPContent)
		Expect(reason).To(ContainSubstring("4 bytes"))
	})

	Describe("WONumbers", func() {
		It("should normalize spacing variants and deduplicate", func() {
			content := "see WO 2016/140201, WO2016140201 and wo-2011 140324"
			Expect(extract.WONumbers(content)).To(Equal([]patent.Identifier{
				"WO2011140324",
				"WO2016140201",
			}))
		})

		It("should return nothing for unrelated text", func() {
			Expect(extract.WONumbers("no patents here")).To(BeEmpty())
		})
	})

	Describe("CountryNumbers", func() {
		It("should default to BR and keep first-seen order", func() {
			text := "Family: BR 112013001234 A2, US8975254, BR-112015005678, BR112013001234"
			Expect(extract.CountryNumbers(text, nil)).To(Equal([]patent.Identifier{
				"BR112013001234",
				"BR112015005678",
			}))
		})

		It("should match other requested countries", func() {
			text := "Family: BR112013001234 US8975254B2 MX2013000123"
			Expect(extract.CountryNumbers(text, []string{"US", "MX"})).To(Equal([]patent.Identifier{
				"US8975254",
				"MX2013000123",
			}))
		})
	})

	Describe("ParsePage", func() {
		It("should read citation metadata and visible text", func() {
			doc := `<html><head>
				<title>fallback title</title>
				<meta name="citation_title" content="Carboxamide derivatives">
				<meta name="description" content="Androgen receptor antagonists.">
				<script>var BR999999999999 = 1;</script>
				</head><body><p>Also published as BR112013001234</p></body></html>`

			page, err := extract.ParsePage(strings.NewReader(doc))
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Title).To(Equal("Carboxamide derivatives"))
			Expect(page.Description).To(Equal("Androgen receptor antagonists."))
			Expect(page.Text).To(ContainSubstring("BR112013001234"))
			Expect(page.Text).NotTo(ContainSubstring("BR999999999999"))
		})

		It("should build a record with a truncated abstract", func() {
			page := &extract.Page{Description: strings.Repeat("a", 600)}
			rec := extract.Record("WO2011140324", page, "lightweight")
			Expect(rec.Title).To(Equal("Unknown"))
			Expect(rec.Abstract).To(HaveLen(500))
			Expect(rec.Source).To(Equal("lightweight"))
		})
	})
})
