package stealth_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/backend/stealth"
)

var _ = Describe("Stealth", func() {
	It("should only hand out Chrome agents for browser sessions", func() {
		r := stealth.NewRotator(1)
		for i := 0; i < 50; i++ {
			Expect(r.Chrome()).To(ContainSubstring("Chrome/"))
		}
	})

	It("should add client hints for Chrome agents", func() {
		h := stealth.Headers("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		Expect(h.Get("Sec-Ch-Ua")).To(ContainSubstring(`v="120"`))
		Expect(h.Get("Sec-Ch-Ua-Platform")).To(Equal(`"Windows"`))
	})

	It("should omit client hints for Firefox", func() {
		h := stealth.Headers("Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		Expect(h.Get("Sec-Ch-Ua")).To(BeEmpty())
		Expect(h.Get("User-Agent")).To(ContainSubstring("Firefox"))
	})

	It("should switch to API headers for JSON calls", func() {
		h := stealth.JSONHeaders("ua")
		Expect(h.Get("Accept")).To(HavePrefix("application/json"))
		Expect(h.Get("Upgrade-Insecure-Requests")).To(BeEmpty())
	})

	It("should hide the webdriver flag", func() {
		script := stealth.InitScript(8)
		Expect(script).To(ContainSubstring("'webdriver'"))
		Expect(script).To(ContainSubstring("=> 8"))
	})
})
