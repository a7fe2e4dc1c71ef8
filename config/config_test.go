package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/config"
)

const validConfig = `
server:
  address: ":8080"
  environment: "dev"

logging:
  level: "debug"

pipeline:
  target: "google_patents"
  max_queries: 12
  deadline: "10m"
  default_countries: ["BR", "US"]

circuit_breaker:
  threshold: 2
  cooldown: "1m"

backends:
  - name: "primary"
    kind: "browser"
    variant: "primary"
    tier: 1
    timeout: "45s"
    remote_url: "ws://chrome:9222"
  - name: "lightweight"
    kind: "lightweight"
    tier: 3
    cooldown: "30s"
    search_url: "https://patents.example.com"

targets:
  google_patents: ["primary", "lightweight"]
  wipo: ["lightweight"]

pacing:
  sites:
    google_patents:
      min: "1s"
      max: "2s"
`

var _ = Describe("Config", func() {
	var tempDir string

	write := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("LoadFile", func() {
		Context("with a valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				var err error
				cfg, err = config.LoadFile(write(validConfig))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should parse the pipeline settings", func() {
				Expect(cfg.Pipeline.MaxQueries).To(Equal(12))
				Expect(cfg.Pipeline.ExpansionCap).To(Equal(10))
				Expect(cfg.Pipeline.DefaultCountries).To(Equal([]string{"BR", "US"}))
				Expect(config.Duration(cfg.Pipeline.Deadline, 0)).To(Equal(10 * time.Minute))
			})

			It("should parse backends and targets", func() {
				Expect(cfg.Backends).To(HaveLen(2))

				primary, ok := cfg.Backend("PRIMARY")
				Expect(ok).To(BeTrue())
				Expect(primary.RemoteURL).To(Equal("ws://chrome:9222"))

				Expect(cfg.Targets).To(HaveKeyWithValue("wipo", []string{"lightweight"}))
			})

			It("should parse pacing bounds", func() {
				Expect(cfg.Pacing.Sites).To(HaveKeyWithValue("google_patents", config.SiteBounds{Min: "1s", Max: "2s"}))
			})
		})

		It("should reject a target that references an unknown backend", func() {
			_, err := config.LoadFile(write(`
targets:
  google_patents: ["primary"]
  inpi: ["ghost"]
`))
			Expect(err).To(MatchError(ContainSubstring("ghost")))
		})

		It("should reject duplicate backend names", func() {
			_, err := config.LoadFile(write(`
backends:
  - {name: "lightweight", kind: "lightweight", tier: 1}
  - {name: "Lightweight", kind: "lightweight", tier: 2}
targets:
  google_patents: ["lightweight"]
`))
			Expect(err).To(MatchError(ContainSubstring("declared twice")))
		})

		It("should reject inverted pacing bounds", func() {
			_, err := config.LoadFile(write(`
pacing:
  sites:
    wipo: {min: "5s", max: "1s"}
`))
			Expect(err).To(MatchError(ContainSubstring("min delay")))
		})

		It("should reject an unknown backend kind", func() {
			_, err := config.LoadFile(write(`
backends:
  - {name: "x", kind: "carrier-pigeon", tier: 1}
targets:
  google_patents: ["x"]
`))
			Expect(err).To(HaveOccurred())
		})

		It("should require a DSN when the run store is enabled", func() {
			_, err := config.LoadFile(write(`
run_store:
  enabled: true
`))
			Expect(err).To(MatchError(ContainSubstring("DSN")))
		})
	})

	Describe("Load", func() {
		It("should use defaults when the config file is missing", func() {
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tempDir)).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Address).To(Equal(":8080"))
			Expect(cfg.Backends).To(HaveLen(3))
			Expect(cfg.Targets).To(HaveKeyWithValue("google_patents", []string{"primary", "secondary", "lightweight"}))
			Expect(cfg.CircuitBreaker.Shared).To(BeTrue())
		})
	})

	Describe("Validate", func() {
		It("should reject an invalid environment", func() {
			cfg, err := config.LoadFile(write(validConfig))
			Expect(err).NotTo(HaveOccurred())

			cfg.Server.Environment = "qa"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("Environment")))
		})
	})

	DescribeTable("Duration",
		func(in string, def, want time.Duration) {
			Expect(config.Duration(in, def)).To(Equal(want))
		},
		Entry("empty uses the default", "", time.Second, time.Second),
		Entry("parses", "90s", time.Second, 90*time.Second),
		Entry("garbage uses the default", "soon", time.Second, time.Second),
	)
})
