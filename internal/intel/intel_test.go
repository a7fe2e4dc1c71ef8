package intel_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/intel"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("PubChem client", func() {
	var (
		mux    *http.ServeMux
		client *intel.Client
	)

	BeforeEach(func() {
		mux = http.NewServeMux()
		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		client = intel.New(intel.Config{
			BaseURL: server.URL,
			Retry:   pacing.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		}, quiet)
	})

	It("should resolve codes, CAS and properties", func() {
		mux.HandleFunc("/compound/name/darolutamide/cids/JSON", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"IdentifierList":{"CID":[67171867]}}`)
		})
		mux.HandleFunc("/compound/cid/67171867/property/", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"PropertyTable":{"Properties":[{"MolecularFormula":"C19H19ClN6O2","MolecularWeight":"398.8","InChIKey":"BLIJXOOIHRSQRB-PXYINDEMSA-N"}]}}`)
		})
		mux.HandleFunc("/compound/cid/67171867/synonyms/JSON", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"InformationList":{"Information":[{"Synonym":["darolutamide","Nubeqa","ODM-201","BAY-1841788","1297538-32-9","CID67171867","ab"]}]}}`)
		})

		mol, err := client.Lookup(context.Background(), "darolutamide")
		Expect(err).NotTo(HaveOccurred())
		Expect(mol.CID).To(Equal(67171867))
		Expect(mol.DevCodes).To(Equal([]string{"ODM-201", "BAY-1841788"}))
		Expect(mol.CAS).To(Equal("1297538-32-9"))
		Expect(mol.MolecularWeight).To(Equal("398.8"))
		Expect(mol.Synonyms).NotTo(ContainElement("ab"))
	})

	It("should report unknown molecules", func() {
		_, err := client.Lookup(context.Background(), "unobtainium")
		Expect(err).To(MatchError(intel.ErrNotFound))
	})

	It("should retry busy responses", func() {
		var hits atomic.Int32
		mux.HandleFunc("/compound/name/x/cids/JSON", func(w http.ResponseWriter, _ *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"IdentifierList":{"CID":[1]}}`)
		})

		mol, err := client.Lookup(context.Background(), "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(mol.CID).To(Equal(1))
		Expect(hits.Load()).To(Equal(int32(2)))
	})

	DescribeTable("DevCodes",
		func(synonym string, want bool) {
			Expect(intel.DevCodes([]string{synonym})).To(HaveLen(map[bool]int{true: 1, false: 0}[want]))
		},
		Entry("hyphenated", "ODM-201", true),
		Entry("spaced", "BAY 1841788", true),
		Entry("suffix letter", "MK3475A", true),
		Entry("compound id", "CID1234", false),
		Entry("plain name", "darolutamide", false),
	)
})
