package fallback_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/backendtest"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/fallback"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	mutex  sync.Mutex
	events []metrics.MetricEvent
}

func (s *recordingSink) Emit(e metrics.MetricEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) outcomes() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Type == metrics.EventBackendAttempt {
			out = append(out, e.Backend+":"+e.Outcome)
		}
	}
	return out
}

func newFake(name string) *backendtest.Fake {
	breaker := circuitbreaker.New(name, 3, time.Hour, circuitbreaker.WithLogger(quiet))
	return backendtest.New(backend.Identity{Name: name, Tier: 1}, breaker, backend.WithGuardLogger(quiet))
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		a, b, c *backendtest.Fake
		sink    *recordingSink
		m       *fallback.Manager
		built   map[string]int
	)

	BeforeEach(func() {
		ctx = context.Background()
		a, b, c = newFake("A"), newFake("B"), newFake("C")
		sink = &recordingSink{}
		built = map[string]int{}

		table, err := strategy.NewTable(map[string][]string{"site": {"A", "B", "C"}})
		Expect(err).NotTo(HaveOccurred())

		factory := func(f *backendtest.Fake) fallback.Factory {
			return func() backend.Backend {
				built[f.Identity().Name]++
				return f
			}
		}

		m, err = fallback.NewManager(table, map[string]fallback.Factory{
			"A": factory(a), "B": factory(b), "C": factory(c),
		}, fallback.WithSink(sink), fallback.WithLogger(quiet))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should refuse tables that reference unknown backends", func() {
		table, _ := strategy.NewTable(map[string][]string{"site": {"A", "ghost"}})
		_, err := fallback.NewManager(table, map[string]fallback.Factory{"A": func() backend.Backend { return a }})
		Expect(err).To(MatchError(ContainSubstring("ghost")))
	})

	Describe("Execute", func() {
		It("should short-circuit on the first non-empty result", func() {
			a.Search = backendtest.Fails(errors.New("boom"))
			c.Search = backendtest.Returns("WO2016140201", "WO2011140324")

			ids, used, err := m.Search(ctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal("C"))
			Expect(ids).To(Equal([]patent.Identifier{"WO2016140201", "WO2011140324"}))

			Expect(a.Calls(backend.OpSearch)).To(Equal(1))
			Expect(b.Calls(backend.OpSearch)).To(Equal(1))
			Expect(c.Calls(backend.OpSearch)).To(Equal(1))
			Expect(sink.outcomes()).To(Equal([]string{"A:error", "B:empty", "C:success"}))
		})

		It("should never invoke later backends once one succeeds", func() {
			a.Search = backendtest.Returns("WO2016140201")

			_, used, err := m.Search(ctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal("A"))
			Expect(built).To(Equal(map[string]int{"A": 1}))
			Expect(b.Calls(backend.OpSearch)).To(BeZero())
		})

		It("should report none when every backend comes up empty", func() {
			ids, used, err := m.Search(ctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal(fallback.NoBackend))
			Expect(ids).To(BeEmpty())

			mm := m.Metrics().Manager
			Expect(mm.TotalRequests).To(Equal(int64(1)))
			Expect(mm.TotalFailures).To(Equal(int64(1)))
		})

		It("should fail loudly for unknown targets", func() {
			_, used, err := m.Search(ctx, "elsewhere", "q", 10)
			Expect(err).To(MatchError(strategy.ErrUnknownTarget))
			Expect(used).To(Equal(fallback.NoBackend))
		})

		It("should skip backends whose circuit is open", func() {
			a.Search = backendtest.Fails(errors.New("boom"))
			b.Search = backendtest.Returns("WO2016140201")

			for i := 0; i < 3; i++ {
				_, _, _ = m.Search(ctx, "site", "q", 10)
			}
			Expect(a.Health()).To(Equal(circuitbreaker.HealthCircuitOpen))

			_, used, _ := m.Search(ctx, "site", "q", 10)
			Expect(used).To(Equal("B"))
			Expect(a.Calls(backend.OpSearch)).To(Equal(3))
			Expect(m.Metrics().Manager.LayerUsage["A"]).To(Equal(int64(3)))
		})

		It("should stop the walk when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			a.Search = func(context.Context, string, int) ([]patent.Identifier, error) {
				cancel()
				return nil, context.Canceled
			}
			c.Search = backendtest.Returns("WO2016140201")

			ids, used, err := m.Search(cctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
			Expect(used).To(Equal(fallback.NoBackend))
			Expect(c.Calls(backend.OpSearch)).To(BeZero())

			mm := m.Metrics().Manager
			Expect(mm.TotalRequests).To(Equal(int64(1)))
			Expect(mm.TotalCancelled).To(Equal(int64(1)))
			Expect(mm.TotalSuccesses + mm.TotalFailures + mm.TotalCancelled).To(Equal(mm.TotalRequests))
		})

		It("should count a walk cancelled on its last backend as cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			a.Search = backendtest.Returns()
			c.Search = func(context.Context, string, int) ([]patent.Identifier, error) {
				cancel()
				return nil, context.Canceled
			}

			_, _, err := m.Search(cctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())

			mm := m.Metrics().Manager
			Expect(mm.TotalCancelled).To(Equal(int64(1)))
			Expect(mm.TotalFailures).To(BeZero())
		})

		It("should treat a nil record as empty", func() {
			c.Details = func(_ context.Context, id patent.Identifier) (*patent.Record, error) {
				return &patent.Record{Identifier: id, Title: "t"}, nil
			}

			rec, used, err := m.FetchDetails(ctx, "site", "WO2016140201")
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal("C"))
			Expect(rec.Title).To(Equal("t"))
		})
	})

	Describe("MultiQuery", func() {
		BeforeEach(func() {
			a.Search = backendtest.Returns("WO2016140201", "wo 2011-140324", "WO2016140201")
		})

		It("should give the same output for repeated queries as for one", func() {
			once, err := m.MultiQuery(ctx, []string{"q"}, "site", 10)
			Expect(err).NotTo(HaveOccurred())

			thrice, err := m.MultiQuery(ctx, []string{"q", "q", "q"}, "site", 10)
			Expect(err).NotTo(HaveOccurred())

			Expect(thrice.Identifiers).To(Equal(once.Identifiers))
			Expect(thrice.Identifiers).To(Equal([]patent.Identifier{"wo 2011-140324", "WO2016140201"}))
			Expect(thrice.Usage).To(Equal(map[string]int{"A": 3}))
			Expect(thrice.Executed).To(Equal(3))
		})

		It("should skip remaining queries once told to stop", func() {
			calls := 0
			res, err := m.MultiQuery(ctx, []string{"q1", "q2", "q3"}, "site", 10,
				fallback.StopWhen(func() bool { calls++; return calls > 1 }))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Executed).To(Equal(1))
			Expect(res.Truncated).To(BeTrue())
		})

		It("should count unresolved queries under none", func() {
			a.Search = nil
			res, err := m.MultiQuery(ctx, []string{"q1", "q2"}, "site", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Usage).To(Equal(map[string]int{fallback.NoBackend: 2}))
			Expect(res.Identifiers).To(BeEmpty())
		})
	})

	Describe("Metrics", func() {
		It("should include only created backends and be side-effect free", func() {
			a.Search = backendtest.Returns("WO2016140201")
			_, _, _ = m.Search(ctx, "site", "q", 10)

			first := m.Metrics()
			second := m.Metrics()
			Expect(second).To(Equal(first))
			Expect(first.Backends).To(HaveKey("A"))
			Expect(first.Backends).NotTo(HaveKey("B"))
			Expect(first.Manager.SuccessRate).To(Equal(1.0))
			Expect(first.Manager.LayerSuccesses).To(Equal(map[string]int64{"A": 1}))
		})
	})

	Describe("ResetCircuitBreakers", func() {
		It("should close open circuits without cleaning up sessions", func() {
			a.Search = backendtest.Fails(errors.New("boom"))
			for i := 0; i < 3; i++ {
				_, _, _ = m.Search(ctx, "site", "q", 10)
			}
			Expect(a.Available()).To(BeFalse())

			Expect(m.ResetCircuitBreakers()).To(Equal(3))
			Expect(a.Available()).To(BeTrue())
			Expect(a.Cleanups()).To(BeZero())
		})
	})

	Describe("Close", func() {
		It("should clean up every created backend exactly once", func() {
			_, _, _ = m.Search(ctx, "site", "q", 10)
			Expect(m.Created()).To(Equal([]string{"A", "B", "C"}))

			Expect(m.Close(ctx)).To(Succeed())
			Expect(m.Close(ctx)).To(Succeed())

			for _, f := range []*backendtest.Fake{a, b, c} {
				Expect(f.Cleanups()).To(Equal(1))
			}
		})

		It("should stop dispatching after close", func() {
			Expect(m.Close(ctx)).To(Succeed())
			a.Search = backendtest.Returns("WO2016140201")

			_, used, err := m.Search(ctx, "site", "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal(fallback.NoBackend))
			Expect(built).To(BeEmpty())
		})
	})
})
