package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/backendtest"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("Guard", func() {
	var (
		ctx      context.Context
		breaker  *circuitbreaker.Breaker
		fake     *backendtest.Fake
		identity = backend.Identity{Name: "primary", Tier: 1}
	)

	BeforeEach(func() {
		ctx = context.Background()
		breaker = circuitbreaker.New("primary", 3, time.Hour, circuitbreaker.WithLogger(quiet))
		fake = backendtest.New(identity, breaker, backend.WithGuardLogger(quiet))
	})

	Describe("lifecycle", func() {
		It("should initialize lazily on the first operation and only once", func() {
			Expect(fake.Inits()).To(Equal(0))

			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).NotTo(HaveOccurred())
			_, err = fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).NotTo(HaveOccurred())

			Expect(fake.Inits()).To(Equal(1))
			Expect(fake.Snapshot().Initialized).To(BeTrue())
		})

		It("should mark the instance failed after an initialization error", func() {
			fake.InitErr = errors.New("chrome not found")

			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			var initErr *backend.InitializationError
			Expect(errors.As(err, &initErr)).To(BeTrue())
			Expect(initErr.Backend).To(Equal("primary"))

			Expect(fake.Health()).To(Equal(circuitbreaker.HealthFailed))
			Expect(fake.Available()).To(BeFalse())

			_, err = fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).To(MatchError(backend.ErrUnavailable))
			Expect(fake.Inits()).To(Equal(1))
		})

		It("should release only initialized sessions and only once", func() {
			Expect(fake.Cleanup(ctx)).To(Succeed())
			Expect(fake.Cleanups()).To(Equal(0))

			Expect(fake.Initialize(ctx)).To(Succeed())
			Expect(fake.Cleanup(ctx)).To(Succeed())
			Expect(fake.Cleanup(ctx)).To(Succeed())
			Expect(fake.Cleanups()).To(Equal(1))
		})
	})

	Describe("result classification", func() {
		It("should record non-empty results as successes", func() {
			fake.Search = backendtest.Returns("WO2016140201")

			ids, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf(patent.Identifier("WO2016140201")))

			m := fake.Snapshot().Metrics
			Expect(m.TotalRequests).To(Equal(int64(1)))
			Expect(m.SuccessfulRequests).To(Equal(int64(1)))
			Expect(m.Samples).To(Equal(1))
		})

		It("should not count empty results against the breaker", func() {
			breaker.RecordFailure()
			breaker.RecordFailure()

			ids, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())

			Expect(breaker.Failures()).To(Equal(2))
			m := fake.Snapshot().Metrics
			Expect(m.SuccessfulRequests).To(Equal(int64(1)))
			Expect(m.Samples).To(Equal(0))
		})

		It("should count blocked responses as blocked failures", func() {
			fake.Search = backendtest.Fails(&backend.BlockedError{Backend: "primary", Op: backend.OpSearch, Reason: "captcha"})

			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(backend.IsBlocked(err)).To(BeTrue())

			m := fake.Snapshot().Metrics
			Expect(m.FailedRequests).To(Equal(int64(1)))
			Expect(m.BlockedRequests).To(Equal(int64(1)))
			Expect(breaker.Failures()).To(Equal(1))
		})

		It("should open the circuit at the threshold and then fail fast", func() {
			fake.Search = backendtest.Fails(errors.New("boom"))

			for i := 0; i < 3; i++ {
				_, err := fake.SearchIdentifiers(ctx, "q", 10)
				Expect(err).To(HaveOccurred())
			}

			Expect(fake.Health()).To(Equal(circuitbreaker.HealthCircuitOpen))

			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(err).To(MatchError(backend.ErrUnavailable))
			Expect(fake.Calls(backend.OpSearch)).To(Equal(3))
		})

		It("should keep total equal to successes plus failures", func() {
			outcomes := []error{nil, errors.New("x"), nil, &backend.BlockedError{Reason: "captcha"}}
			i := 0
			fake.Search = func(context.Context, string, int) ([]patent.Identifier, error) {
				err := outcomes[i%len(outcomes)]
				i++
				if err != nil {
					return nil, err
				}
				return []patent.Identifier{"WO2011140324"}, nil
			}

			for range outcomes {
				_, _ = fake.SearchIdentifiers(ctx, "q", 10)
			}

			m := fake.Snapshot().Metrics
			Expect(m.TotalRequests).To(Equal(m.SuccessfulRequests + m.FailedRequests))
			Expect(m.SuccessRate).To(BeNumerically("~", 0.5, 1e-9))
		})
	})

	Describe("timeouts and retries", func() {
		It("should treat a per-call timeout as a transport failure", func() {
			fake = backendtest.New(identity, breaker,
				backend.WithGuardLogger(quiet),
				backend.WithTimeout(10*time.Millisecond))
			fake.Search = func(ctx context.Context, _ string, _ int) ([]patent.Identifier, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}

			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(backend.IsTransport(err)).To(BeTrue())
			Expect(breaker.Failures()).To(Equal(1))
		})

		It("should retry transport errors but not blocked errors", func() {
			fake = backendtest.New(identity, breaker,
				backend.WithGuardLogger(quiet),
				backend.WithRetry(pacing.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

			fake.Search = backendtest.Fails(&backend.TransportError{Backend: "primary", Op: backend.OpSearch, Err: errors.New("reset")})
			_, err := fake.SearchIdentifiers(ctx, "q", 10)
			Expect(backend.IsTransport(err)).To(BeTrue())
			Expect(fake.Calls(backend.OpSearch)).To(Equal(3))
			Expect(breaker.Failures()).To(Equal(1))

			fake.Search = backendtest.Fails(&backend.BlockedError{Backend: "primary", Op: backend.OpSearch, Reason: "captcha"})
			_, err = fake.SearchIdentifiers(ctx, "q", 10)
			Expect(backend.IsBlocked(err)).To(BeTrue())
			Expect(fake.Calls(backend.OpSearch)).To(Equal(4))
		})

		It("should not blame the backend when the caller cancels", func() {
			cctx, cancel := context.WithCancel(ctx)
			fake.Search = func(context.Context, string, int) ([]patent.Identifier, error) {
				cancel()
				return nil, context.Canceled
			}

			_, err := fake.SearchIdentifiers(cctx, "q", 10)
			Expect(err).To(MatchError(context.Canceled))
			Expect(breaker.Failures()).To(Equal(0))
			Expect(fake.Health()).To(Equal(circuitbreaker.HealthReady))
		})
	})

	Describe("FetchDetails", func() {
		It("should return nil without error when the record is unknown", func() {
			rec, err := fake.FetchDetails(ctx, "WO2016140201")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).To(BeNil())
		})
	})
})
