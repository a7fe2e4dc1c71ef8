package pacing_test

import (
	"context"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
)

var _ = Describe("Backoff", func() {
	DescribeTable("Exponential",
		func(base time.Duration, attempt int, want time.Duration) {
			Expect(pacing.Exponential(base, attempt)).To(Equal(want))
		},
		Entry("first attempt", time.Second, 0, time.Second),
		Entry("third attempt", time.Second, 2, 4*time.Second),
		Entry("negative attempt", time.Second, -3, time.Second),
		Entry("zero base", time.Duration(0), 5, time.Duration(0)),
		Entry("overflow saturates", time.Hour, 62, time.Duration(math.MaxInt64)),
	)

	It("should cap and jitter within 25%", func() {
		for i := 0; i < 100; i++ {
			d := pacing.Backoff(time.Second, 4*time.Second, 10)
			Expect(d).To(BeNumerically(">=", 3*time.Second))
			Expect(d).To(BeNumerically("<=", 5*time.Second))
		}
	})

	Describe("Sleep", func() {
		It("should return early when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(pacing.Sleep(ctx, time.Hour)).To(MatchError(context.Canceled))
		})

		It("should return immediately for non-positive durations", func() {
			Expect(pacing.Sleep(context.Background(), 0)).To(Succeed())
		})
	})

	Describe("Retry", func() {
		errTransient := errors.New("transient")
		errFatal := errors.New("fatal")
		retryable := func(err error) bool { return errors.Is(err, errTransient) }
		policy := pacing.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

		It("should retry transient errors up to the limit", func() {
			calls := 0
			err := pacing.Retry(context.Background(), policy, retryable, func(context.Context) error {
				calls++
				return errTransient
			})
			Expect(err).To(MatchError(errTransient))
			Expect(calls).To(Equal(3))
		})

		It("should stop on the first success", func() {
			calls := 0
			err := pacing.Retry(context.Background(), policy, retryable, func(context.Context) error {
				calls++
				if calls == 2 {
					return nil
				}
				return errTransient
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(2))
		})

		It("should not retry errors the predicate rejects", func() {
			calls := 0
			err := pacing.Retry(context.Background(), policy, retryable, func(context.Context) error {
				calls++
				return errFatal
			})
			Expect(err).To(MatchError(errFatal))
			Expect(calls).To(Equal(1))
		})
	})
})
