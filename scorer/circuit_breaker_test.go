package scorer_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/toxicity-client/scorer"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		ctx     context.Context
		config  *scorer.CircuitBreakerConfig
		proxy   *fakeProxy
		breaker *scorer.CircuitBreakerProxy
	)

	BeforeEach(func() {
		ctx = context.Background()
		config = &scorer.CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    10 * time.Second,
			Timeout:     5 * time.Second,
			ReadyToTrip: scorer.TripAfter(3),
		}
		proxy = &fakeProxy{response: `{}`}
		breaker = scorer.NewCircuitBreakerProxy(proxy, config, scorer.NewMetricsRecorder(false))
	})

	failWith := func(n int, err error) {
		errs := make([]error, n)
		for i := range errs {
			errs[i] = err
		}
		proxy.errs = errs
		for i := 0; i < n; i++ {
			_, _ = breaker.Post(ctx, "/check", struct{}{})
		}
	}

	Describe("Normal Operation", func() {
		It("should pass through successful requests", func() {
			body, err := breaker.Post(ctx, "/check", struct{}{})

			Expect(err).ToNot(HaveOccurred())
			Expect(string(body)).To(Equal(`{}`))
			Expect(breaker.State()).To(Equal(gobreaker.StateClosed))
		})

		It("should count successful requests", func() {
			for i := 0; i < 5; i++ {
				_, err := breaker.Post(ctx, "/check", struct{}{})
				Expect(err).ToNot(HaveOccurred())
			}

			counts := breaker.Counts()
			Expect(counts.Requests).To(Equal(uint32(5)))
			Expect(counts.TotalSuccesses).To(Equal(uint32(5)))
		})
	})

	Describe("Error Handling", func() {
		Context("with errors that say nothing about backend health", func() {
			It("should not trip on rate limits", func() {
				failWith(5, &scorer.HTTPError{StatusCode: 429})
				Expect(breaker.State()).To(Equal(gobreaker.StateClosed))
			})

			It("should not trip on timeouts", func() {
				failWith(5, context.DeadlineExceeded)
				Expect(breaker.State()).To(Equal(gobreaker.StateClosed))
			})
		})

		Context("with circuit-breaking errors", func() {
			It("should trip on server errors", func() {
				failWith(3, &scorer.HTTPError{StatusCode: 503})

				Expect(breaker.State()).To(Equal(gobreaker.StateOpen))

				_, err := breaker.Post(ctx, "/check", struct{}{})
				Expect(err).To(MatchError(gobreaker.ErrOpenState))
				Expect(proxy.Calls()).To(Equal(3))
			})

			It("should trip on network errors", func() {
				failWith(3, errors.New("connection refused"))
				Expect(breaker.State()).To(Equal(gobreaker.StateOpen))
			})
		})
	})

	Describe("Recovery", func() {
		It("should close again after a successful half-open request", func() {
			config.Timeout = 50 * time.Millisecond
			breaker = scorer.NewCircuitBreakerProxy(proxy, config, nil)

			failWith(3, &scorer.HTTPError{StatusCode: 500})
			Expect(breaker.State()).To(Equal(gobreaker.StateOpen))

			Eventually(breaker.State).WithTimeout(time.Second).Should(Equal(gobreaker.StateHalfOpen))

			proxy.errs = nil
			_, err := breaker.Post(ctx, "/check", struct{}{})
			Expect(err).ToNot(HaveOccurred())
			Expect(breaker.State()).To(Equal(gobreaker.StateClosed))
		})
	})

	Describe("State Change Callbacks", func() {
		It("should call the configured callback", func() {
			var (
				mu          sync.Mutex
				transitions []gobreaker.State
			)
			config.OnStateChange = func(name string, from, to gobreaker.State) {
				defer GinkgoRecover()
				Expect(name).To(Equal("proxy"))
				mu.Lock()
				transitions = append(transitions, to)
				mu.Unlock()
			}
			breaker = scorer.NewCircuitBreakerProxy(proxy, config, nil)

			failWith(3, &scorer.HTTPError{StatusCode: 500})

			mu.Lock()
			defer mu.Unlock()
			Expect(transitions).To(Equal([]gobreaker.State{gobreaker.StateOpen}))
		})
	})

	Describe("DirectBreaker", func() {
		It("should share one breaker across every wrapped client", func() {
			direct := scorer.NewDirectBreaker(config, nil)
			failing := &fakeDirectClient{errs: []error{
				&scorer.HTTPError{StatusCode: 500},
				&scorer.HTTPError{StatusCode: 500},
				&scorer.HTTPError{StatusCode: 500},
			}}

			wrapped := direct.Wrap(failing)
			for i := 0; i < 3; i++ {
				_, err := wrapped.AnalyzeComment(ctx, &scorer.DirectAnalyzeRequest{})
				Expect(err).To(HaveOccurred())
			}
			Expect(direct.State()).To(Equal(gobreaker.StateOpen))

			healthy := &fakeDirectClient{result: toxicBody}
			_, err := direct.Wrap(healthy).SuggestCommentScore(ctx, &scorer.DirectFeedbackRequest{})
			Expect(err).To(MatchError(gobreaker.ErrOpenState))
			Expect(healthy.Calls()).To(BeZero())
		})

		It("should not count unsupported feedback as a failure", func() {
			direct := scorer.NewDirectBreaker(config, nil)
			client := direct.Wrap(&fakeDirectClient{errs: []error{
				scorer.ErrFeedbackUnsupported,
				scorer.ErrFeedbackUnsupported,
				scorer.ErrFeedbackUnsupported,
			}})

			for i := 0; i < 3; i++ {
				_, err := client.SuggestCommentScore(ctx, &scorer.DirectFeedbackRequest{})
				Expect(err).To(MatchError(scorer.ErrFeedbackUnsupported))
			}
			Expect(direct.State()).To(Equal(gobreaker.StateClosed))
			Expect(direct.Counts().ConsecutiveFailures).To(BeZero())
		})
	})

	Describe("ShouldTripCircuit", func() {
		DescribeTable("classification",
			func(err error, expected bool) {
				Expect(scorer.ShouldTripCircuit(err)).To(Equal(expected))
			},
			Entry("nil", nil, false),
			Entry("rate limit", &scorer.HTTPError{StatusCode: 429}, false),
			Entry("server error", &scorer.HTTPError{StatusCode: 500}, true),
			Entry("auth error", &scorer.HTTPError{StatusCode: 403}, true),
			Entry("openai rate limit", &openai.APIError{HTTPStatusCode: 429}, false),
			Entry("openai server error", &openai.APIError{HTTPStatusCode: 502}, true),
			Entry("invalid input", scorer.ErrInvalidInput, false),
			Entry("feedback unsupported", scorer.ErrFeedbackUnsupported, false),
			Entry("deadline", context.DeadlineExceeded, false),
			Entry("cancelled", context.Canceled, false),
			Entry("unknown", errors.New("boom"), true),
		)
	})

	Describe("TripAfter", func() {
		It("should trip once consecutive failures reach the threshold", func() {
			trip := scorer.TripAfter(2)
			Expect(trip(gobreaker.Counts{ConsecutiveFailures: 1})).To(BeFalse())
			Expect(trip(gobreaker.Counts{ConsecutiveFailures: 2})).To(BeTrue())
		})
	})
})
