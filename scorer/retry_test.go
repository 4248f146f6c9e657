package scorer_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/toxicity-client/scorer"
)

// Retry specs cover the opt-in retry decorators for both transports and the
// classification that decides which failures are worth another attempt.
var _ = Describe("Retry", func() {
	var (
		ctx    context.Context
		config *scorer.RetryConfig
		proxy  *fakeProxy
		retry  scorer.ProxyTransport
	)

	BeforeEach(func() {
		ctx = context.Background()
		config = &scorer.RetryConfig{
			MaxAttempts:  3,
			Strategy:     scorer.RetryStrategyExponential,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		}
		proxy = &fakeProxy{response: `{"ok":true}`}
		retry = scorer.NewRetryProxy(proxy, config, scorer.NewMetricsRecorder(false))
	})

	Describe("Successful Requests", func() {
		It("should not retry on success", func() {
			start := time.Now()
			body, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).ToNot(HaveOccurred())
			Expect(string(body)).To(MatchJSON(`{"ok":true}`))
			Expect(proxy.Calls()).To(Equal(1))
			Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
		})
	})

	Describe("Retryable Errors", func() {
		It("should retry rate limits until the request succeeds", func() {
			proxy.errs = []error{
				&scorer.HTTPError{StatusCode: 429},
				&scorer.HTTPError{StatusCode: 429},
			}

			_, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).ToNot(HaveOccurred())
			Expect(proxy.Calls()).To(Equal(3))
		})

		It("should retry server errors", func() {
			proxy.errs = []error{&scorer.HTTPError{StatusCode: 503}}

			_, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).ToNot(HaveOccurred())
			Expect(proxy.Calls()).To(Equal(2))
		})

		It("should retry direct calls through the same policy", func() {
			direct := &fakeDirectClient{
				result: toxicBody,
				errs:   []error{errors.New("connection reset by peer")},
			}
			client := scorer.NewRetryDirectClient(direct, config, nil)

			resp, err := client.AnalyzeComment(ctx, &scorer.DirectAnalyzeRequest{})

			Expect(err).ToNot(HaveOccurred())
			Expect(string(resp.Result)).To(MatchJSON(toxicBody))
			Expect(direct.Calls()).To(Equal(2))
		})
	})

	Describe("Non-Retryable Errors", func() {
		It("should not retry client errors", func() {
			proxy.errs = []error{&scorer.HTTPError{StatusCode: 401}}

			_, err := retry.Post(ctx, "/check", struct{}{})

			var httpErr *scorer.HTTPError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.StatusCode).To(Equal(401))
			Expect(proxy.Calls()).To(Equal(1))
		})

		It("should not retry unsupported feedback", func() {
			direct := &fakeDirectClient{errs: []error{scorer.ErrFeedbackUnsupported}}
			client := scorer.NewRetryDirectClient(direct, config, nil)

			_, err := client.SuggestCommentScore(ctx, &scorer.DirectFeedbackRequest{})

			Expect(err).To(MatchError(scorer.ErrFeedbackUnsupported))
			Expect(direct.Calls()).To(Equal(1))
		})
	})

	Describe("Max Attempts", func() {
		It("should stop after max attempts and return the last error", func() {
			last := &scorer.HTTPError{StatusCode: 502, Body: "third"}
			proxy.errs = []error{
				&scorer.HTTPError{StatusCode: 500, Body: "first"},
				&scorer.HTTPError{StatusCode: 503, Body: "second"},
				last,
				&scorer.HTTPError{StatusCode: 504, Body: "never"},
			}

			_, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).To(MatchError(last))
			Expect(proxy.Calls()).To(Equal(3))
		})

		It("should make a single attempt when MaxAttempts is 1", func() {
			config.MaxAttempts = 1
			retry = scorer.NewRetryProxy(proxy, config, nil)
			proxy.errs = []error{&scorer.HTTPError{StatusCode: 500}}

			_, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).To(HaveOccurred())
			Expect(proxy.Calls()).To(Equal(1))
		})
	})

	Describe("Backoff Strategies", func() {
		DescribeTable("should wait between attempts",
			func(strategy scorer.RetryStrategy) {
				config.Strategy = strategy
				config.InitialDelay = 20 * time.Millisecond
				retry = scorer.NewRetryProxy(proxy, config, nil)
				proxy.errs = []error{
					&scorer.HTTPError{StatusCode: 500},
					&scorer.HTTPError{StatusCode: 500},
				}

				start := time.Now()
				_, err := retry.Post(ctx, "/check", struct{}{})

				Expect(err).ToNot(HaveOccurred())
				// two waits of at least the initial delay minus jitter
				Expect(time.Since(start)).To(BeNumerically(">=", 36*time.Millisecond))
			},
			Entry("exponential", scorer.RetryStrategyExponential),
			Entry("constant", scorer.RetryStrategyConstant),
			Entry("fibonacci", scorer.RetryStrategyFibonacci),
		)

		It("should cap delay at MaxDelay", func() {
			config.InitialDelay = 40 * time.Millisecond
			config.MaxDelay = 45 * time.Millisecond
			config.MaxAttempts = 4
			retry = scorer.NewRetryProxy(proxy, config, nil)
			proxy.errs = []error{
				&scorer.HTTPError{StatusCode: 500},
				&scorer.HTTPError{StatusCode: 500},
				&scorer.HTTPError{StatusCode: 500},
			}

			start := time.Now()
			_, err := retry.Post(ctx, "/check", struct{}{})

			Expect(err).ToNot(HaveOccurred())
			// uncapped exponential would wait 40+80+160ms
			Expect(time.Since(start)).To(BeNumerically("<", 250*time.Millisecond))
		})
	})

	Describe("Context Cancellation", func() {
		It("should stop retrying when the context is done", func() {
			config.InitialDelay = 200 * time.Millisecond
			config.MaxDelay = time.Second
			retry = scorer.NewRetryProxy(proxy, config, nil)
			proxy.errs = []error{
				&scorer.HTTPError{StatusCode: 500},
				&scorer.HTTPError{StatusCode: 500},
			}

			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := retry.Post(short, "/check", struct{}{})

			Expect(err).To(HaveOccurred())
			Expect(proxy.Calls()).To(Equal(1))
			Expect(time.Since(start)).To(BeNumerically("<", 150*time.Millisecond))
		})
	})

	Describe("IsRetryableError", func() {
		DescribeTable("classification",
			func(err error, expected bool) {
				Expect(scorer.IsRetryableError(err)).To(Equal(expected))
			},
			Entry("nil", nil, false),
			Entry("rate limit", &scorer.HTTPError{StatusCode: 429}, true),
			Entry("server error", &scorer.HTTPError{StatusCode: 500}, true),
			Entry("bad request", &scorer.HTTPError{StatusCode: 400}, false),
			Entry("wrapped server error", fmt.Errorf("%w: %w", scorer.ErrTransport, &scorer.HTTPError{StatusCode: 502}), true),
			Entry("openai rate limit", &openai.APIError{HTTPStatusCode: 429}, true),
			Entry("openai auth", &openai.APIError{HTTPStatusCode: 401}, false),
			Entry("openai request error", &openai.RequestError{HTTPStatusCode: 503}, true),
			Entry("malformed response", fmt.Errorf("%w: missing TOXICITY", scorer.ErrMalformedResponse), false),
			Entry("invalid input", scorer.ErrInvalidInput, false),
			Entry("feedback unsupported", scorer.ErrFeedbackUnsupported, false),
			Entry("open circuit", gobreaker.ErrOpenState, false),
			Entry("half-open circuit", gobreaker.ErrTooManyRequests, false),
			Entry("deadline", context.DeadlineExceeded, true),
			Entry("cancelled", context.Canceled, false),
			Entry("network error", errors.New("dial tcp: connection refused"), true),
		)
	})
})
