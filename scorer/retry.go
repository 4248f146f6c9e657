package scorer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
)

func defaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// newBackoff returns the backoff for config. MaxAttempts counts the first
// attempt, so the backoff allows MaxAttempts-1 retries.
func newBackoff(config *RetryConfig) retry.Backoff {
	retries := uint64(0)
	if config.MaxAttempts > 1 {
		retries = uint64(config.MaxAttempts - 1)
	}

	var base retry.Backoff
	switch config.Strategy {
	case RetryStrategyConstant:
		base = retry.NewConstant(config.InitialDelay)
	case RetryStrategyFibonacci:
		base = retry.NewFibonacci(config.InitialDelay)
	default:
		base = retry.NewExponential(config.InitialDelay)
	}

	// Jitter keeps concurrent callers from retrying in lockstep
	if jitter := config.InitialDelay / 10; jitter > 0 {
		base = retry.WithJitter(jitter, base)
	}

	return retry.WithMaxRetries(retries, retry.WithCappedDuration(config.MaxDelay, base))
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or
// the backoff is exhausted. The last error is returned unwrapped.
func withRetry[T any](ctx context.Context, name string, config *RetryConfig, metrics *MetricsRecorder, op func(context.Context) (T, error)) (T, error) {
	var result T
	attempts := 0

	err := retry.Do(ctx, newBackoff(config), func(ctx context.Context) error {
		attempts++
		var err error
		result, err = op(ctx)
		if err == nil {
			if attempts > 1 {
				slog.Info("Request succeeded after retry",
					"transport", name,
					"attempts", attempts)
			}
			return nil
		}

		if !IsRetryableError(err) {
			slog.Debug("Non-retryable error, giving up",
				"transport", name,
				"error", err,
				"attempts", attempts)
			return err
		}

		slog.Debug("Retrying request",
			"transport", name,
			"attempt", attempts,
			"error", err)
		metrics.RecordRetry(classifyError(err))
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrFeedbackUnsupported),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Network errors and anything unclassified
	return true
}

func retryableStatus(code int) bool {
	switch {
	case code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// retryDirectClient retries direct client calls
type retryDirectClient struct {
	client  DirectClient
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryDirectClient wraps client with retry logic
func NewRetryDirectClient(client DirectClient, config *RetryConfig, metrics *MetricsRecorder) DirectClient {
	if config == nil {
		config = defaultRetryConfig()
	}
	return &retryDirectClient{client: client, config: config, metrics: metrics}
}

func (c *retryDirectClient) AnalyzeComment(ctx context.Context, req *DirectAnalyzeRequest) (*DirectResponse, error) {
	return withRetry(ctx, TransportDirect.String(), c.config, c.metrics, func(ctx context.Context) (*DirectResponse, error) {
		return c.client.AnalyzeComment(ctx, req)
	})
}

func (c *retryDirectClient) SuggestCommentScore(ctx context.Context, req *DirectFeedbackRequest) (*DirectResponse, error) {
	return withRetry(ctx, TransportDirect.String(), c.config, c.metrics, func(ctx context.Context) (*DirectResponse, error) {
		return c.client.SuggestCommentScore(ctx, req)
	})
}

// retryProxy retries proxy posts
type retryProxy struct {
	proxy   ProxyTransport
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryProxy wraps proxy with retry logic
func NewRetryProxy(proxy ProxyTransport, config *RetryConfig, metrics *MetricsRecorder) ProxyTransport {
	if config == nil {
		config = defaultRetryConfig()
	}
	return &retryProxy{proxy: proxy, config: config, metrics: metrics}
}

func (p *retryProxy) Post(ctx context.Context, url string, body any) ([]byte, error) {
	return withRetry(ctx, TransportProxy.String(), p.config, p.metrics, func(ctx context.Context) ([]byte, error) {
		return p.proxy.Post(ctx, url, body)
	})
}
