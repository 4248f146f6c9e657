package scorer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

func defaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if 5 consecutive failures OR failure rate > 60%
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio > 0.6)
		},
	}
}

func breakerSettings(name string, config *CircuitBreakerConfig, metrics *MetricsRecorder) gobreaker.Settings {
	if config == nil {
		config = defaultCircuitBreakerConfig()
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: config.ReadyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			metrics.RecordCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}
			if config.OnStateChange != nil {
				config.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !ShouldTripCircuit(err)
		},
	}
}

// DirectBreaker guards every direct client handed out by the lifecycle with
// one shared circuit breaker.
type DirectBreaker struct {
	cb *gobreaker.CircuitBreaker[*DirectResponse]
}

// NewDirectBreaker creates the breaker shared by all direct calls
func NewDirectBreaker(config *CircuitBreakerConfig, metrics *MetricsRecorder) *DirectBreaker {
	return &DirectBreaker{
		cb: gobreaker.NewCircuitBreaker[*DirectResponse](breakerSettings("direct", config, metrics)),
	}
}

// Wrap returns client guarded by the breaker; usable as a DirectMiddleware
func (b *DirectBreaker) Wrap(client DirectClient) DirectClient {
	return &breakerDirectClient{client: client, cb: b.cb}
}

// State returns the current state of the circuit breaker
func (b *DirectBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the current counts of the circuit breaker
func (b *DirectBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

type breakerDirectClient struct {
	client DirectClient
	cb     *gobreaker.CircuitBreaker[*DirectResponse]
}

func (c *breakerDirectClient) AnalyzeComment(ctx context.Context, req *DirectAnalyzeRequest) (*DirectResponse, error) {
	resp, err := c.cb.Execute(func() (*DirectResponse, error) {
		return c.client.AnalyzeComment(ctx, req)
	})
	logBreakerError(c.cb.Name(), err)
	return resp, err
}

func (c *breakerDirectClient) SuggestCommentScore(ctx context.Context, req *DirectFeedbackRequest) (*DirectResponse, error) {
	resp, err := c.cb.Execute(func() (*DirectResponse, error) {
		return c.client.SuggestCommentScore(ctx, req)
	})
	logBreakerError(c.cb.Name(), err)
	return resp, err
}

// CircuitBreakerProxy wraps a proxy transport with circuit breaker functionality
type CircuitBreakerProxy struct {
	proxy ProxyTransport
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// NewCircuitBreakerProxy creates a new circuit breaker wrapper around a proxy transport
func NewCircuitBreakerProxy(proxy ProxyTransport, config *CircuitBreakerConfig, metrics *MetricsRecorder) *CircuitBreakerProxy {
	return &CircuitBreakerProxy{
		proxy: proxy,
		cb:    gobreaker.NewCircuitBreaker[[]byte](breakerSettings("proxy", config, metrics)),
	}
}

// Post executes the proxy call through the circuit breaker
func (p *CircuitBreakerProxy) Post(ctx context.Context, url string, body any) ([]byte, error) {
	resp, err := p.cb.Execute(func() ([]byte, error) {
		return p.proxy.Post(ctx, url, body)
	})
	logBreakerError(p.cb.Name(), err)
	return resp, err
}

// State returns the current state of the circuit breaker
func (p *CircuitBreakerProxy) State() gobreaker.State {
	return p.cb.State()
}

// Counts returns the current counts of the circuit breaker
func (p *CircuitBreakerProxy) Counts() gobreaker.Counts {
	return p.cb.Counts()
}

func logBreakerError(name string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState):
		slog.Debug("Circuit breaker is open, request rejected",
			"name", name,
			"error", err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Debug("Circuit breaker in half-open state, too many requests",
			"name", name,
			"error", err)
	default:
		slog.Debug("Request failed through circuit breaker",
			"name", name,
			"error", err,
			"should_trip", ShouldTripCircuit(err))
	}
}

// breakerHealth describes a breaker for HealthStatus details
func breakerHealth(state gobreaker.State, counts gobreaker.Counts) map[string]interface{} {
	return map[string]interface{}{
		"state":                 state.String(),
		"requests":              counts.Requests,
		"total_successes":       counts.TotalSuccesses,
		"total_failures":        counts.TotalFailures,
		"consecutive_failures":  counts.ConsecutiveFailures,
		"consecutive_successes": counts.ConsecutiveSuccesses,
	}
}

// ShouldTripCircuit determines if an error should cause the circuit to trip
func ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	// Caller mistakes and unsupported operations say nothing about backend health
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrFeedbackUnsupported) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return tripStatus(httpErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return tripStatus(apiErr.HTTPStatusCode)
	}

	// Timeouts are not counted against the backend
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return true
}

func tripStatus(code int) bool {
	switch {
	case code == 429: // Rate limit - expected, don't trip
		return false
	case code >= 400:
		return true
	default:
		return false
	}
}

// stateToInt converts circuit breaker state to int for metrics
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
