package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

// Client combines the direct-client lifecycle, the dispatcher and the
// configured resilience layers behind one handle.
type Client struct {
	config        Config
	lifecycle     *ClientLifecycle
	dispatcher    *Dispatcher
	metrics       *MetricsRecorder
	directBreaker *DirectBreaker
	proxyBreaker  *CircuitBreakerProxy
}

type clientOptions struct {
	loader     Loader
	httpClient *http.Client
	proxy      ProxyTransport
	observer   func(from, to ClientState)
}

// ClientOption customizes NewClient
type ClientOption func(*clientOptions)

// WithLoader replaces the default discovery-based direct client loader
func WithLoader(loader Loader) ClientOption {
	return func(o *clientOptions) {
		o.loader = loader
	}
}

// WithHTTPClient sets the HTTP client used by the default loader and proxy
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithProxyTransport replaces the HTTP proxy transport
func WithProxyTransport(proxy ProxyTransport) ClientOption {
	return func(o *clientOptions) {
		o.proxy = proxy
	}
}

// WithClientStateObserver observes direct client state transitions
func WithClientStateObserver(fn func(from, to ClientState)) ClientOption {
	return func(o *clientOptions) {
		o.observer = fn
	}
}

// CallOption overrides the configured transport choice for one call
type CallOption func(*TransportChoice)

// PreferDirect sets whether this call should use the direct client when ready
func PreferDirect(prefer bool) CallOption {
	return func(c *TransportChoice) {
		c.PreferDirect = prefer
	}
}

// ProxyBase sets the proxy base address for this call
func ProxyBase(base string) CallOption {
	return func(c *TransportChoice) {
		c.ProxyBaseAddress = base
	}
}

// NewClient creates a client from cfg. Call Start to begin loading the direct client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if o.loader == nil {
		o.loader = PerspectiveLoader(o.httpClient)
	}

	metrics := NewMetricsRecorder(cfg.EnableMetrics)

	lifecycle := NewClientLifecycle(o.loader,
		WithDiscoveryURL(cfg.DiscoveryURL),
		WithStateObserver(func(from, to ClientState) {
			metrics.RecordClientState(to)
			if o.observer != nil {
				o.observer(from, to)
			}
		}),
	)

	proxy := o.proxy
	if proxy == nil {
		p, err := NewHTTPProxy(o.httpClient, cfg.ProxyOrigin)
		if err != nil {
			return nil, err
		}
		proxy = p
	}

	c := &Client{
		config:    cfg,
		lifecycle: lifecycle,
		metrics:   metrics,
	}

	var middleware []DirectMiddleware

	// Layer 1: retry (innermost)
	if cfg.EnableRetry {
		slog.Info("Enabling retry logic",
			"max_attempts", cfg.RetryConfig.MaxAttempts,
			"strategy", cfg.RetryConfig.Strategy)
		proxy = NewRetryProxy(proxy, cfg.RetryConfig, metrics)
		middleware = append(middleware, func(dc DirectClient) DirectClient {
			return NewRetryDirectClient(dc, cfg.RetryConfig, metrics)
		})
	}

	// Layer 2: circuit breaker (wraps retry)
	if cfg.EnableCircuitBreaker {
		slog.Info("Enabling circuit breaker",
			"max_requests", cfg.CircuitBreakerConfig.MaxRequests,
			"timeout", cfg.CircuitBreakerConfig.Timeout)
		c.proxyBreaker = NewCircuitBreakerProxy(proxy, cfg.CircuitBreakerConfig, metrics)
		proxy = c.proxyBreaker
		c.directBreaker = NewDirectBreaker(cfg.CircuitBreakerConfig, metrics)
		middleware = append(middleware, c.directBreaker.Wrap)
	}

	validation := DefaultValidationOptions()
	if cfg.MaxContentLength > 0 {
		validation.MaxLength = cfg.MaxContentLength
	}

	c.dispatcher = NewDispatcher(lifecycle, proxy,
		WithDirectMiddleware(middleware...),
		WithMetricsRecorder(metrics),
		WithValidationOptions(validation),
	)

	slog.Info("Toxicity client created",
		"direct_configured", cfg.APIKey != "",
		"prefer_direct", cfg.PreferDirect,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry)

	return c, nil
}

// Start begins loading the direct client with the configured API key. The
// channel receives the state the attempt ends in.
func (c *Client) Start(ctx context.Context) <-chan ClientState {
	return c.lifecycle.Initialize(ctx, c.config.APIKey)
}

// Lifecycle exposes the direct client lifecycle
func (c *Client) Lifecycle() *ClientLifecycle {
	return c.lifecycle
}

func (c *Client) choice(opts []CallOption) TransportChoice {
	choice := TransportChoice{
		PreferDirect:     c.config.PreferDirect,
		ProxyBaseAddress: c.config.ProxyBaseAddress,
	}
	for _, opt := range opts {
		opt(&choice)
	}
	return choice
}

// Analyze scores text for TOXICITY
func (c *Client) Analyze(ctx context.Context, in AnalysisInput, opts ...CallOption) (AnalysisResult, error) {
	return c.dispatcher.Analyze(ctx, in, c.choice(opts))
}

// SubmitFeedback tells the backend whether text is toxic
func (c *Client) SubmitFeedback(ctx context.Context, in FeedbackInput, opts ...CallOption) (FeedbackResult, error) {
	return c.dispatcher.SubmitFeedback(ctx, in, c.choice(opts))
}

// GetHealth returns comprehensive health status
func (c *Client) GetHealth(_ context.Context) HealthStatus {
	state := c.lifecycle.State()
	details := map[string]interface{}{
		"direct_client_state": state.String(),
		"prefer_direct":       c.config.PreferDirect,
		"proxy_base_address":  c.config.ProxyBaseAddress,
		"retry_enabled":       c.config.EnableRetry,
		"metrics_enabled":     c.config.EnableMetrics,
	}
	if err := c.lifecycle.LastError(); err != nil {
		details["direct_client_error"] = err.Error()
	}

	healthy := true
	status := "proxy only"
	if state == StateReady {
		status = "direct ready"
	}

	if c.directBreaker != nil {
		details["direct_circuit_breaker"] = breakerHealth(c.directBreaker.State(), c.directBreaker.Counts())
	}
	if c.proxyBreaker != nil {
		proxyState := c.proxyBreaker.State()
		details["proxy_circuit_breaker"] = breakerHealth(proxyState, c.proxyBreaker.Counts())
		switch proxyState {
		case gobreaker.StateOpen:
			healthy = false
			status = fmt.Sprintf("circuit open (%s)", status)
		case gobreaker.StateHalfOpen:
			status = fmt.Sprintf("degraded (%s)", status)
		}
	}

	return HealthStatus{
		Healthy: healthy,
		Status:  status,
		Details: details,
	}
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrFeedbackUnsupported):
		return "feedback_unsupported"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "circuit_open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_half_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return "rate_limit"
		case httpErr.StatusCode >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	}

	if errors.Is(err, ErrTransport) {
		return "transport"
	}
	return "unknown"
}
