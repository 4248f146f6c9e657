package scorer

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/sony/gobreaker/v2"
)

// envConfig is the environment representation of Config
type envConfig struct {
	APIKey               string        `env:"PERSPECTIVE_API_KEY"`
	DiscoveryURL         string        `env:"PERSPECTIVE_DISCOVERY_URL"`
	ProxyBaseAddress     string        `env:"SCORER_PROXY_BASE_URL"`
	ProxyOrigin          string        `env:"SCORER_PROXY_ORIGIN"`
	PreferDirect         bool          `env:"SCORER_PREFER_DIRECT,default=false"`
	Timeout              time.Duration `env:"SCORER_TIMEOUT,default=30s"`
	MaxContentLength     int           `env:"SCORER_MAX_CONTENT_LENGTH,default=20480"`
	EnableRetry          bool          `env:"SCORER_ENABLE_RETRY,default=false"`
	EnableCircuitBreaker bool          `env:"SCORER_ENABLE_CIRCUIT_BREAKER,default=false"`
	EnableMetrics        bool          `env:"SCORER_ENABLE_METRICS,default=false"`
}

// NewDefaultConfig creates a config with sensible defaults. An empty apiKey
// is allowed and leaves only the proxy transport usable.
func NewDefaultConfig(apiKey string) Config {
	return Config{
		APIKey:           apiKey,
		DiscoveryURL:     DefaultDiscoveryURL,
		MaxContentLength: DefaultMaxContentLength,
		Timeout:          30 * time.Second,
	}
}

// NewProductionConfig creates a production-ready config with all resilience features
func NewProductionConfig(apiKey string) Config {
	cfg := NewDefaultConfig(apiKey)
	cfg.Timeout = 60 * time.Second
	cfg.EnableMetrics = true
	cfg = cfg.WithCircuitBreaker()
	cfg = cfg.WithRetry()
	return cfg
}

// LoadConfigFromEnv builds a Config from environment variables
func LoadConfigFromEnv() (Config, error) {
	var e envConfig
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := NewDefaultConfig(e.APIKey)
	if e.DiscoveryURL != "" {
		cfg.DiscoveryURL = e.DiscoveryURL
	}
	cfg.ProxyBaseAddress = e.ProxyBaseAddress
	cfg.ProxyOrigin = e.ProxyOrigin
	cfg.PreferDirect = e.PreferDirect
	cfg.Timeout = e.Timeout
	cfg.MaxContentLength = e.MaxContentLength
	cfg.EnableMetrics = e.EnableMetrics
	if e.EnableRetry {
		cfg = cfg.WithRetry()
	}
	if e.EnableCircuitBreaker {
		cfg = cfg.WithCircuitBreaker()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Config) WithCircuitBreaker() Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = defaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Config) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff
func (c Config) WithRetry() Config {
	c.EnableRetry = true
	c.RetryConfig = defaultRetryConfig()
	return c
}

// WithRetryStrategy enables retry with specified strategy
func (c Config) WithRetryStrategy(strategy RetryStrategy, maxAttempts int) Config {
	c.EnableRetry = true
	c.RetryConfig = &RetryConfig{
		MaxAttempts:  maxAttempts,
		Strategy:     strategy,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Config) WithRetryConfig(config *RetryConfig) Config {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithTimeout sets the HTTP client timeout
func (c Config) WithTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.Timeout = timeout
	return c
}

// WithProxyBaseAddress sets the default proxy base address
func (c Config) WithProxyBaseAddress(base string) Config {
	c.ProxyBaseAddress = base
	return c
}

// WithProxyOrigin sets the host relative proxy addresses resolve against
func (c Config) WithProxyOrigin(origin string) Config {
	c.ProxyOrigin = origin
	return c
}

// WithPreferDirect sets the default transport intent
func (c Config) WithPreferDirect(prefer bool) Config {
	c.PreferDirect = prefer
	return c
}

// WithMaxContentLength sets the maximum text length in bytes
func (c Config) WithMaxContentLength(max int) Config {
	if max < 0 {
		panic("MaxContentLength must be non-negative")
	}
	c.MaxContentLength = max
	return c
}

// WithMetrics enables or disables Prometheus metrics
func (c Config) WithMetrics(enabled bool) Config {
	c.EnableMetrics = enabled
	return c
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}

	if c.MaxContentLength < 0 {
		return errors.New("MaxContentLength must be non-negative")
	}

	if c.DiscoveryURL != "" {
		if _, err := url.ParseRequestURI(c.DiscoveryURL); err != nil {
			return fmt.Errorf("invalid discovery URL: %w", err)
		}
	}

	if c.ProxyOrigin != "" {
		u, err := url.Parse(c.ProxyOrigin)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("proxy origin must be an absolute URL: %q", c.ProxyOrigin)
		}
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return errors.New("circuit breaker enabled but config is nil")
	}

	if c.EnableRetry {
		if c.RetryConfig == nil {
			return errors.New("retry enabled but config is nil")
		}

		if !isValidRetryStrategy(c.RetryConfig.Strategy) {
			return fmt.Errorf("invalid retry strategy: %s", c.RetryConfig.Strategy)
		}

		if c.RetryConfig.MaxAttempts <= 0 {
			return errors.New("retry MaxAttempts must be positive")
		}

		if c.RetryConfig.InitialDelay <= 0 {
			return errors.New("retry InitialDelay must be positive")
		}

		if c.RetryConfig.MaxDelay <= 0 {
			return errors.New("retry MaxDelay must be positive")
		}
	}

	return nil
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}

// TripAfter returns a ReadyToTrip func that trips after n consecutive failures
func TripAfter(n uint32) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}
