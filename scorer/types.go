package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// AttributeToxicity is the only attribute requested from the scoring backend
const AttributeToxicity = "TOXICITY"

// DefaultDiscoveryURL is where the direct-path client is discovered
const DefaultDiscoveryURL = "https://commentanalyzer.googleapis.com/$discovery/rest?version=v1alpha1"

const (
	// DefaultMaxContentLength matches the backend's per-comment limit in bytes
	DefaultMaxContentLength = 20480
	MinContentLength        = 1
)

// AnalysisInput is a piece of text to be scored
type AnalysisInput struct {
	Text      string // Text to score
	SessionID string // Opaque correlation id, passed through untouched
}

// FeedbackInput tells the backend what the correct toxicity of a text is
type FeedbackInput struct {
	Text          string
	SessionID     string
	MarkedAsToxic bool
}

// SummaryScore is the backend's probability estimate for one attribute
type SummaryScore struct {
	Value float64 `json:"value"`
	Type  string  `json:"type,omitempty"`
}

// SpanScore scores a sub-range of the text
type SpanScore struct {
	Begin int          `json:"begin"`
	End   int          `json:"end"`
	Score SummaryScore `json:"score"`
}

// AttributeScore holds the scores for a single attribute
type AttributeScore struct {
	SummaryScore SummaryScore `json:"summaryScore"`
	SpanScores   []SpanScore  `json:"spanScores,omitempty"`
}

// AnalysisResult is the canonical scoring result, identical for both transports
type AnalysisResult struct {
	AttributeScores map[string]AttributeScore `json:"attributeScores"`
	Languages       []string                  `json:"languages,omitempty"`
	ClientToken     string                    `json:"clientToken,omitempty"`
}

// Score returns the summary score for attr
func (r AnalysisResult) Score(attr string) (float64, bool) {
	s, ok := r.AttributeScores[attr]
	if !ok {
		return 0, false
	}
	return s.SummaryScore.Value, true
}

// Toxicity returns the TOXICITY summary score, or 0 when it is absent
func (r AnalysisResult) Toxicity() float64 {
	v, _ := r.Score(AttributeToxicity)
	return v
}

// FeedbackResult is the backend's acknowledgement of a score suggestion
type FeedbackResult struct {
	Transport Transport       // Transport that carried the suggestion
	Body      json.RawMessage // Acknowledgement as returned by the backend
}

// Transport identifies the path a call actually took
type Transport int

const (
	TransportProxy Transport = iota
	TransportDirect
)

func (t Transport) String() string {
	switch t {
	case TransportDirect:
		return "direct"
	case TransportProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// TransportChoice is the caller's per-call transport intent
type TransportChoice struct {
	PreferDirect     bool   // Use the direct client when it is ready
	ProxyBaseAddress string // Proxy base address; empty means relative to the current host
}

// ClientState is the readiness of the direct-path client
type ClientState int

const (
	StateUninitialized ClientState = iota
	StateLoading
	StateReady
	StateUnavailable
)

func (s ClientState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// DirectResponse mirrors the {result: ...} envelope the direct client resolves with
type DirectResponse struct {
	Status int             `json:"status,omitempty"`
	Result json.RawMessage `json:"result"`
}

// DirectClient is a loaded, credentialed client for the scoring service
type DirectClient interface {
	AnalyzeComment(ctx context.Context, req *DirectAnalyzeRequest) (*DirectResponse, error)
	SuggestCommentScore(ctx context.Context, req *DirectFeedbackRequest) (*DirectResponse, error)
}

// Loader produces a DirectClient from a credential and a discovery document location
type Loader func(ctx context.Context, credential, discoveryURL string) (DirectClient, error)

// ProxyTransport posts a JSON body to the operator's backend and returns the raw response body
type ProxyTransport interface {
	Post(ctx context.Context, url string, body any) ([]byte, error)
}

// HealthStatus represents the health state of the client
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// Config holds the configuration for the client
type Config struct {
	APIKey               string                // Credential for the direct path (optional)
	DiscoveryURL         string                // Discovery document for the direct client
	ProxyBaseAddress     string                // Default proxy base address
	ProxyOrigin          string                // Host that relative proxy addresses resolve against
	PreferDirect         bool                  // Default transport intent
	MaxContentLength     int                   // Maximum text length in bytes (0 = use default)
	Timeout              time.Duration         // HTTP client timeout (0 = none)
	EnableMetrics        bool                  // Record Prometheus metrics
	EnableCircuitBreaker bool                  // Enable circuit breaker pattern
	EnableRetry          bool                  // Enable retry with backoff
	CircuitBreakerConfig *CircuitBreakerConfig // Circuit breaker configuration
	RetryConfig          *RetryConfig          // Retry configuration
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      // Max requests in half-open state
	Interval      time.Duration                               // Interval for closed state
	Timeout       time.Duration                               // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	Strategy     RetryStrategy // Backoff strategy to use
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

// HTTPError is a non-2xx answer from the proxy or the scoring service
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Error definitions
var (
	ErrCredentialMissing    = errors.New("credential is missing")
	ErrClientLoadFailed     = errors.New("direct client failed to load")
	ErrTransportUnavailable = errors.New("direct transport unavailable")
	ErrTransport            = errors.New("transport error")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrFeedbackUnsupported  = errors.New("backend does not accept score suggestions")
)

// NewSessionID returns a fresh session id for callers that do not track their own
func NewSessionID() string {
	return uuid.NewString()
}
