package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	opAnalyze  = "analyze"
	opFeedback = "suggest_score"
)

// ReadinessSource reports whether a direct client can be used right now
type ReadinessSource interface {
	ClientIfReady() (DirectClient, bool)
}

// DirectMiddleware decorates the direct client for a single call
type DirectMiddleware func(DirectClient) DirectClient

// Dispatcher routes analysis and feedback calls to the direct client or the proxy
type Dispatcher struct {
	source     ReadinessSource
	proxy      ProxyTransport
	middleware []DirectMiddleware
	metrics    *MetricsRecorder
	validation ValidationOptions
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDirectMiddleware wraps every direct client handed out by the lifecycle
func WithDirectMiddleware(mw ...DirectMiddleware) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// WithMetricsRecorder sets the recorder used for per-call metrics
func WithMetricsRecorder(m *MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithValidationOptions overrides the input validation rules
func WithValidationOptions(opts ValidationOptions) DispatcherOption {
	return func(d *Dispatcher) {
		d.validation = opts
	}
}

// NewDispatcher creates a dispatcher that reads readiness from source
func NewDispatcher(source ReadinessSource, proxy ProxyTransport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		source:     source,
		proxy:      proxy,
		metrics:    NewMetricsRecorder(false),
		validation: DefaultValidationOptions(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// resolve picks the transport for one call. Readiness is read exactly once.
func (d *Dispatcher) resolve(op string, choice TransportChoice) (Transport, DirectClient) {
	if !choice.PreferDirect {
		return TransportProxy, nil
	}

	client, ok := d.source.ClientIfReady()
	if !ok {
		slog.Warn("Direct client not ready, using proxy instead",
			"operation", op,
			"reason", ErrTransportUnavailable)
		d.metrics.RecordFallback(op)
		return TransportProxy, nil
	}

	for _, mw := range d.middleware {
		client = mw(client)
	}
	return TransportDirect, client
}

func proxyBase(op, base string) string {
	if base == "" {
		slog.Warn("No proxy base address specified, defaulting to the current host",
			"operation", op)
	}
	return base
}

// Analyze scores in through the transport resolved from choice
func (d *Dispatcher) Analyze(ctx context.Context, in AnalysisInput, choice TransportChoice) (AnalysisResult, error) {
	if err := ValidateAnalysisInput(in, d.validation); err != nil {
		d.metrics.RecordError(classifyError(err))
		return AnalysisResult{}, err
	}

	start := time.Now()
	t, client := d.resolve(opAnalyze, choice)
	req := BuildAnalyzeRequest(in, t)

	slog.Debug("Analyzing text",
		"transport", t.String(),
		"session_id", in.SessionID,
		"length", len(in.Text))

	raw := RawResponse{Transport: t}
	var err error
	if t == TransportDirect {
		raw.Direct, err = client.AnalyzeComment(ctx, req.Direct)
	} else {
		raw.Body, err = d.proxy.Post(ctx, proxyURL(proxyBase(opAnalyze, choice.ProxyBaseAddress), checkPath), req.Proxy)
	}
	if err != nil {
		err = fmt.Errorf("%w: analyze via %s: %w", ErrTransport, t, err)
		d.record(opAnalyze, t, start, err)
		return AnalysisResult{}, err
	}

	result, err := ParseAnalyzeResponse(raw)
	d.record(opAnalyze, t, start, err)
	if err != nil {
		return AnalysisResult{}, err
	}

	d.metrics.RecordScore(result.Toxicity())
	return result, nil
}

// SubmitFeedback suggests the correct toxicity of in through the transport resolved from choice
func (d *Dispatcher) SubmitFeedback(ctx context.Context, in FeedbackInput, choice TransportChoice) (FeedbackResult, error) {
	if err := ValidateFeedbackInput(in, d.validation); err != nil {
		d.metrics.RecordError(classifyError(err))
		return FeedbackResult{}, err
	}

	start := time.Now()
	t, client := d.resolve(opFeedback, choice)
	req := BuildFeedbackRequest(in, t)

	slog.Debug("Suggesting score",
		"transport", t.String(),
		"session_id", in.SessionID,
		"marked_as_toxic", in.MarkedAsToxic)

	raw := RawResponse{Transport: t}
	var err error
	if t == TransportDirect {
		raw.Direct, err = client.SuggestCommentScore(ctx, req.Direct)
	} else {
		raw.Body, err = d.proxy.Post(ctx, proxyURL(proxyBase(opFeedback, choice.ProxyBaseAddress), suggestScorePath), req.Proxy)
	}
	if err != nil {
		err = fmt.Errorf("%w: suggest score via %s: %w", ErrTransport, t, err)
		d.record(opFeedback, t, start, err)
		return FeedbackResult{}, err
	}

	result, err := ParseFeedbackResponse(raw)
	d.record(opFeedback, t, start, err)
	return result, err
}

func (d *Dispatcher) record(op string, t Transport, start time.Time, err error) {
	d.metrics.RecordRequestDuration(time.Since(start).Seconds(), op, t.String())
	if err != nil {
		d.metrics.RecordRequest(op, t.String(), "error")
		d.metrics.RecordError(classifyError(err))
		return
	}
	d.metrics.RecordRequest(op, t.String(), "success")
}
