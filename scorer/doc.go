// Package scorer provides a Go client for scoring text toxicity and
// submitting human feedback on those scores.
//
// Two transports serve the same operations:
//   - direct: a credentialed client for the comment analyzer service, loaded
//     asynchronously from its discovery document
//   - proxy: JSON over HTTP to an operator-controlled backend exposing
//     /check and /suggest_score
//
// Callers state a preference per call. A call that prefers the direct path
// while the direct client is not ready falls back to the proxy; both paths
// return the same AnalysisResult shape.
//
// Features:
//   - Asynchronous direct client lifecycle (uninitialized, loading, ready, unavailable)
//   - Per-call transport resolution with logged fallback
//   - Opt-in retry with exponential, constant or fibonacci backoff
//   - Opt-in circuit breakers per transport
//   - Prometheus metrics integration
//   - Input validation and sanitization utilities
//
// Basic usage:
//
//	cfg := scorer.NewDefaultConfig(os.Getenv("PERSPECTIVE_API_KEY")).
//	    WithProxyBaseAddress("https://moderation.example.com")
//	c, err := scorer.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	<-c.Start(ctx)
//	result, err := c.Analyze(ctx, scorer.AnalysisInput{Text: text, SessionID: id},
//	    scorer.PreferDirect(true))
package scorer
