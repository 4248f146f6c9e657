package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	checkPath        = "/check"
	suggestScorePath = "/suggest_score"

	// maxErrorBody caps how much of a failed response is kept in HTTPError
	maxErrorBody = 1024
)

// HTTPProxy posts JSON to the operator's backend over HTTP
type HTTPProxy struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPProxy creates a proxy transport. origin is the host relative
// addresses resolve against; it may be empty when only absolute base
// addresses are used.
func NewHTTPProxy(client *http.Client, origin string) (*HTTPProxy, error) {
	if client == nil {
		client = http.DefaultClient
	}
	p := &HTTPProxy{client: client}
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy origin %q: %v", ErrInvalidConfig, origin, err)
		}
		p.origin = u
	}
	return p, nil
}

// Post sends body as JSON to target and returns the response body.
// Non-2xx answers are returned as *HTTPError.
func (p *HTTPProxy) Post(ctx context.Context, target string, body any) ([]byte, error) {
	endpoint, err := p.resolve(target)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}

func (p *HTTPProxy) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid proxy address %q: %w", target, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if p.origin == nil {
		return "", fmt.Errorf("relative proxy address %q with no origin configured", target)
	}
	return p.origin.ResolveReference(u).String(), nil
}

// proxyURL joins a base address and an endpoint path the way the
// embedding page would: an empty base yields a host-relative path.
func proxyURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
