package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// discoveryDocument is the subset of a REST discovery document the client needs
type discoveryDocument struct {
	RootURL     string                       `json:"rootUrl"`
	ServicePath string                       `json:"servicePath"`
	Resources   map[string]discoveryResource `json:"resources"`
}

type discoveryResource struct {
	Methods map[string]discoveryMethod `json:"methods"`
}

type discoveryMethod struct {
	Path       string `json:"path"`
	HTTPMethod string `json:"httpMethod"`
}

// endpoint is a resolved discovery method
type endpoint struct {
	method string
	url    string
}

// PerspectiveClient calls the comment analyzer REST methods found in its discovery document
type PerspectiveClient struct {
	httpClient   *http.Client
	apiKey       string
	analyze      endpoint
	suggestScore endpoint
}

// PerspectiveLoader returns a Loader that discovers the comment analyzer
// service and builds a PerspectiveClient for the credential.
func PerspectiveLoader(httpClient *http.Client) Loader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(ctx context.Context, credential, discoveryURL string) (DirectClient, error) {
		doc, err := fetchDiscovery(ctx, httpClient, discoveryURL)
		if err != nil {
			return nil, err
		}

		analyze, err := doc.resolve("comments", "analyze")
		if err != nil {
			return nil, err
		}
		suggestScore, err := doc.resolve("comments", "suggestscore")
		if err != nil {
			return nil, err
		}

		slog.Debug("Resolved comment analyzer methods",
			"analyze", analyze.url,
			"suggest_score", suggestScore.url)

		return &PerspectiveClient{
			httpClient:   httpClient,
			apiKey:       credential,
			analyze:      analyze,
			suggestScore: suggestScore,
		}, nil
	}
}

func fetchDiscovery(ctx context.Context, httpClient *http.Client, discoveryURL string) (*discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.RootURL == "" {
		return nil, fmt.Errorf("discovery document has no rootUrl")
	}
	return &doc, nil
}

func (d *discoveryDocument) resolve(resource, method string) (endpoint, error) {
	m, ok := d.Resources[resource].Methods[method]
	if !ok || m.Path == "" {
		return endpoint{}, fmt.Errorf("discovery document has no %s.%s method", resource, method)
	}
	httpMethod := m.HTTPMethod
	if httpMethod == "" {
		httpMethod = http.MethodPost
	}
	base := strings.TrimRight(d.RootURL, "/") + "/" + strings.Trim(d.ServicePath, "/")
	return endpoint{
		method: httpMethod,
		url:    strings.TrimRight(base, "/") + "/" + strings.TrimLeft(m.Path, "/"),
	}, nil
}

// AnalyzeComment calls comments.analyze
func (c *PerspectiveClient) AnalyzeComment(ctx context.Context, req *DirectAnalyzeRequest) (*DirectResponse, error) {
	return c.call(ctx, c.analyze, req)
}

// SuggestCommentScore calls comments.suggestscore
func (c *PerspectiveClient) SuggestCommentScore(ctx context.Context, req *DirectFeedbackRequest) (*DirectResponse, error) {
	return c.call(ctx, c.suggestScore, req)
}

func (c *PerspectiveClient) call(ctx context.Context, ep endpoint, body any) (*DirectResponse, error) {
	u, err := url.Parse(ep.url)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", ep.url, err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", ep.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return &DirectResponse{
		Status: resp.StatusCode,
		Result: json.RawMessage(respBody),
	}, nil
}
