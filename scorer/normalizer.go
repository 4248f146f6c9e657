package scorer

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// RequestedAttributes lists the attributes every analysis asks for
var RequestedAttributes = []string{AttributeToxicity}

// CommentText is the direct-path comment body
type CommentText struct {
	Text string `json:"text"`
}

// DirectAnalyzeRequest is the scoring service's analyze request
type DirectAnalyzeRequest struct {
	Comment             CommentText         `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requested_attributes"`
	SessionID           string              `json:"session_id"`
}

// ProxyAnalyzeRequest is the body posted to {base}/check
type ProxyAnalyzeRequest struct {
	Comment   string `json:"comment"`
	SessionID string `json:"sessionId"`
}

// DirectFeedbackRequest is the scoring service's suggest-score request
type DirectFeedbackRequest struct {
	Comment         CommentText               `json:"comment"`
	AttributeScores map[string]AttributeScore `json:"attribute_scores"`
	ClientToken     string                    `json:"client_token"`
}

// ProxyFeedbackRequest is the body posted to {base}/suggest_score
type ProxyFeedbackRequest struct {
	Comment              string `json:"comment"`
	SessionID            string `json:"sessionId"`
	CommentMarkedAsToxic bool   `json:"commentMarkedAsToxic"`
}

// AnalyzeRequest holds exactly one of Direct or Proxy, selected by Transport
type AnalyzeRequest struct {
	Transport Transport
	Direct    *DirectAnalyzeRequest
	Proxy     *ProxyAnalyzeRequest
}

// FeedbackRequest holds exactly one of Direct or Proxy, selected by Transport
type FeedbackRequest struct {
	Transport Transport
	Direct    *DirectFeedbackRequest
	Proxy     *ProxyFeedbackRequest
}

// RawResponse is an unparsed answer from either transport
type RawResponse struct {
	Transport Transport
	Direct    *DirectResponse // set for TransportDirect
	Body      []byte          // set for TransportProxy
}

// BuildAnalyzeRequest shapes in for the given transport
func BuildAnalyzeRequest(in AnalysisInput, t Transport) AnalyzeRequest {
	if t == TransportDirect {
		return AnalyzeRequest{
			Transport: t,
			Direct: &DirectAnalyzeRequest{
				Comment: CommentText{Text: in.Text},
				RequestedAttributes: lo.SliceToMap(RequestedAttributes, func(attr string) (string, struct{}) {
					return attr, struct{}{}
				}),
				SessionID: in.SessionID,
			},
		}
	}
	return AnalyzeRequest{
		Transport: t,
		Proxy: &ProxyAnalyzeRequest{
			Comment:   in.Text,
			SessionID: in.SessionID,
		},
	}
}

// BuildFeedbackRequest shapes in for the given transport. The suggested
// TOXICITY value is 1 when the text was marked toxic and 0 otherwise.
func BuildFeedbackRequest(in FeedbackInput, t Transport) FeedbackRequest {
	if t == TransportDirect {
		value := 0.0
		if in.MarkedAsToxic {
			value = 1
		}
		return FeedbackRequest{
			Transport: t,
			Direct: &DirectFeedbackRequest{
				Comment: CommentText{Text: in.Text},
				AttributeScores: map[string]AttributeScore{
					AttributeToxicity: {SummaryScore: SummaryScore{Value: value}},
				},
				ClientToken: in.SessionID,
			},
		}
	}
	return FeedbackRequest{
		Transport: t,
		Proxy: &ProxyFeedbackRequest{
			Comment:              in.Text,
			SessionID:            in.SessionID,
			CommentMarkedAsToxic: in.MarkedAsToxic,
		},
	}
}

// payload unwraps the direct envelope, or returns the proxy body as is
func (r RawResponse) payload() ([]byte, error) {
	if r.Transport != TransportDirect {
		return r.Body, nil
	}
	if r.Direct == nil || len(r.Direct.Result) == 0 {
		return nil, fmt.Errorf("%w: direct response has no result", ErrMalformedResponse)
	}
	return r.Direct.Result, nil
}

// ParseAnalyzeResponse normalizes either response shape into an AnalysisResult.
// Every requested attribute must carry a summary score value in [0,1].
func ParseAnalyzeResponse(raw RawResponse) (AnalysisResult, error) {
	data, err := raw.payload()
	if err != nil {
		return AnalysisResult{}, err
	}

	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: failed to decode %s response: %v", ErrMalformedResponse, raw.Transport, err)
	}

	// AnalysisResult decodes an absent or null summary score as 0, so presence
	// is checked against the raw shape
	var present struct {
		AttributeScores map[string]*struct {
			SummaryScore *struct {
				Value *float64 `json:"value"`
			} `json:"summaryScore"`
		} `json:"attributeScores"`
	}
	if err := json.Unmarshal(data, &present); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: failed to decode %s response: %v", ErrMalformedResponse, raw.Transport, err)
	}

	missing := lo.Filter(RequestedAttributes, func(attr string, _ int) bool {
		score := present.AttributeScores[attr]
		return score == nil || score.SummaryScore == nil || score.SummaryScore.Value == nil
	})
	if len(missing) > 0 {
		return AnalysisResult{}, fmt.Errorf("%w: %s response is missing attributes %v", ErrMalformedResponse, raw.Transport, missing)
	}

	for _, attr := range RequestedAttributes {
		v := result.AttributeScores[attr].SummaryScore.Value
		if v < 0 || v > 1 {
			return AnalysisResult{}, fmt.Errorf("%w: %s score %v is outside [0,1]", ErrMalformedResponse, attr, v)
		}
	}

	return result, nil
}

// ParseFeedbackResponse passes the acknowledgement through, tagged with its transport
func ParseFeedbackResponse(raw RawResponse) (FeedbackResult, error) {
	data, err := raw.payload()
	if err != nil {
		return FeedbackResult{}, err
	}
	if len(data) > 0 && !json.Valid(data) {
		return FeedbackResult{}, fmt.Errorf("%w: %s acknowledgement is not valid JSON", ErrMalformedResponse, raw.Transport)
	}
	return FeedbackResult{
		Transport: raw.Transport,
		Body:      json.RawMessage(data),
	}, nil
}
