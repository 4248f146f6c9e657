package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

// ModerationAPI defines the interface for the OpenAI moderation endpoint
type ModerationAPI interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// ModerationClient scores text with the OpenAI moderation endpoint. It has
// no counterpart to suggest-score, so feedback always fails.
type ModerationClient struct {
	api   ModerationAPI
	model string
}

// ModerationLoader returns a Loader that treats the credential as an OpenAI
// API key. newAPI may be nil, in which case the go-openai client is used.
func ModerationLoader(newAPI func(credential string) ModerationAPI) Loader {
	if newAPI == nil {
		newAPI = func(credential string) ModerationAPI {
			return openai.NewClient(credential)
		}
	}
	return func(_ context.Context, credential, _ string) (DirectClient, error) {
		return &ModerationClient{
			api:   newAPI(credential),
			model: openai.ModerationTextStable,
		}, nil
	}
}

// AnalyzeComment maps the harassment and hate category scores onto TOXICITY
func (c *ModerationClient) AnalyzeComment(ctx context.Context, req *DirectAnalyzeRequest) (*DirectResponse, error) {
	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{
		Input: req.Comment.Text,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: moderation returned no results", ErrMalformedResponse)
	}

	scores := resp.Results[0].CategoryScores
	toxicity := lo.Max([]float32{
		scores.Harassment,
		scores.HarassmentThreatening,
		scores.Hate,
		scores.HateThreatening,
	})

	result := AnalysisResult{
		AttributeScores: lo.SliceToMap(lo.Keys(req.RequestedAttributes), func(attr string) (string, AttributeScore) {
			return attr, AttributeScore{SummaryScore: SummaryScore{Value: float64(toxicity), Type: "PROBABILITY"}}
		}),
		ClientToken: req.SessionID,
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode moderation result: %w", err)
	}
	return &DirectResponse{Status: 200, Result: body}, nil
}

// SuggestCommentScore is not supported by the moderation endpoint
func (c *ModerationClient) SuggestCommentScore(_ context.Context, _ *DirectFeedbackRequest) (*DirectResponse, error) {
	return nil, ErrFeedbackUnsupported
}
