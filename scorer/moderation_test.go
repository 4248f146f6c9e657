package scorer_test

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"

	"github.com/JohnPlummer/toxicity-client/scorer"
)

type fakeModerationAPI struct {
	credential string
	requests   []openai.ModerationRequest
	response   openai.ModerationResponse
	err        error
}

func (f *fakeModerationAPI) Moderations(_ context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error) {
	f.requests = append(f.requests, req)
	return f.response, f.err
}

var _ = Describe("ModerationLoader", func() {
	var (
		ctx    context.Context
		api    *fakeModerationAPI
		client scorer.DirectClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeModerationAPI{
			response: openai.ModerationResponse{
				Results: []openai.Result{{
					CategoryScores: openai.ResultCategoryScores{
						Harassment: 0.25,
						Hate:       0.75,
						Violence:   0.99,
					},
				}},
			},
		}

		var err error
		client, err = scorer.ModerationLoader(func(credential string) scorer.ModerationAPI {
			api.credential = credential
			return api
		})(ctx, "sk-test", "")
		Expect(err).ToNot(HaveOccurred())
	})

	It("should hand the credential to the API constructor", func() {
		Expect(api.credential).To(Equal("sk-test"))
	})

	It("should map harassment and hate onto TOXICITY", func() {
		req := scorer.BuildAnalyzeRequest(scorer.AnalysisInput{Text: "hello", SessionID: "s1"}, scorer.TransportDirect)

		resp, err := client.AnalyzeComment(ctx, req.Direct)
		Expect(err).ToNot(HaveOccurred())
		Expect(api.requests).To(HaveLen(1))
		Expect(api.requests[0].Input).To(Equal("hello"))
		Expect(api.requests[0].Model).To(Equal(openai.ModerationTextStable))

		result, err := scorer.ParseAnalyzeResponse(scorer.RawResponse{Transport: scorer.TransportDirect, Direct: resp})
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Toxicity()).To(Equal(0.75))
		Expect(result.ClientToken).To(Equal("s1"))
	})

	It("should fail when the endpoint returns no results", func() {
		api.response = openai.ModerationResponse{}

		_, err := client.AnalyzeComment(ctx, scorer.BuildAnalyzeRequest(
			scorer.AnalysisInput{Text: "hello"}, scorer.TransportDirect).Direct)

		Expect(err).To(MatchError(scorer.ErrMalformedResponse))
	})

	It("should keep the API error reachable", func() {
		api.err = &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}

		_, err := client.AnalyzeComment(ctx, scorer.BuildAnalyzeRequest(
			scorer.AnalysisInput{Text: "hello"}, scorer.TransportDirect).Direct)

		var apiErr *openai.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(scorer.IsRetryableError(err)).To(BeTrue())
	})

	It("should not accept score suggestions", func() {
		_, err := client.SuggestCommentScore(ctx, scorer.BuildFeedbackRequest(
			scorer.FeedbackInput{Text: "x"}, scorer.TransportDirect).Direct)

		Expect(err).To(MatchError(scorer.ErrFeedbackUnsupported))
	})
})
