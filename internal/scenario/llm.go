package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/parrotalk/parrotalk/pkg/provider/llm"
)

// Completion budgets for the scenario prompts. Extraction and fallback return
// a small JSON object; questions and openers are one or two sentences.
const (
	extractMaxTokens  = 200
	generateMaxTokens = 120

	extractTemperature  = 0.0
	generateTemperature = 0.7
)

// Client runs the scenario prompts against an [llm.Provider]. Wrap the
// provider in a resilience.LLMFallback to get failover across backends; the
// client itself is transport-agnostic.
//
// Its methods match the [ExtractFunc] and [GenerateFunc] signatures so a
// Client plugs straight into a [Builder]:
//
//	c := scenario.NewClient(provider)
//	b := scenario.NewBuilder(c.ExtractFields,
//	    scenario.WithQuestionGenerator(c.GenerateQuestion),
//	    scenario.WithFinalGenerator(c.GenerateFinal),
//	    scenario.WithFallbackGenerator(c.GenerateFallback))
type Client struct {
	provider llm.Provider
}

// NewClient creates a Client over provider.
func NewClient(provider llm.Provider) *Client {
	return &Client{provider: provider}
}

// ExtractFields asks the model to pull scenario fields out of one utterance
// and returns the sanitized result. Unparseable model output is not an error;
// it yields zero Fields, the same as an utterance that mentioned nothing.
func (c *Client) ExtractFields(ctx context.Context, userText string) (Fields, error) {
	content, err := c.complete(ctx, buildExtractionPrompt(userText), extractTemperature, extractMaxTokens)
	if err != nil {
		return Fields{}, fmt.Errorf("scenario: extraction completion: %w", err)
	}
	return ParseExtraction(content), nil
}

// GenerateQuestion asks the model for one short follow-up question targeting
// the missing fields. The builder sanitizes the result afterwards.
func (c *Client) GenerateQuestion(ctx context.Context, s *State, missing []string) (string, error) {
	content, err := c.complete(ctx, buildFollowUpPrompt(s, missing), generateTemperature, generateMaxTokens)
	if err != nil {
		return "", fmt.Errorf("scenario: question completion: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// GenerateFinal asks the model for a natural conversation opener for a
// complete scenario.
func (c *Client) GenerateFinal(ctx context.Context, s *State, _ []string) (string, error) {
	content, err := c.complete(ctx, buildFinalPrompt(s), generateTemperature, generateMaxTokens)
	if err != nil {
		return "", fmt.Errorf("scenario: final completion: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// GenerateFallback asks the model to infer plausible values for missing
// fields, returning the raw text for the builder to JSON-parse.
func (c *Client) GenerateFallback(ctx context.Context, s *State, _ []string) (string, error) {
	content, err := c.complete(ctx, buildFallbackPrompt(s), extractTemperature, extractMaxTokens)
	if err != nil {
		return "", fmt.Errorf("scenario: fallback completion: %w", err)
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("nil completion response")
	}
	return resp.Content, nil
}
