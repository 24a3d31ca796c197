// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// ChatCompleter is the subset of the OpenAI client used here, so tests can
// supply a fake.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompleter sends prompts to an OpenAI-compatible chat endpoint.
type OpenAICompleter struct {
	client    ChatCompleter
	model     string
	maxTokens int
}

// NewOpenAICompleter builds a completer from cfg.
func NewOpenAICompleter(cfg types.AIConfig) *OpenAICompleter {
	return newOpenAICompleter(openai.NewClient(cfg.APIKey), cfg)
}

func newOpenAICompleter(c ChatCompleter, cfg types.AIConfig) *OpenAICompleter {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompleter{client: c, model: model, maxTokens: cfg.MaxTokens}
}

// Provider returns "openai".
func (o *OpenAICompleter) Provider() string { return "openai" }

// Complete sends a system and user message in JSON-object mode.
func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   o.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w: empty reply", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
