// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// DefaultAnthropicModel is used when the configuration names no model.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicMessager is the subset of the Anthropic client used here, so
// tests can supply a fake.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCompleter sends prompts to the Anthropic Messages API.
type AnthropicCompleter struct {
	messages  AnthropicMessager
	model     string
	maxTokens int64
}

// NewAnthropicCompleter builds a completer from cfg.
func NewAnthropicCompleter(cfg types.AIConfig) *AnthropicCompleter {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropicCompleter(&client.Messages, cfg)
}

func newAnthropicCompleter(m AnthropicMessager, cfg types.AIConfig) *AnthropicCompleter {
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicCompleter{messages: m, model: model, maxTokens: maxTokens}
}

// Provider returns "anthropic".
func (a *AnthropicCompleter) Provider() string { return "anthropic" }

// Complete sends one message and concatenates the text blocks of the reply.
func (a *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: %w: empty reply", ErrMalformedResponse)
	}
	return sb.String(), nil
}
