package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// AnthropicLLM is a Reasoner backed by the Anthropic Messages API via the
// vendor SDK.
type AnthropicLLM struct {
	client anthropic.Client
	model  string
}

// NewAnthropicLLM constructs an AnthropicLLM. model defaults to
// claude-3-5-sonnet-20241022.
func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Reason implements orchestrator.Reasoner.
func (l *AnthropicLLM) Reason(ctx context.Context, messages []session.Message) (string, []string, error) {
	var system string
	var anthropicMessages []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: 1024,
		Messages:  anthropicMessages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := l.client.Messages.New(ctx, params)
	if err != nil {
		return "", nil, fmt.Errorf("anthropic llm: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	if text == "" {
		return "", nil, fmt.Errorf("anthropic llm: no text content returned")
	}
	return text, nil, nil
}

// Name implements orchestrator.Reasoner.
func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}
