package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// OpenAILLM is a Reasoner backed by the OpenAI chat completions API via the
// vendor SDK.
type OpenAILLM struct {
	client oai.Client
	model  string
}

// NewOpenAILLM constructs an OpenAILLM. model defaults to gpt-4o.
func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Reason implements orchestrator.Reasoner.
func (l *OpenAILLM) Reason(ctx context.Context, messages []session.Message) (string, []string, error) {
	var params oai.ChatCompletionNewParams
	params.Model = l.model
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, oai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, oai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, oai.UserMessage(m.Content))
		}
	}

	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", nil, fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("openai llm: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil, nil
}

// Name implements orchestrator.Reasoner.
func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
