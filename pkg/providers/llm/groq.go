package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/convo-engine/pkg/session"
)

// GroqLLM is a Reasoner backed by Groq's OpenAI-compatible chat completions
// endpoint. Groq has no first-party Go SDK in the corpus, so this adapter
// speaks the REST API directly, in the same style as the teacher's other
// plain-HTTP providers.
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

// NewGroqLLM constructs a GroqLLM. model defaults to llama-3.3-70b-versatile.
func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

// Reason implements orchestrator.Reasoner.
func (l *GroqLLM) Reason(ctx context.Context, messages []session.Message) (string, []string, error) {
	type groqMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var groqMessages []groqMessage
	for _, m := range messages {
		groqMessages = append(groqMessages, groqMessage{Role: m.Role, Content: m.Content})
	}

	payload := map[string]interface{}{
		"model":    l.model,
		"messages": groqMessages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", nil, fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, err
	}
	if len(result.Choices) == 0 {
		return "", nil, fmt.Errorf("no choices returned from groq")
	}

	return result.Choices[0].Message.Content, nil, nil
}

// Name implements orchestrator.Reasoner.
func (l *GroqLLM) Name() string {
	return "groq-llm"
}
