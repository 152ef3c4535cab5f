package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley-api/internal/models"
)

// Overridable for tests with a mock provider server.
var anthropicEndpoint = "https://api.anthropic.com/v1/messages"

type anthropicProvider struct{}

func (anthropicProvider) Name() models.Provider { return models.ProviderAnthropic }

// Generate posts the context to the Anthropic messages API. Unlike OpenAI,
// the system instruction is pulled out into the top-level system field and
// system-role entries are removed from the messages array.
func (p anthropicProvider) Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error) {
	entries := convo.WithoutSystem()
	messages := make([]chatMessage, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, chatMessage{Role: e.Role, Content: e.JoinedText()})
	}

	payload := struct {
		Model     string        `json:"model"`
		MaxTokens int           `json:"max_tokens"`
		Messages  []chatMessage `json:"messages"`
		System    string        `json:"system"`
	}{
		Model:     model,
		MaxTokens: 2048,
		Messages:  messages,
		System:    convo.SystemText(),
	}

	status, body, err := postJSON(ctx, anthropicEndpoint, payload, cred.Value)
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return statusFailure(p.Name(), status), nil
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(p.Name(), err), nil
	}

	var data string
	if len(resp.Content) > 0 {
		data = resp.Content[0].Text
	}
	var requestTokens, responseTokens *int
	if resp.Usage != nil {
		requestTokens = &resp.Usage.InputTokens
		responseTokens = &resp.Usage.OutputTokens
	}
	return successResult(data, requestTokens, responseTokens), nil
}
