package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley-api/internal/models"
)

// Overridable for tests with a mock provider server.
var openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// chatMessage is the flat role/content message shape shared by the OpenAI
// and Anthropic chat payloads.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIProvider struct{}

func (openAIProvider) Name() models.Provider { return models.ProviderOpenAI }

// Generate posts the context to the OpenAI chat completions API. The system
// instruction rides along as a system-role message in the messages array.
func (p openAIProvider) Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error) {
	messages := make([]chatMessage, 0, len(convo))
	for _, e := range convo {
		messages = append(messages, chatMessage{Role: e.Role, Content: e.JoinedText()})
	}

	payload := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2048,
	}

	status, body, err := postJSON(ctx, openAIEndpoint, payload, cred.Value)
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return statusFailure(p.Name(), status), nil
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(p.Name(), err), nil
	}

	var data string
	if len(resp.Choices) > 0 {
		data = resp.Choices[0].Message.Content
	}
	var requestTokens, responseTokens *int
	if resp.Usage != nil {
		requestTokens = &resp.Usage.PromptTokens
		responseTokens = &resp.Usage.CompletionTokens
	}
	return successResult(data, requestTokens, responseTokens), nil
}
