package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/parleyhq/parley-api/internal/models"
)

// Overridable for tests with a mock provider server.
var geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

type geminiProvider struct{}

func (geminiProvider) Name() models.Provider { return models.ProviderGemini }

// Generate posts the context to the Gemini generateContent API. The
// normalized context already is the Gemini contents shape, so it passes
// through unchanged. The API key travels as a query parameter, not a header.
func (p geminiProvider) Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error) {
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiEndpoint, model, url.QueryEscape(cred.Value))

	payload := struct {
		Contents         Context        `json:"contents"`
		GenerationConfig map[string]any `json:"generationConfig"`
		SafetySettings   []any          `json:"safetySettings"`
	}{
		Contents: convo,
		GenerationConfig: map[string]any{
			"temperature":     0.7,
			"topK":            40,
			"topP":            0.95,
			"maxOutputTokens": 2048,
		},
		SafetySettings: []any{},
	}

	status, body, err := postJSON(ctx, endpoint, payload, "")
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return statusFailure(p.Name(), status), nil
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(p.Name(), err), nil
	}

	var data string
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		data = resp.Candidates[0].Content.Parts[0].Text
	}
	var requestTokens, responseTokens *int
	if resp.UsageMetadata != nil {
		requestTokens = &resp.UsageMetadata.PromptTokenCount
		responseTokens = &resp.UsageMetadata.CandidatesTokenCount
	}
	return successResult(data, requestTokens, responseTokens), nil
}
