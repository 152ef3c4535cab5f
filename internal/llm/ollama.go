package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley-api/internal/models"
)

type ollamaProvider struct{}

func (ollamaProvider) Name() models.Provider { return models.ProviderOllama }

// Generate posts the context to a self-hosted Ollama instance. The credential
// is the instance base URL (e.g. http://localhost:11434), not an API key, so
// no Authorization header is sent. The whole context is flattened into one
// prompt string and streaming is disabled.
func (p ollamaProvider) Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error) {
	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}{
		Model:  model,
		Prompt: convo.FlattenPrompt(),
		Stream: false,
	}

	status, body, err := postJSON(ctx, cred.Value+"/api/generate", payload, "")
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return statusFailure(p.Name(), status), nil
	}

	var resp struct {
		Response        string `json:"response"`
		PromptEvalCount *int   `json:"prompt_eval_count"`
		EvalCount       *int   `json:"eval_count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(p.Name(), err), nil
	}

	return successResult(resp.Response, resp.PromptEvalCount, resp.EvalCount), nil
}
