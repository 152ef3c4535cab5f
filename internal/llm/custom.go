package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley-api/internal/models"
)

type customProvider struct{}

func (customProvider) Name() models.Provider { return models.ProviderCustom }

// Generate posts the context to a user-supplied endpoint as an opaque
// {context, model} payload. The credential is the endpoint URL itself and no
// Authorization header is sent. The reply text is taken from the first
// present of the response, data and content fields.
func (p customProvider) Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error) {
	payload := struct {
		Context Context `json:"context"`
		Model   string  `json:"model"`
	}{
		Context: convo,
		Model:   model,
	}

	status, body, err := postJSON(ctx, cred.Value, payload, "")
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return statusFailure(p.Name(), status), nil
	}

	var resp struct {
		Response *string `json:"response"`
		Data     *string `json:"data"`
		Content  *string `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return parseFailure(p.Name(), err), nil
	}

	var data string
	switch {
	case resp.Response != nil:
		data = *resp.Response
	case resp.Data != nil:
		data = *resp.Data
	case resp.Content != nil:
		data = *resp.Content
	}
	return successResult(data, nil, nil), nil
}
