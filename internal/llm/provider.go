package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// Connect and read deadlines for provider calls. A hung provider must not
// occupy a worker indefinitely; retries belong to the job layer, never here.
var (
	connectTimeout = 30 * time.Second
	requestTimeout = 30 * time.Second
)

// CredentialKind discriminates how a provider credential is used on the wire.
type CredentialKind string

const (
	// CredentialToken is a bearer API key sent in a header or query param.
	CredentialToken CredentialKind = "token"
	// CredentialURL is a target base URL or endpoint; no auth header is sent.
	CredentialURL CredentialKind = "url"
)

// Credential is a provider credential tagged with how it must be used. The
// settings subsystem stores one opaque string per user; the provider variant
// decides whether that string is a token or an endpoint, so adapters cannot
// accidentally treat a URL as a bearer key or vice versa.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// CredentialFor wraps a raw stored credential with the kind the provider
// variant expects.
func CredentialFor(p models.Provider, value string) Credential {
	if p.UsesEndpointCredential() {
		return Credential{Kind: CredentialURL, Value: value}
	}
	return Credential{Kind: CredentialToken, Value: value}
}

// Provider translates a normalized context into one provider-specific HTTP
// call and parses the response into a Result. Structured provider failures
// (bad status, unparseable body) come back as failed Results; the returned
// error covers transport-level failures only, for the client to convert and
// classify. Adapters never retry.
type Provider interface {
	Name() models.Provider
	Generate(ctx context.Context, convo Context, cred Credential, model string) (Result, error)
}

// ForProvider resolves the adapter for a provider variant. The set is closed;
// resolution happens once at client construction, not per call.
func ForProvider(p models.Provider) (Provider, bool) {
	switch p {
	case models.ProviderOpenAI:
		return openAIProvider{}, true
	case models.ProviderAnthropic:
		return anthropicProvider{}, true
	case models.ProviderGemini:
		return geminiProvider{}, true
	case models.ProviderOllama:
		return ollamaProvider{}, true
	case models.ProviderCustom:
		return customProvider{}, true
	}
	return nil, false
}

// postJSON issues a single synchronous POST with the shared deadlines and
// returns the status code and body. bearer, when non-empty, is sent as an
// Authorization header.
func postJSON(ctx context.Context, url string, payload any, bearer string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// statusFailure maps a non-200 provider status to the uniform outcome shared
// by every adapter.
func statusFailure(p models.Provider, status int) Result {
	switch status {
	case http.StatusUnauthorized:
		return failure(KindAuth, fmt.Sprintf("Invalid %s API key", p.DisplayName()))
	case http.StatusTooManyRequests:
		return failure(KindRateLimited, "Rate limit exceeded. Please try again later.")
	default:
		return failure(KindProvider, fmt.Sprintf("%s API error: %d", p.DisplayName(), status))
	}
}

// parseFailure wraps a body-shape error in the uniform parse-failure message.
func parseFailure(p models.Provider, err error) Result {
	return failure(KindMalformed, fmt.Sprintf("Failed to parse %s response: %s", p.DisplayName(), err.Error()))
}
