package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// usageLogTimeout bounds the best-effort usage log write so a slow sink
// cannot delay returning the generation result.
const usageLogTimeout = 5 * time.Second

// UsageRecorder records one entry per LLM call attempt. Implemented by the
// usage service; faked in tests.
type UsageRecorder interface {
	LogRequest(ctx context.Context, userID string, provider models.Provider, model string, status models.UsageStatus, requestTokens, responseTokens *int, errorMessage string) error
}

// Client dispatches generation calls for one user's provider configuration.
// The config is captured at construction: a concurrent settings update does
// not affect an in-flight call, and the adapter is resolved exactly once
// rather than re-checked per call. Clients hold no mutable state and are
// safe for repeated use.
type Client struct {
	user    *models.User
	adapter Provider
	cred    Credential
	usage   UsageRecorder
	logger  *slog.Logger
}

// NewClient builds a client from the user's provider selection, credential
// and model name.
func NewClient(user *models.User, usage UsageRecorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		user:   user,
		usage:  usage,
		logger: logger.With("component", "llm_client"),
	}
	if adapter, ok := ForProvider(user.APIProvider); ok {
		c.adapter = adapter
		c.cred = CredentialFor(user.APIProvider, user.APIKey)
	}
	return c
}

// GenerateContent dispatches the context to the configured provider and
// returns a normalized result. Failures never escape as errors: transport
// errors are converted to failed results, classified, and — like every other
// outcome — recorded as exactly one usage log entry.
func (c *Client) GenerateContent(ctx context.Context, convo Context) Result {
	var result Result

	switch {
	case !c.user.APIConfigured():
		result = failure(KindConfiguration, "API not configured. Set your provider, API key and model in settings.")
	case c.adapter == nil:
		result = failure(KindUnsupported, fmt.Sprintf("Unsupported provider: %s", c.user.APIProvider))
	default:
		var err error
		result, err = c.adapter.Generate(ctx, convo, c.cred, c.user.APIModelName)
		if err != nil {
			kind := KindTransient
			if isTimeoutErr(err) {
				kind = KindTimeout
			}
			c.logger.Error("provider request failed",
				"provider", c.user.APIProvider,
				"model", c.user.APIModelName,
				"kind", kind,
				"error", err,
			)
			result = failure(kind, fmt.Sprintf("API request failed: %s", err.Error()))
		}
	}

	c.logUsage(ctx, result)
	return result
}

// logUsage records the attempt. Sink failures are swallowed: they must never
// mask the generation result. The write is detached from the caller's
// cancellation but bounded by its own deadline.
func (c *Client) logUsage(ctx context.Context, result Result) {
	if c.usage == nil {
		return
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageLogTimeout)
	defer cancel()

	err := c.usage.LogRequest(logCtx,
		c.user.ID,
		c.user.APIProvider,
		c.user.APIModelName,
		UsageStatusFor(result),
		result.RequestTokens,
		result.ResponseTokens,
		result.Error,
	)
	if err != nil {
		c.logger.Error("failed to log API usage", "user_id", c.user.ID, "error", err)
	}
}
