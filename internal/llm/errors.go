package llm

import (
	"context"
	"errors"
	"net"

	"github.com/parleyhq/parley-api/internal/models"
)

// ErrorKind classifies a failed generation attempt. The kind drives the
// usage-log status and the outer job layer's retry decision; the Error string
// on the Result stays the curated user-facing message.
type ErrorKind string

const (
	// KindNone marks a successful result.
	KindNone ErrorKind = ""

	// KindConfiguration: the user has no complete provider/credential/model
	// triple. Never retried.
	KindConfiguration ErrorKind = "configuration"

	// KindUnsupported: unknown provider value. A bug signal, never retried.
	KindUnsupported ErrorKind = "unsupported_provider"

	// KindAuth: the provider rejected the credential (HTTP 401). Not retried.
	KindAuth ErrorKind = "auth"

	// KindRateLimited: HTTP 429 from the provider, or an internal window
	// threshold breach. Retryable with backoff by the job layer.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTimeout: the request hit the connect/read deadline. Retryable.
	KindTimeout ErrorKind = "timeout"

	// KindTransient: connection-level failure other than a timeout. Retryable.
	KindTransient ErrorKind = "transient"

	// KindProvider: non-200 response outside the specifically mapped codes.
	KindProvider ErrorKind = "provider_error"

	// KindMalformed: the response body did not match the expected shape.
	// Hard failure for the attempt, not retried.
	KindMalformed ErrorKind = "malformed_response"
)

// Retryable reports whether the outer job layer may retry an attempt that
// failed with this kind. The core itself never retries.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindTransient, KindProvider:
		return true
	}
	return false
}

// UsageStatusFor maps a result to the status recorded in the usage log.
func UsageStatusFor(res Result) models.UsageStatus {
	switch {
	case res.Success:
		return models.UsageStatusSuccess
	case res.Kind == KindTimeout:
		return models.UsageStatusTimeout
	case res.Kind == KindRateLimited:
		return models.UsageStatusRateLimited
	default:
		return models.UsageStatusError
	}
}

// isTimeoutErr reports whether a transport error was a timeout, either from
// the HTTP client's own deadline or a cancelled/expired request context.
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
