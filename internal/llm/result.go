package llm

// Result is the normalized outcome of one generation attempt. Exactly one of
// Data/Error is meaningful depending on Success. Token counts are nil when
// the provider reported no usage metadata. Results are created fresh per
// call and never mutated after being returned to the caller.
type Result struct {
	Success        bool      `json:"success"`
	Data           string    `json:"data,omitempty"`
	Error          string    `json:"error,omitempty"`
	Kind           ErrorKind `json:"-"`
	RequestTokens  *int      `json:"request_tokens,omitempty"`
	ResponseTokens *int      `json:"response_tokens,omitempty"`
}

func successResult(data string, requestTokens, responseTokens *int) Result {
	return Result{
		Success:        true,
		Data:           data,
		RequestTokens:  requestTokens,
		ResponseTokens: responseTokens,
	}
}

func failure(kind ErrorKind, msg string) Result {
	return Result{Error: msg, Kind: kind}
}

// Fail builds a failed result with the given classification and user-facing
// message. Used by callers layered above the adapters (validation failures,
// collaborator errors) so the whole chain speaks in Results.
func Fail(kind ErrorKind, msg string) Result {
	return failure(kind, msg)
}
