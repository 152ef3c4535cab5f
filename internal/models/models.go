// Package models defines the domain models for the application.
// Note: Account registration, password handling and session cookies are owned
// by the surrounding identity subsystem; the UserID fields here reference its
// user IDs.
package models

import (
	"time"
)

// Provider identifies an LLM provider variant. The set is closed: adapters
// exist for exactly these values and dispatch is resolved once at client
// construction.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderCustom    Provider = "custom"
)

// Providers lists all supported provider variants.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderCustom}
}

// Valid reports whether p is one of the supported variants.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderCustom:
		return true
	}
	return false
}

// DisplayName returns the human-readable provider name used in user-facing
// error messages ("Invalid OpenAI API key", "Ollama API error: 500").
func (p Provider) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderGemini:
		return "Gemini"
	case ProviderOllama:
		return "Ollama"
	case ProviderCustom:
		return "Custom"
	}
	return string(p)
}

// UsesEndpointCredential reports whether the stored credential is a base
// URL/endpoint rather than an API key. Ollama and Custom take the target URL
// in the credential field and receive no Authorization header.
func (p Provider) UsesEndpointCredential() bool {
	return p == ProviderOllama || p == ProviderCustom
}

// User is the identity/config input consumed from the settings subsystem.
// APIKey is opaque and already usable at this boundary (decryption happens
// upstream); depending on the provider it holds a bearer token or an
// endpoint URL.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	APIProvider  Provider  `json:"api_provider"`
	APIModelName string    `json:"api_model_name"`
	APIKey       string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIConfigured reports whether the user has a complete provider config:
// provider, credential and model all non-empty.
func (u *User) APIConfigured() bool {
	return u.APIProvider != "" && u.APIKey != "" && u.APIModelName != ""
}

// Persona is a configurable AI character with a system instruction.
type Persona struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	SystemInstruction string    `json:"system_instruction"`
	CreatedAt         time.Time `json:"created_at"`
}

// MessageRole is the author role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single chat message within a session.
type Message struct {
	ID            string      `json:"id"`
	ChatSessionID string      `json:"chat_session_id"`
	Role          MessageRole `json:"role"`
	Content       string      `json:"content"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ChatSession is a conversation between a user and a persona.
// ConversationHistory is ordered chronologically.
type ChatSession struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Title               string    `json:"title"`
	Persona             *Persona  `json:"persona,omitempty"`
	ConversationHistory []Message `json:"conversation_history,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UsageStatus classifies the outcome of a single LLM call attempt.
type UsageStatus string

const (
	UsageStatusSuccess     UsageStatus = "success"
	UsageStatusError       UsageStatus = "error"
	UsageStatusRateLimited UsageStatus = "rate_limited"
	UsageStatusTimeout     UsageStatus = "timeout"
)

// UsageLog is one append-only record per LLM call attempt, including
// failures. It feeds both analytics and the trailing-window rate limiter.
// TotalTokens is populated only when both sides are known.
type UsageLog struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Provider       Provider    `json:"provider"`
	Model          string      `json:"model"`
	Status         UsageStatus `json:"status"`
	RequestTokens  *int        `json:"request_tokens,omitempty"`
	ResponseTokens *int        `json:"response_tokens,omitempty"`
	TotalTokens    *int        `json:"total_tokens,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// JobStatus represents the status of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType represents the type of background job.
type JobType string

const (
	// JobTypeResponse generates an assistant reply for a session.
	JobTypeResponse JobType = "response"
	// JobTypeTitle auto-names a session from its opening messages.
	JobTypeTitle JobType = "title"
)

// Job is a queued background unit of work. Generation retries live here, one
// layer above the LLM core: a failed response job is retried up to
// MaxAttempts times with a fixed delay, and every attempt produces its own
// usage log entry.
type Job struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	ChatSessionID string     `json:"chat_session_id"`
	Type          JobType    `json:"type"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
