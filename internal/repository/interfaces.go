// Package repository defines repository interfaces and their libsql-backed
// implementations for data access.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// UserRepository defines methods for user identity/settings access. Account
// lifecycle is owned by the identity subsystem; this repository only reads
// the fields the LLM core needs and applies provider settings updates.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// UpdateAPISettings replaces the user's provider/credential/model triple.
	UpdateAPISettings(ctx context.Context, userID string, provider models.Provider, apiKey, modelName string) error
}

// SessionRepository defines methods for persona/session/message data access.
type SessionRepository interface {
	CreatePersona(ctx context.Context, persona *models.Persona) error
	CreateSession(ctx context.Context, session *models.ChatSession) error
	// GetSession loads a session with its persona and the full conversation
	// history in chronological order.
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	CountMessagesByRole(ctx context.Context, sessionID string, role models.MessageRole) (int, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

// UsageLogRepository defines methods for the append-only LLM usage log. It
// backs both analytics and the trailing-window rate limiter.
type UsageLogRepository interface {
	Create(ctx context.Context, entry *models.UsageLog) error
	// CountSince counts a user's entries created strictly after the given
	// instant (trailing window, not a calendar bucket).
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// Stats aggregates a user's usage, optionally filtered by provider
	// (empty provider means all).
	Stats(ctx context.Context, userID string, provider models.Provider) (*UsageStats, error)
	// TodayStats aggregates today's request and token counts.
	TodayStats(ctx context.Context, userID string) (*TodayStats, error)
	RecentByUser(ctx context.Context, userID string, limit int) ([]*models.UsageLog, error)
}

// UsageStats is aggregated usage data for a user.
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	TotalTokensUsed    int     `json:"total_tokens_used"`
	RequestTokens      int     `json:"request_tokens"`
	ResponseTokens     int     `json:"response_tokens"`
	SuccessRate        float64 `json:"success_rate"`
}

// TodayStats is the current day's usage counters.
type TodayStats struct {
	RequestsToday int `json:"requests_today"`
	TokensToday   int `json:"tokens_today"`
}

// JobRepository defines methods for background job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	// ClaimPending atomically claims the oldest pending job and returns it,
	// or nil when the queue is empty.
	ClaimPending(ctx context.Context) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	// MarkStaleRunningFailed fails jobs that have been running longer than
	// maxAge (e.g. after an unclean shutdown) and returns how many.
	MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Users     UserRepository
	Sessions  SessionRepository
	UsageLogs UsageLogRepository
	Jobs      JobRepository
}

// NewRepositories creates all repositories backed by the given database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Users:     NewSQLiteUserRepository(db),
		Sessions:  NewSQLiteSessionRepository(db),
		UsageLogs: NewSQLiteUsageLogRepository(db),
		Jobs:      NewSQLiteJobRepository(db),
	}
}
