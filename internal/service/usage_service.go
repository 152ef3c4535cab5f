// Package service holds the application services: response generation and
// usage/rate tracking.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
)

// Fixed per-user request thresholds, evaluated over trailing windows.
const (
	RequestsPerMinute = 30
	RequestsPerHour   = 500
	RequestsPerDay    = 5000
)

// RateLimitStatus is the outcome of a rate limit check.
type RateLimitStatus struct {
	Limited bool   `json:"limited"`
	Reason  string `json:"reason,omitempty"`
	ResetIn int    `json:"reset_in,omitempty"` // seconds
}

// WindowUsage is one window's counters.
type WindowUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// UserLimits reports usage against every window.
type UserLimits struct {
	Minute WindowUsage `json:"minute"`
	Hour   WindowUsage `json:"hour"`
	Day    WindowUsage `json:"day"`
}

// UsageService tracks LLM call attempts and computes rate-limit state from
// them. The check is advisory: callers (the HTTP layer, the job worker)
// consult it before dispatching a generation; the LLM client itself never
// does — throttling is policy, not provider protocol.
type UsageService struct {
	logs   repository.UsageLogRepository
	logger *slog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(logs repository.UsageLogRepository, logger *slog.Logger) *UsageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageService{logs: logs, logger: logger.With("component", "usage")}
}

// LogRequest appends one usage entry. Every LLM call attempt produces
// exactly one, including failures and timeouts; retries log again by design.
// TotalTokens is set only when both sides are known.
func (s *UsageService) LogRequest(ctx context.Context, userID string, provider models.Provider, model string, status models.UsageStatus, requestTokens, responseTokens *int, errorMessage string) error {
	entry := &models.UsageLog{
		ID:             ulid.Make().String(),
		UserID:         userID,
		Provider:       provider,
		Model:          model,
		Status:         status,
		RequestTokens:  requestTokens,
		ResponseTokens: responseTokens,
		ErrorMessage:   errorMessage,
		CreatedAt:      time.Now().UTC(),
	}
	if requestTokens != nil && responseTokens != nil {
		total := *requestTokens + *responseTokens
		entry.TotalTokens = &total
	}
	return s.logs.Create(ctx, entry)
}

// rate windows in ascending order; the first breached one wins.
var rateWindows = []struct {
	noun    string
	limit   int
	span    time.Duration
	resetIn int
}{
	{"minute", RequestsPerMinute, time.Minute, 60},
	{"hour", RequestsPerHour, time.Hour, 3600},
	{"day", RequestsPerDay, 24 * time.Hour, 86400},
}

// CheckRateLimit evaluates the trailing minute/hour/day windows against the
// fixed thresholds and reports the first breach.
func (s *UsageService) CheckRateLimit(ctx context.Context, userID string) (RateLimitStatus, error) {
	now := time.Now().UTC()

	for _, w := range rateWindows {
		count, err := s.logs.CountSince(ctx, userID, now.Add(-w.span))
		if err != nil {
			return RateLimitStatus{}, fmt.Errorf("failed to check %s window: %w", w.noun, err)
		}
		if count >= w.limit {
			return RateLimitStatus{
				Limited: true,
				Reason:  fmt.Sprintf("You've exceeded the rate limit of %d requests per %s", w.limit, w.noun),
				ResetIn: w.resetIn,
			}, nil
		}
	}

	return RateLimitStatus{}, nil
}

// GetUserLimits reports current usage against every window.
func (s *UsageService) GetUserLimits(ctx context.Context, userID string) (*UserLimits, error) {
	now := time.Now().UTC()

	counts := make([]int, len(rateWindows))
	for i, w := range rateWindows {
		count, err := s.logs.CountSince(ctx, userID, now.Add(-w.span))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s window: %w", w.noun, err)
		}
		counts[i] = count
	}

	return &UserLimits{
		Minute: windowUsage(counts[0], RequestsPerMinute),
		Hour:   windowUsage(counts[1], RequestsPerHour),
		Day:    windowUsage(counts[2], RequestsPerDay),
	}, nil
}

func windowUsage(used, limit int) WindowUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return WindowUsage{Used: used, Limit: limit, Remaining: remaining}
}

// Stats aggregates a user's usage, optionally filtered by provider.
func (s *UsageService) Stats(ctx context.Context, userID string, provider models.Provider) (*repository.UsageStats, error) {
	return s.logs.Stats(ctx, userID, provider)
}

// TodayStats aggregates the current day's counters.
func (s *UsageService) TodayStats(ctx context.Context, userID string) (*repository.TodayStats, error) {
	return s.logs.TodayStats(ctx, userID)
}

// Recent returns the newest usage entries for a user.
func (s *UsageService) Recent(ctx context.Context, userID string, limit int) ([]*models.UsageLog, error) {
	return s.logs.RecentByUser(ctx, userID, limit)
}
