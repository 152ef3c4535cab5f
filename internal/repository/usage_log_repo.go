package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// SQLiteUsageLogRepository implements UsageLogRepository using SQLite.
// The table is append-only: entries are never updated or deleted by the
// application.
type SQLiteUsageLogRepository struct {
	db *sql.DB
}

// NewSQLiteUsageLogRepository creates a new usage log repository.
func NewSQLiteUsageLogRepository(db *sql.DB) *SQLiteUsageLogRepository {
	return &SQLiteUsageLogRepository{db: db}
}

// Create appends one usage log entry.
func (r *SQLiteUsageLogRepository) Create(ctx context.Context, entry *models.UsageLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_usage_logs
			(id, user_id, provider, model, status, request_tokens, response_tokens, total_tokens, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, string(entry.Provider), entry.Model, string(entry.Status),
		entry.RequestTokens, entry.ResponseTokens, entry.TotalTokens, entry.ErrorMessage,
		entry.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}

// CountSince counts entries created strictly after the given instant.
func (r *SQLiteUsageLogRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_usage_logs
		WHERE user_id = ? AND created_at > ?
	`, userID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage logs: %w", err)
	}
	return count, nil
}

// Stats aggregates a user's usage. Failed requests are error and timeout
// outcomes; rate_limited attempts never reached the provider and are counted
// in the total only.
func (r *SQLiteUsageLogRepository) Stats(ctx context.Context, userID string, provider models.Provider) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('error', 'timeout') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(request_tokens), 0),
			COALESCE(SUM(response_tokens), 0)
		FROM api_usage_logs
		WHERE user_id = ?
	`
	args := []any{userID}
	if provider != "" {
		query += " AND provider = ?"
		args = append(args, string(provider))
	}

	var stats UsageStats
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulRequests,
		&stats.FailedRequests,
		&stats.TotalTokensUsed,
		&stats.RequestTokens,
		&stats.ResponseTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests) * 100
	}
	return &stats, nil
}

// TodayStats aggregates the current calendar day's counters.
func (r *SQLiteUsageLogRepository) TodayStats(ctx context.Context, userID string) (*TodayStats, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	var stats TodayStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM api_usage_logs
		WHERE user_id = ? AND created_at >= ?
	`, userID, midnight.Format(time.RFC3339)).Scan(&stats.RequestsToday, &stats.TokensToday)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate today stats: %w", err)
	}
	return &stats, nil
}

// RecentByUser returns the newest entries first.
func (r *SQLiteUsageLogRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.UsageLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, provider, model, status, request_tokens, response_tokens, total_tokens, error_message, created_at
		FROM api_usage_logs
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.UsageLog
	for rows.Next() {
		var (
			entry     models.UsageLog
			provider  string
			status    string
			errMsg    sql.NullString
			createdAt string
		)
		err := rows.Scan(&entry.ID, &entry.UserID, &provider, &entry.Model, &status,
			&entry.RequestTokens, &entry.ResponseTokens, &entry.TotalTokens, &errMsg, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		entry.Provider = models.Provider(provider)
		entry.Status = models.UsageStatus(status)
		entry.ErrorMessage = errMsg.String
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
