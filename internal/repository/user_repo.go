package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new user repository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a user row.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, api_provider, api_model_name, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, string(user.APIProvider), user.APIModelName, user.APIKey,
		user.CreatedAt.Format(time.RFC3339), user.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID loads a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var (
		user      models.User
		provider  string
		createdAt string
		updatedAt string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, api_provider, api_model_name, api_key, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Email, &provider, &user.APIModelName, &user.APIKey, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.APIProvider = models.Provider(provider)
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &user, nil
}

// UpdateAPISettings replaces the provider/credential/model triple. In-flight
// generation calls are unaffected: the client captures config at
// construction.
func (r *SQLiteUserRepository) UpdateAPISettings(ctx context.Context, userID string, provider models.Provider, apiKey, modelName string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET api_provider = ?, api_key = ?, api_model_name = ?, updated_at = ?
		WHERE id = ?
	`, string(provider), apiKey, modelName, time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("failed to update API settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}
