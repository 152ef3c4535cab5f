package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/parleyhq/parley-api/internal/database/migrations"
	"github.com/parleyhq/parley-api/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(setupTestDB(t))
}

// insertTestUser creates a user with a complete provider config.
func insertTestUser(t *testing.T, repos *Repositories, id string) *models.User {
	t.Helper()
	user := &models.User{
		ID:           id,
		Email:        id + "@example.com",
		APIProvider:  models.ProviderOpenAI,
		APIModelName: "gpt-4o",
		APIKey:       "sk-test",
	}
	if err := repos.Users.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to insert test user: %v", err)
	}
	return user
}

// insertTestSession creates a persona and a session owned by userID.
func insertTestSession(t *testing.T, repos *Repositories, userID string) *models.ChatSession {
	t.Helper()
	persona := &models.Persona{
		ID:                ulid.Make().String(),
		Name:              "Assistant",
		SystemInstruction: "Be helpful.",
	}
	if err := repos.Sessions.CreatePersona(context.Background(), persona); err != nil {
		t.Fatalf("failed to insert test persona: %v", err)
	}
	session := &models.ChatSession{
		ID:      ulid.Make().String(),
		UserID:  userID,
		Persona: persona,
	}
	if err := repos.Sessions.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to insert test session: %v", err)
	}
	return session
}

// insertUsageLog inserts a usage entry with an explicit creation time.
func insertUsageLog(t *testing.T, repos *Repositories, userID string, status models.UsageStatus, createdAt time.Time) {
	t.Helper()
	entry := &models.UsageLog{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Provider:  models.ProviderOpenAI,
		Model:     "gpt-4o",
		Status:    status,
		CreatedAt: createdAt,
	}
	if err := repos.UsageLogs.Create(context.Background(), entry); err != nil {
		t.Fatalf("failed to insert usage log: %v", err)
	}
}
