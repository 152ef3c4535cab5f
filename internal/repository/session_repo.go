package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository creates a new session repository.
func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// CreatePersona inserts a persona row.
func (r *SQLiteSessionRepository) CreatePersona(ctx context.Context, persona *models.Persona) error {
	if persona.CreatedAt.IsZero() {
		persona.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO personas (id, name, system_instruction, created_at)
		VALUES (?, ?, ?, ?)
	`, persona.ID, persona.Name, persona.SystemInstruction, persona.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	return nil
}

// CreateSession inserts a chat session row. The persona must already exist.
func (r *SQLiteSessionRepository) CreateSession(ctx context.Context, session *models.ChatSession) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	var personaID any
	if session.Persona != nil {
		personaID = session.Persona.ID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, persona_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, personaID, session.Title,
		session.CreatedAt.Format(time.RFC3339), session.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create chat session: %w", err)
	}
	return nil
}

// GetSession loads a session, its persona and its conversation history in
// chronological order.
func (r *SQLiteSessionRepository) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var (
		session   models.ChatSession
		personaID sql.NullString
		createdAt string
		updatedAt string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, persona_id, title, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.UserID, &personaID, &session.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	session.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	session.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if personaID.Valid {
		persona, err := r.getPersona(ctx, personaID.String)
		if err != nil {
			return nil, err
		}
		session.Persona = persona
	}

	history, err := r.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	session.ConversationHistory = history

	return &session, nil
}

func (r *SQLiteSessionRepository) getPersona(ctx context.Context, id string) (*models.Persona, error) {
	var (
		persona   models.Persona
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, system_instruction, created_at FROM personas WHERE id = ?
	`, id).Scan(&persona.ID, &persona.Name, &persona.SystemInstruction, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	persona.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &persona, nil
}

// listMessages returns a session's messages ordered oldest first. Insertion
// order via ULID primary keys breaks ties within one timestamp second.
func (r *SQLiteSessionRepository) listMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_session_id, role, content, created_at
		FROM messages WHERE chat_session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []models.Message
	for rows.Next() {
		var (
			msg       models.Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ChatSessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.MessageRole(role)
		msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		history = append(history, msg)
	}
	return history, rows.Err()
}

// AppendMessage appends a message to a session's history.
func (r *SQLiteSessionRepository) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatSessionID, string(msg.Role), msg.Content, msg.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// CountMessagesByRole counts a session's messages with the given role.
func (r *SQLiteSessionRepository) CountMessagesByRole(ctx context.Context, sessionID string, role models.MessageRole) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE chat_session_id = ? AND role = ?
	`, sessionID, string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// UpdateTitle sets a session's title.
func (r *SQLiteSessionRepository) UpdateTitle(ctx context.Context, sessionID, title string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}
