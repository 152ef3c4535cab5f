package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley-api/internal/http/mw"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
	"github.com/parleyhq/parley-api/internal/service"
)

// ChatHandler serves persona, session and message endpoints.
type ChatHandler struct {
	sessions repository.SessionRepository
	jobs     repository.JobRepository
	usage    *service.UsageService
	logger   *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(sessions repository.SessionRepository, jobs repository.JobRepository, usage *service.UsageService, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		sessions: sessions,
		jobs:     jobs,
		usage:    usage,
		logger:   logger.With("component", "chat_handler"),
	}
}

// CreatePersona creates an AI character.
func (h *ChatHandler) CreatePersona(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name              string `json:"name"`
		SystemInstruction string `json:"system_instruction"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.SystemInstruction) == "" {
		writeError(w, http.StatusBadRequest, "name and system_instruction are required")
		return
	}

	persona := &models.Persona{
		ID:                ulid.Make().String(),
		Name:              req.Name,
		SystemInstruction: req.SystemInstruction,
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.sessions.CreatePersona(r.Context(), persona); err != nil {
		h.logger.Error("failed to create persona", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create persona")
		return
	}

	writeJSON(w, http.StatusCreated, persona)
}

// CreateSession starts a chat session with a persona.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonaID string `json:"persona_id"`
		Title     string `json:"title"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PersonaID == "" {
		writeError(w, http.StatusBadRequest, "persona_id is required")
		return
	}

	session := &models.ChatSession{
		ID:      ulid.Make().String(),
		UserID:  mw.UserID(r.Context()),
		Title:   req.Title,
		Persona: &models.Persona{ID: req.PersonaID},
	}
	if err := h.sessions.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GetSession returns a session with its persona and full history.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadOwnedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PostMessage appends a user message and enqueues background jobs to
// generate the assistant reply and, when eligible, a session title. The
// rate limit gate runs before anything is persisted so a throttled request
// leaves no trace in the conversation.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())

	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	session, ok := h.loadOwnedSession(w, r)
	if !ok {
		return
	}

	limit, err := h.usage.CheckRateLimit(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to check rate limit", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check rate limit")
		return
	}
	if limit.Limited {
		writeJSON(w, http.StatusTooManyRequests, limit)
		return
	}

	msg := &models.Message{
		ID:            ulid.Make().String(),
		ChatSessionID: session.ID,
		Role:          models.RoleUser,
		Content:       req.Content,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.sessions.AppendMessage(r.Context(), msg); err != nil {
		h.logger.Error("failed to append message", "session_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to append message")
		return
	}

	responseJob := &models.Job{
		ID:            ulid.Make().String(),
		UserID:        userID,
		ChatSessionID: session.ID,
		Type:          models.JobTypeResponse,
	}
	if err := h.jobs.Create(r.Context(), responseJob); err != nil {
		h.logger.Error("failed to enqueue response job", "session_id", session.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue response")
		return
	}

	// Title jobs are best-effort; the worker skips them when the session
	// already has a real title or too few user messages.
	titleJob := &models.Job{
		ID:            ulid.Make().String(),
		UserID:        userID,
		ChatSessionID: session.ID,
		Type:          models.JobTypeTitle,
	}
	if err := h.jobs.Create(r.Context(), titleJob); err != nil {
		h.logger.Warn("failed to enqueue title job", "session_id", session.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message_id": msg.ID,
		"job_id":     responseJob.ID,
		"status":     string(models.JobStatusPending),
	})
}

// GetJob reports the status of a background job.
func (h *ChatHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.UserID != mw.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// loadOwnedSession loads the session from the URL and enforces ownership.
// Foreign sessions read as not found so session IDs stay unguessable.
func (h *ChatHandler) loadOwnedSession(w http.ResponseWriter, r *http.Request) (*models.ChatSession, bool) {
	session, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if session.UserID != mw.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}
