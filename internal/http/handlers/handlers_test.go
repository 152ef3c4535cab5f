package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley-api/internal/http/mw"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
	"github.com/parleyhq/parley-api/internal/service"
)

// ========================================
// Fakes
// ========================================

type fakeSessionRepo struct {
	session  *models.ChatSession
	appended []*models.Message
}

func (f *fakeSessionRepo) CreatePersona(ctx context.Context, persona *models.Persona) error {
	return nil
}

func (f *fakeSessionRepo) CreateSession(ctx context.Context, session *models.ChatSession) error {
	return nil
}

func (f *fakeSessionRepo) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	if f.session == nil || f.session.ID != id {
		return nil, fmt.Errorf("chat session not found: %s", id)
	}
	return f.session, nil
}

func (f *fakeSessionRepo) AppendMessage(ctx context.Context, msg *models.Message) error {
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeSessionRepo) CountMessagesByRole(ctx context.Context, sessionID string, role models.MessageRole) (int, error) {
	return 0, nil
}

func (f *fakeSessionRepo) UpdateTitle(ctx context.Context, sessionID, title string) error {
	return nil
}

type fakeJobRepo struct {
	created []*models.Job
}

func (f *fakeJobRepo) Create(ctx context.Context, job *models.Job) error {
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	for _, job := range f.created {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", id)
}

func (f *fakeJobRepo) ClaimPending(ctx context.Context) (*models.Job, error) { return nil, nil }

func (f *fakeJobRepo) Update(ctx context.Context, job *models.Job) error { return nil }

func (f *fakeJobRepo) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

type fakeUsageLogRepo struct {
	count int
}

func (f *fakeUsageLogRepo) Create(ctx context.Context, entry *models.UsageLog) error { return nil }

func (f *fakeUsageLogRepo) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f.count, nil
}

func (f *fakeUsageLogRepo) Stats(ctx context.Context, userID string, provider models.Provider) (*repository.UsageStats, error) {
	return &repository.UsageStats{}, nil
}

func (f *fakeUsageLogRepo) TodayStats(ctx context.Context, userID string) (*repository.TodayStats, error) {
	return &repository.TodayStats{}, nil
}

func (f *fakeUsageLogRepo) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.UsageLog, error) {
	return nil, nil
}

// ========================================
// Fixture
// ========================================

func newChatRouter(sessions *fakeSessionRepo, jobs *fakeJobRepo, logs *fakeUsageLogRepo) http.Handler {
	usage := service.NewUsageService(logs, nil)
	h := NewChatHandler(sessions, jobs, usage, nil)

	r := chi.NewRouter()
	r.Post("/sessions/{id}/messages", h.PostMessage)
	r.Get("/sessions/{id}", h.GetSession)
	return r
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), mw.UserIDKey, userID))
}

func ownedSession() *models.ChatSession {
	return &models.ChatSession{
		ID:      "session-1",
		UserID:  "user-1",
		Persona: &models.Persona{ID: "persona-1", SystemInstruction: "Be helpful."},
	}
}

// ========================================
// PostMessage Tests
// ========================================

func TestPostMessage_EnqueuesJobs(t *testing.T) {
	sessions := &fakeSessionRepo{session: ownedSession()}
	jobs := &fakeJobRepo{}
	router := newChatRouter(sessions, jobs, &fakeUsageLogRepo{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/session-1/messages",
		strings.NewReader(`{"content": "Hello there"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "user-1"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}

	if len(sessions.appended) != 1 {
		t.Fatalf("appended messages = %d, want 1", len(sessions.appended))
	}
	if sessions.appended[0].Role != models.RoleUser || sessions.appended[0].Content != "Hello there" {
		t.Errorf("message = %+v, want the posted user message", sessions.appended[0])
	}

	if len(jobs.created) != 2 {
		t.Fatalf("jobs created = %d, want response + title", len(jobs.created))
	}
	if jobs.created[0].Type != models.JobTypeResponse || jobs.created[1].Type != models.JobTypeTitle {
		t.Errorf("job types = %q/%q, want response/title", jobs.created[0].Type, jobs.created[1].Type)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["job_id"] != jobs.created[0].ID {
		t.Errorf("job_id = %q, want %q", resp["job_id"], jobs.created[0].ID)
	}
}

func TestPostMessage_RateLimited(t *testing.T) {
	sessions := &fakeSessionRepo{session: ownedSession()}
	jobs := &fakeJobRepo{}
	router := newChatRouter(sessions, jobs, &fakeUsageLogRepo{count: service.RequestsPerMinute})

	req := httptest.NewRequest(http.MethodPost, "/sessions/session-1/messages",
		strings.NewReader(`{"content": "Hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "user-1"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	// Throttled before anything is persisted.
	if len(sessions.appended) != 0 || len(jobs.created) != 0 {
		t.Errorf("appended=%d jobs=%d, want nothing persisted", len(sessions.appended), len(jobs.created))
	}

	var status service.RateLimitStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !status.Limited || !strings.Contains(status.Reason, "per minute") {
		t.Errorf("status = %+v, want limited with the minute reason", status)
	}
}

func TestPostMessage_ForeignSessionReadsAsNotFound(t *testing.T) {
	sessions := &fakeSessionRepo{session: ownedSession()}
	router := newChatRouter(sessions, &fakeJobRepo{}, &fakeUsageLogRepo{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/session-1/messages",
		strings.NewReader(`{"content": "Hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "intruder"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPostMessage_BlankContent(t *testing.T) {
	sessions := &fakeSessionRepo{session: ownedSession()}
	router := newChatRouter(sessions, &fakeJobRepo{}, &fakeUsageLogRepo{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/session-1/messages",
		strings.NewReader(`{"content": "   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "user-1"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ========================================
// GetSession Tests
// ========================================

func TestGetSession_Owned(t *testing.T) {
	sessions := &fakeSessionRepo{session: ownedSession()}
	router := newChatRouter(sessions, &fakeJobRepo{}, &fakeUsageLogRepo{})

	req := httptest.NewRequest(http.MethodGet, "/sessions/session-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got models.ChatSession
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "session-1" {
		t.Errorf("id = %q, want %q", got.ID, "session-1")
	}
}
