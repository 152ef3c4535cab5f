package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/service"
)

// ========================================
// Fakes
// ========================================

type fakeJobRepo struct {
	pending []*models.Job
	updated *models.Job
}

func (f *fakeJobRepo) Create(ctx context.Context, job *models.Job) error {
	f.pending = append(f.pending, job)
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	for _, job := range f.pending {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", id)
}

func (f *fakeJobRepo) ClaimPending(ctx context.Context) (*models.Job, error) {
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Status = models.JobStatusRunning
	return job, nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job *models.Job) error {
	f.updated = job
	return nil
}

func (f *fakeJobRepo) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

type fakeSessionRepo struct {
	session      *models.ChatSession
	appended     []*models.Message
	userMessages int
	title        string
	titleUpdated bool
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
	return f.userMessages, nil
}

func (f *fakeSessionRepo) UpdateTitle(ctx context.Context, sessionID, title string) error {
	f.title = title
	f.titleUpdated = true
	return nil
}

type fakeUserRepo struct {
	user *models.User
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error { return nil }

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	return f.user, nil
}

func (f *fakeUserRepo) UpdateAPISettings(ctx context.Context, userID string, provider models.Provider, apiKey, modelName string) error {
	return nil
}

// ========================================
// Fixture
// ========================================

type fixture struct {
	jobs     *fakeJobRepo
	sessions *fakeSessionRepo
	users    *fakeUserRepo
	worker   *Worker
}

func newFixture(t *testing.T, endpoint string) *fixture {
	t.Helper()

	user := &models.User{
		ID:           "user-1",
		APIProvider:  models.ProviderCustom,
		APIModelName: "test-model",
		APIKey:       endpoint,
	}
	session := &models.ChatSession{
		ID:     "session-1",
		UserID: "user-1",
		Persona: &models.Persona{
			ID:                "persona-1",
			SystemInstruction: "Be helpful.",
		},
		ConversationHistory: []models.Message{
			{Role: models.RoleUser, Content: "Hello"},
			{Role: models.RoleAssistant, Content: "Hi"},
			{Role: models.RoleUser, Content: "Tell me more"},
		},
	}

	jobs := &fakeJobRepo{}
	sessions := &fakeSessionRepo{session: session, userMessages: 2}
	users := &fakeUserRepo{user: user}

	gen := service.NewGenerationService(users, nil, nil)
	w := New(jobs, sessions, users, gen, Config{
		PollInterval: time.Millisecond,
		RetryDelay:   time.Millisecond,
	}, nil)

	return &fixture{jobs: jobs, sessions: sessions, users: users, worker: w}
}

func responseJob() *models.Job {
	return &models.Job{
		ID:            "job-1",
		UserID:        "user-1",
		ChatSessionID: "session-1",
		Type:          models.JobTypeResponse,
		Status:        models.JobStatusRunning,
	}
}

func titleJob() *models.Job {
	return &models.Job{
		ID:            "job-2",
		UserID:        "user-1",
		ChatSessionID: "session-1",
		Type:          models.JobTypeTitle,
		Status:        models.JobStatusRunning,
	}
}

// ========================================
// New Worker Tests
// ========================================

func TestNew_Defaults(t *testing.T) {
	w := New(nil, nil, nil, nil, Config{}, nil)

	if w.pollInterval != 5*time.Second {
		t.Errorf("pollInterval = %v, want 5s (default)", w.pollInterval)
	}
	if w.concurrency != 3 {
		t.Errorf("concurrency = %d, want 3 (default)", w.concurrency)
	}
	if w.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3 (default)", w.maxAttempts)
	}
	if w.retryDelay != 2*time.Second {
		t.Errorf("retryDelay = %v, want 2s (default)", w.retryDelay)
	}
	if w.logger == nil {
		t.Error("logger should be set to default")
	}
}

// ========================================
// Response Job Tests
// ========================================

func TestProcessResponseJob_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "here is my reply"}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	job := responseJob()
	f.worker.processResponseJob(context.Background(), job)

	if len(f.sessions.appended) != 1 {
		t.Fatalf("appended messages = %d, want 1", len(f.sessions.appended))
	}
	msg := f.sessions.appended[0]
	if msg.Role != models.RoleAssistant {
		t.Errorf("role = %q, want %q", msg.Role, models.RoleAssistant)
	}
	if msg.Content != "here is my reply" {
		t.Errorf("content = %q, want the generated reply", msg.Content)
	}

	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed", f.jobs.updated)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
}

func TestProcessResponseJob_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"response": "third time lucky"}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	job := responseJob()
	f.worker.processResponseJob(context.Background(), job)

	if calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", calls.Load())
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed after retries", f.jobs.updated)
	}
	if f.sessions.appended[0].Content != "third time lucky" {
		t.Errorf("content = %q, want the eventual reply", f.sessions.appended[0].Content)
	}
}

func TestProcessResponseJob_NoRetryOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	job := responseJob()
	f.worker.processResponseJob(context.Background(), job)

	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (auth failures are not retried)", calls.Load())
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusFailed {
		t.Errorf("job = %+v, want failed", f.jobs.updated)
	}

	// The chat still shows the outcome.
	if len(f.sessions.appended) != 1 {
		t.Fatalf("appended messages = %d, want 1", len(f.sessions.appended))
	}
	if f.sessions.appended[0].Content != "Invalid Custom API key" {
		t.Errorf("content = %q, want the curated error", f.sessions.appended[0].Content)
	}
}

func TestProcessResponseJob_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	job := responseJob()
	f.worker.processResponseJob(context.Background(), job)

	if calls.Load() != 3 {
		t.Errorf("provider calls = %d, want maxAttempts", calls.Load())
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusFailed {
		t.Errorf("job = %+v, want failed", f.jobs.updated)
	}
	if !strings.Contains(f.jobs.updated.ErrorMessage, "after 3 attempts") {
		t.Errorf("error = %q, want attempt count", f.jobs.updated.ErrorMessage)
	}
}

func TestProcessResponseJob_MissingSession(t *testing.T) {
	f := newFixture(t, "http://unused")
	job := responseJob()
	job.ChatSessionID = "nope"
	f.worker.processResponseJob(context.Background(), job)

	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusFailed {
		t.Errorf("job = %+v, want failed", f.jobs.updated)
	}
	if len(f.sessions.appended) != 0 {
		t.Errorf("appended messages = %d, want 0", len(f.sessions.appended))
	}
}

// ========================================
// Title Job Tests
// ========================================

func TestProcessTitleJob_SetsTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "\"Helpful Introductions\""}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.worker.processTitleJob(context.Background(), titleJob())

	if !f.sessions.titleUpdated {
		t.Fatal("expected title update")
	}
	if f.sessions.title != "Helpful Introductions" {
		t.Errorf("title = %q, want the cleaned generated title", f.sessions.title)
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed", f.jobs.updated)
	}
}

func TestProcessTitleJob_SkipsRealTitle(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"response": "never used"}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.sessions.session.Title = "Pirate Talk"
	f.worker.processTitleJob(context.Background(), titleJob())

	if calls.Load() != 0 {
		t.Errorf("provider calls = %d, want 0", calls.Load())
	}
	if f.sessions.titleUpdated {
		t.Error("a real title must not be replaced")
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed (skip is not a failure)", f.jobs.updated)
	}
}

func TestProcessTitleJob_ReplacesProvisionalTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "Better Title"}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.sessions.session.Title = "New Chat"
	f.worker.processTitleJob(context.Background(), titleJob())

	if !f.sessions.titleUpdated || f.sessions.title != "Better Title" {
		t.Errorf("title = %q (updated=%v), want provisional title replaced",
			f.sessions.title, f.sessions.titleUpdated)
	}
}

func TestProcessTitleJob_SkipsShortConversation(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.sessions.userMessages = 1
	f.worker.processTitleJob(context.Background(), titleJob())

	if calls.Load() != 0 {
		t.Errorf("provider calls = %d, want 0", calls.Load())
	}
	if f.sessions.titleUpdated {
		t.Error("title must not be set before two user messages")
	}
}

func TestProcessTitleJob_FallbackOnProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	f.worker.processTitleJob(context.Background(), titleJob())

	if !f.sessions.titleUpdated || f.sessions.title != service.TitleFallback {
		t.Errorf("title = %q, want %q", f.sessions.title, service.TitleFallback)
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed (fallback is not a failure)", f.jobs.updated)
	}
}

// ========================================
// titlePrompt Tests
// ========================================

func TestTitlePrompt_UsesOpeningMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "one"},
		{Role: models.RoleAssistant, Content: "two"},
		{Role: models.RoleUser, Content: "three"},
		{Role: models.RoleAssistant, Content: "four"},
		{Role: models.RoleUser, Content: "five"},
	}

	prompt := titlePrompt(history)
	if !strings.Contains(prompt, "user: one") || !strings.Contains(prompt, "assistant: four") {
		t.Errorf("prompt = %q, want the first four messages", prompt)
	}
	if strings.Contains(prompt, "five") {
		t.Errorf("prompt = %q, must not include messages past the opening window", prompt)
	}
}

func TestTitlePrompt_TruncatesLongExcerpt(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("x", 2000)},
	}

	prompt := titlePrompt(history)
	excerpt := strings.SplitN(prompt, "\n\n", 2)[1]
	if len([]rune(excerpt)) != 500 {
		t.Errorf("excerpt len = %d, want 500", len([]rune(excerpt)))
	}
}

// ========================================
// Start/Stop Tests
// ========================================

func TestStartStop(t *testing.T) {
	f := newFixture(t, "http://unused")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.worker.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
	}
}

func TestWorker_ProcessesQueuedJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "queued reply"}`))
	}))
	defer server.Close()

	f := newFixture(t, server.URL)
	_ = f.jobs.Create(context.Background(), responseJob())

	f.worker.processNextJob(context.Background(), 0)

	if len(f.sessions.appended) != 1 || f.sessions.appended[0].Content != "queued reply" {
		t.Errorf("appended = %+v, want the generated reply", f.sessions.appended)
	}
	if f.jobs.updated == nil || f.jobs.updated.Status != models.JobStatusCompleted {
		t.Errorf("job = %+v, want completed", f.jobs.updated)
	}
}
