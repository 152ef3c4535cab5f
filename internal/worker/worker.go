// Package worker runs the background job loop: it claims queued jobs and
// generates assistant replies and session titles through the LLM core.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley-api/internal/llm"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
	"github.com/parleyhq/parley-api/internal/service"
)

// Title jobs look at a short excerpt of the opening exchange, not the whole
// history. A provisional "New ..." title is still eligible for replacement.
const (
	titlePromptMessages     = 4
	titlePromptMaxLen       = 500
	minUserMessagesForTitle = 2
	provisionalTitlePrefix  = "New"
)

// Worker processes background generation jobs.
type Worker struct {
	jobRepo       repository.JobRepository
	sessionRepo   repository.SessionRepository
	userRepo      repository.UserRepository
	generationSvc *service.GenerationService
	pollInterval  time.Duration
	concurrency   int
	maxAttempts   int
	retryDelay    time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	// MaxAttempts bounds the generation attempts per response job; only
	// transient outcomes (timeouts, rate limits, provider 5xx) are retried.
	MaxAttempts int
	RetryDelay  time.Duration
}

// New creates a new worker.
func New(
	jobRepo repository.JobRepository,
	sessionRepo repository.SessionRepository,
	userRepo repository.UserRepository,
	generationSvc *service.GenerationService,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobRepo:       jobRepo,
		sessionRepo:   sessionRepo,
		userRepo:      userRepo,
		generationSvc: generationSvc,
		pollInterval:  cfg.PollInterval,
		concurrency:   cfg.Concurrency,
		maxAttempts:   cfg.MaxAttempts,
		retryDelay:    cfg.RetryDelay,
		stop:          make(chan struct{}),
		logger:        logger.With("component", "worker"),
	}
}

// Start begins processing jobs.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processNextJob(ctx, workerID)
		}
	}
}

func (w *Worker) processNextJob(ctx context.Context, workerID int) {
	job, err := w.jobRepo.ClaimPending(ctx)
	if err != nil {
		w.logger.Error("failed to claim job", "worker_id", workerID, "error", err)
		return
	}
	if job == nil {
		return // No pending jobs
	}

	w.logger.Info("processing job", "worker_id", workerID, "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case models.JobTypeResponse:
		w.processResponseJob(ctx, job)
	case models.JobTypeTitle:
		w.processTitleJob(ctx, job)
	default:
		w.failJob(ctx, job, fmt.Sprintf("unknown job type: %s", job.Type))
	}
}

// processResponseJob generates an assistant reply for the job's session.
// Retries happen here, never inside the LLM client, and each attempt
// produces its own usage log entry. The final outcome is always appended to
// the conversation: the reply on success, the curated error message on
// failure, so the chat never goes silent.
func (w *Worker) processResponseJob(ctx context.Context, job *models.Job) {
	session, err := w.sessionRepo.GetSession(ctx, job.ChatSessionID)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to load session: %v", err))
		return
	}

	var result llm.Result
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		job.Attempts = attempt
		result = w.generationSvc.Call(ctx, session)
		if result.Success || !result.Kind.Retryable() {
			break
		}
		if attempt == w.maxAttempts {
			break
		}

		w.logger.Warn("generation attempt failed, retrying",
			"job_id", job.ID, "attempt", attempt, "error", result.Error)
		select {
		case <-time.After(w.retryDelay):
		case <-w.stop:
			w.failJob(ctx, job, "worker stopped before job completed")
			return
		case <-ctx.Done():
			w.failJob(ctx, job, ctx.Err().Error())
			return
		}
	}

	content := result.Data
	if !result.Success {
		content = result.Error
	}
	msg := &models.Message{
		ID:            ulid.Make().String(),
		ChatSessionID: session.ID,
		Role:          models.RoleAssistant,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	if err := w.sessionRepo.AppendMessage(ctx, msg); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to append message: %v", err))
		return
	}

	if !result.Success {
		w.failJob(ctx, job, fmt.Sprintf("generation failed after %d attempts: %s", job.Attempts, result.Error))
		return
	}

	w.completeJob(ctx, job)
	w.logger.Info("completed job", "job_id", job.ID, "attempts", job.Attempts)
}

// processTitleJob auto-names a session from its opening exchange. It skips
// quietly when the session already has a real title or the conversation is
// too short, and never fails the session on a bad title: title generation
// falls back to a fixed placeholder instead.
func (w *Worker) processTitleJob(ctx context.Context, job *models.Job) {
	session, err := w.sessionRepo.GetSession(ctx, job.ChatSessionID)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to load session: %v", err))
		return
	}

	if session.Title != "" && !strings.HasPrefix(session.Title, provisionalTitlePrefix) {
		w.completeJob(ctx, job)
		return
	}

	userMessages, err := w.sessionRepo.CountMessagesByRole(ctx, session.ID, models.RoleUser)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to count messages: %v", err))
		return
	}
	if userMessages < minUserMessagesForTitle {
		w.completeJob(ctx, job)
		return
	}

	user, err := w.userRepo.GetByID(ctx, job.UserID)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to load user: %v", err))
		return
	}

	title := w.generationSvc.CallForTitle(ctx, user, titlePrompt(session.ConversationHistory))
	if err := w.sessionRepo.UpdateTitle(ctx, session.ID, title); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to update title: %v", err))
		return
	}

	w.completeJob(ctx, job)
	w.logger.Info("completed title job", "job_id", job.ID, "session_id", session.ID)
}

// titlePrompt builds the ad-hoc prompt from the opening messages, capped so
// a long first message cannot blow up the title request.
func titlePrompt(history []models.Message) string {
	n := len(history)
	if n > titlePromptMessages {
		n = titlePromptMessages
	}
	lines := make([]string, 0, n)
	for _, m := range history[:n] {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	excerpt := strings.Join(lines, "\n")
	if runes := []rune(excerpt); len(runes) > titlePromptMaxLen {
		excerpt = string(runes[:titlePromptMaxLen])
	}

	return "Generate a short, descriptive title (maximum 50 characters) for this conversation. Respond with the title only.\n\n" + excerpt
}

func (w *Worker) completeJob(ctx context.Context, job *models.Job) {
	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.ErrorMessage = ""
	job.CompletedAt = &now

	if err := w.jobRepo.Update(ctx, job); err != nil {
		w.logger.Error("failed to update job", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) failJob(ctx context.Context, job *models.Job, errMsg string) {
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errMsg
	job.CompletedAt = &now

	if err := w.jobRepo.Update(ctx, job); err != nil {
		w.logger.Error("failed to update job", "job_id", job.ID, "error", err)
	}

	w.logger.Warn("job failed", "job_id", job.ID, "error", errMsg)
}
