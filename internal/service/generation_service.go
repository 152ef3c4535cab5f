package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley-api/internal/llm"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
)

// TitleFallback is returned whenever title generation cannot produce a
// usable title. Title generation is best-effort and never surfaces errors.
const TitleFallback = "Untitled Conversation"

// unavailableMessage replaces raw timeout errors: the end user sees one
// curated message, never transport details.
const unavailableMessage = "The AI service is currently unavailable. Please try again later."

// GenerationService orchestrates context building and LLM dispatch for a
// chat session. It is the backstop of the error funnel: every path through
// Call returns a Result, never an error, so callers (the job worker) can
// treat the outcome uniformly.
type GenerationService struct {
	users  repository.UserRepository
	usage  *UsageService
	logger *slog.Logger
}

// NewGenerationService creates a new generation service.
func NewGenerationService(users repository.UserRepository, usage *UsageService, logger *slog.Logger) *GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationService{
		users:  users,
		usage:  usage,
		logger: logger.With("component", "generation"),
	}
}

// Call validates the session, builds the normalized context and dispatches
// it to the owner's configured provider. Validations short-circuit in order:
// nil session, missing persona, incomplete provider config. The config check
// happens before any network call so unconfigured users get an actionable
// message instead of a provider error.
func (s *GenerationService) Call(ctx context.Context, session *models.ChatSession) llm.Result {
	if session == nil {
		return llm.Fail(llm.KindConfiguration, "Chat session cannot be nil")
	}
	if session.Persona == nil {
		return llm.Fail(llm.KindConfiguration, "Chat session must have a persona")
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return llm.Fail(llm.KindTransient, err.Error())
	}
	if !user.APIConfigured() {
		return llm.Fail(llm.KindConfiguration, "AI provider not configured. Please configure your API settings before chatting.")
	}

	convo := llm.BuildContext(session.Persona.SystemInstruction, session.ConversationHistory)
	result := llm.NewClient(user, s.recorder(), s.logger).GenerateContent(ctx, convo)

	return s.normalize(result)
}

// CallForTitle generates a short session title from an ad-hoc prompt through
// the same provider dispatch. Any failure — blank prompt, unconfigured user,
// provider error — yields the fixed fallback without propagating.
func (s *GenerationService) CallForTitle(ctx context.Context, user *models.User, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return TitleFallback
	}
	if user == nil || !user.APIConfigured() {
		return TitleFallback
	}

	convo := llm.Context{{Role: string(models.RoleUser), Parts: []llm.Part{{Text: prompt}}}}
	result := llm.NewClient(user, s.recorder(), s.logger).GenerateContent(ctx, convo)
	if !result.Success {
		s.logger.Warn("title generation failed", "user_id", user.ID, "error", result.Error)
		return TitleFallback
	}

	title := cleanTitle(result.Data)
	if title == "" {
		return TitleFallback
	}
	return title
}

// recorder converts the optional usage service into the client's recorder
// interface. A plain pass of a nil *UsageService would produce a non-nil
// interface value and defeat the client's nil check.
func (s *GenerationService) recorder() llm.UsageRecorder {
	if s.usage == nil {
		return nil
	}
	return s.usage
}

// normalize applies the user-facing message policy: timeouts collapse to one
// curated message, everything else keeps its already-curated error string.
func (s *GenerationService) normalize(result llm.Result) llm.Result {
	if !result.Success && result.Kind == llm.KindTimeout {
		result.Error = unavailableMessage
	}
	return result
}

// cleanTitle strips quotes and whitespace and caps the title length.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.NewReplacer(`"`, "", `'`, "").Replace(title)
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:50])
	}
	return strings.TrimSpace(title)
}
