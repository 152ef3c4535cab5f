package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/parleyhq/parley-api/internal/http/mw"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/service"
)

// UsageHandler serves usage statistics and rate limit state.
type UsageHandler struct {
	usage  *service.UsageService
	logger *slog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(usage *service.UsageService, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{usage: usage, logger: logger.With("component", "usage_handler")}
}

// GetLimits reports current usage against every rate window.
func (h *UsageHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())
	limits, err := h.usage.GetUserLimits(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get limits", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get limits")
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

// GetStats aggregates the user's usage, optionally filtered by provider.
func (h *UsageHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())

	provider := models.Provider(r.URL.Query().Get("provider"))
	if provider != "" && !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported provider: "+string(provider))
		return
	}

	stats, err := h.usage.Stats(r.Context(), userID, provider)
	if err != nil {
		h.logger.Error("failed to get stats", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	today, err := h.usage.TodayStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get today stats", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats": stats,
		"today": today,
	})
}

// GetRecent returns the newest usage log entries.
func (h *UsageHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := h.usage.Recent(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to get recent usage", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
