package handlers

import (
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley-api/internal/http/mw"
	"github.com/parleyhq/parley-api/internal/models"
	"github.com/parleyhq/parley-api/internal/repository"
)

// SettingsHandler serves the user's LLM provider settings.
type SettingsHandler struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(users repository.UserRepository, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{users: users, logger: logger.With("component", "settings_handler")}
}

// GetSettings returns the user's provider config. The credential is never
// echoed back, only whether one is set.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"api_provider":   user.APIProvider,
		"api_model_name": user.APIModelName,
		"api_key_set":    user.APIKey != "",
		"configured":     user.APIConfigured(),
		"providers":      models.Providers(),
	})
}

// UpdateSettings replaces the user's provider/credential/model triple.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider  models.Provider `json:"provider"`
		APIKey    string          `json:"api_key"`
		ModelName string          `json:"model_name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Provider.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported provider: "+string(req.Provider))
		return
	}
	if req.APIKey == "" || req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "api_key and model_name are required")
		return
	}

	userID := mw.UserID(r.Context())
	if err := h.users.UpdateAPISettings(r.Context(), userID, req.Provider, req.APIKey, req.ModelName); err != nil {
		h.logger.Error("failed to update settings", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
