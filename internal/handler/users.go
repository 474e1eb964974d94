package handler

import (
	"net/http"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/internal/session"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// UserHandler handles the current user and user administration.
type UserHandler struct {
	users    *service.UserService
	sessions *session.Manager
	logger   *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users *service.UserService, sessions *session.Manager, log *logger.Logger) *UserHandler {
	return &UserHandler{users: users, sessions: sessions, logger: log}
}

// Me handles GET /api/v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdatePreferences handles PUT /api/v1/me/preferences. Running sessions
// pick up the new preferences immediately.
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	prefs := model.DefaultPreferences()
	if !decodeJSON(w, r, &prefs) {
		return
	}

	u, err := h.users.UpdatePreferences(r.Context(), prefs)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update preferences")
		return
	}
	h.sessions.UpdateUser(u)

	writeJSON(w, http.StatusOK, u)
}

// UpdateAISettings handles PUT /api/v1/me/ai-settings
func (h *UserHandler) UpdateAISettings(w http.ResponseWriter, r *http.Request) {
	settings := model.DefaultAISettings()
	if !decodeJSON(w, r, &settings) {
		return
	}

	u, err := h.users.UpdateAISettings(r.Context(), settings)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update AI settings")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// List handles GET /api/v1/users (admin)
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// SetRole handles PUT /api/v1/users/:id/role (admin)
func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req model.UpdateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	u, err := h.users.SetRole(r.Context(), caller, id, req.Role)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update role")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Delete handles DELETE /api/v1/users/:id (admin)
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	caller, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), caller, id); err != nil {
		writeServiceError(w, r, h.logger, err, "delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
