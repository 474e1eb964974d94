// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	users   *service.UserService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, users *service.UserService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		users:   users,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Create(ctx, middleware.GetActor(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// CreateAnnouncement handles POST /api/v1/conversations/announcements
func (h *ConversationHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateAnnouncementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.CreateAnnouncement(ctx, middleware.GetActor(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "create announcement")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx, middleware.GetActor(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Contacts handles GET /api/v1/contacts
func (h *ConversationHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	convs, err := h.service.ListForUser(ctx, actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list contacts")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{
		"contacts": h.users.Contacts(ctx, actor, convs),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetActor(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/v1/conversations/:id
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		if err := middleware.ValidateName(*req.Name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Update(ctx, middleware.GetActor(ctx), conversationID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, middleware.GetActor(ctx), conversationID); err != nil {
		writeServiceError(w, r, h.logger, err, "delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
