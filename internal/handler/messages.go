package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	resp, err := h.messageService.List(ctx, middleware.GetActor(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/:id/messages. The body is either
// JSON or multipart/form-data with a "content" field, repeated
// "artifact_references" fields and "files" uploads.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if !h.parseMultipart(w, r, &req) {
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.Send(ctx, middleware.GetActor(ctx), conversationID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "send message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) parseMultipart(w http.ResponseWriter, r *http.Request, req *model.SendMessageRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadInMem); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return false
	}

	req.Content = r.FormValue("content")
	req.ArtifactReferences = r.MultipartForm.Value["artifact_references"]
	if raw := r.FormValue("artifact_references_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.ArtifactReferences); err != nil {
			writeError(w, http.StatusBadRequest, "invalid artifact_references_json")
			return false
		}
	}

	for _, fh := range r.MultipartForm.File["files"] {
		a, err := readAttachment(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		req.Attachments = append(req.Attachments, a)
	}
	return true
}

// MarkRead handles POST /api/v1/conversations/:id/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	resp, err := h.messageService.MarkRead(ctx, middleware.GetActor(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "mark messages read")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
