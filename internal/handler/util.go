package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/aitools"
	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/savedstore"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	maxJSONBody      = 1 << 20
	maxUploadBody    = 64 << 20
	maxUploadInMem   = 8 << 20
	maxImportPayload = 16 << 20
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps service and gateway errors to HTTP responses.
// Unexpected errors are logged and reported as "failed to <what>".
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error, what string) {
	switch {
	case service.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, gateway.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "authentication required",
			"redirect": middleware.PublicRedirect,
		})
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, savedstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, gateway.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, "not supported by the backend")
	case errors.Is(err, aitools.ErrInvalidOutput):
		middleware.RequestLogger(r.Context(), log).Warn("unusable AI output", zap.Error(err))
		writeError(w, http.StatusBadGateway, "the AI returned an unusable answer, please try again")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		middleware.RequestLogger(r.Context(), log).Error("failed to "+what, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+what)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// idParam returns a validated URL parameter.
func idParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// currentUser loads the caller's user record.
func currentUser(w http.ResponseWriter, r *http.Request, users *service.UserService, log *logger.Logger) (*model.User, bool) {
	u, err := users.Me(r.Context())
	if err != nil {
		writeServiceError(w, r, log, err, "load user")
		return nil, false
	}
	return u, true
}

// readAttachment reads one uploaded multipart file.
func readAttachment(fh *multipart.FileHeader) (model.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return model.Attachment{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// sseWriter streams server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE writes the SSE headers. It fails when the writer cannot flush.
func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
