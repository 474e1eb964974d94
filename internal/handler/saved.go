package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/savedstore"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// SavedHandler serves the caller's saved comparisons and reports.
type SavedHandler struct {
	store  *savedstore.Store
	logger *logger.Logger
}

// NewSavedHandler creates a new saved results handler.
func NewSavedHandler(store *savedstore.Store, log *logger.Logger) *SavedHandler {
	return &SavedHandler{store: store, logger: log}
}

func (h *SavedHandler) kind(w http.ResponseWriter, r *http.Request) (savedstore.Kind, bool) {
	k := savedstore.Kind(chi.URLParam(r, "kind"))
	if !k.Valid() {
		writeError(w, http.StatusNotFound, "unknown saved result kind")
		return "", false
	}
	return k, true
}

// List handles GET /api/v1/saved/:kind
func (h *SavedHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	entries, err := h.store.List(middleware.GetActor(r.Context()), kind)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list saved results")
		return
	}
	if entries == nil {
		entries = []savedstore.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": entries})
}

// Get handles GET /api/v1/saved/:kind/:id
func (h *SavedHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.store.Get(middleware.GetActor(r.Context()), kind, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get saved result")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Delete handles DELETE /api/v1/saved/:kind/:id
func (h *SavedHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(middleware.GetActor(r.Context()), kind, id); err != nil {
		writeServiceError(w, r, h.logger, err, "delete saved result")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
