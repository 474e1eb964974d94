package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/aitools"
	"github.com/capitalize-ai/artifact-sync/internal/export"
	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/savedstore"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// AIHandler handles the AI tool endpoints: cataloging, comparison,
// reports and analysis conversations.
type AIHandler struct {
	artifacts  *service.ArtifactService
	users      *service.UserService
	cataloger  *aitools.Cataloger
	comparator *aitools.Comparator
	reporter   *aitools.Reporter
	analyzer   *aitools.Analyzer
	saved      *savedstore.Store
	logger     *logger.Logger
}

// AITools groups the AI components.
type AITools struct {
	Cataloger  *aitools.Cataloger
	Comparator *aitools.Comparator
	Reporter   *aitools.Reporter
	Analyzer   *aitools.Analyzer
}

// NewAIHandler creates a new AI handler. saved may be nil, in which case
// save requests fail.
func NewAIHandler(artifacts *service.ArtifactService, users *service.UserService, tools AITools, saved *savedstore.Store, log *logger.Logger) *AIHandler {
	return &AIHandler{
		artifacts:  artifacts,
		users:      users,
		cataloger:  tools.Cataloger,
		comparator: tools.Comparator,
		reporter:   tools.Reporter,
		analyzer:   tools.Analyzer,
		saved:      saved,
		logger:     log,
	}
}

var errSavedStoreDisabled = errors.New("saved results store is not configured")

func (h *AIHandler) save(owner string, kind savedstore.Kind, id string, createdAt time.Time, data any) error {
	if h.saved == nil {
		return errSavedStoreDisabled
	}
	return h.saved.Put(owner, kind, id, createdAt, data)
}

// CatalogSchema handles GET /api/v1/ai/catalog/schema
func (h *AIHandler) CatalogSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cataloger.Schema())
}

// Catalog handles POST /api/v1/ai/catalog/:id (admin)
func (h *AIHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	user, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	a, err := h.artifacts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load artifact")
		return
	}

	res, err := h.cataloger.Catalog(r.Context(), a, user.Settings())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "catalog artifact")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ApplyCatalog handles POST /api/v1/ai/catalog/:id/apply (admin)
func (h *AIHandler) ApplyCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var res model.CatalogResult
	if !decodeJSON(w, r, &res) {
		return
	}

	a, err := h.artifacts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load artifact")
		return
	}

	updated, err := h.cataloger.Apply(r.Context(), a, &res)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "apply catalog result")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Compare handles POST /api/v1/ai/compare (admin)
func (h *AIHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CompareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if n := len(req.ArtifactIDs); n < aitools.MinCompare || n > aitools.MaxCompare {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("select between %d and %d artifacts", aitools.MinCompare, aitools.MaxCompare))
		return
	}
	user, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	list, err := h.artifacts.GetMany(ctx, req.ArtifactIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load artifacts")
		return
	}

	c, err := h.comparator.Compare(ctx, list, user.Settings())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "compare artifacts")
		return
	}

	if req.Save {
		if err := h.save(user.Email, savedstore.KindComparison, c.ID, c.CreatedAt, c); err != nil {
			writeServiceError(w, r, h.logger, err, "save comparison")
			return
		}
	}

	writeJSON(w, http.StatusOK, c)
}

// ExportComparison handles GET /api/v1/saved/comparison/:id/export
func (h *AIHandler) ExportComparison(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if savedstore.Kind(chi.URLParam(r, "kind")) != savedstore.KindComparison {
		writeError(w, http.StatusNotFound, "only comparisons can be exported")
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatTXT
	}
	if h.saved == nil {
		writeServiceError(w, r, h.logger, errSavedStoreDisabled, "export comparison")
		return
	}

	entry, err := h.saved.Get(middleware.GetActor(ctx), savedstore.KindComparison, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load comparison")
		return
	}
	var c model.Comparison
	if err := json.Unmarshal(entry.Data, &c); err != nil {
		writeServiceError(w, r, h.logger, err, "load comparison")
		return
	}

	// Artifacts deleted since the comparison are left out of the header.
	var list []model.Artifact
	for _, aid := range c.ArtifactIDs {
		a, err := h.artifacts.Get(ctx, aid)
		if err != nil {
			continue
		}
		list = append(list, *a)
	}

	var buf bytes.Buffer
	if err := export.Comparison(&buf, export.NewComparisonDoc(&c, list), format); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeDownload(w, format, export.Filename("artifact-comparison", c.CreatedAt, format), buf.Bytes())
}

// Report handles POST /api/v1/ai/report (admin)
func (h *AIHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := aitools.SelectedSections(req.Sections); err != nil {
		writeServiceError(w, r, h.logger, err, "generate report")
		return
	}
	user, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	list, err := h.artifacts.List(ctx, model.ArtifactFilter{})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load artifacts")
		return
	}

	rep, err := h.reporter.Generate(ctx, list, &req, user.Settings())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "generate report")
		return
	}

	if req.Save {
		if err := h.save(user.Email, savedstore.KindReport, rep.ID, rep.CreatedAt, rep); err != nil {
			writeServiceError(w, r, h.logger, err, "save report")
			return
		}
	}

	writeJSON(w, http.StatusOK, rep)
}

// ListAnalyses handles GET /api/v1/ai/analyses
func (h *AIHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.analyzer.List(ctx, middleware.GetActor(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list analyses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": list})
}

// CreateAnalysis handles POST /api/v1/ai/analyses
func (h *AIHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.analyzer.Create(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "create analysis")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// GetAnalysis handles GET /api/v1/ai/analyses/:id
func (h *AIHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	conv, err := h.analyzer.Get(ctx, middleware.GetActor(ctx), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get analysis")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// RenameAnalysis handles PUT /api/v1/ai/analyses/:id
func (h *AIHandler) RenameAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.analyzer.Rename(ctx, middleware.GetActor(ctx), id, req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "rename analysis")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteAnalysis handles DELETE /api/v1/ai/analyses/:id
func (h *AIHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.analyzer.Delete(ctx, middleware.GetActor(ctx), id); err != nil {
		writeServiceError(w, r, h.logger, err, "delete analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendAnalysis handles POST /api/v1/ai/analyses/:id/messages. The reply
// streams as SSE token events followed by done (with the saved
// conversation) or error.
func (h *AIHandler) SendAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req model.AnalysisMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	actor := user.Email

	// Referenced artifact photos go to the model with the turn.
	var photos []string
	if len(req.ArtifactIDs) > 0 {
		list, err := h.artifacts.GetMany(ctx, req.ArtifactIDs)
		if err != nil {
			writeServiceError(w, r, h.logger, err, "load artifacts")
			return
		}
		for _, a := range list {
			if a.PhotoURL != "" {
				photos = append(photos, a.PhotoURL)
			}
		}
	}

	// Validate ownership before switching to the event stream.
	if _, err := h.analyzer.Get(ctx, actor, id); err != nil {
		writeServiceError(w, r, h.logger, err, "get analysis")
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		return
	}

	conv, err := h.analyzer.Send(ctx, actor, id, &req, photos, user.Settings(), func(token string, index int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sse.send(string(model.EventToken), &model.TokenEvent{Token: token, Index: index})
	})
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Warn("analysis reply failed", zap.String("analysis_id", id), zap.Error(err))
		sse.send(string(model.EventError), &model.ErrorEvent{
			Code:    "stream_error",
			Message: "Failed to get a reply, please try again",
		})
		return
	}

	sse.send(string(model.EventDone), conv)
}
