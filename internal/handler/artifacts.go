package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/artifact-sync/internal/export"
	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// ArtifactHandler handles artifact endpoints.
type ArtifactHandler struct {
	artifacts *service.ArtifactService
	importer  *service.Importer
	users     *service.UserService
	logger    *logger.Logger
	now       func() time.Time
}

// NewArtifactHandler creates a new artifact handler.
func NewArtifactHandler(artifacts *service.ArtifactService, importer *service.Importer, users *service.UserService, log *logger.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts: artifacts,
		importer:  importer,
		users:     users,
		logger:    log,
		now:       time.Now,
	}
}

// Submit handles POST /api/v1/artifacts. The body is JSON with a photo_url,
// or multipart/form-data with a "photo" file (and optional "audio").
func (h *ArtifactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SubmitArtifactRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if !parseSubmitForm(w, r, &req) {
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.artifacts.Submit(ctx, middleware.GetActor(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "submit artifact")
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func parseSubmitForm(w http.ResponseWriter, r *http.Request, req *model.SubmitArtifactRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadInMem); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return false
	}

	req.PhotoURL = r.FormValue("photo_url")
	req.AudioURL = r.FormValue("audio_url")
	req.UserNotes = r.FormValue("user_notes")
	req.Material = r.FormValue("material")
	req.Country = r.FormValue("country")
	req.FunctionalType = r.FormValue("functional_type")
	req.TimePeriod = r.FormValue("time_period")
	req.EstimatedDate = r.FormValue("estimated_date")

	for name, dst := range map[string]**float64{
		"location_lat": &req.LocationLat,
		"location_lng": &req.LocationLng,
	} {
		raw := strings.TrimSpace(r.FormValue(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+": not a number")
			return false
		}
		*dst = &v
	}

	for name, dst := range map[string]**model.Attachment{
		"photo": &req.Photo,
		"audio": &req.Audio,
	} {
		files := r.MultipartForm.File[name]
		if len(files) == 0 {
			continue
		}
		a, err := readAttachment(files[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		*dst = &a
	}
	return true
}

// filterFromQuery reads an ArtifactFilter from query parameters.
func filterFromQuery(r *http.Request) model.ArtifactFilter {
	q := r.URL.Query()
	return model.ArtifactFilter{
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Priority:  model.Priority(q.Get("priority")),
		DateFrom:  q.Get("date_from"),
		DateTo:    q.Get("date_to"),
		CreatedBy: q.Get("created_by"),
		Type:      q.Get("artifact_type"),
		Sort:      q.Get("sort"),
	}
}

// List handles GET /api/v1/artifacts (admin)
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.artifacts.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list, "total": len(list)})
}

// Mine handles GET /api/v1/artifacts/mine
func (h *ArtifactHandler) Mine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.artifacts.ListMine(ctx, middleware.GetActor(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list, "total": len(list)})
}

// Get handles GET /api/v1/artifacts/:id. Plain users can only read their
// own submissions.
func (h *ArtifactHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	a, err := h.artifacts.Get(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get artifact")
		return
	}
	if a.CreatedBy != middleware.GetActor(ctx) && middleware.GetRole(ctx) != string(model.RoleAdmin) {
		writeServiceError(w, r, h.logger, service.ErrForbidden, "get artifact")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Review handles PUT /api/v1/artifacts/:id/review (admin)
func (h *ArtifactHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req model.ReviewArtifactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reviewer, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	res, err := h.artifacts.Review(r.Context(), reviewer, id, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "review artifact")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Delete handles DELETE /api/v1/artifacts/:id
func (h *ArtifactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	caller, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	if err := h.artifacts.Delete(r.Context(), caller, id); err != nil {
		writeServiceError(w, r, h.logger, err, "delete artifact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteMany handles POST /api/v1/artifacts/delete (admin)
func (h *ArtifactHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	caller, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	n, err := h.artifacts.DeleteMany(r.Context(), caller, req.IDs)
	if err != nil && n == 0 {
		writeServiceError(w, r, h.logger, err, "delete artifacts")
		return
	}

	resp := map[string]any{"deleted": n, "requested": len(req.IDs)}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Dashboard handles GET /api/v1/artifacts/dashboard (admin)
func (h *ArtifactHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.artifacts.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Map handles GET /api/v1/artifacts/map (admin)
func (h *ArtifactHandler) Map(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.artifacts.MapClusters(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load map")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// PublicMap handles GET /api/v1/public/map. No authentication.
func (h *ArtifactHandler) PublicMap(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.artifacts.PublicMap(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "load map")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

// Import handles POST /api/v1/artifacts/import (admin). The payload is the
// raw file body with ?format=, or a multipart "file" whose extension names
// the format.
func (h *ArtifactHandler) Import(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")

	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportPayload)
		f, fh, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing import file")
			return
		}
		defer f.Close()
		if name == "" {
			name = filepath.Ext(fh.Filename)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			writeError(w, http.StatusBadRequest, "failed to read import file")
			return
		}
		data = buf.Bytes()
	} else {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportPayload))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read import body")
			return
		}
		data = b
	}

	format, ok := service.ParseImportFormat(name)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported import format %q", name))
		return
	}

	res, err := h.importer.Import(r.Context(), format, data)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "import artifacts")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Export handles GET /api/v1/artifacts/export (admin). Query: format
// (json, csv, html), include_photos, include_audio, include_priority, and
// the listing filters.
func (h *ArtifactHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := export.Format(strings.ToLower(q.Get("format")))
	if format == "" {
		format = export.FormatCSV
	}
	opts := export.Options{
		IncludePhotos:   q.Get("include_photos") == "true",
		IncludeAudio:    q.Get("include_audio") == "true",
		IncludePriority: q.Get("include_priority") == "true",
	}

	list, err := h.artifacts.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "export artifacts")
		return
	}

	now := h.now()
	var buf bytes.Buffer
	switch format {
	case export.FormatJSON:
		err = export.JSON(&buf, list, opts)
	case export.FormatCSV:
		err = export.CSV(&buf, list, opts)
	case export.FormatHTML:
		err = export.HTML(&buf, list, opts, now)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "export artifacts")
		return
	}

	writeDownload(w, format, export.Filename("artifacts-export", now, format), buf.Bytes())
}

func writeDownload(w http.ResponseWriter, format export.Format, filename string, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
