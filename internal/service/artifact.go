package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

const dayLayout = "2006-01-02"

// ArtifactService handles artifact submission, review and reporting.
type ArtifactService struct {
	gw     gateway.Gateway
	convs  *ConversationService
	msgs   *MessageService
	logger *logger.Logger
	now    func() time.Time
}

// NewArtifactService creates a new artifact service.
func NewArtifactService(gw gateway.Gateway, convs *ConversationService, msgs *MessageService, log *logger.Logger) *ArtifactService {
	return &ArtifactService{
		gw:     gw,
		convs:  convs,
		msgs:   msgs,
		logger: log,
		now:    time.Now,
	}
}

// NewArtifactCode returns a code like ART-LZ3K8F2A-9QX1: the submission
// time in base 36 and four random base 36 characters.
func NewArtifactCode(now time.Time) string {
	const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = digits[rand.IntN(len(digits))]
	}
	return "ART-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + "-" + string(suffix)
}

// Submit stores a new artifact. A photo is required, either as a URL or as
// an attachment to upload.
func (s *ArtifactService) Submit(ctx context.Context, actor string, req *model.SubmitArtifactRequest) (*model.Artifact, error) {
	if req.PhotoURL == "" && (req.Photo == nil || len(req.Photo.Data) == 0) {
		return nil, invalid("photo", "a photo is required")
	}
	if (req.LocationLat == nil) != (req.LocationLng == nil) {
		return nil, invalid("location", "latitude and longitude must be given together")
	}
	if req.Photo != nil {
		if err := ValidateAttachment(*req.Photo); err != nil {
			return nil, err
		}
	}
	if req.Audio != nil {
		if err := ValidateAttachment(*req.Audio); err != nil {
			return nil, err
		}
	}

	photoURL := req.PhotoURL
	if req.Photo != nil && len(req.Photo.Data) > 0 {
		url, err := s.gw.UploadFile(ctx, req.Photo.Name, req.Photo.ContentType, req.Photo.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload photo: %w", err)
		}
		photoURL = url
	}
	audioURL := req.AudioURL
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		url, err := s.gw.UploadFile(ctx, req.Audio.Name, req.Audio.ContentType, req.Audio.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload audio: %w", err)
		}
		audioURL = url
	}

	data := map[string]any{
		"artifact_code":  NewArtifactCode(s.now()),
		"photo_url":      photoURL,
		"user_notes":     strings.TrimSpace(req.UserNotes),
		"admin_reviewed": false,
		"is_interesting": false,
		"priority":       model.PriorityNone,
	}
	if audioURL != "" {
		data["audio_url"] = audioURL
	}
	if req.LocationLat != nil {
		data["location_lat"] = *req.LocationLat
		data["location_lng"] = *req.LocationLng
	}
	for k, v := range map[string]string{
		"material":        req.Material,
		"country":         req.Country,
		"functional_type": req.FunctionalType,
		"time_period":     req.TimePeriod,
		"estimated_date":  req.EstimatedDate,
	} {
		if v != "" {
			data[k] = v
		}
	}

	a, err := gateway.CreateAs[model.Artifact](ctx, s.gw, model.EntityArtifact, data)
	if err != nil {
		return nil, fmt.Errorf("failed to submit artifact: %w", err)
	}
	metrics.ArtifactsTotal.WithLabelValues("submitted").Inc()
	s.logger.Info("artifact submitted",
		zap.String("artifact_id", a.ID),
		zap.String("code", a.ArtifactCode),
		zap.Bool("location", a.HasLocation()),
	)
	return a, nil
}

// Get returns an artifact by id.
func (s *ArtifactService) Get(ctx context.Context, id string) (*model.Artifact, error) {
	return gateway.GetAs[model.Artifact](ctx, s.gw, model.EntityArtifact, id)
}

// GetMany returns the artifacts with the given ids, in order.
func (s *ArtifactService) GetMany(ctx context.Context, ids []string) ([]model.Artifact, error) {
	out := make([]model.Artifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", id, err)
		}
		out = append(out, *a)
	}
	return out, nil
}

// List returns artifacts matching f, sorted by f.Sort (default newest
// first).
func (s *ArtifactService) List(ctx context.Context, f model.ArtifactFilter) ([]model.Artifact, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	sortBy := f.Sort
	if sortBy == "" {
		sortBy = "-created_date"
	}
	all, err := gateway.ListAs[model.Artifact](ctx, s.gw, model.EntityArtifact, gateway.Query{Sort: sortBy})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return FilterArtifacts(all, f), nil
}

// ListMine returns the artifacts submitted by actor, newest first.
func (s *ArtifactService) ListMine(ctx context.Context, actor string) ([]model.Artifact, error) {
	out, err := gateway.ListAs[model.Artifact](ctx, s.gw, model.EntityArtifact, gateway.Query{
		Filter: map[string]any{"created_by": actor},
		Sort:   "-created_date",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return out, nil
}

func validateFilter(f model.ArtifactFilter) error {
	switch f.Status {
	case "", "all", "reviewed", "unreviewed", "interesting":
	default:
		return invalid("status", "unknown status %q", f.Status)
	}
	if f.Priority != "" && f.Priority != "all" {
		if _, ok := model.ParsePriority(string(f.Priority)); !ok {
			return invalid("priority", "unknown priority %q", f.Priority)
		}
	}
	for field, v := range map[string]string{"date_from": f.DateFrom, "date_to": f.DateTo} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dayLayout, v); err != nil {
			return invalid(field, "expected YYYY-MM-DD")
		}
	}
	return nil
}

// FilterArtifacts applies f to list, keeping order. Dates compare by UTC
// day, inclusive at both ends.
func FilterArtifacts(list []model.Artifact, f model.ArtifactFilter) []model.Artifact {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]model.Artifact, 0, len(list))
	for _, a := range list {
		if search != "" &&
			!strings.Contains(strings.ToLower(a.ArtifactCode), search) &&
			!strings.Contains(strings.ToLower(a.UserNotes), search) &&
			!strings.Contains(strings.ToLower(a.CreatedBy), search) &&
			!strings.Contains(strings.ToLower(a.AdminNotes), search) {
			continue
		}
		switch f.Status {
		case "reviewed":
			if !a.AdminReviewed {
				continue
			}
		case "unreviewed":
			if a.AdminReviewed {
				continue
			}
		case "interesting":
			if !a.IsInteresting {
				continue
			}
		}
		if f.Priority != "" && f.Priority != "all" && a.PriorityOrNone() != f.Priority {
			continue
		}
		day := a.CreatedDate.UTC().Format(dayLayout)
		if f.DateFrom != "" && day < f.DateFrom {
			continue
		}
		if f.DateTo != "" && day > f.DateTo {
			continue
		}
		if f.CreatedBy != "" && a.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Type != "" && f.Type != "all" && a.ArtifactType != f.Type {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ReviewResult is the outcome of an admin review.
type ReviewResult struct {
	Artifact    *model.Artifact `json:"artifact"`
	Notified    bool            `json:"notified"`
	NotifyError string          `json:"notify_error,omitempty"`
}

// Review records an admin review. When the artifact was newly marked
// interesting, or the admin notes changed, the submitter is told through a
// direct chat message, unless they disabled review notifications. A failed
// notice does not fail the review.
func (s *ArtifactService) Review(ctx context.Context, reviewer *model.User, id string, req *model.ReviewArtifactRequest) (*ReviewResult, error) {
	if !reviewer.IsAdmin() {
		return nil, ErrForbidden
	}
	priority, ok := model.ParsePriority(string(req.Priority))
	if !ok {
		return nil, invalid("priority", "unknown priority %q", req.Priority)
	}

	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.AdminNotes)
	updated, err := gateway.UpdateAs[model.Artifact](ctx, s.gw, model.EntityArtifact, id, map[string]any{
		"admin_notes":    notes,
		"is_interesting": req.IsInteresting,
		"priority":       priority,
		"admin_reviewed": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to review artifact: %w", err)
	}
	metrics.ArtifactsTotal.WithLabelValues("reviewed").Inc()

	res := &ReviewResult{Artifact: updated}
	newlyInteresting := req.IsInteresting && !old.IsInteresting
	notesChanged := notes != "" && notes != old.AdminNotes
	if !(newlyInteresting || notesChanged) || old.CreatedBy == "" || old.CreatedBy == reviewer.Email {
		return res, nil
	}

	notified, err := s.notifySubmitter(ctx, reviewer, updated, newlyInteresting)
	if err != nil {
		s.logger.Warn("artifact reviewed but notice failed",
			zap.String("artifact_id", id),
			zap.String("submitter", old.CreatedBy),
			zap.Error(err),
		)
		res.NotifyError = err.Error()
		return res, nil
	}
	res.Notified = notified
	return res, nil
}

func (s *ArtifactService) notifySubmitter(ctx context.Context, reviewer *model.User, a *model.Artifact, interesting bool) (bool, error) {
	prefs := model.DefaultPreferences()
	users, err := gateway.ListAs[model.User](ctx, s.gw, model.EntityUser, gateway.Query{
		Filter: map[string]any{"email": a.CreatedBy},
		Limit:  1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to load submitter: %w", err)
	}
	if len(users) == 1 {
		prefs = users[0].Preferences()
	}
	if !prefs.Allows(model.CategoryArtifactReviews) {
		return false, nil
	}

	conv, err := s.convs.FindOrCreateDirect(ctx, reviewer.Email, a.CreatedBy)
	if err != nil {
		return false, err
	}

	var b strings.Builder
	if interesting {
		fmt.Fprintf(&b, "🌟 Great news! Your artifact %s has been marked as interesting!\n\n", a.ArtifactCode)
	} else {
		fmt.Fprintf(&b, "📝 Your artifact %s has been reviewed.\n\n", a.ArtifactCode)
	}
	if a.AdminNotes != "" {
		fmt.Fprintf(&b, "Admin notes: %s", a.AdminNotes)
	}

	if _, err := s.msgs.SendSystem(ctx, reviewer.Email, conv.ID, b.String(), []string{a.ID}); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an artifact. Only its submitter or an admin may delete.
func (s *ArtifactService) Delete(ctx context.Context, caller *model.User, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() && a.CreatedBy != caller.Email {
		return ErrForbidden
	}
	if err := s.gw.Delete(ctx, model.EntityArtifact, id); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	metrics.ArtifactsTotal.WithLabelValues("deleted").Inc()
	s.logger.Info("artifact deleted", zap.String("artifact_id", id), zap.String("by", caller.Email))
	return nil
}

// DeleteMany deletes each id independently and reports how many succeeded.
func (s *ArtifactService) DeleteMany(ctx context.Context, caller *model.User, ids []string) (int, error) {
	var (
		deleted int
		errs    []error
	)
	for _, id := range ids {
		if err := s.Delete(ctx, caller, id); err != nil {
			errs = append(errs, fmt.Errorf("artifact %s: %w", id, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Dashboard computes the admin overview.
func (s *ArtifactService) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	artifacts, err := gateway.ListAs[model.Artifact](ctx, s.gw, model.EntityArtifact, gateway.Query{Sort: "-created_date"})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	users, err := gateway.ListAs[model.User](ctx, s.gw, model.EntityUser, gateway.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ComputeDashboard(artifacts, len(users), s.now()), nil
}

// ComputeDashboard derives the dashboard from a full artifact list.
func ComputeDashboard(artifacts []model.Artifact, users int, now time.Time) *model.DashboardStats {
	st := &model.DashboardStats{TotalArtifacts: len(artifacts), TotalUsers: users}

	now = now.UTC()
	weekAgo := now.AddDate(0, 0, -7)
	perDay := make(map[string]int)
	perUser := make(map[string]int)

	for _, a := range artifacts {
		if !a.AdminReviewed {
			st.PendingReview++
		}
		if a.IsInteresting {
			st.Interesting++
		}
		if a.HasLocation() {
			st.WithLocation++
		}
		if !a.CreatedDate.Before(weekAgo) {
			st.RecentSubmission++
		}
		perDay[a.CreatedDate.UTC().Format(dayLayout)]++
		if a.CreatedBy != "" {
			perUser[a.CreatedBy]++
		}
	}

	for i := 6; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(dayLayout)
		st.Daily = append(st.Daily, model.DailyCount{Date: day, Count: perDay[day]})
	}

	for email, n := range perUser {
		st.TopContributors = append(st.TopContributors, model.ContributorRow{Email: email, Count: n})
	}
	sort.Slice(st.TopContributors, func(i, j int) bool {
		a, b := st.TopContributors[i], st.TopContributors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Email < b.Email
	})
	if len(st.TopContributors) > 5 {
		st.TopContributors = st.TopContributors[:5]
	}
	return st
}
