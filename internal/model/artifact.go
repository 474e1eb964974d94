package model

import (
	"strings"
)

// Priority is the admin triage level of an artifact.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists the valid priorities in ascending order.
var Priorities = []Priority{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// ParsePriority normalizes s, returning PriorityNone for empty input.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityNone, true
	}
	for _, v := range Priorities {
		if v == p {
			return p, true
		}
	}
	return PriorityNone, false
}

// UncategorizedType is the artifact type used when none is known.
const UncategorizedType = "uncategorized"

// Artifact is a field find submitted by a user.
type Artifact struct {
	Record
	ArtifactCode   string   `json:"artifact_code"`
	PhotoURL       string   `json:"photo_url"`
	AudioURL       string   `json:"audio_url,omitempty"`
	LocationLat    *float64 `json:"location_lat,omitempty"`
	LocationLng    *float64 `json:"location_lng,omitempty"`
	UserNotes      string   `json:"user_notes,omitempty"`
	AdminNotes     string   `json:"admin_notes,omitempty"`
	ArtifactType   string   `json:"artifact_type,omitempty"`
	FunctionalType string   `json:"functional_type,omitempty"`
	TimePeriod     string   `json:"time_period,omitempty"`
	Material       string   `json:"material,omitempty"`
	Country        string   `json:"country,omitempty"`
	EstimatedDate  string   `json:"estimated_date,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	IsInteresting  bool     `json:"is_interesting"`
	AdminReviewed  bool     `json:"admin_reviewed"`
}

// HasLocation reports whether both coordinates are set.
func (a *Artifact) HasLocation() bool {
	return a.LocationLat != nil && a.LocationLng != nil
}

// Type returns the artifact type or UncategorizedType.
func (a *Artifact) Type() string {
	if a.ArtifactType == "" {
		return UncategorizedType
	}
	return a.ArtifactType
}

// PriorityOrNone returns the priority, defaulting to PriorityNone.
func (a *Artifact) PriorityOrNone() Priority {
	if a.Priority == "" {
		return PriorityNone
	}
	return a.Priority
}

// SubmitArtifactRequest is a single artifact submission.
type SubmitArtifactRequest struct {
	PhotoURL       string      `json:"photo_url,omitempty"`
	AudioURL       string      `json:"audio_url,omitempty"`
	Photo          *Attachment `json:"-"`
	Audio          *Attachment `json:"-"`
	LocationLat    *float64    `json:"location_lat,omitempty"`
	LocationLng    *float64    `json:"location_lng,omitempty"`
	UserNotes      string      `json:"user_notes,omitempty"`
	Material       string      `json:"material,omitempty"`
	Country        string      `json:"country,omitempty"`
	FunctionalType string      `json:"functional_type,omitempty"`
	TimePeriod     string      `json:"time_period,omitempty"`
	EstimatedDate  string      `json:"estimated_date,omitempty"`
}

// ReviewArtifactRequest is an admin review of an artifact.
type ReviewArtifactRequest struct {
	AdminNotes    string   `json:"admin_notes"`
	IsInteresting bool     `json:"is_interesting"`
	Priority      Priority `json:"priority"`
}

// ArtifactFilter narrows an artifact listing. Zero values match everything.
type ArtifactFilter struct {
	Search    string   `json:"search,omitempty"`
	Status    string   `json:"status,omitempty"` // all, reviewed, unreviewed, interesting
	Priority  Priority `json:"priority,omitempty"`
	DateFrom  string   `json:"date_from,omitempty"` // YYYY-MM-DD, inclusive
	DateTo    string   `json:"date_to,omitempty"`   // YYYY-MM-DD, inclusive
	CreatedBy string   `json:"created_by,omitempty"`
	Type      string   `json:"artifact_type,omitempty"`
	Sort      string   `json:"sort,omitempty"`
}

// DashboardStats summarizes the collection for admins.
type DashboardStats struct {
	TotalArtifacts   int              `json:"total_artifacts"`
	TotalUsers       int              `json:"total_users"`
	PendingReview    int              `json:"pending_review"`
	Interesting      int              `json:"interesting"`
	WithLocation     int              `json:"with_location"`
	RecentSubmission int              `json:"recent_submissions"`
	Daily            []DailyCount     `json:"daily"`
	TopContributors  []ContributorRow `json:"top_contributors"`
}

// DailyCount is the number of submissions on one day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ContributorRow is a contributor and their submission count.
type ContributorRow struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

// MapCluster groups artifacts sharing rounded coordinates.
type MapCluster struct {
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	Color       string     `json:"color"`
	ArtifactIDs []string   `json:"artifact_ids"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	PopupHTML   string     `json:"popup_html"`
}
