package model

import (
	"encoding/json"
)

// Role is the user's access level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Category is a notification category toggled in user preferences.
type Category string

const (
	CategoryChatMessages    Category = "chat_messages"
	CategoryArtifactReviews Category = "artifact_reviews"
)

// User is an account known to the backend. Email is the actor identifier.
type User struct {
	Record
	Email                   string                   `json:"email"`
	FullName                string                   `json:"full_name,omitempty"`
	Role                    Role                     `json:"role"`
	NotificationPreferences *NotificationPreferences `json:"notification_preferences,omitempty"`
	AISettings              *AISettings              `json:"ai_settings,omitempty"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Name returns the full name, falling back to the email.
func (u *User) Name() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// Preferences returns the user's preferences with defaults applied.
func (u *User) Preferences() NotificationPreferences {
	if u.NotificationPreferences == nil {
		return DefaultPreferences()
	}
	return *u.NotificationPreferences
}

// Settings returns the user's AI settings with defaults applied.
func (u *User) Settings() AISettings {
	if u.AISettings == nil {
		return DefaultAISettings()
	}
	return *u.AISettings
}

// NotificationPreferences are the per-user notification toggles. Keys
// missing from stored JSON default to enabled.
type NotificationPreferences struct {
	DesktopEnabled  bool `json:"desktop_notifications_enabled"`
	ChatMessages    bool `json:"chat_messages"`
	ArtifactReviews bool `json:"artifact_reviews"`
}

// DefaultPreferences enables everything.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{DesktopEnabled: true, ChatMessages: true, ArtifactReviews: true}
}

// UnmarshalJSON starts from the defaults so absent keys stay enabled.
func (p *NotificationPreferences) UnmarshalJSON(b []byte) error {
	type plain NotificationPreferences
	v := plain(DefaultPreferences())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = NotificationPreferences(v)
	return nil
}

// Allows reports whether both the global toggle and the category toggle
// are on.
func (p NotificationPreferences) Allows(c Category) bool {
	if !p.DesktopEnabled {
		return false
	}
	switch c {
	case CategoryChatMessages:
		return p.ChatMessages
	case CategoryArtifactReviews:
		return p.ArtifactReviews
	default:
		return true
	}
}

// AISettings tune the prompts sent on the user's behalf.
type AISettings struct {
	PreferredModel     string          `json:"preferred_model"`
	AnalysisDepth      string          `json:"analysis_depth"`
	CustomInstructions string          `json:"custom_instructions,omitempty"`
	ReportTemplates    ReportTemplates `json:"report_templates"`
}

// ReportTemplates toggles the report layouts offered to the user.
type ReportTemplates struct {
	Summary  bool `json:"summary"`
	Detailed bool `json:"detailed"`
	Brief    bool `json:"brief"`
}

// DefaultAISettings mirrors what a user sees before saving settings.
func DefaultAISettings() AISettings {
	return AISettings{
		PreferredModel:  "default",
		AnalysisDepth:   "detailed",
		ReportTemplates: ReportTemplates{Summary: true, Detailed: true, Brief: true},
	}
}

// UpdateRoleRequest changes a user's role.
type UpdateRoleRequest struct {
	Role Role `json:"role"`
}
