package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// Valid AI settings values.
var (
	PreferredModels = []string{"default", "fast", "detailed", "creative"}
	AnalysisDepths  = []string{"brief", "standard", "detailed", "exhaustive"}
)

// UserService handles user records and per-user settings.
type UserService struct {
	gw     gateway.Gateway
	logger *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(gw gateway.Gateway, log *logger.Logger) *UserService {
	return &UserService{gw: gw, logger: log}
}

// Me returns the user behind the context credentials.
func (s *UserService) Me(ctx context.Context) (*model.User, error) {
	u, err := s.gw.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// List returns every user, sorted by email.
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	users, err := gateway.ListAs[model.User](ctx, s.gw, model.EntityUser, gateway.Query{Sort: "email"})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Directory maps emails to display names. When the user list is not
// readable (plain users may lack access), it falls back to the
// participants of conversations, named by email.
func (s *UserService) Directory(ctx context.Context, conversations []model.Conversation) map[string]string {
	names := make(map[string]string)
	users, err := s.List(ctx)
	if err == nil {
		for _, u := range users {
			names[u.Email] = u.Name()
		}
		return names
	}

	s.logger.Debug("user directory unavailable, using participants", zap.Error(err))
	for _, c := range conversations {
		for _, p := range c.Participants {
			if _, ok := names[p]; !ok {
				names[p] = p
			}
		}
	}
	return names
}

// Contacts lists the emails a user can start a chat with.
func (s *UserService) Contacts(ctx context.Context, actor string, conversations []model.Conversation) []string {
	var out []string
	for email := range s.Directory(ctx, conversations) {
		if email != actor {
			out = append(out, email)
		}
	}
	sort.Strings(out)
	return out
}

// SetRole changes a user's role. Admins cannot demote themselves.
func (s *UserService) SetRole(ctx context.Context, caller *model.User, userID string, role model.Role) (*model.User, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	if role != model.RoleAdmin && role != model.RoleUser {
		return nil, invalid("role", "must be %q or %q", model.RoleAdmin, model.RoleUser)
	}
	if userID == caller.ID && role != model.RoleAdmin {
		return nil, invalid("role", "cannot remove your own admin role")
	}

	u, err := gateway.UpdateAs[model.User](ctx, s.gw, model.EntityUser, userID, map[string]any{"role": role})
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	s.logger.Info("user role changed",
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.String("by", caller.Email),
	)
	return u, nil
}

// Delete removes a user account. Admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, caller *model.User, userID string) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	if userID == caller.ID {
		return invalid("id", "cannot delete your own account")
	}
	if err := s.gw.Delete(ctx, model.EntityUser, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.logger.Info("user deleted", zap.String("user_id", userID), zap.String("by", caller.Email))
	return nil
}

// UpdatePreferences stores the caller's notification preferences.
func (s *UserService) UpdatePreferences(ctx context.Context, prefs model.NotificationPreferences) (*model.User, error) {
	u, err := s.gw.UpdateCurrentUser(ctx, map[string]any{"notification_preferences": prefs})
	if err != nil {
		return nil, fmt.Errorf("failed to update notification preferences: %w", err)
	}
	return u, nil
}

// UpdateAISettings validates and stores the caller's AI settings.
func (s *UserService) UpdateAISettings(ctx context.Context, settings model.AISettings) (*model.User, error) {
	if err := ValidateAISettings(settings); err != nil {
		return nil, err
	}
	u, err := s.gw.UpdateCurrentUser(ctx, map[string]any{"ai_settings": settings})
	if err != nil {
		return nil, fmt.Errorf("failed to update AI settings: %w", err)
	}
	return u, nil
}

// ValidateAISettings checks enumerated settings values.
func ValidateAISettings(s model.AISettings) error {
	var errs []error
	if !oneOf(s.PreferredModel, PreferredModels) {
		errs = append(errs, invalid("preferred_model", "unknown value %q", s.PreferredModel))
	}
	if !oneOf(s.AnalysisDepth, AnalysisDepths) {
		errs = append(errs, invalid("analysis_depth", "unknown value %q", s.AnalysisDepth))
	}
	return errors.Join(errs...)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
