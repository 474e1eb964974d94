// Package service provides business logic for the artifact database: chat,
// artifacts, bulk import and user settings.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/readstate"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

// ConversationService handles conversation operations.
type ConversationService struct {
	gw      gateway.Gateway
	users   *UserService
	tracker *readstate.Tracker
	logger  *logger.Logger
	now     func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(gw gateway.Gateway, users *UserService, tracker *readstate.Tracker, log *logger.Logger) *ConversationService {
	return &ConversationService{
		gw:      gw,
		users:   users,
		tracker: tracker,
		logger:  log,
		now:     time.Now,
	}
}

// ListForUser returns the conversations actor participates in, most
// recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, actor string) ([]model.Conversation, error) {
	convs, err := gateway.ListAs[model.Conversation](ctx, s.gw, model.EntityConversation, gateway.Query{
		Filter: map[string]any{"participants": actor},
		Sort:   "-last_message_at",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// List returns actor's conversations with display names and unread counts.
func (s *ConversationService) List(ctx context.Context, actor string) (*model.ListConversationsResponse, error) {
	convs, err := s.ListForUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.Summarize(ctx, actor, convs), nil
}

// Summarize attaches display names and unread counts to convs.
func (s *ConversationService) Summarize(ctx context.Context, actor string, convs []model.Conversation) *model.ListConversationsResponse {
	names := s.users.Directory(ctx, convs)
	counts := s.tracker.Counts(ctx, convs, actor)

	out := &model.ListConversationsResponse{
		Conversations: make([]model.ConversationSummary, 0, len(convs)),
		TotalUnread:   counts.Total,
	}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, model.ConversationSummary{
			Conversation: c,
			DisplayName:  c.DisplayName(actor, names),
			UnreadCount:  counts.ByConversation[c.ID],
		})
	}
	return out
}

// Get returns a conversation actor participates in.
func (s *ConversationService) Get(ctx context.Context, actor, id string) (*model.Conversation, error) {
	c, err := gateway.GetAs[model.Conversation](ctx, s.gw, model.EntityConversation, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actor) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Create starts a direct or group chat. The creator is always a
// participant; selecting more than one other user makes a group.
func (s *ConversationService) Create(ctx context.Context, actor string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	selected := model.MergeMembers(nil, req.Participants...)
	if len(selected) == 0 {
		return nil, invalid("participants", "select at least one participant")
	}

	isGroup := len(selected) > 1
	name := strings.TrimSpace(req.Name)
	if isGroup && name == "" {
		name = model.DefaultGroupName
	}
	if !isGroup {
		name = ""
		if existing, err := s.findDirect(ctx, actor, selected[0]); err == nil && existing != nil {
			return existing, nil
		}
	}

	c, err := gateway.CreateAs[model.Conversation](ctx, s.gw, model.EntityConversation, map[string]any{
		"name":            name,
		"participants":    model.MergeMembers(selected, actor),
		"is_group":        isGroup,
		"last_message_at": s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", c.ID),
		zap.Bool("group", isGroup),
		zap.Int("participants", len(c.Participants)),
	)
	return c, nil
}

// CreateAnnouncement creates an information chat where only the allowed
// senders may post. Without explicit senders only the creator may post.
func (s *ConversationService) CreateAnnouncement(ctx context.Context, actor string, req *model.CreateAnnouncementRequest) (*model.Conversation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name", "announcement name is required")
	}
	selected := model.MergeMembers(nil, req.Participants...)
	if len(selected) == 0 {
		return nil, invalid("participants", "select at least one participant")
	}
	participants := model.MergeMembers(selected, actor)

	senders := model.MergeMembers(nil, req.AllowedSenders...)
	for _, snd := range senders {
		if !slices.Contains(participants, snd) {
			return nil, invalid("allowed_senders", "%s is not a participant", snd)
		}
	}
	senders = model.MergeMembers(senders, actor)

	c, err := gateway.CreateAs[model.Conversation](ctx, s.gw, model.EntityConversation, map[string]any{
		"name":            name,
		"participants":    participants,
		"is_group":        true,
		"is_announcement": true,
		"allowed_senders": senders,
		"last_message_at": s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create announcement: %w", err)
	}

	s.logger.Info("announcement created",
		zap.String("conversation_id", c.ID),
		zap.Int("participants", len(participants)),
		zap.Int("senders", len(senders)),
	)
	return c, nil
}

// Update applies the non-nil parts of req. Only participants may edit; the
// conversation's creator always stays a participant and an allowed sender.
func (s *ConversationService) Update(ctx context.Context, actor, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalid("name", "name cannot be empty")
		}
		patch["name"] = name
	}

	participants := c.Participants
	if req.Participants != nil {
		participants = model.MergeMembers(req.Participants, c.CreatedBy)
		if c.IsGroup && len(participants) < 2 {
			return nil, invalid("participants", "a group needs at least two participants")
		}
		patch["participants"] = participants
	}

	if req.AllowedSenders != nil || (req.Participants != nil && c.IsAnnouncement) {
		if !c.IsAnnouncement {
			return nil, invalid("allowed_senders", "only announcements have allowed senders")
		}
		senders := c.AllowedSenders
		if req.AllowedSenders != nil {
			senders = req.AllowedSenders
		}
		var kept []string
		for _, snd := range senders {
			if slices.Contains(participants, snd) {
				kept = append(kept, snd)
			}
		}
		patch["allowed_senders"] = model.MergeMembers(kept, c.CreatedBy)
	}

	if len(patch) == 0 {
		return c, nil
	}

	updated, err := gateway.UpdateAs[model.Conversation](ctx, s.gw, model.EntityConversation, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return updated, nil
}

// Delete removes a conversation and its messages. Messages are deleted one
// by one; failures are counted and reported but do not stop the rest.
func (s *ConversationService) Delete(ctx context.Context, actor, id string) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}

	msgs, err := gateway.ListAs[model.Message](ctx, s.gw, model.EntityMessage, gateway.Query{
		Filter: map[string]any{"conversation_id": id},
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	var errs []error
	for _, m := range msgs {
		if err := s.gw.Delete(ctx, model.EntityMessage, m.ID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
		}
	}
	if len(errs) > 0 {
		s.logger.Warn("some messages could not be deleted",
			zap.String("conversation_id", id),
			zap.Int("failed", len(errs)),
			zap.Int("total", len(msgs)),
		)
		return fmt.Errorf("failed to delete %d of %d messages: %w", len(errs), len(msgs), errors.Join(errs...))
	}

	if err := s.gw.Delete(ctx, model.EntityConversation, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", id), zap.Int("messages", len(msgs)))
	return nil
}

// Touch bumps last_message_at so the conversation sorts first.
func (s *ConversationService) Touch(ctx context.Context, id string) error {
	if _, err := s.gw.Update(ctx, model.EntityConversation, id, map[string]any{
		"last_message_at": s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to update last message time: %w", err)
	}
	return nil
}

// FindOrCreateDirect returns the two-person chat between a and b, creating
// it when missing.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	c, err := s.findDirect(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	c, err = gateway.CreateAs[model.Conversation](ctx, s.gw, model.EntityConversation, map[string]any{
		"name":            "",
		"participants":    []string{a, b},
		"is_group":        false,
		"last_message_at": s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create direct conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationService) findDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	convs, err := s.ListForUser(ctx, a)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].IsDirectBetween(a, b) {
			return &convs[i], nil
		}
	}
	return nil, nil
}
