package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/readstate"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

var (
	allowedContentTypes = map[string]bool{
		"image/jpeg":      true,
		"image/jpg":       true,
		"image/png":       true,
		"image/gif":       true,
		"image/webp":      true,
		"application/pdf": true,
		"text/plain":      true,
		"audio/mpeg":      true,
		"audio/wav":       true,
		"video/mp4":       true,
	}
	allowedExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
		".pdf": true, ".txt": true, ".mp3": true, ".wav": true, ".mp4": true,
	}
)

// MessageService handles chat message operations.
type MessageService struct {
	gw      gateway.Gateway
	convs   *ConversationService
	tracker *readstate.Tracker
	logger  *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(gw gateway.Gateway, convs *ConversationService, tracker *readstate.Tracker, log *logger.Logger) *MessageService {
	return &MessageService{
		gw:      gw,
		convs:   convs,
		tracker: tracker,
		logger:  log,
	}
}

// ValidateAttachment accepts a file whose content type or extension is on
// the allow list.
func ValidateAttachment(a model.Attachment) error {
	ct := strings.ToLower(strings.TrimSpace(a.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext := strings.ToLower(filepath.Ext(a.Name))
	if allowedContentTypes[ct] || allowedExtensions[ext] {
		return nil
	}
	return invalid("attachments", "%s: unsupported file type", a.Name)
}

// Send posts a message as actor. Every check runs before the first write:
// empty sends, announcement permissions and attachment types are rejected
// without touching the backend.
func (s *MessageService) Send(ctx context.Context, actor, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	refs := model.MergeMembers(nil, req.ArtifactReferences...)
	if content == "" && len(req.Attachments) == 0 && len(refs) == 0 {
		return nil, invalid("content", "message is empty")
	}

	conv, err := s.convs.Get(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.CanSend(actor) {
		return nil, fmt.Errorf("only allowed senders can post in this announcement: %w", ErrForbidden)
	}

	for _, a := range req.Attachments {
		if err := ValidateAttachment(a); err != nil {
			return nil, err
		}
	}

	urls := make([]string, 0, len(req.Attachments))
	names := make([]string, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		url, err := s.gw.UploadFile(ctx, a.Name, a.ContentType, a.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", a.Name, err)
		}
		urls = append(urls, url)
		names = append(names, a.Name)
	}

	if content == "" {
		switch {
		case len(urls) > 0:
			content = "(File attachment)"
		default:
			content = fmt.Sprintf("(%d artifact(s) attached)", len(refs))
		}
	}

	msg, err := s.create(ctx, actor, conv.ID, content, urls, names, refs)
	if err != nil {
		return nil, err
	}

	kind := "text"
	switch {
	case len(urls) > 0:
		kind = "attachment"
	case len(refs) > 0:
		kind = "artifact"
	}
	metrics.MessagesTotal.WithLabelValues(kind).Inc()

	s.logger.Debug("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("kind", kind),
	)
	return msg, nil
}

// SendSystem posts a message as actor without the announcement check. Used
// for review notices in direct chats.
func (s *MessageService) SendSystem(ctx context.Context, actor, conversationID, content string, refs []string) (*model.Message, error) {
	msg, err := s.create(ctx, actor, conversationID, content, nil, nil, refs)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("review").Inc()
	return msg, nil
}

func (s *MessageService) create(ctx context.Context, actor, conversationID, content string, urls, names, refs []string) (*model.Message, error) {
	data := map[string]any{
		"conversation_id": conversationID,
		"content":         content,
		"read_by":         []string{actor},
	}
	if len(urls) > 0 {
		data["file_urls"] = urls
		data["file_names"] = names
	}
	if len(refs) > 0 {
		data["artifact_references"] = refs
	}

	msg, err := gateway.CreateAs[model.Message](ctx, s.gw, model.EntityMessage, data)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if err := s.convs.Touch(ctx, conversationID); err != nil {
		s.logger.Warn("message sent but conversation not bumped",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	return msg, nil
}

// List returns a conversation's messages in the order they were sent.
func (s *MessageService) List(ctx context.Context, actor, conversationID string) (*model.ListMessagesResponse, error) {
	if _, err := s.convs.Get(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ListMessagesResponse{
		Messages: msgs,
		Unread:   readstate.UnreadCount(msgs, actor),
	}, nil
}

// Messages returns every message of a conversation, oldest first.
func (s *MessageService) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := gateway.ListAs[model.Message](ctx, s.gw, model.EntityMessage, gateway.Query{
		Filter: map[string]any{"conversation_id": conversationID},
		Sort:   "created_date",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// Recent returns up to limit of the newest messages, newest first.
func (s *MessageService) Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs, err := gateway.ListAs[model.Message](ctx, s.gw, model.EntityMessage, gateway.Query{
		Filter: map[string]any{"conversation_id": conversationID},
		Sort:   "-created_date",
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks every message of the conversation read by actor.
func (s *MessageService) MarkRead(ctx context.Context, actor, conversationID string) (*model.MarkReadResponse, error) {
	if _, err := s.convs.Get(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	n, err := s.tracker.MarkRead(ctx, msgs, actor)
	return &model.MarkReadResponse{Updated: n}, err
}
