package model

import (
	"fmt"
	"slices"
	"time"
)

// DefaultGroupName is used for group chats created without a name.
const DefaultGroupName = "Group Chat"

// Conversation is a chat thread between participants, identified by email.
// An announcement conversation only accepts messages from AllowedSenders.
type Conversation struct {
	Record
	Name           string    `json:"name"`
	Participants   []string  `json:"participants"`
	IsGroup        bool      `json:"is_group"`
	IsAnnouncement bool      `json:"is_announcement,omitempty"`
	AllowedSenders []string  `json:"allowed_senders,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// HasParticipant reports whether email is a member of the conversation.
func (c *Conversation) HasParticipant(email string) bool {
	return slices.Contains(c.Participants, email)
}

// CanSend reports whether email may post into the conversation. An
// announcement with no allowed senders is open to every participant.
func (c *Conversation) CanSend(email string) bool {
	if !c.HasParticipant(email) {
		return false
	}
	if !c.IsAnnouncement || len(c.AllowedSenders) == 0 {
		return true
	}
	return slices.Contains(c.AllowedSenders, email)
}

// IsDirectBetween reports whether this is a two-person chat between a and b.
func (c *Conversation) IsDirectBetween(a, b string) bool {
	return !c.IsGroup && !c.IsAnnouncement && len(c.Participants) == 2 &&
		c.HasParticipant(a) && c.HasParticipant(b)
}

// DisplayName renders the conversation title as seen by viewer. names maps
// participant emails to full names; missing entries fall back to the email.
func (c *Conversation) DisplayName(viewer string, names map[string]string) string {
	if c.Name != "" {
		return c.Name
	}

	var others []string
	for _, p := range c.Participants {
		if p != viewer {
			others = append(others, p)
		}
	}

	label := func(email string) string {
		if n := names[email]; n != "" {
			return n
		}
		return email
	}

	switch len(others) {
	case 0:
		return "Me"
	case 1:
		return label(others[0])
	case 2:
		return label(others[0]) + ", " + label(others[1])
	default:
		return fmt.Sprintf("%s, %s +%d", label(others[0]), label(others[1]), len(others)-2)
	}
}

// CreateConversationRequest creates a direct or group chat.
type CreateConversationRequest struct {
	Participants []string `json:"participants"`
	Name         string   `json:"name,omitempty"`
}

// CreateAnnouncementRequest creates an announcement ("information") chat.
type CreateAnnouncementRequest struct {
	Name           string   `json:"name"`
	Participants   []string `json:"participants"`
	AllowedSenders []string `json:"allowed_senders,omitempty"`
}

// UpdateConversationRequest edits a conversation. Nil fields are untouched.
type UpdateConversationRequest struct {
	Name           *string  `json:"name,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	AllowedSenders []string `json:"allowed_senders,omitempty"`
}

// ConversationSummary is a conversation plus its per-viewer view state.
type ConversationSummary struct {
	Conversation
	DisplayName string `json:"display_name"`
	UnreadCount int    `json:"unread_count"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	TotalUnread   int                   `json:"total_unread"`
}
