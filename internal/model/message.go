package model

import "slices"

// Message is a chat message. CreatedBy is the author's email.
type Message struct {
	Record
	ConversationID     string   `json:"conversation_id"`
	Content            string   `json:"content"`
	ReadBy             []string `json:"read_by"`
	FileURLs           []string `json:"file_urls,omitempty"`
	FileNames          []string `json:"file_names,omitempty"`
	ArtifactReferences []string `json:"artifact_references,omitempty"`
}

// Author returns the email of the message author.
func (m *Message) Author() string {
	return m.CreatedBy
}

// IsReadBy reports whether actor is in the read set.
func (m *Message) IsReadBy(actor string) bool {
	return slices.Contains(m.ReadBy, actor)
}

// UnreadFor reports whether the message counts as unread for actor: it was
// authored by someone else and actor has not read it.
func (m *Message) UnreadFor(actor string) bool {
	return m.CreatedBy != actor && !m.IsReadBy(actor)
}

// Attachment is a file to upload alongside a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// SendMessageRequest is the request to post a chat message.
type SendMessageRequest struct {
	Content            string       `json:"content"`
	ArtifactReferences []string     `json:"artifact_references,omitempty"`
	Attachments        []Attachment `json:"-"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Unread   int       `json:"unread"`
}

// MarkReadResponse reports how many messages were marked read.
type MarkReadResponse struct {
	Updated int `json:"updated"`
}
