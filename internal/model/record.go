// Package model defines the entities exchanged with the backend gateway.
package model

import (
	"time"
)

// Entity names as known to the backend gateway.
const (
	EntityConversation      = "Conversation"
	EntityMessage           = "ChatMessage"
	EntityArtifact          = "Artifact"
	EntityUser              = "User"
	EntityAgentConversation = "AgentConversation"
)

// Record carries the fields the backend stamps on every entity.
type Record struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// Identity returns the record identifier.
func (r Record) Identity() string {
	return r.ID
}

// MergeMembers returns list followed by extra with duplicates and empty
// entries removed, preserving first-seen order.
func MergeMembers(list []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(list)+len(extra))
	out := make([]string, 0, len(list)+len(extra))
	for _, group := range [][]string{list, extra} {
		for _, m := range group {
			if m == "" {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
