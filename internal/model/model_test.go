package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	names := map[string]string{"bob@dig.org": "Bob"}
	tests := []struct {
		name string
		conv Conversation
		want string
	}{
		{"named", Conversation{Name: "Trench 4", Participants: []string{"ann@dig.org", "bob@dig.org"}}, "Trench 4"},
		{"direct", Conversation{Participants: []string{"ann@dig.org", "bob@dig.org"}}, "Bob"},
		{"email fallback", Conversation{Participants: []string{"ann@dig.org", "cy@dig.org"}}, "cy@dig.org"},
		{"self only", Conversation{Participants: []string{"ann@dig.org"}}, "Me"},
		{"two others", Conversation{Participants: []string{"ann@dig.org", "bob@dig.org", "cy@dig.org"}}, "Bob, cy@dig.org"},
		{"many", Conversation{Participants: []string{"ann@dig.org", "bob@dig.org", "cy@dig.org", "di@dig.org", "ed@dig.org"}}, "Bob, cy@dig.org +2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conv.DisplayName("ann@dig.org", names))
		})
	}
}

func TestCanSend(t *testing.T) {
	open := Conversation{IsAnnouncement: true, Participants: []string{"ann@dig.org", "bob@dig.org"}}
	assert.True(t, open.CanSend("bob@dig.org"))
	assert.False(t, open.CanSend("cy@dig.org"))

	restricted := open
	restricted.AllowedSenders = []string{"ann@dig.org"}
	assert.True(t, restricted.CanSend("ann@dig.org"))
	assert.False(t, restricted.CanSend("bob@dig.org"))

	direct := Conversation{Participants: []string{"ann@dig.org", "bob@dig.org"}}
	assert.True(t, direct.IsDirectBetween("bob@dig.org", "ann@dig.org"))
	assert.False(t, restricted.IsDirectBetween("ann@dig.org", "bob@dig.org"))
}

func TestUnreadFor(t *testing.T) {
	m := Message{Record: Record{CreatedBy: "bob@dig.org"}, ReadBy: []string{"cy@dig.org"}}
	assert.True(t, m.UnreadFor("ann@dig.org"))
	assert.False(t, m.UnreadFor("bob@dig.org"))
	assert.False(t, m.UnreadFor("cy@dig.org"))
}

func TestMergeMembers(t *testing.T) {
	got := MergeMembers([]string{"b", "", "a"}, "a", "c", "b")
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority(" High ")
	assert.True(t, ok)
	assert.Equal(t, PriorityHigh, p)

	p, ok = ParsePriority("")
	assert.True(t, ok)
	assert.Equal(t, PriorityNone, p)

	_, ok = ParsePriority("critical")
	assert.False(t, ok)
}

func TestNotificationPreferencesDefaults(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"email":"ann@dig.org","notification_preferences":{"chat_messages":false}}`), &u))
	prefs := u.Preferences()
	assert.False(t, prefs.Allows(CategoryChatMessages))
	assert.True(t, prefs.Allows(CategoryArtifactReviews))

	prefs.DesktopEnabled = false
	assert.False(t, prefs.Allows(CategoryArtifactReviews))

	assert.Equal(t, DefaultPreferences(), (&User{}).Preferences())
	assert.Equal(t, DefaultAISettings(), (&User{}).Settings())
	assert.Equal(t, "ann@dig.org", u.Name())
}
