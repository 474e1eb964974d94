package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)

	group, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob, carol, bob}})
	require.NoError(t, err)
	assert.True(t, group.IsGroup)
	assert.Equal(t, model.DefaultGroupName, group.Name)
	assert.Equal(t, []string{bob, carol, ann}, group.Participants)
	assert.Equal(t, ann, group.CreatedBy)

	direct, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}, Name: "ignored"})
	require.NoError(t, err)
	assert.False(t, direct.IsGroup)
	assert.Empty(t, direct.Name)

	again, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	assert.Equal(t, direct.ID, again.ID)

	_, err = f.convs.Create(as(ann), ann, &model.CreateConversationRequest{})
	assert.True(t, IsValidation(err))
}

func TestCreateAnnouncement(t *testing.T) {
	f := newFixture(t)

	_, err := f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{Participants: []string{bob}})
	assert.True(t, IsValidation(err))

	_, err = f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{Name: "Site news"})
	assert.True(t, IsValidation(err))

	c, err := f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{
		Name:         "Site news",
		Participants: []string{bob, carol},
	})
	require.NoError(t, err)
	assert.True(t, c.IsAnnouncement)
	assert.True(t, c.IsGroup)
	assert.Equal(t, []string{ann}, c.AllowedSenders)

	c, err = f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{
		Name:           "Logistics",
		Participants:   []string{bob, carol},
		AllowedSenders: []string{bob},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{bob, ann}, c.AllowedSenders)

	_, err = f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{
		Name:           "Logistics",
		Participants:   []string{bob},
		AllowedSenders: []string{carol},
	})
	assert.True(t, IsValidation(err))
}

func TestListConversationsWithNamesAndUnread(t *testing.T) {
	f := newFixture(t)
	f.user(t, ann, "Ann Lee", model.RoleUser)
	f.user(t, bob, "Bob Park", model.RoleUser)

	direct, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.msgs.Send(as(bob), bob, direct.ID, &model.SendMessageRequest{Content: "hello"})
		require.NoError(t, err)
	}

	resp, err := f.convs.List(as(ann), ann)
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Bob Park", resp.Conversations[0].DisplayName)
	assert.Equal(t, 2, resp.Conversations[0].UnreadCount)
	assert.Equal(t, 2, resp.TotalUnread)

	resp, err = f.convs.List(as(bob), bob)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", resp.Conversations[0].DisplayName)
	assert.Zero(t, resp.TotalUnread)

	resp, err = f.convs.List(as(carol), carol)
	require.NoError(t, err)
	assert.Empty(t, resp.Conversations)
}

func TestUpdateConversation(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{
		Name:           "Site news",
		Participants:   []string{bob, carol},
		AllowedSenders: []string{bob, carol},
	})
	require.NoError(t, err)

	_, err = f.convs.Update(as(ann), ann, c.ID, &model.UpdateConversationRequest{Name: ptr("  ")})
	assert.True(t, IsValidation(err))

	updated, err := f.convs.Update(as(ann), ann, c.ID, &model.UpdateConversationRequest{
		Name:         ptr("Field news"),
		Participants: []string{bob},
	})
	require.NoError(t, err)
	assert.Equal(t, "Field news", updated.Name)
	assert.Equal(t, []string{bob, ann}, updated.Participants)
	assert.Equal(t, []string{bob, ann}, updated.AllowedSenders)

	_, err = f.convs.Update(as(carol), carol, c.ID, &model.UpdateConversationRequest{Name: ptr("x")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	for _, who := range []string{ann, bob, ann} {
		_, err := f.msgs.Send(as(who), who, c.ID, &model.SendMessageRequest{Content: "hi"})
		require.NoError(t, err)
	}

	require.NoError(t, f.convs.Delete(as(bob), bob, c.ID))

	msgs, err := f.msgs.Messages(as(ann), c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = f.convs.Get(as(ann), ann, c.ID)
	assert.Error(t, err)
}

func TestFindOrCreateDirect(t *testing.T) {
	f := newFixture(t)
	a, err := f.convs.FindOrCreateDirect(as(admin), admin, bob)
	require.NoError(t, err)
	b, err := f.convs.FindOrCreateDirect(as(admin), admin, bob)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.IsDirectBetween(bob, admin))
}
