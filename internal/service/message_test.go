package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/model"
)

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)

	msg, err := f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{Content: "  trench 4 is open  "})
	require.NoError(t, err)
	assert.Equal(t, "trench 4 is open", msg.Content)
	assert.Equal(t, []string{ann}, msg.ReadBy)
	assert.Equal(t, ann, msg.Author())

	conv, err := f.convs.Get(as(ann), ann, c.ID)
	require.NoError(t, err)
	assert.False(t, conv.LastMessageAt.Before(c.LastMessageAt))

	_, err = f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{Content: "   "})
	assert.True(t, IsValidation(err))

	_, err = f.msgs.Send(as(carol), carol, c.ID, &model.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendMessageDefaultContent(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)

	msg, err := f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{
		Attachments: []model.Attachment{{Name: "site.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "(File attachment)", msg.Content)
	assert.Equal(t, []string{"site.jpg"}, msg.FileNames)
	require.Len(t, msg.FileURLs, 1)
	data, ok := f.gw.File(msg.FileURLs[0])
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8}, data)

	msg, err = f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{ArtifactReferences: []string{"a1", "a2"}})
	require.NoError(t, err)
	assert.Equal(t, "(2 artifact(s) attached)", msg.Content)
	assert.Equal(t, []string{"a1", "a2"}, msg.ArtifactReferences)
}

func TestSendMessageRejectsBadAttachmentBeforeUpload(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	writes := f.countWrites()

	_, err = f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{
		Content: "see attached",
		Attachments: []model.Attachment{
			{Name: "notes.txt", ContentType: "text/plain"},
			{Name: "tool.exe", ContentType: "application/x-msdownload"},
		},
	})
	assert.True(t, IsValidation(err))
	assert.Zero(t, writes())
}

func TestValidateAttachment(t *testing.T) {
	cases := []struct {
		name, contentType string
		ok                bool
	}{
		{"photo.JPG", "", true},
		{"scan", "application/pdf", true},
		{"clip.mp4", "application/octet-stream", true},
		{"voice", "audio/wav; codecs=1", true},
		{"archive.zip", "application/zip", false},
		{"", "", false},
	}
	for _, tc := range cases {
		err := ValidateAttachment(model.Attachment{Name: tc.name, ContentType: tc.contentType})
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestAnnouncementRejectsOtherSendersBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.CreateAnnouncement(as(ann), ann, &model.CreateAnnouncementRequest{
		Name:           "Site news",
		Participants:   []string{bob},
		AllowedSenders: []string{ann},
	})
	require.NoError(t, err)
	writes := f.countWrites()

	_, err = f.msgs.Send(as(bob), bob, c.ID, &model.SendMessageRequest{
		Content:     "can I post?",
		Attachments: []model.Attachment{{Name: "a.png", ContentType: "image/png", Data: []byte{1}}},
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, writes())

	msgs, err := f.msgs.Messages(as(bob), c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = f.msgs.Send(as(ann), ann, c.ID, &model.SendMessageRequest{Content: "digging resumes monday"})
	require.NoError(t, err)
}

func TestUnreadCountDropsToZeroAfterMarkRead(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.msgs.Send(as(bob), bob, c.ID, &model.SendMessageRequest{Content: "find"})
		require.NoError(t, err)
	}

	list, err := f.msgs.List(as(ann), ann, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Unread)

	resp, err := f.msgs.MarkRead(as(ann), ann, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Updated)

	list, err = f.msgs.List(as(ann), ann, c.ID)
	require.NoError(t, err)
	assert.Zero(t, list.Unread)

	resp, err = f.msgs.MarkRead(as(ann), ann, c.ID)
	require.NoError(t, err)
	assert.Zero(t, resp.Updated)
}

func TestRecentIsNewestFirst(t *testing.T) {
	f := newFixture(t)
	c, err := f.convs.Create(as(ann), ann, &model.CreateConversationRequest{Participants: []string{bob}})
	require.NoError(t, err)
	var last string
	for i := 0; i < 12; i++ {
		m, err := f.msgs.Send(as(bob), bob, c.ID, &model.SendMessageRequest{Content: "x"})
		require.NoError(t, err)
		last = m.ID
	}

	recent, err := f.msgs.Recent(as(ann), c.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, last, recent[0].ID)
}
