package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

type recordingSink struct {
	mu        sync.Mutex
	permitted bool
	err       error
	panics    bool
	got       []model.Notification
}

func (s *recordingSink) Permitted() bool { return s.permitted }

func (s *recordingSink) Deliver(ctx context.Context, n model.Notification) error {
	if s.panics {
		panic("display failed")
	}
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	return s.err
}

func chat(id, conversation string) model.Notification {
	return model.Notification{
		RecordID:    id,
		Category:    model.CategoryChatMessages,
		ContextID:   conversation,
		ContextName: "Dig Team",
		Title:       "Bob",
		Body:        "found a coin",
	}
}

func TestDispatcherDeliversOnce(t *testing.T) {
	sink := &recordingSink{permitted: true}
	d := NewDispatcher(sink, nil, 0, logger.Nop())
	ctx := context.Background()

	assert.True(t, d.Notify(ctx, chat("m1", "c1")))
	assert.False(t, d.Notify(ctx, chat("m1", "c1")))

	require.Len(t, sink.got, 1)
	assert.Equal(t, "Dig Team: found a coin", sink.got[0].Body)
	assert.True(t, d.Delivered("m1"))
}

func TestDispatcherSuppressesFocusedContext(t *testing.T) {
	sink := &recordingSink{permitted: true}
	d := NewDispatcher(sink, nil, 0, logger.Nop())
	d.SetFocus("c1")

	assert.False(t, d.Notify(context.Background(), chat("m1", "c1")))
	assert.True(t, d.Notify(context.Background(), chat("m2", "c2")))
	assert.Equal(t, "c1", d.Focus())

	d.SetFocus("")
	assert.False(t, d.Notify(context.Background(), chat("m1", "c1")))
	assert.Len(t, sink.got, 1)
}

func TestDispatcherRespectsPermissionAndPreferences(t *testing.T) {
	sink := &recordingSink{}
	prefs := model.DefaultPreferences()
	d := NewDispatcher(sink, func() model.NotificationPreferences { return prefs }, 0, logger.Nop())
	ctx := context.Background()

	assert.False(t, d.Notify(ctx, chat("m1", "c1")))

	sink.permitted = true
	prefs.ChatMessages = false
	assert.False(t, d.Notify(ctx, chat("m1", "c1")))

	review := model.Notification{RecordID: "m2", Category: model.CategoryArtifactReviews, Title: "Reviewed"}
	assert.True(t, d.Notify(ctx, review))

	prefs.DesktopEnabled = false
	assert.False(t, d.Notify(ctx, model.Notification{RecordID: "m3", Category: model.CategoryArtifactReviews}))

	// Suppressed notifications stay eligible once the user opts back in.
	prefs = model.DefaultPreferences()
	assert.True(t, d.Notify(ctx, chat("m1", "c1")))
	assert.Len(t, sink.got, 2)
}

func TestDispatchOutcomes(t *testing.T) {
	sink := &recordingSink{}
	prefs := model.DefaultPreferences()
	d := NewDispatcher(sink, func() model.NotificationPreferences { return prefs }, 0, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func()
		n       model.Notification
		want    Outcome
		handled bool
	}{
		{"no permission", func() {}, chat("m1", "c1"), NoPermission, false},
		{"disabled", func() { sink.permitted = true; prefs.ChatMessages = false }, chat("m1", "c1"), Disabled, false},
		{"delivered", func() { prefs.ChatMessages = true }, chat("m1", "c1"), Delivered, true},
		{"duplicate", func() {}, chat("m1", "c1"), Duplicate, true},
		{"focused", func() { d.SetFocus("c2") }, chat("m2", "c2"), Focused, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			got := d.Dispatch(ctx, tt.n)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.handled, got.Handled())
		})
	}
	assert.Len(t, sink.got, 1)
}

func TestDispatcherSwallowsSinkFailures(t *testing.T) {
	ctx := context.Background()

	failing := NewDispatcher(&recordingSink{permitted: true, err: errors.New("closed")}, nil, 0, logger.Nop())
	assert.True(t, failing.Notify(ctx, chat("m1", "c1")))
	assert.False(t, failing.Notify(ctx, chat("m1", "c1")))

	panicking := NewDispatcher(&recordingSink{permitted: true, panics: true}, nil, 0, logger.Nop())
	assert.NotPanics(t, func() {
		panicking.Notify(ctx, chat("m1", "c1"))
	})
}

func TestDispatcherTruncatesBody(t *testing.T) {
	sink := &recordingSink{permitted: true}
	d := NewDispatcher(sink, nil, 0, logger.Nop())

	n := chat("m1", "c1")
	n.ContextName = ""
	n.Body = strings.Repeat("é", 150)
	d.Notify(context.Background(), n)

	require.Len(t, sink.got, 1)
	assert.Equal(t, strings.Repeat("é", 100)+"...", sink.got[0].Body)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 100))
	assert.Equal(t, "abc...", Preview("abcdef", 3))
	assert.Equal(t, "", Preview("", 3))
}
