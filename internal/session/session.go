// Package session runs the per-client watchers: the conversation list,
// the open conversation and (for admins) the artifact feed are polled,
// diffed and turned into events and notifications for one connected view.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/config"
	"github.com/capitalize-ai/artifact-sync/internal/gateway"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/notify"
	"github.com/capitalize-ai/artifact-sync/internal/poller"
	"github.com/capitalize-ai/artifact-sync/internal/readstate"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const eventBuffer = 64

// CodeUnauthenticated is the ErrorEvent code sent before a session ends
// because its credentials stopped working.
const CodeUnauthenticated = "unauthenticated"

var (
	errBufferFull = errors.New("session event buffer full")
	errClosed     = errors.New("session closed")
)

// Deps are the services sessions read through.
type Deps struct {
	Gateway       gateway.Gateway
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Artifacts     *service.ArtifactService
	Tracker       *readstate.Tracker
	LastSeen      notify.LastSeenIndex
	Poll          config.PollConfig
	PreviewLength int
	RecentWindow  int
	Logger        *logger.Logger
}

func (d *Deps) applyDefaults() {
	if d.Poll.Artifacts <= 0 {
		d.Poll.Artifacts = 3 * time.Second
	}
	if d.Poll.ActiveConversation <= 0 {
		d.Poll.ActiveConversation = 15 * time.Second
	}
	if d.Poll.Conversations <= 0 {
		d.Poll.Conversations = 20 * time.Second
	}
	if d.RecentWindow <= 0 {
		d.RecentWindow = 10
	}
	if d.LastSeen == nil {
		d.LastSeen = notify.NewMemoryIndex()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
}

// Session is one connected client view. It is also the notification sink
// for its own dispatcher.
type Session struct {
	id        string
	actor     string
	admin     bool
	transport string
	deps      *Deps
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan model.SessionEvent
	done   chan struct{}

	dispatcher *notify.Dispatcher
	messages   notify.Detector[model.Message]
	artifacts  notify.Detector[model.Artifact]
	permitted  atomic.Bool

	mu         sync.Mutex
	prefs      model.NotificationPreferences
	active     string
	loaded     bool
	known      map[string]struct{}
	names      map[string]string
	convNames  map[string]string
	convPoll   *poller.Handle
	artPoll    *poller.Handle
	activePoll *poller.Handle
	unsubs     []func()

	stopOnce   sync.Once
	expireOnce sync.Once
}

func newSession(ctx context.Context, deps *Deps, user *model.User, transport string) *Session {
	id := uuid.NewString()
	ctx = gateway.WithActor(context.WithoutCancel(ctx), user.Email)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:        id,
		actor:     user.Email,
		admin:     user.IsAdmin(),
		transport: transport,
		deps:      deps,
		logger:    deps.Logger.WithSession(id, user.Email),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan model.SessionEvent, eventBuffer),
		done:      make(chan struct{}),
		prefs:     user.Preferences(),
		known:     make(map[string]struct{}),
		names:     make(map[string]string),
		convNames: make(map[string]string),
	}
	s.dispatcher = notify.NewDispatcher(s, s.preferences, deps.PreviewLength, s.logger)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Actor returns the email of the session's user.
func (s *Session) Actor() string { return s.actor }

// Transport is "sse" or "ws".
func (s *Session) Transport() string { return s.transport }

// Events delivers the session's events. The channel is never closed; use
// Done to detect the end of the session.
func (s *Session) Events() <-chan model.SessionEvent { return s.events }

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) start() {
	s.emit(model.EventConnected, model.ConnectedEvent{SessionID: s.id, Actor: s.actor})

	convPoll := poller.Start(s.ctx, poller.Options{
		Name:      "conversations",
		Interval:  s.deps.Poll.Conversations,
		Immediate: true,
	}, s.fetchConversations, s.onConversations, s.logger)

	var artPoll *poller.Handle
	if s.admin {
		artPoll = poller.Start(s.ctx, poller.Options{
			Name:      "artifacts",
			Interval:  s.deps.Poll.Artifacts,
			Immediate: true,
		}, s.fetchArtifacts, s.onArtifacts, s.logger)
	}

	s.mu.Lock()
	s.convPoll, s.artPoll = convPoll, artPoll
	s.mu.Unlock()

	s.subscribe(model.EntityMessage, s.onMessageChange)
	s.subscribe(model.EntityConversation, s.onConversationChange)
	if s.admin {
		s.subscribe(model.EntityArtifact, func(gateway.Change) { artPoll.Trigger() })
	}
}

// subscribe registers a live trigger. Polling keeps working when the
// gateway has no change feed.
func (s *Session) subscribe(entity string, fn func(gateway.Change)) {
	unsub, err := s.deps.Gateway.Subscribe(s.ctx, entity, fn)
	switch {
	case errors.Is(err, gateway.ErrNotSupported):
		s.logger.Debug("live updates unavailable", zap.String("entity", entity))
		return
	case err != nil:
		s.logger.Warn("failed to subscribe", zap.String("entity", entity), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// Stop ends the session: every poller is stopped and every subscription
// released. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.done)

		s.mu.Lock()
		handles := []*poller.Handle{s.convPoll, s.artPoll, s.activePoll}
		unsubs := s.unsubs
		s.unsubs = nil
		s.mu.Unlock()

		for _, h := range handles {
			if h != nil {
				h.Stop()
			}
		}
		for _, u := range unsubs {
			u()
		}
		s.logger.Info("session stopped")
	})
}

// checkAuth ends the session when the backend rejects its credentials.
// Pollers would otherwise keep retrying with a token that can no longer
// succeed. The client gets an error event first so it can sign in again.
func (s *Session) checkAuth(err error) error {
	if !errors.Is(err, gateway.ErrUnauthenticated) {
		return err
	}
	s.expireOnce.Do(func() {
		s.logger.Info("credentials rejected, ending session")
		_ = s.emit(model.EventError, model.ErrorEvent{Code: CodeUnauthenticated, Message: "credentials expired"})
		// Stop waits for the pollers, and this runs on one of them.
		go s.Stop()
	})
	return err
}

// emit queues an event without blocking. Events are dropped when the
// client is not keeping up.
func (s *Session) emit(t model.EventType, data any) error {
	ev := model.SessionEvent{Type: t, Data: data, At: time.Now().UTC()}
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	default:
		s.logger.Warn("dropping session event", zap.String("type", string(t)))
		return errBufferFull
	}
}

// Permitted implements notify.Sink.
func (s *Session) Permitted() bool {
	return s.permitted.Load()
}

// Deliver implements notify.Sink.
func (s *Session) Deliver(_ context.Context, n model.Notification) error {
	return s.emit(model.EventNotification, n)
}

// SetPermission records whether the client granted notification permission.
func (s *Session) SetPermission(granted bool) {
	s.permitted.Store(granted)
}

// SetPreferences replaces the user's notification preferences.
func (s *Session) SetPreferences(p model.NotificationPreferences) {
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
}

func (s *Session) preferences() model.NotificationPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// SetFocus sets the conversation the user is looking at without changing
// the open conversation, e.g. to clear focus while the window is hidden.
func (s *Session) SetFocus(conversationID string) {
	s.dispatcher.SetFocus(conversationID)
}

// Focus returns the focused conversation.
func (s *Session) Focus() string {
	return s.dispatcher.Focus()
}

// Refresh requests an immediate conversation list tick.
func (s *Session) Refresh() {
	s.mu.Lock()
	h := s.convPoll
	s.mu.Unlock()
	if h != nil {
		h.Trigger()
	}
}

// SetActive opens conversationID: its messages are polled, it becomes the
// focused context and its messages are marked read as they arrive. An
// empty id closes the open conversation.
func (s *Session) SetActive(ctx context.Context, conversationID string) error {
	if conversationID != "" {
		if _, err := s.deps.Conversations.Get(ctx, s.actor, conversationID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	prev := s.activePoll
	s.activePoll = nil
	s.active = conversationID
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	s.messages.Reset()
	s.dispatcher.SetFocus(conversationID)
	if conversationID == "" {
		return nil
	}

	select {
	case <-s.done:
		return errClosed
	default:
	}

	h := poller.Start(s.ctx, poller.Options{
		Name:      "active_conversation",
		Interval:  s.deps.Poll.ActiveConversation,
		Immediate: true,
	}, func(ctx context.Context) ([]model.Message, error) {
		msgs, err := s.deps.Messages.Messages(ctx, conversationID)
		return msgs, s.checkAuth(err)
	}, func(msgs []model.Message) {
		s.onMessages(conversationID, msgs)
	}, s.logger)

	s.mu.Lock()
	if s.active != conversationID || s.activePoll != nil {
		s.mu.Unlock()
		h.Stop()
		return nil
	}
	s.activePoll = h
	s.mu.Unlock()
	return nil
}

// Active returns the open conversation.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type conversationsTick struct {
	convs   []model.Conversation
	summary *model.ListConversationsResponse
	names   map[string]string
}

func (s *Session) fetchConversations(ctx context.Context) (conversationsTick, error) {
	convs, err := s.deps.Conversations.ListForUser(ctx, s.actor)
	if err != nil {
		return conversationsTick{}, s.checkAuth(err)
	}
	return conversationsTick{
		convs:   convs,
		summary: s.deps.Conversations.Summarize(ctx, s.actor, convs),
		names:   s.deps.Users.Directory(ctx, convs),
	}, nil
}

func (s *Session) onConversations(t conversationsTick) {
	s.mu.Lock()
	s.known = make(map[string]struct{}, len(t.convs))
	s.convNames = make(map[string]string, len(t.convs))
	for _, sum := range t.summary.Conversations {
		s.known[sum.ID] = struct{}{}
		s.convNames[sum.ID] = sum.DisplayName
	}
	s.names = t.names
	first := !s.loaded
	s.loaded = true
	s.mu.Unlock()

	_ = s.emit(model.EventConversations, t.summary)
	if !first {
		s.CheckForNewMessages(s.ctx, t.convs)
	}
}

// CheckForNewMessages notifies about the latest unread message of each
// conversation unless it was already surfaced for this user, skipping the
// focused conversation. The last-seen marker only moves for records this
// view handled. It returns how many notifications were emitted.
func (s *Session) CheckForNewMessages(ctx context.Context, convs []model.Conversation) int {
	focus := s.dispatcher.Focus()
	emitted := 0
	for i := range convs {
		c := &convs[i]
		if c.ID == focus {
			continue
		}

		recent, err := s.deps.Messages.Recent(ctx, c.ID, s.deps.RecentWindow)
		if err != nil {
			s.logger.Warn("failed to check conversation", zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		var latest *model.Message
		for j := range recent {
			if recent[j].UnreadFor(s.actor) {
				latest = &recent[j]
				break
			}
		}
		if latest == nil {
			continue
		}

		key := notify.LastSeenKey(s.actor, c.ID)
		last, ok, err := s.deps.LastSeen.Get(ctx, key)
		if err != nil {
			s.logger.Warn("failed to read last seen message", zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		if ok && last == latest.ID {
			continue
		}

		out := s.dispatcher.Dispatch(ctx, s.messageNotification(c.ID, latest))
		if out == notify.Delivered {
			emitted++
		}
		// Held-back records stay unseen so a permitted view still gets them.
		if !out.Handled() {
			continue
		}
		if err := s.deps.LastSeen.Set(ctx, key, latest.ID); err != nil {
			s.logger.Warn("failed to store last seen message", zap.String("conversation_id", c.ID), zap.Error(err))
		}
	}
	return emitted
}

func (s *Session) messageNotification(conversationID string, m *model.Message) model.Notification {
	s.mu.Lock()
	sender := s.names[m.CreatedBy]
	convName := s.convNames[conversationID]
	s.mu.Unlock()
	if sender == "" {
		sender = m.CreatedBy
	}
	return model.Notification{
		RecordID:    m.ID,
		Category:    model.CategoryChatMessages,
		ContextID:   conversationID,
		ContextName: convName,
		Title:       sender,
		Body:        m.Content,
		Link:        "/chat?conversation=" + conversationID,
	}
}

func (s *Session) onMessages(conversationID string, msgs []model.Message) {
	if s.Active() != conversationID {
		return
	}

	diff := s.messages.Observe(msgs, notify.NewMessageFor(s.actor))
	for i := range diff.New {
		s.dispatcher.Notify(s.ctx, s.messageNotification(conversationID, &diff.New[i]))
	}

	if s.dispatcher.Focus() == conversationID {
		if _, err := s.deps.Tracker.MarkRead(s.ctx, msgs, s.actor); err != nil {
			s.logger.Debug("mark read incomplete", zap.Error(err))
		}
	}

	_ = s.emit(model.EventMessages, model.MessagesEvent{ConversationID: conversationID, Messages: msgs})
}

func (s *Session) fetchArtifacts(ctx context.Context) ([]model.Artifact, error) {
	list, err := s.deps.Artifacts.List(ctx, model.ArtifactFilter{})
	return list, s.checkAuth(err)
}

func (s *Session) onArtifacts(list []model.Artifact) {
	diff := s.artifacts.Observe(list, notify.NewSubmissionFor(s.actor))
	for i := range diff.New {
		a := &diff.New[i]
		body := a.UserNotes
		if body == "" {
			body = "Submitted by " + a.CreatedBy
		}
		s.dispatcher.Notify(s.ctx, model.Notification{
			RecordID: a.ID,
			Category: model.CategoryArtifactReviews,
			Title:    fmt.Sprintf("New artifact %s", a.ArtifactCode),
			Body:     body,
			Link:     "/admin/artifacts?id=" + a.ID,
		})
	}
	_ = s.emit(model.EventArtifacts, list)
}

// conversationOf extracts the conversation id from a message change.
func conversationOf(c gateway.Change) string {
	if len(c.Data) == 0 {
		return ""
	}
	var m struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(c.Data, &m); err != nil {
		return ""
	}
	return m.ConversationID
}

func (s *Session) onMessageChange(c gateway.Change) {
	convID := conversationOf(c)
	if convID == "" {
		return
	}

	s.mu.Lock()
	active, activePoll, convPoll := s.active, s.activePoll, s.convPoll
	_, known := s.known[convID]
	s.mu.Unlock()

	if convID == active && activePoll != nil {
		activePoll.Trigger()
	}
	if known && c.Op == gateway.OpCreate && convPoll != nil {
		convPoll.Trigger()
	}
}

func (s *Session) onConversationChange(c gateway.Change) {
	s.mu.Lock()
	_, known := s.known[c.ID]
	convPoll := s.convPoll
	s.mu.Unlock()

	if !known && len(c.Data) > 0 {
		var conv model.Conversation
		if err := json.Unmarshal(c.Data, &conv); err == nil && conv.HasParticipant(s.actor) {
			known = true
		}
	}
	if known && convPoll != nil {
		convPoll.Trigger()
	}
}
