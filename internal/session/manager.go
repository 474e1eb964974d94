package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// Manager tracks the running sessions.
type Manager struct {
	deps   *Deps
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. It takes over deps.Tracker's OnChange hook
// so that marking messages read refreshes the unread counts of the
// reader's sessions.
func NewManager(deps Deps) *Manager {
	deps.applyDefaults()
	m := &Manager{
		deps:     &deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
	}
	if deps.Tracker != nil {
		deps.Tracker.OnChange = m.refreshActor
	}
	return m
}

// Open starts a session for user. ctx supplies request-scoped values such
// as the gateway token; its cancellation does not stop the session.
func (m *Manager) Open(ctx context.Context, user *model.User, transport string) *Session {
	s := newSession(ctx, m.deps, user, transport)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	metrics.IncrementSessions(transport)
	m.logger.Info("session opened",
		zap.String("session_id", s.id),
		zap.String("actor", user.Email),
		zap.String("transport", transport),
	)
	s.start()
	return s
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close stops and forgets a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Stop()
	metrics.DecrementSessions(s.transport)
}

// ForActor returns the sessions of one user.
func (m *Manager) ForActor(actor string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.actor == actor {
			out = append(out, s)
		}
	}
	return out
}

// UpdateUser pushes changed preferences to the user's sessions.
func (m *Manager) UpdateUser(u *model.User) {
	for _, s := range m.ForActor(u.Email) {
		s.SetPreferences(u.Preferences())
	}
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops every session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) refreshActor(_ context.Context, actor string) {
	for _, s := range m.ForActor(actor) {
		s.Refresh()
	}
}
