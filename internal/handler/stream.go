package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/internal/middleware"
	"github.com/capitalize-ai/artifact-sync/internal/model"
	"github.com/capitalize-ai/artifact-sync/internal/service"
	"github.com/capitalize-ai/artifact-sync/internal/session"
	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsMaxMessage      = 4096

	codeTokenExpired = "token_expired"
)

// SessionHandler serves the live event stream of a client view over SSE
// or WebSocket.
type SessionHandler struct {
	sessions  *session.Manager
	users     *service.UserService
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *session.Manager, users *service.UserService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		users:    users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS middleware and the bearer token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		heartbeat: heartbeatInterval,
		logger:    log,
	}
}

// open starts a session and applies the optional ?conversation= and
// ?permission=granted query parameters.
func (h *SessionHandler) open(w http.ResponseWriter, r *http.Request, transport string) (*session.Session, bool) {
	user, ok := currentUser(w, r, h.users, h.logger)
	if !ok {
		return nil, false
	}

	s := h.sessions.Open(r.Context(), user, transport)
	if r.URL.Query().Get("permission") == "granted" {
		s.SetPermission(true)
	}
	if conv := r.URL.Query().Get("conversation"); conv != "" {
		if err := s.SetActive(r.Context(), conv); err != nil {
			h.sessions.Close(s.ID())
			writeServiceError(w, r, h.logger, err, "open conversation")
			return nil, false
		}
	}
	return s, true
}

// Events handles GET /api/v1/session/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, ok := h.open(w, r, "sse")
	if !ok {
		return
	}
	defer h.sessions.Close(s.ID())

	w.Header().Set("X-Session-ID", s.ID())
	sse, ok := startSSE(w)
	if !ok {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	expired, stopExpiry := expiryTimer(ctx)
	defer stopExpiry()

	log := middleware.RequestLogger(ctx, h.logger).With(zap.String("session_id", s.ID()))
	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return
		case <-s.Done():
			flush(s, func(ev model.SessionEvent) error {
				return sse.send(string(ev.Type), ev.Data)
			})
			return
		case <-expired:
			log.Info("token expired, closing stream")
			sse.send(string(model.EventError), tokenExpired())
			return
		case ev := <-s.Events():
			if err := sse.send(string(ev.Type), ev.Data); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			if err := sse.send(string(model.EventHeartbeat), &model.HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// WebSocket handles GET /api/v1/session/ws. Events are written as JSON
// SessionEvent frames; the client sends ClientCommand frames.
func (h *SessionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r, "ws")
	if !ok {
		return
	}
	defer h.sessions.Close(s.ID())

	conn, err := h.upgrader.Upgrade(w, r, http.Header{"X-Session-ID": []string{s.ID()}})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := middleware.RequestLogger(r.Context(), h.logger).With(zap.String("session_id", s.ID()))

	// The upgraded request context is not canceled on hijack; the read loop
	// ends the session when the connection drops.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		h.readCommands(ctx, conn, s, log)
	}()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	expired, stopExpiry := expiryTimer(r.Context())
	defer stopExpiry()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			flush(s, func(ev model.SessionEvent) error {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				return conn.WriteJSON(ev)
			})
			return
		case <-expired:
			log.Info("token expired, closing stream")
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteJSON(model.SessionEvent{Type: model.EventError, Data: tokenExpired(), At: time.Now().UTC()})
			return
		case ev := <-s.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			ev := model.SessionEvent{
				Type: model.EventHeartbeat,
				Data: &model.HeartbeatEvent{Timestamp: time.Now()},
				At:   time.Now().UTC(),
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// expiryTimer fires when the request's token expires. Streams outlive the
// request that authenticated them, so they must close themselves.
func expiryTimer(ctx context.Context) (<-chan time.Time, func()) {
	exp, ok := middleware.GetExpiry(ctx)
	if !ok {
		return nil, func() {}
	}
	t := time.NewTimer(time.Until(exp))
	return t.C, func() { t.Stop() }
}

func tokenExpired() *model.ErrorEvent {
	return &model.ErrorEvent{Code: codeTokenExpired, Message: "token expired"}
}

// flush writes what the session queued before it stopped.
func flush(s *session.Session, write func(model.SessionEvent) error) {
	for {
		select {
		case ev := <-s.Events():
			if write(ev) != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *SessionHandler) readCommands(ctx context.Context, conn *websocket.Conn, s *session.Session, log *logger.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd model.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug("ignoring malformed client command", zap.Error(err))
			continue
		}
		if err := applyCommand(ctx, s, cmd); err != nil {
			log.Debug("client command failed", zap.String("type", cmd.Type), zap.Error(err))
		}
	}
}

// applyCommand executes one client command against s.
func applyCommand(ctx context.Context, s *session.Session, cmd model.ClientCommand) error {
	switch cmd.Type {
	case "focus":
		s.SetFocus(cmd.ConversationID)
	case "active":
		return s.SetActive(ctx, cmd.ConversationID)
	case "permission":
		s.SetPermission(cmd.Granted)
	case "refresh":
		s.Refresh()
	}
	return nil
}

// session resolves {sid} to a session owned by the caller.
func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid := chi.URLParam(r, "sid")
	s, ok := h.sessions.Get(sid)
	if !ok || s.Actor() != middleware.GetActor(r.Context()) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// SetActive handles PUT /api/v1/session/:sid/active
func (h *SessionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.FocusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.SetActive(r.Context(), req.ConversationID); err != nil {
		writeServiceError(w, r, h.logger, err, "open conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetFocus handles PUT /api/v1/session/:sid/focus
func (h *SessionHandler) SetFocus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.FocusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.SetFocus(req.ConversationID)
	w.WriteHeader(http.StatusNoContent)
}

// SetPermission handles PUT /api/v1/session/:sid/permission
func (h *SessionHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Granted bool `json:"granted"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s.SetPermission(req.Granted)
	w.WriteHeader(http.StatusNoContent)
}
