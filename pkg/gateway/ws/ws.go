// Package ws implements the WebSocket channel surface (C9): the
// session-addressed event socket clients speak inbound message:send,
// location:update, auth:* and session:clear frames over, and the engine
// answers with message:receive, typing, auth:* and error frames (spec
// §6.1). It is the real-time counterpart to pkg/gateway/webhook.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowtalk/engine/pkg/auth"
	"github.com/flowtalk/engine/pkg/orchestrator"
	"github.com/flowtalk/engine/pkg/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeBuffer bounds how many outbound frames a slow client can fall
// behind by before further frames are dropped, mirroring the teacher
// hub's buffered broadcast channel (256).
const writeBuffer = 256

// Router is the narrow contract Hub drives text through; orchestrator.Router
// satisfies it.
type Router interface {
	Route(ctx context.Context, in orchestrator.Inbound) (*orchestrator.Reply, error)
	RouteLocation(ctx context.Context, sessionID string, lat, lng float64) (*orchestrator.Reply, error)
}

// connection is one live socket, keyed by sessionId rather than the
// teacher's anonymous client set: every inbound frame and every pub/sub
// forward needs to reach a specific session, not every connected client.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	send      chan Envelope

	mu    sync.Mutex
	phone string
}

// Hub owns the set of live connections and wires inbound frames to the
// orchestrator, session store, and auth service (spec §6.1).
type Hub struct {
	Router   Router
	Sessions session.Store
	Auth     *auth.Service

	mu    sync.RWMutex
	conns map[string]*connection
}

// NewHub constructs a Hub. Auth may be nil to disable cross-channel auth
// sync in tests that don't exercise it.
func NewHub(router Router, sessions session.Store, authSvc *auth.Service) *Hub {
	return &Hub{Router: router, Sessions: sessions, Auth: authSvc, conns: make(map[string]*connection)}
}

// HandleWS upgrades the request and drives the connection's read/write
// loops until it closes. sessionID identifies the caller; webhook-style
// channels carry their own identifier in the payload, but a socket's
// identity is the connection itself, so the caller supplies it (typically
// from a query parameter or an already-established cookie).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		http.Error(w, "sessionId required", http.StatusBadRequest)
		return
	}
	if _, err := h.Sessions.GetOrCreate(r.Context(), sessionID, sessionID, "websocket"); err != nil {
		slog.Error("websocket session init failed", "sessionId", sessionID, "error", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{conn: sock, sessionID: sessionID, send: make(chan Envelope, writeBuffer)}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(c)
	}()

	if h.Auth != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.authSyncLoop(ctx, c)
		}()
	}

	h.readLoop(ctx, c)
	cancel()
	close(c.send)
	wg.Wait()
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.sessionID] = c
	slog.Debug("websocket connected", "sessionId", c.sessionID, "total", len(h.conns))
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.conns[c.sessionID]; ok && existing == c {
		delete(h.conns, c.sessionID)
	}
	c.conn.Close()
	slog.Debug("websocket disconnected", "sessionId", c.sessionID, "total", len(h.conns))
}

func (h *Hub) writeLoop(c *connection) {
	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			slog.Warn("websocket write failed", "sessionId", c.sessionID, "error", err)
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *connection) {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "sessionId", c.sessionID, "error", err)
			}
			return
		}
		h.handleEnvelope(ctx, c, env)
	}
}

// authSyncLoop subscribes to cross-instance auth events and forwards the
// ones relevant to this connection's current phone, so a login on another
// channel updates an already-open socket (spec §4.8, §6.1 auth:synced /
// auth:logged_out).
func (h *Hub) authSyncLoop(ctx context.Context, c *connection) {
	events, cancel, err := h.Auth.Subscribe(ctx)
	if err != nil {
		slog.Warn("auth subscribe failed", "sessionId", c.sessionID, "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.mu.Lock()
			phone := c.phone
			c.mu.Unlock()
			if phone == "" || event.Phone != phone {
				continue
			}
			switch event.Type {
			case auth.EventLogin:
				h.trySend(c, Envelope{Type: EventAuthSynced, SessionID: c.sessionID, Data: authSyncedPayload{
					UserID: event.UserID, Phone: event.Phone, Token: event.Token, Platform: event.Channel, Timestamp: time.Now(),
				}})
			case auth.EventLogout:
				h.trySend(c, Envelope{Type: EventAuthLoggedOut, SessionID: c.sessionID, Data: authLoggedOutPayload{
					Phone: event.Phone, Timestamp: time.Now(),
				}})
			}
		}
	}
}

func (h *Hub) trySend(c *connection, env Envelope) {
	select {
	case c.send <- env:
	default:
		slog.Warn("websocket send buffer full, dropping frame", "sessionId", c.sessionID, "type", env.Type)
	}
}

func (h *Hub) sendError(c *connection, code, message string) {
	h.trySend(c, Envelope{Type: EventError, SessionID: c.sessionID, Data: errorPayload{Code: code, Message: message}})
}

func (h *Hub) handleEnvelope(ctx context.Context, c *connection, env Envelope) {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		h.sendError(c, "bad_payload", "could not read message payload")
		return
	}

	switch env.Type {
	case EventMessageSend:
		h.handleMessageSend(ctx, c, raw)
	case EventLocationUpdate:
		h.handleLocationUpdate(ctx, c, raw)
	case EventAuthLogin:
		h.handleAuthLogin(ctx, c, raw)
	case EventAuthLogout:
		h.handleAuthLogout(ctx, c, raw)
	case EventAuthCheck:
		h.handleAuthCheck(ctx, c, raw)
	case EventSessionClear:
		h.handleSessionClear(ctx, c)
	default:
		h.sendError(c, "unknown_event", fmt.Sprintf("unrecognized event type %q", env.Type))
	}
}

func (h *Hub) handleMessageSend(ctx context.Context, c *connection, raw json.RawMessage) {
	var p messageSendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "bad_payload", "message:send requires text")
		return
	}

	identifier := c.sessionID
	c.mu.Lock()
	if c.phone != "" {
		identifier = c.phone
	}
	c.mu.Unlock()

	h.trySend(c, Envelope{Type: EventTyping, SessionID: c.sessionID, Data: typingPayload{IsTyping: true}})
	reply, err := h.Router.Route(ctx, orchestrator.Inbound{
		SessionID: c.sessionID, Identifier: identifier, Text: p.Text, Channel: "websocket", Meta: p.Meta,
	})
	h.trySend(c, Envelope{Type: EventTyping, SessionID: c.sessionID, Data: typingPayload{IsTyping: false}})
	if err != nil {
		slog.Error("websocket route failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "route_failed", "something went wrong handling that message")
		return
	}
	if reply == nil {
		return
	}
	h.trySend(c, Envelope{Type: EventMessageReceive, SessionID: c.sessionID, Data: messageReceivePayload{
		Text: reply.Message, Cards: reply.Cards, Buttons: reply.Buttons,
	}})
}

func (h *Hub) handleLocationUpdate(ctx context.Context, c *connection, raw json.RawMessage) {
	var p locationUpdatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "bad_payload", "location:update requires lat/lng")
		return
	}
	_, err := h.Sessions.Update(ctx, c.sessionID, func(s *session.Session) error {
		s.Data.Location = &session.Location{Lat: p.Lat, Lng: p.Lng, UpdatedAt: time.Now()}
		return nil
	})
	if err != nil {
		slog.Warn("location update failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "location_update_failed", "could not record location")
		return
	}

	reply, err := h.Router.RouteLocation(ctx, c.sessionID, p.Lat, p.Lng)
	if err != nil {
		slog.Error("websocket route location failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "route_failed", "something went wrong handling that location")
		return
	}
	if reply == nil {
		return
	}
	h.trySend(c, Envelope{Type: EventMessageReceive, SessionID: c.sessionID, Data: messageReceivePayload{
		Text: reply.Message, Cards: reply.Cards, Buttons: reply.Buttons,
	}})
}

func (h *Hub) handleAuthLogin(ctx context.Context, c *connection, raw json.RawMessage) {
	var p authLoginPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Phone == "" {
		h.sendError(c, "bad_payload", "auth:login requires phone/token")
		return
	}
	if p.Platform == "" {
		p.Platform = "websocket"
	}

	user, err := h.Auth.AuthenticateUser(ctx, p.Phone, p.Token, auth.Profile{UserID: p.UserID}, p.Platform)
	if err != nil {
		slog.Error("auth login failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "auth_failed", "could not log in")
		return
	}

	if _, err := h.Sessions.Update(ctx, c.sessionID, func(s *session.Session) error {
		s.Data.Authenticated = true
		s.Data.UserID = user.UserID
		s.Data.AuthToken = user.Token
		s.Data.Phone = user.Phone
		return nil
	}); err != nil {
		slog.Warn("session auth update failed", "sessionId", c.sessionID, "error", err)
	}

	c.mu.Lock()
	c.phone = user.Phone
	c.mu.Unlock()

	h.trySend(c, Envelope{Type: EventAuthSynced, SessionID: c.sessionID, Data: authSyncedPayload{
		UserID: user.UserID, Phone: user.Phone, Token: user.Token, Platform: p.Platform, Timestamp: time.Now(),
	}})
}

func (h *Hub) handleAuthLogout(ctx context.Context, c *connection, raw json.RawMessage) {
	var p authLogoutPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "bad_payload", "auth:logout requires phone")
		return
	}
	phone := p.Phone
	c.mu.Lock()
	if phone == "" {
		phone = c.phone
	}
	c.mu.Unlock()
	if phone == "" {
		h.sendError(c, "bad_payload", "auth:logout requires phone")
		return
	}

	if err := h.Auth.LogoutUser(ctx, phone, "websocket"); err != nil {
		slog.Error("auth logout failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "auth_failed", "could not log out")
		return
	}
	if _, err := h.Sessions.Update(ctx, c.sessionID, func(s *session.Session) error {
		s.Data.Authenticated = false
		s.Data.AuthToken = ""
		return nil
	}); err != nil {
		slog.Warn("session logout update failed", "sessionId", c.sessionID, "error", err)
	}
	c.mu.Lock()
	c.phone = ""
	c.mu.Unlock()
	h.trySend(c, Envelope{Type: EventAuthLoggedOut, SessionID: c.sessionID, Data: authLoggedOutPayload{Phone: phone, Timestamp: time.Now()}})
}

func (h *Hub) handleAuthCheck(ctx context.Context, c *connection, raw json.RawMessage) {
	var p authCheckPayload
	_ = json.Unmarshal(raw, &p)
	phone := p.Phone
	c.mu.Lock()
	if phone == "" {
		phone = c.phone
	}
	c.mu.Unlock()

	if phone == "" {
		h.trySend(c, Envelope{Type: EventAuthStatus, SessionID: c.sessionID, Data: authStatusPayload{Authenticated: false}})
		return
	}
	user, err := h.Auth.GetByPhone(ctx, phone)
	if err != nil {
		h.trySend(c, Envelope{Type: EventAuthStatus, SessionID: c.sessionID, Data: authStatusPayload{Authenticated: false}})
		return
	}
	h.trySend(c, Envelope{Type: EventAuthStatus, SessionID: c.sessionID, Data: authStatusPayload{
		Authenticated: true, UserID: user.UserID, UserName: strings.TrimSpace(user.FirstName + " " + user.LastName),
	}})
}

func (h *Hub) handleSessionClear(ctx context.Context, c *connection) {
	if err := h.Sessions.Clear(ctx, c.sessionID); err != nil {
		slog.Warn("session clear failed", "sessionId", c.sessionID, "error", err)
		h.sendError(c, "clear_failed", "could not clear session")
	}
}
