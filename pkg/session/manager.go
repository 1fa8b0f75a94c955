package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// entry wraps a Session with the absolute-expiry deadline the background
// sweep checks; TTL (idle) is enforced by comparing LastActiveAt against
// now on every read, so a sweep interval longer than TTL never serves a
// stale session.
type entry struct {
	session *Session
	// absoluteDeadline is CreatedAt + AbsoluteTTL; a session is evicted
	// past this regardless of activity (spec §3.1: "24 hours absolute").
	absoluteDeadline time.Time
}

// Manager is the in-process Store implementation (C6). It is the default
// backend for single-process deployments and for tests; multi-process
// deployments use redisstore.Store instead, which implements the same
// Store interface against shared state.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*entry
	byPhone   map[string]map[string]struct{}
	idleTTL   time.Duration
	sweepStop chan struct{}
}

// NewManager creates an empty Manager with the spec-default idle TTL and
// starts its background expiry sweep.
func NewManager() *Manager {
	m := &Manager{
		sessions:  make(map[string]*entry),
		byPhone:   make(map[string]map[string]struct{}),
		idleTTL:   DefaultTTL,
		sweepStop: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// NewManagerWithTTL creates a Manager with a caller-specified idle TTL
// (spec §6.4 store.session.ttlSeconds), for boot wiring from config.
func NewManagerWithTTL(idleTTL time.Duration) *Manager {
	m := NewManager()
	m.idleTTL = idleTTL
	return m
}

// Close stops the background sweep. Safe to call once.
func (m *Manager) Close() {
	close(m.sweepStop)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		if m.expired(e, now) {
			m.removeLocked(id, e.session.Data.Phone)
		}
	}
}

func (m *Manager) expired(e *entry, now time.Time) bool {
	if now.After(e.absoluteDeadline) {
		return true
	}
	ttl := e.session.TTL
	if ttl <= 0 {
		ttl = m.idleTTL
	}
	return now.Sub(e.session.LastActiveAt) > ttl
}

func (m *Manager) removeLocked(sessionID, phone string) {
	delete(m.sessions, sessionID)
	if phone == "" {
		return
	}
	if set, ok := m.byPhone[phone]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.byPhone, phone)
		}
	}
}

func (m *Manager) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(e, time.Now()) {
		m.removeLocked(sessionID, e.session.Data.Phone)
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

func (m *Manager) GetOrCreate(_ context.Context, sessionID, identifier, platform string) (*Session, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[sessionID]; ok && !m.expired(e, now) {
		return e.session.Clone(), nil
	}

	s := &Session{
		SessionID:    sessionID,
		Identifier:   identifier,
		Platform:     platform,
		CreatedAt:    now,
		LastActiveAt: now,
		TTL:          m.idleTTL,
		Version:      1,
	}
	m.sessions[sessionID] = &entry{session: s, absoluteDeadline: now.Add(AbsoluteTTL)}
	slog.Debug("session created", "sessionId", sessionID, "platform", platform)
	return s.Clone(), nil
}

func (m *Manager) Update(_ context.Context, sessionID string, fn UpdateFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok || m.expired(e, time.Now()) {
		return nil, ErrNotFound
	}

	working := e.session.Clone()
	oldPhone := working.Data.Phone
	if err := fn(working); err != nil {
		return nil, err
	}
	working.LastActiveAt = time.Now()
	working.Version = e.session.Version + 1

	m.sessions[sessionID] = &entry{session: working, absoluteDeadline: e.absoluteDeadline}
	if working.Data.Phone != oldPhone {
		m.reindexPhoneLocked(sessionID, oldPhone, working.Data.Phone)
	}
	return working.Clone(), nil
}

func (m *Manager) reindexPhoneLocked(sessionID, oldPhone, newPhone string) {
	if oldPhone != "" {
		if set, ok := m.byPhone[oldPhone]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(m.byPhone, oldPhone)
			}
		}
	}
	if newPhone != "" {
		set, ok := m.byPhone[newPhone]
		if !ok {
			set = make(map[string]struct{})
			m.byPhone[newPhone] = set
		}
		set[sessionID] = struct{}{}
	}
}

func (m *Manager) SetData(ctx context.Context, sessionID, key string, value any) (*Session, error) {
	return m.Update(ctx, sessionID, func(s *Session) error {
		switch key {
		case "userId":
			s.Data.UserID, _ = value.(string)
		case "authenticated":
			s.Data.Authenticated, _ = value.(bool)
		case "authToken":
			s.Data.AuthToken, _ = value.(string)
		case "phone":
			s.Data.Phone, _ = value.(string)
		case "moduleName":
			s.Data.ModuleName, _ = value.(string)
		case "activeRunId":
			s.Data.ActiveRunID, _ = value.(string)
		case "pendingIntent":
			s.Data.PendingIntent, _ = value.(string)
		case "location":
			if loc, ok := value.(*Location); ok {
				s.Data.Location = loc
			}
		case "cart":
			if cart, ok := value.(map[string]any); ok {
				s.Data.Cart = cart
			}
		default:
			if s.Data.Cart == nil {
				s.Data.Cart = make(map[string]any)
			}
			s.Data.Cart[key] = value
		}
		return nil
	})
}

func (m *Manager) Touch(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || m.expired(e, time.Now()) {
		return ErrNotFound
	}
	e.session.LastActiveAt = time.Now()
	return nil
}

func (m *Manager) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	m.removeLocked(sessionID, e.session.Data.Phone)
	return nil
}

func (m *Manager) SessionsByPhone(_ context.Context, phone string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byPhone[phone]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		if e, ok := m.sessions[id]; ok && !m.expired(e, time.Now()) {
			out = append(out, id)
		}
	}
	return out, nil
}
