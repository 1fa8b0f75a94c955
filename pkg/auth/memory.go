package auth

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store implementation: the default for
// single-process deployments and for tests. Multi-process deployments use
// the Redis-backed Store in redisauth.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Get(_ context.Context, phone string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[phone]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	clone.Channels = make(map[string]bool, len(u.Channels))
	for k, v := range u.Channels {
		clone.Channels[k] = v
	}
	return &clone, nil
}

func (m *MemoryStore) Upsert(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *user
	clone.Channels = make(map[string]bool, len(user.Channels))
	for k, v := range user.Channels {
		clone.Channels[k] = v
	}
	m.users[user.Phone] = &clone
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, phone)
	return nil
}

// MemoryPubSub is an in-process fan-out PubSub: every live Subscribe call
// receives every Publish. Used in single-process deployments and tests;
// multi-process deployments use the Redis-backed PubSub in redisauth.
type MemoryPubSub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewMemoryPubSub creates an empty MemoryPubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[int]chan Event)}
}

func (p *MemoryPubSub) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber drops the event rather than blocking the
			// publisher — pub/sub is explicitly best-effort (spec §5:
			// "at-least-once delivery ... idempotent on the receiver").
		}
	}
	return nil
}

func (p *MemoryPubSub) Subscribe(_ context.Context) (<-chan Event, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	ch := make(chan Event, 16)
	p.subs[id] = ch
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ PubSub = (*MemoryPubSub)(nil)
)
