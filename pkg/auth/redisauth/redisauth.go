// Package redisauth implements auth.Store and auth.PubSub against Redis —
// the TTL'd JSON record per phone plus the auth:events channel a
// multi-process deployment needs for cross-instance sync (spec §4.8,
// §6.3). The connection/pipeline shape follows
// itsneelabh-gomind's ui.RedisSessionManager (same pack); PUBLISH/
// SUBSCRIBE usage follows the same package's core redis discovery client.
package redisauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowtalk/engine/pkg/auth"
)

const (
	keyPrefix    = "flowtalk:auth:user:"
	eventsChannel = "auth:events"
)

func userKey(phone string) string { return keyPrefix + phone }

// Store is a Redis-backed auth.Store.
type Store struct {
	client *redis.Client
}

// NewStore builds a Store against an already-connected client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, phone string) (*auth.User, error) {
	raw, err := s.client.Get(ctx, userKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get auth user %s: %w", phone, err)
	}
	var u auth.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode auth user %s: %w", phone, err)
	}
	return &u, nil
}

func (s *Store) Upsert(ctx context.Context, user *auth.User) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode auth user %s: %w", user.Phone, err)
	}
	if err := s.client.Set(ctx, userKey(user.Phone), encoded, auth.TTL).Err(); err != nil {
		return fmt.Errorf("redis set auth user %s: %w", user.Phone, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, userKey(phone)).Err(); err != nil {
		return fmt.Errorf("redis delete auth user %s: %w", phone, err)
	}
	return nil
}

// PubSub is a Redis-backed auth.PubSub using the shared auth:events
// channel (spec §6.3).
type PubSub struct {
	client *redis.Client
}

// NewPubSub builds a PubSub against an already-connected client.
func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (p *PubSub) Publish(ctx context.Context, event auth.Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode auth event: %w", err)
	}
	if err := p.client.Publish(ctx, eventsChannel, encoded).Err(); err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	return nil
}

func (p *PubSub) Subscribe(ctx context.Context) (<-chan auth.Event, func(), error) {
	sub := p.client.Subscribe(ctx, eventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe auth events: %w", err)
	}

	out := make(chan auth.Event, 16)
	raw := sub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var event auth.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Close()
	}
	return out, cancel, nil
}

var (
	_ auth.Store  = (*Store)(nil)
	_ auth.PubSub = (*PubSub)(nil)
)
