package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the persistence contract for Authenticated User records,
// keyed by normalized phone (spec §4.8).
type Store interface {
	Get(ctx context.Context, phone string) (*User, error)
	Upsert(ctx context.Context, user *User) error
	Delete(ctx context.Context, phone string) error
}

// PubSub is the cross-instance notification contract (spec §4.8, §6.3:
// "pub/sub channel auth:events for cross-instance notification").
// Publish is best-effort: neither backend redelivers an event, the
// in-memory one drops it for a subscriber whose buffer is full, and Redis
// PUBLISH reaches only subscribers connected at that moment. Subscribe's
// returned channel must be drained
// by exactly one subscriber per live connection, per the gateway owning
// subscriptions rather than the engine (spec §9 design note).
type PubSub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context) (events <-chan Event, cancel func(), err error)
}

// ErrNotFound is returned by Store.Get when no record exists for phone.
var ErrNotFound = fmt.Errorf("auth user not found")

// Service implements the Centralized Auth Service (C8) operations: upsert
// + publish on login, delete + publish on logout, TTL-refreshing reads.
type Service struct {
	Store  Store
	PubSub PubSub
}

// New constructs a Service over the given Store and PubSub.
func New(store Store, pubsub PubSub) *Service {
	return &Service{Store: store, PubSub: pubsub}
}

// Profile is the subset of profile data a successful OTP verify supplies
// (spec §6.2 AuthResult.Profile / §3.1 Authenticated User).
type Profile struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
}

// AuthenticateUser upserts the record for phone and publishes a LOGIN
// event so other live sessions for the same phone can sync (spec §4.8).
func (s *Service) AuthenticateUser(ctx context.Context, phone, token string, profile Profile, channel string) (*User, error) {
	now := time.Now()
	existing, err := s.Store.Get(ctx, phone)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}

	user := &User{
		UserID:          profile.UserID,
		Phone:           phone,
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
		Email:           profile.Email,
		Token:           token,
		AuthenticatedAt: now,
		LastActiveAt:    now,
		Channels:        map[string]bool{channel: true},
	}
	if existing != nil {
		user.AuthenticatedAt = existing.AuthenticatedAt
		for ch := range existing.Channels {
			user.Channels[ch] = true
		}
	}

	if err := s.Store.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}

	if err := s.PubSub.Publish(ctx, Event{Type: EventLogin, Phone: phone, Channel: channel, UserID: user.UserID, Token: token}); err != nil {
		slog.Warn("auth login publish failed", "phone", phone, "error", err)
	}
	return user, nil
}

// LogoutUser deletes the phone's record and publishes a LOGOUT event. If
// channel is non-empty and the record survives on other channels, the
// record is kept but that channel is removed from its set; an empty
// channel logs the user out everywhere (spec §4.8: logoutUser(phone,
// channel?)).
func (s *Service) LogoutUser(ctx context.Context, phone, channel string) error {
	if channel != "" {
		existing, err := s.Store.Get(ctx, phone)
		if err == nil {
			delete(existing.Channels, channel)
			if len(existing.Channels) > 0 {
				if err := s.Store.Upsert(ctx, existing); err != nil {
					return fmt.Errorf("logout user: %w", err)
				}
				return s.publishLogout(ctx, phone, channel)
			}
		} else if err != ErrNotFound {
			return fmt.Errorf("logout user: %w", err)
		}
	}

	if err := s.Store.Delete(ctx, phone); err != nil {
		return fmt.Errorf("logout user: %w", err)
	}
	return s.publishLogout(ctx, phone, channel)
}

func (s *Service) publishLogout(ctx context.Context, phone, channel string) error {
	if err := s.PubSub.Publish(ctx, Event{Type: EventLogout, Phone: phone, Channel: channel}); err != nil {
		slog.Warn("auth logout publish failed", "phone", phone, "error", err)
	}
	return nil
}

// GetByPhone returns the authenticated user for phone, refreshing its TTL
// on access (spec §3.2: "Destroyed by logout or TTL", §4.8 "TTL-refreshing
// read").
func (s *Service) GetByPhone(ctx context.Context, phone string) (*User, error) {
	user, err := s.Store.Get(ctx, phone)
	if err != nil {
		return nil, err
	}
	user.LastActiveAt = time.Now()
	if err := s.Store.Upsert(ctx, user); err != nil {
		slog.Warn("auth record TTL refresh failed", "phone", phone, "error", err)
	}
	return user, nil
}

// Subscribe exposes the underlying pub/sub channel for a gateway
// connection to watch for cross-channel auth changes (spec §4.8,
// §9: "subscribers are per-connection in the gateway, not in the
// engine").
func (s *Service) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	return s.PubSub.Subscribe(ctx)
}
