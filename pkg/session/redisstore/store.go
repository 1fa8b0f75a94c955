// Package redisstore implements session.Store against Redis, the backend
// used once a deployment runs more than one process (spec §6.3: "Sessions:
// ephemeral TTL store keyed by sessionId, with secondary index phone ->
// set<sessionId>"). The key/value and secondary-index layout follows
// itsneelabh-gomind's ui.RedisSessionManager (same pack), adapted from its
// per-field hash encoding to a single JSON blob per session since
// session.Data nests a Location pointer and a free-form Cart map that a
// flat hash would have to re-flatten.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowtalk/engine/pkg/session"
)

const (
	keyPrefix      = "flowtalk:session:"
	phoneKeyPrefix = "flowtalk:session:phone:"
	maxCASRetries  = 5
)

// Store is a Redis-backed session.Store. Every method satisfies the
// session.Store interface so the orchestrator and flow engine runtime
// never know which backend they're talking to.
type Store struct {
	client  *redis.Client
	idleTTL time.Duration
}

// New builds a Store against an already-connected client.
func New(client *redis.Client, idleTTL time.Duration) *Store {
	if idleTTL <= 0 {
		idleTTL = session.DefaultTTL
	}
	return &Store{client: client, idleTTL: idleTTL}
}

func sessionKey(id string) string { return keyPrefix + id }
func phoneKey(phone string) string { return phoneKeyPrefix + phone }

func (s *Store) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *Store) GetOrCreate(ctx context.Context, sessionID, identifier, platform string) (*session.Session, error) {
	existing, err := s.Get(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:    sessionID,
		Identifier:   identifier,
		Platform:     platform,
		CreatedAt:    now,
		LastActiveAt: now,
		TTL:          s.idleTTL,
		Version:      1,
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	slog.Debug("session created", "sessionId", sessionID, "platform", platform)
	return sess, nil
}

// Update performs an optimistic read-modify-write loop guarded by a Redis
// WATCH transaction on the session key: a concurrent writer between the
// GET and the EXEC aborts the transaction, which the loop logs and retries
// against the freshly-read value (spec §4.6: "conflicts are logged and
// last-write-wins").
func (s *Store) Update(ctx context.Context, sessionID string, fn session.UpdateFunc) (*session.Session, error) {
	key := sessionKey(sessionID)
	var result *session.Session

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return session.ErrNotFound
			}
			if err != nil {
				return err
			}
			var sess session.Session
			if err := json.Unmarshal(raw, &sess); err != nil {
				return err
			}

			working := sess.Clone()
			if err := fn(working); err != nil {
				return err
			}
			working.LastActiveAt = time.Now()
			working.Version = sess.Version + 1

			encoded, err := json.Marshal(working)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, working.TTL)
				if working.Data.Phone != sess.Data.Phone {
					if sess.Data.Phone != "" {
						pipe.SRem(ctx, phoneKey(sess.Data.Phone), sessionID)
					}
					if working.Data.Phone != "" {
						pipe.SAdd(ctx, phoneKey(working.Data.Phone), sessionID)
						pipe.Expire(ctx, phoneKey(working.Data.Phone), session.AbsoluteTTL)
					}
				}
				return nil
			})
			if err == nil {
				result = working
			}
			return err
		}, key)

		if txErr == nil {
			return result, nil
		}
		if errors.Is(txErr, session.ErrNotFound) {
			return nil, session.ErrNotFound
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			slog.Warn("session update version conflict, retrying", "sessionId", sessionID, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("redis update session %s: %w", sessionID, txErr)
	}
	return nil, fmt.Errorf("session %s: %w after %d attempts", sessionID, session.ErrVersionConflict, maxCASRetries)
}

func (s *Store) write(ctx context.Context, sess *session.Session) error {
	encoded, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.SessionID, err)
	}
	ttl := sess.TTL
	if ttl <= 0 {
		ttl = s.idleTTL
	}
	if err := s.client.Set(ctx, sessionKey(sess.SessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *Store) SetData(ctx context.Context, sessionID, key string, value any) (*session.Session, error) {
	return s.Update(ctx, sessionID, func(sess *session.Session) error {
		switch key {
		case "userId":
			sess.Data.UserID, _ = value.(string)
		case "authenticated":
			sess.Data.Authenticated, _ = value.(bool)
		case "authToken":
			sess.Data.AuthToken, _ = value.(string)
		case "phone":
			sess.Data.Phone, _ = value.(string)
		case "moduleName":
			sess.Data.ModuleName, _ = value.(string)
		case "activeRunId":
			sess.Data.ActiveRunID, _ = value.(string)
		case "pendingIntent":
			sess.Data.PendingIntent, _ = value.(string)
		case "location":
			if loc, ok := value.(*session.Location); ok {
				sess.Data.Location = loc
			}
		case "cart":
			if cart, ok := value.(map[string]any); ok {
				sess.Data.Cart = cart
			}
		default:
			if sess.Data.Cart == nil {
				sess.Data.Cart = make(map[string]any)
			}
			sess.Data.Cart[key] = value
		}
		return nil
	})
}

func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return session.ErrNotFound
	}
	if err := s.client.Expire(ctx, key, s.idleTTL).Err(); err != nil {
		return fmt.Errorf("redis touch session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	if sess != nil && sess.Data.Phone != "" {
		pipe.SRem(ctx, phoneKey(sess.Data.Phone), sessionID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis clear session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) SessionsByPhone(ctx context.Context, phone string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, phoneKey(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sessions by phone %s: %w", phone, err)
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Get(ctx, id); err == nil {
			live = append(live, id)
		}
	}
	return live, nil
}

var _ session.Store = (*Store)(nil)
