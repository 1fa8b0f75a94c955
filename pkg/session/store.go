package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for Store implementations.
var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
)

// DefaultTTL is the idle TTL refreshed on every activity (spec §3.1: "TTL
// refreshed on every activity; default 1 hour idle").
const DefaultTTL = 1 * time.Hour

// AbsoluteTTL caps a session's lifetime regardless of activity (spec §3.1:
// "24 hours absolute").
const AbsoluteTTL = 24 * time.Hour

// UpdateFunc mutates a cloned Session in place. Returning an error aborts
// the update without writing anything back.
type UpdateFunc func(*Session) error

// Store is the persistence contract for the Session Store (C6, spec
// §4.6): get, set/create, merge-update, per-key data set, touch, and
// clear. Every mutation bumps Session.Version. The in-process Manager
// serializes writes under a mutex; the Redis store detects a concurrent
// write, logs it and retries against the fresh value, and returns
// ErrVersionConflict once its bounded retries are used up.
type Store interface {
	// Get returns the session for sessionID, or ErrNotFound if it does
	// not exist or has expired.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// GetOrCreate returns the existing session for sessionID, or creates
	// one scoped to identifier/platform if none exists yet (spec §4.7
	// step 2: "session = store.get(sessionId) ?? store.create(...)").
	GetOrCreate(ctx context.Context, sessionID, identifier, platform string) (*Session, error)

	// Update loads the current session, applies fn to a clone, and
	// writes it back under CAS. Touches LastActiveAt and refreshes TTL
	// as part of the same write.
	Update(ctx context.Context, sessionID string, fn UpdateFunc) (*Session, error)

	// SetData sets a single key, per spec §4.6's setData(key, value)
	// operation: a well-known key (userId, authenticated, authToken, phone,
	// moduleName, activeRunId, pendingIntent, location, cart) sets the
	// matching Data field; any other key is stored in Data.Cart.
	SetData(ctx context.Context, sessionID, key string, value any) (*Session, error)

	// Touch refreshes LastActiveAt/TTL without otherwise mutating the
	// session.
	Touch(ctx context.Context, sessionID string) error

	// Clear destroys the session (spec §3.2: "Session: ... destroyed by
	// TTL or explicit clear").
	Clear(ctx context.Context, sessionID string) error

	// SessionsByPhone returns every live session id for the given phone,
	// the secondary index spec §6.3 requires for cross-channel auth
	// sync (C8 publishes to every session found here).
	SessionsByPhone(ctx context.Context, phone string) ([]string, error)
}
