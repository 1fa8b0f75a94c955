// Package auth implements the Centralized Auth Service (C8): a
// phone-keyed authenticated-user record shared across channels, with
// pub/sub so a login on one channel becomes visible to live sessions on
// another (spec §3.1 Authenticated User, §4.8).
package auth

import "time"

// User is the authenticated-user record keyed by normalized phone (spec
// §3.1: "Authenticated User (keyed by normalized phone)").
type User struct {
	UserID          string          `json:"userId"`
	Phone           string          `json:"phone"`
	FirstName       string          `json:"firstName"`
	LastName        string          `json:"lastName,omitempty"`
	Email           string          `json:"email,omitempty"`
	Token           string          `json:"token"`
	AuthenticatedAt time.Time       `json:"authenticatedAt"`
	LastActiveAt    time.Time       `json:"lastActiveAt"`
	Channels        map[string]bool `json:"channels"`
}

// EventType distinguishes login from logout notifications on the
// auth:events pub/sub channel (spec §4.8).
type EventType string

// Recognized auth event types.
const (
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"
)

// Event is published to every live session for a phone when its auth state
// changes on another channel (spec §4.8: "Subscribers on other active
// sessions with the same phone receive the event and update their session
// snapshots").
type Event struct {
	Type    EventType `json:"type"`
	Phone   string    `json:"phone"`
	Channel string    `json:"channel"`
	UserID  string    `json:"userId,omitempty"`
	Token   string    `json:"token,omitempty"`
}

// TTL is the record lifetime refreshed on every use (spec §3.1: "TTL 7
// days; refreshed on use").
const TTL = 7 * 24 * time.Hour
