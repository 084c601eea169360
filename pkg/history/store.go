// Package history defines the persistence interfaces for session logs and
// user accounts. The canonical implementation is the PostgreSQL store in the
// postgres subpackage; the mock subpackage provides in-memory test doubles.
package history

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned when the requested record does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("history: not found")

	// ErrSessionDeleted is returned when saving to a soft-deleted session.
	ErrSessionDeleted = errors.New("history: session is deleted")

	// ErrEmailTaken is returned when creating a user with an existing email.
	ErrEmailTaken = errors.New("history: email already registered")
)

// Store persists session logs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveSessionLog upserts a session log. For an existing session the
	// durations are accumulated (each save carries only the latest
	// connection's share), scalar fields are updated, and messages are
	// append-only: the stored prefix is kept and only messages beyond the
	// stored count are inserted. Saving to a soft-deleted session returns
	// ErrSessionDeleted.
	SaveSessionLog(ctx context.Context, log SessionLog) error

	// RecentSessionByUser returns the user's most recently ended live
	// session with its messages, or ErrNotFound.
	RecentSessionByUser(ctx context.Context, userID int64) (*SessionLog, error)

	// SessionByID returns the user's session with its messages, or
	// ErrNotFound. Soft-deleted sessions are invisible.
	SessionByID(ctx context.Context, sessionID string, userID int64) (*SessionLog, error)

	// SoftDeleteExpired marks sessions created before now-ttl as deleted and
	// returns how many were affected.
	SoftDeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// UserStore persists user accounts.
//
// Implementations must be safe for concurrent use.
type UserStore interface {
	// CreateUser registers a new account and returns it. The password must
	// already be hashed. Returns ErrEmailTaken on duplicate email.
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)

	// UserByEmail returns the account for email, or ErrNotFound.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// UserByID returns the account with the given ID, or ErrNotFound.
	UserByID(ctx context.Context, id int64) (*User, error)
}
