// Package mock provides an in-memory test double for the history store
// interfaces. It mirrors the PostgreSQL store's semantics (duration
// accumulation, append-only messages, soft deletion) closely enough for
// handler and service tests.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/parrotalk/parrotalk/pkg/history"
)

// Compile-time interface checks.
var (
	_ history.Store     = (*Store)(nil)
	_ history.UserStore = (*Store)(nil)
)

type storedSession struct {
	log       history.SessionLog
	deleted   bool
	createdAt time.Time
}

// Store is an in-memory implementation of [history.Store] and
// [history.UserStore]. The zero value is not usable; create with [NewStore].
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*storedSession
	users    map[int64]*history.User
	nextID   int64
	now      func() time.Time

	// SaveErr, if non-nil, is returned by SaveSessionLog.
	SaveErr error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*storedSession),
		users:    make(map[int64]*history.User),
		nextID:   1,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Used by TTL tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SaveSessionLog implements [history.Store].
func (s *Store) SaveSessionLog(_ context.Context, log history.SessionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	existing, ok := s.sessions[log.SessionID]
	if !ok {
		cp := log
		cp.Messages = append([]history.StoredMessage{}, log.Messages...)
		s.sessions[log.SessionID] = &storedSession{log: cp, createdAt: s.now()}
		return nil
	}
	if existing.deleted {
		return history.ErrSessionDeleted
	}

	prev := &existing.log
	prev.Title = log.Title
	prev.StartedAt = log.StartedAt
	prev.EndedAt = log.EndedAt
	prev.TotalDurationSec += log.TotalDurationSec
	prev.UserSpeechDurationSec += log.UserSpeechDurationSec
	if log.UserID != 0 {
		prev.UserID = log.UserID
	}
	if log.ScenarioPlace != "" {
		prev.ScenarioPlace = log.ScenarioPlace
	}
	if log.ScenarioPartner != "" {
		prev.ScenarioPartner = log.ScenarioPartner
	}
	if log.ScenarioGoal != "" {
		prev.ScenarioGoal = log.ScenarioGoal
	}
	if log.ScenarioState != "" {
		prev.ScenarioState = log.ScenarioState
	}
	if log.ScenarioCompletedAt != nil {
		prev.ScenarioCompletedAt = log.ScenarioCompletedAt
	}
	if len(log.Messages) > len(prev.Messages) {
		prev.Messages = append(prev.Messages, log.Messages[len(prev.Messages):]...)
	}
	return nil
}

// RecentSessionByUser implements [history.Store].
func (s *Store) RecentSessionByUser(_ context.Context, userID int64) (*history.SessionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *storedSession
	for _, sess := range s.sessions {
		if sess.deleted || sess.log.UserID != userID {
			continue
		}
		if best == nil || sess.log.EndedAt.After(best.log.EndedAt) {
			best = sess
		}
	}
	if best == nil {
		return nil, history.ErrNotFound
	}
	cp := best.log
	return &cp, nil
}

// SessionByID implements [history.Store].
func (s *Store) SessionByID(_ context.Context, sessionID string, userID int64) (*history.SessionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.deleted || sess.log.UserID != userID {
		return nil, history.ErrNotFound
	}
	cp := sess.log
	return &cp, nil
}

// SoftDeleteExpired implements [history.Store].
func (s *Store) SoftDeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var n int64
	for _, sess := range s.sessions {
		if !sess.deleted && sess.createdAt.Before(cutoff) {
			sess.deleted = true
			n++
		}
	}
	return n, nil
}

// Deleted reports whether the session is soft-deleted. Test helper.
func (s *Store) Deleted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return ok && sess.deleted
}

// CreateUser implements [history.UserStore].
func (s *Store) CreateUser(_ context.Context, email, passwordHash string) (*history.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lowered := strings.ToLower(email)
	for _, u := range s.users {
		if strings.ToLower(u.Email) == lowered {
			return nil, history.ErrEmailTaken
		}
	}
	u := &history.User{
		ID:           s.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.nextID++
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

// UserByEmail implements [history.UserStore].
func (s *Store) UserByEmail(_ context.Context, email string) (*history.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, history.ErrNotFound
}

// UserByID implements [history.UserStore].
func (s *Store) UserByID(_ context.Context, id int64) (*history.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
