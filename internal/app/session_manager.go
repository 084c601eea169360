package app

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManySessions is returned by [SessionManager.Register] when the
// concurrent session cap is reached.
var ErrTooManySessions = errors.New("app: too many active sessions")

// defaultMaxSessions caps concurrent relay sessions when no explicit limit is
// configured. Each session holds two WebSocket connections and an upstream
// realtime slot, so an unbounded count exhausts the upstream quota first.
const defaultMaxSessions = 100

// SessionInfo holds metadata about one active relay session.
type SessionInfo struct {
	// SessionID is the tracker-assigned session identifier.
	SessionID string

	// UserID is the authenticated owner, 0 for anonymous sessions.
	UserID int64

	// RemoteAddr is the client's network address as reported by the HTTP
	// request.
	RemoteAddr string

	// StartedAt is when the session was registered.
	StartedAt time.Time
}

// SessionManager tracks the relay sessions currently running so the server
// can enforce a concurrency cap and report liveness. All methods are safe for
// concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	max      int
	sessions map[string]SessionInfo
}

// NewSessionManager creates a SessionManager allowing up to max concurrent
// sessions. A non-positive max selects the default cap.
func NewSessionManager(max int) *SessionManager {
	if max <= 0 {
		max = defaultMaxSessions
	}
	return &SessionManager{
		max:      max,
		sessions: make(map[string]SessionInfo),
	}
}

// Register adds a session and returns a release function the caller must
// invoke when the session ends. The release is idempotent. Returns
// [ErrTooManySessions] at the cap.
func (sm *SessionManager) Register(info SessionInfo) (func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.max {
		return nil, ErrTooManySessions
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	sm.sessions[info.SessionID] = info

	var once sync.Once
	release := func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.sessions, info.SessionID)
		})
	}
	return release, nil
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Active returns a snapshot of the active sessions, in no particular order.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, info := range sm.sessions {
		out = append(out, info)
	}
	return out
}
