package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parrotalk/parrotalk/pkg/history"
)

// Compile-time interface checks.
var (
	_ history.Store     = (*Store)(nil)
	_ history.UserStore = (*Store)(nil)
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

// Store is the PostgreSQL-backed history store. It implements both
// [history.Store] and [history.UserStore] over one connection pool.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Readiness probes use it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSessionLog implements [history.Store]. The whole upsert runs in one
// transaction so a concurrent save of the same session cannot interleave
// duration accumulation with message appends.
func (s *Store) SaveSessionLog(ctx context.Context, log history.SessionLog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		deleted       bool
		existingCount int
		exists        = true
	)
	err = tx.QueryRow(ctx, `
		SELECT s.deleted, (SELECT count(*) FROM chat_messages m WHERE m.session_id = s.session_id)
		FROM   conversation_sessions s
		WHERE  s.session_id = $1
		FOR UPDATE OF s`,
		log.SessionID,
	).Scan(&deleted, &existingCount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("history store: lookup session: %w", err)
	case deleted:
		return history.ErrSessionDeleted
	}

	if exists {
		// Accumulate durations; the caller sends only this connection's
		// share. Scenario fields update only when the caller captured them.
		_, err = tx.Exec(ctx, `
			UPDATE conversation_sessions SET
			    title                    = $2,
			    started_at               = $3,
			    ended_at                 = $4,
			    total_duration_sec       = total_duration_sec + $5,
			    user_speech_duration_sec = user_speech_duration_sec + $6,
			    user_id                  = COALESCE(NULLIF($7, 0::bigint), user_id),
			    scenario_place           = COALESCE(NULLIF($8, ''), scenario_place),
			    scenario_partner         = COALESCE(NULLIF($9, ''), scenario_partner),
			    scenario_goal            = COALESCE(NULLIF($10, ''), scenario_goal),
			    scenario_state           = COALESCE(NULLIF($11, ''), scenario_state),
			    scenario_completed_at    = COALESCE($12, scenario_completed_at)
			WHERE session_id = $1`,
			log.SessionID, log.Title, log.StartedAt, log.EndedAt,
			log.TotalDurationSec, log.UserSpeechDurationSec, log.UserID,
			log.ScenarioPlace, log.ScenarioPartner, log.ScenarioGoal,
			log.ScenarioState, log.ScenarioCompletedAt,
		)
		if err != nil {
			return fmt.Errorf("history store: update session: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_sessions
			    (session_id, user_id, title, started_at, ended_at,
			     total_duration_sec, user_speech_duration_sec,
			     scenario_place, scenario_partner, scenario_goal,
			     scenario_state, scenario_completed_at)
			VALUES ($1, NULLIF($2, 0::bigint), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			log.SessionID, log.UserID, log.Title, log.StartedAt, log.EndedAt,
			log.TotalDurationSec, log.UserSpeechDurationSec,
			log.ScenarioPlace, log.ScenarioPartner, log.ScenarioGoal,
			log.ScenarioState, log.ScenarioCompletedAt,
		)
		if err != nil {
			return fmt.Errorf("history store: insert session: %w", err)
		}
	}

	// Append-only: the caller sends the full history, only the suffix beyond
	// the stored count is new.
	if existingCount > len(log.Messages) {
		existingCount = len(log.Messages)
	}
	for _, msg := range log.Messages[existingCount:] {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_messages (session_id, role, content, timestamp, duration_sec)
			VALUES ($1, $2, $3, $4, $5)`,
			log.SessionID, msg.Role, msg.Content, msg.Timestamp, msg.DurationSec,
		)
		if err != nil {
			return fmt.Errorf("history store: insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history store: commit: %w", err)
	}
	return nil
}

// RecentSessionByUser implements [history.Store].
func (s *Store) RecentSessionByUser(ctx context.Context, userID int64) (*history.SessionLog, error) {
	return s.querySession(ctx, `
		SELECT session_id, COALESCE(user_id, 0), title, started_at, ended_at,
		       total_duration_sec, user_speech_duration_sec,
		       scenario_place, scenario_partner, scenario_goal,
		       scenario_state, scenario_completed_at
		FROM   conversation_sessions
		WHERE  user_id = $1 AND NOT deleted
		ORDER  BY ended_at DESC
		LIMIT  1`,
		userID)
}

// SessionByID implements [history.Store].
func (s *Store) SessionByID(ctx context.Context, sessionID string, userID int64) (*history.SessionLog, error) {
	return s.querySession(ctx, `
		SELECT session_id, COALESCE(user_id, 0), title, started_at, ended_at,
		       total_duration_sec, user_speech_duration_sec,
		       scenario_place, scenario_partner, scenario_goal,
		       scenario_state, scenario_completed_at
		FROM   conversation_sessions
		WHERE  session_id = $1 AND user_id = $2 AND NOT deleted`,
		sessionID, userID)
}

func (s *Store) querySession(ctx context.Context, q string, args ...any) (*history.SessionLog, error) {
	var log history.SessionLog
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&log.SessionID, &log.UserID, &log.Title, &log.StartedAt, &log.EndedAt,
		&log.TotalDurationSec, &log.UserSpeechDurationSec,
		&log.ScenarioPlace, &log.ScenarioPartner, &log.ScenarioGoal,
		&log.ScenarioState, &log.ScenarioCompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history store: query session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, timestamp, duration_sec
		FROM   chat_messages
		WHERE  session_id = $1
		ORDER  BY id`,
		log.SessionID)
	if err != nil {
		return nil, fmt.Errorf("history store: query messages: %w", err)
	}
	log.Messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.StoredMessage, error) {
		var m history.StoredMessage
		err := row.Scan(&m.Role, &m.Content, &m.Timestamp, &m.DurationSec)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: collect messages: %w", err)
	}
	return &log, nil
}

// SoftDeleteExpired implements [history.Store].
func (s *Store) SoftDeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation_sessions
		SET    deleted = TRUE
		WHERE  NOT deleted
		  AND  created_at < now() - ($1::bigint * interval '1 microsecond')`,
		ttl.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("history store: soft delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateUser implements [history.UserStore].
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*history.User, error) {
	var u history.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at`,
		email, passwordHash,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, history.ErrEmailTaken
		}
		return nil, fmt.Errorf("history store: create user: %w", err)
	}
	return &u, nil
}

// UserByEmail implements [history.UserStore].
func (s *Store) UserByEmail(ctx context.Context, email string) (*history.User, error) {
	return s.queryUser(ctx, `
		SELECT id, email, password_hash, created_at
		FROM   users
		WHERE  email = $1`,
		email)
}

// UserByID implements [history.UserStore].
func (s *Store) UserByID(ctx context.Context, id int64) (*history.User, error) {
	return s.queryUser(ctx, `
		SELECT id, email, password_hash, created_at
		FROM   users
		WHERE  id = $1`,
		id)
}

func (s *Store) queryUser(ctx context.Context, q string, args ...any) (*history.User, error) {
	var u history.User
	err := s.pool.QueryRow(ctx, q, args...).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history store: query user: %w", err)
	}
	return &u, nil
}
