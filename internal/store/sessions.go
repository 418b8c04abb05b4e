// ABOUTME: Persistent-session collection backed by SQLite
// ABOUTME: The session layer only counts and clears; the SDK owns the contents

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PutSession inserts or replaces a persistent session.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}

	query := `
		INSERT OR REPLACE INTO sessions (id, user_id, token, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.UserID,
		sess.Token,
		sess.CreatedAt.Format(time.RFC3339),
		sess.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("stored session", "id", sess.ID, "user_id", sess.UserID, "expires_at", sess.ExpiresAt)
	return nil
}

// GetSessionByUser returns the most recent unexpired session for a user.
// Returns ErrNotFound when none exists.
func (s *SQLiteStore) GetSessionByUser(ctx context.Context, userID string) (*Session, error) {
	query := `
		SELECT id, user_id, token, created_at, expires_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	sess, err := s.scanSession(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// LatestSession returns the most recent unexpired session regardless of
// user. Returns ErrNotFound when the collection is empty or stale.
func (s *SQLiteStore) LatestSession(ctx context.Context) (*Session, error) {
	query := `
		SELECT id, user_id, token, created_at, expires_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT 1
	`
	sess, err := s.scanSession(s.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// CountSessions returns the number of unexpired sessions. The session
// layer uses this as an opaque "does a persistent session exist" probe.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`

	var n int
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC().Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// ClearSessions removes every session entry. Used on logout; the caller
// treats failures as best-effort.
func (s *SQLiteStore) ClearSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	s.logger.Debug("cleared sessions")
	return nil
}

// ExtendSessions slides every unexpired session's expiry to now+ttl.
// Implements the sliding-window session lifetime.
func (s *SQLiteStore) ExtendSessions(ctx context.Context, ttl time.Duration) error {
	now := time.Now().UTC()
	query := `UPDATE sessions SET expires_at = ? WHERE expires_at > ?`
	_, err := s.db.ExecContext(ctx, query,
		now.Add(ttl).Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("extending sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var createdAt, expiresAt string

	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &sess, nil
}
