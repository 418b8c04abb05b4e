// ABOUTME: Local state namespace keyed like the web original's localStorage
// ABOUTME: Auth mirror, social-recovery config blob, and session duration preference

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Session duration preference bounds, in days.
const (
	MinSessionDurationDays     = 1
	MaxSessionDurationDays     = 30
	DefaultSessionDurationDays = 7
)

// SetState writes one local state key. Keys are independent; there are no
// multi-key transactions.
func (s *SQLiteStore) SetState(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT OR REPLACE INTO local_state (key, value, updated_at)
		VALUES (?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing state %q: %w", key, err)
	}
	return nil
}

// GetState reads one local state key. Returns ErrNotFound when unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %q: %w", key, err)
	}
	return value, nil
}

// DeleteState removes one local state key. Deleting an absent key is not
// an error.
func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}

// SessionDuration returns the user's persistent-session duration
// preference, clamped to [1, 30] days. Unset or unparsable values fall
// back to the 7 day default.
func (s *SQLiteStore) SessionDuration(ctx context.Context) time.Duration {
	raw, err := s.GetState(ctx, StateKeySessionDuration)
	if err != nil {
		return time.Duration(DefaultSessionDurationDays) * 24 * time.Hour
	}
	days, err := strconv.Atoi(string(raw))
	if err != nil {
		return time.Duration(DefaultSessionDurationDays) * 24 * time.Hour
	}
	if days < MinSessionDurationDays {
		days = MinSessionDurationDays
	}
	if days > MaxSessionDurationDays {
		days = MaxSessionDurationDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// SetSessionDuration stores the duration preference in days, clamped to
// the allowed range.
func (s *SQLiteStore) SetSessionDuration(ctx context.Context, days int) error {
	if days < MinSessionDurationDays {
		days = MinSessionDurationDays
	}
	if days > MaxSessionDurationDays {
		days = MaxSessionDurationDays
	}
	return s.SetState(ctx, StateKeySessionDuration, []byte(strconv.Itoa(days)))
}
