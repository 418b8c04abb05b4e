// ABOUTME: Software credential records owned by the development SDK
// ABOUTME: One row per username; seeds never leave the device unencrypted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutCredential inserts a new credential. Returns ErrDuplicateCredential
// when the username is already registered on this device.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}

	query := `
		INSERT INTO credentials (id, user_id, username, seed, public, attest, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.Username,
		cred.Seed,
		cred.Public,
		cred.Attest,
		cred.SignCount,
		cred.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("credential for %q: %w", cred.Username, ErrDuplicateCredential)
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("stored credential", "id", cred.ID, "username", cred.Username)
	return nil
}

// GetCredentialByUsername returns the credential registered under the
// username. Returns ErrNotFound when absent.
func (s *SQLiteStore) GetCredentialByUsername(ctx context.Context, username string) (*Credential, error) {
	query := `
		SELECT id, user_id, username, seed, public, attest, sign_count, created_at
		FROM credentials
		WHERE username = ?
	`
	return s.scanCredential(s.db.QueryRowContext(ctx, query, username))
}

// GetCredentialByUser returns the credential for a user ID.
func (s *SQLiteStore) GetCredentialByUser(ctx context.Context, userID string) (*Credential, error) {
	query := `
		SELECT id, user_id, username, seed, public, attest, sign_count, created_at
		FROM credentials
		WHERE user_id = ?
	`
	return s.scanCredential(s.db.QueryRowContext(ctx, query, userID))
}

// AnyCredential returns an arbitrary credential, used to decide whether a
// login ceremony can run on this device at all. Returns ErrNotFound when
// the device holds none.
func (s *SQLiteStore) AnyCredential(ctx context.Context) (*Credential, error) {
	query := `
		SELECT id, user_id, username, seed, public, attest, sign_count, created_at
		FROM credentials
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanCredential(s.db.QueryRowContext(ctx, query))
}

// BumpSignCount records one authenticator use.
func (s *SQLiteStore) BumpSignCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE credentials SET sign_count = sign_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("bumping sign count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanCredential(row *sql.Row) (*Credential, error) {
	var cred Credential
	var createdAt string

	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Username,
		&cred.Seed,
		&cred.Public,
		&cred.Attest,
		&cred.SignCount,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	if cred.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &cred, nil
}
