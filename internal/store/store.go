// ABOUTME: Store types and sentinels for on-device persistence
// ABOUTME: Sessions, local state namespace, and software credentials

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCredential is returned when a credential for the username already exists
var ErrDuplicateCredential = errors.New("credential already exists")

// Session is one persistent-session entry. The session layer treats the
// Token as opaque SDK state; it only ever counts entries or clears the
// collection.
type Session struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Credential is a software passkey record owned by the development SDK.
type Credential struct {
	ID        string // base64url credential handle
	UserID    string
	Username  string
	Seed      []byte // root derivation seed
	Public    []byte // authenticator public key
	Attest    []byte // serialized webauthn credential metadata
	SignCount uint32
	CreatedAt time.Time
}

// Well-known local state keys. Each key is independently read and
// written; there are no multi-key transactions.
const (
	StateKeyAuthMirror      = "auth_mirror"
	StateKeyRecoveryConfig  = "social_recovery_config"
	StateKeySessionDuration = "session_duration_days"
)
