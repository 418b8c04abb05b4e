// ABOUTME: Typed contract for the passkey/Web3 SDK the session layer drives
// ABOUTME: Defines the Client interface, derive modes, and result types

package sdk

import (
	"context"
)

// DeriveMode selects the key-exposure and session policy class for a
// wallet derivation. The mode decides whether private key material ever
// crosses the SDK boundary and whether persistent sessions may be used.
type DeriveMode string

const (
	// ModeAmbient exposes derived key material to the caller and forbids
	// persistent sessions.
	ModeAmbient DeriveMode = "ambient"
	// ModeStrict never exposes key material; persistent sessions allowed.
	ModeStrict DeriveMode = "strict"
	// ModeConvenient exposes key material and allows persistent sessions.
	ModeConvenient DeriveMode = "convenient"
	// ModeHardened signs with an authenticator-native key. The private key
	// is not extractable under any circumstance.
	ModeHardened DeriveMode = "hardened"
)

// ValidMode reports whether m is one of the four supported derive modes.
func ValidMode(m DeriveMode) bool {
	switch m {
	case ModeAmbient, ModeStrict, ModeConvenient, ModeHardened:
		return true
	}
	return false
}

// AllowsPersistentSession reports whether the mode permits a persistent
// session token to be written to the on-device store.
func (m DeriveMode) AllowsPersistentSession() bool {
	return m != ModeAmbient
}

// ExposesPrivateKey reports whether DeriveWallet results carry the
// private key for this mode.
func (m DeriveMode) ExposesPrivateKey() bool {
	return m == ModeAmbient || m == ModeConvenient
}

// User identifies the authenticated account.
type User struct {
	ID              string
	Username        string
	DisplayName     string
	EthereumAddress string
	CredentialID    string // optional, base64url credential handle
}

// DerivedWallet is the transient result of a derive operation. It is
// caller-owned; the SDK does not retain it.
type DerivedWallet struct {
	Address    string
	PrivateKey string // hex, empty unless the mode exposes it
	PublicKey  string // hex, uncompressed
}

// SecurityScore summarizes how well the account is protected.
type SecurityScore struct {
	Total         int
	Level         string
	NextMilestone string
	Breakdown     map[string]int
}

// BackupStatus is a read-only snapshot of the account's backup posture.
type BackupStatus struct {
	SecurityScore  SecurityScore
	PasskeySync    bool
	RecoveryPhrase bool
	BackupExists   bool
}

// RestoredAccount is returned when a backup is decrypted back into an
// account.
type RestoredAccount struct {
	Mnemonic        string
	EthereumAddress string
}

// RegisterOptions parameterizes account creation.
type RegisterOptions struct {
	Username string
}

// LoginOptions parameterizes session establishment.
type LoginOptions struct {
	// RequireReauth forces an interactive ceremony even when a persistent
	// session could restore silently.
	RequireReauth bool
}

// AuthStateHandler receives every SDK-internal session change, including
// changes that happen mid-call during login or register. user is nil when
// authenticated is false.
type AuthStateHandler func(authenticated bool, user *User)

// Client is the surface the session orchestrator drives. Implementations
// declare which optional operations they support via Capabilities; callers
// must check before invoking an optional operation.
type Client interface {
	// Capabilities reports the operations this SDK build supports. The set
	// is fixed at construction.
	Capabilities() CapabilitySet

	// OnAuthStateChanged registers the single auth-state handler. The SDK
	// invokes it on every internal session transition.
	OnAuthStateChanged(h AuthStateHandler)

	Login(ctx context.Context, opts LoginOptions) error
	Register(ctx context.Context, opts RegisterOptions) error
	Logout(ctx context.Context) error

	// HasActiveSession reports whether an in-memory session is live right
	// now. It never consults the persistent store.
	HasActiveSession(ctx context.Context) (bool, error)

	// CurrentUser returns the user of the active in-memory session, or
	// nil when no session is live.
	CurrentUser(ctx context.Context) (*User, error)

	// ExtendSession slides the persistent session expiry window forward.
	ExtendSession(ctx context.Context) error

	SignMessage(ctx context.Context, message string) (string, error)

	DeriveWallet(ctx context.Context, mode DeriveMode, tag string) (*DerivedWallet, error)
	GetAddress(ctx context.Context, mode DeriveMode, tag string) (string, error)

	GetBackupStatus(ctx context.Context) (*BackupStatus, error)

	// CreateBackup produces an opaque encrypted blob sealed under password.
	CreateBackup(ctx context.Context, password string) ([]byte, error)

	// RestoreFromBackup decrypts a backup payload. The payload must already
	// be unwrapped to the SDK's native format (see internal/backup).
	RestoreFromBackup(ctx context.Context, payload []byte, password string) (*RestoredAccount, error)

	// RegisterWithBackup restores a backup and binds it to a fresh
	// credential under the given username.
	RegisterWithBackup(ctx context.Context, payload []byte, password, username string) (*User, error)
}

// StealthClient is the optional stealth-address sub-module. It exists
// as the contract a build advertising CapStealth must satisfy; the
// bundled dev SDK does not advertise that capability and callers must
// type-assert for it before use.
type StealthClient interface {
	StealthKeys(ctx context.Context) (spendingPub, viewingPub string, err error)
	GenerateStealthAddress(ctx context.Context, recipientMeta string) (string, error)
}

// BuildIntegrityClient is the optional build-integrity helper. Present
// only on builds advertising CapBuildIntegrity.
type BuildIntegrityClient interface {
	CurrentBuildHash(ctx context.Context) (string, error)
}
