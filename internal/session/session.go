// ABOUTME: Session layer types: state, notifier, store interfaces, validation
// ABOUTME: State is a pure projection of the SDK's auth-state callback

package session

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// State is the orchestrator's externally visible session state.
// Invariant: Authenticated implies User != nil.
type State struct {
	Authenticated bool
	User          *sdk.User
	Loading       bool
}

// Notifier receives user-visible notifications. Cancellations are never
// reported through it.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Success(string, string) {}
func (NopNotifier) Error(string, string)   {}

// SessionProbe is the persistent-session store as the orchestrator sees
// it: an opaque collection it can count and clear, never read.
type SessionProbe interface {
	CountSessions(ctx context.Context) (int, error)
	ClearSessions(ctx context.Context) error
}

// StateStore persists UI-display state. Never a security boundary.
type StateStore interface {
	SetState(ctx context.Context, key string, value []byte) error
	GetState(ctx context.Context, key string) ([]byte, error)
	DeleteState(ctx context.Context, key string) error
}

// Listener observes state transitions, e.g. to re-render a UI.
type Listener func(State)

// Default operation timeouts.
const (
	DefaultRegisterTimeout = 45 * time.Second
	DefaultProbeTimeout    = 3 * time.Second
)

// usernameRE enforces 3-50 chars of alphanumerics, underscore, hyphen,
// starting and ending alphanumeric.
var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{1,48}[a-zA-Z0-9]$`)

// ValidateUsername checks the registration username format.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return sdk.Errorf(sdk.KindInvalidInput, "register", "username must be 3-50 characters")
	}
	if !usernameRE.MatchString(username) {
		return sdk.Errorf(sdk.KindInvalidInput, "register",
			"username may contain letters, digits, _ and -, and must start and end with a letter or digit")
	}
	return nil
}

// authMirror is the serialized UI-only mirror of session state, written
// so a UI can render optimistically before session restore completes.
type authMirror struct {
	Authenticated bool      `json:"isAuthenticated"`
	User          *sdk.User `json:"user,omitempty"`
	SavedAt       time.Time `json:"savedAt"`
}

func encodeMirror(st State) ([]byte, error) {
	return json.Marshal(authMirror{
		Authenticated: st.Authenticated,
		User:          st.User,
		SavedAt:       time.Now().UTC(),
	})
}

// Mirror reads the persisted auth mirror, for optimistic rendering ahead
// of Restore. Returns a zero State when no mirror exists.
func ReadMirror(ctx context.Context, states StateStore) State {
	raw, err := states.GetState(ctx, store.StateKeyAuthMirror)
	if err != nil {
		return State{}
	}
	var m authMirror
	if err := json.Unmarshal(raw, &m); err != nil {
		return State{}
	}
	if !m.Authenticated || m.User == nil {
		return State{}
	}
	return State{Authenticated: true, User: m.User}
}
