// ABOUTME: Tests for session-layer validation and the persisted auth mirror

package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/w3hc/genji-passkey/internal/store"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"minimum length", "abc", false},
		{"maximum length", strings.Repeat("a", 50), false},
		{"interior separators", "alice_in-chains", false},
		{"digits", "agent007", false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 51), true},
		{"empty", "", true},
		{"leading underscore", "_alice", true},
		{"trailing hyphen", "alice-", true},
		{"whitespace", "alice smith", true},
		{"unicode", "ålice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadMirrorIgnoresGarbage(t *testing.T) {
	states := newMemState()
	ctx := context.Background()

	// no mirror at all
	assert.Equal(t, State{}, ReadMirror(ctx, states))

	// unparseable payload
	states.SetState(ctx, store.StateKeyAuthMirror, []byte("not json"))
	assert.Equal(t, State{}, ReadMirror(ctx, states))

	// authenticated without a user is inconsistent, treat as absent
	states.SetState(ctx, store.StateKeyAuthMirror, []byte(`{"isAuthenticated":true}`))
	assert.Equal(t, State{}, ReadMirror(ctx, states))
}
