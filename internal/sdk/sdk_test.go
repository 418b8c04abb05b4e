// ABOUTME: Tests for the error taxonomy and capability negotiation

package sdk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySurvivesWrapping(t *testing.T) {
	base := Errorf(KindUnauthenticated, "sign_message", "session expired")
	wrapped := fmt.Errorf("calling sdk: %w", base)

	assert.Equal(t, KindUnauthenticated, Classify(wrapped))
	assert.True(t, IsKind(wrapped, KindUnauthenticated))
	assert.False(t, IsKind(wrapped, KindCancelled))

	// foreign errors classify as internal
	assert.Equal(t, KindInternal, Classify(errors.New("boom")))
	assert.False(t, IsKind(errors.New("boom"), KindInternal))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, "op", nil))

	err := Wrap(KindTimeout, "register", errors.New("deadline"))
	require.Error(t, err)
	assert.Equal(t, "register: timeout: deadline", err.Error())
}

func TestCapabilityRequire(t *testing.T) {
	caps := NewCapabilitySet(CapSign, CapDerive)

	assert.NoError(t, caps.Require(CapSign, "sign_message"))

	err := caps.Require(CapStealth, "stealth_keys")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnsupported))
	assert.Contains(t, err.Error(), "stealth")

	assert.Equal(t, "derive,sign", caps.String())
}

func TestModeProperties(t *testing.T) {
	tests := []struct {
		mode       DeriveMode
		valid      bool
		exposesKey bool
		persistent bool
	}{
		{ModeAmbient, true, true, false},
		{ModeStrict, true, false, true},
		{ModeConvenient, true, true, true},
		{ModeHardened, true, false, true},
		{DeriveMode("bogus"), false, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidMode(tt.mode), "%s valid", tt.mode)
		if tt.valid {
			assert.Equal(t, tt.exposesKey, tt.mode.ExposesPrivateKey(), "%s key exposure", tt.mode)
			assert.Equal(t, tt.persistent, tt.mode.AllowsPersistentSession(), "%s persistence", tt.mode)
		}
	}
}
