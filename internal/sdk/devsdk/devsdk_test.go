// ABOUTME: Tests for the development SDK: registration, sessions, derivation, backups

package devsdk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestClient(t *testing.T, st *store.SQLiteStore) *Client {
	t.Helper()
	c, err := New(st, Options{})
	require.NoError(t, err)
	return c
}

// countingPrompter records ceremonies and optionally rejects them.
type countingPrompter struct {
	calls  int
	reject bool
}

func (p *countingPrompter) Approve(ctx context.Context, purpose string) error {
	p.calls++
	if p.reject {
		return sdk.Errorf(sdk.KindCancelled, purpose, "user dismissed prompt")
	}
	return nil
}

func TestRegisterEstablishesSession(t *testing.T) {
	st := newTestStore(t)
	c := newTestClient(t, st)
	ctx := context.Background()

	var gotUser *sdk.User
	c.OnAuthStateChanged(func(authenticated bool, user *sdk.User) {
		if authenticated {
			gotUser = user
		}
	})

	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	active, err := c.HasActiveSession(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	user, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.ID)
	assert.Regexp(t, "^0x[0-9a-f]{40}$", user.EthereumAddress)

	require.NotNil(t, gotUser, "auth-state handler must fire on register")
	assert.Equal(t, user.ID, gotUser.ID)

	// a persistent session was written alongside
	n, err := st.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	st := newTestStore(t)
	c := newTestClient(t, st)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))
	err := c.Register(ctx, sdk.RegisterOptions{Username: "alice"})
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindInvalidInput))
}

func TestRegisterPropagatesCeremonyCancellation(t *testing.T) {
	st := newTestStore(t)
	prompter := &countingPrompter{reject: true}
	c, err := New(st, Options{Prompter: prompter})
	require.NoError(t, err)

	err = c.Register(context.Background(), sdk.RegisterOptions{Username: "alice"})
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindCancelled))
	assert.Equal(t, 1, prompter.calls)

	active, err := c.HasActiveSession(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLoginWithoutCredentialIsUnavailable(t *testing.T) {
	c := newTestClient(t, newTestStore(t))

	err := c.Login(context.Background(), sdk.LoginOptions{RequireReauth: true})
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindUnavailable))
}

func TestSilentRestoreSkipsCeremony(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := newTestClient(t, st)
	require.NoError(t, first.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	// a new process over the same store: the persisted session restores
	// without touching the prompter
	prompter := &countingPrompter{reject: true}
	second, err := New(st, Options{Prompter: prompter})
	require.NoError(t, err)

	require.NoError(t, second.Login(ctx, sdk.LoginOptions{RequireReauth: false}))
	assert.Equal(t, 0, prompter.calls)

	user, err := second.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
}

func TestRequireReauthRunsTheCeremony(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := newTestClient(t, st)
	require.NoError(t, first.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	prompter := &countingPrompter{}
	second, err := New(st, Options{Prompter: prompter})
	require.NoError(t, err)

	require.NoError(t, second.Login(ctx, sdk.LoginOptions{RequireReauth: true}))
	assert.Equal(t, 1, prompter.calls)

	cred, err := st.GetCredentialByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cred.SignCount, "one authenticator use for the reauth login")
}

func TestLogoutDropsInMemorySessionOnly(t *testing.T) {
	st := newTestStore(t)
	c := newTestClient(t, st)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	var loggedOut bool
	c.OnAuthStateChanged(func(authenticated bool, user *sdk.User) {
		if !authenticated {
			loggedOut = true
			assert.Nil(t, user)
		}
	})

	require.NoError(t, c.Logout(ctx))
	assert.True(t, loggedOut)

	active, err := c.HasActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	// the persistent entry is the session layer's to clear, not ours
	n, err := st.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeriveModesDiffer(t *testing.T) {
	c := newTestClient(t, newTestStore(t))
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	strict, err := c.DeriveWallet(ctx, sdk.ModeStrict, "")
	require.NoError(t, err)
	assert.Empty(t, strict.PrivateKey, "strict mode must not expose key material")

	ambient, err := c.DeriveWallet(ctx, sdk.ModeAmbient, "")
	require.NoError(t, err)
	assert.NotEmpty(t, ambient.PrivateKey)
	assert.NotEqual(t, strict.Address, ambient.Address, "modes derive distinct wallets")

	hardened, err := c.DeriveWallet(ctx, sdk.ModeHardened, "")
	require.NoError(t, err)
	assert.Empty(t, hardened.PrivateKey)
	assert.NotEqual(t, strict.Address, hardened.Address)

	// derivation is deterministic per (mode, tag)
	again, err := c.DeriveWallet(ctx, sdk.ModeStrict, "")
	require.NoError(t, err)
	assert.Equal(t, strict.Address, again.Address)

	tagged, err := c.DeriveWallet(ctx, sdk.ModeStrict, "savings")
	require.NoError(t, err)
	assert.NotEqual(t, strict.Address, tagged.Address, "wallet slots are independent")

	_, err = c.DeriveWallet(ctx, sdk.DeriveMode("bogus"), "")
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindInvalidInput))
}

func TestSignMessageShape(t *testing.T) {
	c := newTestClient(t, newTestStore(t))
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	sig, err := c.SignMessage(ctx, "hello world")
	require.NoError(t, err)
	// 65-byte compact signature, hex encoded
	assert.Regexp(t, "^0x[0-9a-f]{130}$", sig)

	again, err := c.SignMessage(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, sig, again, "deterministic nonce per RFC 6979")
}

func TestOperationsWithoutSessionAreUnauthenticated(t *testing.T) {
	c := newTestClient(t, newTestStore(t))
	ctx := context.Background()

	_, err := c.SignMessage(ctx, "hello")
	assert.True(t, sdk.IsKind(err, sdk.KindUnauthenticated))

	_, err = c.DeriveWallet(ctx, sdk.ModeStrict, "")
	assert.True(t, sdk.IsKind(err, sdk.KindUnauthenticated))

	_, err = c.CreateBackup(ctx, "pw")
	assert.True(t, sdk.IsKind(err, sdk.KindUnauthenticated))

	_, err = c.GetBackupStatus(ctx)
	assert.True(t, sdk.IsKind(err, sdk.KindUnauthenticated))
}

func TestBackupRoundTripPreservesWallet(t *testing.T) {
	ctx := context.Background()

	origin := newTestClient(t, newTestStore(t))
	require.NoError(t, origin.Register(ctx, sdk.RegisterOptions{Username: "alice"}))
	address, err := origin.GetAddress(ctx, sdk.ModeStrict, "")
	require.NoError(t, err)

	payload, err := origin.CreateBackup(ctx, "correct horse")
	require.NoError(t, err)

	// restore on a completely different device
	other := newTestClient(t, newTestStore(t))
	account, err := other.RestoreFromBackup(ctx, payload, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, address, account.EthereumAddress)
	assert.NotEmpty(t, account.Mnemonic)
}

func TestRestoreWithWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newTestStore(t))
	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	payload, err := c.CreateBackup(ctx, "correct horse")
	require.NoError(t, err)

	_, err = c.RestoreFromBackup(ctx, payload, "battery staple")
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindInvalidInput))
}

func TestRegisterWithBackupBindsSameWallet(t *testing.T) {
	ctx := context.Background()

	origin := newTestClient(t, newTestStore(t))
	require.NoError(t, origin.Register(ctx, sdk.RegisterOptions{Username: "alice"}))
	address, err := origin.GetAddress(ctx, sdk.ModeStrict, "")
	require.NoError(t, err)

	payload, err := origin.CreateBackup(ctx, "correct horse")
	require.NoError(t, err)

	other := newTestClient(t, newTestStore(t))
	user, err := other.RegisterWithBackup(ctx, payload, "correct horse", "alice-new-phone")
	require.NoError(t, err)
	assert.Equal(t, "alice-new-phone", user.Username)
	assert.Equal(t, address, user.EthereumAddress, "restored credential controls the same wallet")

	active, err := other.HasActiveSession(ctx)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRegisterWithBackupHonorsCancellation(t *testing.T) {
	ctx := context.Background()

	origin := newTestClient(t, newTestStore(t))
	require.NoError(t, origin.Register(ctx, sdk.RegisterOptions{Username: "alice"}))
	payload, err := origin.CreateBackup(ctx, "correct horse")
	require.NoError(t, err)

	// cancellation racing ceremony approval must not create a credential
	other := newTestClient(t, newTestStore(t))
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = other.RegisterWithBackup(cancelled, payload, "correct horse", "alice-new-phone")
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindCancelled))

	active, err := other.HasActiveSession(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestBackupStatusScoring(t *testing.T) {
	st := newTestStore(t)
	c := newTestClient(t, st)
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, sdk.RegisterOptions{Username: "alice"}))

	status, err := c.GetBackupStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, status.SecurityScore.Total)
	assert.Equal(t, "basic", status.SecurityScore.Level)
	assert.NotEmpty(t, status.SecurityScore.NextMilestone)
	assert.False(t, status.BackupExists)

	_, err = c.CreateBackup(ctx, "correct horse")
	require.NoError(t, err)

	status, err = c.GetBackupStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, status.SecurityScore.Total)
	assert.Equal(t, "good", status.SecurityScore.Level)
	assert.True(t, status.BackupExists)

	// social recovery configured pushes the score to strong
	require.NoError(t, st.SetState(ctx, store.StateKeyRecoveryConfig, []byte("{}")))
	status, err = c.GetBackupStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, status.SecurityScore.Total)
	assert.Equal(t, "strong", status.SecurityScore.Level)
	assert.Empty(t, status.SecurityScore.NextMilestone)
}
