// ABOUTME: Software reference implementation of the passkey SDK contract
// ABOUTME: Software credentials, JWT persistent sessions, deterministic wallets

package devsdk

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// deviceSecretKey is the local_state key holding the JWT signing secret.
const deviceSecretKey = "devsdk_device_secret"

// backupCreatedKey marks that at least one backup was exported.
const backupCreatedKey = "devsdk_backup_created"

var (
	_ sdk.Client               = (*Client)(nil)
	_ sdk.BuildIntegrityClient = (*Client)(nil)
)

// Prompter stands in for the platform authentication ceremony. Approve
// returns a KindCancelled error when the user dismisses the prompt.
type Prompter interface {
	Approve(ctx context.Context, purpose string) error
}

// AutoApprove approves every ceremony. Suitable for development only.
type AutoApprove struct{}

func (AutoApprove) Approve(context.Context, string) error { return nil }

// Options configures the development SDK.
type Options struct {
	// Capabilities restricts the advertised capability set. Empty means
	// the full set.
	Capabilities []sdk.Capability
	// Prompter handles ceremony approval. Defaults to AutoApprove.
	Prompter Prompter
}

// Client is a device-local SDK build. Credentials and sessions persist
// in the store; the in-memory session lives for the process.
type Client struct {
	store    *store.SQLiteStore
	prompter Prompter
	caps     sdk.CapabilitySet
	logger   *slog.Logger
	secret   []byte // JWT signing secret, device-scoped

	mu      sync.Mutex
	handler sdk.AuthStateHandler
	user    *sdk.User
}

// New opens a development SDK over the given store, generating the
// device secret on first use.
func New(st *store.SQLiteStore, opts Options) (*Client, error) {
	caps := opts.Capabilities
	if len(caps) == 0 {
		caps = []sdk.Capability{
			sdk.CapSign, sdk.CapDerive, sdk.CapBackup, sdk.CapZipBackup,
			sdk.CapSocialRecovery, sdk.CapBuildIntegrity,
		}
	}
	prompter := opts.Prompter
	if prompter == nil {
		prompter = AutoApprove{}
	}

	secret, err := loadDeviceSecret(st)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:    st,
		prompter: prompter,
		caps:     sdk.NewCapabilitySet(caps...),
		logger:   slog.Default().With("component", "devsdk"),
		secret:   secret,
	}, nil
}

func loadDeviceSecret(st *store.SQLiteStore) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	secret, err := st.GetState(ctx, deviceSecretKey)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading device secret: %w", err)
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating device secret: %w", err)
	}
	if err := st.SetState(ctx, deviceSecretKey, secret); err != nil {
		return nil, fmt.Errorf("persisting device secret: %w", err)
	}
	return secret, nil
}

// Capabilities reports the build's fixed capability set.
func (c *Client) Capabilities() sdk.CapabilitySet { return c.caps }

// OnAuthStateChanged registers the auth-state handler.
func (c *Client) OnAuthStateChanged(h sdk.AuthStateHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// HasActiveSession reports whether an in-memory session is live. Never
// consults the persistent store.
func (c *Client) HasActiveSession(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil, nil
}

// CurrentUser returns the in-memory session's user, or nil.
func (c *Client) CurrentUser(ctx context.Context) (*sdk.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil, nil
	}
	u := *c.user
	return &u, nil
}

// Register creates a software credential for the username and signs the
// new account in.
func (c *Client) Register(ctx context.Context, opts sdk.RegisterOptions) error {
	if opts.Username == "" {
		return sdk.Errorf(sdk.KindInvalidInput, "register", "username is required")
	}
	if _, err := c.store.GetCredentialByUsername(ctx, opts.Username); err == nil {
		return sdk.Errorf(sdk.KindInvalidInput, "register", "username %q is already registered on this device", opts.Username)
	}

	if err := c.prompter.Approve(ctx, "register"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return sdk.Wrap(kindFromContext(err), "register", err)
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return sdk.Wrap(sdk.KindInternal, "register", err)
	}

	cred, err := c.newCredential(opts.Username, seed)
	if err != nil {
		return sdk.Wrap(sdk.KindInternal, "register", err)
	}
	if err := c.store.PutCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrDuplicateCredential) {
			return sdk.Wrap(sdk.KindInvalidInput, "register", err)
		}
		return sdk.Wrap(sdk.KindInternal, "register", err)
	}

	return c.establishSession(ctx, cred)
}

// Login establishes a session. With RequireReauth unset it first tries a
// silent restore from the persistent-session store; otherwise it runs
// the ceremony against a credential on this device.
func (c *Client) Login(ctx context.Context, opts sdk.LoginOptions) error {
	if !opts.RequireReauth {
		if err := c.restoreSilently(ctx); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			c.logger.Debug("silent restore failed", "error", err)
		}
	}

	cred, err := c.store.AnyCredential(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return sdk.Errorf(sdk.KindUnavailable, "login", "no passkey exists on this device")
	}
	if err != nil {
		return sdk.Wrap(sdk.KindInternal, "login", err)
	}

	if err := c.prompter.Approve(ctx, "login"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return sdk.Wrap(kindFromContext(err), "login", err)
	}

	if err := c.store.BumpSignCount(ctx, cred.ID); err != nil {
		c.logger.Debug("bumping sign count failed", "error", err)
	}
	return c.establishSession(ctx, cred)
}

// restoreSilently adopts a persisted session token without a ceremony.
func (c *Client) restoreSilently(ctx context.Context) error {
	sess, err := c.store.LatestSession(ctx)
	if err != nil {
		return err
	}

	userID, err := c.verifySessionToken(sess.Token)
	if err != nil {
		return fmt.Errorf("persisted session token: %w", err)
	}

	cred, err := c.store.GetCredentialByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("credential for persisted session: %w", err)
	}

	c.adoptSession(cred)
	c.logger.Debug("session restored silently", "user_id", userID)
	return nil
}

// Logout drops the in-memory session. Persistent entries are cleared by
// the session layer, which owns that store.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.user = nil
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(false, nil)
	}
	return nil
}

// ExtendSession slides every live persistent session's expiry window by
// the configured duration preference.
func (c *Client) ExtendSession(ctx context.Context) error {
	ttl := c.store.SessionDuration(ctx)
	return c.store.ExtendSessions(ctx, ttl)
}

// establishSession records the in-memory session, persists a session
// token when the duration preference allows, and fires the handler.
func (c *Client) establishSession(ctx context.Context, cred *store.Credential) error {
	c.adoptSession(cred)

	ttl := c.store.SessionDuration(ctx)
	token, err := c.issueSessionToken(cred.UserID, ttl)
	if err != nil {
		return sdk.Wrap(sdk.KindInternal, "login", err)
	}
	sess := &store.Session{
		UserID:    cred.UserID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := c.store.PutSession(ctx, sess); err != nil {
		c.logger.Warn("persisting session failed", "error", err)
	}
	return nil
}

// adoptSession sets the in-memory session and notifies the handler.
func (c *Client) adoptSession(cred *store.Credential) {
	address, err := c.addressForCredential(cred, sdk.ModeStrict, "")
	if err != nil {
		c.logger.Warn("deriving account address failed", "error", err)
	}
	user := &sdk.User{
		ID:              cred.UserID,
		Username:        cred.Username,
		DisplayName:     cred.Username,
		EthereumAddress: address,
		CredentialID:    cred.ID,
	}

	c.mu.Lock()
	c.user = user
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		u := *user
		handler(true, &u)
	}
}

// sessionUser returns the active user or a KindUnauthenticated error.
func (c *Client) sessionUser(op string) (*sdk.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil, sdk.Errorf(sdk.KindUnauthenticated, op, "no active session")
	}
	u := *c.user
	return &u, nil
}

// issueSessionToken mints an HS256 session token bound to the device
// secret.
func (c *Client) issueSessionToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// verifySessionToken validates a persisted token and returns the user ID.
func (c *Client) verifySessionToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid session token")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("session token missing subject")
	}
	return sub, nil
}

// newCredential builds a software passkey: a random credential handle,
// an ed25519 authenticator key derived from the seed, and webauthn
// credential metadata for parity with hardware passkeys.
func (c *Client) newCredential(username string, seed []byte) (*store.Credential, error) {
	handle := make([]byte, 16)
	if _, err := rand.Read(handle); err != nil {
		return nil, fmt.Errorf("generating credential handle: %w", err)
	}

	attestKey := authenticatorKey(seed)
	pub := attestKey.Public().(ed25519.PublicKey)

	meta := webauthn.Credential{
		ID:              handle,
		PublicKey:       pub,
		AttestationType: "none",
		Flags: webauthn.CredentialFlags{
			UserPresent:  true,
			UserVerified: true,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: 0,
		},
	}
	attest, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding credential metadata: %w", err)
	}

	return &store.Credential{
		ID:       base64.RawURLEncoding.EncodeToString(handle),
		UserID:   uuid.New().String(),
		Username: username,
		Seed:     seed,
		Public:   pub,
		Attest:   attest,
	}, nil
}

// kindFromContext maps context errors onto the SDK taxonomy.
func kindFromContext(err error) sdk.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return sdk.KindTimeout
	}
	return sdk.KindCancelled
}
