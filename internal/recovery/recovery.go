// ABOUTME: Guardian social recovery: split an encrypted backup across guardians
// ABOUTME: Any threshold of shares reconstructs the backup; fewer reveal nothing

package recovery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/w3hc/genji-passkey/internal/backup"
	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// ShareSchema versions the self-describing guardian share package.
const ShareSchema = "w3pk-guardian-share/1"

// Sentinel errors for setup and recovery.
var (
	ErrNoConfig            = errors.New("no social recovery configuration exists")
	ErrUnknownGuardian     = errors.New("guardian is not part of the recovery configuration")
	ErrInsufficientShares  = errors.New("not enough guardian shares")
	ErrAddressMismatch     = errors.New("recovered wallet does not match the configured address")
	ErrBadThreshold        = errors.New("threshold must be between 1 and the number of guardians")
	ErrPasswordRequired    = errors.New("a backup password is required for social recovery setup")
	ErrMalformedShare      = errors.New("guardian share package is malformed")
)

// GuardianStatus tracks a guardian's lifecycle.
type GuardianStatus string

const (
	StatusPending GuardianStatus = "pending"
	StatusActive  GuardianStatus = "active"
	StatusRevoked GuardianStatus = "revoked"
)

// Contact is the caller-supplied identity for a prospective guardian.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Guardian is one configured share holder. ShareEncrypted carries that
// guardian's share of the encrypted backup; it never contains raw key
// material, so a single compromised guardian learns nothing without the
// backup password.
type Guardian struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	ShareEncrypted string         `json:"shareEncrypted"`
	Status         GuardianStatus `json:"status"`
	AddedAt        time.Time      `json:"addedAt"`
	LastVerified   *time.Time     `json:"lastVerified,omitempty"`
}

// Config is the persisted recovery configuration. This is a UI-layer
// cache; the authoritative shares live with the guardians themselves.
type Config struct {
	Threshold       int        `json:"threshold"`
	TotalGuardians  int        `json:"totalGuardians"`
	Guardians       []Guardian `json:"guardians"`
	CreatedAt       time.Time  `json:"createdAt"`
	EthereumAddress string     `json:"ethereumAddress"`
}

// SharePackage is the self-describing unit a guardian holds and later
// returns during recovery. Safe to transmit out-of-band.
type SharePackage struct {
	Schema     string `json:"schema"`
	GuardianID string `json:"guardianId"`
	Index      byte   `json:"index"`
	Threshold  int    `json:"threshold"`
	Address    string `json:"address"`
	Share      string `json:"share"` // base64 share bytes
}

// Invite is the package generated for one guardian.
type Invite struct {
	GuardianID string
	ShareCode  string // base64 of the JSON share package
	Explainer  string // rendered HTML for out-of-band mail
}

// Recovered is the result of a successful guardian recovery.
type Recovered struct {
	Mnemonic        string
	EthereumAddress string
}

// StateStore is the slice of the on-device store the manager needs.
type StateStore interface {
	SetState(ctx context.Context, key string, value []byte) error
	GetState(ctx context.Context, key string) ([]byte, error)
	DeleteState(ctx context.Context, key string) error
}

// PasswordPrompt collects a backup password interactively when the
// caller did not supply one.
type PasswordPrompt func(ctx context.Context) (string, error)

// Manager orchestrates guardian setup, invites, and recovery. The
// splitting strategy is injected once at construction.
type Manager struct {
	client   sdk.Client
	state    StateStore
	splitter SecretSplitter
	prompt   PasswordPrompt
	logger   *slog.Logger
}

// NewManager creates a recovery manager. splitter may be nil, in which
// case the default Shamir splitter is used.
func NewManager(client sdk.Client, state StateStore, splitter SecretSplitter, prompt PasswordPrompt) *Manager {
	if splitter == nil {
		splitter = ShamirSplitter{}
	}
	return &Manager{
		client:   client,
		state:    state,
		splitter: splitter,
		prompt:   prompt,
		logger:   slog.Default().With("component", "recovery"),
	}
}

// Setup creates an encrypted backup, splits it across the given
// contacts, and persists the resulting configuration. When password is
// empty it is collected through the configured prompt; guardians receive
// shares of the encrypted backup, never of the raw secret.
func (m *Manager) Setup(ctx context.Context, contacts []Contact, threshold int, password string) (*Config, error) {
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: no guardians given", ErrBadThreshold)
	}
	if threshold < 1 || threshold > len(contacts) {
		return nil, fmt.Errorf("%w: threshold %d with %d guardians", ErrBadThreshold, threshold, len(contacts))
	}

	if password == "" {
		if m.prompt == nil {
			return nil, ErrPasswordRequired
		}
		var err error
		if password, err = m.prompt(ctx); err != nil {
			return nil, fmt.Errorf("collecting backup password: %w", err)
		}
		if password == "" {
			return nil, ErrPasswordRequired
		}
	}

	if err := m.client.Capabilities().Require(sdk.CapBackup, "setup_social_recovery"); err != nil {
		return nil, err
	}

	sealed, err := m.client.CreateBackup(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("creating backup for guardians: %w", err)
	}

	address, err := m.client.GetAddress(ctx, sdk.ModeStrict, "")
	if err != nil {
		return nil, fmt.Errorf("reading account address: %w", err)
	}

	shares, err := m.splitter.Split(sealed, len(contacts), threshold)
	if err != nil {
		return nil, fmt.Errorf("splitting backup: %w", err)
	}

	now := time.Now().UTC()
	cfg := &Config{
		Threshold:       threshold,
		TotalGuardians:  len(contacts),
		CreatedAt:       now,
		EthereumAddress: address,
	}
	i := 0
	for index, share := range shares {
		contact := contacts[i]
		cfg.Guardians = append(cfg.Guardians, Guardian{
			ID:             uuid.New().String(),
			Name:           contact.Name,
			Email:          contact.Email,
			Phone:          contact.Phone,
			ShareEncrypted: encodeShare(index, share),
			Status:         StatusPending,
			AddedAt:        now,
		})
		i++
	}

	if err := m.saveConfig(ctx, cfg); err != nil {
		return nil, err
	}

	m.logger.Info("social recovery configured",
		"guardians", cfg.TotalGuardians, "threshold", cfg.Threshold, "address", address)
	return cfg, nil
}

// Config returns the persisted configuration, or ErrNoConfig.
func (m *Manager) Config(ctx context.Context) (*Config, error) {
	raw, err := m.state.GetState(ctx, store.StateKeyRecoveryConfig)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading recovery config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing recovery config: %w", err)
	}
	return &cfg, nil
}

// Clear deletes the local configuration. Best effort: absence is not an
// error and underlying failures are logged, not returned.
func (m *Manager) Clear(ctx context.Context) {
	if err := m.state.DeleteState(ctx, store.StateKeyRecoveryConfig); err != nil {
		m.logger.Warn("clearing recovery config failed", "error", err)
	}
}

// Recover reconstructs the encrypted backup from guardian share
// packages, restores it through the SDK, and verifies the recovered
// address. Shares are deduplicated by index; recovery needs at least the
// threshold recorded in the packages.
func (m *Manager) Recover(ctx context.Context, shareCodes []string, password string) (*Recovered, error) {
	if len(shareCodes) == 0 {
		return nil, fmt.Errorf("%w: none supplied", ErrInsufficientShares)
	}

	parts := make(map[byte][]byte)
	threshold := 0
	address := ""
	for _, code := range shareCodes {
		pkg, err := DecodeSharePackage(code)
		if err != nil {
			return nil, err
		}
		if pkg.Threshold > threshold {
			threshold = pkg.Threshold
		}
		if address == "" {
			address = pkg.Address
		}
		raw, err := base64.StdEncoding.DecodeString(pkg.Share)
		if err != nil {
			return nil, fmt.Errorf("%w: share payload: %v", ErrMalformedShare, err)
		}
		parts[pkg.Index] = raw
	}

	if len(parts) < threshold {
		missing := threshold - len(parts)
		return nil, fmt.Errorf("%w: have %d distinct shares, need %d more", ErrInsufficientShares, len(parts), missing)
	}

	sealed, err := m.splitter.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("combining shares: %w", err)
	}

	payload, err := backup.Unwrap(sealed)
	if err != nil {
		return nil, fmt.Errorf("reconstructed backup: %w", err)
	}

	account, err := m.client.RestoreFromBackup(ctx, payload, password)
	if err != nil {
		return nil, fmt.Errorf("restoring reconstructed backup: %w", err)
	}

	if address != "" && account.EthereumAddress != address {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, address, account.EthereumAddress)
	}

	m.logger.Info("recovered from guardians", "shares", len(parts), "address", account.EthereumAddress)
	return &Recovered{Mnemonic: account.Mnemonic, EthereumAddress: account.EthereumAddress}, nil
}

func (m *Manager) saveConfig(ctx context.Context, cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding recovery config: %w", err)
	}
	if err := m.state.SetState(ctx, store.StateKeyRecoveryConfig, raw); err != nil {
		return fmt.Errorf("persisting recovery config: %w", err)
	}
	return nil
}

// encodeShare packs the x-coordinate with the share bytes so a package
// round-trips through a single string.
func encodeShare(index byte, share []byte) string {
	buf := make([]byte, 0, len(share)+1)
	buf = append(buf, index)
	buf = append(buf, share...)
	return base64.StdEncoding.EncodeToString(buf)
}

// decodeShare reverses encodeShare.
func decodeShare(s string) (byte, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) < 2 {
		return 0, nil, ErrMalformedShare
	}
	return raw[0], raw[1:], nil
}

// DecodeSharePackage parses a share code: either the JSON package itself
// or its base64 encoding.
func DecodeSharePackage(code string) (*SharePackage, error) {
	data := []byte(code)
	if decoded, err := base64.StdEncoding.DecodeString(code); err == nil {
		data = decoded
	}
	var pkg SharePackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShare, err)
	}
	if pkg.Schema != ShareSchema {
		return nil, fmt.Errorf("%w: unknown schema %q", ErrMalformedShare, pkg.Schema)
	}
	return &pkg, nil
}
