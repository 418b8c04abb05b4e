// ABOUTME: Versioned encrypted backup files for the dev SDK
// ABOUTME: scrypt key derivation, chacha20poly1305 sealing, seed transport

package devsdk

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/w3hc/genji-passkey/internal/backup"
	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// scrypt parameters for backup passwords.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// backupFile is the native versioned payload. The version field is what
// the compatibility check in internal/backup keys off.
type backupFile struct {
	Version    int       `json:"version"`
	KDF        kdfParams `json:"kdf"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

type kdfParams struct {
	Algo string `json:"algo"`
	Salt string `json:"salt"`
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
}

// backupContents is the sealed plaintext.
type backupContents struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	Seed     string `json:"seed"` // base64
	Address  string `json:"address"`
}

// CreateBackup seals the account seed under password into the native
// versioned format.
func (c *Client) CreateBackup(ctx context.Context, password string) ([]byte, error) {
	user, err := c.sessionUser("create_backup")
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "create_backup", "backup password must not be empty")
	}

	cred, err := c.store.GetCredentialByUser(ctx, user.ID)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}

	contents, err := json.Marshal(backupContents{
		Username: cred.Username,
		UserID:   cred.UserID,
		Seed:     base64.StdEncoding.EncodeToString(cred.Seed),
		Address:  user.EthereumAddress,
	})
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}
	sealed := aead.Seal(nil, nonce, contents, nil)

	file, err := json.Marshal(backupFile{
		Version: backup.SupportedVersion,
		KDF: kdfParams{
			Algo: "scrypt",
			Salt: base64.StdEncoding.EncodeToString(salt),
			N:    scryptN,
			R:    scryptR,
			P:    scryptP,
		},
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "create_backup", err)
	}

	if err := c.store.SetState(ctx, backupCreatedKey, []byte("1")); err != nil {
		c.logger.Debug("marking backup created failed", "error", err)
	}
	c.logger.Info("backup created", "user_id", user.ID)
	return file, nil
}

// RestoreFromBackup decrypts a native payload. Runs without a session.
func (c *Client) RestoreFromBackup(ctx context.Context, payload []byte, password string) (*sdk.RestoredAccount, error) {
	contents, err := c.openBackup(payload, password)
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(contents.Seed)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup seed is malformed")
	}

	priv := walletKey(seed, sdk.ModeStrict, "")
	pub := priv.PubKey().SerializeUncompressed()
	return &sdk.RestoredAccount{
		// The dev SDK transports the raw seed rather than a word list.
		Mnemonic:        hex.EncodeToString(seed),
		EthereumAddress: ethAddress(pub[1:]),
	}, nil
}

// RegisterWithBackup decrypts a backup and binds it to a fresh
// credential under username, signing the account in.
func (c *Client) RegisterWithBackup(ctx context.Context, payload []byte, password, username string) (*sdk.User, error) {
	if username == "" {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "register_with_backup", "username is required")
	}
	if _, err := c.store.GetCredentialByUsername(ctx, username); err == nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "register_with_backup", "username %q is already registered on this device", username)
	}

	contents, err := c.openBackup(payload, password)
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(contents.Seed)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "register_with_backup", "backup seed is malformed")
	}

	if err := c.prompter.Approve(ctx, "register"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, sdk.Wrap(kindFromContext(err), "register_with_backup", err)
	}

	cred, err := c.newCredential(username, seed)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "register_with_backup", err)
	}
	if err := c.store.PutCredential(ctx, cred); err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "register_with_backup", err)
	}
	if err := c.establishSession(ctx, cred); err != nil {
		return nil, err
	}
	return c.CurrentUser(ctx)
}

// openBackup parses and decrypts a native payload. A failed open is an
// input error: wrong password and corrupted file are indistinguishable.
func (c *Client) openBackup(payload []byte, password string) (*backupContents, error) {
	var file backupFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup payload is not valid JSON")
	}
	if file.Version != backup.SupportedVersion {
		return nil, sdk.Wrap(sdk.KindInvalidInput, "restore_backup", backup.ErrIncompatibleVersion)
	}
	if file.KDF.Algo != "scrypt" {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "unknown KDF %q", file.KDF.Algo)
	}

	salt, err := base64.StdEncoding.DecodeString(file.KDF.Salt)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup salt is malformed")
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup nonce is malformed")
	}
	sealed, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup ciphertext is malformed")
	}

	key, err := scrypt.Key([]byte(password), salt, file.KDF.N, file.KDF.R, file.KDF.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup KDF parameters are invalid")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "restore_backup", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "wrong password or corrupted backup")
	}

	var contents backupContents
	if err := json.Unmarshal(plaintext, &contents); err != nil {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "restore_backup", "backup contents are malformed")
	}
	return &contents, nil
}

// GetBackupStatus scores the account's protection posture.
func (c *Client) GetBackupStatus(ctx context.Context) (*sdk.BackupStatus, error) {
	if _, err := c.sessionUser("get_backup_status"); err != nil {
		return nil, err
	}

	backupExists := c.stateFlag(ctx, backupCreatedKey)
	recoveryConfigured := c.stateFlag(ctx, store.StateKeyRecoveryConfig)

	breakdown := map[string]int{"passkey": 40}
	total := 40
	if backupExists {
		breakdown["backup"] = 30
		total += 30
	}
	if recoveryConfigured {
		breakdown["social_recovery"] = 30
		total += 30
	}

	score := sdk.SecurityScore{Total: total, Breakdown: breakdown}
	switch {
	case total >= 80:
		score.Level = "strong"
	case total >= 50:
		score.Level = "good"
		score.NextMilestone = "Add social recovery guardians"
	default:
		score.Level = "basic"
		score.NextMilestone = "Create an encrypted backup"
	}

	return &sdk.BackupStatus{
		SecurityScore:  score,
		PasskeySync:    false, // software credential, device-local
		RecoveryPhrase: true,
		BackupExists:   backupExists,
	}, nil
}

func (c *Client) stateFlag(ctx context.Context, key string) bool {
	_, err := c.store.GetState(ctx, key)
	return !errors.Is(err, store.ErrNotFound) && err == nil
}
