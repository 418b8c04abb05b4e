// ABOUTME: Deterministic wallet derivation and message signing for the dev SDK
// ABOUTME: HKDF over the credential seed, secp256k1 keys, keccak Ethereum addresses

package devsdk

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// SignMessage signs with the account key (strict mode, default slot)
// using the Ethereum personal-message prefix.
func (c *Client) SignMessage(ctx context.Context, message string) (string, error) {
	user, err := c.sessionUser("sign_message")
	if err != nil {
		return "", err
	}
	cred, err := c.store.GetCredentialByUser(ctx, user.ID)
	if err != nil {
		return "", sdk.Wrap(sdk.KindInternal, "sign_message", err)
	}

	priv := walletKey(cred.Seed, sdk.ModeStrict, "")
	digest := keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig := secpecdsa.SignCompact(priv, digest, false)
	return "0x" + hex.EncodeToString(sig), nil
}

// DeriveWallet derives the wallet for a mode and tag. Private key
// material is included only for modes that deliberately expose it.
func (c *Client) DeriveWallet(ctx context.Context, mode sdk.DeriveMode, tag string) (*sdk.DerivedWallet, error) {
	user, err := c.sessionUser("derive_wallet")
	if err != nil {
		return nil, err
	}
	if !sdk.ValidMode(mode) {
		return nil, sdk.Errorf(sdk.KindInvalidInput, "derive_wallet", "unknown derive mode %q", mode)
	}
	cred, err := c.store.GetCredentialByUser(ctx, user.ID)
	if err != nil {
		return nil, sdk.Wrap(sdk.KindInternal, "derive_wallet", err)
	}

	if mode == sdk.ModeHardened {
		// Authenticator-native key: the private half never leaves the
		// credential, even here.
		return &sdk.DerivedWallet{
			Address:   ethAddress(cred.Public),
			PublicKey: "0x" + hex.EncodeToString(cred.Public),
		}, nil
	}

	priv := walletKey(cred.Seed, mode, tag)
	pub := priv.PubKey().SerializeUncompressed()
	wallet := &sdk.DerivedWallet{
		Address:   ethAddress(pub[1:]),
		PublicKey: "0x" + hex.EncodeToString(pub),
	}
	if mode.ExposesPrivateKey() {
		wallet.PrivateKey = "0x" + hex.EncodeToString(priv.Serialize())
	}
	return wallet, nil
}

// GetAddress returns only the derived address for a mode and tag.
func (c *Client) GetAddress(ctx context.Context, mode sdk.DeriveMode, tag string) (string, error) {
	wallet, err := c.DeriveWallet(ctx, mode, tag)
	if err != nil {
		return "", err
	}
	return wallet.Address, nil
}

// addressForCredential derives without requiring a session, for internal
// bookkeeping such as populating the user record.
func (c *Client) addressForCredential(cred *store.Credential, mode sdk.DeriveMode, tag string) (string, error) {
	if mode == sdk.ModeHardened {
		return ethAddress(cred.Public), nil
	}
	priv := walletKey(cred.Seed, mode, tag)
	pub := priv.PubKey().SerializeUncompressed()
	return ethAddress(pub[1:]), nil
}

// walletKey expands the credential seed into the secp256k1 key for one
// mode and wallet slot. Same seed, mode, and tag always yield the same
// key.
func walletKey(seed []byte, mode sdk.DeriveMode, tag string) *secp256k1.PrivateKey {
	info := fmt.Sprintf("genji/wallet/%s/%s", mode, tag)
	return secp256k1.PrivKeyFromBytes(expandSeed(seed, info))
}

// authenticatorKey expands the credential seed into the ed25519
// authenticator key.
func authenticatorKey(seed []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(expandSeed(seed, "genji/authenticator"))
}

func expandSeed(seed []byte, info string) []byte {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, seed, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF cannot fail for a 32-byte read with a SHA-256 PRF.
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// ethAddress is keccak256(pubkey) truncated to the low 20 bytes.
func ethAddress(pub []byte) string {
	digest := keccak256(pub)
	return "0x" + hex.EncodeToString(digest[12:])
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
