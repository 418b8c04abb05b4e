// ABOUTME: Build verification against the on-chain version registry
// ABOUTME: Compares the installed build's hash with the DAO-recorded CID

package registry

import (
	"context"
	"fmt"
)

// Result is the outcome of one build verification.
type Result struct {
	Version    string
	TrustedCID string
	LocalHash  string
	Verified   bool
}

// Verifier compares local build hashes against the registry.
type Verifier struct {
	client *Client
}

// NewVerifier wraps a registry client.
func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

// VerifyBuild checks whether localHash matches the CID the registry
// records for version.
func (v *Verifier) VerifyBuild(ctx context.Context, version, localHash string) (*Result, error) {
	cid, err := v.client.CidByVersion(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("looking up version %s: %w", version, err)
	}
	return &Result{
		Version:    version,
		TrustedCID: cid,
		LocalHash:  localHash,
		Verified:   cid == localHash,
	}, nil
}

// VerifyLatest checks localHash against the newest release in the
// registry, returning which version it matched against.
func (v *Verifier) VerifyLatest(ctx context.Context, localHash string) (*Result, error) {
	version, cid, err := v.client.LatestRelease(ctx)
	if err != nil {
		return nil, fmt.Errorf("looking up latest release: %w", err)
	}
	return &Result{
		Version:    version,
		TrustedCID: cid,
		LocalHash:  localHash,
		Verified:   cid == localHash,
	}, nil
}
