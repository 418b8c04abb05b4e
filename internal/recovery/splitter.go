// ABOUTME: Secret splitting strategy interface and the default Shamir implementation
// ABOUTME: Strategy is injected at construction, never loaded lazily per call

package recovery

import (
	"fmt"

	"github.com/corvus-ch/shamir"
)

// SecretSplitter splits a secret into keyed parts and recombines them.
// Parts are keyed by their GF(256) x-coordinate.
type SecretSplitter interface {
	Split(secret []byte, parts, threshold int) (map[byte][]byte, error)
	Combine(parts map[byte][]byte) ([]byte, error)
}

// ShamirSplitter is the default splitter: Shamir secret sharing over
// GF(256), byte-wise, with random x-coordinates.
type ShamirSplitter struct{}

// Split produces parts shares of which any threshold reconstruct secret.
func (ShamirSplitter) Split(secret []byte, parts, threshold int) (map[byte][]byte, error) {
	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("shamir split: %w", err)
	}
	return shares, nil
}

// Combine reconstructs the secret from at least threshold parts.
func (ShamirSplitter) Combine(parts map[byte][]byte) ([]byte, error) {
	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("shamir combine: %w", err)
	}
	return secret, nil
}
