// ABOUTME: Build integrity helper for the dev SDK
// ABOUTME: Exposes the link-time build hash for registry verification

package devsdk

import "context"

// BuildHash is set at build time, e.g.
// -ldflags "-X .../internal/sdk/devsdk.BuildHash=bafy...".
var BuildHash = "dev"

// CurrentBuildHash returns the hash baked into this binary.
func (c *Client) CurrentBuildHash(ctx context.Context) (string, error) {
	return BuildHash, nil
}
