// ABOUTME: Guardian invite generation with a human-readable explainer
// ABOUTME: Share codes are self-describing JSON packages safe to send out-of-band

package recovery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/yuin/goldmark"
)

const explainerTemplate = `# You have been chosen as a guardian

**%s** trusts you to help them recover their wallet if they ever lose
access to their devices.

Keep the share code below somewhere safe. It is one piece of an
encrypted backup: on its own it reveals nothing, and it only becomes
useful when %d guardians combine their pieces *and* the wallet owner's
backup password is known.

If the owner ever asks for it back, verify it is really them through a
channel you trust before sending it.
`

// GenerateInvite produces the share package and explainer for one
// guardian of the current configuration.
func (m *Manager) GenerateInvite(ctx context.Context, guardianID string) (*Invite, error) {
	cfg, err := m.Config(ctx)
	if err != nil {
		return nil, err
	}

	var guardian *Guardian
	for i := range cfg.Guardians {
		if cfg.Guardians[i].ID == guardianID {
			guardian = &cfg.Guardians[i]
			break
		}
	}
	if guardian == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGuardian, guardianID)
	}

	index, share, err := decodeShare(guardian.ShareEncrypted)
	if err != nil {
		return nil, fmt.Errorf("guardian %s: %w", guardianID, err)
	}

	pkg := SharePackage{
		Schema:     ShareSchema,
		GuardianID: guardian.ID,
		Index:      index,
		Threshold:  cfg.Threshold,
		Address:    cfg.EthereumAddress,
		Share:      base64.StdEncoding.EncodeToString(share),
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encoding share package: %w", err)
	}

	explainer, err := renderExplainer(guardian.Name, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	return &Invite{
		GuardianID: guardian.ID,
		ShareCode:  base64.StdEncoding.EncodeToString(raw),
		Explainer:  explainer,
	}, nil
}

// renderExplainer turns the markdown invite text into HTML for mail
// clients.
func renderExplainer(name string, threshold int) (string, error) {
	md := fmt.Sprintf(explainerTemplate, name, threshold)
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("rendering invite explainer: %w", err)
	}
	return buf.String(), nil
}
