// ABOUTME: Development-only introspection over the session layer
// ABOUTME: Injected explicitly when debug is enabled; never ambient process state

package debug

import (
	"context"
	"encoding/json"
)

// Snapshot is a point-in-time view of the session layer for manual
// inspection.
type Snapshot struct {
	Authenticated      bool   `json:"authenticated"`
	Username           string `json:"username,omitempty"`
	EthereumAddress    string `json:"ethereumAddress,omitempty"`
	Capabilities       string `json:"capabilities"`
	PersistentSessions int    `json:"persistentSessions"`
}

// Inspector exposes a snapshot of internal state. Implemented by the
// session orchestrator; wired only in debug builds.
type Inspector interface {
	DebugSnapshot(ctx context.Context) Snapshot
}

// Dump renders a snapshot as indented JSON for console output.
func Dump(ctx context.Context, i Inspector) (string, error) {
	raw, err := json.MarshalIndent(i.DebugSnapshot(ctx), "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
