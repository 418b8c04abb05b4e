// ABOUTME: Debug snapshot of the orchestrator for dev-only introspection

package session

import (
	"context"

	"github.com/w3hc/genji-passkey/internal/debug"
)

// DebugSnapshot implements debug.Inspector.
func (o *Orchestrator) DebugSnapshot(ctx context.Context) debug.Snapshot {
	st := o.State()
	snap := debug.Snapshot{
		Authenticated: st.Authenticated,
		Capabilities:  o.client.Capabilities().String(),
	}
	if st.User != nil {
		snap.Username = st.User.Username
		snap.EthereumAddress = st.User.EthereumAddress
	}
	if n, err := o.probe.CountSessions(ctx); err == nil {
		snap.PersistentSessions = n
	}
	return snap
}
