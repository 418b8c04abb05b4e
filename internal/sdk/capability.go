// ABOUTME: Capability negotiation for SDK builds
// ABOUTME: Builds declare supported operations once at construction time

package sdk

import (
	"sort"
	"strings"
)

// Capability names one optional SDK operation group.
type Capability string

const (
	CapSign           Capability = "sign"
	CapDerive         Capability = "derive"
	CapBackup         Capability = "backup"
	CapZipBackup      Capability = "backup_zip"
	CapSocialRecovery Capability = "social_recovery"
	CapStealth        Capability = "stealth"
	CapBuildIntegrity Capability = "build_integrity"
)

// CapabilitySet is the fixed set of operations an SDK build supports.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the build supports c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Require returns a KindUnsupported error naming the missing capability,
// or nil when the build supports it.
func (s CapabilitySet) Require(c Capability, op string) error {
	if s.Has(c) {
		return nil
	}
	return Errorf(KindUnsupported, op, "installed SDK build does not support %s", c)
}

// String lists the capabilities in stable order, for logs.
func (s CapabilitySet) String() string {
	names := make([]string, 0, len(s))
	for c := range s {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
