package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Capability names a fine-grained permission. Every capability belongs to a
// scope role that decides which ranks receive it implicitly.
type Capability string

// Capability catalog. User scoped capabilities are the staff read paths held
// by moderators and above; moderator scoped ones are held by admins and above.
const (
	CapUsersView      Capability = "users.view"
	CapViolationsView Capability = "violations.view"
	CapDiscordView    Capability = "discord.view"
	CapAuditView      Capability = "audit.view"
	CapJobsRun        Capability = "jobs.run"
)

var capabilityScopes = map[Capability]Role{
	CapUsersView:      RoleUser,
	CapViolationsView: RoleUser,
	CapDiscordView:    RoleUser,
	CapAuditView:      RoleModerator,
	CapJobsRun:        RoleModerator,
}

// Capabilities lists the catalog sorted by name.
func Capabilities() []Capability {
	out := make([]Capability, 0, len(capabilityScopes))
	for c := range capabilityScopes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := capabilityScopes[c]; !ok {
		return "", fmt.Errorf("%w: unknown capability %q", shared.ErrValidation, raw)
	}
	return c, nil
}

// Scope returns the role a capability is scoped to.
func (c Capability) Scope() Role {
	return capabilityScopes[c]
}

// CapabilitySet is a per-account override set.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from known capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// ParseCapabilitySet validates every name, failing on the first unknown one.
func ParseCapabilitySet(names []string) (CapabilitySet, error) {
	set := make(CapabilitySet, len(names))
	for _, name := range names {
		c, err := ParseCapability(name)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// LenientCapabilitySet keeps known names and drops the rest. Used when loading
// stored overrides.
func LenientCapabilitySet(names []string) CapabilitySet {
	set := make(CapabilitySet, len(names))
	for _, name := range names {
		if c, err := ParseCapability(name); err == nil {
			set[c] = struct{}{}
		}
	}
	return set
}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Names returns the sorted capability names.
func (s CapabilitySet) Names() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// HasPermission decides a capability for a role and its override set. Owners
// hold everything, admins hold user and moderator scoped capabilities,
// moderators hold user scoped ones. Anything else needs an explicit override.
func HasPermission(role Role, overrides CapabilitySet, c Capability) bool {
	scope, known := capabilityScopes[c]
	if !known {
		return false
	}
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		if scope == RoleUser || scope == RoleModerator {
			return true
		}
	case RoleModerator:
		if scope == RoleUser {
			return true
		}
	}
	return overrides.Has(c)
}
