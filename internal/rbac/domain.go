// Package rbac holds the role hierarchy, Discord permission levels, the
// capability catalog and the HTTP authorization gate.
package rbac

import (
	"fmt"
	"strings"

	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Role is the coarse, ranked authorization role of an account.
type Role string

// Roles ordered by rank.
const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
)

var roleRanks = map[Role]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
	RoleOwner:     3,
}

// Roles lists every role, lowest rank first.
func Roles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin, RoleOwner}
}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", shared.ErrValidation, raw)
	}
	return role, nil
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the position of r in the hierarchy. Unknown roles rank below user.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Outranks reports whether r ranks strictly above other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

func (r Role) String() string { return string(r) }

// Level is the permission tier granted by an external guild role.
type Level string

// Levels ordered by rank.
const (
	LevelUser      Level = "user"
	LevelStaff     Level = "staff"
	LevelModerator Level = "moderator"
	LevelAdmin     Level = "admin"
	LevelOwner     Level = "owner"
)

var levelRanks = map[Level]int{
	LevelUser:      0,
	LevelStaff:     1,
	LevelModerator: 2,
	LevelAdmin:     3,
	LevelOwner:     4,
}

// Levels lists every level, lowest rank first.
func Levels() []Level {
	return []Level{LevelUser, LevelStaff, LevelModerator, LevelAdmin, LevelOwner}
}

// ParseLevel validates a level name.
func ParseLevel(raw string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := levelRanks[level]; !ok {
		return "", fmt.Errorf("%w: invalid permission level %q", shared.ErrValidation, raw)
	}
	return level, nil
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// Rank returns the position of l in the level ladder.
func (l Level) Rank() int {
	rank, ok := levelRanks[l]
	if !ok {
		return -1
	}
	return rank
}

// Role converts a level to the account role it grants. Staff has no role of
// its own and maps to user.
func (l Level) Role() Role {
	switch l {
	case LevelOwner:
		return RoleOwner
	case LevelAdmin:
		return RoleAdmin
	case LevelModerator:
		return RoleModerator
	default:
		return RoleUser
	}
}

func (l Level) String() string { return string(l) }

// Principal describes the authenticated actor.
type Principal interface {
	GetID() int64
	GetRole() Role
	Capabilities() CapabilitySet
}
