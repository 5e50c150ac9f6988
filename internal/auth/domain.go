package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

var (
	// ErrNoToken is returned when no credential is present in any enabled source.
	ErrNoToken = fmt.Errorf("%w: no token provided", shared.ErrUnauthenticated)
	// ErrInvalidSignature covers tampered, malformed or wrongly signed tokens.
	ErrInvalidSignature = fmt.Errorf("%w: invalid token", shared.ErrUnauthenticated)
	// ErrTokenExpired is returned for well-signed tokens past their expiry.
	ErrTokenExpired = fmt.Errorf("%w: token expired", shared.ErrUnauthenticated)
	// ErrAccountUnavailable covers deleted or deactivated accounts.
	ErrAccountUnavailable = fmt.Errorf("%w: invalid token or user not active", shared.ErrUnauthenticated)
)

// Claims is the signed session assertion.
type Claims struct {
	UserID   int64     `json:"id"`
	Username string    `json:"username"`
	Role     rbac.Role `json:"role"`
	jwt.RegisteredClaims
}

// BannedError rejects a banned account and carries its ban state.
type BannedError struct {
	Ban users.BanView
}

func (e *BannedError) Error() string {
	switch {
	case e.Ban.Permanent:
		return "account is permanently banned"
	case e.Ban.Expires != nil:
		return "account is banned until " + e.Ban.Expires.UTC().Format(time.RFC3339)
	default:
		return "account is banned"
	}
}

// Unwrap lets errors.Is match shared.ErrForbidden.
func (e *BannedError) Unwrap() error { return shared.ErrForbidden }
