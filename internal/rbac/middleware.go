package rbac

import (
	"log/slog"
	"net/http"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It expects an
// authenticator earlier in the chain to have stored a Principal.
type Middleware struct {
	Logger *slog.Logger
}

// RequireRole admits principals whose role is literally one of roles. Ranks
// are not inherited: a list of admin and owner rejects moderators.
func (m Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if _, ok := allowed[p.GetRole()]; !ok {
				m.deny(r, p, "role")
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits principals holding capability c, see HasPermission.
func (m Middleware) RequirePermission(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if !HasPermission(p.GetRole(), p.Capabilities(), c) {
				m.deny(r, p, string(c))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(r *http.Request, p Principal, requirement string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Debug("rbac denied",
		slog.Int64("user_id", p.GetID()),
		slog.String("role", string(p.GetRole())),
		slog.String("requirement", requirement),
		slog.String("path", r.URL.Path))
}
