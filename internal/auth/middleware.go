package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Source is a place a token may be read from.
type Source int

// Token sources, consulted in the order a Policy lists them.
const (
	SourceCookie Source = iota
	SourceHeader
	SourceSession
	SourceHandshake
	// SourceHandshakeHeader is the Authorization header of a socket
	// handshake, where the Bearer prefix is optional.
	SourceHandshakeHeader
)

func (s Source) String() string {
	switch s {
	case SourceCookie:
		return "cookie"
	case SourceHeader:
		return "header"
	case SourceSession:
		return "session"
	case SourceHandshake:
		return "handshake"
	case SourceHandshakeHeader:
		return "handshake_header"
	default:
		return "unknown"
	}
}

// Policy configures one authentication procedure.
type Policy struct {
	// Sources are tried in order; the first non-empty token wins.
	Sources []Source
	// RequireActive rejects deactivated accounts.
	RequireActive bool
	// RejectBanned rejects accounts with a ban in force.
	RejectBanned bool
	// Optional continues anonymously on any failure instead of rejecting.
	Optional bool
}

// RequiredPolicy reads the Authorization header, then the session.
func RequiredPolicy() Policy {
	return Policy{Sources: []Source{SourceHeader, SourceSession}, RequireActive: true, RejectBanned: true}
}

// RequiredCookiePolicy reads the cookie, the header, then the session. With
// strict false, inactive and banned accounts are admitted.
func RequiredCookiePolicy(strict bool) Policy {
	return Policy{Sources: []Source{SourceCookie, SourceHeader, SourceSession}, RequireActive: strict, RejectBanned: strict}
}

// OptionalPolicy resolves like RequiredPolicy but never rejects.
func OptionalPolicy() Policy {
	p := RequiredPolicy()
	p.Optional = true
	return p
}

// SocketPolicy reads the handshake token field, then the Authorization header.
func SocketPolicy() Policy {
	return Policy{Sources: []Source{SourceHandshake, SourceHandshakeHeader}, RequireActive: true, RejectBanned: true}
}

// IdentityLoader loads the live account behind a token.
type IdentityLoader interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// FailureObserver counts authentication failures by reason.
type FailureObserver interface {
	AuthFailure(reason string)
}

// Authenticator resolves requests to live accounts.
type Authenticator struct {
	tokens     *TokenService
	identities IdentityLoader
	cookieName string
	observer   FailureObserver
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(tokens *TokenService, identities IdentityLoader, cookieName string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		tokens:     tokens,
		identities: identities,
		cookieName: cookieName,
		logger:     logger,
		now:        time.Now,
	}
}

// WithObserver attaches a failure observer.
func (a *Authenticator) WithObserver(o FailureObserver) *Authenticator {
	a.observer = o
	return a
}

// WithClock overrides the time source used for ban checks.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// CookieName returns the token cookie name.
func (a *Authenticator) CookieName() string { return a.cookieName }

// Resolve authenticates r under p. It never consults p.Optional.
func (a *Authenticator) Resolve(r *http.Request, p Policy) (*users.User, *Claims, error) {
	token := a.findToken(r, p.Sources)
	if token == "" {
		return nil, nil, ErrNoToken
	}
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, nil, err
	}
	user, err := a.identities.FindByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil, ErrAccountUnavailable
		}
		return nil, nil, err
	}
	if p.RequireActive && !user.IsActive {
		return nil, nil, ErrAccountUnavailable
	}
	if p.RejectBanned && user.IsBanned(a.now()) {
		return nil, nil, &BannedError{Ban: user.Ban(a.now())}
	}
	return user, claims, nil
}

// Middleware enforces p on every request, attaching the live account as the
// rbac principal on success.
func (a *Authenticator) Middleware(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, claims, err := a.Resolve(r, p)
			if err != nil {
				a.fail(err)
				if p.Optional {
					next.ServeHTTP(w, r)
					return
				}
				if !errors.Is(err, shared.ErrUnauthenticated) && !errors.Is(err, shared.ErrForbidden) {
					a.logger.Error("authenticate", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), user, claims)))
		})
	}
}

// Required is the header and session procedure.
func (a *Authenticator) Required() func(http.Handler) http.Handler {
	return a.Middleware(RequiredPolicy())
}

// Optional is the non-rejecting procedure.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return a.Middleware(OptionalPolicy())
}

// RequiredCookie is the cookie-aware procedure.
func (a *Authenticator) RequiredCookie(strict bool) func(http.Handler) http.Handler {
	return a.Middleware(RequiredCookiePolicy(strict))
}

func (a *Authenticator) findToken(r *http.Request, sources []Source) string {
	for _, src := range sources {
		var token string
		switch src {
		case SourceCookie:
			if a.cookieName == "" {
				continue
			}
			if c, err := r.Cookie(a.cookieName); err == nil {
				token = c.Value
			}
		case SourceHeader:
			token = bearerToken(r.Header.Get("Authorization"))
		case SourceSession:
			token = shared.SessionFromContext(r.Context()).Get(shared.SessionKeyToken)
		case SourceHandshake:
			token = stripBearer(r.URL.Query().Get("token"))
		case SourceHandshakeHeader:
			token = stripBearer(r.Header.Get("Authorization"))
		}
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return ""
}

func (a *Authenticator) fail(err error) {
	if a.observer == nil {
		return
	}
	reason := "error"
	var banned *BannedError
	switch {
	case errors.Is(err, ErrNoToken):
		reason = "no_token"
	case errors.Is(err, ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, ErrInvalidSignature):
		reason = "invalid"
	case errors.Is(err, ErrAccountUnavailable):
		reason = "inactive"
	case errors.As(err, &banned):
		reason = "banned"
	}
	a.observer.AuthFailure(reason)
}

// bearerToken returns the credential of a "Bearer " header value. Other
// schemes yield nothing so later sources are still consulted.
func bearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return ""
}

// stripBearer removes an optional "Bearer " prefix.
func stripBearer(value string) string {
	if token := bearerToken(value); token != "" {
		return token
	}
	return strings.TrimSpace(value)
}

type claimsContextKey struct{}

// ContextWithIdentity stores the account as rbac principal together with its claims.
func ContextWithIdentity(ctx context.Context, user *users.User, claims *Claims) context.Context {
	ctx = rbac.ContextWithPrincipal(ctx, user)
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// UserFromContext returns the authenticated account, if any.
func UserFromContext(ctx context.Context) (*users.User, bool) {
	p, ok := rbac.PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	u, ok := p.(*users.User)
	return u, ok
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return c, ok && c != nil
}
