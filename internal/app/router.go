package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/MaxBossMan1/ddgmotdv2/internal/audit/http"
	"github.com/MaxBossMan1/ddgmotdv2/internal/auth"
	"github.com/MaxBossMan1/ddgmotdv2/internal/discord"
	"github.com/MaxBossMan1/ddgmotdv2/internal/gameserver"
	"github.com/MaxBossMan1/ddgmotdv2/internal/moderation"
	"github.com/MaxBossMan1/ddgmotdv2/internal/observability"
	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rules"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
	"github.com/MaxBossMan1/ddgmotdv2/jobs"
)

// HealthCheck checks one dependency for /healthz.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	Authenticator      *auth.Authenticator
	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	ModerationHandler  *moderation.Handler
	DiscordHandler     *discord.Handler
	AuditHandler       *audithttp.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	RulesHandler       *rules.Handler
	GameServerHandler  *gameserver.Handler
	SocketHandler      http.Handler
	Metrics            *observability.Metrics
	HealthChecks       map[string]HealthCheck
}

// NewRouter constructs the chi.Router for the staff API.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mwCfg := MiddlewareConfig{
		Logger:         logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.SocketHandler != nil {
		r.Method(http.MethodGet, "/ws", params.SocketHandler)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range APIMiddleware(mwCfg) {
			r.Use(mw)
		}
		authn := params.Authenticator
		strict := params.Config == nil || params.Config.AuthCookieStrict

		if params.AuthHandler != nil {
			r.Route("/api/auth", params.AuthHandler.MountRoutes)
		}
		if params.UsersHandler != nil || params.ModerationHandler != nil {
			r.Route("/api/users", func(r chi.Router) {
				r.Use(authn.Required())
				if params.UsersHandler != nil {
					params.UsersHandler.MountRoutes(r)
				}
				if params.ModerationHandler != nil {
					params.ModerationHandler.MountRoutes(r)
				}
			})
		}
		if params.DiscordHandler != nil {
			r.Route("/api/discord", func(r chi.Router) {
				r.Use(authn.RequiredCookie(strict))
				params.DiscordHandler.MountRoutes(r)
			})
		}
		if params.AuditHandler != nil {
			r.Route("/api/audit", func(r chi.Router) {
				r.Use(authn.Required())
				params.AuditHandler.MountRoutes(r)
			})
		}
		if params.PermissionsHandler != nil {
			r.Route("/api/rbac/permissions", func(r chi.Router) {
				r.Use(authn.RequiredCookie(strict))
				params.PermissionsHandler.MountRoutes(r)
			})
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(authn.Required())
				params.JobHandler.MountRoutes(r)
			})
		}
		if params.RulesHandler != nil {
			r.Route("/api/rules", func(r chi.Router) {
				params.RulesHandler.MountPublicRoutes(r)
				r.Group(func(r chi.Router) {
					r.Use(authn.Required())
					params.RulesHandler.MountRoutes(r)
				})
			})
		}
		if params.GameServerHandler != nil {
			r.Route("/api/gmod", params.GameServerHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "route not found")
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				components[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		httpx.JSON(w, status, map[string]any{"status": overall, "components": components})
	}
}
