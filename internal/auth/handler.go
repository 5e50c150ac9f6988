package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/httpx"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
)

// Registrar creates password accounts on behalf of staff.
type Registrar interface {
	Register(ctx context.Context, actor rbac.Principal, in users.RegisterInput) (*users.User, error)
}

// HandlerConfig carries the cookie settings.
type HandlerConfig struct {
	SecureCookies bool
	CookieStrict  bool
	// LoginRedirect is where the OAuth callback sends the browser.
	LoginRedirect string
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	authenticator  *Authenticator
	sessionManager *shared.SessionManager
	registrar      Registrar
	oauth          *DiscordOAuth
	rbac           rbac.Middleware
	cfg            HandlerConfig
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. oauth may be nil to disable Discord login.
func NewHandler(logger *slog.Logger, service *Service, authenticator *Authenticator, sessions *shared.SessionManager, registrar Registrar, oauth *DiscordOAuth, rbac rbac.Middleware, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginRedirect == "" {
		cfg.LoginRedirect = "/staff"
	}
	return &Handler{
		logger:         logger,
		service:        service,
		authenticator:  authenticator,
		sessionManager: sessions,
		registrar:      registrar,
		oauth:          oauth,
		rbac:           rbac,
		cfg:            cfg,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	if h.oauth != nil {
		r.Get("/discord", h.startDiscord)
		r.Get("/discord/callback", h.discordCallback)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.authenticator.RequiredCookie(h.cfg.CookieStrict))
		r.Get("/me", h.me)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authenticator.Required())
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleOwner))
		r.Post("/register", h.handleRegister)
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type sessionResponse struct {
	User    users.PublicUser `json:"user"`
	Token   string           `json:"token"`
	Expires time.Time        `json:"expires"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	sess, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	h.establish(w, r, sess, http.SameSiteStrictMode)
	httpx.JSON(w, http.StatusOK, sessionResponse{User: sess.User.Public(time.Now()), Token: sess.Token, Expires: sess.Expires})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w)
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": user.Public(time.Now())})
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=user moderator admin owner"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	created, err := h.registrar.Register(r.Context(), actor, users.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("register", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": created.Public(time.Now())})
}

func (h *Handler) startDiscord(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	state := uuid.NewString()
	sess.Set(shared.SessionKeyOAuthState, state)
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) discordCallback(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	expected := sess.Get(shared.SessionKeyOAuthState)
	if sess != nil {
		sess.Delete(shared.SessionKeyOAuthState)
	}
	if expected == "" || r.URL.Query().Get("state") != expected {
		h.failRedirect(w, r, "invalid_state")
		return
	}
	profile, err := h.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("discord oauth exchange", slog.Any("error", err))
		h.failRedirect(w, r, "auth_failed")
		return
	}
	login, err := h.service.LoginDiscord(r.Context(), profile)
	if err != nil {
		var banned *BannedError
		switch {
		case errors.As(err, &banned):
			h.failRedirect(w, r, "banned")
		case errors.Is(err, shared.ErrUnauthenticated):
			h.failRedirect(w, r, "inactive")
		default:
			h.logger.Error("discord login", slog.String("discord_id", profile.ID), slog.Any("error", err))
			h.failRedirect(w, r, "auth_failed")
		}
		return
	}
	// The browser arrives here from discord.com; a Strict cookie would be
	// withheld on the redirect to the staff panel.
	h.establish(w, r, login, http.SameSiteLaxMode)
	http.Redirect(w, r, h.cfg.LoginRedirect, http.StatusFound)
}

// establish hands the token to the browser through the cookie and the session.
func (h *Handler) establish(w http.ResponseWriter, r *http.Request, login *Session, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.authenticator.CookieName(),
		Value:    login.Token,
		Path:     "/",
		Expires:  login.Expires,
		MaxAge:   int(time.Until(login.Expires).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: sameSite,
	})
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Renew(sess)
		sess.SetUser(strconv.FormatInt(login.User.ID, 10))
		sess.Set(shared.SessionKeyToken, login.Token)
	}
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.authenticator.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) failRedirect(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, h.cfg.LoginRedirect+"/login?error="+url.QueryEscape(reason), http.StatusFound)
}

func isClientError(err error) bool {
	status, _ := httpx.StatusFor(err)
	return status < http.StatusInternalServerError
}
