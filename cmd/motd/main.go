package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MaxBossMan1/ddgmotdv2/internal/app"
	"github.com/MaxBossMan1/ddgmotdv2/internal/audit"
	audithttp "github.com/MaxBossMan1/ddgmotdv2/internal/audit/http"
	"github.com/MaxBossMan1/ddgmotdv2/internal/auth"
	"github.com/MaxBossMan1/ddgmotdv2/internal/discord"
	"github.com/MaxBossMan1/ddgmotdv2/internal/gameserver"
	"github.com/MaxBossMan1/ddgmotdv2/internal/moderation"
	"github.com/MaxBossMan1/ddgmotdv2/internal/observability"
	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/cache"
	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
	"github.com/MaxBossMan1/ddgmotdv2/internal/realtime"
	"github.com/MaxBossMan1/ddgmotdv2/internal/rules"
	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
	"github.com/MaxBossMan1/ddgmotdv2/internal/users"
	"github.com/MaxBossMan1/ddgmotdv2/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	runtime, err := app.LoadRuntime()
	if err != nil {
		logger.Error("load runtime switches", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.DBMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}
	sessionManager := shared.NewSessionManager(redisClient, "motd_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)

	// Discord gateway. Without a bot every lookup resolves to the user level.
	var guild discord.Guild
	var bot *discord.Bot
	switch {
	case cfg.DiscordBotEnabled() && !runtime.Allows(app.EffectDiscordGateway):
		logger.Warn("discord gateway offline, role resolution disabled", slog.Any("offline", runtime.Offline()))
	case cfg.DiscordBotEnabled():
		bot, err = discord.NewBot(cfg.DiscordBotToken, cfg.DiscordGuildID, logger)
		if err != nil {
			logger.Error("init discord bot", slog.Any("error", err))
			os.Exit(1)
		}
		guild = bot
	default:
		logger.Warn("discord bot not configured, role resolution disabled")
	}
	resolver := discord.NewResolver(guild, discord.NewRepository(dbpool), nil, logger).WithObserver(metrics)
	if err := resolver.LoadMappings(ctx); err != nil {
		logger.Warn("load role mappings, using defaults", slog.Any("error", err))
	}
	if bot != nil {
		bot.OnReady(func(ctx context.Context) {
			if err := resolver.EnsureDefaults(ctx); err != nil {
				logger.Error("seed role mappings", slog.Any("error", err))
			}
		})
		if err := bot.Open(); err != nil {
			logger.Error("open discord gateway", slog.Any("error", err))
		}
		defer func() {
			if err := bot.Close(); err != nil {
				logger.Warn("discord close", slog.Any("error", err))
			}
		}()
	}

	userRepo := users.NewRepository(dbpool)
	policy := moderation.DefaultPolicy()
	userService := users.NewService(userRepo, auditLogger, policy.Clamp, logger)
	engine := moderation.NewEngine(moderation.NewRepository(dbpool), policy, logger).WithObserver(metrics)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}
	authenticator := auth.NewAuthenticator(tokens, userRepo, cfg.AuthCookieName, logger).WithObserver(metrics)
	authService := auth.NewService(userRepo, tokens, resolver, logger)
	oauth := auth.NewDiscordOAuth(auth.OAuthConfig{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURL:  cfg.DiscordRedirectURL,
	})
	authHandler := auth.NewHandler(logger, authService, authenticator, sessionManager, userService, oauth, rbacMiddleware, auth.HandlerConfig{
		SecureCookies: cfg.IsProduction(),
		CookieStrict:  cfg.AuthCookieStrict,
	})

	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)
	rulesHandler := rules.NewHandler(logger, rules.NewService(rules.NewRepository(dbpool), logger), rbacMiddleware)
	if cfg.GameAPIKey == "" && cfg.IsProduction() {
		logger.Warn("GAME_API_KEY not set, game server routes accept any caller holding a server key")
	}
	gameHandler := gameserver.NewHandler(logger, gameserver.NewService(gameserver.NewRepository(dbpool), userRepo, logger), cfg.GameAPIKey)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		Authenticator:      authenticator,
		AuthHandler:        authHandler,
		UsersHandler:       users.NewHandler(logger, userService, rbacMiddleware),
		ModerationHandler:  moderation.NewHandler(logger, engine, rbacMiddleware),
		DiscordHandler:     discord.NewHandler(logger, resolver, rbacMiddleware),
		AuditHandler:       auditHandler,
		PermissionsHandler: rbac.NewPermissionsHandler(),
		JobHandler:         jobs.NewHandler(inspector, jobClient, rbacMiddleware, logger),
		RulesHandler:       rulesHandler,
		GameServerHandler:  gameHandler,
		SocketHandler:      realtime.NewHandler(logger, authenticator, realtime.ParseOrigins(cfg.WSAllowedOrigins)),
		Metrics:            metrics,
		HealthChecks: map[string]app.HealthCheck{
			"db":    dbpool.Ping,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		ReadTimeout:       cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
