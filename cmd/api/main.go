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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	red "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/background"
	"github.com/BradenHooton/panda-auth/internal/config"
	"github.com/BradenHooton/panda-auth/internal/database"
	"github.com/BradenHooton/panda-auth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/panda-auth/internal/middleware"
	"github.com/BradenHooton/panda-auth/internal/oauth"
	"github.com/BradenHooton/panda-auth/internal/repositories"
	"github.com/BradenHooton/panda-auth/internal/routes"
	"github.com/BradenHooton/panda-auth/internal/services"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
	pkglogger "github.com/BradenHooton/panda-auth/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		pkglogger.RedactedAttr("db_host", cfg.Database.Host, cfg.Server.Env),
		pkglogger.RedactedAttr("redis_addr", cfg.Redis.Addr, cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.Pool); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	// Redis holds pending OAuth states
	redisClient := red.NewClient(&red.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db.Pool)
	emailVerificationRepo := repositories.NewEmailVerificationRepository(db.Pool)
	stateRepo := repositories.NewOAuthStateRepository(redisClient, "", cfg.OAuth.StateTTL)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessSecret,
		cfg.Auth.RefreshSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Email verification is optional; without it accounts stay unverified
	var (
		verifier        services.VerificationSender
		verificationSvc handlers.EmailVerificationServiceInterface
	)
	if cfg.Email.SendVerificationEmails {
		emailService, err := services.NewAWSSESEmailService(ctx,
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.VerificationURLBase,
			logger,
		)
		if err != nil {
			return err
		}
		svc := services.NewEmailVerificationService(
			emailVerificationRepo,
			userRepo,
			emailService,
			logger,
			time.Duration(cfg.Email.TokenExpiryHours)*time.Hour,
		)
		verifier, verificationSvc = svc, svc
	} else {
		logger.Warn("email verification disabled")
	}

	// Services
	authService := services.NewAuthService(userRepo, tokenManager, verifier,
		auth.NewTimingDelay(auth.DefaultLoginTiming), logger, auditLogger)
	reconciler := services.NewIdentityReconciler(userRepo, tokenManager, logger)
	oauthService := services.NewOAuthService(
		buildProviders(cfg.OAuth, logger),
		stateRepo,
		reconciler,
		services.OAuthServiceConfig{
			UpgradeTokens: cfg.OAuth.FacebookLongLived,
			CallTimeout:   cfg.OAuth.HTTPTimeout,
		},
		logger,
		auditLogger,
	)

	// HTTP
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	cookies := auth.CookieConfig{
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := middlewareCustom.NewHTTPMetrics(middlewareCustom.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(httpMetrics.Handler)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	rateLimit := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	if cfg.Server.AuthRateLimit > 0 {
		rateLimit.RequestsPerMinute = cfg.Server.AuthRateLimit
	}

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(authService, verificationSvc, cookies, ipConfig, cfg.Server.Env, logger),
		OAuthHandler: handlers.NewOAuthHandler(oauthService, cookies, ipConfig, cfg.OAuth.ClientURL, cfg.Server.Env, logger),
		RequireAuth:  auth.AuthMiddleware(tokenManager, userRepo, logger),
		RateLimit:    rateLimit,
		Health:       healthHandler(db, redisClient),
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanup := background.NewCleanupManager(emailVerificationRepo, logger, cfg.Auth.CleanupInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildProviders registers every provider that has credentials configured
func buildProviders(cfg config.OAuthConfig, logger *slog.Logger) oauth.Registry {
	var providers []oauth.Provider
	if cfg.Google.Enabled() {
		providers = append(providers, oauth.NewGoogleClient(oauth.ClientConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURI:  cfg.Google.RedirectURI,
			Timeout:      cfg.HTTPTimeout,
		}))
	}
	if cfg.Facebook.Enabled() {
		providers = append(providers, oauth.NewFacebookClient(oauth.ClientConfig{
			ClientID:     cfg.Facebook.ClientID,
			ClientSecret: cfg.Facebook.ClientSecret,
			RedirectURI:  cfg.Facebook.RedirectURI,
			Timeout:      cfg.HTTPTimeout,
		}))
	}

	for _, p := range providers {
		logger.Info("oauth provider enabled", slog.String("provider", string(p.Name())))
	}
	return oauth.NewRegistry(providers...)
}

func healthHandler(db *database.DB, redisClient *red.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up", "redis": "up"}
		code := http.StatusOK
		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status["status"], status["redis"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		pkghttp.WriteJSON(w, code, status)
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
