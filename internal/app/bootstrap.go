package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"blog-api/internal/auth"
	"blog-api/internal/blog"
	"blog-api/internal/config"
	"blog-api/internal/db"
	"blog-api/internal/mail"
	"blog-api/internal/maintenance"
	"blog-api/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations forces migrations on boot. RUN_MIGRATIONS_ON_STARTUP
	// can also turn them on.
	RunMigrations bool
}

type Runtime struct {
	Config  *config.Config
	Handler http.Handler
	Close   func() error
}

// Database is what the HTTP layer needs from the pool.
type Database interface {
	db.DB
	Ping(ctx context.Context) error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Err("init_sentry_failed", err, nil)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations || cfg.RunMigrationsOnStartup {
		if err := db.RunMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var sender mail.Sender
	if addr := cfg.SMTPAddr(); addr != "" {
		sender = mail.NewSMTPSender(addr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		logger.Warn("smtp_not_configured", map[string]any{"fallback": "log"})
		sender = mail.NewLogSender(logger)
	}
	notifier := mail.NewNotifier(sender, cfg.PublicURL+cfg.APIBasePath, cfg.ResetPasswordURL)

	handler := NewHandler(cfg, pool, notifier, logger, observability.NewMetrics())

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			pool.Close()
			return nil
		},
	}, nil
}

// NewHandler wires every route over database and returns the fully wrapped
// handler.
func NewHandler(
	cfg *config.Config,
	database Database,
	notifier auth.Notifier,
	logger *observability.Logger,
	metrics *observability.Metrics,
) http.Handler {
	authRepo := auth.NewRepository(database)
	accessCodec := auth.NewTokenCodec(cfg.AccessTokenSecret, cfg.AccessTokenTTL, auth.AccessToken)
	refreshCodec := auth.NewTokenCodec(cfg.RefreshTokenSecret, cfg.RefreshTokenTTL, auth.RefreshToken)
	authService := auth.NewService(authRepo, notifier, auth.NewBcryptHasher(bcrypt.DefaultCost), accessCodec, refreshCodec)

	cookies := auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Path:   cfg.APIBasePath,
		Secure: !cfg.IsDevelopment(),
	}
	authenticator := auth.NewAuthenticator(accessCodec)
	authHandler := auth.NewHandler(authService, cookies, logger, metrics)

	mux := http.NewServeMux()
	authHandler.RegisterRoutes(
		mux,
		cfg.APIBasePath,
		authenticator,
		auth.NewRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow).WithTrustedProxy(cfg.TrustProxy),
		auth.NewRateLimiter(cfg.ForgotPasswordRateLimitMax, cfg.ForgotPasswordRateLimitWindow).WithTrustedProxy(cfg.TrustProxy),
	)

	blog.NewHandler(blog.NewRepository(database), logger).RegisterRoutes(mux, cfg.APIBasePath, authenticator)

	maintenance.NewCleanupHandler(
		authRepo,
		logger,
		cfg.CronSecret,
		cfg.RefreshTokenTTL,
		cfg.CleanupBatchSize,
	).RegisterRoutes(mux)

	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", metrics.Handler())

	return observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, metrics, cfg.TrustProxy, mux))
}

func healthHandler(database Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
