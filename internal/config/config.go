// Package config loads the runtime settings of the blog API from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const developmentEnv = "development"

// Config is built once at process start and handed to every component that
// needs it. Nothing reads the environment after Load returns.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	DatabaseURL            string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns             int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns             int32         `env:"DB_MIN_CONNS" envDefault:"0"`
	DBConnMaxLifetime      time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBConnectAttempts      uint64        `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	RunMigrationsOnStartup bool          `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"false"`

	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET,required,notEmpty"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET,required,notEmpty"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	CookieDomain string `env:"COOKIE_DOMAIN"`
	APIBasePath  string `env:"API_BASE_PATH" envDefault:"/api"`
	PublicURL    string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	// ResetPasswordURL is the page that collects the new password. The reset
	// token is appended as the last path segment.
	ResetPasswordURL string `env:"RESET_PASSWORD_URL" envDefault:"http://localhost:3000/reset-password"`
	TrustProxy       bool   `env:"TRUST_PROXY" envDefault:"false"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`

	SentryDSN  string `env:"SENTRY_DSN"`
	CronSecret string `env:"CRON_SECRET"`

	LoginRateLimitMax    int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"10"`
	LoginRateLimitWindow time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW" envDefault:"1m"`

	ForgotPasswordRateLimitMax    int           `env:"FORGOT_PASSWORD_RATE_LIMIT_MAX" envDefault:"5"`
	ForgotPasswordRateLimitWindow time.Duration `env:"FORGOT_PASSWORD_RATE_LIMIT_WINDOW" envDefault:"15m"`

	CleanupBatchSize int `env:"AUTH_CLEANUP_BATCH_SIZE" envDefault:"500"`
}

// Load reads the configuration from the process environment. When loadDotEnv
// is set, a .env file in the working directory is applied first; a missing
// file is not an error.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.APIBasePath = "/" + strings.Trim(strings.TrimSpace(c.APIBasePath), "/")
	if c.APIBasePath == "/" {
		c.APIBasePath = ""
	}
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	c.ResetPasswordURL = strings.TrimRight(strings.TrimSpace(c.ResetPasswordURL), "/")
	c.CronSecret = strings.TrimSpace(c.CronSecret)
}

// Validate checks invariants that env tags cannot express.
func (c *Config) Validate() error {
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return errors.New("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if c.DBMaxConns <= 0 {
		return errors.New("DB_MAX_CONNS must be positive")
	}
	return nil
}

// IsDevelopment reports whether the process runs in the development
// environment, where cookies are issued without the Secure flag.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == developmentEnv
}

// SMTPAddr returns host:port of the mail relay, or "" when mail delivery is
// not configured.
func (c *Config) SMTPAddr() string {
	if c.SMTPHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}
